package tracker

import "sync"

// Return tracks and saves the episodic return of every worker in an
// experiment. Returns are saved in the order episodes finish.
//
// Note: An episode must finish for this Tracker to save its data.
// If the last episode of a worker does not finish, that episode's
// return will not be saved.
type Return struct {
	mu             sync.Mutex
	currentReturn  map[int]float64
	episodeReturns []float64
	filename       string
}

// NewReturn creates and returns a new *Return Tracker
func NewReturn(filename string) *Return {
	return &Return{
		currentReturn: make(map[int]float64),
		filename:      filename,
	}
}

// Track accumulates the reward of a worker's current episode. When the
// episode ends, its return is cached and accumulation starts anew.
func (r *Return) Track(worker int, reward float64, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.currentReturn[worker] += reward
	if last {
		r.episodeReturns = append(r.episodeReturns, r.currentReturn[worker])
		delete(r.currentReturn, worker)
	}
}

// Returns returns a copy of the returns of the finished episodes
func (r *Return) Returns() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.episodeReturns...)
}

// Save saves the data tracked by the Return Tracker to disk.
func (r *Return) Save() error {
	return save(r.filename, r.Returns())
}
