package tracker

import "sync"

// EpisodeLength tracks and saves the lengths of episodes in an
// experiment.
// Note that an episode must finish for this Tracker to save its data.
// If the last episode of a worker does not finish, that episode's
// length will not be saved.
type EpisodeLength struct {
	mu             sync.Mutex
	current        map[int]int
	episodeLengths []float64
	filename       string
}

// NewEpisodeLength returns a new EpisodeLength Tracker which will save
// its data at the specified location filename
func NewEpisodeLength(filename string) *EpisodeLength {
	return &EpisodeLength{
		current:  make(map[int]int),
		filename: filename,
	}
}

// Track counts the steps of a worker's current episode and caches the
// episode length when the episode ends
func (e *EpisodeLength) Track(worker int, _ float64, last bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.current[worker]++
	if last {
		e.episodeLengths = append(e.episodeLengths,
			float64(e.current[worker]))
		delete(e.current, worker)
	}
}

// Lengths returns a copy of the lengths of the finished episodes
func (e *EpisodeLength) Lengths() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]float64(nil), e.episodeLengths...)
}

// Save saves the episode lengths to disk
func (e *EpisodeLength) Save() error {
	return save(e.filename, e.Lengths())
}
