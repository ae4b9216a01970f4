// Package tracker implements Trackers, which track and save per-episode
// data of the workers in an experiment
package tracker

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sbinet/npyio"
)

// Tracker keeps track of experiment data and saves the data after the
// experiment has finished. Track is safe for concurrent use by
// different workers.
type Tracker interface {
	// Track records a single step of worker with reward. The last
	// parameter reports whether the step ended the worker's episode.
	Track(worker int, reward float64, last bool)
	Save() error
}

// LoadData loads and returns the data saved by a Tracker
func LoadData(filename string) ([]float64, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("loadData: %w", err)
	}
	defer f.Close()

	var data []float64
	if err := npyio.Read(f, &data); err != nil {
		return nil, fmt.Errorf("loadData: %v: %w", filename, err)
	}
	return data, nil
}

// save writes data to filename as a one-dimensional .npy array
func save(filename string, data []float64) error {
	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("save: %w", err)
		}
	}
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}
	if data == nil {
		data = []float64{}
	}
	if err := npyio.Write(f, data); err != nil {
		f.Close()
		return fmt.Errorf("save: %v: %w", filename, err)
	}
	return f.Close()
}
