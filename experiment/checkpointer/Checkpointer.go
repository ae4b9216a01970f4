// Package checkpointer implements interval persistence of objects that
// can save themselves to a file.
package checkpointer

// Serializable is an object that can be saved to a file
type Serializable interface {
	Save(filename string) error
}

// Checkpointer checkpoints/saves serializable objects based on a
// monotonically increasing step counter
type Checkpointer interface {
	Checkpoint(step uint64) error
}
