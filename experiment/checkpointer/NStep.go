package checkpointer

import "fmt"

// nStep implements checkpointing every N steps
type nStep struct {
	interval uint64
	object   Serializable // Object to save

	// filename returns the string filename of the file to save the object
	// in.
	//
	// If each checkpoint should be saved in a separate file with an
	// incremented number as a suffix (e.g. file_1.npy, ..., file_K.npy),
	// use Enumerated. If each checkpoint should overwrite the previous
	// one, use Fixed.
	filename func() string
}

// NewNStep returns a checkpointer that checkpoints every n steps.
func NewNStep(n int, object Serializable,
	filename func() string) (Checkpointer, error) {
	if n <= 0 {
		return nil, fmt.Errorf("newNStep: interval must be > 0, got %d", n)
	}
	return &nStep{
		interval: uint64(n),
		object:   object,
		filename: filename,
	}, nil
}

// Checkpoint checkpoints the Checkpointer's tracked object by calling
// its Save() method if step is a multiple of the interval
func (n *nStep) Checkpoint(step uint64) error {
	if step > 0 && step%n.interval == 0 {
		return n.object.Save(n.filename())
	}
	return nil
}

// Fixed returns a function which always returns filename
func Fixed(filename string) func() string {
	return func() string { return filename }
}
