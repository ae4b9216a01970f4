package eigenoc

import (
	"fmt"

	"go.uber.org/zap"
)

// Option configures how a Network or Global is built
type Option func(*options) error

type options struct {
	logger *zap.Logger
	seed   *uint64
}

func newOptions(opts []Option) (*options, error) {
	o := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			return fmt.Errorf("withLogger: logger cannot be nil")
		}
		o.logger = logger
		return nil
	}
}

// WithSeed overrides the seed of a Network's option and action
// sampling, which otherwise is derived from the configured seed and
// the scope
func WithSeed(seed uint64) Option {
	return func(o *options) error {
		o.seed = &seed
		return nil
	}
}
