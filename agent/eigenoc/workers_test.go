package eigenoc

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestRunWorkers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := testConfig()
	g, err := NewGlobal(c, testActions, testStates)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const steps = 6
	var done int64
	err = RunWorkers(ctx, g, 2, func(ctx context.Context, id int,
		n *Network) error {
		b := testBatch(c, 4)
		return Loop(ctx, func() error {
			if _, _, err := g.Coordinator().Train(n, b); err != nil {
				return err
			}
			if err := n.Pull(g); err != nil {
				return err
			}
			if atomic.AddInt64(&done, 1) >= steps {
				cancel()
			}
			return nil
		})
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, atomic.LoadInt64(&done), int64(steps))
	assert.GreaterOrEqual(t, g.Shared().Pushes(), uint64(steps*len(Streams)))
}

func TestRunWorkersError(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	g, err := NewGlobal(testConfig(), testActions, testStates)
	require.NoError(t, err)

	errStop := errors.New("stop")
	err = RunWorkers(context.Background(), g, 3, func(ctx context.Context,
		id int, n *Network) error {
		if id == 1 {
			return errStop
		}
		// The failing worker cancels the others
		return Loop(ctx, func() error { return nil })
	})
	assert.ErrorIs(t, err, errStop)

	err = RunWorkers(context.Background(), g, 0, nil)
	assert.Error(t, err)
}

func TestLoopStopsWhenDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Loop(ctx, func() error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Zero(t, calls)
}
