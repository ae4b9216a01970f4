// Package experiment implements functionality for running an online
// asynchronous eigen-option-critic experiment on a tabular environment
package experiment

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/samuelfneumann/eigenoc/agent/eigenoc"
	"github.com/samuelfneumann/eigenoc/eigenpurpose"
	"github.com/samuelfneumann/eigenoc/experiment/tracker"
	"github.com/samuelfneumann/eigenoc/expreplay"
	"go.uber.org/zap"
)

// Defaults of Config fields left zero
const (
	DefaultRolloutLength = 5
	DefaultEpisodeCutoff = 1000
)

// Config represents a configuration of an online experiment
type Config struct {
	MaxSteps      uint64           `yaml:"max_steps" json:"max_steps"`
	RolloutLength int              `yaml:"rollout_length" json:"rollout_length"`
	EpisodeCutoff int              `yaml:"episode_cutoff" json:"episode_cutoff"`
	Goal          int              `yaml:"goal" json:"goal"`
	Replay        expreplay.Config `yaml:"replay" json:"replay"`
}

func (c Config) withDefaults() Config {
	if c.RolloutLength == 0 {
		c.RolloutLength = DefaultRolloutLength
	}
	if c.EpisodeCutoff == 0 {
		c.EpisodeCutoff = DefaultEpisodeCutoff
	}
	return c
}

// Online is an Experiment that trains the workers of a Global online
// on a deterministic tabular environment whose observations are one-hot
// state encodings. Reaching the goal state ends an episode with reward
// 1; every other step has reward 0.
//
// Each worker gathers a rollout, trains on it, adds it to its replay
// buffer and then trains the successor-feature and auxiliary streams
// on a batch replayed from that buffer.
type Online struct {
	g        *eigenoc.Global
	model    eigenpurpose.TransitionModel
	cfg      Config
	trackers []tracker.Tracker
	steps    atomic.Uint64
	logger   *zap.Logger
}

// NewOnline creates and returns a new online experiment training the
// workers of g in model
func NewOnline(g *eigenoc.Global, model eigenpurpose.TransitionModel,
	c Config, logger *zap.Logger, t ...tracker.Tracker) (*Online, error) {
	c = c.withDefaults()
	gc := g.Config()

	if c.MaxSteps == 0 {
		return nil, fmt.Errorf("newOnline: max steps must be > 0")
	}
	if c.RolloutLength < 0 || c.EpisodeCutoff < 0 {
		return nil, fmt.Errorf("newOnline: rollout length and episode " +
			"cutoff must be > 0")
	}
	if c.Goal < 0 || c.Goal >= model.NumStates() {
		return nil, fmt.Errorf("newOnline: goal state %d out of range "+
			"[0, %d)", c.Goal, model.NumStates())
	}
	if gc.ObservationSize() != model.NumStates() ||
		len(gc.ObservationShape) != 1 {
		return nil, fmt.Errorf("newOnline: observation shape %v does not "+
			"one-hot encode %d states", gc.ObservationShape,
			model.NumStates())
	}
	// Successor-feature targets accumulate rectified latent features
	if gc.SFDim() != gc.LatentDim() {
		return nil, fmt.Errorf("newOnline: successor features (%d) must "+
			"have the size of the latent features (%d)", gc.SFDim(),
			gc.LatentDim())
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Online{
		g:        g,
		model:    model,
		cfg:      c,
		trackers: t,
		logger:   logger,
	}, nil
}

// Register registers a tracker.Tracker with an Experiment so that data
// generated during the experiment can be tracked and saved. It must be
// called before Run.
func (o *Online) Register(t tracker.Tracker) {
	o.trackers = append(o.trackers, t)
}

// Steps returns the number of environment steps taken by all workers
func (o *Online) Steps() uint64 {
	return o.steps.Load()
}

// Run runs the experiment until MaxSteps environment steps have been
// taken, ctx is cancelled, or a worker fails. Run starts a stage: with
// eigen options, the eigenpurposes are decomposed from the
// successor-feature matrix as it stands and stay fixed while the
// workers append to it.
func (o *Online) Run(ctx context.Context) error {
	if o.g.Config().Eigen {
		if err := o.g.RefreshDirections(); err != nil {
			return fmt.Errorf("run: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	err := eigenoc.RunWorkers(ctx, o.g, o.g.Config().NumWorkers,
		func(ctx context.Context, id int, n *eigenoc.Network) error {
			w, err := o.newWorker(id, n)
			if err != nil {
				return err
			}
			return eigenoc.Loop(ctx, func() error {
				if err := w.step(); err != nil {
					return err
				}
				if o.Steps() >= o.cfg.MaxSteps {
					cancel()
				}
				return nil
			})
		})
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	o.logger.Info("experiment finished", zap.Uint64("steps", o.Steps()))
	return nil
}

// Save saves all the data cached by the Trackers to disk
func (o *Online) Save() error {
	for _, t := range o.trackers {
		if err := t.Save(); err != nil {
			return fmt.Errorf("save: %w", err)
		}
	}
	return nil
}

// track tracks a step of a worker in each tracker
func (o *Online) track(worker int, reward float64, last bool) {
	for _, t := range o.trackers {
		t.Track(worker, reward, last)
	}
}
