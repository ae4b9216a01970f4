package experiment

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/eigenoc/agent/eigenoc"
	"github.com/samuelfneumann/eigenoc/buffer/rollout"
	"github.com/samuelfneumann/eigenoc/eigenpurpose"
	"github.com/samuelfneumann/eigenoc/expreplay"
	"go.uber.org/zap"
	"golang.org/x/exp/rand"
)

const noOption = -1

// worker is the environment loop of a single worker Network
type worker struct {
	id     int
	o      *Online
	n      *eigenoc.Network
	buf    *rollout.Buffer
	replay expreplay.ExperienceReplayer
	rng    *rand.Rand
	logger *zap.Logger

	state        int
	option       int
	episodeSteps int
	directions   [][]float64
}

func (o *Online) newWorker(id int, n *eigenoc.Network) (*worker, error) {
	c := n.Config()
	buf, err := rollout.New(c.ObservationSize(), c.SFDim(),
		o.cfg.RolloutLength, c.Discount)
	if err != nil {
		return nil, fmt.Errorf("newWorker: %w", err)
	}

	w := &worker{
		id:     id,
		o:      o,
		n:      n,
		buf:    buf,
		rng:    rand.New(rand.NewSource(c.Seed + uint64(id) + 1)),
		logger: o.logger.With(zap.Int("worker", id)),
		option: noOption,
	}
	if o.cfg.Replay.SampleSize > 0 {
		w.replay, err = o.cfg.Replay.Create(c.ObservationSize(), c.SFDim(),
			c.Seed+uint64(id))
		if err != nil {
			return nil, fmt.Errorf("newWorker: %w", err)
		}
	}
	// Directions stay frozen for the whole stage
	w.directions = o.g.Directions()
	w.reset()
	return w, nil
}

// reset starts a new episode in a uniformly random non-goal state
func (w *worker) reset() {
	w.state = w.o.cfg.Goal
	for w.state == w.o.cfg.Goal && w.o.model.NumStates() > 1 {
		w.state = w.rng.Intn(w.o.model.NumStates())
	}
	w.option = noOption
	w.episodeSteps = 0
}

func (w *worker) observation(state int) []float64 {
	obs := make([]float64, w.o.model.NumStates())
	obs[state] = 1
	return obs
}

// step gathers one rollout, trains on it and synchronises the worker
// with the global parameters
func (w *worker) step() error {
	if err := w.collect(); err != nil {
		return fmt.Errorf("step: %w", err)
	}
	batch, err := w.buf.Batch()
	if err != nil {
		return fmt.Errorf("step: %w", err)
	}

	losses, _, err := w.o.g.Coordinator().Train(w.n, batch)
	if err != nil {
		return fmt.Errorf("step: %w", err)
	}
	if err := w.replayed(batch); err != nil {
		return fmt.Errorf("step: %w", err)
	}
	if err := w.n.Pull(w.o.g); err != nil {
		return fmt.Errorf("step: %w", err)
	}

	w.logger.Debug("trained on rollout",
		zap.Int("steps", batch.Len()),
		zap.Float64("option_loss", losses.Option),
		zap.Float64("sf_loss", losses.SF),
		zap.Float64("aux_loss", losses.Aux),
	)
	return nil
}

// replayed adds batch to the replay buffer and trains the
// successor-feature and auxiliary streams on a replayed batch once the
// buffer holds enough transitions
func (w *worker) replayed(batch *eigenoc.Batch) error {
	if w.replay == nil {
		return nil
	}
	if err := w.replay.AddBatch(batch); err != nil {
		return fmt.Errorf("replayed: %w", err)
	}

	sample, err := w.replay.Sample()
	if expreplay.IsInsufficientSamples(err) {
		return nil
	} else if err != nil {
		return fmt.Errorf("replayed: %w", err)
	}

	grads, _, err := w.n.Gradients(sample)
	if err != nil {
		return fmt.Errorf("replayed: %w", err)
	}
	_, err = w.o.g.Coordinator().Apply(
		grads.Only(eigenoc.StreamSF, eigenoc.StreamAux))
	if err != nil {
		return fmt.Errorf("replayed: %w", err)
	}
	return nil
}

// collect fills the rollout buffer and finishes its last path
func (w *worker) collect() error {
	out, err := w.n.Forward(w.observation(w.state), 1)
	if err != nil {
		return err
	}

	for !w.buf.Full() {
		if w.option == noOption ||
			w.n.ShouldTerminate(out.Termination.RawRowView(0), w.option) {
			w.option = w.n.SelectOption(out.Q.RawRowView(0))
		}
		action := w.n.Act(out, 0, w.option)
		next := w.o.model.Next(w.state, action)
		w.episodeSteps++

		nextObs := w.observation(next)
		nextOut, err := w.n.Forward(nextObs, 1)
		if err != nil {
			return err
		}

		features := rectify(out.Latent.RawRowView(0))
		eigenReward := w.intrinsicReward(out, nextOut)

		done := next == w.o.cfg.Goal
		var reward float64
		if done {
			reward = 1
		}
		err = w.buf.Store(rollout.Step{
			Observation:     w.observation(w.state),
			Action:          action,
			Option:          w.option,
			Reward:          reward,
			EigenReward:     eigenReward,
			NextObservation: nextObs,
			Features:        features,
		})
		if err != nil {
			return err
		}
		if err := w.o.g.Matrix().Append(out.SF.RawRowView(0)); err != nil {
			return err
		}

		cutoff := w.episodeSteps >= w.o.cfg.EpisodeCutoff
		w.o.track(w.id, reward, done || cutoff)
		w.o.steps.Add(1)

		switch {
		case done:
			if err := w.buf.FinishPath(rollout.Bootstrap{}); err != nil {
				return err
			}
			w.reset()
			if out, err = w.n.Forward(w.observation(w.state), 1); err != nil {
				return err
			}

		case cutoff:
			if err := w.buf.FinishPath(w.bootstrap(nextOut)); err != nil {
				return err
			}
			w.reset()
			if out, err = w.n.Forward(w.observation(w.state), 1); err != nil {
				return err
			}

		default:
			w.state = next
			out = nextOut
		}
	}

	// Bootstrap the unfinished path from the state it stopped in
	return w.buf.FinishPath(w.bootstrap(out))
}

// intrinsicReward returns the eigenpurpose reward of the current
// option for moving from the state of out to the state of next: the
// projection of the successor-feature change onto the option's
// direction. Primitive options and stages without directions earn
// none.
func (w *worker) intrinsicReward(out, next *eigenoc.Outputs) float64 {
	if w.directions == nil || w.n.IsPrimitive(w.option) {
		return 0
	}
	return eigenpurpose.IntrinsicReward(w.directions[w.option],
		out.SF.RawRowView(0), next.SF.RawRowView(0))
}

// bootstrap returns the estimates of the single state in out
func (w *worker) bootstrap(out *eigenoc.Outputs) rollout.Bootstrap {
	b := rollout.Bootstrap{
		Value: out.V[0],
		SF:    out.SF.RawRowView(0),
	}
	if out.EigenV != nil {
		b.EigenValue = out.EigenV[0]
	}
	return b
}

func rectify(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = math.Max(v, 0)
	}
	return out
}
