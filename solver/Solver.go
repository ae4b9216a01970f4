// Package solver implements functionality to wrap Gorgonia Solvers
// so that they can be serialized into JSON or YAML configuration files.
package solver

import (
	"encoding/json"
	"fmt"
	"reflect"

	"gopkg.in/yaml.v3"
	G "gorgonia.org/gorgonia"
)

// Type describes different types of solvers that are available
type Type string

// Available solver types
const (
	Adam    Type = "Adam"
	RMSProp Type = "RMSProp"
	Vanilla Type = "Vanilla"
)

// registered maps each solver Type to its concrete configuration type
var registered = map[Type]reflect.Type{
	Adam:    reflect.TypeOf(AdamConfig{}),
	RMSProp: reflect.TypeOf(RMSPropConfig{}),
	Vanilla: reflect.TypeOf(VanillaConfig{}),
}

// Solver wraps Gorgonia Solvers so that they can be marshalled and
// unmarshalled.
//
// Gorgonia solvers keep per-parameter state in an unsynchronized map,
// so a single Solver must not be stepped from multiple goroutines at
// once.
type Solver struct {
	G.Solver `json:"-" yaml:"-"`
	Type     `yaml:"type"`
	Config   `yaml:"config"`
}

// newSolver returns a new solver with the given type and configuration.
func newSolver(t Type, c Config) (*Solver, error) {
	if !c.ValidType(t) {
		return nil, fmt.Errorf("newSolver: invalid solver type %v for "+
			"configuration %T", t, c)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("newSolver: %w", err)
	}
	solver := Solver{Type: t, Config: c}
	solver.Solver = solver.Config.Create()

	return &solver, nil
}

// New returns a new Solver of the given type, using default
// hyperparameters and the given step size
func New(t Type, stepSize float64) (*Solver, error) {
	switch t {
	case Adam:
		return NewDefaultAdam(stepSize)
	case RMSProp:
		return NewDefaultRMSProp(stepSize)
	case Vanilla:
		return NewVanilla(stepSize)
	}
	return nil, fmt.Errorf("new: unknown solver type %q", t)
}

// Clone returns a new Solver with the same configuration and fresh
// optimizer state
func (s *Solver) Clone() (*Solver, error) {
	return newSolver(s.Type, s.Config)
}

// String implements the fmt.Stringer interface
func (s *Solver) String() string {
	return fmt.Sprintf("{%v Solver: %+v}", s.Type, s.Config)
}

// UnmarshalJSON implements the json.Unmarshaller interface
func (s *Solver) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type   Type
		Config json.RawMessage
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	config, err := newConfig(raw.Type)
	if err != nil {
		return fmt.Errorf("unmarshalJSON: %w", err)
	}
	if len(raw.Config) > 0 {
		if err := json.Unmarshal(raw.Config, config); err != nil {
			return fmt.Errorf("unmarshalJSON: %w", err)
		}
	}
	return s.set(raw.Type, config)
}

// UnmarshalYAML implements the yaml.Unmarshaler interface
func (s *Solver) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Type   Type      `yaml:"type"`
		Config yaml.Node `yaml:"config"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	config, err := newConfig(raw.Type)
	if err != nil {
		return fmt.Errorf("unmarshalYAML: %w", err)
	}
	if !raw.Config.IsZero() {
		if err := raw.Config.Decode(config); err != nil {
			return fmt.Errorf("unmarshalYAML: %w", err)
		}
	}
	return s.set(raw.Type, config)
}

// set fills in s from a pointer to a concrete configuration
func (s *Solver) set(t Type, config interface{}) error {
	concrete := reflect.ValueOf(config).Elem().Interface().(Config)
	concrete = concrete.withDefaults()
	if err := concrete.Validate(); err != nil {
		return err
	}

	s.Type = t
	s.Config = concrete
	s.Solver = s.Config.Create()
	return nil
}

// newConfig returns a pointer to a zero configuration of type t
func newConfig(t Type) (interface{}, error) {
	ty, ok := registered[t]
	if !ok {
		return nil, fmt.Errorf("unknown solver type %q", t)
	}
	return reflect.New(ty).Interface(), nil
}

// Config implements a Gorgonia Solver configuration and can be used to
// create Gorgonia Solvers they describe.
type Config interface {
	Create() G.Solver

	// ValidType returns whether a specific Solver type can be created
	// with the Config
	ValidType(Type) bool

	// Validate returns an error if the hyperparameters are unusable
	Validate() error

	withDefaults() Config
}

// AdamConfig describes a configuration of the Adam solver
type AdamConfig struct {
	StepSize float64 `yaml:"step_size"`
	Epsilon  float64 `yaml:"epsilon"`
	Beta1    float64 `yaml:"beta1"`
	Beta2    float64 `yaml:"beta2"`
	Batch    int     `yaml:"batch"`
}

// NewDefaultAdam returns a new Adam Solver with default hyperparameters
func NewDefaultAdam(stepSize float64) (*Solver, error) {
	return NewAdam(stepSize, 1e-8, 0.9, 0.999, 1)
}

// NewAdam returns a new Adam Solver
func NewAdam(stepSize, epsilon, beta1, beta2 float64,
	batchSize int) (*Solver, error) {
	adam := AdamConfig{
		StepSize: stepSize,
		Epsilon:  epsilon,
		Beta1:    beta1,
		Beta2:    beta2,
		Batch:    batchSize,
	}

	return newSolver(Adam, adam)
}

// Create returns a new Gorgonia Adam Solver as described by the
// AdamConfig
func (a AdamConfig) Create() G.Solver {
	return G.NewAdamSolver(
		G.WithLearnRate(a.StepSize),
		G.WithEps(a.Epsilon),
		G.WithBeta1(a.Beta1),
		G.WithBeta2(a.Beta2),
		G.WithBatchSize(float64(a.Batch)),
	)
}

// ValidType returns if the given Solver type is a valid type to be
// created with this config.
func (a AdamConfig) ValidType(t Type) bool {
	return t == Adam
}

// Validate returns an error if the configuration is unusable
func (a AdamConfig) Validate() error {
	if a.StepSize <= 0 {
		return fmt.Errorf("adam: step size must be > 0")
	}
	if a.Beta1 < 0 || a.Beta1 >= 1 || a.Beta2 < 0 || a.Beta2 >= 1 {
		return fmt.Errorf("adam: betas must be in [0, 1)")
	}
	return nil
}

func (a AdamConfig) withDefaults() Config {
	if a.Epsilon == 0 {
		a.Epsilon = 1e-8
	}
	if a.Beta1 == 0 {
		a.Beta1 = 0.9
	}
	if a.Beta2 == 0 {
		a.Beta2 = 0.999
	}
	if a.Batch == 0 {
		a.Batch = 1
	}
	return a
}

// RMSPropConfig implements a specific configuration of the RMSProp
// solver
type RMSPropConfig struct {
	StepSize float64 `yaml:"step_size"`
	Epsilon  float64 `yaml:"epsilon"`
	Rho      float64 `yaml:"rho"`
	Batch    int     `yaml:"batch"`
}

// NewDefaultRMSProp returns a new RMSProp Solver with the decay and
// smoothing commonly used for asynchronous actor-learners
func NewDefaultRMSProp(stepSize float64) (*Solver, error) {
	return NewRMSProp(stepSize, 0.1, 0.99, 1)
}

// NewRMSProp returns a new RMSProp Solver
func NewRMSProp(stepSize, epsilon, rho float64,
	batchSize int) (*Solver, error) {
	rmsprop := RMSPropConfig{
		StepSize: stepSize,
		Epsilon:  epsilon,
		Rho:      rho,
		Batch:    batchSize,
	}

	return newSolver(RMSProp, rmsprop)
}

// Create returns a new Gorgonia RMSProp Solver as described by the
// RMSPropConfig
func (r RMSPropConfig) Create() G.Solver {
	return G.NewRMSPropSolver(
		G.WithLearnRate(r.StepSize),
		G.WithEps(r.Epsilon),
		G.WithRho(r.Rho),
		G.WithBatchSize(float64(r.Batch)),
	)
}

// ValidType returns if the given Solver type is a valid type to be
// created with this config.
func (r RMSPropConfig) ValidType(t Type) bool {
	return t == RMSProp
}

// Validate returns an error if the configuration is unusable
func (r RMSPropConfig) Validate() error {
	if r.StepSize <= 0 {
		return fmt.Errorf("rmsprop: step size must be > 0")
	}
	if r.Rho <= 0 || r.Rho >= 1 {
		return fmt.Errorf("rmsprop: rho must be in (0, 1)")
	}
	return nil
}

func (r RMSPropConfig) withDefaults() Config {
	if r.Epsilon == 0 {
		r.Epsilon = 0.1
	}
	if r.Rho == 0 {
		r.Rho = 0.99
	}
	if r.Batch == 0 {
		r.Batch = 1
	}
	return r
}

// VanillaConfig describes a configuration of the vanilla gradient
// descent solver.
type VanillaConfig struct {
	StepSize float64 `yaml:"step_size"`
	Batch    int     `yaml:"batch"`
}

// NewVanilla returns a new Vanilla Solver
func NewVanilla(stepSize float64) (*Solver, error) {
	return newSolver(Vanilla, VanillaConfig{StepSize: stepSize, Batch: 1})
}

// Create returns a Gorgonia Vanilla Solver as described by the
// VanillaConfig
func (v VanillaConfig) Create() G.Solver {
	return G.NewVanillaSolver(
		G.WithLearnRate(v.StepSize),
		G.WithBatchSize(float64(v.Batch)),
	)
}

// ValidType returns if the given Solver type is a valid type to be
// created with this config.
func (v VanillaConfig) ValidType(t Type) bool {
	return t == Vanilla
}

// Validate returns an error if the configuration is unusable
func (v VanillaConfig) Validate() error {
	if v.StepSize <= 0 {
		return fmt.Errorf("vanilla: step size must be > 0")
	}
	return nil
}

func (v VanillaConfig) withDefaults() Config {
	if v.Batch == 0 {
		v.Batch = 1
	}
	return v
}
