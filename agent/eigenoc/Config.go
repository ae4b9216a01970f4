package eigenoc

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samuelfneumann/eigenoc/initwfn"
	"github.com/samuelfneumann/eigenoc/network"
	"github.com/samuelfneumann/eigenoc/solver"
	"gopkg.in/yaml.v3"
)

// Loss names the elementwise regression loss used by the SF and
// auxiliary heads
type Loss string

const (
	Huber   Loss = "huber"
	Squared Loss = "squared"
)

// Defaults of DefaultConfig
const (
	DefaultRandomOptionProb     = 0.1
	DefaultRandomActionProb     = 0.1
	DefaultCriticCoef           = 0.5
	DefaultTerminationMargin    = 0.01
	DefaultDiscount             = 0.985
	DefaultNbOptions            = 4
	DefaultHuberDelta           = 1.0
	DefaultStepSize             = 1e-4
	DefaultNormalizedColumnsStd = 1.0
)

// ErrMissing is wrapped by a ConfigError when a required field is unset
var ErrMissing = errors.New("required field is missing")

// ConfigError reports a malformed configuration field. Construction
// never returns a partially built network alongside a ConfigError.
type ConfigError struct {
	Field string
	Err   error
}

func (c *ConfigError) Error() string {
	return fmt.Sprintf("config: %v: %v", c.Field, c.Err)
}

func (c *ConfigError) Unwrap() error {
	return c.Err
}

func invalid(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

// Config configures every head of an eigen-option-critic network, the
// shared optimizer, and the successor-feature matrix
type Config struct {
	// ObservationShape is (channels, height, width) for image stacks or
	// (features) for flat observations
	ObservationShape []int              `yaml:"observation_shape" json:"observation_shape"`
	ConvLayers       []network.ConvSpec `yaml:"conv_layers" json:"conv_layers"`
	FCLayers         []int              `yaml:"fc_layers" json:"fc_layers"`
	SFLayers         []int              `yaml:"sf_layers" json:"sf_layers"`
	AuxFCLayers      []int              `yaml:"aux_fc_layers" json:"aux_fc_layers"`

	NbOptions               int  `yaml:"nb_options" json:"nb_options"`
	IncludePrimitiveOptions bool `yaml:"include_primitive_options" json:"include_primitive_options"`
	Eigen                   bool `yaml:"eigen" json:"eigen"`
	AuxActionOneHot         bool `yaml:"aux_action_one_hot" json:"aux_action_one_hot"`
	FlipEigenpurpose        bool `yaml:"flip_eigenpurpose" json:"flip_eigenpurpose"`

	// Exploration; the entropy coefficient is FinalRandomActionProb
	FinalRandomOptionProb float64 `yaml:"final_random_option_prob" json:"final_random_option_prob"`
	FinalRandomActionProb float64 `yaml:"final_random_action_prob" json:"final_random_action_prob"`

	CriticCoef        float64 `yaml:"critic_coef" json:"critic_coef"`
	EigenCriticCoef   float64 `yaml:"eigen_critic_coef" json:"eigen_critic_coef"`
	AuxCoef           float64 `yaml:"aux_coef" json:"aux_coef"`
	TerminationMargin float64 `yaml:"termination_margin" json:"termination_margin"`
	Discount          float64 `yaml:"discount" json:"discount"`
	Loss              Loss    `yaml:"loss" json:"loss"`
	HuberDelta        float64 `yaml:"huber_delta" json:"huber_delta"`
	GradientClipNorm  float64 `yaml:"gradient_clip_norm" json:"gradient_clip_norm"`

	// SFMatrixSize is the capacity of the successor-feature matrix; if
	// zero, the number of states of the environment is used
	SFMatrixSize         int    `yaml:"sf_matrix_size" json:"sf_matrix_size"`
	SFMatrixPath         string `yaml:"sf_matrix_path" json:"sf_matrix_path"`
	SFMatrixPersistEvery int    `yaml:"sf_matrix_persist_every" json:"sf_matrix_persist_every"`

	// SFMatrixKeepSnapshots saves every interval persistence to its own
	// enumerated file next to SFMatrixPath instead of overwriting it
	SFMatrixKeepSnapshots bool `yaml:"sf_matrix_keep_snapshots" json:"sf_matrix_keep_snapshots"`

	Solver  *solver.Solver   `yaml:"optimizer" json:"optimizer"`
	InitWFn *initwfn.InitWFn `yaml:"init" json:"init"`

	Seed       uint64 `yaml:"seed" json:"seed"`
	NumWorkers int    `yaml:"num_workers" json:"num_workers"`
}

// DefaultConfig returns a Config holding the default of every field
// that has one. Configs should start from DefaultConfig so that fields
// explicitly set to zero keep their zero value. GradientClipNorm has no
// default.
func DefaultConfig() Config {
	return Config{
		NbOptions:             DefaultNbOptions,
		FinalRandomOptionProb: DefaultRandomOptionProb,
		FinalRandomActionProb: DefaultRandomActionProb,
		CriticCoef:            DefaultCriticCoef,
		EigenCriticCoef:       1,
		AuxCoef:               1,
		TerminationMargin:     DefaultTerminationMargin,
		Discount:              DefaultDiscount,
		Loss:                  Huber,
		HuberDelta:            DefaultHuberDelta,
		NumWorkers:            1,
	}
}

// LoadConfig reads a Config from a YAML or JSON file, chosen by the
// file extension. Fields missing from the file keep the values of
// DefaultConfig. The Config is not validated since validation needs
// the environment's dimensions.
func LoadConfig(filename string) (Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, fmt.Errorf("loadConfig: %w", err)
	}

	c := DefaultConfig()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		err = json.Unmarshal(data, &c)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &c)
	default:
		return Config{}, fmt.Errorf("loadConfig: unknown config format %v",
			filepath.Ext(filename))
	}
	if err != nil {
		return Config{}, fmt.Errorf("loadConfig: %v: %w", filename, err)
	}
	return c.withDefaults(), nil
}

// withDefaults returns a copy of c with the fields whose zero value is
// never a valid setting filled in. The optimizer and initializer
// depend on the seed and so are not part of DefaultConfig.
func (c Config) withDefaults() Config {
	if c.NbOptions == 0 {
		c.NbOptions = DefaultNbOptions
	}
	if c.Loss == "" {
		c.Loss = Huber
	}
	if c.HuberDelta == 0 {
		c.HuberDelta = DefaultHuberDelta
	}
	if c.Solver == nil {
		if s, err := solver.NewDefaultAdam(DefaultStepSize); err == nil {
			c.Solver = s
		}
	}
	if c.InitWFn == nil {
		c.InitWFn = initwfn.New(initwfn.NormalizedColumnsConfig{
			StdDev: DefaultNormalizedColumnsStd,
			Seed:   c.Seed,
		})
	}
	if c.NumWorkers == 0 {
		c.NumWorkers = 1
	}
	return c
}

// Validate checks that c describes a network for an environment with
// actionSize actions and stateDim states. A zero SFMatrixSize is
// resolved against stateDim.
func (c Config) Validate(actionSize, stateDim int) error {
	if actionSize <= 0 {
		return invalid("action_size", "must be > 0, got %d", actionSize)
	}
	if len(c.ObservationShape) != 1 && len(c.ObservationShape) != 3 {
		return invalid("observation_shape", "must have 1 or 3 "+
			"dimensions, got %v", c.ObservationShape)
	}
	for _, d := range c.ObservationShape {
		if d <= 0 {
			return invalid("observation_shape", "dimensions must be > 0, "+
				"got %v", c.ObservationShape)
		}
	}
	if len(c.ConvLayers) > 0 && len(c.ObservationShape) != 3 {
		return invalid("conv_layers", "convolutions need a (channels, "+
			"height, width) observation shape")
	}
	if err := positiveLayers("fc_layers", c.FCLayers); err != nil {
		return err
	}
	if err := positiveLayers("sf_layers", c.SFLayers); err != nil {
		return err
	}
	for i, s := range c.AuxFCLayers {
		if s <= 0 {
			return invalid("aux_fc_layers", "layer %d must have > 0 units", i)
		}
	}

	if c.NbOptions <= 0 {
		return invalid("nb_options", "must be > 0, got %d", c.NbOptions)
	}
	if err := probability("final_random_option_prob",
		c.FinalRandomOptionProb); err != nil {
		return err
	}
	if err := probability("final_random_action_prob",
		c.FinalRandomActionProb); err != nil {
		return err
	}
	if c.Discount < 0 || c.Discount > 1 {
		return invalid("discount", "must be in [0, 1], got %v", c.Discount)
	}
	if c.Loss != Huber && c.Loss != Squared {
		return invalid("loss", "unknown loss %q", c.Loss)
	}
	if c.Loss == Huber && c.HuberDelta <= 0 {
		return invalid("huber_delta", "must be > 0, got %v", c.HuberDelta)
	}
	if c.GradientClipNorm == 0 {
		return &ConfigError{Field: "gradient_clip_norm", Err: ErrMissing}
	}
	if c.GradientClipNorm < 0 {
		return invalid("gradient_clip_norm", "must be > 0, got %v",
			c.GradientClipNorm)
	}

	if c.sfMatrixSize(stateDim) <= 0 {
		return invalid("sf_matrix_size", "must be > 0, or the number of "+
			"states must be > 0 to fall back on")
	}
	if c.SFMatrixPersistEvery < 0 {
		return invalid("sf_matrix_persist_every", "must be >= 0")
	}
	if (c.SFMatrixPersistEvery > 0 || c.SFMatrixKeepSnapshots) &&
		c.SFMatrixPath == "" {
		return &ConfigError{Field: "sf_matrix_path", Err: ErrMissing}
	}
	if c.Eigen && c.NbOptions > c.SFLayers[len(c.SFLayers)-1] {
		return invalid("nb_options", "%d eigen options need at least as "+
			"many successor features, got %d", c.NbOptions,
			c.SFLayers[len(c.SFLayers)-1])
	}

	if c.Solver == nil {
		return &ConfigError{Field: "optimizer", Err: ErrMissing}
	}
	if c.InitWFn == nil {
		return &ConfigError{Field: "init", Err: ErrMissing}
	}
	if c.NumWorkers <= 0 {
		return invalid("num_workers", "must be > 0, got %d", c.NumWorkers)
	}
	return nil
}

// NumOptions returns the number of selectable options, including the
// primitive options if enabled
func (c Config) NumOptions(actionSize int) int {
	if c.IncludePrimitiveOptions {
		return c.NbOptions + actionSize
	}
	return c.NbOptions
}

// SFDim returns the number of successor features
func (c Config) SFDim() int {
	return c.SFLayers[len(c.SFLayers)-1]
}

// LatentDim returns the size of the latent features
func (c Config) LatentDim() int {
	return c.FCLayers[len(c.FCLayers)-1]
}

// ObservationSize returns the number of scalars in one observation
func (c Config) ObservationSize() int {
	n := 1
	for _, d := range c.ObservationShape {
		n *= d
	}
	return n
}

func (c Config) sfMatrixSize(stateDim int) int {
	if c.SFMatrixSize > 0 {
		return c.SFMatrixSize
	}
	return stateDim
}

func positiveLayers(field string, layers []int) error {
	if len(layers) == 0 {
		return invalid(field, "at least one layer is required")
	}
	for i, s := range layers {
		if s <= 0 {
			return invalid(field, "layer %d must have > 0 units", i)
		}
	}
	return nil
}

func probability(field string, p float64) error {
	if p < 0 || p > 1 {
		return invalid(field, "must be in [0, 1], got %v", p)
	}
	return nil
}
