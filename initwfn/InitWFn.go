// Package initwfn implements functionality to wrap Gorgonia InitWFn
// so that they can be serialized into JSON or YAML configuration files.
package initwfn

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"gopkg.in/yaml.v3"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Type describes different types of InitWFn that are available.
// Type is used to implement a basic type system of InitWFn's.
type Type string

// Available InitWFn types
const (
	GlorotU           Type = "GlorotU"
	GlorotN           Type = "GlorotN"
	HeU               Type = "HeU"
	HeN               Type = "HeN"
	Zeroes            Type = "Zeroes"
	Gaussian          Type = "Gaussian"
	NormalizedColumns Type = "NormalizedColumns"
)

var registered = map[Type]reflect.Type{
	GlorotU:           reflect.TypeOf(GlorotUConfig{}),
	GlorotN:           reflect.TypeOf(GlorotNConfig{}),
	HeU:               reflect.TypeOf(HeUConfig{}),
	HeN:               reflect.TypeOf(HeNConfig{}),
	Zeroes:            reflect.TypeOf(ZeroesConfig{}),
	Gaussian:          reflect.TypeOf(GaussianConfig{}),
	NormalizedColumns: reflect.TypeOf(NormalizedColumnsConfig{}),
}

// InitWFn wraps Gorgonia InitWFn so that they can be marshalled and
// unmarshalled.
type InitWFn struct {
	initWFn G.InitWFn
	Type    `yaml:"type"`
	Config  `yaml:"config"`
}

// New returns a new InitWFn described by c
func New(c Config) *InitWFn {
	return &InitWFn{Type: c.Type(), Config: c, initWFn: c.Create()}
}

// InitWFn returns the wrapped Gorgonia InitWFn
func (w *InitWFn) InitWFn() G.InitWFn {
	return w.initWFn
}

// Tensor returns a new float64 tensor of the given shape whose values
// are drawn from the initializer
func (w *InitWFn) Tensor(shape ...int) *tensor.Dense {
	backing := w.initWFn(tensor.Float64, shape...).([]float64)
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))
}

// String implements the fmt.Stringer interface
func (w *InitWFn) String() string {
	return fmt.Sprintf("{%v InitWFn: %v}", w.Type, w.Config)
}

// UnmarshalJSON implements the json.Unmarshaller interface
func (w *InitWFn) UnmarshalJSON(data []byte) error {
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
	w.set(config)
	return nil
}

// UnmarshalYAML implements the yaml.Unmarshaler interface
func (w *InitWFn) UnmarshalYAML(value *yaml.Node) error {
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
	w.set(config)
	return nil
}

func (w *InitWFn) set(config interface{}) {
	concrete := reflect.ValueOf(config).Elem().Interface().(Config)
	w.Type = concrete.Type()
	w.Config = concrete
	w.initWFn = concrete.Create()
}

func newConfig(t Type) (interface{}, error) {
	ty, ok := registered[t]
	if !ok {
		return nil, fmt.Errorf("unknown initializer type %q", t)
	}
	return reflect.New(ty).Interface(), nil
}

// Config implements a Gorgonia InitWFn configuration and can be used to
// create the described Gorgonia InitWFn's.
type Config interface {
	// Create returns the Gorgonia InitWFn that the Config describes
	Create() G.InitWFn

	// Type returns the type of Gorgonia InitWFn that is returned
	Type() Type
}

// GlorotUConfig implements a configuration of the Glorot Uniform
// initialization algorithm.
type GlorotUConfig struct {
	Gain float64 `yaml:"gain"`
}

func (g GlorotUConfig) Type() Type        { return GlorotU }
func (g GlorotUConfig) Create() G.InitWFn { return G.GlorotU(gain(g.Gain)) }

// GlorotNConfig implements a configuration of the Glorot Normal
// initialization algorithm.
type GlorotNConfig struct {
	Gain float64 `yaml:"gain"`
}

func (g GlorotNConfig) Type() Type        { return GlorotN }
func (g GlorotNConfig) Create() G.InitWFn { return G.GlorotN(gain(g.Gain)) }

// HeUConfig implements a configuration of the He uniform
// initialization algorithm.
type HeUConfig struct {
	Gain float64 `yaml:"gain"`
}

func (h HeUConfig) Type() Type        { return HeU }
func (h HeUConfig) Create() G.InitWFn { return G.HeU(gain(h.Gain)) }

// HeNConfig implements a configuration of the He normal
// initialization algorithm.
type HeNConfig struct {
	Gain float64 `yaml:"gain"`
}

func (h HeNConfig) Type() Type        { return HeN }
func (h HeNConfig) Create() G.InitWFn { return G.HeN(gain(h.Gain)) }

// ZeroesConfig implements a configuration of a zero weight initializer
type ZeroesConfig struct{}

func (z ZeroesConfig) Type() Type        { return Zeroes }
func (z ZeroesConfig) Create() G.InitWFn { return G.Zeroes() }

// GaussianConfig implements a configuration of a weight initializer
// that draws weights from a gaussian distribution
type GaussianConfig struct {
	Mean   float64 `yaml:"mean"`
	StdDev float64 `yaml:"std_dev"`
}

func (g GaussianConfig) Type() Type        { return Gaussian }
func (g GaussianConfig) Create() G.InitWFn { return G.Gaussian(g.Mean, g.StdDev) }

// NormalizedColumnsConfig describes an initializer that draws standard
// normal weights and then rescales every output column (the last
// axis) to have L2 norm StdDev.
//
// This keeps the initial output scale of a linear head independent of
// its fan-in, which is what value and policy heads want.
type NormalizedColumnsConfig struct {
	StdDev float64 `yaml:"std_dev"`
	Seed   uint64  `yaml:"seed"`
}

func (n NormalizedColumnsConfig) Type() Type { return NormalizedColumns }

// Create returns the weight initialization algorithm as a Gorgonia
// InitWFn
func (n NormalizedColumnsConfig) Create() G.InitWFn {
	std := n.StdDev
	if std == 0 {
		std = 1
	}
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(n.Seed)}

	return func(dt tensor.Dtype, s ...int) interface{} {
		size := tensor.Shape(s).TotalSize()
		cols := s[len(s)-1]
		rows := size / cols

		w := make([]float64, size)
		for i := range w {
			w[i] = normal.Rand()
		}
		for c := 0; c < cols; c++ {
			var sq float64
			for r := 0; r < rows; r++ {
				sq += w[r*cols+c] * w[r*cols+c]
			}
			scale := std / math.Sqrt(sq)
			for r := 0; r < rows; r++ {
				w[r*cols+c] *= scale
			}
		}

		if dt == tensor.Float32 {
			w32 := make([]float32, size)
			for i := range w {
				w32[i] = float32(w[i])
			}
			return w32
		}
		return w
	}
}

func gain(g float64) float64 {
	if g == 0 {
		return 1
	}
	return g
}
