package phylo

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config gathers the settings one sampling chain needs from this package.
// Start with [DefaultConfig] and override the fields you need.
type Config struct {
	// NTax is the number of taxa. Must be >= 2 when rooted and >= 3 when
	// unrooted. Default: 4.
	NTax int `yaml:"ntax"`

	// Rooted selects rooted topology counts. Default: false.
	Rooted bool `yaml:"rooted"`

	// ResolutionClassPrior spreads the weight C^(maxM-m) of each resolution
	// class over its topologies instead of giving it to every topology.
	// Default: false (polytomy prior).
	ResolutionClassPrior bool `yaml:"resolution_class_prior"`

	// C is the polytomy prior base. Values above 1 favor less resolved
	// trees. Must be > 0. Default: 2.0.
	C float64 `yaml:"c"`

	// Shape dimensions the conditional likelihood buffers.
	// Default: 1 rate, 1 pattern, 4 states.
	Shape CondLikeShape `yaml:"shape"`

	// ReallocMin is the number of buffers allocated whenever the pool runs
	// dry. Must be >= 1. Default: 1.
	ReallocMin int `yaml:"realloc_min"`

	// Workers bounds the goroutines used by PriorTablesParallel.
	// 0 means runtime.NumCPU(). Default: 0 (auto).
	Workers int `yaml:"workers"`

	// Seed starts the pseudorandom generator. 0 seeds from the clock.
	// Must not be math.MaxUint32. Default: 0.
	Seed uint32 `yaml:"seed"`
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		NTax:       4,
		C:          2.0,
		Shape:      CondLikeShape{NRates: 1, NPatterns: 1, NStates: 4},
		ReallocMin: 1,
	}
}

// applyDefaults fills in zero-valued config fields with their defaults.
func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.NTax == 0 {
		cfg.NTax = def.NTax
	}
	if cfg.C == 0 {
		cfg.C = def.C
	}
	if cfg.Shape == (CondLikeShape{}) {
		cfg.Shape = def.Shape
	}
	if cfg.ReallocMin == 0 {
		cfg.ReallocMin = def.ReallocMin
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
}

// validateConfig checks that cfg fields are valid and returns a descriptive error if not.
func validateConfig(cfg *Config) error {
	minTax := 3
	if cfg.Rooted {
		minTax = 2
	}
	if cfg.NTax < minTax {
		return fmt.Errorf("phylo: NTax must be >= %d, got %d", minTax, cfg.NTax)
	}
	if !(cfg.C > 0) || math.IsInf(cfg.C, 1) {
		return fmt.Errorf("phylo: C must be positive and finite, got %f", cfg.C)
	}
	if !cfg.Shape.Valid() {
		return fmt.Errorf("phylo: Shape dimensions must all be >= 1, got %v", cfg.Shape)
	}
	if cfg.ReallocMin < 1 {
		return fmt.Errorf("phylo: ReallocMin must be >= 1, got %d", cfg.ReallocMin)
	}
	if cfg.Workers < 0 {
		return fmt.Errorf("phylo: Workers must be >= 0 (0 means runtime.NumCPU()), got %d", cfg.Workers)
	}
	if cfg.Seed == math.MaxUint32 {
		return fmt.Errorf("phylo: Seed must be < %d", uint32(math.MaxUint32))
	}
	return nil
}

// Validate fills in defaults and checks the configuration.
func (cfg *Config) Validate() error {
	applyDefaults(cfg)
	return validateConfig(cfg)
}

// LoadConfig decodes YAML over DefaultConfig and validates the result. An
// empty document yields the defaults.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("phylo: decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// NewTopoPriorCalculator returns a calculator set up from cfg.
func (cfg Config) NewTopoPriorCalculator(logger *slog.Logger) (*TopoPriorCalculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tp := NewTopoPriorCalculator(logger)
	tp.SetNTax(cfg.NTax)
	tp.SetC(cfg.C)
	if cfg.Rooted {
		tp.ChooseRooted()
	} else {
		tp.ChooseUnrooted()
	}
	if cfg.ResolutionClassPrior {
		tp.ChooseResolutionClassPrior()
	} else {
		tp.ChoosePolytomyPrior()
	}
	return tp, nil
}

// NewCondLikelihoodStorage returns a pool set up from cfg.
func (cfg Config) NewCondLikelihoodStorage(logger *slog.Logger) (*CondLikelihoodStorage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := NewCondLikelihoodStorage(logger)
	s.SetReallocMin(cfg.ReallocMin)
	return s, nil
}

// NewLot returns a generator seeded from cfg.
func (cfg Config) NewLot() *Lot {
	if cfg.Seed == 0 {
		return NewLotFromClock()
	}
	return NewLot(cfg.Seed)
}
