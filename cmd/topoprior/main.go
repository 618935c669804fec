// Command topoprior prints topology counts and resolution class priors,
// draws resolution classes, and exercises the likelihood buffer pool on a
// tree given in parenthetical notation.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/phycas/phylo"
)

// options collects the persistent flags shared by every subcommand.
type options struct {
	configPath      string
	ntax            int
	rooted          bool
	c               float64
	resolutionClass bool
	workers         int
	seed            uint32
	logLevel        string
	yamlOut         bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "topoprior",
		Short:         "Topology counts and polytomy priors for Bayesian tree samplers",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	pf.IntVar(&opts.ntax, "ntax", 0, "number of taxa (default from config, else 4)")
	pf.BoolVar(&opts.rooted, "rooted", false, "count rooted topologies")
	pf.Float64Var(&opts.c, "c", 0, "polytomy prior base C (default from config, else 2)")
	pf.BoolVar(&opts.resolutionClass, "resolution-class", false, "use the resolution class prior instead of the polytomy prior")
	pf.IntVar(&opts.workers, "workers", 0, "worker goroutines for sweep (0 = NumCPU)")
	pf.Uint32Var(&opts.seed, "seed", 0, "random seed (0 = clock)")
	pf.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	pf.BoolVar(&opts.yamlOut, "yaml", false, "print results as YAML")

	root.AddCommand(
		newTableCmd(opts),
		newSweepCmd(opts),
		newSampleCmd(opts),
		newCacheCmd(opts),
	)
	return root
}

// config loads the YAML file, if any, and overlays the flags the user set.
func (o *options) config(cmd *cobra.Command) (phylo.Config, error) {
	cfg := phylo.DefaultConfig()
	if o.configPath != "" {
		f, err := os.Open(o.configPath)
		if err != nil {
			return phylo.Config{}, fmt.Errorf("opening config: %w", err)
		}
		defer f.Close()
		if cfg, err = phylo.LoadConfig(f); err != nil {
			return phylo.Config{}, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("ntax") {
		cfg.NTax = o.ntax
	}
	if flags.Changed("rooted") {
		cfg.Rooted = o.rooted
	}
	if flags.Changed("c") {
		cfg.C = o.c
	}
	if flags.Changed("resolution-class") {
		cfg.ResolutionClassPrior = o.resolutionClass
	}
	if flags.Changed("workers") {
		cfg.Workers = o.workers
	}
	if flags.Changed("seed") {
		cfg.Seed = o.seed
	}
	if err := cfg.Validate(); err != nil {
		return phylo.Config{}, err
	}
	return cfg, nil
}

func (o *options) logger(cmd *cobra.Command) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(o.logLevel))); err != nil {
		return nil, fmt.Errorf("bad --log-level %q: %w", o.logLevel, err)
	}
	h := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	return slog.New(h), nil
}

// setup is the common prologue of every subcommand.
func (o *options) setup(cmd *cobra.Command) (phylo.Config, *slog.Logger, error) {
	logger, err := o.logger(cmd)
	if err != nil {
		return phylo.Config{}, nil, err
	}
	cfg, err := o.config(cmd)
	if err != nil {
		return phylo.Config{}, nil, err
	}
	logger.Debug("configuration", "ntax", cfg.NTax, "rooted", cfg.Rooted,
		"resolutionClass", cfg.ResolutionClassPrior, "C", cfg.C, "workers", cfg.Workers)
	return cfg, logger, nil
}
