package main

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/phycas/phylo"
)

func newTableCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "table",
		Short: "Print counts and log priors per resolution class for one taxon count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			tables, err := phylo.PriorTables(cmd.Context(), cfg, []int{cfg.NTax}, logger)
			if err != nil {
				return err
			}
			if opts.yamlOut {
				return writeYAML(cmd.OutOrStdout(), tables[0])
			}
			return writeTable(cmd.OutOrStdout(), tables[0])
		},
	}
}

func newSweepCmd(opts *options) *cobra.Command {
	var maxNTax int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Print totals and normalizing constants for a range of taxon counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			first := 3
			if cfg.Rooted {
				first = 2
			}
			if maxNTax < first {
				return fmt.Errorf("--max-ntax must be >= %d, got %d", first, maxNTax)
			}
			ntax := make([]int, 0, maxNTax-first+1)
			for n := first; n <= maxNTax; n++ {
				ntax = append(ntax, n)
			}
			tables, err := phylo.PriorTablesParallel(cmd.Context(), cfg, ntax, logger)
			if err != nil {
				return err
			}
			if opts.yamlOut {
				return writeYAML(cmd.OutOrStdout(), tables)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ntax\tmaxM\ttotal\tln(total)\tln(norm)")
			for _, pt := range tables {
				fmt.Fprintf(tw, "%d\t%d\t%.6g\t%.6f\t%.6f\n",
					pt.NTax, pt.MaxInternals(), pt.Counts[0], pt.LnCounts[0], pt.LnPriors[0])
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&maxNTax, "max-ntax", 10, "largest taxon count in the sweep")
	return cmd
}

func newSampleCmd(opts *options) *cobra.Command {
	var draws int
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Draw resolution classes from the realized prior",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			if draws < 1 {
				return fmt.Errorf("--sample must be >= 1, got %d", draws)
			}
			tp, err := cfg.NewTopoPriorCalculator(logger)
			if err != nil {
				return err
			}
			lot := cfg.NewLot()
			logger.Info("sampling resolution classes", "draws", draws, "seed", lot.InitSeed())

			hist := make([]int, tp.MaxInternals()+1)
			for range draws {
				hist[tp.Sample(lot)]++
			}
			expected := tp.RealizedResClassPriors()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "# seed %d\n", lot.InitSeed())
			fmt.Fprintln(tw, "m\tdrawn\tfreq\texpected")
			for m := 1; m < len(hist); m++ {
				fmt.Fprintf(tw, "%d\t%d\t%.4f\t%.4f\n",
					m, hist[m], float64(hist[m])/float64(draws), math.Exp(expected[m]-expected[0]))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&draws, "sample", 1000, "number of draws")
	return cmd
}

func newCacheCmd(opts *options) *cobra.Command {
	var newick string
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Invalidate and revert every edge of a tree and report pool usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			t, err := phylo.BuildFromNewick(newick)
			if err != nil {
				return err
			}
			pool, err := cfg.NewCondLikelihoodStorage(logger)
			if err != nil {
				return err
			}
			reg := prometheus.NewRegistry()
			pool.SetMetrics(phylo.NewPoolMetrics(reg, "cli"))

			cache := phylo.NewCLACache(t, pool, cfg.Shape, logger)
			cache.Prepare(nil)
			root := t.Root()
			filled := cache.Recompute(root, func(phylo.EdgeEndpoints, *phylo.CondLikelihood) {})
			var proposals int
			for _, nd := range t.NodesWithEdges() {
				cache.EdgeLengthChanged(nd)
				proposals += len(cache.StaleEdges(nd))
				cache.Revert(nd)
			}
			cache.Accept()

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "tree: %s\n", t.NewickTopology())
			fmt.Fprintf(w, "nodes: %d tips: %d internals: %d\n", t.NumNodes(), t.NumTips(), t.NumInternals())
			fmt.Fprintf(w, "initial buffers filled: %d\n", filled)
			fmt.Fprintf(w, "stale edges over all proposals: %d\n", proposals)
			fmt.Fprintf(w, "bytes per buffer: %d\n", phylo.BytesPerCLA(cfg.Shape))
			return writeMetrics(w, reg)
		},
	}
	cmd.Flags().StringVar(&newick, "newick", "((a,b),c,(d,e));", "tree description")
	return cmd
}

func writeTable(w io.Writer, pt phylo.PriorTable) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "# ntax %d, maxM %d, total %.6g\n", pt.NTax, pt.MaxInternals(), pt.Counts[0])
	fmt.Fprintln(tw, "m\tcount\tln(count)\tln(prior)\tln(norm prior)")
	for m := 1; m <= pt.MaxInternals(); m++ {
		fmt.Fprintf(tw, "%d\t%.6g\t%.6f\t%.6f\t%.6f\n",
			m, pt.Counts[m], pt.LnCounts[m], pt.LnPriors[m], pt.LnPriors[m]-pt.LnPriors[0])
	}
	return tw.Flush()
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			v := m.GetCounter().GetValue()
			if gauge := m.GetGauge(); gauge != nil {
				v = gauge.GetValue()
			}
			fmt.Fprintf(w, "%s %g\n", mf.GetName(), v)
		}
	}
	return nil
}
