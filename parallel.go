package phylo

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// PriorTable holds the topology counts and log priors for one taxon count.
// Index 0 of each slice holds the total (or the log normalizing constant).
type PriorTable struct {
	NTax     int       `yaml:"ntax" json:"ntax"`
	Counts   []float64 `yaml:"counts" json:"counts"`
	LnCounts []float64 `yaml:"ln_counts" json:"ln_counts"`
	LnPriors []float64 `yaml:"ln_priors" json:"ln_priors"`
}

// MaxInternals returns the largest resolution class in the table.
func (pt PriorTable) MaxInternals() int { return len(pt.Counts) - 1 }

// priorTable fills one table with tp, which must already carry the wanted
// rooting, prior kind and C.
func priorTable(tp *TopoPriorCalculator, n int) PriorTable {
	tp.SetNTax(n)
	return PriorTable{
		NTax:     n,
		Counts:   tp.Counts(),
		LnCounts: tp.LnCounts(),
		LnPriors: tp.TopoPriors(),
	}
}

// PriorTables computes one table per entry of ntax on the calling goroutine.
func PriorTables(ctx context.Context, cfg Config, ntax []int, logger *slog.Logger) ([]PriorTable, error) {
	if err := checkNTaxList(cfg, ntax); err != nil {
		return nil, err
	}
	tp, err := cfg.NewTopoPriorCalculator(logger)
	if err != nil {
		return nil, err
	}
	out := make([]PriorTable, len(ntax))
	for i, n := range ntax {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = priorTable(tp, n)
	}
	return out, nil
}

// PriorTablesParallel computes the same tables as PriorTables using up to
// cfg.Workers goroutines. Each worker owns a calculator and a contiguous
// range of ntax, so results land in input order without locking. Falls back
// to PriorTables if cfg.Workers <= 1.
func PriorTablesParallel(ctx context.Context, cfg Config, ntax []int, logger *slog.Logger) ([]PriorTable, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	numWorkers := min(cfg.Workers, len(ntax))
	if numWorkers <= 1 {
		return PriorTables(ctx, cfg, ntax, logger)
	}
	if err := checkNTaxList(cfg, ntax); err != nil {
		return nil, err
	}

	out := make([]PriorTable, len(ntax))
	perWorker := (len(ntax) + numWorkers - 1) / numWorkers

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(numWorkers)
	for w := 0; w < numWorkers; w++ {
		start := w * perWorker
		end := min(start+perWorker, len(ntax))
		if start >= len(ntax) {
			break
		}
		g.Go(func() error {
			tp, err := cfg.NewTopoPriorCalculator(orDiscard(logger).With("worker", w))
			if err != nil {
				return err
			}
			for i := start; i < end; i++ {
				if err := gCtx.Err(); err != nil {
					return err
				}
				out[i] = priorTable(tp, ntax[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// checkNTaxList reports the first taxon count that admits no topology under
// cfg's rooting, so workers never hit the calculator's panics.
func checkNTaxList(cfg Config, ntax []int) error {
	minTax := 3
	if cfg.Rooted {
		minTax = 2
	}
	for i, n := range ntax {
		if n < minTax {
			return fmt.Errorf("phylo: ntax[%d] = %d, need >= %d", i, n, minTax)
		}
	}
	return nil
}
