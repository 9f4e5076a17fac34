package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/costmodel"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/orchestrator"
)

// benchOptions controls the synthetic workload.
type benchOptions struct {
	Count     int
	FraudRate float64
	Seed      uint64
}

// benchResult tracks throughput and detection quality of a bench run.
type benchResult struct {
	Batches  int
	Failed   int
	Duration time.Duration
	Stats    costmodel.Stats
}

func newBenchCmd(g *globals) *cobra.Command {
	opts := benchOptions{}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure batch throughput on synthetic labelled claims",
		Long: `Generate synthetic claims, a share of them shaped like fraud, and score
them with the batch workflow in chunks of the configured batch maximum.
Reports throughput and the cost-model evaluation against the labels.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if opts.Count <= 0 {
				return domain.InvalidInputf("count must be positive, got %d", opts.Count)
			}
			if opts.FraudRate < 0 || opts.FraudRate > 1 {
				return domain.InvalidInputf("fraud rate must be in [0,1], got %v", opts.FraudRate)
			}

			store, err := config.NewStore(cfg.Engine)
			if err != nil {
				return err
			}
			engine, err := newOrchestrator(cfg, store, engineDeps{Logger: logger})
			if err != nil {
				return err
			}

			txs, labels := syntheticClaims(opts, time.Now().UTC())
			res, err := runBench(cmd.Context(), engine, store.Current(), txs, labels)
			if err != nil {
				return err
			}
			printBench(cmd.OutOrStdout(), opts, res)
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.Count, "count", "n", 10000, "number of claims to score")
	cmd.Flags().Float64Var(&opts.FraudRate, "fraud-rate", 0.05, "share of fraud-shaped claims")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 1, "random seed")
	return cmd
}

// syntheticClaims builds a reproducible labelled workload. Fraud-shaped
// claims combine amount spikes, bursty claim counts, young accounts and
// risky providers.
func syntheticClaims(opts benchOptions, now time.Time) ([]*domain.Transaction, []bool) {
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	txs := make([]*domain.Transaction, opts.Count)
	labels := make([]bool, opts.Count)

	for i := range txs {
		fraud := rng.Float64() < opts.FraudRate
		avg := 50 + rng.Float64()*150
		tx := &domain.Transaction{
			ID:                fmt.Sprintf("bench-%06d", i),
			Type:              "claim",
			Timestamp:         now.Add(-time.Duration(rng.IntN(72*60)) * time.Minute),
			BeneficiaryID:     fmt.Sprintf("ben-%04d", rng.IntN(opts.Count/10+1)),
			ProviderID:        fmt.Sprintf("prov-%03d", rng.IntN(100)),
			Amount:            avg * (0.5 + rng.Float64()),
			AverageAmount:     avg,
			ClaimsLast30d:     domain.Int(rng.IntN(4)),
			DaysSinceLast:     domain.Int(7 + rng.IntN(60)),
			TenureMonths:      domain.Int(12 + rng.IntN(120)),
			ProviderRiskScore: rng.Float64() * 0.3,
		}
		if fraud {
			tx.Amount = avg * (5 + rng.Float64()*20)
			tx.ClaimsLast30d = domain.Int(8 + rng.IntN(12))
			tx.DaysSinceLast = domain.Int(rng.IntN(2))
			tx.TenureMonths = domain.Int(rng.IntN(4))
			tx.ProviderRiskScore = 0.5 + rng.Float64()*0.5
		}
		tx.TotalLast30d = float64(*tx.ClaimsLast30d) * avg
		txs[i] = tx
		labels[i] = fraud
	}
	return txs, labels
}

func runBench(ctx context.Context, engine *orchestrator.Orchestrator, snap *config.Snapshot, txs []*domain.Transaction, labels []bool) (*benchResult, error) {
	res := &benchResult{}
	outcomes := make([]costmodel.Outcome, 0, len(txs))
	start := time.Now()

	for lo := 0; lo < len(txs); lo += snap.BatchMax {
		hi := min(lo+snap.BatchMax, len(txs))
		batch, err := engine.ProcessBatch(ctx, txs[lo:hi])
		if err != nil {
			return nil, err
		}
		res.Batches++
		for j, item := range batch.Items {
			if item.Record == nil {
				res.Failed++
				continue
			}
			outcomes = append(outcomes, costmodel.Outcome{
				Flagged: item.Record.Action.Flagged(),
				Fraud:   labels[lo+j],
			})
		}
	}

	res.Duration = time.Since(start)
	res.Stats = snap.Model.Evaluate(outcomes)
	return res, nil
}

func printBench(w io.Writer, opts benchOptions, res *benchResult) {
	s := res.Stats
	throughput := float64(s.Total) / res.Duration.Seconds()

	fmt.Fprintf(w, "claims       %d (fraud rate %.2f, seed %d)\n", opts.Count, opts.FraudRate, opts.Seed)
	fmt.Fprintf(w, "batches      %d\n", res.Batches)
	fmt.Fprintf(w, "failed       %d\n", res.Failed)
	fmt.Fprintf(w, "duration     %s\n", res.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "throughput   %.0f claims/s\n", throughput)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "confusion    TP %d  FP %d  TN %d  FN %d\n", s.TruePositives, s.FalsePositives, s.TrueNegatives, s.FalseNegatives)
	fmt.Fprintf(w, "precision    %.4f\n", s.Precision)
	fmt.Fprintf(w, "recall       %.4f\n", s.Recall)
	fmt.Fprintf(w, "f1           %.4f\n", s.F1)
	fmt.Fprintf(w, "reward       %.2f total, %.4f mean\n", s.TotalReward, s.MeanReward)
}
