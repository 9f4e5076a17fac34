package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/costmodel"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// labelledTransaction is one entry of a score file. Fraud is the ground
// truth when known.
type labelledTransaction struct {
	domain.Transaction
	Fraud *bool `json:"fraud,omitempty"`
}

// scoreReport is the --json output of the score command.
type scoreReport struct {
	Batch *domain.BatchResult `json:"batch"`
	Stats *costmodel.Stats    `json:"stats,omitempty"`
}

func newScoreCmd(g *globals) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "score FILE",
		Short: "Batch-score a JSON file of transactions",
		Long: `Score a JSON array of transactions with the batch workflow and print
each decision. Entries carrying a "fraud" label are also evaluated against
the cost model: confusion counts, precision, recall and realized reward.

Use "-" to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			entries, err := readLabelled(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			store, err := config.NewStore(cfg.Engine)
			if err != nil {
				return err
			}
			engine, err := newOrchestrator(cfg, store, engineDeps{Logger: logger})
			if err != nil {
				return err
			}

			txs := make([]*domain.Transaction, len(entries))
			for i := range entries {
				txs[i] = &entries[i].Transaction
			}
			res, err := engine.ProcessBatch(cmd.Context(), txs)
			if err != nil {
				return err
			}

			report := scoreReport{Batch: res, Stats: labelStats(store.Current().Model, entries, res)}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			return printScore(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the batch result as JSON")
	return cmd
}

func readLabelled(stdin io.Reader, path string) ([]labelledTransaction, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read transactions: %w", err)
	}

	var entries []labelledTransaction
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, domain.InvalidInputf("parse transactions %s: %v", path, err)
	}
	return entries, nil
}

// labelStats evaluates the labelled, successfully scored entries. It returns
// nil when no entry carries a label.
func labelStats(model *costmodel.Model, entries []labelledTransaction, res *domain.BatchResult) *costmodel.Stats {
	var outcomes []costmodel.Outcome
	for i, item := range res.Items {
		if item.Record == nil || entries[i].Fraud == nil {
			continue
		}
		outcomes = append(outcomes, costmodel.Outcome{
			Flagged: item.Record.Action.Flagged(),
			Fraud:   *entries[i].Fraud,
		})
	}
	if len(outcomes) == 0 {
		return nil
	}
	stats := model.Evaluate(outcomes)
	return &stats
}

func printScore(w io.Writer, report scoreReport) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TRANSACTION\tACTION\tRISK\tPROBABILITY\tROUTING\tERROR")
	for _, item := range report.Batch.Items {
		if item.Record == nil {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t-\t%s: %s\n", item.TransactionID, item.ErrorCode, item.Error)
			continue
		}
		rec := item.Record
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.4f\t%s\t\n", item.TransactionID, rec.Action, rec.RiskLevel, rec.Probability, rec.Routing.Action)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	b := report.Batch
	fmt.Fprintf(w, "\nprocessed %d  passed %d  flagged %d  blocked %d  failed %d  mean probability %.4f  (%d ms)\n",
		b.Processed, b.Passed, b.Flagged, b.Blocked, b.Failed, b.MeanProbability, b.TotalMs)

	if s := report.Stats; s != nil {
		fmt.Fprintf(w, "\nlabelled %d  TP %d  FP %d  TN %d  FN %d\n",
			s.Total, s.TruePositives, s.FalsePositives, s.TrueNegatives, s.FalseNegatives)
		fmt.Fprintf(w, "precision %.4f  recall %.4f  f1 %.4f  accuracy %.4f\n",
			s.Precision, s.Recall, s.F1, s.Accuracy)
		fmt.Fprintf(w, "reward total %.2f  mean %.4f\n", s.TotalReward, s.MeanReward)
	}
	return nil
}
