package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/costmodel"
)

// tableProbabilities are the probabilities the cost-model table shows.
var tableProbabilities = []float64{0.01, 0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 0.7, 0.9}

func newCostModelCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "cost-model",
		Short: "Print the decision threshold and expected rewards of the configured cost matrix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := g.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			snap, err := config.NewSnapshot(cfg.Engine, 1)
			if err != nil {
				return err
			}
			return printCostModel(cmd.OutOrStdout(), snap.Model)
		},
	}
}

func printCostModel(w io.Writer, m *costmodel.Model) error {
	cm := m.Matrix()
	fmt.Fprintf(w, "cost matrix  TP %+.2f  TN %+.2f  FP %+.2f  FN %+.2f\n",
		cm.TruePositive, cm.TrueNegative, cm.FalsePositive, cm.FalseNegative)
	fmt.Fprintf(w, "threshold    %.4f\n\n", m.Threshold())

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "P(FRAUD)\tRISK\tACTION\tE[FLAG]\tE[PASS]\tROUTING\t")
	for _, p := range tableProbabilities {
		level := m.ClassifyRisk(p)
		action := m.Decide(p)
		fmt.Fprintf(tw, "%.2f\t%s\t%s\t%+.3f\t%+.3f\t%s\t\n",
			p, level, action,
			m.ExpectedReward(p, true), m.ExpectedReward(p, false),
			costmodel.Route(level, action).Action,
		)
	}
	return tw.Flush()
}
