package explain

import (
	"context"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Report builds an investigation report from a run's accumulated results.
func (b *Builder) Report(ctx context.Context, in domain.ReportInput) (domain.InvestigationReport, error) {
	if err := ctx.Err(); err != nil {
		return domain.InvestigationReport{}, err
	}
	rec := in.Record
	if rec.TransactionID == "" {
		return domain.InvestigationReport{}, fmt.Errorf("%w: record is incomplete", domain.ErrExplanation)
	}

	rep := domain.InvestigationReport{
		CaseID:          rec.CaseID,
		TransactionID:   rec.TransactionID,
		GeneratedAt:     b.now().UTC(),
		Recommendations: Recommend(rec),
	}

	rep.Sections = append(rep.Sections, domain.ReportSection{
		Title: "Summary",
		Lines: []string{
			Facts(rec),
			fmt.Sprintf("Case %s, transaction %s, beneficiary %s, %s workflow.",
				rec.CaseID, rec.TransactionID, orNone(rec.BeneficiaryID), rec.Workflow),
		},
	})

	adapters := domain.ReportSection{Title: "Analysis"}
	for _, r := range in.Analysis {
		line := fmt.Sprintf("%-12s %-9s", r.Adapter, r.Status)
		if c, ok := rec.Component(r.Adapter); ok && r.Status == domain.StatusOK {
			line += fmt.Sprintf(" contribution %.3f weight %.3f", c.Contribution, c.Weight)
		}
		line += fmt.Sprintf(" %dms", r.ElapsedMs)
		if r.Error != "" {
			line += " (" + r.Error + ")"
		}
		adapters.Lines = append(adapters.Lines, line)
	}
	rep.Sections = append(rep.Sections, adapters)

	findings := domain.ReportSection{Title: "Key findings"}
	for _, f := range rec.KeyFindings {
		findings.Lines = append(findings.Lines, fmt.Sprintf("[%s] %s/%s: %s", f.Severity, f.Source, f.Type, f.Description))
	}
	if len(findings.Lines) == 0 {
		findings.Lines = []string{"none"}
	}
	rep.Sections = append(rep.Sections, findings)

	m := rec.CostMatrix
	rep.Sections = append(rep.Sections, domain.ReportSection{
		Title: "Cost justification",
		Lines: []string{
			fmt.Sprintf("Cost matrix TP %.2f, TN %.2f, FP %.2f, FN %.2f.", m.TruePositive, m.TrueNegative, m.FalsePositive, m.FalseNegative),
			costLine(rec),
		},
	})

	routing := domain.ReportSection{Title: "Routing", Lines: []string{rec.Routing.Action}}
	if rec.Routing.Queue != "" {
		routing.Lines = append(routing.Lines, fmt.Sprintf("Queue %s, SLA %dh, auto escalate %t.",
			rec.Routing.Queue, rec.Routing.SLAHours, rec.Routing.AutoEscalate))
	}
	rep.Sections = append(rep.Sections, routing)

	timings := domain.ReportSection{Title: "Phase timings"}
	for _, p := range in.Phases {
		line := fmt.Sprintf("%-8s %dms", p.Phase, p.ElapsedMs)
		if p.Error != "" {
			line += " error: " + p.Error
		}
		timings.Lines = append(timings.Lines, line)
	}
	rep.Sections = append(rep.Sections, timings)

	if len(rec.Warnings) > 0 {
		rep.Sections = append(rep.Sections, domain.ReportSection{Title: "Warnings", Lines: rec.Warnings})
	}
	return rep, nil
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
