// Package explain renders decision records for analysts, managers and
// beneficiaries, and builds investigation reports.
package explain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Recommendation priorities.
const (
	PriorityUrgent = "urgent"
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Builder implements domain.Explainer and domain.Reporter. It has no state
// beyond its clock, so calls are idempotent for a given record.
type Builder struct {
	now func() time.Time
}

// NewBuilder returns a Builder using the wall clock.
func NewBuilder() *Builder {
	return &Builder{now: time.Now}
}

// Explain renders rec for audience. Every audience sees the same decision
// facts line; framing and detail differ.
func (b *Builder) Explain(ctx context.Context, rec domain.DecisionRecord, audience domain.Audience) (domain.Explanation, error) {
	if err := ctx.Err(); err != nil {
		return domain.Explanation{}, err
	}
	if rec.TransactionID == "" || rec.Action == "" {
		return domain.Explanation{}, fmt.Errorf("%w: record is incomplete", domain.ErrExplanation)
	}

	exp := domain.Explanation{Audience: audience}
	switch audience {
	case domain.AudienceAnalyst:
		exp.Summary = analystSummary(rec)
		exp.Text = analystText(rec)
		exp.Recommendations = Recommend(rec)
	case domain.AudienceManager:
		exp.Summary = managerSummary(rec)
		exp.Text = managerText(rec)
		exp.Recommendations = Recommend(rec)
	case domain.AudienceBeneficiary:
		exp.Summary = beneficiarySummary(rec)
		exp.Text = beneficiaryText(rec)
	default:
		return domain.Explanation{}, domain.InvalidInputf("unknown audience %q", audience)
	}
	return exp, nil
}

// Facts is the numeric summary shared by every audience.
func Facts(rec domain.DecisionRecord) string {
	return fmt.Sprintf("Decision %s, risk %s, fraud probability %.1f%%, confidence %.1f%%.",
		rec.Action, rec.RiskLevel, rec.Probability*100, rec.Confidence*100)
}

func analystSummary(rec domain.DecisionRecord) string {
	return fmt.Sprintf("%s %s: %s risk at p=%.3f", rec.Action, rec.TransactionID, rec.RiskLevel, rec.Probability)
}

func analystText(rec domain.DecisionRecord) string {
	var sb strings.Builder
	sb.WriteString(Facts(rec))
	sb.WriteString("\n\nComponent scores:\n")
	for _, c := range rec.Components {
		if c.Status == domain.StatusOK {
			fmt.Fprintf(&sb, "- %s: %.3f (weight %.3f)\n", c.Adapter, c.Contribution, c.Weight)
		} else {
			fmt.Fprintf(&sb, "- %s: %s\n", c.Adapter, c.Status)
		}
	}

	if len(rec.KeyFindings) > 0 {
		sb.WriteString("\nKey findings:\n")
		for _, f := range rec.KeyFindings {
			fmt.Fprintf(&sb, "- [%s] %s/%s: %s\n", f.Severity, f.Source, f.Type, f.Description)
		}
	}

	fmt.Fprintf(&sb, "\n%s\n", costLine(rec))

	if len(rec.Warnings) > 0 {
		sb.WriteString("\nDegraded analysis:\n")
		for _, w := range rec.Warnings {
			fmt.Fprintf(&sb, "- %s\n", w)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func managerSummary(rec domain.DecisionRecord) string {
	switch rec.Action {
	case domain.ActionBlock:
		return fmt.Sprintf("Payment blocked: %s risk", strings.ToLower(string(rec.RiskLevel)))
	case domain.ActionFlag:
		return fmt.Sprintf("Sent to review: %s risk", strings.ToLower(string(rec.RiskLevel)))
	default:
		return "Approved automatically"
	}
}

func managerText(rec domain.DecisionRecord) string {
	var sb strings.Builder
	sb.WriteString(Facts(rec))
	sb.WriteString("\n\n")
	sb.WriteString(costLine(rec))
	sb.WriteString("\n")

	if rec.Routing.Queue != "" {
		fmt.Fprintf(&sb, "Routed to %s with a %dh SLA", rec.Routing.Queue, rec.Routing.SLAHours)
		if rec.Routing.AutoEscalate {
			sb.WriteString(", escalated automatically")
		}
		sb.WriteString(".\n")
	}

	top := rec.KeyFindings
	if len(top) > 3 {
		top = top[:3]
	}
	if len(top) > 0 {
		fmt.Fprintf(&sb, "Main reasons (%d findings in total):\n", len(rec.KeyFindings))
		for _, f := range top {
			fmt.Fprintf(&sb, "- %s\n", f.Description)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func beneficiarySummary(rec domain.DecisionRecord) string {
	switch rec.Action {
	case domain.ActionBlock:
		return "Your claim is on hold"
	case domain.ActionFlag:
		return "Your claim needs an additional check"
	default:
		return "Your claim has been accepted"
	}
}

func beneficiaryText(rec domain.DecisionRecord) string {
	var msg string
	switch rec.Action {
	case domain.ActionBlock:
		msg = "Your claim has been put on hold while we verify some of its details. " +
			"An advisor will contact you; you do not need to resubmit it."
	case domain.ActionFlag:
		msg = "Your claim is being reviewed by an advisor before payment."
		if rec.Routing.SLAHours > 0 {
			msg += fmt.Sprintf(" We aim to complete the review within %d hours.", rec.Routing.SLAHours)
		}
	default:
		msg = "Your claim has been accepted and will be processed normally."
	}
	return fmt.Sprintf("%s\n\nReference %s. %s", msg, rec.CaseID, Facts(rec))
}

func costLine(rec domain.DecisionRecord) string {
	chosen, other := "flagging", "passing"
	if !rec.Action.Flagged() {
		chosen, other = other, chosen
	}
	return fmt.Sprintf("Expected reward of %s %.2f versus %.2f for %s (flag threshold %.3f).",
		chosen, rec.ExpectedReward, rec.AlternativeReward, other, rec.Threshold)
}

// Recommend lists follow-up actions for rec, most urgent first.
func Recommend(rec domain.DecisionRecord) []domain.Recommendation {
	if !rec.Action.Flagged() {
		return []domain.Recommendation{{
			Priority: PriorityLow,
			Action:   "Process automatically",
			Reason:   "Fraud probability is below the cost-model threshold",
		}}
	}

	var out []domain.Recommendation
	priority := PriorityHigh
	if rec.Action == domain.ActionBlock {
		priority = PriorityUrgent
	}
	out = append(out, domain.Recommendation{
		Priority: priority,
		Action:   fmt.Sprintf("Review in %s within %dh", rec.Routing.Queue, rec.Routing.SLAHours),
		Reason:   fmt.Sprintf("%s risk decision", rec.RiskLevel),
	})

	var amount, pattern, identity bool
	for _, f := range rec.KeyFindings {
		switch {
		case f.Type == "amount_spike":
			amount = true
		case f.Source == domain.AdapterPattern:
			pattern = true
		case f.Source == domain.AdapterIdentity && f.Type != domain.FindingMissingInput:
			identity = true
		}
	}
	if amount {
		out = append(out, domain.Recommendation{
			Priority: PriorityHigh,
			Action:   "Request supporting evidence for the amount",
			Reason:   "Amount is far above the beneficiary's average",
		})
	}
	if identity {
		out = append(out, domain.Recommendation{
			Priority: PriorityHigh,
			Action:   "Verify the beneficiary's identity",
			Reason:   "Identity checks failed",
		})
	}
	if pattern {
		out = append(out, domain.Recommendation{
			Priority: PriorityMedium,
			Action:   "Compare with similar cases",
			Reason:   "Known fraud patterns matched",
		})
	}
	if len(rec.Warnings) > 0 {
		out = append(out, domain.Recommendation{
			Priority: PriorityMedium,
			Action:   "Re-run a full analysis",
			Reason:   "Some analyses did not complete",
		})
	}
	return out
}
