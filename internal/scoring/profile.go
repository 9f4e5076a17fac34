package scoring

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/patterns"
)

// Unknown marks a Profile counter neither the transaction nor history
// could supply.
const Unknown = patterns.Unknown

// Profile is the beneficiary activity a transaction is scored against.
type Profile struct {
	// AverageAmount is zero when unknown.
	AverageAmount float64
	Claims30d     int
	DaysSinceLast int
	TenureMonths  int
}

// Profiler resolves profiles for the adapters that share it. Counters the
// transaction carries win; the average and the claim count fall back to
// history. Concurrent lookups for one beneficiary share a single call.
type Profiler struct {
	history domain.HistoryProvider
	logger  *slog.Logger
	group   singleflight.Group
}

// NewProfiler creates a profiler. A nil history leaves missing values unknown.
func NewProfiler(history domain.HistoryProvider, logger *slog.Logger) *Profiler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Profiler{history: history, logger: logger}
}

type historyView struct {
	average float64
	claims  int
}

// Resolve builds the profile for in. History is not consulted when
// in.SkipHistory is set.
func (p *Profiler) Resolve(ctx context.Context, in *domain.ScoreInput) Profile {
	tx := in.Transaction
	prof := Profile{
		AverageAmount: tx.AverageAmount,
		Claims30d:     counter(tx.ClaimsLast30d),
		DaysSinceLast: counter(tx.DaysSinceLast),
		TenureMonths:  counter(tx.TenureMonths),
	}
	if prof.AverageAmount > 0 && prof.Claims30d != Unknown {
		return prof
	}
	if p == nil || p.history == nil || in.SkipHistory || tx.BeneficiaryID == "" {
		return prof
	}

	v, _, _ := p.group.Do(tx.BeneficiaryID, func() (any, error) {
		return p.lookup(ctx, tx), nil
	})
	view := v.(historyView)

	if prof.AverageAmount <= 0 {
		prof.AverageAmount = view.average
	}
	if prof.Claims30d == Unknown {
		prof.Claims30d = view.claims
	}
	return prof
}

func (p *Profiler) lookup(ctx context.Context, tx *domain.Transaction) historyView {
	view := historyView{claims: Unknown}

	stats, err := p.history.BeneficiaryStats(ctx, tx.BeneficiaryID)
	switch {
	case err != nil:
		p.logger.Warn("history lookup failed, average unknown",
			"tx_id", tx.ID,
			"beneficiary_id", tx.BeneficiaryID,
			"error", err,
		)
	case stats != nil && stats.Count > 0 && stats.Average > 0:
		view.average = stats.Average
	}

	count, err := p.history.ClaimCount(ctx, tx.BeneficiaryID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		p.logger.Warn("claim count lookup failed, count unknown",
			"tx_id", tx.ID,
			"beneficiary_id", tx.BeneficiaryID,
			"error", err,
		)
	default:
		view.claims = int(count)
	}
	return view
}

func counter(n *int) int {
	if n == nil {
		return Unknown
	}
	return *n
}
