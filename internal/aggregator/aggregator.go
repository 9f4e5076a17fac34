// Package aggregator combines adapter results into one fraud probability.
package aggregator

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultFindingsLimit bounds the key findings of a decision.
const DefaultFindingsLimit = 10

// maxVariance caps score dispersion in the confidence formula.
const maxVariance = 0.25

// Weights maps adapters to their share of the aggregated probability.
type Weights map[domain.Adapter]float64

// DefaultWeights returns the weights of a standard run.
func DefaultWeights() Weights {
	w, _ := ParseWeights(domain.DefaultWeights())
	return w
}

// ParseWeights converts configured weights, keyed by adapter name.
func ParseWeights(raw map[string]float64) (Weights, error) {
	w := make(Weights, len(raw))
	var total float64
	for name, v := range raw {
		a := domain.Adapter(name)
		if !a.Valid() {
			return nil, domain.Configurationf("unknown adapter %q in weights", name)
		}
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, domain.Configurationf("weight for %s must be a finite non-negative number, got %v", name, v)
		}
		w[a] = v
		total += v
	}
	if total <= 0 {
		return nil, domain.Configurationf("adapter weights must not all be zero")
	}
	return w, nil
}

// Redistribute spreads the weights of absent adapters over the available
// ones, proportionally, so the result sums to 1 over available. When every
// available adapter weighs 0 they share equally.
func Redistribute(weights Weights, available []domain.Adapter) Weights {
	out := make(Weights, len(available))
	if len(available) == 0 {
		return out
	}

	var total float64
	for _, a := range available {
		total += weights[a]
	}
	for _, a := range available {
		if total > 0 {
			out[a] = weights[a] / total
		} else {
			out[a] = 1 / float64(len(available))
		}
	}
	return out
}

// Result is the aggregate of one run's analysis.
type Result struct {
	Probability float64
	Confidence  float64
	Findings    []domain.Finding
	Weights     Weights // effective weights over Ok adapters
	Components  []domain.ComponentScore
}

// Aggregate combines results. Only Ok results count toward the probability
// and the confidence; findings are merged from every result. It fails with
// domain.ErrInsufficientData when no result is Ok.
//
// The result does not depend on the order of results.
func Aggregate(results []domain.AnalysisResult, weights Weights, findingsLimit int) (*Result, error) {
	if findingsLimit <= 0 {
		findingsLimit = DefaultFindingsLimit
	}

	ordered := slices.Clone(results)
	sort.SliceStable(ordered, func(i, j int) bool {
		pi, pj := ordered[i].Adapter.Priority(), ordered[j].Adapter.Priority()
		if pi != pj {
			return pi < pj
		}
		return ordered[i].Adapter < ordered[j].Adapter
	})

	var ok []domain.Adapter
	for i, r := range ordered {
		if i > 0 && ordered[i-1].Adapter == r.Adapter {
			return nil, fmt.Errorf("duplicate result for adapter %s", r.Adapter)
		}
		if r.Status == domain.StatusOK {
			ok = append(ok, r.Adapter)
		}
	}
	if len(ok) == 0 {
		return nil, domain.ErrInsufficientData
	}

	effective := Redistribute(weights, ok)

	res := &Result{
		Weights:    effective,
		Components: make([]domain.ComponentScore, 0, len(ordered)),
	}

	scores := make([]float64, 0, len(ok))
	for _, r := range ordered {
		c := domain.ComponentScore{
			Adapter:   r.Adapter,
			Status:    r.Status,
			ElapsedMs: r.ElapsedMs,
		}
		if r.Status == domain.StatusOK {
			c.Contribution = r.Contribution
			c.Weight = effective[r.Adapter]
			res.Probability += c.Contribution * c.Weight
			scores = append(scores, c.Contribution)
		}
		res.Components = append(res.Components, c)
	}

	res.Probability = clamp01(res.Probability)
	res.Confidence = Confidence(scores)
	res.Findings = RankFindings(ordered, findingsLimit)
	return res, nil
}

// Confidence is 1 - min(variance, 0.25) * 4 over the given scores. Agreement
// across independent signals yields high confidence.
func Confidence(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var mean float64
	for _, s := range scores {
		mean += s
	}
	mean /= float64(len(scores))

	var variance float64
	for _, s := range scores {
		variance += (s - mean) * (s - mean)
	}
	variance /= float64(len(scores))

	return clamp01(1 - math.Min(variance, maxVariance)*4)
}

// RankFindings merges findings from results and orders them by severity,
// then adapter priority, keeping each adapter's own order for ties.
// At most limit findings are returned.
func RankFindings(results []domain.AnalysisResult, limit int) []domain.Finding {
	var merged []domain.Finding
	for _, r := range results {
		for _, f := range r.Findings {
			if f.Source == "" {
				f.Source = r.Adapter
			}
			merged = append(merged, f)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		si, sj := merged[i].Severity.Rank(), merged[j].Severity.Rank()
		if si != sj {
			return si > sj
		}
		return merged[i].Source.Priority() < merged[j].Source.Priority()
	})

	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
