package aggregator

import (
	"math"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/opensource-finance/kestrel/internal/domain"
)

var statuses = []domain.AnalysisStatus{domain.StatusOK, domain.StatusFailed, domain.StatusTimedOut, domain.StatusSkipped}

// buildResults makes one result per adapter from generated scores and
// status picks.
func buildResults(scores []float64, picks []int) []domain.AnalysisResult {
	results := make([]domain.AnalysisResult, 0, len(domain.Adapters))
	for i, a := range domain.Adapters {
		r := domain.AnalysisResult{Adapter: a, Status: statuses[picks[i]%len(statuses)]}
		if r.Status == domain.StatusOK {
			r.Contribution = scores[i]
			r.Findings = []domain.Finding{{Type: string(a), Severity: domain.SeverityMedium}}
		}
		results = append(results, r)
	}
	return results
}

func scoresGen() gopter.Gen {
	return gen.SliceOfN(len(domain.Adapters), gen.Float64Range(0, 1))
}

func picksGen() gopter.Gen {
	return gen.SliceOfN(len(domain.Adapters), gen.IntRange(0, len(statuses)-1))
}

func TestAggregateCommutative(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("shuffling results does not change the outcome", prop.ForAll(
		func(scores []float64, picks []int, seed int64) bool {
			results := buildResults(scores, picks)
			a, errA := Aggregate(results, DefaultWeights(), 0)

			shuffled := append([]domain.AnalysisResult(nil), results...)
			rng := rand.New(rand.NewSource(seed))
			rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
			b, errB := Aggregate(shuffled, DefaultWeights(), 0)

			if errA != nil || errB != nil {
				return (errA == nil) == (errB == nil)
			}
			if a.Probability != b.Probability || a.Confidence != b.Confidence {
				return false
			}
			if len(a.Findings) != len(b.Findings) {
				return false
			}
			for i := range a.Findings {
				if a.Findings[i] != b.Findings[i] {
					return false
				}
			}
			return true
		},
		scoresGen(),
		picksGen(),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

func TestRedistributeSumsToOne(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("weights over any non-empty subset sum to 1", prop.ForAll(
		func(mask uint8) bool {
			var subset []domain.Adapter
			for i, a := range domain.Adapters {
				if mask&(1<<i) != 0 {
					subset = append(subset, a)
				}
			}
			if len(subset) == 0 {
				return true
			}
			var sum float64
			for _, w := range Redistribute(DefaultWeights(), subset) {
				sum += w
			}
			return math.Abs(sum-1) < 1e-9
		},
		gen.UInt8Range(0, 31),
	))

	properties.TestingRun(t)
}

func TestAggregateMonotonic(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("raising one contribution never lowers the probability", prop.ForAll(
		func(scores []float64, picks []int, idx int, bump float64) bool {
			results := buildResults(scores, picks)
			before, err := Aggregate(results, DefaultWeights(), 0)
			if err != nil {
				return true
			}

			raised := append([]domain.AnalysisResult(nil), results...)
			i := idx % len(raised)
			if raised[i].Status != domain.StatusOK {
				return true
			}
			raised[i].Contribution = math.Min(1, raised[i].Contribution+bump)

			after, err := Aggregate(raised, DefaultWeights(), 0)
			if err != nil {
				return false
			}
			return after.Probability >= before.Probability-1e-12
		},
		scoresGen(),
		picksGen(),
		gen.IntRange(0, len(domain.Adapters)-1),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
