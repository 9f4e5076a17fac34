package costmodel

// Outcome pairs a decision with the ground truth later established for it.
type Outcome struct {
	Flagged bool `json:"flagged"`
	Fraud   bool `json:"fraud"`
}

// Stats summarizes a labelled batch of decisions under a cost matrix.
type Stats struct {
	Total          int     `json:"total"`
	TruePositives  int     `json:"truePositives"`
	TrueNegatives  int     `json:"trueNegatives"`
	FalsePositives int     `json:"falsePositives"`
	FalseNegatives int     `json:"falseNegatives"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
	Accuracy       float64 `json:"accuracy"`
	TotalReward    float64 `json:"totalReward"`
	MeanReward     float64 `json:"meanReward"`
}

// Reward is the realized payoff of a single outcome.
func (m *Model) Reward(o Outcome) float64 {
	switch {
	case o.Flagged && o.Fraud:
		return m.matrix.TruePositive
	case o.Flagged:
		return m.matrix.FalsePositive
	case o.Fraud:
		return m.matrix.FalseNegative
	default:
		return m.matrix.TrueNegative
	}
}

// Evaluate computes confusion counts, classification metrics and the total
// reward of a set of outcomes.
func (m *Model) Evaluate(outcomes []Outcome) Stats {
	s := Stats{Total: len(outcomes)}
	for _, o := range outcomes {
		switch {
		case o.Flagged && o.Fraud:
			s.TruePositives++
		case o.Flagged:
			s.FalsePositives++
		case o.Fraud:
			s.FalseNegatives++
		default:
			s.TrueNegatives++
		}
		s.TotalReward += m.Reward(o)
	}
	if s.Total == 0 {
		return s
	}

	if flagged := s.TruePositives + s.FalsePositives; flagged > 0 {
		s.Precision = float64(s.TruePositives) / float64(flagged)
	}
	if fraud := s.TruePositives + s.FalseNegatives; fraud > 0 {
		s.Recall = float64(s.TruePositives) / float64(fraud)
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
	}
	s.Accuracy = float64(s.TruePositives+s.TrueNegatives) / float64(s.Total)
	s.MeanReward = s.TotalReward / float64(s.Total)
	return s
}
