package patterns

// Builtin returns the default pattern library. Every indicator is a risk
// signal on its own, and counters at -1 (unknown) never satisfy one.
func Builtin() []Pattern {
	return []Pattern{
		{
			ID:          "PATTERN_001",
			Name:        "Claim cascade",
			Description: "Many small claims in a short period",
			Indicators: []string{
				"claims_30d > 10",
				"claims_30d > 5 && avg_amount > 0.0 && avg_amount < 100.0",
			},
			RiskWeight: 0.7,
			Enabled:    true,
		},
		{
			ID:          "PATTERN_002",
			Name:        "Risky provider, high amount",
			Description: "Large claim billed by a provider with a poor risk rating",
			Indicators: []string{
				"amount > 1000.0",
				"provider_risk > 0.5",
			},
			RiskWeight: 0.8,
			Enabled:    true,
		},
		{
			ID:          "PATTERN_003",
			Name:        "Spending spike",
			Description: "Claim far above the beneficiary's usual amount",
			Indicators: []string{
				"avg_amount > 0.0 && amount > avg_amount * 5.0",
			},
			RiskWeight: 0.6,
			Enabled:    true,
		},
		{
			ID:          "PATTERN_004",
			Name:        "Rapid succession",
			Description: "Claims filed back to back by an already active beneficiary",
			Indicators: []string{
				"days_since_last >= 0 && days_since_last < 2 && claims_30d > 5",
			},
			RiskWeight: 0.5,
			Enabled:    true,
		},
		{
			ID:          "PATTERN_005",
			Name:        "Off-hours submission",
			Description: "Claim submitted in the middle of the night",
			Indicators: []string{
				"hour >= 0 && (hour < 6 || hour > 22)",
			},
			RiskWeight: 0.3,
			Enabled:    true,
		},
		{
			ID:          "PATTERN_006",
			Name:        "New beneficiary, high amount",
			Description: "Recently enrolled beneficiary with an unusually large claim",
			Indicators: []string{
				"tenure_months >= 0 && tenure_months < 3 && amount > 500.0",
			},
			RiskWeight: 0.5,
			Enabled:    true,
		},
	}
}
