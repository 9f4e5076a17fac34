package domain

import (
	"time"
)

// Transaction is a claim or payment submitted for fraud review.
// It is never mutated once it enters a run.
type Transaction struct {
	ID            string    `json:"id"`
	Type          string    `json:"type,omitempty"`
	Amount        float64   `json:"amount"`
	Timestamp     time.Time `json:"timestamp"`
	BeneficiaryID string    `json:"beneficiaryId,omitempty"`
	ProviderID    string    `json:"providerId,omitempty"`
	Description   string    `json:"description,omitempty"`

	// Beneficiary activity counters, supplied by the upstream claims system.
	// A nil counter is unknown; zero is a real observation.
	ClaimsLast30d *int    `json:"claimsLast30d,omitempty"`
	TotalLast30d  float64 `json:"totalLast30d,omitempty"`
	DaysSinceLast *int    `json:"daysSinceLast,omitempty"`
	TenureMonths  *int    `json:"tenureMonths,omitempty"`

	// ProviderRiskScore is the provider's risk rating in [0,1].
	ProviderRiskScore float64 `json:"providerRiskScore"`

	// AverageAmount is the beneficiary's historical mean claim amount.
	// Zero means unknown; the transaction scorer then asks the history provider.
	AverageAmount float64 `json:"averageAmount,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Int returns a pointer to n, for setting a counter.
func Int(n int) *int { return &n }

// Document is a supporting document attached to a transaction.
// Inspection fields are filled by the upstream OCR pipeline when available.
type Document struct {
	ID                string    `json:"id"`
	Type              string    `json:"type,omitempty"` // invoice, prescription, identity, rib
	URI               string    `json:"uri,omitempty"`
	AuthenticityScore *float64  `json:"authenticityScore,omitempty"`
	TamperingDetected bool      `json:"tamperingDetected,omitempty"`
	Warnings          []string  `json:"warnings,omitempty"`
	ReceivedAt        time.Time `json:"receivedAt,omitempty"`
}

// Beneficiary is the identity record of the person receiving the payment.
type Beneficiary struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	BirthDate string `json:"birthDate,omitempty"` // YYYY-MM-DD
	NIR       string `json:"nir,omitempty"`       // French social security number
	IBAN      string `json:"iban,omitempty"`
	BIC       string `json:"bic,omitempty"`
}

// FullName returns "First Last" trimmed of missing parts.
func (b *Beneficiary) FullName() string {
	switch {
	case b.FirstName == "":
		return b.LastName
	case b.LastName == "":
		return b.FirstName
	default:
		return b.FirstName + " " + b.LastName
	}
}

// BeneficiaryStats summarizes a beneficiary's recent claims.
type BeneficiaryStats struct {
	BeneficiaryID string  `json:"beneficiaryId"`
	Count         int64   `json:"count"`
	Total         float64 `json:"total"`
	Average       float64 `json:"average"`
}

// Neighborhood is the relationship view of one entity in the claims graph.
type Neighborhood struct {
	EntityID         string  `json:"entityId"`
	Neighbors        int     `json:"neighbors"`        // entities sharing at least one provider
	FlaggedNeighbors int     `json:"flaggedNeighbors"` // neighbors with a Flag or Block decision
	SharedProviders  int     `json:"sharedProviders"`
	Centrality       float64 `json:"centrality"` // 0..1, supplied by graph backends that compute it
	Rings            []Ring  `json:"rings,omitempty"`
}

// Ring is a suspected fraud ring reported by a graph backend.
type Ring struct {
	ID         string  `json:"id"`
	Size       int     `json:"size"`
	Confidence float64 `json:"confidence"`
}
