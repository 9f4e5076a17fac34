package scoring

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Identity check names. They double as finding types.
const (
	CheckIdentityFields = "identity_not_verified"
	CheckNIRMissing     = "nir_missing"
	CheckNIRInvalid     = "invalid_nir"
	CheckNIRMismatch    = "data_inconsistency"
	CheckIBANMissing    = "iban_missing"
	CheckIBANInvalid    = "invalid_rib"
	CheckSanctions      = "sanctions_match"
)

// LocalRegistry verifies a beneficiary record without calling out: field
// completeness, NIR structure and key, IBAN checksum and a sanctions list.
type LocalRegistry struct {
	sanctions map[string]bool
}

// NewLocalRegistry creates a registry that fails the sanctions check for the
// given full names (case-insensitive).
func NewLocalRegistry(sanctions []string) *LocalRegistry {
	r := &LocalRegistry{sanctions: make(map[string]bool, len(sanctions))}
	for _, name := range sanctions {
		if n := normalizeName(name); n != "" {
			r.sanctions[n] = true
		}
	}
	return r
}

// Verify implements domain.IdentityRegistry.
func (r *LocalRegistry) Verify(ctx context.Context, b *domain.Beneficiary) ([]domain.IdentityCheck, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	checks := []domain.IdentityCheck{r.checkFields(b)}
	checks = append(checks, r.checkNIR(b)...)
	checks = append(checks, r.checkIBAN(b))
	checks = append(checks, r.checkSanctions(b))
	return checks, nil
}

func (r *LocalRegistry) checkFields(b *domain.Beneficiary) domain.IdentityCheck {
	var missing []string
	if b.FirstName == "" {
		missing = append(missing, "first name")
	}
	if b.LastName == "" {
		missing = append(missing, "last name")
	}
	if b.BirthDate == "" {
		missing = append(missing, "birth date")
	}
	c := domain.IdentityCheck{Name: CheckIdentityFields, Passed: len(missing) == 0, Severity: domain.SeverityHigh}
	if !c.Passed {
		c.Detail = "missing " + strings.Join(missing, ", ")
	}
	return c
}

func (r *LocalRegistry) checkNIR(b *domain.Beneficiary) []domain.IdentityCheck {
	if b.NIR == "" {
		return []domain.IdentityCheck{{
			Name: CheckNIRMissing, Severity: domain.SeverityMedium, Detail: "no social security number on file",
		}}
	}

	nir := strings.ReplaceAll(b.NIR, " ", "")
	if err := ValidateNIR(nir); err != nil {
		return []domain.IdentityCheck{{Name: CheckNIRInvalid, Severity: domain.SeverityHigh, Detail: err.Error()}}
	}
	checks := []domain.IdentityCheck{{Name: CheckNIRInvalid, Passed: true, Severity: domain.SeverityHigh}}

	if b.BirthDate != "" {
		consistent := domain.IdentityCheck{Name: CheckNIRMismatch, Passed: true, Severity: domain.SeverityMedium}
		if birth, err := time.Parse("2006-01-02", b.BirthDate); err == nil {
			want := fmt.Sprintf("%02d%02d", birth.Year()%100, int(birth.Month()))
			if nir[1:5] != want {
				consistent.Passed = false
				consistent.Detail = fmt.Sprintf("NIR birth digits %s do not match birth date %s", nir[1:5], b.BirthDate)
			}
		} else {
			consistent.Passed = false
			consistent.Detail = fmt.Sprintf("unparseable birth date %q", b.BirthDate)
		}
		checks = append(checks, consistent)
	}
	return checks
}

func (r *LocalRegistry) checkIBAN(b *domain.Beneficiary) domain.IdentityCheck {
	if b.IBAN == "" {
		return domain.IdentityCheck{Name: CheckIBANMissing, Severity: domain.SeverityMedium, Detail: "no bank account on file"}
	}
	c := domain.IdentityCheck{Name: CheckIBANInvalid, Passed: true, Severity: domain.SeverityHigh}
	if err := ValidateIBAN(b.IBAN); err != nil {
		c.Passed = false
		c.Detail = err.Error()
	}
	return c
}

func (r *LocalRegistry) checkSanctions(b *domain.Beneficiary) domain.IdentityCheck {
	c := domain.IdentityCheck{Name: CheckSanctions, Passed: true, Severity: domain.SeverityCritical}
	if r.sanctions[normalizeName(b.FullName())] {
		c.Passed = false
		c.Detail = fmt.Sprintf("%s appears on the sanctions list", b.FullName())
	}
	return c
}

func normalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// ValidateNIR checks the structure and control key of a 15-character French
// social security number. Corsican departments 2A and 2B are accepted.
func ValidateNIR(nir string) error {
	if len(nir) != 15 {
		return fmt.Errorf("NIR must have 15 characters, got %d", len(nir))
	}
	if nir[0] != '1' && nir[0] != '2' {
		return fmt.Errorf("NIR sex digit must be 1 or 2")
	}

	body := nir[:13]
	switch strings.ToUpper(body[5:7]) {
	case "2A":
		body = body[:5] + "19" + body[7:]
	case "2B":
		body = body[:5] + "18" + body[7:]
	}

	n, err := strconv.ParseInt(body, 10, 64)
	if err != nil {
		return fmt.Errorf("NIR must be numeric")
	}
	key, err := strconv.Atoi(nir[13:])
	if err != nil {
		return fmt.Errorf("NIR key must be numeric")
	}
	if want := 97 - int(n%97); key != want {
		return fmt.Errorf("NIR key %02d does not match %02d", key, want)
	}
	return nil
}

// ValidateIBAN checks an IBAN's length, characters and mod-97 checksum.
func ValidateIBAN(iban string) error {
	s := strings.ToUpper(strings.ReplaceAll(iban, " ", ""))
	if len(s) < 15 || len(s) > 34 {
		return fmt.Errorf("IBAN length %d out of range", len(s))
	}

	rearranged := s[4:] + s[:4]
	rem := 0
	for _, ch := range rearranged {
		switch {
		case ch >= '0' && ch <= '9':
			rem = (rem*10 + int(ch-'0')) % 97
		case ch >= 'A' && ch <= 'Z':
			v := int(ch-'A') + 10
			rem = (rem*100 + v) % 97
		default:
			return fmt.Errorf("IBAN contains invalid character %q", ch)
		}
	}
	if rem != 1 {
		return fmt.Errorf("IBAN checksum mismatch")
	}
	return nil
}
