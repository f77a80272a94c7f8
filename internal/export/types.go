// Package export renders family summaries and prints them to PDF.
package export

import (
	"errors"
	"time"
)

// Summary is the assembled view of a family that gets exported: the family
// record, its members with resolved profile names, and its policies.
type Summary struct {
	FamilyName          string
	PrimaryContactEmail string
	GeneratedAt         time.Time
	Members             []SummaryMember
	Policies            []SummaryPolicy
}

// SummaryMember is one family member row in the summary.
type SummaryMember struct {
	Name         string
	Email        string
	Relationship string
	IsPrimary    bool
}

// SummaryPolicy is one policy row in the summary.
type SummaryPolicy struct {
	PolicyType       string
	PolicyNumber     string
	InsuranceCompany string
	Status           string
	HolderName       string
	PremiumAmount    *float64
	CoverageAmount   *float64
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
