package store

import (
	"encoding/json"
	"time"
)

type Profile struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Family struct {
	ID                  string
	FamilyName          string
	PrimaryContactEmail string
	CreatedBy           *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type FamilyMember struct {
	ID           string
	FamilyID     string
	UserID       string
	Relationship *string
	IsPrimary    bool
	JoinedAt     time.Time
}

type Policy struct {
	ID               string
	FamilyID         string
	PolicyHolderID   string
	PolicyNumber     *string
	PolicyType       string
	InsuranceCompany *string
	PremiumAmount    *float64
	CoverageAmount   *float64
	StartDate        *string
	EndDate          *string
	Status           string
	CreatedAt        time.Time
}

type PolicyRequest struct {
	ID          string
	FamilyID    string
	RequestedBy string
	RequestType string
	PolicyID    *string
	RequestData json.RawMessage
	Status      string
	AdminNotes  *string
	ReviewedBy  *string
	ReviewedAt  *time.Time
	CreatedAt   time.Time
}

type AdminUser struct {
	ID        string
	UserID    string
	AdminName string
	CreatedAt time.Time
}

// Account is an identity-provider record. Profiles mirror accounts one to one.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}
