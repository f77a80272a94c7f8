package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"kinsure/api/internal/export"
	"kinsure/api/internal/search"
	"kinsure/api/internal/store"
)

// ProfileView is the embedded identity of a member or policy holder. Missing
// profiles render as the sentinel instead of failing the whole assembly.
type ProfileView struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type MemberView struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	Relationship *string     `json:"relationship"`
	IsPrimary    bool        `json:"is_primary"`
	JoinedAt     time.Time   `json:"joined_at"`
	Profile      ProfileView `json:"profile"`
}

type PolicyView struct {
	ID               string      `json:"id"`
	FamilyID         string      `json:"family_id"`
	PolicyHolderID   string      `json:"policy_holder_id"`
	PolicyNumber     *string     `json:"policy_number"`
	PolicyType       string      `json:"policy_type"`
	InsuranceCompany *string     `json:"insurance_company"`
	PremiumAmount    *float64    `json:"premium_amount"`
	CoverageAmount   *float64    `json:"coverage_amount"`
	StartDate        *string     `json:"start_date"`
	EndDate          *string     `json:"end_date"`
	Status           string      `json:"status"`
	CreatedAt        time.Time   `json:"created_at"`
	PolicyHolder     ProfileView `json:"policy_holder"`
}

type FamilyView struct {
	ID                  string       `json:"id"`
	FamilyName          string       `json:"family_name"`
	PrimaryContactEmail string       `json:"primary_contact_email"`
	CreatedBy           *string      `json:"created_by"`
	CreatedAt           time.Time    `json:"created_at"`
	Members             []MemberView `json:"members"`
	Policies            []PolicyView `json:"policies"`
}

func sentinelProfile(id string) ProfileView {
	return ProfileView{ID: id, Email: "No email", FirstName: "Unknown", LastName: "User"}
}

func profileView(p store.Profile) ProfileView {
	return ProfileView{ID: p.ID, Email: p.Email, FirstName: p.FirstName, LastName: p.LastName}
}

func resolveProfile(profiles map[string]store.Profile, id string) ProfileView {
	if p, ok := profiles[id]; ok {
		return profileView(p)
	}
	return sentinelProfile(id)
}

// assembleFamily loads the family, its members, its policies, and every
// referenced profile, then merges them app-side. Separate queries instead of
// one join: the service layer is the privilege boundary, and dangling profile
// references must degrade to the sentinel, not break the view.
func (s *Service) assembleFamily(ctx context.Context, familyID string) (FamilyView, error) {
	family, err := s.store.GetFamily(ctx, familyID)
	if err != nil {
		return FamilyView{}, err
	}

	members, err := s.store.ListMembersByFamilyID(ctx, familyID)
	if err != nil {
		return FamilyView{}, err
	}
	policies, err := s.store.ListPoliciesByFamilyID(ctx, familyID)
	if err != nil {
		return FamilyView{}, err
	}

	profileIDs := make([]string, 0, len(members)+len(policies))
	seen := make(map[string]struct{})
	for _, m := range members {
		if _, ok := seen[m.UserID]; !ok {
			seen[m.UserID] = struct{}{}
			profileIDs = append(profileIDs, m.UserID)
		}
	}
	for _, p := range policies {
		if _, ok := seen[p.PolicyHolderID]; !ok {
			seen[p.PolicyHolderID] = struct{}{}
			profileIDs = append(profileIDs, p.PolicyHolderID)
		}
	}

	profiles, err := s.store.ListProfilesByIDs(ctx, profileIDs)
	if err != nil {
		return FamilyView{}, err
	}
	byID := make(map[string]store.Profile, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
	}

	view := FamilyView{
		ID:                  family.ID,
		FamilyName:          family.FamilyName,
		PrimaryContactEmail: family.PrimaryContactEmail,
		CreatedBy:           family.CreatedBy,
		CreatedAt:           family.CreatedAt,
		Members:             make([]MemberView, 0, len(members)),
		Policies:            make([]PolicyView, 0, len(policies)),
	}
	for _, m := range members {
		view.Members = append(view.Members, MemberView{
			ID:           m.ID,
			UserID:       m.UserID,
			Relationship: m.Relationship,
			IsPrimary:    m.IsPrimary,
			JoinedAt:     m.JoinedAt,
			Profile:      resolveProfile(byID, m.UserID),
		})
	}
	for _, p := range policies {
		view.Policies = append(view.Policies, policyView(p, resolveProfile(byID, p.PolicyHolderID)))
	}
	return view, nil
}

func policyView(p store.Policy, holder ProfileView) PolicyView {
	return PolicyView{
		ID:               p.ID,
		FamilyID:         p.FamilyID,
		PolicyHolderID:   p.PolicyHolderID,
		PolicyNumber:     p.PolicyNumber,
		PolicyType:       p.PolicyType,
		InsuranceCompany: p.InsuranceCompany,
		PremiumAmount:    p.PremiumAmount,
		CoverageAmount:   p.CoverageAmount,
		StartDate:        p.StartDate,
		EndDate:          p.EndDate,
		Status:           p.Status,
		CreatedAt:        p.CreatedAt,
		PolicyHolder:     holder,
	}
}

// GetClientFamilyData returns the caller's own family with members and
// policies. A user with no family gets an empty view, not an error.
func (s *Service) GetClientFamilyData(ctx context.Context, session Session, userID string) (map[string]any, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "userId is required", nil)
	}
	if userID != session.UserID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Cannot access another user's family data", nil)
	}

	membership, err := s.store.GetMembershipByUserID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]any{"success": true, "family": nil, "policies": []PolicyView{}}, nil
	}
	if err != nil {
		return nil, err
	}

	family, err := s.assembleFamily(ctx, membership.FamilyID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "family": family, "policies": family.Policies}, nil
}

// GetFamilyDetails is the admin view of any family.
func (s *Service) GetFamilyDetails(ctx context.Context, session Session, familyID string) (map[string]any, error) {
	if err := s.requireAdmin(ctx, session); err != nil {
		return nil, err
	}
	if strings.TrimSpace(familyID) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "familyId is required", nil)
	}

	family, err := s.assembleFamily(ctx, familyID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "family": family}, nil
}

// SearchFamilies matches family name, primary contact email, or member
// identity. Results are deduplicated by family id, carry the full member
// list, and sort newest first.
func (s *Service) SearchFamilies(ctx context.Context, session Session, term string) (map[string]any, error) {
	if err := s.requireAdmin(ctx, session); err != nil {
		return nil, err
	}
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "searchTerm is required", nil)
	}

	ids, err := s.matchFamilyIDs(ctx, term)
	if err != nil {
		return nil, err
	}

	families, err := s.store.ListFamiliesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(families, func(i, j int) bool {
		return families[i].CreatedAt.After(families[j].CreatedAt)
	})

	views, err := s.attachMembers(ctx, families)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "families": views}, nil
}

// matchFamilyIDs runs the configured search index when available and the
// store-level union otherwise.
func (s *Service) matchFamilyIDs(ctx context.Context, term string) ([]string, error) {
	if s.search != nil {
		return s.search.FamilyIDs(ctx, term)
	}

	families, err := s.store.SearchFamilies(ctx, term)
	if err != nil {
		return nil, err
	}
	profiles, err := s.store.SearchProfiles(ctx, term)
	if err != nil {
		return nil, err
	}
	userIDs := make([]string, 0, len(profiles))
	for _, p := range profiles {
		userIDs = append(userIDs, p.ID)
	}
	memberships, err := s.store.ListMembersByUserIDs(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(families)+len(memberships))
	seen := make(map[string]struct{})
	for _, f := range families {
		if _, ok := seen[f.ID]; !ok {
			seen[f.ID] = struct{}{}
			ids = append(ids, f.ID)
		}
	}
	for _, m := range memberships {
		if _, ok := seen[m.FamilyID]; !ok {
			seen[m.FamilyID] = struct{}{}
			ids = append(ids, m.FamilyID)
		}
	}
	return ids, nil
}

// attachMembers builds member-bearing family views without policies, using
// one profile batch for all families.
func (s *Service) attachMembers(ctx context.Context, families []store.Family) ([]FamilyView, error) {
	familyIDs := make([]string, 0, len(families))
	for _, f := range families {
		familyIDs = append(familyIDs, f.ID)
	}
	members, err := s.store.ListMembersByFamilyIDs(ctx, familyIDs)
	if err != nil {
		return nil, err
	}

	profileIDs := make([]string, 0, len(members))
	for _, m := range members {
		profileIDs = append(profileIDs, m.UserID)
	}
	profiles, err := s.store.ListProfilesByIDs(ctx, profileIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]store.Profile, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
	}

	byFamily := make(map[string][]MemberView)
	for _, m := range members {
		byFamily[m.FamilyID] = append(byFamily[m.FamilyID], MemberView{
			ID:           m.ID,
			UserID:       m.UserID,
			Relationship: m.Relationship,
			IsPrimary:    m.IsPrimary,
			JoinedAt:     m.JoinedAt,
			Profile:      resolveProfile(byID, m.UserID),
		})
	}

	views := make([]FamilyView, 0, len(families))
	for _, f := range families {
		memberViews := byFamily[f.ID]
		if memberViews == nil {
			memberViews = []MemberView{}
		}
		views = append(views, FamilyView{
			ID:                  f.ID,
			FamilyName:          f.FamilyName,
			PrimaryContactEmail: f.PrimaryContactEmail,
			CreatedBy:           f.CreatedBy,
			CreatedAt:           f.CreatedAt,
			Members:             memberViews,
			Policies:            []PolicyView{},
		})
	}
	return views, nil
}

// ── Family mutation ──

type CreateFamilyMemberInput struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Relationship string `json:"relationship"`
}

type CreateFamilyInput struct {
	FamilyName   string                    `json:"familyName"`
	PrimaryEmail string                    `json:"primaryEmail"`
	Members      []CreateFamilyMemberInput `json:"members"`
}

type addedMember struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	UserID string `json:"user_id"`
}

type skippedMember struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

// CreateFamily inserts the family and links each listed member whose email
// matches an existing profile. Unmatched members are reported back as
// skipped; partial success is the normal outcome, not an error. The steps
// are deliberately not transactional.
func (s *Service) CreateFamily(ctx context.Context, session Session, input CreateFamilyInput) (map[string]any, error) {
	if err := s.requireAdmin(ctx, session); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.FamilyName) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "familyName is required", nil)
	}
	if strings.TrimSpace(input.PrimaryEmail) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "primaryEmail is required", nil)
	}

	family, err := s.store.InsertFamily(ctx, input.FamilyName, input.PrimaryEmail, session.UserID)
	if err != nil {
		return nil, err
	}

	added := make([]addedMember, 0, len(input.Members))
	skipped := make([]skippedMember, 0)
	for _, m := range input.Members {
		email := strings.TrimSpace(m.Email)
		if email == "" {
			skipped = append(skipped, skippedMember{Name: m.Name, Email: m.Email, Reason: "no email provided"})
			continue
		}

		profile, err := s.store.GetProfileByEmail(ctx, email)
		if errors.Is(err, sql.ErrNoRows) {
			skipped = append(skipped, skippedMember{Name: m.Name, Email: email, Reason: "no profile with this email"})
			continue
		}
		if err != nil {
			skipped = append(skipped, skippedMember{Name: m.Name, Email: email, Reason: "profile lookup failed"})
			continue
		}

		var relationship *string
		if r := strings.TrimSpace(m.Relationship); r != "" {
			relationship = &r
		}
		member := store.FamilyMember{
			FamilyID:     family.ID,
			UserID:       profile.ID,
			Relationship: relationship,
			IsPrimary:    strings.EqualFold(email, input.PrimaryEmail),
		}
		if err := s.store.InsertFamilyMember(ctx, member); err != nil {
			skipped = append(skipped, skippedMember{Name: m.Name, Email: email, Reason: "could not add member"})
			continue
		}
		added = append(added, addedMember{Name: m.Name, Email: email, UserID: profile.ID})
	}

	s.indexFamily(ctx, family.ID)

	return map[string]any{
		"success":        true,
		"family":         family,
		"addedMembers":   added,
		"skippedMembers": skipped,
	}, nil
}

type AddFamilyMemberInput struct {
	FamilyID     string `json:"familyId"`
	Email        string `json:"email"`
	Relationship string `json:"relationship"`
	IsPrimary    bool   `json:"isPrimary"`
}

func (s *Service) AddFamilyMember(ctx context.Context, session Session, input AddFamilyMemberInput) (map[string]any, error) {
	if err := s.requireAdmin(ctx, session); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.FamilyID) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "familyId is required", nil)
	}
	if strings.TrimSpace(input.Email) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "email is required", nil)
	}

	if _, err := s.store.GetFamily(ctx, input.FamilyID); err != nil {
		return nil, err
	}
	profile, err := s.store.GetProfileByEmail(ctx, input.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "No profile with this email", nil)
	}
	if err != nil {
		return nil, err
	}

	var relationship *string
	if r := strings.TrimSpace(input.Relationship); r != "" {
		relationship = &r
	}
	member := store.FamilyMember{
		FamilyID:     input.FamilyID,
		UserID:       profile.ID,
		Relationship: relationship,
		IsPrimary:    input.IsPrimary,
	}
	if err := s.store.InsertFamilyMember(ctx, member); err != nil {
		return nil, err
	}

	s.indexFamily(ctx, input.FamilyID)

	return map[string]any{
		"success": true,
		"member": MemberView{
			UserID:       profile.ID,
			Relationship: relationship,
			IsPrimary:    input.IsPrimary,
			Profile:      profileView(profile),
		},
	}, nil
}

func (s *Service) RemoveFamilyMember(ctx context.Context, session Session, memberID string) (map[string]any, error) {
	if err := s.requireAdmin(ctx, session); err != nil {
		return nil, err
	}
	if strings.TrimSpace(memberID) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "memberId is required", nil)
	}
	if err := s.store.DeleteFamilyMember(ctx, memberID); err != nil {
		return nil, err
	}
	return map[string]any{"success": true}, nil
}

// indexFamily pushes the family's current searchable record. Fire-and-forget
// into the search facade; failures only log.
func (s *Service) indexFamily(ctx context.Context, familyID string) {
	if s.search == nil {
		return
	}
	family, err := s.store.GetFamily(ctx, familyID)
	if err != nil {
		return
	}
	members, err := s.store.ListMembersByFamilyID(ctx, familyID)
	if err != nil {
		return
	}
	profileIDs := make([]string, 0, len(members))
	for _, m := range members {
		profileIDs = append(profileIDs, m.UserID)
	}
	profiles, err := s.store.ListProfilesByIDs(ctx, profileIDs)
	if err != nil {
		return
	}

	flattened := make([]string, 0, len(profiles)*2)
	for _, p := range profiles {
		flattened = append(flattened, strings.TrimSpace(p.FirstName+" "+p.LastName), p.Email)
	}
	s.search.IndexFamily(search.FamilyRecord{
		ID:                  family.ID,
		FamilyName:          family.FamilyName,
		PrimaryContactEmail: family.PrimaryContactEmail,
		Members:             flattened,
		CreatedAtUnix:       family.CreatedAt.Unix(),
	})
}

// ── Export ──

// ExportFamilySummary assembles the family view and prints it to PDF.
func (s *Service) ExportFamilySummary(ctx context.Context, session Session, familyID string) (*export.Result, error) {
	if err := s.requireAdmin(ctx, session); err != nil {
		return nil, err
	}
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not configured", nil)
	}
	if strings.TrimSpace(familyID) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "familyId is required", nil)
	}

	family, err := s.assembleFamily(ctx, familyID)
	if err != nil {
		return nil, err
	}

	summary := export.Summary{
		FamilyName:          family.FamilyName,
		PrimaryContactEmail: family.PrimaryContactEmail,
		GeneratedAt:         time.Now(),
		Members:             make([]export.SummaryMember, 0, len(family.Members)),
		Policies:            make([]export.SummaryPolicy, 0, len(family.Policies)),
	}
	for _, m := range family.Members {
		relationship := ""
		if m.Relationship != nil {
			relationship = *m.Relationship
		}
		summary.Members = append(summary.Members, export.SummaryMember{
			Name:         strings.TrimSpace(m.Profile.FirstName + " " + m.Profile.LastName),
			Email:        m.Profile.Email,
			Relationship: relationship,
			IsPrimary:    m.IsPrimary,
		})
	}
	for _, p := range family.Policies {
		number := ""
		if p.PolicyNumber != nil {
			number = *p.PolicyNumber
		}
		company := ""
		if p.InsuranceCompany != nil {
			company = *p.InsuranceCompany
		}
		summary.Policies = append(summary.Policies, export.SummaryPolicy{
			PolicyType:       p.PolicyType,
			PolicyNumber:     number,
			InsuranceCompany: company,
			Status:           p.Status,
			HolderName:       strings.TrimSpace(p.PolicyHolder.FirstName + " " + p.PolicyHolder.LastName),
			PremiumAmount:    p.PremiumAmount,
			CoverageAmount:   p.CoverageAmount,
		})
	}

	return s.exporter.ExportSummary(summary)
}
