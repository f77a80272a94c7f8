package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"kinsure/api/internal/store"
)

var allowedRequestTypes = map[string]struct{}{
	"new_policy":    {},
	"edit_policy":   {},
	"delete_policy": {},
}

var allowedDecisions = map[string]struct{}{
	"approved": {},
	"rejected": {},
}

// policyPayload is the policy shape carried inside a request's opaque data.
// Status is deliberately absent: approval always materializes an active
// policy, whatever the payload claims.
type policyPayload struct {
	PolicyHolderID   string   `json:"policy_holder_id"`
	PolicyNumber     *string  `json:"policy_number"`
	PolicyType       string   `json:"policy_type"`
	InsuranceCompany *string  `json:"insurance_company"`
	PremiumAmount    *float64 `json:"premium_amount"`
	CoverageAmount   *float64 `json:"coverage_amount"`
	StartDate        *string  `json:"start_date"`
	EndDate          *string  `json:"end_date"`
}

type PolicyRequestView struct {
	ID          string          `json:"id"`
	FamilyID    string          `json:"family_id"`
	FamilyName  string          `json:"family_name,omitempty"`
	RequestedBy string          `json:"requested_by"`
	Requester   *ProfileView    `json:"requester,omitempty"`
	RequestType string          `json:"request_type"`
	PolicyID    *string         `json:"policy_id"`
	RequestData json.RawMessage `json:"request_data"`
	Status      string          `json:"status"`
	AdminNotes  *string         `json:"admin_notes"`
	ReviewedBy  *string         `json:"reviewed_by"`
	ReviewedAt  *time.Time      `json:"reviewed_at"`
	CreatedAt   time.Time       `json:"created_at"`
}

func requestView(r store.PolicyRequest) PolicyRequestView {
	return PolicyRequestView{
		ID:          r.ID,
		FamilyID:    r.FamilyID,
		RequestedBy: r.RequestedBy,
		RequestType: r.RequestType,
		PolicyID:    r.PolicyID,
		RequestData: r.RequestData,
		Status:      r.Status,
		AdminNotes:  r.AdminNotes,
		ReviewedBy:  r.ReviewedBy,
		ReviewedAt:  r.ReviewedAt,
		CreatedAt:   r.CreatedAt,
	}
}

type SubmitPolicyRequestInput struct {
	RequestType string          `json:"requestType"`
	FamilyID    string          `json:"familyId"`
	PolicyID    string          `json:"policyId"`
	RequestData json.RawMessage `json:"requestData"`
}

// SubmitPolicyRequest records a client-proposed change as pending. The
// payload is stored opaquely; only the fields the workflow depends on are
// validated here.
func (s *Service) SubmitPolicyRequest(ctx context.Context, session Session, input SubmitPolicyRequestInput) (map[string]any, error) {
	if _, ok := allowedRequestTypes[input.RequestType]; !ok {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "requestType must be new_policy, edit_policy, or delete_policy", nil)
	}
	if strings.TrimSpace(input.FamilyID) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "familyId is required", nil)
	}
	if input.RequestType != "new_policy" && strings.TrimSpace(input.PolicyID) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "policyId is required for edit and delete requests", nil)
	}
	if input.RequestType != "delete_policy" {
		var payload policyPayload
		if err := json.Unmarshal(input.RequestData, &payload); err != nil || strings.TrimSpace(payload.PolicyHolderID) == "" {
			return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "requestData must include policy_holder_id", nil)
		}
	}

	// Clients may only file requests against their own family.
	if !session.IsAdmin {
		membership, err := s.store.GetMembershipByUserID(ctx, session.UserID)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && membership.FamilyID != input.FamilyID) {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Cannot submit requests for another family", nil)
		}
		if err != nil {
			return nil, err
		}
	}

	var policyID *string
	if trimmed := strings.TrimSpace(input.PolicyID); trimmed != "" {
		policyID = &trimmed
	}
	data := input.RequestData
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}

	request, err := s.store.InsertPolicyRequest(ctx, store.PolicyRequest{
		FamilyID:    input.FamilyID,
		RequestedBy: session.UserID,
		RequestType: input.RequestType,
		PolicyID:    policyID,
		RequestData: data,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "request": requestView(request)}, nil
}

// ListPolicyRequests returns every request, newest first, with the requester
// profile and family name joined app-side.
func (s *Service) ListPolicyRequests(ctx context.Context, session Session) (map[string]any, error) {
	if err := s.requireAdmin(ctx, session); err != nil {
		return nil, err
	}

	requests, err := s.store.ListPolicyRequests(ctx)
	if err != nil {
		return nil, err
	}

	requesterIDs := make([]string, 0, len(requests))
	familyIDs := make([]string, 0, len(requests))
	seenUsers := make(map[string]struct{})
	seenFamilies := make(map[string]struct{})
	for _, r := range requests {
		if _, ok := seenUsers[r.RequestedBy]; !ok {
			seenUsers[r.RequestedBy] = struct{}{}
			requesterIDs = append(requesterIDs, r.RequestedBy)
		}
		if _, ok := seenFamilies[r.FamilyID]; !ok {
			seenFamilies[r.FamilyID] = struct{}{}
			familyIDs = append(familyIDs, r.FamilyID)
		}
	}

	profiles, err := s.store.ListProfilesByIDs(ctx, requesterIDs)
	if err != nil {
		return nil, err
	}
	profilesByID := make(map[string]store.Profile, len(profiles))
	for _, p := range profiles {
		profilesByID[p.ID] = p
	}
	families, err := s.store.ListFamiliesByIDs(ctx, familyIDs)
	if err != nil {
		return nil, err
	}
	familyNames := make(map[string]string, len(families))
	for _, f := range families {
		familyNames[f.ID] = f.FamilyName
	}

	views := make([]PolicyRequestView, 0, len(requests))
	for _, r := range requests {
		view := requestView(r)
		requester := resolveProfile(profilesByID, r.RequestedBy)
		view.Requester = &requester
		view.FamilyName = familyNames[r.FamilyID]
		views = append(views, view)
	}
	return map[string]any{"success": true, "requests": views}, nil
}

type ReviewPolicyRequestInput struct {
	RequestID  string `json:"requestId"`
	Decision   string `json:"decision"`
	AdminNotes string `json:"adminNotes"`
}

// ReviewPolicyRequest transitions a pending request to approved or rejected.
// The transition is a status-guarded UPDATE: whichever review lands first
// wins, and the loser gets 409. Approving a new_policy request materializes
// an active policy from the stored payload; approved edits and deletes do
// not touch the target policy.
func (s *Service) ReviewPolicyRequest(ctx context.Context, session Session, input ReviewPolicyRequestInput) (map[string]any, error) {
	if err := s.requireAdmin(ctx, session); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.RequestID) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "requestId is required", nil)
	}
	if _, ok := allowedDecisions[input.Decision]; !ok {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "decision must be approved or rejected", nil)
	}

	request, err := s.store.GetPolicyRequest(ctx, input.RequestID)
	if err != nil {
		return nil, err
	}

	// Parse the payload before transitioning so a malformed new_policy
	// request fails the review instead of being approved with no policy.
	var payload policyPayload
	materialize := input.Decision == "approved" && request.RequestType == "new_policy"
	if materialize {
		if err := json.Unmarshal(request.RequestData, &payload); err != nil || strings.TrimSpace(payload.PolicyHolderID) == "" || strings.TrimSpace(payload.PolicyType) == "" {
			return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "request payload is missing policy_holder_id or policy_type", nil)
		}
	}

	reviewedAt := time.Now()
	transitioned, err := s.store.ReviewPolicyRequest(ctx, input.RequestID, input.Decision, input.AdminNotes, session.UserID, reviewedAt)
	if err != nil {
		return nil, err
	}
	if !transitioned {
		return nil, domainError(http.StatusConflict, "CONFLICT", "Request has already been reviewed", nil)
	}

	response := map[string]any{"success": true}

	if materialize {
		policy, err := s.store.InsertPolicy(ctx, store.Policy{
			FamilyID:         request.FamilyID,
			PolicyHolderID:   payload.PolicyHolderID,
			PolicyNumber:     payload.PolicyNumber,
			PolicyType:       payload.PolicyType,
			InsuranceCompany: payload.InsuranceCompany,
			PremiumAmount:    payload.PremiumAmount,
			CoverageAmount:   payload.CoverageAmount,
			StartDate:        payload.StartDate,
			EndDate:          payload.EndDate,
			Status:           "active",
		})
		if err != nil {
			// The request is already approved at this point; surface the
			// failure rather than pretending a policy exists.
			log.Printf("app: materialize policy for request %s: %v", request.ID, err)
			return nil, err
		}
		response["policy"] = policy
	}

	updated, err := s.store.GetPolicyRequest(ctx, input.RequestID)
	if err != nil {
		return nil, err
	}
	response["request"] = requestView(updated)

	s.notifyRequester(ctx, updated)

	return response, nil
}

// notifyRequester emails the requester about the decision. Best-effort: a
// missing mailer, unknown profile, or SMTP failure never affects the review.
func (s *Service) notifyRequester(ctx context.Context, request store.PolicyRequest) {
	if s.mailer == nil || !s.mailer.IsConfigured() {
		return
	}
	profile, err := s.store.GetProfile(ctx, request.RequestedBy)
	if err != nil {
		log.Printf("app: notify requester %s: %v", request.RequestedBy, err)
		return
	}
	notes := ""
	if request.AdminNotes != nil {
		notes = *request.AdminNotes
	}
	go func() {
		if err := s.mailer.SendRequestDecisionEmail(profile.Email, profileName(profile), request.RequestType, request.Status, notes); err != nil {
			log.Printf("app: send decision email to %s: %v", profile.Email, err)
		}
	}()
}
