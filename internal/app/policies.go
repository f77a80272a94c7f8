package app

import (
	"context"
	"net/http"
	"strings"

	"kinsure/api/internal/store"
)

var allowedPolicyStatuses = map[string]struct{}{
	"active":   {},
	"inactive": {},
	"pending":  {},
}

type CreatePolicyInput struct {
	FamilyID         string   `json:"family_id"`
	PolicyHolderID   string   `json:"policy_holder_id"`
	PolicyNumber     *string  `json:"policy_number"`
	PolicyType       string   `json:"policy_type"`
	InsuranceCompany *string  `json:"insurance_company"`
	PremiumAmount    *float64 `json:"premium_amount"`
	CoverageAmount   *float64 `json:"coverage_amount"`
	StartDate        *string  `json:"start_date"`
	EndDate          *string  `json:"end_date"`
	Status           string   `json:"status"`
}

// CreatePolicy inserts a policy directly, outside the request workflow.
func (s *Service) CreatePolicy(ctx context.Context, session Session, input CreatePolicyInput) (map[string]any, error) {
	if err := s.requireAdmin(ctx, session); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.FamilyID) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "family_id is required", nil)
	}
	if strings.TrimSpace(input.PolicyHolderID) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "policy_holder_id is required", nil)
	}
	if strings.TrimSpace(input.PolicyType) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "policy_type is required", nil)
	}
	status := input.Status
	if status == "" {
		status = "pending"
	}
	if _, ok := allowedPolicyStatuses[status]; !ok {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "status must be active, inactive, or pending", nil)
	}

	if _, err := s.store.GetFamily(ctx, input.FamilyID); err != nil {
		return nil, err
	}

	policy, err := s.store.InsertPolicy(ctx, store.Policy{
		FamilyID:         input.FamilyID,
		PolicyHolderID:   input.PolicyHolderID,
		PolicyNumber:     input.PolicyNumber,
		PolicyType:       input.PolicyType,
		InsuranceCompany: input.InsuranceCompany,
		PremiumAmount:    input.PremiumAmount,
		CoverageAmount:   input.CoverageAmount,
		StartDate:        input.StartDate,
		EndDate:          input.EndDate,
		Status:           status,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "policy": policy}, nil
}

type UpdatePolicyInput struct {
	PolicyID         string   `json:"policy_id"`
	PolicyHolderID   *string  `json:"policy_holder_id"`
	PolicyNumber     *string  `json:"policy_number"`
	PolicyType       *string  `json:"policy_type"`
	InsuranceCompany *string  `json:"insurance_company"`
	PremiumAmount    *float64 `json:"premium_amount"`
	CoverageAmount   *float64 `json:"coverage_amount"`
	StartDate        *string  `json:"start_date"`
	EndDate          *string  `json:"end_date"`
	Status           *string  `json:"status"`
}

// UpdatePolicy applies the provided fields over the stored policy. Absent
// fields keep their current values.
func (s *Service) UpdatePolicy(ctx context.Context, session Session, input UpdatePolicyInput) (map[string]any, error) {
	if err := s.requireAdmin(ctx, session); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.PolicyID) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "policy_id is required", nil)
	}

	policy, err := s.store.GetPolicy(ctx, input.PolicyID)
	if err != nil {
		return nil, err
	}

	if input.PolicyHolderID != nil {
		policy.PolicyHolderID = *input.PolicyHolderID
	}
	if input.PolicyNumber != nil {
		policy.PolicyNumber = input.PolicyNumber
	}
	if input.PolicyType != nil {
		policy.PolicyType = *input.PolicyType
	}
	if input.InsuranceCompany != nil {
		policy.InsuranceCompany = input.InsuranceCompany
	}
	if input.PremiumAmount != nil {
		policy.PremiumAmount = input.PremiumAmount
	}
	if input.CoverageAmount != nil {
		policy.CoverageAmount = input.CoverageAmount
	}
	if input.StartDate != nil {
		policy.StartDate = input.StartDate
	}
	if input.EndDate != nil {
		policy.EndDate = input.EndDate
	}
	if input.Status != nil {
		if _, ok := allowedPolicyStatuses[*input.Status]; !ok {
			return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "status must be active, inactive, or pending", nil)
		}
		policy.Status = *input.Status
	}

	if err := s.store.UpdatePolicy(ctx, policy); err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "policy": policy}, nil
}

func (s *Service) DeletePolicy(ctx context.Context, session Session, policyID string) (map[string]any, error) {
	if err := s.requireAdmin(ctx, session); err != nil {
		return nil, err
	}
	if strings.TrimSpace(policyID) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "policy_id is required", nil)
	}
	if err := s.store.DeletePolicy(ctx, policyID); err != nil {
		return nil, err
	}
	return map[string]any{"success": true}, nil
}
