package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"kinsure/api/internal/identity"
	"kinsure/api/internal/store"
)

type CreateUserInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// CreateUser provisions an identity account and mirrors it into a profile.
// Profile upsert failure is logged but does not undo the account, matching
// the partial-success policy of the rest of the admin surface.
func (s *Service) CreateUser(ctx context.Context, session Session, input CreateUserInput) (map[string]any, error) {
	if err := s.requireAdmin(ctx, session); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Email) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "email is required", nil)
	}
	if input.Password == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "password is required", nil)
	}
	if strings.TrimSpace(input.FirstName) == "" || strings.TrimSpace(input.LastName) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "firstName and lastName are required", nil)
	}

	account, err := s.identity.CreateAccount(ctx, input.Email, input.Password)
	if err != nil {
		if errors.Is(err, identity.ErrEmailTaken) {
			return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "An account with this email already exists", nil)
		}
		if errors.Is(err, identity.ErrWeakPassword) || errors.Is(err, identity.ErrInvalidEmail) {
			return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		}
		return nil, err
	}

	profile := store.Profile{
		ID:        account.ID,
		Email:     account.Email,
		FirstName: strings.TrimSpace(input.FirstName),
		LastName:  strings.TrimSpace(input.LastName),
	}
	if err := s.store.UpsertProfile(ctx, profile); err != nil {
		log.Printf("app: upsert profile for account %s: %v", account.ID, err)
	}

	if s.mailer != nil && s.mailer.IsConfigured() {
		go func() {
			if err := s.mailer.SendWelcomeEmail(account.Email, profileName(profile)); err != nil {
				log.Printf("app: send welcome email to %s: %v", account.Email, err)
			}
		}()
	}

	return map[string]any{
		"success": true,
		"user": ProfileView{
			ID:        account.ID,
			Email:     account.Email,
			FirstName: profile.FirstName,
			LastName:  profile.LastName,
		},
	}, nil
}
