// Package identity provides email/password accounts: the in-process
// equivalent of the hosted identity provider the portal delegates to.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"kinsure/api/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidEmail       = errors.New("a valid email is required")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

// AccountStore defines the storage interface for identity accounts.
type AccountStore interface {
	CreateAccount(ctx context.Context, email, passwordHash string) (store.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (store.Account, error)
}

type Service struct {
	store AccountStore
}

func NewService(accountStore AccountStore) *Service {
	return &Service{store: accountStore}
}

// CreateAccount is the admin account-creation primitive. The caller is
// responsible for mirroring the account into a profile row.
func (s *Service) CreateAccount(ctx context.Context, email, password string) (store.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return store.Account{}, ErrInvalidEmail
	}
	if len(password) < 8 {
		return store.Account{}, ErrWeakPassword
	}

	if _, err := s.store.GetAccountByEmail(ctx, email); err == nil {
		return store.Account{}, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return store.Account{}, fmt.Errorf("hash password: %w", err)
	}

	account, err := s.store.CreateAccount(ctx, email, string(hash))
	if err != nil {
		return store.Account{}, fmt.Errorf("create account: %w", err)
	}
	return account, nil
}

// Authenticate verifies an email/password pair and returns the account.
func (s *Service) Authenticate(ctx context.Context, email, password string) (store.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return store.Account{}, ErrInvalidCredentials
	}

	account, err := s.store.GetAccountByEmail(ctx, email)
	if err != nil {
		return store.Account{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return store.Account{}, ErrInvalidCredentials
	}
	return account, nil
}
