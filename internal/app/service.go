// Package app is the service layer and HTTP surface of the portal: session
// handling, the admin guard, family assembly, the policy-request workflow,
// and direct admin mutation of families, policies, and users.
package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"kinsure/api/internal/allowlist"
	"kinsure/api/internal/auth"
	"kinsure/api/internal/config"
	"kinsure/api/internal/export"
	"kinsure/api/internal/identity"
	"kinsure/api/internal/search"
	"kinsure/api/internal/store"
)

// Session is the resolved caller identity for one request.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	Name         string
	IsAdmin      bool
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error

	UpsertProfile(context.Context, store.Profile) error
	GetProfile(context.Context, string) (store.Profile, error)
	GetProfileByEmail(context.Context, string) (store.Profile, error)
	ListProfilesByIDs(context.Context, []string) ([]store.Profile, error)
	SearchProfiles(context.Context, string) ([]store.Profile, error)

	EnsureAdminUser(context.Context, string, string) error

	InsertFamily(context.Context, string, string, string) (store.Family, error)
	GetFamily(context.Context, string) (store.Family, error)
	SearchFamilies(context.Context, string) ([]store.Family, error)
	ListFamiliesByIDs(context.Context, []string) ([]store.Family, error)

	GetMembershipByUserID(context.Context, string) (store.FamilyMember, error)
	ListMembersByFamilyID(context.Context, string) ([]store.FamilyMember, error)
	ListMembersByFamilyIDs(context.Context, []string) ([]store.FamilyMember, error)
	ListMembersByUserIDs(context.Context, []string) ([]store.FamilyMember, error)
	InsertFamilyMember(context.Context, store.FamilyMember) error
	DeleteFamilyMember(context.Context, string) error

	InsertPolicy(context.Context, store.Policy) (store.Policy, error)
	GetPolicy(context.Context, string) (store.Policy, error)
	ListPoliciesByFamilyID(context.Context, string) ([]store.Policy, error)
	UpdatePolicy(context.Context, store.Policy) error
	DeletePolicy(context.Context, string) error

	InsertPolicyRequest(context.Context, store.PolicyRequest) (store.PolicyRequest, error)
	GetPolicyRequest(context.Context, string) (store.PolicyRequest, error)
	ListPolicyRequests(context.Context) ([]store.PolicyRequest, error)
	ReviewPolicyRequest(context.Context, string, string, string, string, time.Time) (bool, error)
}

// sessionStore holds refresh-token sessions. Redis when configured, the
// refresh_sessions table otherwise.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type identityProvider interface {
	CreateAccount(ctx context.Context, email, password string) (store.Account, error)
	Authenticate(ctx context.Context, email, password string) (store.Account, error)
}

type familySearcher interface {
	FamilyIDs(ctx context.Context, term string) ([]string, error)
	IndexFamily(record search.FamilyRecord)
	DeleteFamily(id string)
}

type mailer interface {
	IsConfigured() bool
	SendRequestDecisionEmail(to, userName, requestType, decision, adminNotes string) error
	SendWelcomeEmail(to, userName string) error
}

type summaryExporter interface {
	ExportSummary(summary export.Summary) (*export.Result, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	identity identityProvider
	admins   allowlist.List

	// Optional collaborators; nil disables the feature.
	search   familySearcher
	mailer   mailer
	exporter summaryExporter
}

func New(cfg config.Config, dataStore dataStore, sessions sessionStore, identity identityProvider, admins allowlist.List) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		identity: identity,
		admins:   admins,
	}
}

// AttachSearch wires the Meilisearch-backed family search. Without it the
// service falls back to store-level ILIKE matching.
func (s *Service) AttachSearch(searcher familySearcher) {
	s.search = searcher
}

// AttachMailer enables best-effort notification emails.
func (s *Service) AttachMailer(m mailer) {
	s.mailer = m
}

// AttachExporter enables family summary PDF export.
func (s *Service) AttachExporter(e summaryExporter) {
	s.exporter = e
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ── Sessions ──

// SignIn authenticates against the identity provider and issues a token pair.
func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	account, err := s.identity.Authenticate(ctx, email, password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Invalid email or password", nil)
		}
		return Session{}, err
	}

	name := displayName(ctx, s.store, account.ID, account.Email)
	return s.issueSession(ctx, account.ID, account.Email, name)
}

// Refresh rotates a refresh token: the old session is revoked and a new pair
// issued for the same identity.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}

	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, profile.ID, profile.Email, profileName(profile))
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (s *Service) issueSession(ctx context.Context, userID, email, name string) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := newID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		UserID: userID,
		Email:  email,
		Name:   name,
		JTI:    jti,
		Exp:    expiresAt,
	})
	if err != nil {
		return Session{}, err
	}

	refresh := newToken()
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), userID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       userID,
		Email:        email,
		Name:         name,
		IsAdmin:      s.admins.Contains(email),
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken resolves the caller from a bearer token. Claims are
// self-contained; no store round trip is needed here.
func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.UserID,
		Email:     claims.Email,
		Name:      claims.Name,
		IsAdmin:   s.admins.Contains(claims.Email),
		JTI:       claims.JTI,
		ExpiresAt: claims.Exp,
	}, nil
}

// ── Admin guard ──

// requireAdmin gates admin operations on the allow-list. The first admin call
// for an identity records it in admin_users; that write is best-effort and
// never fails the request.
func (s *Service) requireAdmin(ctx context.Context, session Session) error {
	if !session.IsAdmin {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Admin access required", nil)
	}
	adminName, _ := s.admins.Lookup(session.Email)
	if err := s.store.EnsureAdminUser(ctx, session.UserID, adminName); err != nil {
		log.Printf("app: ensure admin user %s: %v", session.UserID, err)
	}
	return nil
}

// ── Helpers ──

func displayName(ctx context.Context, st dataStore, userID, email string) string {
	profile, err := st.GetProfile(ctx, userID)
	if err == nil {
		return profileName(profile)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		log.Printf("app: load profile %s: %v", userID, err)
	}
	local, _, _ := strings.Cut(email, "@")
	return local
}

func profileName(profile store.Profile) string {
	name := strings.TrimSpace(profile.FirstName + " " + profile.LastName)
	if name == "" {
		local, _, _ := strings.Cut(profile.Email, "@")
		return local
	}
	return name
}

func newID(prefix string) string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	if prefix == "" {
		return hex.EncodeToString(buf)
	}
	return prefix + "_" + hex.EncodeToString(buf)
}

// newToken returns a high-entropy opaque refresh token.
func newToken() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
