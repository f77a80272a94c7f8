package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ── Accounts (identity provider) ──

func (s *PostgresStore) CreateAccount(ctx context.Context, email, passwordHash string) (Account, error) {
	var account Account
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO accounts (email, password_hash)
		VALUES (LOWER($1), $2)
		RETURNING id, email, password_hash, created_at
	`, email, passwordHash).Scan(&account.ID, &account.Email, &account.PasswordHash, &account.CreatedAt)
	if err != nil {
		return Account{}, fmt.Errorf("insert account: %w", err)
	}
	return account, nil
}

func (s *PostgresStore) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	var account Account
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at
		FROM accounts
		WHERE email = LOWER($1)
	`, email).Scan(&account.ID, &account.Email, &account.PasswordHash, &account.CreatedAt)
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

// ── Profiles ──

func (s *PostgresStore) UpsertProfile(ctx context.Context, profile Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, email, first_name, last_name)
		VALUES ($1, LOWER($2), $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			updated_at = NOW()
	`, profile.ID, profile.Email, profile.FirstName, profile.LastName)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, id string) (Profile, error) {
	var p Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, first_name, last_name, created_at, updated_at
		FROM profiles
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Email, &p.FirstName, &p.LastName, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (s *PostgresStore) GetProfileByEmail(ctx context.Context, email string) (Profile, error) {
	var p Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, first_name, last_name, created_at, updated_at
		FROM profiles
		WHERE email = LOWER($1)
	`, email).Scan(&p.ID, &p.Email, &p.FirstName, &p.LastName, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (s *PostgresStore) ListProfilesByIDs(ctx context.Context, ids []string) ([]Profile, error) {
	if len(ids) == 0 {
		return []Profile{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, first_name, last_name, created_at, updated_at
		FROM profiles
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	items := make([]Profile, 0, len(ids))
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.Email, &p.FirstName, &p.LastName, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return items, nil
}

// SearchProfiles matches first name, last name, or email against a
// case-insensitive substring.
func (s *PostgresStore) SearchProfiles(ctx context.Context, term string) ([]Profile, error) {
	pattern := "%" + term + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, first_name, last_name, created_at, updated_at
		FROM profiles
		WHERE first_name ILIKE $1 OR last_name ILIKE $1 OR email ILIKE $1
	`, pattern)
	if err != nil {
		return nil, fmt.Errorf("search profiles: %w", err)
	}
	defer rows.Close()

	items := make([]Profile, 0)
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.Email, &p.FirstName, &p.LastName, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return items, nil
}

// ── Admin users ──

// EnsureAdminUser lazily records an allow-listed identity as an admin. The
// unique constraint on user_id makes repeat calls a no-op.
func (s *PostgresStore) EnsureAdminUser(ctx context.Context, userID, adminName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admin_users (user_id, admin_name)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, adminName)
	if err != nil {
		return fmt.Errorf("ensure admin user: %w", err)
	}
	return nil
}

// ── Families ──

func (s *PostgresStore) InsertFamily(ctx context.Context, familyName, primaryEmail, createdBy string) (Family, error) {
	var f Family
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO families (family_name, primary_contact_email, created_by)
		VALUES ($1, LOWER($2), $3)
		RETURNING id, family_name, primary_contact_email, created_by, created_at, updated_at
	`, familyName, primaryEmail, createdBy).Scan(&f.ID, &f.FamilyName, &f.PrimaryContactEmail, &f.CreatedBy, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return Family{}, fmt.Errorf("insert family: %w", err)
	}
	return f, nil
}

func (s *PostgresStore) GetFamily(ctx context.Context, familyID string) (Family, error) {
	var f Family
	err := s.db.QueryRowContext(ctx, `
		SELECT id, family_name, primary_contact_email, created_by, created_at, updated_at
		FROM families
		WHERE id = $1
	`, familyID).Scan(&f.ID, &f.FamilyName, &f.PrimaryContactEmail, &f.CreatedBy, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return Family{}, err
	}
	return f, nil
}

// SearchFamilies matches family name or primary contact email against a
// case-insensitive substring, newest first.
func (s *PostgresStore) SearchFamilies(ctx context.Context, term string) ([]Family, error) {
	pattern := "%" + term + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, family_name, primary_contact_email, created_by, created_at, updated_at
		FROM families
		WHERE family_name ILIKE $1 OR primary_contact_email ILIKE $1
		ORDER BY created_at DESC
	`, pattern)
	if err != nil {
		return nil, fmt.Errorf("search families: %w", err)
	}
	defer rows.Close()
	return scanFamilies(rows)
}

func (s *PostgresStore) ListFamiliesByIDs(ctx context.Context, ids []string) ([]Family, error) {
	if len(ids) == 0 {
		return []Family{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, family_name, primary_contact_email, created_by, created_at, updated_at
		FROM families
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("list families: %w", err)
	}
	defer rows.Close()
	return scanFamilies(rows)
}

func scanFamilies(rows *sql.Rows) ([]Family, error) {
	items := make([]Family, 0)
	for rows.Next() {
		var f Family
		if err := rows.Scan(&f.ID, &f.FamilyName, &f.PrimaryContactEmail, &f.CreatedBy, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan family: %w", err)
		}
		items = append(items, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate families: %w", err)
	}
	return items, nil
}

// ── Family members ──

// GetMembershipByUserID returns sql.ErrNoRows when the user belongs to no
// family. Membership is unique per user.
func (s *PostgresStore) GetMembershipByUserID(ctx context.Context, userID string) (FamilyMember, error) {
	var m FamilyMember
	err := s.db.QueryRowContext(ctx, `
		SELECT id, family_id, user_id, relationship, is_primary, joined_at
		FROM family_members
		WHERE user_id = $1
	`, userID).Scan(&m.ID, &m.FamilyID, &m.UserID, &m.Relationship, &m.IsPrimary, &m.JoinedAt)
	if err != nil {
		return FamilyMember{}, err
	}
	return m, nil
}

func (s *PostgresStore) ListMembersByFamilyID(ctx context.Context, familyID string) ([]FamilyMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, family_id, user_id, relationship, is_primary, joined_at
		FROM family_members
		WHERE family_id = $1
		ORDER BY is_primary DESC, joined_at ASC
	`, familyID)
	if err != nil {
		return nil, fmt.Errorf("list family members: %w", err)
	}
	defer rows.Close()
	return scanMembers(rows)
}

func (s *PostgresStore) ListMembersByFamilyIDs(ctx context.Context, familyIDs []string) ([]FamilyMember, error) {
	if len(familyIDs) == 0 {
		return []FamilyMember{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, family_id, user_id, relationship, is_primary, joined_at
		FROM family_members
		WHERE family_id = ANY($1)
		ORDER BY is_primary DESC, joined_at ASC
	`, familyIDs)
	if err != nil {
		return nil, fmt.Errorf("list family members: %w", err)
	}
	defer rows.Close()
	return scanMembers(rows)
}

func (s *PostgresStore) ListMembersByUserIDs(ctx context.Context, userIDs []string) ([]FamilyMember, error) {
	if len(userIDs) == 0 {
		return []FamilyMember{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, family_id, user_id, relationship, is_primary, joined_at
		FROM family_members
		WHERE user_id = ANY($1)
	`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()
	return scanMembers(rows)
}

func scanMembers(rows *sql.Rows) ([]FamilyMember, error) {
	items := make([]FamilyMember, 0)
	for rows.Next() {
		var m FamilyMember
		if err := rows.Scan(&m.ID, &m.FamilyID, &m.UserID, &m.Relationship, &m.IsPrimary, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan family member: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate family members: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertFamilyMember(ctx context.Context, member FamilyMember) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO family_members (family_id, user_id, relationship, is_primary)
		VALUES ($1, $2, $3, $4)
	`, member.FamilyID, member.UserID, member.Relationship, member.IsPrimary)
	if err != nil {
		return fmt.Errorf("insert family member: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteFamilyMember(ctx context.Context, memberID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM family_members WHERE id = $1`, memberID)
	if err != nil {
		return fmt.Errorf("delete family member: %w", err)
	}
	return nil
}

// ── Policies ──

func (s *PostgresStore) InsertPolicy(ctx context.Context, policy Policy) (Policy, error) {
	var inserted Policy
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO policies (family_id, policy_holder_id, policy_number, policy_type,
			insurance_company, premium_amount, coverage_amount, start_date, end_date, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, family_id, policy_holder_id, policy_number, policy_type,
			insurance_company, premium_amount, coverage_amount, start_date, end_date, status, created_at
	`, policy.FamilyID, policy.PolicyHolderID, policy.PolicyNumber, policy.PolicyType,
		policy.InsuranceCompany, policy.PremiumAmount, policy.CoverageAmount,
		policy.StartDate, policy.EndDate, policy.Status).Scan(
		&inserted.ID, &inserted.FamilyID, &inserted.PolicyHolderID, &inserted.PolicyNumber,
		&inserted.PolicyType, &inserted.InsuranceCompany, &inserted.PremiumAmount,
		&inserted.CoverageAmount, &inserted.StartDate, &inserted.EndDate, &inserted.Status,
		&inserted.CreatedAt)
	if err != nil {
		return Policy{}, fmt.Errorf("insert policy: %w", err)
	}
	return inserted, nil
}

func (s *PostgresStore) GetPolicy(ctx context.Context, policyID string) (Policy, error) {
	var p Policy
	err := s.db.QueryRowContext(ctx, `
		SELECT id, family_id, policy_holder_id, policy_number, policy_type,
			insurance_company, premium_amount, coverage_amount, start_date, end_date, status, created_at
		FROM policies
		WHERE id = $1
	`, policyID).Scan(&p.ID, &p.FamilyID, &p.PolicyHolderID, &p.PolicyNumber, &p.PolicyType,
		&p.InsuranceCompany, &p.PremiumAmount, &p.CoverageAmount, &p.StartDate, &p.EndDate,
		&p.Status, &p.CreatedAt)
	if err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (s *PostgresStore) ListPoliciesByFamilyID(ctx context.Context, familyID string) ([]Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, family_id, policy_holder_id, policy_number, policy_type,
			insurance_company, premium_amount, coverage_amount, start_date, end_date, status, created_at
		FROM policies
		WHERE family_id = $1
		ORDER BY created_at DESC
	`, familyID)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	items := make([]Policy, 0)
	for rows.Next() {
		var p Policy
		if err := rows.Scan(&p.ID, &p.FamilyID, &p.PolicyHolderID, &p.PolicyNumber, &p.PolicyType,
			&p.InsuranceCompany, &p.PremiumAmount, &p.CoverageAmount, &p.StartDate, &p.EndDate,
			&p.Status, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policies: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdatePolicy(ctx context.Context, policy Policy) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE policies SET
			policy_holder_id = $2, policy_number = $3, policy_type = $4,
			insurance_company = $5, premium_amount = $6, coverage_amount = $7,
			start_date = $8, end_date = $9, status = $10
		WHERE id = $1
	`, policy.ID, policy.PolicyHolderID, policy.PolicyNumber, policy.PolicyType,
		policy.InsuranceCompany, policy.PremiumAmount, policy.CoverageAmount,
		policy.StartDate, policy.EndDate, policy.Status)
	if err != nil {
		return fmt.Errorf("update policy: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeletePolicy(ctx context.Context, policyID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM policies WHERE id = $1`, policyID)
	if err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ── Policy requests ──

func (s *PostgresStore) InsertPolicyRequest(ctx context.Context, request PolicyRequest) (PolicyRequest, error) {
	var inserted PolicyRequest
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO policy_requests (family_id, requested_by, request_type, policy_id, request_data, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		RETURNING id, family_id, requested_by, request_type, policy_id, request_data,
			status, admin_notes, reviewed_by, reviewed_at, created_at
	`, request.FamilyID, request.RequestedBy, request.RequestType, request.PolicyID,
		[]byte(request.RequestData)).Scan(
		&inserted.ID, &inserted.FamilyID, &inserted.RequestedBy, &inserted.RequestType,
		&inserted.PolicyID, &inserted.RequestData, &inserted.Status, &inserted.AdminNotes,
		&inserted.ReviewedBy, &inserted.ReviewedAt, &inserted.CreatedAt)
	if err != nil {
		return PolicyRequest{}, fmt.Errorf("insert policy request: %w", err)
	}
	return inserted, nil
}

func (s *PostgresStore) GetPolicyRequest(ctx context.Context, requestID string) (PolicyRequest, error) {
	var r PolicyRequest
	err := s.db.QueryRowContext(ctx, `
		SELECT id, family_id, requested_by, request_type, policy_id, request_data,
			status, admin_notes, reviewed_by, reviewed_at, created_at
		FROM policy_requests
		WHERE id = $1
	`, requestID).Scan(&r.ID, &r.FamilyID, &r.RequestedBy, &r.RequestType, &r.PolicyID,
		&r.RequestData, &r.Status, &r.AdminNotes, &r.ReviewedBy, &r.ReviewedAt, &r.CreatedAt)
	if err != nil {
		return PolicyRequest{}, err
	}
	return r, nil
}

func (s *PostgresStore) ListPolicyRequests(ctx context.Context) ([]PolicyRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, family_id, requested_by, request_type, policy_id, request_data,
			status, admin_notes, reviewed_by, reviewed_at, created_at
		FROM policy_requests
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list policy requests: %w", err)
	}
	defer rows.Close()

	items := make([]PolicyRequest, 0)
	for rows.Next() {
		var r PolicyRequest
		if err := rows.Scan(&r.ID, &r.FamilyID, &r.RequestedBy, &r.RequestType, &r.PolicyID,
			&r.RequestData, &r.Status, &r.AdminNotes, &r.ReviewedBy, &r.ReviewedAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan policy request: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policy requests: %w", err)
	}
	return items, nil
}

// ReviewPolicyRequest transitions a pending request to its terminal status.
// The status guard in the WHERE clause rejects a second review of the same
// request, including two racing ones: only one UPDATE can see 'pending'.
func (s *PostgresStore) ReviewPolicyRequest(ctx context.Context, requestID, status, adminNotes, reviewedBy string, reviewedAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE policy_requests
		SET status = $2, admin_notes = $3, reviewed_by = $4, reviewed_at = $5
		WHERE id = $1 AND status = 'pending'
	`, requestID, status, adminNotes, reviewedBy, reviewedAt)
	if err != nil {
		return false, fmt.Errorf("review policy request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("review policy request: %w", err)
	}
	return affected == 1, nil
}

// ── Refresh sessions (PostgreSQL fallback when Redis is not configured) ──

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id
		FROM refresh_sessions
		WHERE token_hash = $1
			AND revoked_at IS NULL
			AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}
