package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"kinsure/api/internal/allowlist"
	"kinsure/api/internal/config"
	"kinsure/api/internal/identity"
	"kinsure/api/internal/store"
)

// memStore is an in-memory dataStore with the same contracts as the Postgres
// implementation: sql.ErrNoRows for misses, unique membership per user, and
// the status-guarded request review.
type memStore struct {
	clock time.Time
	seq   int

	profiles map[string]store.Profile
	admins   map[string]string
	families map[string]store.Family
	members  map[string]store.FamilyMember
	policies map[string]store.Policy
	requests map[string]store.PolicyRequest
	sessions map[string]string
	accounts map[string]store.Account
}

func newMemStore() *memStore {
	return &memStore{
		clock:    time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
		profiles: make(map[string]store.Profile),
		admins:   make(map[string]string),
		families: make(map[string]store.Family),
		members:  make(map[string]store.FamilyMember),
		policies: make(map[string]store.Policy),
		requests: make(map[string]store.PolicyRequest),
		sessions: make(map[string]string),
		accounts: make(map[string]store.Account),
	}
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Minute)
	return m.clock
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) UpsertProfile(_ context.Context, profile store.Profile) error {
	profile.Email = strings.ToLower(profile.Email)
	m.profiles[profile.ID] = profile
	return nil
}

func (m *memStore) GetProfile(_ context.Context, id string) (store.Profile, error) {
	p, ok := m.profiles[id]
	if !ok {
		return store.Profile{}, sql.ErrNoRows
	}
	return p, nil
}

func (m *memStore) GetProfileByEmail(_ context.Context, email string) (store.Profile, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, p := range m.profiles {
		if p.Email == email {
			return p, nil
		}
	}
	return store.Profile{}, sql.ErrNoRows
}

func (m *memStore) ListProfilesByIDs(_ context.Context, ids []string) ([]store.Profile, error) {
	items := make([]store.Profile, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.profiles[id]; ok {
			items = append(items, p)
		}
	}
	return items, nil
}

func (m *memStore) SearchProfiles(_ context.Context, term string) ([]store.Profile, error) {
	term = strings.ToLower(term)
	items := make([]store.Profile, 0)
	for _, p := range m.profiles {
		if strings.Contains(strings.ToLower(p.FirstName), term) ||
			strings.Contains(strings.ToLower(p.LastName), term) ||
			strings.Contains(strings.ToLower(p.Email), term) {
			items = append(items, p)
		}
	}
	return items, nil
}

func (m *memStore) EnsureAdminUser(_ context.Context, userID, adminName string) error {
	if _, ok := m.admins[userID]; !ok {
		m.admins[userID] = adminName
	}
	return nil
}

func (m *memStore) InsertFamily(_ context.Context, familyName, primaryEmail, createdBy string) (store.Family, error) {
	f := store.Family{
		ID:                  m.nextID("fam"),
		FamilyName:          familyName,
		PrimaryContactEmail: strings.ToLower(primaryEmail),
		CreatedBy:           &createdBy,
		CreatedAt:           m.tick(),
	}
	m.families[f.ID] = f
	return f, nil
}

func (m *memStore) GetFamily(_ context.Context, familyID string) (store.Family, error) {
	f, ok := m.families[familyID]
	if !ok {
		return store.Family{}, sql.ErrNoRows
	}
	return f, nil
}

func (m *memStore) SearchFamilies(_ context.Context, term string) ([]store.Family, error) {
	term = strings.ToLower(term)
	items := make([]store.Family, 0)
	for _, f := range m.families {
		if strings.Contains(strings.ToLower(f.FamilyName), term) ||
			strings.Contains(strings.ToLower(f.PrimaryContactEmail), term) {
			items = append(items, f)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

func (m *memStore) ListFamiliesByIDs(_ context.Context, ids []string) ([]store.Family, error) {
	items := make([]store.Family, 0, len(ids))
	for _, id := range ids {
		if f, ok := m.families[id]; ok {
			items = append(items, f)
		}
	}
	return items, nil
}

func (m *memStore) GetMembershipByUserID(_ context.Context, userID string) (store.FamilyMember, error) {
	for _, member := range m.members {
		if member.UserID == userID {
			return member, nil
		}
	}
	return store.FamilyMember{}, sql.ErrNoRows
}

func (m *memStore) ListMembersByFamilyID(_ context.Context, familyID string) ([]store.FamilyMember, error) {
	return m.ListMembersByFamilyIDs(context.Background(), []string{familyID})
}

func (m *memStore) ListMembersByFamilyIDs(_ context.Context, familyIDs []string) ([]store.FamilyMember, error) {
	wanted := make(map[string]struct{}, len(familyIDs))
	for _, id := range familyIDs {
		wanted[id] = struct{}{}
	}
	items := make([]store.FamilyMember, 0)
	for _, member := range m.members {
		if _, ok := wanted[member.FamilyID]; ok {
			items = append(items, member)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].IsPrimary != items[j].IsPrimary {
			return items[i].IsPrimary
		}
		return items[i].JoinedAt.Before(items[j].JoinedAt)
	})
	return items, nil
}

func (m *memStore) ListMembersByUserIDs(_ context.Context, userIDs []string) ([]store.FamilyMember, error) {
	wanted := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		wanted[id] = struct{}{}
	}
	items := make([]store.FamilyMember, 0)
	for _, member := range m.members {
		if _, ok := wanted[member.UserID]; ok {
			items = append(items, member)
		}
	}
	return items, nil
}

func (m *memStore) InsertFamilyMember(_ context.Context, member store.FamilyMember) error {
	for _, existing := range m.members {
		if existing.UserID == member.UserID {
			return fmt.Errorf("insert family member: user already belongs to a family")
		}
	}
	member.ID = m.nextID("mem")
	member.JoinedAt = m.tick()
	m.members[member.ID] = member
	return nil
}

func (m *memStore) DeleteFamilyMember(_ context.Context, memberID string) error {
	delete(m.members, memberID)
	return nil
}

func (m *memStore) InsertPolicy(_ context.Context, policy store.Policy) (store.Policy, error) {
	policy.ID = m.nextID("pol")
	policy.CreatedAt = m.tick()
	m.policies[policy.ID] = policy
	return policy, nil
}

func (m *memStore) GetPolicy(_ context.Context, policyID string) (store.Policy, error) {
	p, ok := m.policies[policyID]
	if !ok {
		return store.Policy{}, sql.ErrNoRows
	}
	return p, nil
}

func (m *memStore) ListPoliciesByFamilyID(_ context.Context, familyID string) ([]store.Policy, error) {
	items := make([]store.Policy, 0)
	for _, p := range m.policies {
		if p.FamilyID == familyID {
			items = append(items, p)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

func (m *memStore) UpdatePolicy(_ context.Context, policy store.Policy) error {
	if _, ok := m.policies[policy.ID]; !ok {
		return sql.ErrNoRows
	}
	m.policies[policy.ID] = policy
	return nil
}

func (m *memStore) DeletePolicy(_ context.Context, policyID string) error {
	if _, ok := m.policies[policyID]; !ok {
		return sql.ErrNoRows
	}
	delete(m.policies, policyID)
	return nil
}

func (m *memStore) InsertPolicyRequest(_ context.Context, request store.PolicyRequest) (store.PolicyRequest, error) {
	request.ID = m.nextID("req")
	request.Status = "pending"
	request.CreatedAt = m.tick()
	m.requests[request.ID] = request
	return request, nil
}

func (m *memStore) GetPolicyRequest(_ context.Context, requestID string) (store.PolicyRequest, error) {
	r, ok := m.requests[requestID]
	if !ok {
		return store.PolicyRequest{}, sql.ErrNoRows
	}
	return r, nil
}

func (m *memStore) ListPolicyRequests(_ context.Context) ([]store.PolicyRequest, error) {
	items := make([]store.PolicyRequest, 0, len(m.requests))
	for _, r := range m.requests {
		items = append(items, r)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

func (m *memStore) ReviewPolicyRequest(_ context.Context, requestID, status, adminNotes, reviewedBy string, reviewedAt time.Time) (bool, error) {
	r, ok := m.requests[requestID]
	if !ok || r.Status != "pending" {
		return false, nil
	}
	r.Status = status
	r.AdminNotes = &adminNotes
	r.ReviewedBy = &reviewedBy
	r.ReviewedAt = &reviewedAt
	m.requests[requestID] = r
	return true, nil
}

// sessionStore backed by the same map used for assertions.
func (m *memStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	m.sessions[tokenHash] = userID
	return nil
}

func (m *memStore) LookupRefreshSession(_ context.Context, tokenHash string) (string, error) {
	userID, ok := m.sessions[tokenHash]
	if !ok {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (m *memStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	delete(m.sessions, tokenHash)
	return nil
}

// AccountStore for the identity service, sharing ids with profiles.
func (m *memStore) CreateAccount(_ context.Context, email, passwordHash string) (store.Account, error) {
	account := store.Account{
		ID:           m.nextID("acct"),
		Email:        strings.ToLower(email),
		PasswordHash: passwordHash,
		CreatedAt:    m.tick(),
	}
	m.accounts[account.Email] = account
	return account, nil
}

func (m *memStore) GetAccountByEmail(_ context.Context, email string) (store.Account, error) {
	account, ok := m.accounts[strings.ToLower(email)]
	if !ok {
		return store.Account{}, sql.ErrNoRows
	}
	return account, nil
}

const testAdminEmail = "avery@kinsure.test"

func newTestService(t *testing.T) (*Service, *memStore) {
	t.Helper()
	st := newMemStore()
	cfg := config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	}
	admins := allowlist.Parse(testAdminEmail + "=Avery Admin")
	svc := New(cfg, st, st, identity.NewService(st), admins)
	return svc, st
}

func adminSession() Session {
	return Session{UserID: "admin-1", Email: testAdminEmail, Name: "Avery Admin", IsAdmin: true}
}

func clientSession(userID string) Session {
	return Session{UserID: userID, Email: userID + "@example.com", Name: "Client"}
}

func seedProfile(st *memStore, id, email, first, last string) {
	st.profiles[id] = store.Profile{ID: id, Email: strings.ToLower(email), FirstName: first, LastName: last}
}

func seedFamilyWithMember(t *testing.T, svc *Service, st *memStore, familyName, memberID, memberEmail string) store.Family {
	t.Helper()
	seedProfile(st, memberID, memberEmail, "Pat", "Rivera")
	family, err := st.InsertFamily(context.Background(), familyName, memberEmail, "admin-1")
	if err != nil {
		t.Fatalf("insert family: %v", err)
	}
	if err := st.InsertFamilyMember(context.Background(), store.FamilyMember{
		FamilyID:  family.ID,
		UserID:    memberID,
		IsPrimary: true,
	}); err != nil {
		t.Fatalf("insert member: %v", err)
	}
	return family
}

func TestGetFamilyDetailsResolvesMissingProfileToSentinel(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	family := seedFamilyWithMember(t, svc, st, "Rivera Family", "user-1", "pat@example.com")
	// Second member references a profile that no longer exists.
	st.members["mem-dangling"] = store.FamilyMember{
		ID: "mem-dangling", FamilyID: family.ID, UserID: "ghost-user", JoinedAt: st.tick(),
	}

	payload, err := svc.GetFamilyDetails(ctx, adminSession(), family.ID)
	if err != nil {
		t.Fatalf("get family details: %v", err)
	}

	view := payload["family"].(FamilyView)
	if len(view.Members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(view.Members))
	}
	var ghost *MemberView
	for i := range view.Members {
		if view.Members[i].UserID == "ghost-user" {
			ghost = &view.Members[i]
		}
	}
	if ghost == nil {
		t.Fatal("dangling member missing from view")
	}
	if ghost.Profile.FirstName != "Unknown" || ghost.Profile.LastName != "User" || ghost.Profile.Email != "No email" {
		t.Fatalf("expected sentinel profile, got %+v", ghost.Profile)
	}
}

func TestGetFamilyDetailsUnknownFamilyIsNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.GetFamilyDetails(context.Background(), adminSession(), "fam-missing")
	status, code, _, _ := mapError(err)
	if status != 404 || code != "NOT_FOUND" {
		t.Fatalf("expected 404 NOT_FOUND, got %d %s", status, code)
	}
}

func TestGetClientFamilyDataRejectsCrossUserAccess(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.GetClientFamilyData(context.Background(), clientSession("user-1"), "user-2")
	status, code, _, _ := mapError(err)
	if status != 403 || code != "FORBIDDEN" {
		t.Fatalf("expected 403 FORBIDDEN, got %d %s", status, code)
	}
}

func TestGetClientFamilyDataWithoutFamily(t *testing.T) {
	svc, st := newTestService(t)
	seedProfile(st, "user-1", "pat@example.com", "Pat", "Rivera")

	payload, err := svc.GetClientFamilyData(context.Background(), clientSession("user-1"), "user-1")
	if err != nil {
		t.Fatalf("get client family data: %v", err)
	}
	if payload["family"] != nil {
		t.Fatalf("expected nil family, got %v", payload["family"])
	}
	if policies := payload["policies"].([]PolicyView); len(policies) != 0 {
		t.Fatalf("expected empty policies, got %d", len(policies))
	}
}

func TestCreateFamilyPartialSuccess(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	seedProfile(st, "user-1", "pat@example.com", "Pat", "Rivera")
	seedProfile(st, "user-2", "sam@example.com", "Sam", "Rivera")

	payload, err := svc.CreateFamily(ctx, adminSession(), CreateFamilyInput{
		FamilyName:   "Rivera Family",
		PrimaryEmail: "pat@example.com",
		Members: []CreateFamilyMemberInput{
			{Name: "Pat Rivera", Email: "pat@example.com", Relationship: "self"},
			{Name: "Sam Rivera", Email: "sam@example.com", Relationship: "spouse"},
			{Name: "Jo Rivera", Email: "jo@example.com"},
			{Name: "Nameless"},
		},
	})
	if err != nil {
		t.Fatalf("create family: %v", err)
	}

	added := payload["addedMembers"].([]addedMember)
	skipped := payload["skippedMembers"].([]skippedMember)
	if len(added) != 2 {
		t.Fatalf("expected 2 added members, got %d", len(added))
	}
	if len(skipped) != 2 {
		t.Fatalf("expected 2 skipped members, got %d", len(skipped))
	}
	reasons := map[string]string{}
	for _, s := range skipped {
		reasons[s.Name] = s.Reason
	}
	if reasons["Jo Rivera"] != "no profile with this email" {
		t.Fatalf("unexpected skip reason for Jo: %q", reasons["Jo Rivera"])
	}
	if reasons["Nameless"] != "no email provided" {
		t.Fatalf("unexpected skip reason for Nameless: %q", reasons["Nameless"])
	}

	membership, err := st.GetMembershipByUserID(ctx, "user-1")
	if err != nil {
		t.Fatalf("membership lookup: %v", err)
	}
	if !membership.IsPrimary {
		t.Fatal("primary contact member should be marked is_primary")
	}
}

func TestCreateFamilySucceedsWithZeroMatchedMembers(t *testing.T) {
	svc, st := newTestService(t)

	payload, err := svc.CreateFamily(context.Background(), adminSession(), CreateFamilyInput{
		FamilyName:   "Empty Family",
		PrimaryEmail: "nobody@example.com",
		Members: []CreateFamilyMemberInput{
			{Name: "Stranger", Email: "stranger@example.com"},
		},
	})
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	if len(payload["addedMembers"].([]addedMember)) != 0 {
		t.Fatal("expected no added members")
	}
	if len(st.families) != 1 {
		t.Fatal("family should still be created")
	}
}

func TestNonAdminCannotCreateFamily(t *testing.T) {
	svc, st := newTestService(t)

	_, err := svc.CreateFamily(context.Background(), clientSession("user-1"), CreateFamilyInput{
		FamilyName:   "Sneaky Family",
		PrimaryEmail: "user-1@example.com",
	})
	status, code, _, _ := mapError(err)
	if status != 403 || code != "FORBIDDEN" {
		t.Fatalf("expected 403 FORBIDDEN, got %d %s", status, code)
	}
	if len(st.families) != 0 {
		t.Fatal("forbidden call must not mutate data")
	}
}

func submitRequest(t *testing.T, svc *Service, session Session, familyID string, data string) string {
	t.Helper()
	payload, err := svc.SubmitPolicyRequest(context.Background(), session, SubmitPolicyRequestInput{
		RequestType: "new_policy",
		FamilyID:    familyID,
		RequestData: json.RawMessage(data),
	})
	if err != nil {
		t.Fatalf("submit request: %v", err)
	}
	return payload["request"].(PolicyRequestView).ID
}

func TestReviewSecondDecisionConflicts(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	family := seedFamilyWithMember(t, svc, st, "Rivera Family", "user-1", "pat@example.com")
	requestID := submitRequest(t, svc, clientSession("user-1"), family.ID,
		`{"policy_holder_id":"user-1","policy_type":"health"}`)

	if _, err := svc.ReviewPolicyRequest(ctx, adminSession(), ReviewPolicyRequestInput{
		RequestID: requestID, Decision: "approved",
	}); err != nil {
		t.Fatalf("first review: %v", err)
	}

	_, err := svc.ReviewPolicyRequest(ctx, adminSession(), ReviewPolicyRequestInput{
		RequestID: requestID, Decision: "rejected",
	})
	status, code, _, _ := mapError(err)
	if status != 409 || code != "CONFLICT" {
		t.Fatalf("expected 409 CONFLICT, got %d %s", status, code)
	}

	request, _ := st.GetPolicyRequest(ctx, requestID)
	if request.Status != "approved" {
		t.Fatalf("second review must not overwrite the first, status = %q", request.Status)
	}
}

func TestApproveNewPolicyCreatesActivePolicy(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	family := seedFamilyWithMember(t, svc, st, "Rivera Family", "user-1", "pat@example.com")

	// Payload claims pending status; approval must force active.
	requestID := submitRequest(t, svc, clientSession("user-1"), family.ID,
		`{"policy_holder_id":"user-1","policy_type":"health","policy_number":"HLT-9","premium_amount":129.5,"status":"pending"}`)

	payload, err := svc.ReviewPolicyRequest(ctx, adminSession(), ReviewPolicyRequestInput{
		RequestID: requestID, Decision: "approved", AdminNotes: "looks good",
	})
	if err != nil {
		t.Fatalf("review: %v", err)
	}

	if len(st.policies) != 1 {
		t.Fatalf("expected exactly one policy, got %d", len(st.policies))
	}
	policy := payload["policy"].(store.Policy)
	if policy.Status != "active" {
		t.Fatalf("expected forced active status, got %q", policy.Status)
	}
	if policy.FamilyID != family.ID || policy.PolicyHolderID != "user-1" || policy.PolicyType != "health" {
		t.Fatalf("policy fields do not match payload: %+v", policy)
	}
	if policy.PolicyNumber == nil || *policy.PolicyNumber != "HLT-9" {
		t.Fatal("policy number not copied from payload")
	}
	if policy.PremiumAmount == nil || *policy.PremiumAmount != 129.5 {
		t.Fatal("premium amount not copied from payload")
	}
}

func TestRejectNewPolicyCreatesNothing(t *testing.T) {
	svc, st := newTestService(t)
	family := seedFamilyWithMember(t, svc, st, "Rivera Family", "user-1", "pat@example.com")
	requestID := submitRequest(t, svc, clientSession("user-1"), family.ID,
		`{"policy_holder_id":"user-1","policy_type":"health"}`)

	if _, err := svc.ReviewPolicyRequest(context.Background(), adminSession(), ReviewPolicyRequestInput{
		RequestID: requestID, Decision: "rejected", AdminNotes: "not now",
	}); err != nil {
		t.Fatalf("review: %v", err)
	}
	if len(st.policies) != 0 {
		t.Fatal("rejected request must not create a policy")
	}
}

func TestApproveEditPolicyLeavesTargetUntouched(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	family := seedFamilyWithMember(t, svc, st, "Rivera Family", "user-1", "pat@example.com")
	policy, err := st.InsertPolicy(ctx, store.Policy{
		FamilyID: family.ID, PolicyHolderID: "user-1", PolicyType: "auto", Status: "active",
	})
	if err != nil {
		t.Fatalf("insert policy: %v", err)
	}

	submitted, err := svc.SubmitPolicyRequest(ctx, clientSession("user-1"), SubmitPolicyRequestInput{
		RequestType: "edit_policy",
		FamilyID:    family.ID,
		PolicyID:    policy.ID,
		RequestData: json.RawMessage(`{"policy_holder_id":"user-1","policy_type":"home"}`),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	requestID := submitted["request"].(PolicyRequestView).ID

	if _, err := svc.ReviewPolicyRequest(ctx, adminSession(), ReviewPolicyRequestInput{
		RequestID: requestID, Decision: "approved",
	}); err != nil {
		t.Fatalf("review: %v", err)
	}

	after, _ := st.GetPolicy(ctx, policy.ID)
	if after.PolicyType != "auto" {
		t.Fatalf("approved edit must not mutate the policy, type = %q", after.PolicyType)
	}
	if len(st.policies) != 1 {
		t.Fatal("approved edit must not create a policy")
	}
}

func TestSubmitPolicyRequestValidation(t *testing.T) {
	svc, st := newTestService(t)
	family := seedFamilyWithMember(t, svc, st, "Rivera Family", "user-1", "pat@example.com")
	session := clientSession("user-1")

	cases := []struct {
		name  string
		input SubmitPolicyRequestInput
	}{
		{"bad type", SubmitPolicyRequestInput{RequestType: "upgrade_policy", FamilyID: family.ID}},
		{"missing family", SubmitPolicyRequestInput{RequestType: "new_policy", RequestData: json.RawMessage(`{"policy_holder_id":"user-1"}`)}},
		{"edit without policy id", SubmitPolicyRequestInput{RequestType: "edit_policy", FamilyID: family.ID, RequestData: json.RawMessage(`{"policy_holder_id":"user-1"}`)}},
		{"new without holder", SubmitPolicyRequestInput{RequestType: "new_policy", FamilyID: family.ID, RequestData: json.RawMessage(`{}`)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SubmitPolicyRequest(context.Background(), session, tc.input)
			status, code, _, _ := mapError(err)
			if status != 400 || code != "VALIDATION_ERROR" {
				t.Fatalf("expected 400 VALIDATION_ERROR, got %d %s", status, code)
			}
		})
	}
}

func TestSubmitPolicyRequestForAnotherFamilyForbidden(t *testing.T) {
	svc, st := newTestService(t)
	seedFamilyWithMember(t, svc, st, "Rivera Family", "user-1", "pat@example.com")
	other := seedFamilyWithMember(t, svc, st, "Nguyen Family", "user-2", "kim@example.com")

	_, err := svc.SubmitPolicyRequest(context.Background(), clientSession("user-1"), SubmitPolicyRequestInput{
		RequestType: "new_policy",
		FamilyID:    other.ID,
		RequestData: json.RawMessage(`{"policy_holder_id":"user-1","policy_type":"health"}`),
	})
	status, code, _, _ := mapError(err)
	if status != 403 || code != "FORBIDDEN" {
		t.Fatalf("expected 403 FORBIDDEN, got %d %s", status, code)
	}
}

func TestSearchFamiliesUnionDedupeAndSort(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	// Older family matches by name AND by a member profile; must appear once.
	smith := seedFamilyWithMember(t, svc, st, "Smith Family", "user-1", "alex.smith@example.com")
	// Newer family matches only through a member's last name.
	seedProfile(st, "user-2", "kim@example.com", "Kim", "Smithson")
	newer, err := st.InsertFamily(ctx, "Nguyen Household", "kim@example.com", "admin-1")
	if err != nil {
		t.Fatalf("insert family: %v", err)
	}
	if err := st.InsertFamilyMember(ctx, store.FamilyMember{FamilyID: newer.ID, UserID: "user-2"}); err != nil {
		t.Fatalf("insert member: %v", err)
	}
	// Unrelated family must not match.
	seedProfile(st, "user-3", "lee@example.com", "Lee", "Park")
	if _, err := st.InsertFamily(ctx, "Park Family", "lee@example.com", "admin-1"); err != nil {
		t.Fatalf("insert family: %v", err)
	}

	payload, err := svc.SearchFamilies(ctx, adminSession(), "smith")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	views := payload["families"].([]FamilyView)
	if len(views) != 2 {
		t.Fatalf("expected 2 families, got %d", len(views))
	}
	if views[0].ID != newer.ID || views[1].ID != smith.ID {
		t.Fatalf("expected newest-first order [%s %s], got [%s %s]", newer.ID, smith.ID, views[0].ID, views[1].ID)
	}
	if len(views[0].Members) != 1 || views[0].Members[0].Profile.LastName != "Smithson" {
		t.Fatal("search results must carry the member profile list")
	}
}

func TestUpdatePolicyAppliesOnlyProvidedFields(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	family := seedFamilyWithMember(t, svc, st, "Rivera Family", "user-1", "pat@example.com")
	number := "AUT-1"
	policy, err := st.InsertPolicy(ctx, store.Policy{
		FamilyID: family.ID, PolicyHolderID: "user-1", PolicyType: "auto",
		PolicyNumber: &number, Status: "active",
	})
	if err != nil {
		t.Fatalf("insert policy: %v", err)
	}

	newStatus := "inactive"
	payload, err := svc.UpdatePolicy(ctx, adminSession(), UpdatePolicyInput{
		PolicyID: policy.ID,
		Status:   &newStatus,
	})
	if err != nil {
		t.Fatalf("update policy: %v", err)
	}
	updated := payload["policy"].(store.Policy)
	if updated.Status != "inactive" {
		t.Fatalf("status not applied, got %q", updated.Status)
	}
	if updated.PolicyType != "auto" || updated.PolicyNumber == nil || *updated.PolicyNumber != "AUT-1" {
		t.Fatal("absent fields must keep their stored values")
	}
}

func TestCreateUserMirrorsProfile(t *testing.T) {
	svc, st := newTestService(t)

	payload, err := svc.CreateUser(context.Background(), adminSession(), CreateUserInput{
		Email:     "New.User@Example.com",
		Password:  "hunter2hunter2",
		FirstName: "New",
		LastName:  "User",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	user := payload["user"].(ProfileView)
	if user.Email != "new.user@example.com" {
		t.Fatalf("expected lower-cased email, got %q", user.Email)
	}
	profile, err := st.GetProfile(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("profile should mirror the account: %v", err)
	}
	if profile.FirstName != "New" || profile.LastName != "User" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
}

func TestAdminGuardRecordsAdminUser(t *testing.T) {
	svc, st := newTestService(t)
	family := seedFamilyWithMember(t, svc, st, "Rivera Family", "user-1", "pat@example.com")

	if _, err := svc.GetFamilyDetails(context.Background(), adminSession(), family.ID); err != nil {
		t.Fatalf("get family details: %v", err)
	}
	if st.admins["admin-1"] != "Avery Admin" {
		t.Fatalf("expected lazily provisioned admin record, got %q", st.admins["admin-1"])
	}
}
