package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/noah-isme/clinical-iam/internal/models"
	"github.com/noah-isme/clinical-iam/internal/repository"
	appErrors "github.com/noah-isme/clinical-iam/pkg/errors"
)

// fakeUserStore mirrors the users table: unique email and conditional
// status updates applied under one lock.
type fakeUserStore struct {
	mu     sync.Mutex
	users  map[string]models.User
	admins map[string]models.AdminUser
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: map[string]models.User{}, admins: map[string]models.AdminUser{}}
}

func (f *fakeUserStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			found := u
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeUserStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &u, nil
}

func (f *fakeUserStore) Create(ctx context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	f.users[user.ID] = *user
	return nil
}

func (f *fakeUserStore) UpdateStatus(ctx context.Context, change models.StatusChange) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[change.UserID]
	if !ok || u.Status != change.From {
		return false, nil
	}
	u.Status = change.To
	if change.ApprovedBy != nil {
		u.ApprovedBy = change.ApprovedBy
		u.ApprovedAt = change.ApprovedAt
	}
	u.UpdatedAt = change.At
	f.users[change.UserID] = u
	return true, nil
}

func (f *fakeUserStore) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = passwordHash
	f.users[id] = u
	return nil
}

func (f *fakeUserStore) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.User
	for _, u := range f.users {
		if filter.Status != nil && u.Status != *filter.Status {
			continue
		}
		out = append(out, u)
	}
	return out, len(out), nil
}

func (f *fakeUserStore) CountByRole(ctx context.Context, roleID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, u := range f.users {
		if u.RoleID == roleID {
			n++
		}
	}
	return n, nil
}

func (f *fakeUserStore) put(u models.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
}

// fakeAdminStore serves the admin_users table.
type fakeAdminStore struct {
	admins map[string]models.AdminUser
}

func (f *fakeAdminStore) FindByEmail(ctx context.Context, email string) (*models.AdminUser, error) {
	for _, a := range f.admins {
		if a.Email == email {
			found := a
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeAdminStore) FindByID(ctx context.Context, id string) (*models.AdminUser, error) {
	a, ok := f.admins[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &a, nil
}

// fakeRoleStore serves roles, permissions and the grant join.
type fakeRoleStore struct {
	mu     sync.Mutex
	roles  map[string]models.Role
	perms  map[string]models.Permission
	grants map[string]map[string]struct{}
	calls  int
}

func newFakeRoleStore() *fakeRoleStore {
	return &fakeRoleStore{roles: map[string]models.Role{}, perms: map[string]models.Permission{}, grants: map[string]map[string]struct{}{}}
}

func (f *fakeRoleStore) addRole(id, name string, permissions ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[id] = models.Role{ID: id, Name: name}
	if f.grants[id] == nil {
		f.grants[id] = map[string]struct{}{}
	}
	for _, p := range permissions {
		permID := "perm-" + p
		f.perms[permID] = models.Permission{ID: permID, Name: p}
		f.grants[id][permID] = struct{}{}
	}
}

func (f *fakeRoleStore) PermissionNames(ctx context.Context, roleID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	names := []string{}
	for permID := range f.grants[roleID] {
		names = append(names, f.perms[permID].Name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeRoleStore) FindRoleByID(ctx context.Context, id string) (*models.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.roles[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &r, nil
}

func (f *fakeRoleStore) ListRoles(ctx context.Context) ([]models.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Role
	for _, r := range f.roles {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRoleStore) CreateRole(ctx context.Context, role *models.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.roles {
		if r.Name == role.Name {
			return repository.ErrDuplicate
		}
	}
	role.ID = uuid.NewString()
	f.roles[role.ID] = *role
	return nil
}

func (f *fakeRoleStore) UpdateRole(ctx context.Context, role *models.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[role.ID] = *role
	return nil
}

func (f *fakeRoleStore) DeleteRole(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.roles[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.roles, id)
	delete(f.grants, id)
	return nil
}

func (f *fakeRoleStore) FindPermissionByID(ctx context.Context, id string) (*models.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.perms[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &p, nil
}

func (f *fakeRoleStore) ListPermissions(ctx context.Context) ([]models.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Permission
	for _, p := range f.perms {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeRoleStore) CreatePermission(ctx context.Context, perm *models.Permission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	perm.ID = uuid.NewString()
	f.perms[perm.ID] = *perm
	return nil
}

func (f *fakeRoleStore) Grant(ctx context.Context, edge models.RolePermission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.grants[edge.RoleID] == nil {
		f.grants[edge.RoleID] = map[string]struct{}{}
	}
	f.grants[edge.RoleID][edge.PermissionID] = struct{}{}
	return nil
}

func (f *fakeRoleStore) Revoke(ctx context.Context, edge models.RolePermission) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.grants[edge.RoleID][edge.PermissionID]; !ok {
		return false, nil
	}
	delete(f.grants[edge.RoleID], edge.PermissionID)
	return true, nil
}

// fakeTokenStore mirrors one refresh token table. Replace runs under the
// lock, which stands in for the row delete inside one transaction.
type fakeTokenStore[K models.PrincipalKind] struct {
	mu         sync.Mutex
	tokens     map[string]models.RefreshToken[K]
	failInsert error
}

func newFakeTokenStore[K models.PrincipalKind]() *fakeTokenStore[K] {
	return &fakeTokenStore[K]{tokens: map[string]models.RefreshToken[K]{}}
}

func (f *fakeTokenStore[K]) Create(ctx context.Context, token *models.RefreshToken[K]) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insert(token)
}

func (f *fakeTokenStore[K]) insert(token *models.RefreshToken[K]) error {
	if f.failInsert != nil {
		return f.failInsert
	}
	if _, taken := f.tokens[token.Token]; taken {
		return repository.ErrDuplicate
	}
	token.ID = uuid.NewString()
	f.tokens[token.Token] = *token
	return nil
}

func (f *fakeTokenStore[K]) Find(ctx context.Context, token string) (*models.RefreshToken[K], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &t, nil
}

func (f *fakeTokenStore[K]) Delete(ctx context.Context, token, principalID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[token]
	if !ok || t.PrincipalID != principalID {
		return false, nil
	}
	delete(f.tokens, token)
	return true, nil
}

func (f *fakeTokenStore[K]) DeleteExpired(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, token)
	return nil
}

func (f *fakeTokenStore[K]) DeleteByPrincipal(ctx context.Context, principalID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, t := range f.tokens {
		if t.PrincipalID == principalID {
			delete(f.tokens, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeTokenStore[K]) CountActive(ctx context.Context, principalID string, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.tokens {
		if t.PrincipalID == principalID && !t.Expired(now) {
			n++
		}
	}
	return n, nil
}

func (f *fakeTokenStore[K]) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, t := range f.tokens {
		if t.ExpiresAt.Before(now) {
			delete(f.tokens, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeTokenStore[K]) Replace(ctx context.Context, oldToken string, fresh *models.RefreshToken[K], now time.Time) (*models.RefreshToken[K], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	old, ok := f.tokens[oldToken]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if old.Expired(now) {
		delete(f.tokens, oldToken)
		return &old, repository.ErrExpired
	}
	fresh.PrincipalID = old.PrincipalID
	delete(f.tokens, oldToken)
	if err := f.insert(fresh); err != nil {
		// rollback
		f.tokens[oldToken] = old
		return nil, err
	}
	return &old, nil
}

func (f *fakeTokenStore[K]) count(principalID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.tokens {
		if t.PrincipalID == principalID {
			n++
		}
	}
	return n
}

// fakeAuditStore keeps appended rows in memory.
type fakeAuditStore struct {
	mu         sync.Mutex
	audits     []models.AuditLog
	activities []models.UserActivityLog
	failWrites error
}

func (f *fakeAuditStore) CreateAudit(ctx context.Context, entry *models.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites != nil {
		return f.failWrites
	}
	f.audits = append(f.audits, *entry)
	return nil
}

func (f *fakeAuditStore) CreateActivity(ctx context.Context, entry *models.UserActivityLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites != nil {
		return f.failWrites
	}
	f.activities = append(f.activities, *entry)
	return nil
}

func (f *fakeAuditStore) ListAudit(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AuditLog
	for _, a := range f.audits {
		if filter.Action != "" && a.Action != filter.Action {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeAuditStore) ListActivity(ctx context.Context, userID string, since time.Time, limit int) ([]models.UserActivityLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.UserActivityLog
	for _, a := range f.activities {
		if a.UserID == userID && !a.CreatedAt.Before(since) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeAuditStore) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, a := range f.audits {
		out = append(out, a.Action)
	}
	return out
}

func (f *fakeAuditStore) activityActions(userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, a := range f.activities {
		if a.UserID == userID {
			out = append(out, a.Action)
		}
	}
	return out
}

// fakeAlertStore enforces one unresolved alert per (user, reason) like the
// partial unique index.
type fakeAlertStore struct {
	mu     sync.Mutex
	alerts map[string]models.SecurityAlert
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{alerts: map[string]models.SecurityAlert{}}
}

func (f *fakeAlertStore) FindByID(ctx context.Context, id string) (*models.SecurityAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.alerts[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &a, nil
}

func (f *fakeAlertStore) FindUnresolved(ctx context.Context, userID, reason string) (*models.SecurityAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.alerts {
		if a.UserID == userID && a.Reason == reason && !a.Resolved {
			return &a, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeAlertStore) Create(ctx context.Context, alert *models.SecurityAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.alerts {
		if a.UserID == alert.UserID && a.Reason == alert.Reason && !a.Resolved {
			return repository.ErrDuplicate
		}
	}
	alert.ID = uuid.NewString()
	f.alerts[alert.ID] = *alert
	return nil
}

func (f *fakeAlertStore) MarkResolved(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.alerts[id]
	if !ok || a.Resolved {
		return false, nil
	}
	a.Resolved = true
	f.alerts[id] = a
	return true, nil
}

func (f *fakeAlertStore) List(ctx context.Context, filter models.AlertFilter) ([]models.SecurityAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.SecurityAlert
	for _, a := range f.alerts {
		if filter.UserID != "" && a.UserID != filter.UserID {
			continue
		}
		if filter.UnresolvedOnly && a.Resolved {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeAlertStore) unresolved(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.alerts {
		if a.UserID == userID && !a.Resolved {
			n++
		}
	}
	return n
}

// fakeAssignments is a set of (doctor, patient) edges.
type fakeAssignments struct {
	edges []models.DoctorPatientAssignment
}

func (f *fakeAssignments) Exists(ctx context.Context, doctorID, patientID string) (bool, error) {
	for _, e := range f.edges {
		if e.DoctorID == doctorID && e.PatientID == patientID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeAssignments) ListByDoctor(ctx context.Context, doctorID string) ([]models.DoctorPatientAssignment, error) {
	var out []models.DoctorPatientAssignment
	for _, e := range f.edges {
		if e.DoctorID == doctorID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeAssignments) ListByPatient(ctx context.Context, patientID string) ([]models.DoctorPatientAssignment, error) {
	var out []models.DoctorPatientAssignment
	for _, e := range f.edges {
		if e.PatientID == patientID {
			out = append(out, e)
		}
	}
	return out, nil
}

// mockNotifier records alert notifications.
type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, userID string) {
	m.Called(userID)
}

// fakeCacheRepo stores JSON payloads the way the redis repository does.
type fakeCacheRepo struct {
	mu      sync.Mutex
	entries map[string][]byte
	failGet error
}

func newFakeCacheRepo() *fakeCacheRepo {
	return &fakeCacheRepo{entries: map[string][]byte{}}
}

func (f *fakeCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return f.failGet
	}
	raw, ok := f.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (f *fakeCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = raw
	return nil
}

func (f *fakeCacheRepo) Delete(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.entries, k)
	}
	return nil
}

func (f *fakeCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	for k := range f.entries {
		if strings.HasPrefix(k, prefix) {
			delete(f.entries, k)
		}
	}
	return nil
}

const (
	doctorRoleID   = "6f1c2a9e-8d4b-4c1e-9a7f-000000000001"
	approverRoleID = "6f1c2a9e-8d4b-4c1e-9a7f-000000000002"
	emptyRoleID    = "6f1c2a9e-8d4b-4c1e-9a7f-000000000003"
	testSecret     = "test-secret"
	testIssuer     = "clinical-iam-test"
)

// harness wires every service over in-memory stores.
type harness struct {
	users       *fakeUserStore
	admins      *fakeAdminStore
	roles       *fakeRoleStore
	userTokens  *fakeTokenStore[models.UserPrincipal]
	adminTokens *fakeTokenStore[models.AdminPrincipal]
	audit       *fakeAuditStore
	alertStore  *fakeAlertStore
	assignments *fakeAssignments

	creds    *CredentialStore
	recorder *Recorder
	resolver *PermissionResolver
	accounts *AccountService
	userTok  *TokenService[models.UserPrincipal]
	adminTok *TokenService[models.AdminPrincipal]
	alerts   *AlertService
	gate     *AccessGate
	auth     *AuthService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		users:       newFakeUserStore(),
		admins:      &fakeAdminStore{admins: map[string]models.AdminUser{}},
		roles:       newFakeRoleStore(),
		userTokens:  newFakeTokenStore[models.UserPrincipal](),
		adminTokens: newFakeTokenStore[models.AdminPrincipal](),
		audit:       &fakeAuditStore{},
		alertStore:  newFakeAlertStore(),
		assignments: &fakeAssignments{},
	}
	h.roles.addRole(doctorRoleID, "doctor", models.PermissionPatientRead, models.PermissionPrescriptionRead)
	h.roles.addRole(approverRoleID, "approver", models.PermissionAccountApprove)
	h.roles.addRole(emptyRoleID, "visitor")

	h.creds = NewCredentialStore(4)
	h.recorder = NewRecorder(h.audit, nil, nil, time.Second)
	h.resolver = NewPermissionResolver(h.roles, nil, PermissionResolverConfig{}, nil)
	h.accounts = NewAccountService(h.users, h.roles, h.creds, h.recorder, nil, nil, time.Second)
	h.userTok = NewTokenService[models.UserPrincipal](h.userTokens, TokenConfig{TTL: time.Hour}, nil, nil)
	h.adminTok = NewTokenService[models.AdminPrincipal](h.adminTokens, TokenConfig{TTL: time.Hour}, nil, nil)
	h.alerts = NewAlertService(h.alertStore, h.recorder, NewRuleScorer(RuleLimits{FailedLogins: 3, AccessDenied: 3}), h.recorder, nil, nil, AlertConfig{Threshold: 50})
	h.gate = NewAccessGate(h.users, h.resolver, h.assignments, h.recorder, nil, nil, nil, time.Second)
	h.auth = NewAuthService(AuthDeps{
		Users:       h.users,
		Admins:      h.admins,
		Roles:       h.roles,
		Credentials: h.creds,
		Permissions: h.resolver,
		Accounts:    h.accounts,
		UserTokens:  h.userTok,
		AdminTokens: h.adminTok,
		Recorder:    h.recorder,
	}, AuthConfig{AccessTokenSecret: testSecret, Issuer: testIssuer, StoreTimeout: time.Second})
	return h
}

// addUser stores an account in status with password "password123".
func (h *harness) addUser(t *testing.T, id, email, roleID string, status models.AccountStatus) models.User {
	t.Helper()
	hash, err := h.creds.Hash("password123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	user := models.User{ID: id, Email: email, PasswordHash: hash, RoleID: roleID, Status: status, CreatedAt: time.Now().UTC()}
	h.users.put(user)
	return user
}

func (h *harness) addAdmin(t *testing.T, id, email string) models.AdminUser {
	t.Helper()
	hash, err := h.creds.Hash("admin-password")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	admin := models.AdminUser{ID: id, Email: email, PasswordHash: hash}
	h.admins.admins[id] = admin
	return admin
}
