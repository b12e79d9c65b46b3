package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/clinical-iam/internal/models"
	"github.com/noah-isme/clinical-iam/internal/repository"
	appErrors "github.com/noah-isme/clinical-iam/pkg/errors"
)

type accountRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateStatus(ctx context.Context, change models.StatusChange) (bool, error)
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
}

type roleFinder interface {
	FindRoleByID(ctx context.Context, id string) (*models.Role, error)
}

// AccountService owns the account status workflow:
// PENDING -> APPROVED | REJECTED, APPROVED <-> SUSPENDED. REJECTED is terminal.
type AccountService struct {
	users        accountRepository
	roles        roleFinder
	credentials  *CredentialStore
	recorder     eventRecorder
	validator    *validator.Validate
	logger       *zap.Logger
	storeTimeout time.Duration
	now          func() time.Time

	// selfService holds the role names SignUp accepts; nil accepts any role.
	selfService map[string]struct{}
}

// NewAccountService constructs an AccountService.
func NewAccountService(users accountRepository, roles roleFinder, credentials *CredentialStore, recorder eventRecorder, validate *validator.Validate, logger *zap.Logger, storeTimeout time.Duration) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if credentials == nil {
		credentials = NewCredentialStore(0)
	}
	return &AccountService{
		users:        users,
		roles:        roles,
		credentials:  credentials,
		recorder:     recorder,
		validator:    validate,
		logger:       logger,
		storeTimeout: storeTimeout,
		now:          time.Now,
	}
}

// RestrictSelfService limits SignUp to roles with the given names. Register
// stays unrestricted for operator tooling.
func (s *AccountService) RestrictSelfService(names ...string) *AccountService {
	s.selfService = make(map[string]struct{}, len(names))
	for _, name := range names {
		s.selfService[strings.ToLower(name)] = struct{}{}
	}
	return s
}

// SignUp validates a registration payload, hashes the password and registers
// the account.
func (s *AccountService) SignUp(ctx context.Context, req models.RegisterRequest, meta models.RequestMeta) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}
	hash, err := s.credentials.Hash(req.Password)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	return s.register(ctx, req.Email, hash, req.RoleID, meta, true)
}

// Register creates a PENDING account. The role must exist and the email must
// be unused.
func (s *AccountService) Register(ctx context.Context, email, passwordHash, roleID string) (*models.User, error) {
	return s.register(ctx, email, passwordHash, roleID, models.RequestMeta{}, false)
}

func (s *AccountService) register(ctx context.Context, email, passwordHash, roleID string, meta models.RequestMeta, selfService bool) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || passwordHash == "" || roleID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "email, password hash and role are required")
	}

	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	role, err := s.roles.FindRoleByID(storeCtx, roleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "role does not exist")
		}
		return nil, storeError(err, "failed to load role")
	}
	if selfService && s.selfService != nil {
		if _, ok := s.selfService[strings.ToLower(role.Name)]; !ok {
			s.logger.Info("self-service registration refused", zap.String("role", role.Name))
			return nil, appErrors.Clone(appErrors.ErrValidation, "role is not open to self-registration")
		}
	}

	user := &models.User{
		Email:        email,
		PasswordHash: passwordHash,
		RoleID:       roleID,
		Status:       models.AccountPending,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.Create(storeCtx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			return nil, appErrors.Clone(appErrors.ErrDuplicateEmail, "")
		case errors.Is(err, repository.ErrReferenced):
			return nil, appErrors.Clone(appErrors.ErrValidation, "role does not exist")
		}
		return nil, storeError(err, "failed to create user")
	}

	recordQuietly(ctx, s.recorder, s.logger, RecordRequest{
		Kind:     models.RecordAudit,
		Action:   models.AuditActionRegister,
		Resource: user.ID,
		IP:       meta.IP,
	})
	return user, nil
}

// Approve moves an account from PENDING or SUSPENDED to APPROVED and stamps
// the approver.
func (s *AccountService) Approve(ctx context.Context, userID, approverID string) (*models.User, error) {
	return s.transition(ctx, userID, approverID, models.TransitionApprove)
}

// Reject moves a PENDING account to REJECTED.
func (s *AccountService) Reject(ctx context.Context, userID, approverID string) (*models.User, error) {
	return s.transition(ctx, userID, approverID, models.TransitionReject)
}

// Suspend moves an APPROVED account to SUSPENDED. It does not touch refresh
// tokens; use AuthService.SuspendUser for the enforced variant.
func (s *AccountService) Suspend(ctx context.Context, userID, approverID string) (*models.User, error) {
	return s.transition(ctx, userID, approverID, models.TransitionSuspend)
}

// Get returns an account by id.
func (s *AccountService) Get(ctx context.Context, userID string) (*models.User, error) {
	ctx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, storeError(err, "failed to load user")
	}
	return user, nil
}

// List returns accounts matching filter with pagination metadata.
func (s *AccountService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown account status")
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}

	ctx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()
	users, total, err := s.users.List(ctx, filter)
	if err != nil {
		return nil, nil, storeError(err, "failed to list users")
	}
	return users, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

func (s *AccountService) transition(ctx context.Context, userID, approverID string, t models.AccountTransition) (*models.User, error) {
	if userID == "" || approverID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "user and approver are required")
	}

	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	user, err := s.load(storeCtx, userID)
	if err != nil {
		return nil, err
	}
	target, ok := t.Target(user.Status)
	if !ok {
		return nil, illegalTransition(user.Status, t)
	}

	now := s.now().UTC()
	change := models.StatusChange{UserID: userID, From: user.Status, To: target, At: now}
	if t == models.TransitionApprove {
		change.ApprovedBy = &approverID
		change.ApprovedAt = &now
	}

	applied, err := s.users.UpdateStatus(storeCtx, change)
	if err != nil {
		return nil, storeError(err, "failed to update account status")
	}
	if !applied {
		// Someone else moved the row since it was read.
		current, err := s.load(storeCtx, userID)
		if err != nil {
			return nil, err
		}
		if _, ok := t.Target(current.Status); !ok {
			return nil, illegalTransition(current.Status, t)
		}
		return nil, appErrors.Clone(appErrors.ErrConflict, "account changed concurrently")
	}

	user.Status = target
	user.UpdatedAt = now
	if change.ApprovedBy != nil {
		user.ApprovedBy = change.ApprovedBy
		user.ApprovedAt = change.ApprovedAt
	}

	recordQuietly(ctx, s.recorder, s.logger, RecordRequest{
		Kind:        models.RecordAudit,
		PrincipalID: &approverID,
		Action:      string(t),
		Resource:    userID,
	})
	s.logger.Info("account status changed",
		zap.String("user_id", userID),
		zap.String("from", string(change.From)),
		zap.String("to", string(target)),
		zap.String("approver_id", approverID),
	)
	return user, nil
}

func (s *AccountService) load(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, storeError(err, "failed to load user")
	}
	return user, nil
}

func illegalTransition(status models.AccountStatus, t models.AccountTransition) error {
	if status.Terminal() {
		return appErrors.Clone(appErrors.ErrTerminalState, fmt.Sprintf("account is %s; no further transitions allowed", status))
	}
	return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot %s an account in status %s", strings.ToLower(string(t)), status))
}
