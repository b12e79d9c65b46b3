package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/clinical-iam/internal/models"
)

type gateUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type assignmentRepository interface {
	Exists(ctx context.Context, doctorID, patientID string) (bool, error)
	ListByDoctor(ctx context.Context, doctorID string) ([]models.DoctorPatientAssignment, error)
	ListByPatient(ctx context.Context, patientID string) ([]models.DoctorPatientAssignment, error)
}

// AccessGate authorizes reads and writes of clinical records. A principal
// needs an APPROVED account and the permission; touching another user's
// records additionally needs a live doctor to patient assignment.
type AccessGate struct {
	users        gateUserRepository
	permissions  permissionSource
	assignments  assignmentRepository
	recorder     eventRecorder
	alerts       alertNotifier
	metrics      *MetricsService
	logger       *zap.Logger
	storeTimeout time.Duration
}

// NewAccessGate constructs an AccessGate. alerts may be nil.
func NewAccessGate(users gateUserRepository, permissions permissionSource, assignments assignmentRepository, recorder eventRecorder, alerts alertNotifier, metrics *MetricsService, logger *zap.Logger, storeTimeout time.Duration) *AccessGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessGate{
		users:        users,
		permissions:  permissions,
		assignments:  assignments,
		recorder:     recorder,
		alerts:       alerts,
		metrics:      metrics,
		logger:       logger,
		storeTimeout: storeTimeout,
	}
}

// Authorize decides whether principalID may exercise permission on a
// resource owned by ownerID (nil when the resource has no owning user).
// An error is returned only when the decision could not be made.
func (g *AccessGate) Authorize(ctx context.Context, principalID, permission string, ownerID *string) (bool, error) {
	storeCtx, cancel := withStoreTimeout(ctx, g.storeTimeout)
	defer cancel()

	user, err := g.users.FindByID(storeCtx, principalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			g.metrics.RecordAccessDecision(permission, false)
			return false, nil
		}
		return false, storeError(err, "failed to load principal")
	}
	if user.Status != models.AccountApproved {
		return g.deny(ctx, principalID, permission, ownerID, "account not approved"), nil
	}

	perms, err := g.permissions.EffectivePermissions(ctx, user.RoleID)
	if err != nil {
		return false, err
	}
	if !perms.Has(permission) {
		return g.deny(ctx, principalID, permission, ownerID, "permission not granted"), nil
	}

	if ownerID != nil && *ownerID != principalID {
		assigned, err := g.assignments.Exists(storeCtx, principalID, *ownerID)
		if err != nil {
			return false, storeError(err, "failed to check assignment")
		}
		if !assigned {
			return g.deny(ctx, principalID, permission, ownerID, "no doctor patient assignment"), nil
		}
	}

	g.metrics.RecordAccessDecision(permission, true)
	recordQuietly(ctx, g.recorder, g.logger, RecordRequest{
		Kind:        models.RecordActivity,
		PrincipalID: &principalID,
		Action:      models.ActivityRecordAccess,
		Resource:    resourceLabel(permission, ownerID),
	})
	return true, nil
}

// Permitted reports whether principalID is an APPROVED account whose role
// grants permission. Unlike Authorize it writes no activity; route guards use
// it for non-clinical operations.
func (g *AccessGate) Permitted(ctx context.Context, principalID, permission string) (bool, error) {
	storeCtx, cancel := withStoreTimeout(ctx, g.storeTimeout)
	user, err := g.users.FindByID(storeCtx, principalID)
	cancel()
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, storeError(err, "failed to load principal")
	}
	if user.Status != models.AccountApproved {
		g.metrics.RecordAccessDecision(permission, false)
		return false, nil
	}
	perms, err := g.permissions.EffectivePermissions(ctx, user.RoleID)
	if err != nil {
		return false, err
	}
	allowed := perms.Has(permission)
	g.metrics.RecordAccessDecision(permission, allowed)
	return allowed, nil
}

// AuthorizeRecord is Authorize for a concrete clinical record.
func (g *AccessGate) AuthorizeRecord(ctx context.Context, principalID, permission string, record models.ClinicalRecord) (bool, error) {
	return g.Authorize(ctx, principalID, permission, record.OwnerUserID())
}

// Assignments returns the edges where userID is the doctor and where userID
// is the patient.
func (g *AccessGate) Assignments(ctx context.Context, userID string) (asDoctor, asPatient []models.DoctorPatientAssignment, err error) {
	storeCtx, cancel := withStoreTimeout(ctx, g.storeTimeout)
	defer cancel()

	if asDoctor, err = g.assignments.ListByDoctor(storeCtx, userID); err != nil {
		return nil, nil, storeError(err, "failed to list assignments")
	}
	if asPatient, err = g.assignments.ListByPatient(storeCtx, userID); err != nil {
		return nil, nil, storeError(err, "failed to list assignments")
	}
	return asDoctor, asPatient, nil
}

func (g *AccessGate) deny(ctx context.Context, principalID, permission string, ownerID *string, reason string) bool {
	g.metrics.RecordAccessDecision(permission, false)
	g.logger.Info("clinical access denied",
		zap.String("principal_id", principalID),
		zap.String("permission", permission),
		zap.String("reason", reason),
	)
	recordQuietly(ctx, g.recorder, g.logger, RecordRequest{
		Kind:        models.RecordActivity,
		PrincipalID: &principalID,
		Action:      models.ActivityAccessDenied,
		Resource:    resourceLabel(permission, ownerID),
	})
	if g.alerts != nil {
		g.alerts.Notify(ctx, principalID)
	}
	return false
}

func resourceLabel(permission string, ownerID *string) string {
	if ownerID == nil {
		return permission
	}
	return permission + " owner:" + *ownerID
}
