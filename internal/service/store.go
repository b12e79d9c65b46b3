package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/clinical-iam/pkg/errors"
)

const defaultStoreTimeout = 3 * time.Second

// storeError classifies a backing store failure. Deadline and cancellation
// become Timeout, anything else StoreUnavailable. Typed errors pass through.
func storeError(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return appErrors.WrapAs(appErrors.ErrTimeout, err, message)
	}
	return appErrors.WrapAs(appErrors.ErrStoreUnavailable, err, message)
}

// withStoreTimeout bounds a store call by d on top of the caller's deadline.
func withStoreTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = defaultStoreTimeout
	}
	return context.WithTimeout(ctx, d)
}

// eventRecorder is the audit sink used by every component.
type eventRecorder interface {
	Record(ctx context.Context, req RecordRequest) error
}

// alertNotifier schedules a risk evaluation for a user.
type alertNotifier interface {
	Notify(ctx context.Context, userID string)
}

// recordQuietly writes an event and logs instead of failing the caller.
func recordQuietly(ctx context.Context, rec eventRecorder, logger *zap.Logger, req RecordRequest) {
	if rec == nil {
		return
	}
	if err := rec.Record(ctx, req); err != nil {
		logger.Warn("failed to record "+string(req.Kind)+" log",
			zap.String("action", req.Action),
			zap.Error(err),
		)
	}
}

func strPtr(s string) *string {
	return &s
}

// adminResource prefixes resource with the acting admin. Audit rows for admin
// actions carry no user id, so the actor is kept in the resource.
func adminResource(adminID, resource string) string {
	actor := "admin_user:" + adminID
	if resource == "" {
		return actor
	}
	return actor + "/" + resource
}
