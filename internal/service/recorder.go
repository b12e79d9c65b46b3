package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/clinical-iam/internal/ids"
	"github.com/noah-isme/clinical-iam/internal/models"
	appErrors "github.com/noah-isme/clinical-iam/pkg/errors"
	"github.com/noah-isme/clinical-iam/pkg/jobs"
)

// JobTypeAuditRetry identifies deferred audit writes on the retry queue.
const JobTypeAuditRetry = "audit.retry"

// RecordRequest describes one event to append. PrincipalID may be nil only
// for audit events.
type RecordRequest struct {
	Kind        models.RecordKind
	PrincipalID *string
	Action      string
	Resource    string
	IP          string
	Device      string
}

type auditRepository interface {
	CreateAudit(ctx context.Context, entry *models.AuditLog) error
	CreateActivity(ctx context.Context, entry *models.UserActivityLog) error
	ListAudit(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, error)
	ListActivity(ctx context.Context, userID string, since time.Time, limit int) ([]models.UserActivityLog, error)
}

// retryQueue is the subset of jobs.Queue the recorder needs.
type retryQueue interface {
	TryEnqueue(job jobs.Job) error
}

// Recorder appends audit and activity rows. Writes are best effort: a failed
// write is handed to the retry queue and reported, never propagated as a
// failure of the business operation that triggered it.
type Recorder struct {
	repo    auditRepository
	metrics *MetricsService
	logger  *zap.Logger
	timeout time.Duration
	clock   *principalClock
	now     func() time.Time

	mu    sync.RWMutex
	retry retryQueue
}

// NewRecorder constructs a Recorder.
func NewRecorder(repo auditRepository, metrics *MetricsService, logger *zap.Logger, storeTimeout time.Duration) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		repo:    repo,
		metrics: metrics,
		logger:  logger,
		timeout: storeTimeout,
		clock:   newPrincipalClock(),
		now:     time.Now,
	}
}

// AttachRetryQueue sets the queue that receives failed writes.
func (r *Recorder) AttachRetryQueue(q retryQueue) {
	r.mu.Lock()
	r.retry = q
	r.mu.Unlock()
}

// Record appends one event. Timestamps are strictly increasing per principal.
func (r *Recorder) Record(ctx context.Context, req RecordRequest) error {
	if strings.TrimSpace(req.Action) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "record action is required")
	}

	var entry interface{}
	switch req.Kind {
	case models.RecordActivity:
		if req.PrincipalID == nil || *req.PrincipalID == "" {
			return appErrors.Clone(appErrors.ErrValidation, "activity records require a principal")
		}
		at := r.clock.next(string(req.Kind)+":"+*req.PrincipalID, r.now())
		entry = &models.UserActivityLog{
			ID:        ids.NewAt(at),
			UserID:    *req.PrincipalID,
			Action:    req.Action,
			Resource:  req.Resource,
			IP:        req.IP,
			Device:    req.Device,
			CreatedAt: at,
		}
	case models.RecordAudit:
		key := "system"
		if req.PrincipalID != nil {
			key = *req.PrincipalID
		}
		at := r.clock.next(string(req.Kind)+":"+key, r.now())
		log := &models.AuditLog{
			ID:        ids.NewAt(at),
			UserID:    req.PrincipalID,
			Action:    req.Action,
			Resource:  req.Resource,
			CreatedAt: at,
		}
		if req.IP != "" {
			log.IP = strPtr(req.IP)
		}
		entry = log
	default:
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown record kind %q", req.Kind))
	}

	// Audit rows must land even when the triggering request is already done.
	writeCtx, cancel := withStoreTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	start := time.Now()
	err := r.write(writeCtx, entry)
	r.metrics.ObserveDBQuery("record_"+string(req.Kind), time.Since(start))
	if err == nil {
		return nil
	}

	r.metrics.RecordAuditFailure(string(req.Kind))
	if qErr := r.enqueue(entry); qErr != nil {
		r.logger.Error("audit entry dropped",
			zap.String("kind", string(req.Kind)),
			zap.String("action", req.Action),
			zap.Error(err),
			zap.NamedError("queue_error", qErr),
		)
		return storeError(err, "audit write failed")
	}
	return storeError(err, "audit write deferred to retry queue")
}

func (r *Recorder) write(ctx context.Context, entry interface{}) error {
	switch e := entry.(type) {
	case *models.AuditLog:
		return r.repo.CreateAudit(ctx, e)
	case *models.UserActivityLog:
		return r.repo.CreateActivity(ctx, e)
	default:
		return fmt.Errorf("unsupported audit entry %T", entry)
	}
}

func (r *Recorder) enqueue(entry interface{}) error {
	r.mu.RLock()
	q := r.retry
	r.mu.RUnlock()
	if q == nil {
		return jobs.ErrNotRunning
	}
	return q.TryEnqueue(jobs.Job{ID: ids.New(), Type: JobTypeAuditRetry, Payload: entry})
}

// HandleRetry is the jobs.Handler for the audit retry queue. Entries keep
// their original id and timestamp.
func (r *Recorder) HandleRetry(ctx context.Context, job jobs.Job) error {
	writeCtx, cancel := withStoreTimeout(ctx, r.timeout)
	defer cancel()
	return r.write(writeCtx, job.Payload)
}

// ListAudit returns audit rows matching filter.
func (r *Recorder) ListAudit(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, error) {
	storeCtx, cancel := withStoreTimeout(ctx, r.timeout)
	defer cancel()
	logs, err := r.repo.ListAudit(storeCtx, filter)
	if err != nil {
		return nil, storeError(err, "failed to list audit logs")
	}
	return logs, nil
}

// ListActivity returns up to limit activity rows for userID since the given time.
func (r *Recorder) ListActivity(ctx context.Context, userID string, since time.Time, limit int) ([]models.UserActivityLog, error) {
	storeCtx, cancel := withStoreTimeout(ctx, r.timeout)
	defer cancel()
	logs, err := r.repo.ListActivity(storeCtx, userID, since, limit)
	if err != nil {
		return nil, storeError(err, "failed to list activity logs")
	}
	return logs, nil
}

// principalClock hands out strictly increasing microsecond timestamps per key.
type principalClock struct {
	mu   sync.Mutex
	last map[string]time.Time
}

const principalClockPruneAt = 10000

func newPrincipalClock() *principalClock {
	return &principalClock{last: make(map[string]time.Time)}
}

func (c *principalClock) next(key string, now time.Time) time.Time {
	now = now.UTC().Truncate(time.Microsecond)

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.last[key]; ok && !now.After(prev) {
		now = prev.Add(time.Microsecond)
	}
	c.last[key] = now

	if len(c.last) > principalClockPruneAt {
		horizon := now.Add(-time.Second)
		for k, t := range c.last {
			if t.Before(horizon) {
				delete(c.last, k)
			}
		}
	}
	return now
}
