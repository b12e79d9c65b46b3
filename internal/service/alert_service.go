package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/clinical-iam/internal/models"
	"github.com/noah-isme/clinical-iam/internal/repository"
	appErrors "github.com/noah-isme/clinical-iam/pkg/errors"
	"github.com/noah-isme/clinical-iam/pkg/jobs"
)

// JobTypeAlertEvaluate identifies queued risk evaluations.
const JobTypeAlertEvaluate = "alert.evaluate"

// ActivityWindow is the bounded recent activity of one user, newest first.
type ActivityWindow struct {
	UserID  string
	Since   time.Time
	Until   time.Time
	Entries []models.UserActivityLog
}

// RiskFinding is one scored signal. Reason is the dedupe key of the alert.
type RiskFinding struct {
	Reason string
	Score  int
}

// RiskScorer turns an activity window into findings.
type RiskScorer interface {
	Score(window ActivityWindow) []RiskFinding
}

// RuleLimits are the counts at which each rule scores the alert threshold.
type RuleLimits struct {
	FailedLogins    int
	DistinctIPs     int
	DistinctDevices int
	RecordReads     int
	AccessDenied    int
}

// RuleScorer is the default count based scorer. A rule scores 50 when its
// count reaches the limit and grows linearly up to 100 at twice the limit.
type RuleScorer struct {
	limits RuleLimits
}

// NewRuleScorer constructs a RuleScorer; zero limits disable a rule.
func NewRuleScorer(limits RuleLimits) *RuleScorer {
	return &RuleScorer{limits: limits}
}

// Score implements RiskScorer.
func (r *RuleScorer) Score(window ActivityWindow) []RiskFinding {
	var failed, reads, denied int
	ips := map[string]struct{}{}
	devices := map[string]struct{}{}

	for _, entry := range window.Entries {
		switch entry.Action {
		case models.ActivityLoginFailed:
			failed++
		case models.ActivityRecordAccess:
			reads++
		case models.ActivityAccessDenied:
			denied++
		case models.ActivityLogin, models.ActivityRefresh:
			if entry.IP != "" {
				ips[entry.IP] = struct{}{}
			}
			if entry.Device != "" {
				devices[entry.Device] = struct{}{}
			}
		}
	}

	var findings []RiskFinding
	add := func(reason string, count, limit int) {
		if limit <= 0 || count == 0 {
			return
		}
		findings = append(findings, RiskFinding{Reason: reason, Score: min(100, count*50/limit)})
	}
	add(models.AlertReasonFailedLogins, failed, r.limits.FailedLogins)
	add(models.AlertReasonDistinctIPs, len(ips), r.limits.DistinctIPs)
	add(models.AlertReasonDistinctDevices, len(devices), r.limits.DistinctDevices)
	add(models.AlertReasonRecordVolume, reads, r.limits.RecordReads)
	add(models.AlertReasonAccessDenied, denied, r.limits.AccessDenied)
	return findings
}

type alertRepository interface {
	FindByID(ctx context.Context, id string) (*models.SecurityAlert, error)
	FindUnresolved(ctx context.Context, userID, reason string) (*models.SecurityAlert, error)
	Create(ctx context.Context, alert *models.SecurityAlert) error
	MarkResolved(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, filter models.AlertFilter) ([]models.SecurityAlert, error)
}

type activitySource interface {
	ListActivity(ctx context.Context, userID string, since time.Time, limit int) ([]models.UserActivityLog, error)
}

// evaluationQueue is the subset of jobs.Queue used to defer evaluations.
type evaluationQueue interface {
	Running() bool
	TryEnqueue(job jobs.Job) error
}

// AlertConfig configures the alert engine.
type AlertConfig struct {
	Window       time.Duration
	WindowLimit  int
	Threshold    int
	StoreTimeout time.Duration
}

// AlertService evaluates user activity and raises or resolves alerts. At most
// one unresolved alert exists per (user, reason).
type AlertService struct {
	alerts   alertRepository
	activity activitySource
	scorer   RiskScorer
	recorder eventRecorder
	metrics  *MetricsService
	logger   *zap.Logger
	cfg      AlertConfig
	now      func() time.Time
	queue    evaluationQueue
}

// NewAlertService constructs an AlertService.
func NewAlertService(alerts alertRepository, activity activitySource, scorer RiskScorer, recorder eventRecorder, metrics *MetricsService, logger *zap.Logger, cfg AlertConfig) *AlertService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	if cfg.WindowLimit <= 0 {
		cfg.WindowLimit = 500
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 50
	}
	return &AlertService{
		alerts:   alerts,
		activity: activity,
		scorer:   scorer,
		recorder: recorder,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// AttachQueue routes Notify through q while it is running.
func (s *AlertService) AttachQueue(q evaluationQueue) {
	s.queue = q
}

// Evaluate scores the recent activity of userID and raises an alert for each
// finding at or above the threshold that has no open alert yet. It returns
// only the alerts created by this call.
func (s *AlertService) Evaluate(ctx context.Context, userID string) ([]models.SecurityAlert, error) {
	if userID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "user id is required")
	}

	storeCtx, cancel := withStoreTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	now := s.now().UTC()
	since := now.Add(-s.cfg.Window)
	entries, err := s.activity.ListActivity(storeCtx, userID, since, s.cfg.WindowLimit)
	if err != nil {
		return nil, storeError(err, "failed to load activity window")
	}

	findings := s.scorer.Score(ActivityWindow{UserID: userID, Since: since, Until: now, Entries: entries})
	sort.Slice(findings, func(i, j int) bool { return findings[i].Reason < findings[j].Reason })

	var raised []models.SecurityAlert
	for _, finding := range findings {
		if finding.Score < s.cfg.Threshold {
			continue
		}

		_, err := s.alerts.FindUnresolved(storeCtx, userID, finding.Reason)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return raised, storeError(err, "failed to check open alerts")
		}

		alert := models.SecurityAlert{UserID: userID, RiskScore: finding.Score, Reason: finding.Reason, CreatedAt: now}
		if err := s.alerts.Create(storeCtx, &alert); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				continue
			}
			return raised, storeError(err, "failed to raise alert")
		}
		s.metrics.RecordAlertRaised(finding.Reason)
		s.logger.Warn("security alert raised",
			zap.String("user_id", userID),
			zap.String("reason", finding.Reason),
			zap.Int("risk_score", finding.Score),
		)
		raised = append(raised, alert)
	}
	return raised, nil
}

// Notify schedules an evaluation of userID. With a running queue the work is
// deferred; otherwise it runs inline. Failures are logged.
func (s *AlertService) Notify(ctx context.Context, userID string) {
	if s.queue != nil && s.queue.Running() {
		err := s.queue.TryEnqueue(jobs.Job{ID: userID, Type: JobTypeAlertEvaluate, Payload: userID})
		if err == nil {
			return
		}
		if errors.Is(err, jobs.ErrQueueFull) {
			s.logger.Warn("alert evaluation skipped", zap.String("user_id", userID), zap.Error(err))
			return
		}
	}
	if _, err := s.Evaluate(ctx, userID); err != nil {
		s.logger.Warn("alert evaluation failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// HandleJob is the jobs.Handler for the evaluation queue.
func (s *AlertService) HandleJob(ctx context.Context, job jobs.Job) error {
	userID, ok := job.Payload.(string)
	if !ok {
		return fmt.Errorf("unexpected alert job payload %T", job.Payload)
	}
	_, err := s.Evaluate(ctx, userID)
	return err
}

// Resolve marks an alert resolved. Resolution is one way: resolving an
// already resolved alert fails with InvalidTransition.
func (s *AlertService) Resolve(ctx context.Context, alertID, resolverID string) (*models.SecurityAlert, error) {
	storeCtx, cancel := withStoreTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	alert, err := s.alerts.FindByID(storeCtx, alertID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "alert not found")
		}
		return nil, storeError(err, "failed to load alert")
	}
	if alert.Resolved {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "alert already resolved")
	}

	changed, err := s.alerts.MarkResolved(storeCtx, alertID)
	if err != nil {
		return nil, storeError(err, "failed to resolve alert")
	}
	if !changed {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "alert already resolved")
	}
	alert.Resolved = true

	recordQuietly(ctx, s.recorder, s.logger, RecordRequest{
		Kind:        models.RecordAudit,
		PrincipalID: &resolverID,
		Action:      models.AuditActionAlertResolve,
		Resource:    "security_alert:" + alertID,
	})
	return alert, nil
}

// List returns alerts matching filter.
func (s *AlertService) List(ctx context.Context, filter models.AlertFilter) ([]models.SecurityAlert, error) {
	storeCtx, cancel := withStoreTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	alerts, err := s.alerts.List(storeCtx, filter)
	if err != nil {
		return nil, storeError(err, "failed to list alerts")
	}
	return alerts, nil
}
