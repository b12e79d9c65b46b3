package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/clinical-iam/internal/models"
	"github.com/noah-isme/clinical-iam/internal/repository"
	"github.com/noah-isme/clinical-iam/internal/service"
	"github.com/noah-isme/clinical-iam/pkg/cache"
	"github.com/noah-isme/clinical-iam/pkg/config"
	"github.com/noah-isme/clinical-iam/pkg/database"
	"github.com/noah-isme/clinical-iam/pkg/jobs"
)

// app holds every wired component of the service.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *sqlx.DB
	redis  *redis.Client

	metrics     *service.MetricsService
	recorder    *service.Recorder
	resolver    *service.PermissionResolver
	accounts    *service.AccountService
	auth        *service.AuthService
	alerts      *service.AlertService
	gate        *service.AccessGate
	roles       *service.RoleService
	exports     *service.AuditExportService
	maintenance *service.TokenMaintenance

	auditRetry *jobs.Queue
	alertEval  *jobs.Queue
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, db: db, redis: redisClient}
	validate := validator.New()
	timeout := cfg.StoreTimeout

	users := repository.NewUserRepository(db)
	admins := repository.NewAdminUserRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	userTokenRepo := repository.NewTokenRepository[models.UserPrincipal](db)
	adminTokenRepo := repository.NewTokenRepository[models.AdminPrincipal](db)
	auditRepo := repository.NewAuditRepository(db)
	alertRepo := repository.NewAlertRepository(db)
	assignments := repository.NewAssignmentRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logger)

	a.metrics = service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, a.metrics, cfg.Permissions.CacheTTL, logger, redisClient != nil)
	credentials := service.NewCredentialStore(0)

	a.recorder = service.NewRecorder(auditRepo, a.metrics, logger, timeout)
	a.resolver = service.NewPermissionResolver(roleRepo, cacheSvc, service.PermissionResolverConfig{
		CacheTTL:     cfg.Permissions.CacheTTL,
		StoreTimeout: timeout,
	}, logger)
	a.accounts = service.NewAccountService(users, roleRepo, credentials, a.recorder, validate, logger, timeout).
		RestrictSelfService(cfg.Permissions.SelfServiceRoles...)

	scorer := service.NewRuleScorer(service.RuleLimits{
		FailedLogins:    cfg.Alerts.FailedLoginsLimit,
		DistinctIPs:     cfg.Alerts.DistinctIPsLimit,
		DistinctDevices: cfg.Alerts.DistinctDevicesLimit,
		RecordReads:     cfg.Alerts.RecordReadsLimit,
		AccessDenied:    cfg.Alerts.AccessDeniedLimit,
	})
	a.alerts = service.NewAlertService(alertRepo, a.recorder, scorer, a.recorder, a.metrics, logger, service.AlertConfig{
		Window:       cfg.Alerts.Window,
		WindowLimit:  cfg.Alerts.WindowLimit,
		Threshold:    cfg.Alerts.Threshold,
		StoreTimeout: timeout,
	})
	a.gate = service.NewAccessGate(users, a.resolver, assignments, a.recorder, a.alerts, a.metrics, logger, timeout)

	userTokens := service.NewTokenService[models.UserPrincipal](userTokenRepo, service.TokenConfig{
		TTL:          cfg.JWT.RefreshExpiration,
		StoreTimeout: timeout,
	}, a.metrics, logger)
	adminTokens := service.NewTokenService[models.AdminPrincipal](adminTokenRepo, service.TokenConfig{
		TTL:          cfg.AdminJWT.RefreshExpiration,
		StoreTimeout: timeout,
	}, a.metrics, logger)

	a.auth = service.NewAuthService(service.AuthDeps{
		Users:       users,
		Admins:      admins,
		Roles:       roleRepo,
		Credentials: credentials,
		Permissions: a.resolver,
		Accounts:    a.accounts,
		UserTokens:  userTokens,
		AdminTokens: adminTokens,
		Recorder:    a.recorder,
		Alerts:      a.alerts,
		Metrics:     a.metrics,
		Validator:   validate,
		Logger:      logger,
	}, service.AuthConfig{
		AccessTokenSecret:      cfg.JWT.Secret,
		Issuer:                 cfg.JWT.Issuer,
		AccessTokenExpiry:      cfg.JWT.Expiration,
		AdminAccessTokenExpiry: cfg.AdminJWT.Expiration,
		StoreTimeout:           timeout,
	})

	a.roles = service.NewRoleService(roleRepo, users, a.resolver, a.recorder, validate, logger, timeout)
	a.exports = service.NewAuditExportService(a.recorder, a.recorder, logger)
	a.maintenance = service.NewTokenMaintenance(userTokens, adminTokens, a.recorder, logger)

	return a, nil
}

// startWorkers runs the audit retry and alert evaluation queues until ctx ends.
func (a *app) startWorkers(ctx context.Context) {
	a.auditRetry = jobs.NewQueue("audit-retry", a.recorder.HandleRetry, jobs.QueueConfig{
		Workers:    a.cfg.Audit.RetryWorkers,
		MaxRetries: a.cfg.Audit.RetryAttempts,
		RetryDelay: a.cfg.Audit.RetryDelay,
		Logger:     a.logger,
		OnDrop: func(job jobs.Job, err error) {
			a.metrics.RecordAuditFailure("dropped")
			a.logger.Error("audit entry dropped", zap.String("job_id", job.ID), zap.Error(err))
		},
	})
	a.alertEval = jobs.NewQueue("alert-eval", a.alerts.HandleJob, jobs.QueueConfig{
		Workers:    a.cfg.Alerts.Workers,
		MaxRetries: 1,
		Logger:     a.logger,
	})
	a.auditRetry.Start(ctx)
	a.alertEval.Start(ctx)
	a.recorder.AttachRetryQueue(a.auditRetry)
	a.alerts.AttachQueue(a.alertEval)
}

func (a *app) stopWorkers() {
	if a.alertEval != nil {
		a.alertEval.Stop()
	}
	if a.auditRetry != nil {
		a.auditRetry.Stop()
	}
}

// purgeLoop deletes expired refresh tokens every interval until ctx ends.
func (a *app) purgeLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := a.maintenance.PurgeExpired(ctx); err != nil {
				a.logger.Warn("token purge failed", zap.Error(err))
			}
		}
	}
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
