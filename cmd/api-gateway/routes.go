package main

import (
	"context"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/clinical-iam/api/swagger"
	"github.com/noah-isme/clinical-iam/internal/handler"
	"github.com/noah-isme/clinical-iam/internal/middleware"
	"github.com/noah-isme/clinical-iam/internal/models"
	"github.com/noah-isme/clinical-iam/pkg/config"
	"github.com/noah-isme/clinical-iam/pkg/logger"
	corsmiddleware "github.com/noah-isme/clinical-iam/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/clinical-iam/pkg/middleware/requestid"
)

func newRouter(a *app, limiter *middleware.IPRateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(a.logger))
	r.Use(corsmiddleware.New(a.cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(a.metrics))

	probes := map[string]handler.Probe{
		"postgres": a.db.PingContext,
	}
	if a.redis != nil {
		probes["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	metricsHandler := handler.NewMetricsHandler(a.metrics, probes)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if a.cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authHandler := handler.NewAuthHandler(a.auth, a.accounts)
	accountHandler := handler.NewAccountHandler(a.accounts, a.auth)
	alertHandler := handler.NewAlertHandler(a.alerts)
	accessHandler := handler.NewAccessHandler(a.gate)
	adminAuthHandler := handler.NewAdminAuthHandler(a.auth)
	roleHandler := handler.NewRoleHandler(a.roles)
	auditHandler := handler.NewAuditHandler(a.exports)

	loginLimit := middleware.RateLimit(limiter)
	userAuth := middleware.JWT(a.auth)
	api := r.Group(a.cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/register", loginLimit, authHandler.Register)
	auth.POST("/login", loginLimit, authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", userAuth, authHandler.Logout)
	auth.POST("/logout-all", userAuth, authHandler.LogoutAll)
	auth.POST("/change-password", userAuth, authHandler.ChangePassword)
	auth.GET("/me", userAuth, authHandler.Me)

	accounts := api.Group("/accounts", userAuth, middleware.RequirePermission(a.gate, models.PermissionAccountApprove))
	accounts.GET("", accountHandler.List)
	accounts.GET("/:id", accountHandler.Get)
	accounts.POST("/:id/approve", accountHandler.Approve)
	accounts.POST("/:id/reject", accountHandler.Reject)
	accounts.POST("/:id/suspend", accountHandler.Suspend)

	alerts := api.Group("/alerts", userAuth, middleware.RequirePermission(a.gate, models.PermissionAlertManage))
	alerts.GET("", alertHandler.List)
	alerts.POST("/evaluate/:userId", alertHandler.Evaluate)
	alerts.POST("/:id/resolve", alertHandler.Resolve)

	api.POST("/access/check", userAuth, accessHandler.Check)
	api.GET("/access/assignments", userAuth, accessHandler.Assignments)

	admin := api.Group("/admin")
	admin.POST("/auth/login", loginLimit, adminAuthHandler.Login)
	admin.POST("/auth/refresh", adminAuthHandler.Refresh)

	secured := admin.Group("", middleware.AdminJWT(a.auth))
	secured.POST("/auth/logout", adminAuthHandler.Logout)

	adminRead := middleware.AdminAudit(a.recorder, a.logger, models.AuditActionAdminRead)
	secured.GET("/roles", adminRead, roleHandler.ListRoles)
	secured.POST("/roles", roleHandler.CreateRole)
	secured.PUT("/roles/:id", roleHandler.UpdateRole)
	secured.DELETE("/roles/:id", roleHandler.DeleteRole)
	secured.PUT("/roles/:id/permissions/:permissionId", roleHandler.Grant)
	secured.DELETE("/roles/:id/permissions/:permissionId", roleHandler.Revoke)
	secured.GET("/permissions", adminRead, roleHandler.ListPermissions)
	secured.POST("/permissions", roleHandler.CreatePermission)
	// The export writes its own AUDIT_EXPORT entry.
	secured.GET("/audit/export", auditHandler.Export)

	return r
}
