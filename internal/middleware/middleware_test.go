package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/clinical-iam/internal/models"
	"github.com/noah-isme/clinical-iam/internal/service"
	appErrors "github.com/noah-isme/clinical-iam/pkg/errors"
)

type stubValidator struct {
	claims *models.JWTClaims
}

func (s stubValidator) ValidateAccessToken(token, kind string) (*models.JWTClaims, error) {
	if token != "good" || s.claims == nil || s.claims.Kind != kind {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return s.claims, nil
}

type stubChecker struct {
	allowed bool
	err     error
	calls   []string
}

func (s *stubChecker) Permitted(ctx context.Context, principalID, permission string) (bool, error) {
	s.calls = append(s.calls, principalID+":"+permission)
	return s.allowed, s.err
}

func (s *stubChecker) Authorize(ctx context.Context, principalID, permission string, ownerID *string) (bool, error) {
	owner := "<none>"
	if ownerID != nil {
		owner = *ownerID
	}
	s.calls = append(s.calls, principalID+":"+permission+":"+owner)
	return s.allowed, s.err
}

type stubRecorder struct {
	mu       sync.Mutex
	requests []service.RecordRequest
}

func (s *stubRecorder) Record(ctx context.Context, req service.RecordRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return nil
}

func userClaims() *models.JWTClaims {
	return &models.JWTClaims{PrincipalID: "u-1", Kind: models.KindUser}
}

func serve(router *gin.Engine, method, path, auth string) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestJWTPerSurface(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	validator := stubValidator{claims: userClaims()}
	router.GET("/user", JWT(validator), func(c *gin.Context) {
		claims, ok := UserClaims(c)
		if !ok || claims.PrincipalID != "u-1" {
			t.Fatalf("claims not set")
		}
		c.Status(http.StatusNoContent)
	})
	router.GET("/admin", AdminJWT(validator), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	cases := []struct {
		path, auth string
		want       int
	}{
		{"/user", "Bearer good", http.StatusNoContent},
		{"/user", "", http.StatusUnauthorized},
		{"/user", "Basic good", http.StatusUnauthorized},
		{"/user", "Bearer bad", http.StatusUnauthorized},
		{"/admin", "Bearer good", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		if got := serve(router, http.MethodGet, tc.path, tc.auth).Code; got != tc.want {
			t.Fatalf("%s with %q: status %d, want %d", tc.path, tc.auth, got, tc.want)
		}
	}
}

func TestRequirePermission(t *testing.T) {
	gin.SetMode(gin.TestMode)
	checker := &stubChecker{}
	router := gin.New()
	router.POST("/approve", JWT(stubValidator{claims: userClaims()}), RequirePermission(checker, models.PermissionAccountApprove), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	if got := serve(router, http.MethodPost, "/approve", "Bearer good").Code; got != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", got)
	}
	checker.allowed = true
	if got := serve(router, http.MethodPost, "/approve", "Bearer good").Code; got != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", got)
	}
	checker.err = appErrors.Clone(appErrors.ErrStoreUnavailable, "")
	if got := serve(router, http.MethodPost, "/approve", "Bearer good").Code; got != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", got)
	}
	if len(checker.calls) != 3 || checker.calls[0] != "u-1:account:approve" {
		t.Fatalf("unexpected checker calls: %v", checker.calls)
	}
}

func TestClinicalAccessPassesOwner(t *testing.T) {
	gin.SetMode(gin.TestMode)
	gate := &stubChecker{allowed: true}
	router := gin.New()
	router.GET("/patients/:ownerId", JWT(stubValidator{claims: userClaims()}), ClinicalAccess(gate, models.PermissionPatientRead, "ownerId"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.GET("/lab-reports", JWT(stubValidator{claims: userClaims()}), ClinicalAccess(gate, models.PermissionLabReportRead, ""), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	if got := serve(router, http.MethodGet, "/patients/p-9", "Bearer good").Code; got != http.StatusOK {
		t.Fatalf("expected 200, got %d", got)
	}
	if got := serve(router, http.MethodGet, "/lab-reports", "Bearer good").Code; got != http.StatusOK {
		t.Fatalf("expected 200, got %d", got)
	}
	want := []string{"u-1:patient:read:p-9", "u-1:lab_report:read:<none>"}
	if len(gate.calls) != 2 || gate.calls[0] != want[0] || gate.calls[1] != want[1] {
		t.Fatalf("unexpected gate calls: %v", gate.calls)
	}

	gate.allowed = false
	if got := serve(router, http.MethodGet, "/patients/p-9", "Bearer good").Code; got != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", got)
	}
}

func TestRateLimitPerIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewIPRateLimiter(0.001, 2)
	router := gin.New()
	router.POST("/login", RateLimit(limiter), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	send := func(ip string) int {
		recorder := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = ip + ":40000"
		router.ServeHTTP(recorder, req)
		return recorder.Code
	}

	for i := 0; i < 2; i++ {
		if got := send("192.0.2.1"); got != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, got)
		}
	}
	if got := send("192.0.2.1"); got != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", got)
	}
	if got := send("192.0.2.2"); got != http.StatusOK {
		t.Fatalf("other ip should not be throttled, got %d", got)
	}

	if removed := limiter.Sweep(time.Now().Add(10 * time.Minute)); removed != 2 {
		t.Fatalf("expected 2 idle buckets swept, got %d", removed)
	}
}

func TestAdminAuditRecordsSuccessfulReads(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := &stubRecorder{}
	admin := &models.JWTClaims{PrincipalID: "a-1", Kind: models.KindAdmin}
	router := gin.New()
	router.GET("/admin/roles", AdminJWT(stubValidator{claims: admin}), AdminAudit(rec, nil, models.AuditActionAdminRead), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.GET("/admin/fail", AdminJWT(stubValidator{claims: admin}), AdminAudit(rec, nil, models.AuditActionAdminRead), func(c *gin.Context) {
		c.Status(http.StatusBadRequest)
	})

	serve(router, http.MethodGet, "/admin/roles", "Bearer good")
	serve(router, http.MethodGet, "/admin/fail", "Bearer good")

	if len(rec.requests) != 1 {
		t.Fatalf("expected one audit row, got %d", len(rec.requests))
	}
	got := rec.requests[0]
	if got.PrincipalID != nil || got.Resource != "admin_user:a-1/GET /admin/roles" || got.Action != models.AuditActionAdminRead {
		t.Fatalf("unexpected audit request: %+v", got)
	}
}

type observation struct {
	method, path string
	status       int
}

type stubObserver struct {
	seen []observation
}

func (s *stubObserver) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	s.seen = append(s.seen, observation{method, path, status})
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	obs := &stubObserver{}
	router := gin.New()
	router.Use(Metrics(obs))
	router.GET("/accounts/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(router, http.MethodGet, "/accounts/123", "")
	serve(router, http.MethodGet, "/nowhere/123", "")

	if len(obs.seen) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(obs.seen))
	}
	if obs.seen[0].path != "/accounts/:id" || obs.seen[1].path != unmatchedRoute || obs.seen[1].status != http.StatusNotFound {
		t.Fatalf("unexpected observations: %+v", obs.seen)
	}
}

func TestBearerToken(t *testing.T) {
	if _, err := bearerToken("Bearer "); !errors.Is(err, appErrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for empty bearer, got %v", err)
	}
	if token, err := bearerToken("bearer abc"); err != nil || token != "abc" {
		t.Fatalf("unexpected result %q %v", token, err)
	}
}
