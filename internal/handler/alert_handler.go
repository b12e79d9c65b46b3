package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/clinical-iam/internal/models"
	appErrors "github.com/noah-isme/clinical-iam/pkg/errors"
	"github.com/noah-isme/clinical-iam/pkg/response"
)

type alertService interface {
	List(ctx context.Context, filter models.AlertFilter) ([]models.SecurityAlert, error)
	Evaluate(ctx context.Context, userID string) ([]models.SecurityAlert, error)
	Resolve(ctx context.Context, alertID, resolverID string) (*models.SecurityAlert, error)
}

// AlertHandler serves security alerts to holders of alert:manage.
type AlertHandler struct {
	alerts alertService
}

// NewAlertHandler constructs an AlertHandler.
func NewAlertHandler(alerts alertService) *AlertHandler {
	return &AlertHandler{alerts: alerts}
}

// List godoc
// @Summary List security alerts
// @Tags Alerts
// @Produce json
// @Param user_id query string false "Only alerts for this user"
// @Param unresolved query bool false "Only unresolved alerts"
// @Param limit query int false "Maximum rows"
// @Success 200 {object} response.Envelope
// @Router /alerts [get]
func (h *AlertHandler) List(c *gin.Context) {
	filter := models.AlertFilter{UserID: c.Query("user_id")}
	if raw := c.Query("unresolved"); raw != "" {
		only, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unresolved must be a boolean"))
			return
		}
		filter.UnresolvedOnly = only
	}
	limit, err := intQuery(c, "limit", 100)
	if err != nil {
		response.Error(c, err)
		return
	}
	filter.Limit = limit

	alerts, err := h.alerts.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, alerts, nil)
}

// Evaluate godoc
// @Summary Evaluate a user's recent activity
// @Description Runs the risk rules now and returns any alert raised by this run
// @Tags Alerts
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /alerts/evaluate/{userId} [post]
func (h *AlertHandler) Evaluate(c *gin.Context) {
	raised, err := h.alerts.Evaluate(c.Request.Context(), c.Param("userId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, raised, nil)
}

// Resolve godoc
// @Summary Resolve alert
// @Tags Alerts
// @Produce json
// @Param id path string true "Alert ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /alerts/{id}/resolve [post]
func (h *AlertHandler) Resolve(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	alert, err := h.alerts.Resolve(c.Request.Context(), c.Param("id"), claims.PrincipalID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, alert, nil)
}
