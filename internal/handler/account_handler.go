package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/clinical-iam/internal/models"
	appErrors "github.com/noah-isme/clinical-iam/pkg/errors"
	"github.com/noah-isme/clinical-iam/pkg/response"
)

type accountService interface {
	Approve(ctx context.Context, userID, approverID string) (*models.User, error)
	Reject(ctx context.Context, userID, approverID string) (*models.User, error)
	Get(ctx context.Context, userID string) (*models.User, error)
	List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error)
}

// suspender revokes sessions alongside the status change.
type suspender interface {
	SuspendUser(ctx context.Context, userID, approverID string) (*models.User, error)
}

// AccountHandler exposes the approval workflow to approvers.
type AccountHandler struct {
	accounts accountService
	suspend  suspender
}

// NewAccountHandler constructs an AccountHandler.
func NewAccountHandler(accounts accountService, suspend suspender) *AccountHandler {
	return &AccountHandler{accounts: accounts, suspend: suspend}
}

// List godoc
// @Summary List accounts
// @Tags Accounts
// @Produce json
// @Param status query string false "PENDING, APPROVED, SUSPENDED or REJECTED"
// @Param role_id query string false "Role filter"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /accounts [get]
func (h *AccountHandler) List(c *gin.Context) {
	filter := models.UserFilter{RoleID: c.Query("role_id")}
	if raw := c.Query("status"); raw != "" {
		status := models.AccountStatus(strings.ToUpper(raw))
		if !status.Valid() {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown account status"))
			return
		}
		filter.Status = &status
	}
	var err error
	if filter.Page, err = intQuery(c, "page", 1); err != nil {
		response.Error(c, err)
		return
	}
	if filter.PageSize, err = intQuery(c, "page_size", 20); err != nil {
		response.Error(c, err)
		return
	}

	users, pagination, err := h.accounts.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, users, pagination)
}

// Get godoc
// @Summary Get account
// @Tags Accounts
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /accounts/{id} [get]
func (h *AccountHandler) Get(c *gin.Context) {
	user, err := h.accounts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// Approve godoc
// @Summary Approve account
// @Description PENDING or SUSPENDED to APPROVED
// @Tags Accounts
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /accounts/{id}/approve [post]
func (h *AccountHandler) Approve(c *gin.Context) {
	h.transition(c, h.accounts.Approve)
}

// Reject godoc
// @Summary Reject account
// @Description PENDING to REJECTED, which is terminal
// @Tags Accounts
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /accounts/{id}/reject [post]
func (h *AccountHandler) Reject(c *gin.Context) {
	h.transition(c, h.accounts.Reject)
}

// Suspend godoc
// @Summary Suspend account
// @Description APPROVED to SUSPENDED; all refresh tokens of the user are revoked
// @Tags Accounts
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /accounts/{id}/suspend [post]
func (h *AccountHandler) Suspend(c *gin.Context) {
	h.transition(c, h.suspend.SuspendUser)
}

func (h *AccountHandler) transition(c *gin.Context, apply func(ctx context.Context, userID, approverID string) (*models.User, error)) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	user, err := apply(c.Request.Context(), c.Param("id"), claims.PrincipalID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

func intQuery(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, appErrors.Clone(appErrors.ErrValidation, key+" must be a positive integer")
	}
	return v, nil
}
