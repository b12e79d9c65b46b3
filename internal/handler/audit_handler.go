package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/clinical-iam/internal/models"
	"github.com/noah-isme/clinical-iam/internal/service"
	appErrors "github.com/noah-isme/clinical-iam/pkg/errors"
	"github.com/noah-isme/clinical-iam/pkg/response"
)

type auditExporter interface {
	Export(ctx context.Context, adminID string, filter models.AuditFilter, format string) (*service.ExportResult, error)
}

// AuditHandler serves audit trail downloads.
type AuditHandler struct {
	exporter auditExporter
}

// NewAuditHandler constructs an AuditHandler.
func NewAuditHandler(exporter auditExporter) *AuditHandler {
	return &AuditHandler{exporter: exporter}
}

// Export godoc
// @Summary Export audit trail
// @Description Download audit rows as CSV or PDF
// @Tags Audit
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv (default) or pdf"
// @Param from query string false "RFC3339 lower bound"
// @Param to query string false "RFC3339 upper bound"
// @Param action query string false "Action filter"
// @Param user_id query string false "User filter"
// @Param limit query int false "Maximum rows"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /admin/audit/export [get]
func (h *AuditHandler) Export(c *gin.Context) {
	claims, ok := currentAdmin(c)
	if !ok {
		return
	}

	filter := models.AuditFilter{Action: c.Query("action")}
	if userID := c.Query("user_id"); userID != "" {
		filter.UserID = &userID
	}
	var err error
	if filter.From, err = timeQuery(c, "from"); err != nil {
		response.Error(c, err)
		return
	}
	if filter.To, err = timeQuery(c, "to"); err != nil {
		response.Error(c, err)
		return
	}
	if filter.Limit, err = intQuery(c, "limit", 1000); err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.exporter.Export(c.Request.Context(), claims.PrincipalID, filter, c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, result.Filename, result.ContentType, result.Body)
}

func timeQuery(c *gin.Context, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, key+" must be RFC3339")
	}
	return &t, nil
}
