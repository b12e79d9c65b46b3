package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/clinical-iam/internal/models"
	"github.com/noah-isme/clinical-iam/pkg/response"
)

type recordAuthorizer interface {
	Authorize(ctx context.Context, principalID, permission string, ownerID *string) (bool, error)
	Assignments(ctx context.Context, userID string) (asDoctor, asPatient []models.DoctorPatientAssignment, err error)
}

// AssignmentsResponse lists the caller's doctor/patient edges.
type AssignmentsResponse struct {
	AsDoctor  []models.DoctorPatientAssignment `json:"as_doctor"`
	AsPatient []models.DoctorPatientAssignment `json:"as_patient"`
}

// AccessCheckRequest asks whether the caller may use permission on a record
// owned by OwnerID.
type AccessCheckRequest struct {
	Permission string  `json:"permission" binding:"required"`
	OwnerID    *string `json:"owner_id"`
}

// AccessHandler answers access decisions for the clinical record services.
type AccessHandler struct {
	gate recordAuthorizer
}

// NewAccessHandler constructs an AccessHandler.
func NewAccessHandler(gate recordAuthorizer) *AccessHandler {
	return &AccessHandler{gate: gate}
}

// Check godoc
// @Summary Check clinical access
// @Description Decide whether the caller may use a permission on a record owned by owner_id. Denials are logged as ACCESS_DENIED activity.
// @Tags Access
// @Accept json
// @Produce json
// @Param payload body AccessCheckRequest true "Decision request"
// @Success 200 {object} response.Envelope
// @Router /access/check [post]
func (h *AccessHandler) Check(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	var req AccessCheckRequest
	if !bindJSON(c, &req, "permission required") {
		return
	}

	allowed, err := h.gate.Authorize(c.Request.Context(), claims.PrincipalID, req.Permission, req.OwnerID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"allowed": allowed}, nil)
}

// Assignments godoc
// @Summary List caller assignments
// @Description Lists the doctor/patient assignments in which the caller is the doctor or the patient
// @Tags Access
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /access/assignments [get]
func (h *AccessHandler) Assignments(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	asDoctor, asPatient, err := h.gate.Assignments(c.Request.Context(), claims.PrincipalID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if asDoctor == nil {
		asDoctor = []models.DoctorPatientAssignment{}
	}
	if asPatient == nil {
		asPatient = []models.DoctorPatientAssignment{}
	}
	response.JSON(c, http.StatusOK, AssignmentsResponse{AsDoctor: asDoctor, AsPatient: asPatient}, nil)
}
