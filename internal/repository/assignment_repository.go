package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/clinical-iam/internal/models"
)

// AssignmentRepository reads doctor to patient edges. Both columns are
// indexed so lookups work from either side.
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository creates a new instance of AssignmentRepository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// Exists reports whether the (doctor, patient) edge is present.
func (r *AssignmentRepository) Exists(ctx context.Context, doctorID, patientID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM doctor_patient_assignments WHERE doctor_id = $1 AND patient_id = $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, doctorID, patientID); err != nil {
		return false, fmt.Errorf("check assignment: %w", err)
	}
	return exists, nil
}

// ListByDoctor returns the edges where userID is the doctor.
func (r *AssignmentRepository) ListByDoctor(ctx context.Context, doctorID string) ([]models.DoctorPatientAssignment, error) {
	const query = `SELECT doctor_id, patient_id, assigned_at FROM doctor_patient_assignments WHERE doctor_id = $1 ORDER BY assigned_at`
	var edges []models.DoctorPatientAssignment
	if err := r.db.SelectContext(ctx, &edges, query, doctorID); err != nil {
		return nil, fmt.Errorf("list assignments by doctor: %w", err)
	}
	return edges, nil
}

// ListByPatient returns the edges where userID is the patient.
func (r *AssignmentRepository) ListByPatient(ctx context.Context, patientID string) ([]models.DoctorPatientAssignment, error) {
	const query = `SELECT doctor_id, patient_id, assigned_at FROM doctor_patient_assignments WHERE patient_id = $1 ORDER BY assigned_at`
	var edges []models.DoctorPatientAssignment
	if err := r.db.SelectContext(ctx, &edges, query, patientID); err != nil {
		return nil, fmt.Errorf("list assignments by patient: %w", err)
	}
	return edges, nil
}
