package models

import "time"

// ClinicalRecord is any clinical row guarded by the access gate.
type ClinicalRecord interface {
	ResourceType() string
	// OwnerUserID is the user the record belongs to, nil when it is not
	// linked to a user account.
	OwnerUserID() *string
}

// Patient is a demographic record, optionally linked to a user account.
type Patient struct {
	ID          string    `db:"id" json:"id"`
	UserID      *string   `db:"user_id" json:"user_id,omitempty"`
	FullName    string    `db:"full_name" json:"full_name"`
	DateOfBirth time.Time `db:"date_of_birth" json:"date_of_birth"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

func (p Patient) ResourceType() string { return "patient" }
func (p Patient) OwnerUserID() *string { return p.UserID }

// Prescription is authored by a doctor for a patient user.
type Prescription struct {
	ID         string    `db:"id" json:"id"`
	PatientID  string    `db:"patient_id" json:"patient_id"`
	DoctorID   string    `db:"doctor_id" json:"doctor_id"`
	Medication string    `db:"medication" json:"medication"`
	Dosage     string    `db:"dosage" json:"dosage"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

func (p Prescription) ResourceType() string { return "prescription" }
func (p Prescription) OwnerUserID() *string { return &p.PatientID }

// LabReport is a result attached to a patient user.
type LabReport struct {
	ID        string    `db:"id" json:"id"`
	PatientID string    `db:"patient_id" json:"patient_id"`
	Title     string    `db:"title" json:"title"`
	Result    string    `db:"result" json:"result"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

func (r LabReport) ResourceType() string { return "lab_report" }
func (r LabReport) OwnerUserID() *string { return &r.PatientID }

// DoctorPatientAssignment is the doctor to patient edge, keyed by the pair.
type DoctorPatientAssignment struct {
	DoctorID   string    `db:"doctor_id" json:"doctor_id"`
	PatientID  string    `db:"patient_id" json:"patient_id"`
	AssignedAt time.Time `db:"assigned_at" json:"assigned_at"`
}
