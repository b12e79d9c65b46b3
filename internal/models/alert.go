package models

import "time"

// SecurityAlert is a risk finding raised for a user. Only resolution mutates it.
type SecurityAlert struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	RiskScore int       `db:"risk_score" json:"risk_score"`
	Reason    string    `db:"reason" json:"reason"`
	Resolved  bool      `db:"resolved" json:"resolved"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Alert reasons produced by the default scorer.
const (
	AlertReasonFailedLogins    = "REPEATED_FAILED_LOGINS"
	AlertReasonDistinctIPs     = "MULTIPLE_IPS"
	AlertReasonDistinctDevices = "MULTIPLE_DEVICES"
	AlertReasonRecordVolume    = "HIGH_RECORD_ACCESS_VOLUME"
	AlertReasonAccessDenied    = "REPEATED_ACCESS_DENIED"
)

// AlertFilter narrows alert listings.
type AlertFilter struct {
	UserID         string
	UnresolvedOnly bool
	Limit          int
}
