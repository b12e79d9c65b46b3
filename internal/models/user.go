package models

import "time"

// AccountStatus is the approval workflow state of an end-user account.
type AccountStatus string

const (
	AccountPending   AccountStatus = "PENDING"
	AccountApproved  AccountStatus = "APPROVED"
	AccountSuspended AccountStatus = "SUSPENDED"
	AccountRejected  AccountStatus = "REJECTED"
)

// Terminal reports whether no transition may leave the status.
func (s AccountStatus) Terminal() bool {
	return s == AccountRejected
}

// Valid reports whether s is a known status.
func (s AccountStatus) Valid() bool {
	switch s {
	case AccountPending, AccountApproved, AccountSuspended, AccountRejected:
		return true
	}
	return false
}

// AccountTransition names an approver action on an account.
type AccountTransition string

const (
	TransitionApprove AccountTransition = "APPROVE"
	TransitionReject  AccountTransition = "REJECT"
	TransitionSuspend AccountTransition = "SUSPEND"
)

// accountTransitions is the complete status graph. Anything absent is illegal.
var accountTransitions = map[AccountTransition]struct {
	from []AccountStatus
	to   AccountStatus
}{
	TransitionApprove: {from: []AccountStatus{AccountPending, AccountSuspended}, to: AccountApproved},
	TransitionReject:  {from: []AccountStatus{AccountPending}, to: AccountRejected},
	TransitionSuspend: {from: []AccountStatus{AccountApproved}, to: AccountSuspended},
}

// Target returns the status t leads to from current, and false when the
// transition is not part of the graph.
func (t AccountTransition) Target(current AccountStatus) (AccountStatus, bool) {
	rule, ok := accountTransitions[t]
	if !ok {
		return "", false
	}
	for _, from := range rule.from {
		if from == current {
			return rule.to, true
		}
	}
	return "", false
}

// User represents an end-user account stored in the users table.
type User struct {
	ID           string        `db:"id" json:"id"`
	Email        string        `db:"email" json:"email"`
	PasswordHash string        `db:"password_hash" json:"-"`
	RoleID       string        `db:"role_id" json:"role_id"`
	Status       AccountStatus `db:"status" json:"status"`
	ApprovedBy   *string       `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt   *time.Time    `db:"approved_at" json:"approved_at,omitempty"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updated_at"`
}

// AdminUser is a separately provisioned operator identity. It shares no id
// space, tokens or status workflow with User.
type AdminUser struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// StatusChange describes a conditional status write: it applies only while
// the stored status still equals From.
type StatusChange struct {
	UserID     string
	From       AccountStatus
	To         AccountStatus
	ApprovedBy *string
	ApprovedAt *time.Time
	At         time.Time
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Status   *AccountStatus
	RoleID   string
	Page     int
	PageSize int
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
