package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/clinical-iam/internal/models"
)

func TestAccessGateDecisions(t *testing.T) {
	patientUser := "patient-user"
	strangerUser := "stranger-user"

	cases := []struct {
		name      string
		principal string
		status    models.AccountStatus
		roleID    string
		perm      string
		owner     *string
		allowed   bool
	}{
		{name: "assigned doctor", principal: "doc-1", status: models.AccountApproved, roleID: doctorRoleID, perm: models.PermissionPatientRead, owner: &patientUser, allowed: true},
		{name: "own record", principal: patientUser, status: models.AccountApproved, roleID: doctorRoleID, perm: models.PermissionPatientRead, owner: &patientUser, allowed: true},
		{name: "unowned record", principal: "doc-1", status: models.AccountApproved, roleID: doctorRoleID, perm: models.PermissionPrescriptionRead, allowed: true},
		{name: "unassigned patient", principal: "doc-1", status: models.AccountApproved, roleID: doctorRoleID, perm: models.PermissionPatientRead, owner: &strangerUser},
		{name: "missing permission", principal: "doc-1", status: models.AccountApproved, roleID: doctorRoleID, perm: models.PermissionPatientWrite, owner: &patientUser},
		{name: "role without grants", principal: "doc-1", status: models.AccountApproved, roleID: emptyRoleID, perm: models.PermissionPatientRead, owner: &patientUser},
		{name: "suspended doctor", principal: "doc-1", status: models.AccountSuspended, roleID: doctorRoleID, perm: models.PermissionPatientRead, owner: &patientUser},
		{name: "pending doctor", principal: "doc-1", status: models.AccountPending, roleID: doctorRoleID, perm: models.PermissionPatientRead, owner: &patientUser},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.addUser(t, tc.principal, tc.principal+"@clinic.test", tc.roleID, tc.status)
			h.assignments.edges = []models.DoctorPatientAssignment{{DoctorID: "doc-1", PatientID: patientUser}}

			allowed, err := h.gate.Authorize(context.Background(), tc.principal, tc.perm, tc.owner)
			require.NoError(t, err)
			assert.Equal(t, tc.allowed, allowed)

			want := models.ActivityAccessDenied
			if tc.allowed {
				want = models.ActivityRecordAccess
			}
			assert.Equal(t, []string{want}, h.audit.activityActions(tc.principal))
		})
	}
}

func TestAccessGateUnknownPrincipal(t *testing.T) {
	h := newHarness(t)
	allowed, err := h.gate.Authorize(context.Background(), "ghost", models.PermissionPatientRead, nil)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Empty(t, h.audit.activityActions("ghost"))
}

func TestAccessGateDenialNotifiesAlerts(t *testing.T) {
	h := newHarness(t)
	notifier := new(mockNotifier)
	notifier.On("Notify", mock.Anything).Return()
	h.gate = NewAccessGate(h.users, h.resolver, h.assignments, h.recorder, notifier, nil, nil, 0)
	h.addUser(t, "doc-1", "d@clinic.test", doctorRoleID, models.AccountApproved)

	other := "someone"
	allowed, err := h.gate.Authorize(context.Background(), "doc-1", models.PermissionPatientRead, &other)
	require.NoError(t, err)
	assert.False(t, allowed)
	notifier.AssertCalled(t, "Notify", "doc-1")

	allowed, err = h.gate.Authorize(context.Background(), "doc-1", models.PermissionPatientRead, nil)
	require.NoError(t, err)
	assert.True(t, allowed)
	notifier.AssertNumberOfCalls(t, "Notify", 1)
}

func TestAccessGateAuthorizeRecordAndAssignments(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "doc-1", "d@clinic.test", doctorRoleID, models.AccountApproved)
	owner := "patient-user"
	h.assignments.edges = []models.DoctorPatientAssignment{{DoctorID: "doc-1", PatientID: owner}}

	allowed, err := h.gate.AuthorizeRecord(context.Background(), "doc-1", models.PermissionPatientRead, &models.Patient{ID: "p-1", UserID: &owner})
	require.NoError(t, err)
	assert.True(t, allowed)

	asDoctor, asPatient, err := h.gate.Assignments(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Len(t, asDoctor, 1)
	assert.Empty(t, asPatient)
}

func TestPermittedChecksStatusAndGrant(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "approver-1", "ap@clinic.test", approverRoleID, models.AccountApproved)
	h.addUser(t, "approver-2", "ap2@clinic.test", approverRoleID, models.AccountSuspended)
	h.addUser(t, "doc-1", "d@clinic.test", doctorRoleID, models.AccountApproved)
	ctx := context.Background()

	ok, err := h.gate.Permitted(ctx, "approver-1", models.PermissionAccountApprove)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.gate.Permitted(ctx, "approver-2", models.PermissionAccountApprove)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = h.gate.Permitted(ctx, "doc-1", models.PermissionAccountApprove)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = h.gate.Permitted(ctx, "ghost", models.PermissionAccountApprove)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Empty(t, h.audit.activityActions("approver-1"))
}
