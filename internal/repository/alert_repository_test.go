package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/clinical-iam/internal/models"
)

func TestFindUnresolvedMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAlertRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id = $1 AND reason = $2 AND resolved = FALSE")).
		WithArgs("u1", models.AlertReasonFailedLogins).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "risk_score", "reason", "resolved", "created_at"}))

	_, err := repo.FindUnresolved(context.Background(), "u1", models.AlertReasonFailedLogins)
	assert.Equal(t, sql.ErrNoRows, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAlertDuplicateOpen(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAlertRepository(db)

	mock.ExpectExec("INSERT INTO security_alerts").WillReturnError(&pq.Error{Code: "23505", Constraint: "security_alerts_open_reason_idx"})

	err := repo.Create(context.Background(), &models.SecurityAlert{UserID: "u1", Reason: models.AlertReasonDistinctIPs, RiskScore: 60})
	assert.True(t, errors.Is(err, ErrDuplicate))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkResolvedOnce(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAlertRepository(db)

	query := regexp.QuoteMeta("UPDATE security_alerts SET resolved = TRUE WHERE id = $1 AND resolved = FALSE")
	mock.ExpectExec(query).WithArgs("a1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).WithArgs("a1").WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := repo.MarkResolved(context.Background(), "a1")
	require.NoError(t, err)
	second, err := repo.MarkResolved(context.Background(), "a1")
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)
	assert.NoError(t, mock.ExpectationsWereMet())
}
