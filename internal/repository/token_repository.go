package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/clinical-iam/internal/models"
	"github.com/noah-isme/clinical-iam/pkg/database"
)

// TokenRepository stores refresh tokens for one principal kind. The table and
// owner column come from K, so a repository for one kind never reads or
// writes the other kind's rows.
type TokenRepository[K models.PrincipalKind] struct {
	db *sqlx.DB

	insertQuery   string
	selectQuery   string
	deleteQuery   string
	takeQuery     string
	ownerQuery    string
	purgeQuery    string
	countOwnQuery string
}

// NewTokenRepository creates a token repository for kind K.
func NewTokenRepository[K models.PrincipalKind](db *sqlx.DB) *TokenRepository[K] {
	var kind K
	table, owner := kind.TokenTable(), kind.OwnerColumn()
	returning := fmt.Sprintf("id, %s AS principal_id, token, expires_at, created_at", owner)

	return &TokenRepository[K]{
		db:            db,
		insertQuery:   fmt.Sprintf("INSERT INTO %s (id, %s, token, expires_at, created_at) VALUES ($1, $2, $3, $4, $5)", table, owner),
		selectQuery:   fmt.Sprintf("SELECT %s FROM %s WHERE token = $1 LIMIT 1", returning, table),
		deleteQuery:   fmt.Sprintf("DELETE FROM %s WHERE token = $1 AND %s = $2", table, owner),
		takeQuery:     fmt.Sprintf("DELETE FROM %s WHERE token = $1 RETURNING %s", table, returning),
		ownerQuery:    fmt.Sprintf("DELETE FROM %s WHERE %s = $1", table, owner),
		purgeQuery:    fmt.Sprintf("DELETE FROM %s WHERE expires_at < $1", table),
		countOwnQuery: fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = $1 AND expires_at >= $2", table, owner),
	}
}

// Create persists a token. A token value collision surfaces as ErrDuplicate.
func (r *TokenRepository[K]) Create(ctx context.Context, token *models.RefreshToken[K]) error {
	return r.insert(ctx, r.db, token)
}

func (r *TokenRepository[K]) insert(ctx context.Context, exec sqlx.ExecerContext, token *models.RefreshToken[K]) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	if _, err := exec.ExecContext(ctx, r.insertQuery, token.ID, token.PrincipalID, token.Token, token.ExpiresAt, token.CreatedAt); err != nil {
		return fmt.Errorf("create refresh token: %w", translate(err))
	}
	return nil
}

// Find returns a token by value.
func (r *TokenRepository[K]) Find(ctx context.Context, token string) (*models.RefreshToken[K], error) {
	var rt models.RefreshToken[K]
	if err := r.db.GetContext(ctx, &rt, r.selectQuery, token); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// Delete removes a token owned by principalID and reports whether it existed.
func (r *TokenRepository[K]) Delete(ctx context.Context, token, principalID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.deleteQuery, token, principalID)
	if err != nil {
		return false, fmt.Errorf("delete refresh token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete refresh token: %w", err)
	}
	return affected > 0, nil
}

// DeleteExpired removes a token by value regardless of owner.
func (r *TokenRepository[K]) DeleteExpired(ctx context.Context, token string) error {
	var rt models.RefreshToken[K]
	if err := r.db.GetContext(ctx, &rt, r.takeQuery, token); err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("delete expired refresh token: %w", err)
	}
	return nil
}

// DeleteByPrincipal removes every token of a principal and returns the count.
func (r *TokenRepository[K]) DeleteByPrincipal(ctx context.Context, principalID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.ownerQuery, principalID)
	if err != nil {
		return 0, fmt.Errorf("delete refresh tokens by principal: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete refresh tokens by principal: %w", err)
	}
	return affected, nil
}

// CountActive returns the number of unexpired tokens held by a principal.
func (r *TokenRepository[K]) CountActive(ctx context.Context, principalID string, now time.Time) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, r.countOwnQuery, principalID, now); err != nil {
		return 0, fmt.Errorf("count refresh tokens: %w", err)
	}
	return total, nil
}

// PurgeExpired removes tokens that expired before now.
func (r *TokenRepository[K]) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.purgeQuery, now)
	if err != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", err)
	}
	return affected, nil
}

// Replace atomically consumes oldToken and stores fresh for the same
// principal. Outcomes:
//   - oldToken absent (never issued or already consumed): sql.ErrNoRows, nothing changes.
//   - oldToken expired: the row is deleted and ErrExpired is returned.
//   - insert fails: the transaction rolls back and oldToken stays valid.
//
// Concurrent callers serialise on the row delete; only one sees the row.
func (r *TokenRepository[K]) Replace(ctx context.Context, oldToken string, fresh *models.RefreshToken[K], now time.Time) (*models.RefreshToken[K], error) {
	var consumed models.RefreshToken[K]
	expired := false

	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &consumed, r.takeQuery, oldToken); err != nil {
			if err == sql.ErrNoRows {
				return err
			}
			return fmt.Errorf("consume refresh token: %w", err)
		}
		if consumed.Expired(now) {
			expired = true
			return nil
		}
		fresh.PrincipalID = consumed.PrincipalID
		return r.insert(ctx, tx, fresh)
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return &consumed, ErrExpired
	}
	return &consumed, nil
}
