package repository

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	// ErrDuplicate reports a unique constraint violation.
	ErrDuplicate = errors.New("duplicate key")
	// ErrReferenced reports a foreign key violation.
	ErrReferenced = errors.New("referenced by another row")
	// ErrExpired is returned by token rotation when the presented token had
	// already expired. The expired row is deleted before this is returned.
	ErrExpired = errors.New("token expired")
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// translate maps driver constraint errors onto the package sentinels.
func translate(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case pqUniqueViolation:
		return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
	case pqForeignKeyViolation:
		return fmt.Errorf("%w: %s", ErrReferenced, pqErr.Constraint)
	}
	return err
}
