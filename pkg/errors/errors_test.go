package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneMatchesWithErrorsIs(t *testing.T) {
	err := Clone(ErrTokenExpired, "token for session expired")
	wrapped := fmt.Errorf("rotate: %w", err)

	assert.True(t, errors.Is(wrapped, ErrTokenExpired))
	assert.False(t, errors.Is(wrapped, ErrTokenNotFound))
}

func TestPublicCollapsesCredentialFailures(t *testing.T) {
	notApproved := Public(Clone(ErrAccountNotApproved, "account pending approval"))
	invalid := Public(ErrInvalidCredentials)

	require.NotNil(t, notApproved)
	assert.Equal(t, invalid.Code, notApproved.Code)
	assert.Equal(t, invalid.Status, notApproved.Status)
	assert.Equal(t, invalid.Message, notApproved.Message)
}

func TestPublicStripsInternalCause(t *testing.T) {
	err := WrapAs(ErrStoreUnavailable, errors.New("dial tcp 10.0.0.3:5432: refused"), "")
	public := Public(err)
	assert.Equal(t, http.StatusServiceUnavailable, public.Status)
	assert.Nil(t, public.Err)
}

func TestFromErrorClassifiesDeadline(t *testing.T) {
	appErr := FromError(context.DeadlineExceeded)
	assert.Equal(t, ErrTimeout.Code, appErr.Code)

	appErr = FromError(errors.New("boom"))
	assert.Equal(t, ErrInternal.Code, appErr.Code)
}
