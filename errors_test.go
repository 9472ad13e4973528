package identity_test

import (
	"errors"
	"fmt"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	identity "github.com/krouser/go-identity"
	"github.com/stretchr/testify/assert"
)

func TestStructuredErrorProperties(t *testing.T) {
	t.Run("ErrInvalidCredentials", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryAuth, identity.ErrInvalidCredentials.Category)
		assert.Equal(t, identity.TextCodeInvalidCredentials, identity.ErrInvalidCredentials.TextCode)
		assert.Equal(t, "the credentials provided are invalid", identity.ErrInvalidCredentials.Message)
	})

	t.Run("ErrAccountLocked", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryAuth, identity.ErrAccountLocked.Category)
		assert.Equal(t, identity.TextCodeAccountLocked, identity.ErrAccountLocked.TextCode)
	})

	t.Run("ErrAccountNotVerified", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryAuth, identity.ErrAccountNotVerified.Category)
		assert.Equal(t, identity.TextCodeAccountNotVerified, identity.ErrAccountNotVerified.TextCode)
	})

	t.Run("ErrTokenExpired", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryAuth, identity.ErrTokenExpired.Category)
		assert.Equal(t, identity.TextCodeTokenExpired, identity.ErrTokenExpired.TextCode)
	})

	t.Run("ErrTokenNotFound", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryNotFound, identity.ErrTokenNotFound.Category)
		assert.Equal(t, identity.TextCodeTokenNotFound, identity.ErrTokenNotFound.TextCode)
	})

	t.Run("ErrDuplicateResource", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryConflict, identity.ErrDuplicateResource.Category)
		assert.Equal(t, identity.TextCodeDuplicateResource, identity.ErrDuplicateResource.TextCode)
	})

	t.Run("ErrResourceInUse", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryConflict, identity.ErrResourceInUse.Category)
		assert.Equal(t, identity.TextCodeResourceInUse, identity.ErrResourceInUse.TextCode)
	})

	t.Run("ErrResourceNotFound", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryNotFound, identity.ErrResourceNotFound.Category)
		assert.Equal(t, identity.TextCodeResourceNotFound, identity.ErrResourceNotFound.TextCode)
	})

	t.Run("ErrTagAllocationExhausted", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryConflict, identity.ErrTagAllocationExhausted.Category)
		assert.Equal(t, identity.TextCodeTagExhausted, identity.ErrTagAllocationExhausted.TextCode)
	})

	t.Run("ErrWeakPassword", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryValidation, identity.ErrWeakPassword.Category)
		assert.Equal(t, identity.TextCodeWeakPassword, identity.ErrWeakPassword.TextCode)
	})

	t.Run("ErrNoEmptyString", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryValidation, identity.ErrNoEmptyString.Category)
		assert.Equal(t, identity.TextCodeEmptyPassword, identity.ErrNoEmptyString.TextCode)
	})
}

func TestIsUniqueViolationError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "sqlite unique constraint",
			err:      errors.New("UNIQUE constraint failed: users.tag"),
			expected: true,
		},
		{
			name:     "postgres duplicate key",
			err:      errors.New(`duplicate key value violates unique constraint "users_username_key"`),
			expected: true,
		},
		{
			name:     "mysql duplicate entry",
			err:      errors.New("Error 1062: Duplicate entry 'bob@example.com' for key 'username'"),
			expected: true,
		},
		{
			name:     "wrapped driver error",
			err:      fmt.Errorf("insert user: %w", errors.New("UNIQUE constraint failed: users.username")),
			expected: true,
		},
		{
			name:     "unrelated error",
			err:      errors.New("connection refused"),
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, identity.IsUniqueViolationError(tt.err))
		})
	}
}
