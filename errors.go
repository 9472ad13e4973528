package identity

import (
	"strings"

	"github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCredentials = "INVALID_CREDENTIALS"
	TextCodeAccountLocked      = "ACCOUNT_LOCKED"
	TextCodeAccountNotVerified = "ACCOUNT_NOT_VERIFIED"
	TextCodeTokenExpired       = "TOKEN_EXPIRED"
	TextCodeTokenNotFound      = "TOKEN_NOT_FOUND"
	TextCodeDuplicateResource  = "DUPLICATE_RESOURCE"
	TextCodeResourceInUse      = "RESOURCE_IN_USE"
	TextCodeResourceNotFound   = "RESOURCE_NOT_FOUND"
	TextCodeTagExhausted       = "TAG_ALLOCATION_EXHAUSTED"
	TextCodeWeakPassword       = "WEAK_PASSWORD"
	TextCodeEmptyPassword      = "EMPTY_PASSWORD"
)

// ErrInvalidCredentials is returned for both an unknown username and a wrong
// password so callers cannot enumerate accounts.
var ErrInvalidCredentials = errors.New("the credentials provided are invalid", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeUnauthorized)

// ErrAccountLocked is returned while an account is under a lockout window.
// Metadata carries the lock_until timestamp.
var ErrAccountLocked = errors.New("account is temporarily locked", errors.CategoryAuth).
	WithTextCode(TextCodeAccountLocked).
	WithCode(errors.CodeForbidden)

// ErrAccountNotVerified is returned when a pending account attempts to log in.
var ErrAccountNotVerified = errors.New("account has not been verified", errors.CategoryAuth).
	WithTextCode(TextCodeAccountNotVerified).
	WithCode(errors.CodeForbidden)

// ErrTokenExpired is returned for expired access, refresh, and verification tokens.
// Expired refresh tokens are deleted before this is returned.
var ErrTokenExpired = errors.New("token is expired", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeUnauthorized)

// ErrTokenNotFound covers both unknown and already rotated refresh tokens,
// a replayed token is indistinguishable from an invalid one.
var ErrTokenNotFound = errors.New("token not found", errors.CategoryNotFound).
	WithTextCode(TextCodeTokenNotFound).
	WithCode(errors.CodeNotFound)

// ErrDuplicateResource is returned on username, role, or privilege name collisions.
var ErrDuplicateResource = errors.New("resource already exists", errors.CategoryConflict).
	WithTextCode(TextCodeDuplicateResource).
	WithCode(errors.CodeConflict)

// ErrResourceInUse is returned when deleting a role still assigned to users
// or a privilege still attached to roles.
var ErrResourceInUse = errors.New("resource is referenced and cannot be deleted", errors.CategoryConflict).
	WithTextCode(TextCodeResourceInUse).
	WithCode(errors.CodeConflict)

// ErrResourceNotFound is returned for lookups of missing users, roles, and privileges.
var ErrResourceNotFound = errors.New("resource not found", errors.CategoryNotFound).
	WithTextCode(TextCodeResourceNotFound).
	WithCode(errors.CodeNotFound)

// ErrTagAllocationExhausted is returned when registration cannot find a free
// tag within the bounded retry budget.
var ErrTagAllocationExhausted = errors.New("could not allocate a unique tag", errors.CategoryConflict).
	WithTextCode(TextCodeTagExhausted).
	WithCode(errors.CodeConflict)

// ErrWeakPassword is returned when the password policy predicate rejects a secret.
var ErrWeakPassword = errors.New("password does not meet the required policy", errors.CategoryValidation).
	WithTextCode(TextCodeWeakPassword).
	WithCode(errors.CodeBadRequest)

// ErrNoEmptyString is returned when hashing an empty secret.
var ErrNoEmptyString = errors.New("value must not be an empty string", errors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(errors.CodeBadRequest)

// detail returns a copy of the sentinel carrying call-site metadata. The
// copy keeps the sentinel as its source so errors.Is still matches it, and
// the shared sentinel itself is never mutated.
func detail(sentinel *errors.Error, meta map[string]any) error {
	clone := sentinel.Clone()
	if clone == nil {
		return sentinel
	}
	clone.Source = sentinel
	return clone.WithMetadata(meta)
}

// IsUniqueViolationError will check for unique constraint violations across
// the drivers we run against. Classification of WHICH column collided is a
// business decision made by the caller through existence predicates.
func IsUniqueViolationError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "Duplicate entry")
}
