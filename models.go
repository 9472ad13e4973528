package identity

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserStatus is the account lifecycle state
type UserStatus = string

const (
	// UserStatusPending is a registered account awaiting email verification
	UserStatusPending UserStatus = "pending_verification"
	// UserStatusActive is an account that can authenticate
	UserStatusActive UserStatus = "active"
	// UserStatusBlocked is an account denied login, either by lockout or by administration
	UserStatusBlocked UserStatus = "blocked"
)

const (
	// RoleAdmin is the administrative super role, it bypasses privilege checks
	RoleAdmin = "ADMIN"
	// RoleUser is the default role assigned on registration
	RoleUser = "USER"
)

// User is the account model
type User struct {
	bun.BaseModel  `bun:"table:users,alias:usr"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	PublicID       uuid.UUID  `bun:"public_id,notnull,unique,type:uuid" json:"public_id,omitempty"`
	Username       string     `bun:"username,notnull,unique" json:"username,omitempty"`
	PasswordHash   string     `bun:"password_hash,notnull" json:"-"`
	Status         UserStatus `bun:"status,notnull" json:"status,omitempty"`
	FailedAttempts int        `bun:"failed_attempts,notnull" json:"failed_attempts,omitempty"`
	LockUntil      *time.Time `bun:"lock_until,nullzero" json:"lock_until,omitempty"`
	Alias          string     `bun:"alias,notnull" json:"alias,omitempty"`
	Tag            string     `bun:"tag,notnull,unique" json:"tag,omitempty"`
	FirstName      string     `bun:"first_name,notnull" json:"first_name,omitempty"`
	MiddleName     string     `bun:"middle_name" json:"middle_name,omitempty"`
	LastName       string     `bun:"last_name,notnull" json:"last_name,omitempty"`
	SecondLastName string     `bun:"second_last_name" json:"second_last_name,omitempty"`
	Phone          string     `bun:"phone_number" json:"phone_number,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	Roles          []*Role    `bun:"m2m:users_roles,join:User=Role" json:"roles,omitempty"`
}

// EnsureStatus backfills the zero value so persisted rows predating the
// status column behave as active accounts.
func (u *User) EnsureStatus() {
	if u.Status == "" {
		u.Status = UserStatusActive
	}
}

// RoleNames returns the names of the roles loaded on the user.
func (u *User) RoleNames() []string {
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		if r != nil {
			names = append(names, r.Name)
		}
	}
	return names
}

// Role is a named grouping of privileges
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:rol"`
	ID            uuid.UUID    `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name          string       `bun:"name,notnull,unique" json:"name,omitempty"`
	Description   string       `bun:"description" json:"description,omitempty"`
	Active        bool         `bun:"active,notnull" json:"active"`
	CreatedAt     *time.Time   `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	Privileges    []*Privilege `bun:"m2m:roles_privileges,join:Role=Privilege" json:"privileges,omitempty"`
}

// Privilege is an atomic permission referenced by roles
type Privilege struct {
	bun.BaseModel `bun:"table:privileges,alias:prv"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name          string     `bun:"name,notnull,unique" json:"name,omitempty"`
	Description   string     `bun:"description" json:"description,omitempty"`
	Active        bool       `bun:"active,notnull" json:"active"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// UserToRole is the users<->roles join model
type UserToRole struct {
	bun.BaseModel `bun:"table:users_roles,alias:usr_rol"`
	UserID        uuid.UUID `bun:"user_id,pk,type:uuid"`
	User          *User     `bun:"rel:belongs-to,join:user_id=id"`
	RoleID        uuid.UUID `bun:"role_id,pk,type:uuid"`
	Role          *Role     `bun:"rel:belongs-to,join:role_id=id"`
}

// RoleToPrivilege is the roles<->privileges join model
type RoleToPrivilege struct {
	bun.BaseModel `bun:"table:roles_privileges,alias:rol_prv"`
	RoleID        uuid.UUID  `bun:"role_id,pk,type:uuid"`
	Role          *Role      `bun:"rel:belongs-to,join:role_id=id"`
	PrivilegeID   uuid.UUID  `bun:"privilege_id,pk,type:uuid"`
	Privilege     *Privilege `bun:"rel:belongs-to,join:privilege_id=id"`
}

// RefreshToken is an opaque single-use session token. Rotation deletes the
// row and inserts a replacement, rows are never updated in place.
type RefreshToken struct {
	bun.BaseModel `bun:"table:refresh_tokens,alias:rft"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Token         string     `bun:"token,notnull,unique" json:"-"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	User          *User      `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Expired reports whether the token is past its expiry at the given time.
func (t *RefreshToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// VerificationToken proves ownership of the address a registration claimed.
// Destroyed on successful verification or when a replacement is issued.
type VerificationToken struct {
	bun.BaseModel `bun:"table:verification_tokens,alias:vft"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Token         string     `bun:"token,notnull,unique" json:"-"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	User          *User      `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Expired reports whether the token is past its expiry at the given time.
func (t *VerificationToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
