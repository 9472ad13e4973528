package identity

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var SaveLockStateSQL = `UPDATE "users" AS "usr"
SET
	"status" = ?,
	"failed_attempts" = ?,
	"lock_until" = ?
WHERE
	"usr"."id" = ?;`

type Users interface {
	repository.Repository[*User]

	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByUsernameTx(ctx context.Context, tx bun.IDB, username string) (*User, error)
	GetByPublicID(ctx context.Context, publicID uuid.UUID) (*User, error)
	GetByPublicIDTx(ctx context.Context, tx bun.IDB, publicID uuid.UUID) (*User, error)
	GetByKeyTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error)

	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByUsernameTx(ctx context.Context, tx bun.IDB, username string) (bool, error)
	ExistsByTag(ctx context.Context, tag string) (bool, error)
	ExistsByTagTx(ctx context.Context, tx bun.IDB, tag string) (bool, error)

	Create(ctx context.Context, record *User, criteria ...repository.InsertCriteria) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error)

	SaveLockState(ctx context.Context, user *User) error
	SaveLockStateTx(ctx context.Context, tx bun.IDB, user *User) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status UserStatus) (*User, error)
	UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status UserStatus) (*User, error)

	AssignRolesTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, roleIDs []uuid.UUID) error
	ReplaceRolesTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, roleIDs []uuid.UUID) error
	AssignedRoleNames(ctx context.Context, userID uuid.UUID) ([]string, error)
	AssignedRoleNamesTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) ([]string, error)

	FindStalePending(ctx context.Context, before time.Time) ([]*User, error)
	PurgeTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) error
}

type users struct {
	repository.Repository[*User]
	db *bun.DB
}

var (
	_ Users                        = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "username"
		},
	})

	return &users{
		Repository: repo,
		db:         db,
	}
}

func (a *users) GetByUsername(ctx context.Context, username string) (*User, error) {
	return a.GetByUsernameTx(ctx, a.db, username)
}

func (a *users) GetByUsernameTx(ctx context.Context, tx bun.IDB, username string) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.username = ?", strings.TrimSpace(username)).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, detail(ErrResourceNotFound, map[string]any{
				"resource": "user",
			})
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve user")
	}

	return record, nil
}

func (a *users) GetByPublicID(ctx context.Context, publicID uuid.UUID) (*User, error) {
	return a.GetByPublicIDTx(ctx, a.db, publicID)
}

func (a *users) GetByPublicIDTx(ctx context.Context, tx bun.IDB, publicID uuid.UUID) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.public_id = ?", publicID).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, detail(ErrResourceNotFound, map[string]any{
				"resource":  "user",
				"public_id": publicID.String(),
			})
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve user")
	}

	return record, nil
}

func (a *users) GetByKeyTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, detail(ErrResourceNotFound, map[string]any{
				"resource": "user",
				"id":       id.String(),
			})
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve user")
	}

	return record, nil
}

func (a *users) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return a.ExistsByUsernameTx(ctx, a.db, username)
}

func (a *users) ExistsByUsernameTx(ctx context.Context, tx bun.IDB, username string) (bool, error) {
	return tx.NewSelect().
		Model((*User)(nil)).
		Where("?TableAlias.username = ?", strings.TrimSpace(username)).
		Exists(ctx)
}

func (a *users) ExistsByTag(ctx context.Context, tag string) (bool, error) {
	return a.ExistsByTagTx(ctx, a.db, tag)
}

func (a *users) ExistsByTagTx(ctx context.Context, tx bun.IDB, tag string) (bool, error) {
	return tx.NewSelect().
		Model((*User)(nil)).
		Where("?TableAlias.tag = ?", tag).
		Exists(ctx)
}

func (a *users) Create(ctx context.Context, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	prepareUserDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (a *users) SaveLockState(ctx context.Context, user *User) error {
	return a.SaveLockStateTx(ctx, a.db, user)
}

// SaveLockStateTx persists the lockout fields with raw SQL so a NULL
// lock_until is written back, ORM updates skip zero values.
func (a *users) SaveLockStateTx(ctx context.Context, tx bun.IDB, user *User) error {
	_, err := tx.NewRaw(SaveLockStateSQL,
		user.Status,
		user.FailedAttempts,
		user.LockUntil,
		user.ID,
	).Exec(ctx)

	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to persist lock state")
	}
	return nil
}

func (a *users) UpdateStatus(ctx context.Context, id uuid.UUID, status UserStatus) (*User, error) {
	return a.UpdateStatusTx(ctx, a.db, id, status)
}

// UpdateStatusTx applies an administrative status change. Every status
// change clears the lockout counters so the invariant on failed_attempts
// holds; the raw write keeps lock_until NULL-capable.
func (a *users) UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status UserStatus) (*User, error) {
	record := &User{
		ID:             id,
		Status:         status,
		FailedAttempts: 0,
		LockUntil:      nil,
	}

	if err := a.SaveLockStateTx(ctx, tx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (a *users) AssignRolesTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, roleIDs []uuid.UUID) error {
	if len(roleIDs) == 0 {
		return nil
	}

	assignments := make([]*UserToRole, 0, len(roleIDs))
	for _, roleID := range roleIDs {
		assignments = append(assignments, &UserToRole{
			UserID: userID,
			RoleID: roleID,
		})
	}

	if _, err := tx.NewInsert().Model(&assignments).Exec(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to assign roles")
	}
	return nil
}

// ReplaceRolesTx swaps the full role assignment set for the user.
func (a *users) ReplaceRolesTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, roleIDs []uuid.UUID) error {
	_, err := tx.NewDelete().
		Model((*UserToRole)(nil)).
		Where("?TableAlias.user_id = ?", userID).
		Exec(ctx)

	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to clear role assignments")
	}

	return a.AssignRolesTx(ctx, tx, userID, roleIDs)
}

func (a *users) AssignedRoleNames(ctx context.Context, userID uuid.UUID) ([]string, error) {
	return a.AssignedRoleNamesTx(ctx, a.db, userID)
}

// AssignedRoleNamesTx batch-fetches the names of active roles assigned to
// the user, no object graph is loaded.
func (a *users) AssignedRoleNamesTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) ([]string, error) {
	var names []string
	err := tx.NewSelect().
		Model((*Role)(nil)).
		Column("rol.name").
		Join("JOIN users_roles AS usr_rol ON usr_rol.role_id = rol.id").
		Where("usr_rol.user_id = ?", userID).
		Where("rol.active = ?", true).
		Scan(ctx, &names)

	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to fetch assigned roles")
	}

	return names, nil
}

func (a *users) FindStalePending(ctx context.Context, before time.Time) ([]*User, error) {
	var records []*User
	err := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status = ?", UserStatusPending).
		Where("?TableAlias.created_at < ?", before).
		Scan(ctx)

	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to find stale pending users")
	}

	return records, nil
}

// PurgeTx hard-deletes an account with its owned tokens and role
// assignments. Reserved for the stale-registration cleanup path, nothing in
// the request path hard-deletes users.
func (a *users) PurgeTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) error {
	if _, err := tx.NewDelete().
		Model((*RefreshToken)(nil)).
		Where("?TableAlias.user_id = ?", userID).
		Exec(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to purge refresh tokens")
	}

	if _, err := tx.NewDelete().
		Model((*VerificationToken)(nil)).
		Where("?TableAlias.user_id = ?", userID).
		Exec(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to purge verification tokens")
	}

	if _, err := tx.NewDelete().
		Model((*UserToRole)(nil)).
		Where("?TableAlias.user_id = ?", userID).
		Exec(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to purge role assignments")
	}

	if _, err := tx.NewDelete().
		Model((*User)(nil)).
		Where("?TableAlias.id = ?", userID).
		Exec(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to purge user")
	}

	return nil
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	record.EnsureStatus()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	if record.PublicID == uuid.Nil {
		record.PublicID = uuid.New()
	}
}
