package identity

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Roles interface {
	repository.Repository[*Role]

	GetByName(ctx context.Context, name string) (*Role, error)
	GetByNameTx(ctx context.Context, tx bun.IDB, name string) (*Role, error)
	GetByNamesTx(ctx context.Context, tx bun.IDB, names []string) ([]*Role, error)

	Create(ctx context.Context, record *Role, criteria ...repository.InsertCriteria) (*Role, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *Role, criteria ...repository.InsertCriteria) (*Role, error)

	Deactivate(ctx context.Context, id uuid.UUID) error
	DeactivateTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error

	ReplacePrivilegesTx(ctx context.Context, tx bun.IDB, roleID uuid.UUID, privilegeIDs []uuid.UUID) error
	PrivilegeNames(ctx context.Context, roleNames []string) ([]string, error)
	PrivilegeNamesTx(ctx context.Context, tx bun.IDB, roleNames []string) ([]string, error)

	IsAssigned(ctx context.Context, id uuid.UUID) (bool, error)
	IsAssignedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (bool, error)
}

type Privileges interface {
	repository.Repository[*Privilege]

	GetByName(ctx context.Context, name string) (*Privilege, error)
	GetByNameTx(ctx context.Context, tx bun.IDB, name string) (*Privilege, error)
	GetByNamesTx(ctx context.Context, tx bun.IDB, names []string) ([]*Privilege, error)

	Create(ctx context.Context, record *Privilege, criteria ...repository.InsertCriteria) (*Privilege, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *Privilege, criteria ...repository.InsertCriteria) (*Privilege, error)

	Deactivate(ctx context.Context, id uuid.UUID) error
	DeactivateTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error

	IsAttached(ctx context.Context, id uuid.UUID) (bool, error)
	IsAttachedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (bool, error)
}

type roles struct {
	repository.Repository[*Role]
	db *bun.DB
}

var _ Roles = (*roles)(nil)

func NewRolesRepository(db *bun.DB) Roles {
	repo := repository.NewRepository[*Role](db, repository.ModelHandlers[*Role]{
		NewRecord: func() *Role { return &Role{} },
		GetID: func(r *Role) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *Role, id uuid.UUID) {
			if r != nil {
				r.ID = id
			}
		},
		GetIdentifier: func() string {
			return "name"
		},
	})

	return &roles{
		Repository: repo,
		db:         db,
	}
}

func (a *roles) GetByName(ctx context.Context, name string) (*Role, error) {
	return a.GetByNameTx(ctx, a.db, name)
}

func (a *roles) GetByNameTx(ctx context.Context, tx bun.IDB, name string) (*Role, error) {
	record := &Role{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.name = ?", strings.TrimSpace(name)).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, detail(ErrResourceNotFound, map[string]any{
				"resource": "role",
				"name":     name,
			})
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve role")
	}

	return record, nil
}

func (a *roles) GetByNamesTx(ctx context.Context, tx bun.IDB, names []string) ([]*Role, error) {
	if len(names) == 0 {
		return nil, nil
	}

	var records []*Role
	err := tx.NewSelect().
		Model(&records).
		Where("?TableAlias.name IN (?)", bun.In(names)).
		Scan(ctx)

	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve roles")
	}

	return records, nil
}

func (a *roles) Create(ctx context.Context, record *Role, criteria ...repository.InsertCriteria) (*Role, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *roles) CreateTx(ctx context.Context, tx bun.IDB, record *Role, criteria ...repository.InsertCriteria) (*Role, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.Active = true

	created, err := a.Repository.CreateTx(ctx, tx, record, criteria...)
	if err != nil {
		if IsUniqueViolationError(err) {
			return nil, detail(ErrDuplicateResource, map[string]any{
				"resource": "role",
				"name":     record.Name,
			})
		}
		return nil, err
	}

	return created, nil
}

func (a *roles) Deactivate(ctx context.Context, id uuid.UUID) error {
	return a.DeactivateTx(ctx, a.db, id)
}

// DeactivateTx soft-deletes a role. It refuses while the role remains
// assigned to any user so no account silently loses privileges.
func (a *roles) DeactivateTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	assigned, err := a.IsAssignedTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if assigned {
		return detail(ErrResourceInUse, map[string]any{
			"resource": "role",
			"id":       id.String(),
		})
	}

	res, err := tx.NewUpdate().
		Model((*Role)(nil)).
		Set("active = ?", false).
		Where("?TableAlias.id = ?", id).
		Exec(ctx)

	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to deactivate role")
	}

	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return detail(ErrResourceNotFound, map[string]any{
			"resource": "role",
			"id":       id.String(),
		})
	}

	return nil
}

// ReplacePrivilegesTx swaps the full privilege set attached to a role.
func (a *roles) ReplacePrivilegesTx(ctx context.Context, tx bun.IDB, roleID uuid.UUID, privilegeIDs []uuid.UUID) error {
	_, err := tx.NewDelete().
		Model((*RoleToPrivilege)(nil)).
		Where("?TableAlias.role_id = ?", roleID).
		Exec(ctx)

	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to clear privilege attachments")
	}

	if len(privilegeIDs) == 0 {
		return nil
	}

	attachments := make([]*RoleToPrivilege, 0, len(privilegeIDs))
	for _, privilegeID := range privilegeIDs {
		attachments = append(attachments, &RoleToPrivilege{
			RoleID:      roleID,
			PrivilegeID: privilegeID,
		})
	}

	if _, err := tx.NewInsert().Model(&attachments).Exec(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to attach privileges")
	}

	return nil
}

func (a *roles) PrivilegeNames(ctx context.Context, roleNames []string) ([]string, error) {
	return a.PrivilegeNamesTx(ctx, a.db, roleNames)
}

// PrivilegeNamesTx resolves the distinct active privileges reachable from
// the named active roles in a single query.
func (a *roles) PrivilegeNamesTx(ctx context.Context, tx bun.IDB, roleNames []string) ([]string, error) {
	if len(roleNames) == 0 {
		return nil, nil
	}

	var names []string
	err := tx.NewSelect().
		Model((*Privilege)(nil)).
		ColumnExpr("DISTINCT prv.name").
		Join("JOIN roles_privileges AS rol_prv ON rol_prv.privilege_id = prv.id").
		Join("JOIN roles AS rol ON rol.id = rol_prv.role_id").
		Where("rol.name IN (?)", bun.In(roleNames)).
		Where("rol.active = ?", true).
		Where("prv.active = ?", true).
		Scan(ctx, &names)

	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to resolve privileges")
	}

	return names, nil
}

func (a *roles) IsAssigned(ctx context.Context, id uuid.UUID) (bool, error) {
	return a.IsAssignedTx(ctx, a.db, id)
}

func (a *roles) IsAssignedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (bool, error) {
	return tx.NewSelect().
		Model((*UserToRole)(nil)).
		Where("?TableAlias.role_id = ?", id).
		Exists(ctx)
}

type privileges struct {
	repository.Repository[*Privilege]
	db *bun.DB
}

var _ Privileges = (*privileges)(nil)

func NewPrivilegesRepository(db *bun.DB) Privileges {
	repo := repository.NewRepository[*Privilege](db, repository.ModelHandlers[*Privilege]{
		NewRecord: func() *Privilege { return &Privilege{} },
		GetID: func(p *Privilege) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *Privilege, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
		GetIdentifier: func() string {
			return "name"
		},
	})

	return &privileges{
		Repository: repo,
		db:         db,
	}
}

func (a *privileges) GetByName(ctx context.Context, name string) (*Privilege, error) {
	return a.GetByNameTx(ctx, a.db, name)
}

func (a *privileges) GetByNameTx(ctx context.Context, tx bun.IDB, name string) (*Privilege, error) {
	record := &Privilege{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.name = ?", strings.TrimSpace(name)).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, detail(ErrResourceNotFound, map[string]any{
				"resource": "privilege",
				"name":     name,
			})
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve privilege")
	}

	return record, nil
}

func (a *privileges) GetByNamesTx(ctx context.Context, tx bun.IDB, names []string) ([]*Privilege, error) {
	if len(names) == 0 {
		return nil, nil
	}

	var records []*Privilege
	err := tx.NewSelect().
		Model(&records).
		Where("?TableAlias.name IN (?)", bun.In(names)).
		Scan(ctx)

	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve privileges")
	}

	return records, nil
}

func (a *privileges) Create(ctx context.Context, record *Privilege, criteria ...repository.InsertCriteria) (*Privilege, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *privileges) CreateTx(ctx context.Context, tx bun.IDB, record *Privilege, criteria ...repository.InsertCriteria) (*Privilege, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.Active = true

	created, err := a.Repository.CreateTx(ctx, tx, record, criteria...)
	if err != nil {
		if IsUniqueViolationError(err) {
			return nil, detail(ErrDuplicateResource, map[string]any{
				"resource": "privilege",
				"name":     record.Name,
			})
		}
		return nil, err
	}

	return created, nil
}

func (a *privileges) Deactivate(ctx context.Context, id uuid.UUID) error {
	return a.DeactivateTx(ctx, a.db, id)
}

// DeactivateTx soft-deletes a privilege, refusing while any role still
// carries it.
func (a *privileges) DeactivateTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	attached, err := a.IsAttachedTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if attached {
		return detail(ErrResourceInUse, map[string]any{
			"resource": "privilege",
			"id":       id.String(),
		})
	}

	res, err := tx.NewUpdate().
		Model((*Privilege)(nil)).
		Set("active = ?", false).
		Where("?TableAlias.id = ?", id).
		Exec(ctx)

	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to deactivate privilege")
	}

	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return detail(ErrResourceNotFound, map[string]any{
			"resource": "privilege",
			"id":       id.String(),
		})
	}

	return nil
}

func (a *privileges) IsAttached(ctx context.Context, id uuid.UUID) (bool, error) {
	return a.IsAttachedTx(ctx, a.db, id)
}

func (a *privileges) IsAttachedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (bool, error) {
	return tx.NewSelect().
		Model((*RoleToPrivilege)(nil)).
		Where("?TableAlias.privilege_id = ?", id).
		Exists(ctx)
}
