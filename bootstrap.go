package identity

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Privileges seeded on first boot.
const (
	PrivilegeUsersReadAll  = "USERS_READ_ALL"
	PrivilegeUsersCreate   = "USERS_CREATE"
	PrivilegeUsersUpdate   = "USERS_UPDATE"
	PrivilegeUsersReadSelf = "USERS_READ_SELF"
)

// BootstrapConfig describes the initial operator account. An empty Username
// skips account creation, the RBAC catalog is seeded regardless.
type BootstrapConfig struct {
	Username  string
	Password  string
	Alias     string
	FirstName string
	LastName  string
}

// Bootstrap seeds the RBAC catalog and optionally an operator account. It
// is idempotent, existing records are left untouched, so hosts can run it
// on every start.
func Bootstrap(ctx context.Context, repo RepositoryManager, cfg BootstrapConfig, logger Logger) error {
	if logger == nil {
		logger = defLogger{}
	}

	return repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		privs := map[string]*Privilege{}
		for _, name := range []string{
			PrivilegeUsersReadAll,
			PrivilegeUsersCreate,
			PrivilegeUsersUpdate,
			PrivilegeUsersReadSelf,
		} {
			priv, err := ensurePrivilege(ctx, tx, repo, name)
			if err != nil {
				return err
			}
			privs[name] = priv
		}

		adminRole, err := ensureRole(ctx, tx, repo, RoleAdmin, []*Privilege{
			privs[PrivilegeUsersReadAll],
			privs[PrivilegeUsersCreate],
			privs[PrivilegeUsersUpdate],
			privs[PrivilegeUsersReadSelf],
		})
		if err != nil {
			return err
		}

		if _, err := ensureRole(ctx, tx, repo, RoleUser, []*Privilege{
			privs[PrivilegeUsersReadSelf],
		}); err != nil {
			return err
		}

		if cfg.Username == "" {
			return nil
		}

		return ensureOperator(ctx, tx, repo, cfg, adminRole, logger)
	})
}

func ensurePrivilege(ctx context.Context, tx bun.Tx, repo RepositoryManager, name string) (*Privilege, error) {
	priv, err := repo.Privileges().GetByNameTx(ctx, tx, name)
	if err == nil {
		return priv, nil
	}
	if !goerrors.IsNotFound(err) {
		return nil, err
	}

	return repo.Privileges().CreateTx(ctx, tx, &Privilege{Name: name})
}

func ensureRole(ctx context.Context, tx bun.Tx, repo RepositoryManager, name string, privs []*Privilege) (*Role, error) {
	role, err := repo.Roles().GetByNameTx(ctx, tx, name)
	if err == nil {
		return role, nil
	}
	if !goerrors.IsNotFound(err) {
		return nil, err
	}

	role, err = repo.Roles().CreateTx(ctx, tx, &Role{Name: name})
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(privs))
	for _, p := range privs {
		if p != nil {
			ids = append(ids, p.ID)
		}
	}

	if err := repo.Roles().ReplacePrivilegesTx(ctx, tx, role.ID, ids); err != nil {
		return nil, err
	}

	return role, nil
}

func ensureOperator(ctx context.Context, tx bun.Tx, repo RepositoryManager, cfg BootstrapConfig, adminRole *Role, logger Logger) error {
	if exists, err := repo.Users().ExistsByUsernameTx(ctx, tx, cfg.Username); err != nil {
		return err
	} else if exists {
		return nil
	}

	hash, err := HashPassword(cfg.Password)
	if err != nil {
		return err
	}

	publicID := uuid.New()
	user := &User{
		PublicID:     publicID,
		Username:     cfg.Username,
		PasswordHash: hash,
		Status:       UserStatusActive,
		Alias:        cfg.Alias,
		Tag:          GenerateTag(cfg.Alias, publicID, 0),
		FirstName:    cfg.FirstName,
		LastName:     cfg.LastName,
	}

	created, err := repo.Users().CreateTx(ctx, tx, user)
	if err != nil {
		return err
	}

	if err := repo.Users().AssignRolesTx(ctx, tx, created.ID, []uuid.UUID{adminRole.ID}); err != nil {
		return err
	}

	logger.Info("seeded operator account %s with tag %s", created.Username, created.Tag)
	return nil
}
