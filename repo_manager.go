package identity

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Users() Users
	Roles() Roles
	Privileges() Privileges
	RefreshTokens() RefreshTokens
	VerificationTokens() VerificationTokens
}

type mngr struct {
	db                 *bun.DB
	users              Users
	roles              Roles
	privileges         Privileges
	refreshTokens      RefreshTokens
	verificationTokens VerificationTokens
}

func NewRepositoryManager(db *bun.DB, opts ...RepositoryManagerOption) RepositoryManager {
	m := &mngr{
		db:         db,
		users:      NewUsersRepository(db),
		roles:      NewRolesRepository(db),
		privileges: NewPrivilegesRepository(db),
	}

	m.refreshTokens = NewRefreshTokensStore(db)
	m.verificationTokens = NewVerificationTokensStore(db)

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

// RepositoryManagerOption configures token stores, mainly to inject clocks
// and TTLs in tests.
type RepositoryManagerOption func(*mngr)

func WithRefreshTokensStore(store RefreshTokens) RepositoryManagerOption {
	return func(m *mngr) {
		if store != nil {
			m.refreshTokens = store
		}
	}
}

func WithVerificationTokensStore(store VerificationTokens) RepositoryManagerOption {
	return func(m *mngr) {
		if store != nil {
			m.verificationTokens = store
		}
	}
}

func (m mngr) Validate() error {
	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.roles == nil {
		return errors.New("repository roles should be initialized")
	}

	if m.privileges == nil {
		return errors.New("repository privileges should be initialized")
	}

	if m.refreshTokens == nil {
		return errors.New("repository refreshTokens should be initialized")
	}

	if m.verificationTokens == nil {
		return errors.New("repository verificationTokens should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) Roles() Roles {
	return m.roles
}

func (m mngr) Privileges() Privileges {
	return m.privileges
}

func (m mngr) RefreshTokens() RefreshTokens {
	return m.refreshTokens
}

func (m mngr) VerificationTokens() VerificationTokens {
	return m.verificationTokens
}
