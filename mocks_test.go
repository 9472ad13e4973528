package identity_test

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/uptrace/bun"

	identity "github.com/krouser/go-identity"
)

type testLogger struct{}

func (testLogger) Debug(string, ...any) {}
func (testLogger) Info(string, ...any)  {}
func (testLogger) Warn(string, ...any)  {}
func (testLogger) Error(string, ...any) {}

// testConfig implements identity.Config
type testConfig struct {
	signingKey      string
	tokenExpiration int
	issuer          string
	audience        []string
	maxAttempts     int
	lockoutPeriod   string
}

func newTestConfig() testConfig {
	return testConfig{
		signingKey:      "test-signing-key",
		tokenExpiration: 1,
		issuer:          "go-identity-test",
		audience:        []string{"test-app"},
		maxAttempts:     5,
		lockoutPeriod:   "15m",
	}
}

func (c testConfig) GetSigningKey() string          { return c.signingKey }
func (c testConfig) GetTokenExpiration() int        { return c.tokenExpiration }
func (c testConfig) GetRefreshExpiration() int      { return 168 }
func (c testConfig) GetVerificationExpiration() int { return 48 }
func (c testConfig) GetIssuer() string              { return c.issuer }
func (c testConfig) GetAudience() []string          { return c.audience }
func (c testConfig) GetMaxLoginAttempts() int       { return c.maxAttempts }
func (c testConfig) GetLockoutPeriod() string       { return c.lockoutPeriod }

// capturingSink records audit records in order for assertions.
type capturingSink struct {
	mu      sync.Mutex
	records []identity.AuditRecord
}

func (c *capturingSink) Record(ctx context.Context, record identity.AuditRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, record)
	return nil
}

func (c *capturingSink) byAction(action string) []identity.AuditRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []identity.AuditRecord
	for _, r := range c.records {
		if r.Action == action {
			out = append(out, r)
		}
	}
	return out
}

// MockRepositoryManager implements identity.RepositoryManager
type MockRepositoryManager struct {
	mock.Mock
}

func (m *MockRepositoryManager) Users() identity.Users {
	args := m.Called()
	return args.Get(0).(identity.Users)
}

func (m *MockRepositoryManager) Roles() identity.Roles {
	args := m.Called()
	return args.Get(0).(identity.Roles)
}

func (m *MockRepositoryManager) Privileges() identity.Privileges {
	args := m.Called()
	return args.Get(0).(identity.Privileges)
}

func (m *MockRepositoryManager) RefreshTokens() identity.RefreshTokens {
	args := m.Called()
	return args.Get(0).(identity.RefreshTokens)
}

func (m *MockRepositoryManager) VerificationTokens() identity.VerificationTokens {
	args := m.Called()
	return args.Get(0).(identity.VerificationTokens)
}

func (m *MockRepositoryManager) Validate() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockRepositoryManager) MustValidate() {
	m.Called()
}

// RunInTx executes the callback with a zero bun.Tx and returns its error,
// the way the real manager surfaces a rollback cause.
func (m *MockRepositoryManager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	var tx bun.Tx
	return f(ctx, tx)
}

// MockUsers implements identity.Users. The embedded interface covers the
// generic repository surface, calls to methods without expectations panic.
type MockUsers struct {
	mock.Mock
	identity.Users
}

func (m *MockUsers) GetByUsername(ctx context.Context, username string) (*identity.User, error) {
	args := m.Called(ctx, username)
	return userResult(args)
}

func (m *MockUsers) GetByUsernameTx(ctx context.Context, tx bun.IDB, username string) (*identity.User, error) {
	args := m.Called(ctx, tx, username)
	return userResult(args)
}

func (m *MockUsers) GetByPublicID(ctx context.Context, publicID uuid.UUID) (*identity.User, error) {
	args := m.Called(ctx, publicID)
	return userResult(args)
}

func (m *MockUsers) GetByPublicIDTx(ctx context.Context, tx bun.IDB, publicID uuid.UUID) (*identity.User, error) {
	args := m.Called(ctx, tx, publicID)
	return userResult(args)
}

func (m *MockUsers) GetByKeyTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*identity.User, error) {
	args := m.Called(ctx, tx, id)
	return userResult(args)
}

func (m *MockUsers) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	args := m.Called(ctx, username)
	return args.Bool(0), args.Error(1)
}

func (m *MockUsers) ExistsByUsernameTx(ctx context.Context, tx bun.IDB, username string) (bool, error) {
	args := m.Called(ctx, tx, username)
	return args.Bool(0), args.Error(1)
}

func (m *MockUsers) ExistsByTag(ctx context.Context, tag string) (bool, error) {
	args := m.Called(ctx, tag)
	return args.Bool(0), args.Error(1)
}

func (m *MockUsers) ExistsByTagTx(ctx context.Context, tx bun.IDB, tag string) (bool, error) {
	args := m.Called(ctx, tx, tag)
	return args.Bool(0), args.Error(1)
}

func (m *MockUsers) Create(ctx context.Context, record *identity.User, criteria ...repository.InsertCriteria) (*identity.User, error) {
	args := m.Called(ctx, record)
	return createdUser(args, record)
}

func (m *MockUsers) CreateTx(ctx context.Context, tx bun.IDB, record *identity.User, criteria ...repository.InsertCriteria) (*identity.User, error) {
	args := m.Called(ctx, tx, record)
	return createdUser(args, record)
}

func (m *MockUsers) SaveLockState(ctx context.Context, user *identity.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUsers) SaveLockStateTx(ctx context.Context, tx bun.IDB, user *identity.User) error {
	args := m.Called(ctx, tx, user)
	return args.Error(0)
}

func (m *MockUsers) UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status identity.UserStatus) (*identity.User, error) {
	args := m.Called(ctx, tx, id, status)
	return userResult(args)
}

func (m *MockUsers) AssignRolesTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, roleIDs []uuid.UUID) error {
	args := m.Called(ctx, tx, userID, roleIDs)
	return args.Error(0)
}

func (m *MockUsers) ReplaceRolesTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, roleIDs []uuid.UUID) error {
	args := m.Called(ctx, tx, userID, roleIDs)
	return args.Error(0)
}

func (m *MockUsers) AssignedRoleNames(ctx context.Context, userID uuid.UUID) ([]string, error) {
	args := m.Called(ctx, userID)
	return stringsResult(args)
}

func (m *MockUsers) AssignedRoleNamesTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) ([]string, error) {
	args := m.Called(ctx, tx, userID)
	return stringsResult(args)
}

func (m *MockUsers) FindStalePending(ctx context.Context, before time.Time) ([]*identity.User, error) {
	args := m.Called(ctx, before)
	var out []*identity.User
	if v := args.Get(0); v != nil {
		out = v.([]*identity.User)
	}
	return out, args.Error(1)
}

func (m *MockUsers) PurgeTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) error {
	args := m.Called(ctx, tx, userID)
	return args.Error(0)
}

// MockRoles implements identity.Roles
type MockRoles struct {
	mock.Mock
	identity.Roles
}

func (m *MockRoles) GetByName(ctx context.Context, name string) (*identity.Role, error) {
	args := m.Called(ctx, name)
	return roleResult(args)
}

func (m *MockRoles) GetByNameTx(ctx context.Context, tx bun.IDB, name string) (*identity.Role, error) {
	args := m.Called(ctx, tx, name)
	return roleResult(args)
}

func (m *MockRoles) GetByNamesTx(ctx context.Context, tx bun.IDB, names []string) ([]*identity.Role, error) {
	args := m.Called(ctx, tx, names)
	var out []*identity.Role
	if v := args.Get(0); v != nil {
		out = v.([]*identity.Role)
	}
	return out, args.Error(1)
}

func (m *MockRoles) Create(ctx context.Context, record *identity.Role, criteria ...repository.InsertCriteria) (*identity.Role, error) {
	args := m.Called(ctx, record)
	return roleResult(args)
}

func (m *MockRoles) CreateTx(ctx context.Context, tx bun.IDB, record *identity.Role, criteria ...repository.InsertCriteria) (*identity.Role, error) {
	args := m.Called(ctx, tx, record)
	return roleResult(args)
}

func (m *MockRoles) Deactivate(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRoles) ReplacePrivilegesTx(ctx context.Context, tx bun.IDB, roleID uuid.UUID, privilegeIDs []uuid.UUID) error {
	args := m.Called(ctx, tx, roleID, privilegeIDs)
	return args.Error(0)
}

func (m *MockRoles) PrivilegeNames(ctx context.Context, roleNames []string) ([]string, error) {
	args := m.Called(ctx, roleNames)
	return stringsResult(args)
}

func (m *MockRoles) PrivilegeNamesTx(ctx context.Context, tx bun.IDB, roleNames []string) ([]string, error) {
	args := m.Called(ctx, tx, roleNames)
	return stringsResult(args)
}

func (m *MockRoles) IsAssigned(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockRoles) IsAssignedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, tx, id)
	return args.Bool(0), args.Error(1)
}

// MockRefreshTokens implements identity.RefreshTokens
type MockRefreshTokens struct {
	mock.Mock
}

func (m *MockRefreshTokens) Issue(ctx context.Context, userID uuid.UUID) (*identity.RefreshToken, error) {
	args := m.Called(ctx, userID)
	return refreshResult(args)
}

func (m *MockRefreshTokens) IssueTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (*identity.RefreshToken, error) {
	args := m.Called(ctx, tx, userID)
	return refreshResult(args)
}

func (m *MockRefreshTokens) FindByToken(ctx context.Context, token string) (*identity.RefreshToken, error) {
	args := m.Called(ctx, token)
	return refreshResult(args)
}

func (m *MockRefreshTokens) FindByTokenTx(ctx context.Context, tx bun.IDB, token string) (*identity.RefreshToken, error) {
	args := m.Called(ctx, tx, token)
	return refreshResult(args)
}

func (m *MockRefreshTokens) VerifyExpiration(ctx context.Context, token *identity.RefreshToken) (*identity.RefreshToken, error) {
	args := m.Called(ctx, token)
	return refreshResult(args)
}

func (m *MockRefreshTokens) VerifyExpirationTx(ctx context.Context, tx bun.IDB, token *identity.RefreshToken) (*identity.RefreshToken, error) {
	args := m.Called(ctx, tx, token)
	return refreshResult(args)
}

func (m *MockRefreshTokens) Rotate(ctx context.Context, old *identity.RefreshToken) (*identity.RefreshToken, error) {
	args := m.Called(ctx, old)
	return refreshResult(args)
}

func (m *MockRefreshTokens) RotateTx(ctx context.Context, tx bun.IDB, old *identity.RefreshToken) (*identity.RefreshToken, error) {
	args := m.Called(ctx, tx, old)
	return refreshResult(args)
}

func (m *MockRefreshTokens) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockRefreshTokens) RevokeAllTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) error {
	args := m.Called(ctx, tx, userID)
	return args.Error(0)
}

// MockVerificationTokens implements identity.VerificationTokens
type MockVerificationTokens struct {
	mock.Mock
}

func (m *MockVerificationTokens) IssueTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (*identity.VerificationToken, error) {
	args := m.Called(ctx, tx, userID)
	return verificationResult(args)
}

func (m *MockVerificationTokens) FindByToken(ctx context.Context, token string) (*identity.VerificationToken, error) {
	args := m.Called(ctx, token)
	return verificationResult(args)
}

func (m *MockVerificationTokens) ConsumeTx(ctx context.Context, tx bun.IDB, token *identity.VerificationToken) error {
	args := m.Called(ctx, tx, token)
	return args.Error(0)
}

func (m *MockVerificationTokens) DeleteByUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) error {
	args := m.Called(ctx, tx, userID)
	return args.Error(0)
}

// MockMailer implements identity.Mailer
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) Send(ctx context.Context, to, subject, templateName string, variables map[string]any) error {
	args := m.Called(ctx, to, subject, templateName, variables)
	return args.Error(0)
}

// createdUser echoes the inserted record when the expectation returns
// (nil, nil), matching how the real repository hands the row back.
func createdUser(args mock.Arguments, record *identity.User) (*identity.User, error) {
	user, err := userResult(args)
	if user == nil && err == nil {
		user = record
	}
	return user, err
}

func userResult(args mock.Arguments) (*identity.User, error) {
	var user *identity.User
	if v := args.Get(0); v != nil {
		user = v.(*identity.User)
	}
	return user, args.Error(1)
}

func roleResult(args mock.Arguments) (*identity.Role, error) {
	var role *identity.Role
	if v := args.Get(0); v != nil {
		role = v.(*identity.Role)
	}
	return role, args.Error(1)
}

func refreshResult(args mock.Arguments) (*identity.RefreshToken, error) {
	var token *identity.RefreshToken
	if v := args.Get(0); v != nil {
		token = v.(*identity.RefreshToken)
	}
	return token, args.Error(1)
}

func verificationResult(args mock.Arguments) (*identity.VerificationToken, error) {
	var token *identity.VerificationToken
	if v := args.Get(0); v != nil {
		token = v.(*identity.VerificationToken)
	}
	return token, args.Error(1)
}

func stringsResult(args mock.Arguments) ([]string, error) {
	var out []string
	if v := args.Get(0); v != nil {
		out = v.([]string)
	}
	return out, args.Error(1)
}
