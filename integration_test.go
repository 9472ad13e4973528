package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flowConfig struct{}

func (flowConfig) GetSigningKey() string          { return "integration-signing-key" }
func (flowConfig) GetTokenExpiration() int        { return 1 }
func (flowConfig) GetRefreshExpiration() int      { return 72 }
func (flowConfig) GetVerificationExpiration() int { return 48 }
func (flowConfig) GetIssuer() string              { return "go-identity" }
func (flowConfig) GetAudience() []string          { return []string{"go-identity-tests"} }
func (flowConfig) GetMaxLoginAttempts() int       { return 5 }
func (flowConfig) GetLockoutPeriod() string       { return "15m" }

type flowSink struct {
	mu      sync.Mutex
	records []AuditRecord
}

func (s *flowSink) Record(ctx context.Context, record AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *flowSink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Action)
	}
	return out
}

func TestAccountLifecycleEndToEnd(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, Bootstrap(ctx, repo, BootstrapConfig{}, testSilentLogger{}))

	sink := &flowSink{}
	tokens := make(chan string, 2)
	mailer := MailerFunc(func(ctx context.Context, to, subject, template string, vars map[string]any) error {
		tokens <- vars["token"].(string)
		return nil
	})

	auther := NewAuthenticator(repo, flowConfig{}).
		WithAuditSink(sink).
		WithMailer(mailer).
		WithLogger(testSilentLogger{})

	registered, err := auther.Register(ctx, RegisterRequest{
		Username:  "bob@example.com",
		Password:  "secret123",
		Alias:     "Bob",
		FirstName: "Bob",
		LastName:  "Builder",
	})
	require.NoError(t, err)
	assert.Equal(t, UserStatusPending, registered.Status)
	assert.Equal(t, "Bob", registered.Alias)
	assert.Contains(t, registered.Tag, "Bob#")
	assert.Equal(t, []string{RoleUser}, registered.Roles)

	// pending accounts cannot log in, even with the right password
	_, err = auther.Login(ctx, LoginRequest{Username: "bob@example.com", Password: "secret123"})
	require.ErrorIs(t, err, ErrAccountNotVerified)

	var verifyToken string
	select {
	case verifyToken = <-tokens:
	case <-time.After(2 * time.Second):
		t.Fatal("verification mail never arrived")
	}

	require.NoError(t, auther.Verify(ctx, VerifyRequest{Token: verifyToken}))

	// the consumed token cannot be replayed
	err = auther.Verify(ctx, VerifyRequest{Token: verifyToken})
	require.ErrorIs(t, err, ErrTokenNotFound)

	login, err := auther.Login(ctx, LoginRequest{Username: "bob@example.com", Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, []string{RoleUser}, login.Roles)
	assert.Equal(t, registered.Tag, login.Tag)

	claims, err := auther.TokenService().Validate(login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, registered.PublicID, claims.UserID())
	assert.Equal(t, "bob@example.com", claims.Username())
	assert.True(t, claims.HasRole(RoleUser))

	refreshed, err := auther.Refresh(ctx, RefreshRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)

	// rotation is single use
	_, err = auther.Refresh(ctx, RefreshRequest{RefreshToken: login.RefreshToken})
	require.ErrorIs(t, err, ErrTokenNotFound)

	require.NoError(t, auther.Logout(ctx, LogoutRequest{RefreshToken: refreshed.RefreshToken}))

	_, err = auther.Refresh(ctx, RefreshRequest{RefreshToken: refreshed.RefreshToken})
	require.ErrorIs(t, err, ErrTokenNotFound)

	actions := sink.actions()
	assert.Contains(t, actions, AuditActionRegister)
	assert.Contains(t, actions, AuditActionVerified)
	assert.Contains(t, actions, AuditActionLoginFail)
	assert.Contains(t, actions, AuditActionLoginSuccess)
	assert.Contains(t, actions, AuditActionRefreshSuccess)
	assert.Contains(t, actions, AuditActionLogout)
}

func TestLockoutLifecycleEndToEnd(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, Bootstrap(ctx, repo, BootstrapConfig{}, testSilentLogger{}))

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	sink := &flowSink{}
	auther := NewAuthenticator(repo, flowConfig{}).
		WithAuditSink(sink).
		WithLogger(testSilentLogger{}).
		WithLockPolicy(NewLockPolicy(WithLockClock(clock))).
		WithClock(clock)

	tokens := make(chan string, 1)
	auther.WithMailer(MailerFunc(func(ctx context.Context, to, subject, template string, vars map[string]any) error {
		tokens <- vars["token"].(string)
		return nil
	}))

	_, err := auther.Register(ctx, RegisterRequest{
		Username:  "bob@example.com",
		Password:  "secret123",
		Alias:     "Bob",
		FirstName: "Bob",
		LastName:  "Builder",
	})
	require.NoError(t, err)

	select {
	case tok := <-tokens:
		require.NoError(t, auther.Verify(ctx, VerifyRequest{Token: tok}))
	case <-time.After(2 * time.Second):
		t.Fatal("verification mail never arrived")
	}

	// five consecutive failures trip the threshold
	for i := 0; i < 5; i++ {
		_, err := auther.Login(ctx, LoginRequest{Username: "bob@example.com", Password: "wrong"})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	user, err := repo.Users().GetByUsername(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, UserStatusBlocked, user.Status)
	assert.Equal(t, 5, user.FailedAttempts)
	require.NotNil(t, user.LockUntil)

	// inside the window the right password is rejected without a hint
	now = now.Add(14 * time.Minute)
	_, err = auther.Login(ctx, LoginRequest{Username: "bob@example.com", Password: "secret123"})
	require.ErrorIs(t, err, ErrAccountLocked)

	// once the window elapses the lock clears on the next attempt
	now = now.Add(2 * time.Minute)
	login, err := auther.Login(ctx, LoginRequest{Username: "bob@example.com", Password: "secret123"})
	require.NoError(t, err)
	assert.NotEmpty(t, login.AccessToken)

	user, err = repo.Users().GetByUsername(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, UserStatusActive, user.Status)
	assert.Equal(t, 0, user.FailedAttempts)
	assert.Nil(t, user.LockUntil)

	assert.Contains(t, sink.actions(), AuditActionAccountLocked)
}

func TestFailedLoginPersistsAttemptCounter(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, Bootstrap(ctx, repo, BootstrapConfig{}, testSilentLogger{}))

	admin := NewAdmin(repo).WithLogger(testSilentLogger{})
	created, err := admin.CreateUser(ctx, ActorRef{Type: "system"}, CreateUserRequest{
		Username:  "bob@example.com",
		Password:  "secret123",
		Alias:     "Bob",
		FirstName: "Bob",
		LastName:  "Builder",
	})
	require.NoError(t, err)

	auther := NewAuthenticator(repo, flowConfig{}).WithLogger(testSilentLogger{})

	// the denial must not roll back the counter write
	_, err = auther.Login(ctx, LoginRequest{Username: "bob@example.com", Password: "wrong"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	user, err := repo.Users().GetByPublicID(ctx, created.PublicID)
	require.NoError(t, err)
	assert.Equal(t, 1, user.FailedAttempts)
	assert.Equal(t, UserStatusActive, user.Status)

	// a successful login clears it again
	_, err = auther.Login(ctx, LoginRequest{Username: "bob@example.com", Password: "secret123"})
	require.NoError(t, err)

	user, err = repo.Users().GetByPublicID(ctx, created.PublicID)
	require.NoError(t, err)
	assert.Equal(t, 0, user.FailedAttempts)
}

func TestRefreshWithExpiredTokenPurgesRow(t *testing.T) {
	db, repo := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, Bootstrap(ctx, repo, BootstrapConfig{}, testSilentLogger{}))

	admin := NewAdmin(repo).WithLogger(testSilentLogger{})
	created, err := admin.CreateUser(ctx, ActorRef{Type: "system"}, CreateUserRequest{
		Username:  "bob@example.com",
		Password:  "secret123",
		Alias:     "Bob",
		FirstName: "Bob",
		LastName:  "Builder",
	})
	require.NoError(t, err)

	past := time.Now().Add(-DefaultRefreshTokenTTL - time.Hour)
	staleStore := NewRefreshTokensStore(db, WithRefreshClock(func() time.Time { return past }))
	stale, err := staleStore.Issue(ctx, created.ID)
	require.NoError(t, err)

	auther := NewAuthenticator(repo, flowConfig{}).WithLogger(testSilentLogger{})

	_, err = auther.Refresh(ctx, RefreshRequest{RefreshToken: stale.Token})
	require.ErrorIs(t, err, ErrTokenExpired)

	// the delete of the stale row survives the denial
	_, err = repo.RefreshTokens().FindByToken(ctx, stale.Token)
	require.ErrorIs(t, err, ErrTokenNotFound)
}
