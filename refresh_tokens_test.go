package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshTokensIssueAndFind(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	user := seedUser(t, repo, "bob@example.com", "Bob#100001")

	issued, err := repo.RefreshTokens().Issue(ctx, user.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Token)
	assert.Equal(t, user.ID, issued.UserID)
	assert.True(t, issued.ExpiresAt.After(time.Now()))

	found, err := repo.RefreshTokens().FindByToken(ctx, issued.Token)
	require.NoError(t, err)
	assert.Equal(t, issued.ID, found.ID)

	_, err = repo.RefreshTokens().FindByToken(ctx, "no-such-token")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestRefreshTokensRotateIsSingleUse(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	user := seedUser(t, repo, "bob@example.com", "Bob#100001")

	issued, err := repo.RefreshTokens().Issue(ctx, user.ID)
	require.NoError(t, err)

	rotated, err := repo.RefreshTokens().Rotate(ctx, issued)
	require.NoError(t, err)
	assert.NotEqual(t, issued.Token, rotated.Token)
	assert.Equal(t, user.ID, rotated.UserID)

	// the consumed token no longer resolves
	_, err = repo.RefreshTokens().FindByToken(ctx, issued.Token)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	// replaying the consumed token fails rotation as well
	_, err = repo.RefreshTokens().Rotate(ctx, issued)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	// the replacement still works
	_, err = repo.RefreshTokens().FindByToken(ctx, rotated.Token)
	assert.NoError(t, err)
}

func TestRefreshTokensExpiredIsDeletedOnVerify(t *testing.T) {
	db, repo := setupTestDB(t)
	ctx := context.Background()

	user := seedUser(t, repo, "bob@example.com", "Bob#100001")

	// far enough back that issuance time + TTL is already behind the wall clock
	past := time.Now().Add(-DefaultRefreshTokenTTL - time.Hour)
	store := NewRefreshTokensStore(db, WithRefreshClock(func() time.Time { return past }))

	issued, err := store.Issue(ctx, user.ID)
	require.NoError(t, err)

	// the default-clock store sees the token as expired
	_, err = repo.RefreshTokens().VerifyExpiration(ctx, issued)
	assert.ErrorIs(t, err, ErrTokenExpired)

	// expired tokens are deleted, not just rejected
	_, err = repo.RefreshTokens().FindByToken(ctx, issued.Token)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestRefreshTokensRevokeAll(t *testing.T) {
	db, repo := setupTestDB(t)
	ctx := context.Background()

	user := seedUser(t, repo, "bob@example.com", "Bob#100001")
	other := seedUser(t, repo, "alice@example.com", "Alice#100001")

	for range 3 {
		_, err := repo.RefreshTokens().Issue(ctx, user.ID)
		require.NoError(t, err)
	}
	kept, err := repo.RefreshTokens().Issue(ctx, other.ID)
	require.NoError(t, err)

	require.NoError(t, repo.RefreshTokens().RevokeAll(ctx, user.ID))

	count, err := db.NewSelect().Model((*RefreshToken)(nil)).
		Where("?TableAlias.user_id = ?", user.ID).
		Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	// other sessions are untouched
	_, err = repo.RefreshTokens().FindByToken(ctx, kept.Token)
	assert.NoError(t, err)
}

func TestVerificationTokensReplaceAndConsume(t *testing.T) {
	db, repo := setupTestDB(t)
	ctx := context.Background()

	user := seedUser(t, repo, "bob@example.com", "Bob#100001")

	first, err := repo.VerificationTokens().IssueTx(ctx, db, user.ID)
	require.NoError(t, err)

	// issuing a replacement destroys the previous token
	second, err := repo.VerificationTokens().IssueTx(ctx, db, user.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)

	_, err = repo.VerificationTokens().FindByToken(ctx, first.Token)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	found, err := repo.VerificationTokens().FindByToken(ctx, second.Token)
	require.NoError(t, err)

	require.NoError(t, repo.VerificationTokens().ConsumeTx(ctx, db, found))

	_, err = repo.VerificationTokens().FindByToken(ctx, second.Token)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}
