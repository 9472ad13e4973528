package identity

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	stderrors "errors"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DefaultRefreshTokenTTL is how long a refresh token stays valid.
const DefaultRefreshTokenTTL = 7 * 24 * time.Hour

// RefreshTokens stores single-use refresh tokens. Rotation deletes the
// presented token and issues a replacement inside the caller's transaction,
// replaying a rotated token fails lookup because the row no longer exists.
type RefreshTokens interface {
	Issue(ctx context.Context, userID uuid.UUID) (*RefreshToken, error)
	IssueTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (*RefreshToken, error)
	FindByToken(ctx context.Context, token string) (*RefreshToken, error)
	FindByTokenTx(ctx context.Context, tx bun.IDB, token string) (*RefreshToken, error)
	VerifyExpiration(ctx context.Context, token *RefreshToken) (*RefreshToken, error)
	VerifyExpirationTx(ctx context.Context, tx bun.IDB, token *RefreshToken) (*RefreshToken, error)
	Rotate(ctx context.Context, old *RefreshToken) (*RefreshToken, error)
	RotateTx(ctx context.Context, tx bun.IDB, old *RefreshToken) (*RefreshToken, error)
	RevokeAll(ctx context.Context, userID uuid.UUID) error
	RevokeAllTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) error
}

type refreshTokens struct {
	db  *bun.DB
	ttl time.Duration
	now func() time.Time
}

var _ RefreshTokens = (*refreshTokens)(nil)

// RefreshTokensOption customizes the store.
type RefreshTokensOption func(*refreshTokens)

// WithRefreshTTL overrides the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) RefreshTokensOption {
	return func(r *refreshTokens) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithRefreshClock injects a custom clock (useful for tests).
func WithRefreshClock(clock func() time.Time) RefreshTokensOption {
	return func(r *refreshTokens) {
		if clock != nil {
			r.now = clock
		}
	}
}

// NewRefreshTokensStore returns a bun-backed refresh token store.
func NewRefreshTokensStore(db *bun.DB, opts ...RefreshTokensOption) RefreshTokens {
	store := &refreshTokens{
		db:  db,
		ttl: DefaultRefreshTokenTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

func (r *refreshTokens) Issue(ctx context.Context, userID uuid.UUID) (*RefreshToken, error) {
	return r.IssueTx(ctx, r.db, userID)
}

func (r *refreshTokens) IssueTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (*RefreshToken, error) {
	opaque, err := newOpaqueToken()
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to generate refresh token")
	}

	record := &RefreshToken{
		ID:        uuid.New(),
		Token:     opaque,
		UserID:    userID,
		ExpiresAt: r.now().Add(r.ttl),
	}

	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to persist refresh token")
	}

	return record, nil
}

func (r *refreshTokens) FindByToken(ctx context.Context, token string) (*RefreshToken, error) {
	return r.FindByTokenTx(ctx, r.db, token)
}

func (r *refreshTokens) FindByTokenTx(ctx context.Context, tx bun.IDB, token string) (*RefreshToken, error) {
	record := &RefreshToken{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.token = ?", token).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to look up refresh token")
	}

	return record, nil
}

func (r *refreshTokens) VerifyExpiration(ctx context.Context, token *RefreshToken) (*RefreshToken, error) {
	return r.VerifyExpirationTx(ctx, r.db, token)
}

// VerifyExpirationTx deletes an expired token before reporting it so a
// replay after expiry is indistinguishable from an unknown token.
func (r *refreshTokens) VerifyExpirationTx(ctx context.Context, tx bun.IDB, token *RefreshToken) (*RefreshToken, error) {
	if token == nil {
		return nil, ErrTokenNotFound
	}

	if token.Expired(r.now()) {
		if _, err := tx.NewDelete().Model(token).WherePK().Exec(ctx); err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to delete expired refresh token")
		}
		return nil, ErrTokenExpired
	}

	return token, nil
}

func (r *refreshTokens) Rotate(ctx context.Context, old *RefreshToken) (*RefreshToken, error) {
	return r.RotateTx(ctx, r.db, old)
}

func (r *refreshTokens) RotateTx(ctx context.Context, tx bun.IDB, old *RefreshToken) (*RefreshToken, error) {
	if old == nil {
		return nil, ErrTokenNotFound
	}

	res, err := tx.NewDelete().Model(old).WherePK().Exec(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to invalidate refresh token")
	}

	// a concurrent rotation already consumed the token
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return nil, ErrTokenNotFound
	}

	return r.IssueTx(ctx, tx, old.UserID)
}

func (r *refreshTokens) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	return r.RevokeAllTx(ctx, r.db, userID)
}

func (r *refreshTokens) RevokeAllTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) error {
	_, err := tx.NewDelete().
		Model((*RefreshToken)(nil)).
		Where("?TableAlias.user_id = ?", userID).
		Exec(ctx)

	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to revoke refresh tokens")
	}
	return nil
}

// newOpaqueToken returns 256 bits of randomness as a URL-safe string.
func newOpaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
