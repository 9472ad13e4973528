package identity

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DefaultVerificationTTL is how long a registration stays verifiable.
const DefaultVerificationTTL = 48 * time.Hour

// VerificationTokens stores account verification tokens. Issuing a
// replacement destroys the previous token for the account.
type VerificationTokens interface {
	IssueTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (*VerificationToken, error)
	FindByToken(ctx context.Context, token string) (*VerificationToken, error)
	ConsumeTx(ctx context.Context, tx bun.IDB, token *VerificationToken) error
	DeleteByUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) error
}

type verificationTokens struct {
	db  *bun.DB
	ttl time.Duration
	now func() time.Time
}

var _ VerificationTokens = (*verificationTokens)(nil)

// VerificationTokensOption customizes the store.
type VerificationTokensOption func(*verificationTokens)

// WithVerificationTTL overrides the verification window.
func WithVerificationTTL(ttl time.Duration) VerificationTokensOption {
	return func(v *verificationTokens) {
		if ttl > 0 {
			v.ttl = ttl
		}
	}
}

// WithVerificationClock injects a custom clock (useful for tests).
func WithVerificationClock(clock func() time.Time) VerificationTokensOption {
	return func(v *verificationTokens) {
		if clock != nil {
			v.now = clock
		}
	}
}

// NewVerificationTokensStore returns a bun-backed verification token store.
func NewVerificationTokensStore(db *bun.DB, opts ...VerificationTokensOption) VerificationTokens {
	store := &verificationTokens{
		db:  db,
		ttl: DefaultVerificationTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

// IssueTx replaces any previous token for the account and creates a new one.
func (v *verificationTokens) IssueTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (*VerificationToken, error) {
	if err := v.DeleteByUserTx(ctx, tx, userID); err != nil {
		return nil, err
	}

	opaque, err := newOpaqueToken()
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to generate verification token")
	}

	record := &VerificationToken{
		ID:        uuid.New(),
		Token:     opaque,
		UserID:    userID,
		ExpiresAt: v.now().Add(v.ttl),
	}

	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to persist verification token")
	}

	return record, nil
}

func (v *verificationTokens) FindByToken(ctx context.Context, token string) (*VerificationToken, error) {
	record := &VerificationToken{}
	err := v.db.NewSelect().
		Model(record).
		Where("?TableAlias.token = ?", token).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to look up verification token")
	}

	return record, nil
}

func (v *verificationTokens) ConsumeTx(ctx context.Context, tx bun.IDB, token *VerificationToken) error {
	if token == nil {
		return ErrTokenNotFound
	}

	if _, err := tx.NewDelete().Model(token).WherePK().Exec(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to consume verification token")
	}
	return nil
}

func (v *verificationTokens) DeleteByUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) error {
	_, err := tx.NewDelete().
		Model((*VerificationToken)(nil)).
		Where("?TableAlias.user_id = ?", userID).
		Exec(ctx)

	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to delete verification tokens")
	}
	return nil
}
