package identity

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// DefaultCleanupWindow is how long a pending registration may sit
// unverified before it is purged. Matches the verification token TTL so an
// account is only removed once its token could no longer be consumed.
const DefaultCleanupWindow = DefaultVerificationTTL

// Cleaner purges registrations that never completed verification. The host
// owns scheduling, Run performs exactly one sweep.
type Cleaner struct {
	repo      RepositoryManager
	auditSink AuditSink
	logger    Logger
	window    time.Duration
	now       func() time.Time
}

type CleanerOption func(*Cleaner)

// WithCleanupWindow overrides how old a pending account must be before it
// is purged.
func WithCleanupWindow(d time.Duration) CleanerOption {
	return func(c *Cleaner) {
		if d > 0 {
			c.window = d
		}
	}
}

// WithCleanerAuditSink configures the sink receiving sweep records.
func WithCleanerAuditSink(sink AuditSink) CleanerOption {
	return func(c *Cleaner) {
		c.auditSink = normalizeAuditSink(sink)
	}
}

// WithCleanerLogger sets the sweep logger.
func WithCleanerLogger(logger Logger) CleanerOption {
	return func(c *Cleaner) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCleanerClock injects a custom clock (useful for tests).
func WithCleanerClock(clock func() time.Time) CleanerOption {
	return func(c *Cleaner) {
		if clock != nil {
			c.now = clock
		}
	}
}

func NewCleaner(repo RepositoryManager, opts ...CleanerOption) *Cleaner {
	c := &Cleaner{
		repo:      repo,
		auditSink: noopAuditSink{},
		logger:    defLogger{},
		window:    DefaultCleanupWindow,
		now:       time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c
}

// Run sweeps stale pending registrations, deleting each account with its
// tokens and role assignments in its own transaction so one bad row cannot
// abort the whole sweep. Returns how many accounts were purged.
func (c *Cleaner) Run(ctx context.Context) (int, error) {
	cutoff := c.now().Add(-c.window)

	stale, err := c.repo.Users().FindStalePending(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, user := range stale {
		if err := ctx.Err(); err != nil {
			return purged, err
		}

		err := c.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			return c.repo.Users().PurgeTx(ctx, tx, user.ID)
		})
		if err != nil {
			c.logger.Warn("cleanup failed to purge user %s: %v", user.PublicID, err)
			continue
		}

		purged++
	}

	if purged > 0 {
		record := AuditRecord{
			Action:     AuditActionCleanup,
			Category:   AuditCategorySystem,
			Outcome:    AuditOutcomeSuccess,
			Actor:      ActorRef{Type: "system"},
			EntityType: "user",
			Details: NewDetails().
				Add("purged", purged).
				Add("cutoff", cutoff.Format(time.RFC3339)).
				Build(),
			OccurredAt: c.now(),
		}

		if err := c.auditSink.Record(ctx, record); err != nil {
			c.logger.Warn("audit sink record error: %v", err)
		}
	}

	return purged, nil
}
