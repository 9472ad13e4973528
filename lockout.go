package identity

import (
	"time"
)

// DefaultMaxFailedAttempts is the number of consecutive failures that locks
// an account.
const DefaultMaxFailedAttempts = 5

// DefaultLockDuration is how long a locked account stays locked.
const DefaultLockDuration = 15 * time.Minute

// ActorRef identifies who/what triggered a security-relevant transition.
// An empty ID with Type "anonymous" attributes the event to an
// unauthenticated caller.
type ActorRef struct {
	ID       string
	Username string
	Type     string
}

// LockPolicy is the account lock state machine. It mutates the in-memory
// user record only, persisting the outcome is the caller's concern so the
// counter update shares the login transaction.
type LockPolicy struct {
	maxAttempts  int
	lockDuration time.Duration
	now          func() time.Time
}

// LockPolicyOption customizes lock policy construction.
type LockPolicyOption func(*LockPolicy)

// WithLockClock injects a custom clock (useful for tests).
func WithLockClock(clock func() time.Time) LockPolicyOption {
	return func(p *LockPolicy) {
		if clock != nil {
			p.now = clock
		}
	}
}

// WithMaxFailedAttempts overrides the lockout threshold.
func WithMaxFailedAttempts(max int) LockPolicyOption {
	return func(p *LockPolicy) {
		if max > 0 {
			p.maxAttempts = max
		}
	}
}

// WithLockDuration overrides how long an account stays locked.
func WithLockDuration(d time.Duration) LockPolicyOption {
	return func(p *LockPolicy) {
		if d > 0 {
			p.lockDuration = d
		}
	}
}

// NewLockPolicy returns the default lock state machine.
func NewLockPolicy(opts ...LockPolicyOption) *LockPolicy {
	p := &LockPolicy{
		maxAttempts:  DefaultMaxFailedAttempts,
		lockDuration: DefaultLockDuration,
		now:          time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	return p
}

// Locked reports whether the account is denied login, either inside an
// active lockout window or blocked administratively with no deadline.
// Callers must not verify credentials while this is true, a locked account
// gives no signal about whether the secret was correct.
func (p *LockPolicy) Locked(user *User) bool {
	if user == nil {
		return false
	}
	return user.Status == UserStatusBlocked &&
		(user.LockUntil == nil || p.now().Before(*user.LockUntil))
}

// LockExpired reports whether a blocked account's window has elapsed and it
// is eligible for auto-unlock. Administrative blocks carry no deadline and
// never expire.
func (p *LockPolicy) LockExpired(user *User) bool {
	if user == nil || user.Status != UserStatusBlocked {
		return false
	}
	return user.LockUntil != nil && !p.now().Before(*user.LockUntil)
}

// Unlock resets the account to active with a clean counter.
func (p *LockPolicy) Unlock(user *User) {
	user.Status = UserStatusActive
	user.FailedAttempts = 0
	user.LockUntil = nil
}

// RegisterFailure increments the failed-attempt counter and reports whether
// this failure tripped the lockout threshold. When it does, the account
// transitions to blocked with a lock-until timestamp.
func (p *LockPolicy) RegisterFailure(user *User) (locked bool) {
	user.FailedAttempts++
	if user.FailedAttempts >= p.maxAttempts {
		until := p.now().Add(p.lockDuration)
		user.Status = UserStatusBlocked
		user.LockUntil = &until
		return true
	}
	return false
}

// RegisterSuccess clears the failed-attempt counter after a verified login.
func (p *LockPolicy) RegisterSuccess(user *User) {
	user.FailedAttempts = 0
	user.LockUntil = nil
}

// LockedUntil returns the lock deadline, zero when the account is not locked.
func (p *LockPolicy) LockedUntil(user *User) time.Time {
	if user == nil || user.LockUntil == nil {
		return time.Time{}
	}
	return *user.LockUntil
}

// lockedError renders the lockout as ErrAccountLocked. Timed locks carry
// the deadline as metadata, administrative blocks carry none.
func lockedError(user *User) error {
	if user == nil || user.LockUntil == nil {
		return ErrAccountLocked
	}
	return detail(ErrAccountLocked, map[string]any{
		"lock_until": user.LockUntil.UTC().Format(time.RFC3339),
	})
}
