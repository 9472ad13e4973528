package identity

import (
	"context"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// dummyPasswordHash is compared against when no account matches the
// username so unknown users cost the same as wrong passwords.
const dummyPasswordHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Authenticator is the identity engine entry point. All state transitions
// that must be atomic share a single transaction, the audit sink is invoked
// after the outcome is decided and can never veto it.
type Authenticator struct {
	repo           RepositoryManager
	tokenService   TokenService
	lockPolicy     *LockPolicy
	auditSink      AuditSink
	mailer         Mailer
	logger         Logger
	passwordPolicy PasswordPolicy
	phoneRegion    string
	useHashid      bool
	now            func() time.Time
}

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(repo RepositoryManager, opts Config) *Authenticator {
	tokenService := NewTokenService(
		[]byte(opts.GetSigningKey()),
		opts.GetTokenExpiration(),
		opts.GetIssuer(),
		opts.GetAudience(),
		defLogger{},
	)

	lockOpts := []LockPolicyOption{}
	if max := opts.GetMaxLoginAttempts(); max > 0 {
		lockOpts = append(lockOpts, WithMaxFailedAttempts(max))
	}
	if period := opts.GetLockoutPeriod(); period != "" {
		if d, err := time.ParseDuration(period); err == nil {
			lockOpts = append(lockOpts, WithLockDuration(d))
		}
	}

	return &Authenticator{
		repo:           repo,
		tokenService:   tokenService,
		lockPolicy:     NewLockPolicy(lockOpts...),
		auditSink:      noopAuditSink{},
		mailer:         noopMailer{},
		logger:         defLogger{},
		passwordPolicy: DefaultPasswordPolicy,
		phoneRegion:    "US",
		now:            time.Now,
	}
}

func (s *Authenticator) WithLogger(logger Logger) *Authenticator {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithAuditSink configures the sink receiving audit records.
func (s *Authenticator) WithAuditSink(sink AuditSink) *Authenticator {
	s.auditSink = normalizeAuditSink(sink)
	return s
}

// WithMailer configures the notification transport for verification mail.
func (s *Authenticator) WithMailer(mailer Mailer) *Authenticator {
	s.mailer = normalizeMailer(mailer)
	return s
}

// WithPasswordPolicy replaces the secret strength predicate.
func (s *Authenticator) WithPasswordPolicy(policy PasswordPolicy) *Authenticator {
	if policy != nil {
		s.passwordPolicy = policy
	}
	return s
}

// WithLockPolicy replaces the lockout state machine.
func (s *Authenticator) WithLockPolicy(policy *LockPolicy) *Authenticator {
	if policy != nil {
		s.lockPolicy = policy
	}
	return s
}

// WithTokenService replaces the access token signer.
func (s *Authenticator) WithTokenService(ts TokenService) *Authenticator {
	if ts != nil {
		s.tokenService = ts
	}
	return s
}

// WithDeterministicPublicIDs derives the public identifier from the
// username instead of drawing a random UUID.
func (s *Authenticator) WithDeterministicPublicIDs(enabled bool) *Authenticator {
	s.useHashid = enabled
	return s
}

// WithPhoneRegion sets the default region for phone number normalization.
func (s *Authenticator) WithPhoneRegion(region string) *Authenticator {
	if region != "" {
		s.phoneRegion = region
	}
	return s
}

// WithClock injects a custom clock (useful for tests).
func (s *Authenticator) WithClock(clock func() time.Time) *Authenticator {
	if clock != nil {
		s.now = clock
	}
	return s
}

// TokenService returns the TokenService instance used by this Authenticator
func (s *Authenticator) TokenService() TokenService {
	return s.tokenService
}

// Login authenticates the credentials and on success hands out an access
// token plus a fresh refresh token. The lock state read, the counter update,
// and the refresh token insert share one transaction. Unknown usernames and
// wrong passwords are indistinguishable to the caller.
func (s *Authenticator) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid login payload")
	}

	var response *LoginResponse
	var denied error

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := s.repo.Users().GetByUsernameTx(ctx, tx, req.Username)
		if err != nil {
			if goerrors.IsNotFound(err) {
				// burn a bcrypt round so the miss costs the same
				_ = ComparePasswordAndHash(req.Password, dummyPasswordHash)
				s.auditLoginFail(ctx, ActorRef{Type: "anonymous"}, req.Username, "unknown_user")
				return ErrInvalidCredentials
			}
			return err
		}

		actor := actorFromUser(user)
		user.EnsureStatus()

		if user.Status == UserStatusPending {
			s.auditLoginFail(ctx, actor, req.Username, "not_verified")
			return ErrAccountNotVerified
		}

		if s.lockPolicy.Locked(user) {
			s.auditLoginFail(ctx, actor, req.Username, "locked")
			return lockedError(user)
		}

		if s.lockPolicy.LockExpired(user) {
			s.lockPolicy.Unlock(user)
		}

		if err := ComparePasswordAndHash(req.Password, user.PasswordHash); err != nil {
			locked := s.lockPolicy.RegisterFailure(user)
			if serr := s.repo.Users().SaveLockStateTx(ctx, tx, user); serr != nil {
				return serr
			}

			s.auditLoginFail(ctx, actor, req.Username, "bad_password")
			if locked {
				s.emitAudit(ctx, AuditRecord{
					Action:     AuditActionAccountLocked,
					Category:   AuditCategoryAuth,
					Outcome:    AuditOutcomeFail,
					Actor:      actor,
					EntityType: "user",
					EntityID:   user.PublicID.String(),
					Details: NewDetails().
						Add("username", req.Username).
						Add("lock_until", s.lockPolicy.LockedUntil(user).Format(time.RFC3339)).
						Build(),
				})
			}

			// commit, the failed attempt counter must survive the denial
			denied = ErrInvalidCredentials
			return nil
		}

		s.lockPolicy.RegisterSuccess(user)
		if err := s.repo.Users().SaveLockStateTx(ctx, tx, user); err != nil {
			return err
		}

		roles, err := s.repo.Users().AssignedRoleNamesTx(ctx, tx, user.ID)
		if err != nil {
			return err
		}

		accessToken, err := s.tokenService.Generate(user.PublicID.String(), user.Username, roles)
		if err != nil {
			return err
		}

		refresh, err := s.repo.RefreshTokens().IssueTx(ctx, tx, user.ID)
		if err != nil {
			return err
		}

		response = &LoginResponse{
			AccessToken:  accessToken,
			RefreshToken: refresh.Token,
			ExpiresAt:    refresh.ExpiresAt,
			PublicID:     user.PublicID.String(),
			Username:     user.Username,
			Alias:        user.Alias,
			Tag:          user.Tag,
			Roles:        roles,
		}

		s.emitAudit(ctx, AuditRecord{
			Action:     AuditActionLoginSuccess,
			Category:   AuditCategoryAuth,
			Outcome:    AuditOutcomeSuccess,
			Actor:      actor,
			EntityType: "user",
			EntityID:   user.PublicID.String(),
			Details:    NewDetails().Add("username", req.Username).Build(),
		})

		return nil
	})

	if err != nil {
		return nil, s.classify(ctx, err, "login failed")
	}
	if denied != nil {
		return nil, denied
	}

	return response, nil
}

// Refresh trades a live refresh token for a new token pair. The old token
// is dead after this call whether or not the exchange succeeds downstream,
// rotation and validation share one transaction.
func (s *Authenticator) Refresh(ctx context.Context, req RefreshRequest) (*LoginResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid refresh payload")
	}

	var response *LoginResponse
	var denied error

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		token, err := s.repo.RefreshTokens().FindByTokenTx(ctx, tx, req.RefreshToken)
		if err != nil {
			s.auditRefreshFail(ctx, ActorRef{Type: "anonymous"}, "", "token_not_found")
			return err
		}

		ownerID := token.UserID
		token, err = s.repo.RefreshTokens().VerifyExpirationTx(ctx, tx, token)
		if err != nil {
			s.auditRefreshFail(ctx, ActorRef{Type: "anonymous"}, ownerID.String(), "token_expired")
			if errors.Is(err, ErrTokenExpired) {
				// commit so the stale row stays deleted
				denied = err
				return nil
			}
			return err
		}

		user, err := s.repo.Users().GetByKeyTx(ctx, tx, token.UserID)
		if err != nil {
			return err
		}

		actor := actorFromUser(user)
		user.EnsureStatus()

		if user.Status == UserStatusPending {
			s.auditRefreshFail(ctx, actor, user.PublicID.String(), "not_verified")
			return ErrAccountNotVerified
		}

		if s.lockPolicy.Locked(user) {
			s.auditRefreshFail(ctx, actor, user.PublicID.String(), "locked")
			return lockedError(user)
		}

		rotated, err := s.repo.RefreshTokens().RotateTx(ctx, tx, token)
		if err != nil {
			return err
		}

		roles, err := s.repo.Users().AssignedRoleNamesTx(ctx, tx, user.ID)
		if err != nil {
			return err
		}

		accessToken, err := s.tokenService.Generate(user.PublicID.String(), user.Username, roles)
		if err != nil {
			return err
		}

		response = &LoginResponse{
			AccessToken:  accessToken,
			RefreshToken: rotated.Token,
			ExpiresAt:    rotated.ExpiresAt,
			PublicID:     user.PublicID.String(),
			Username:     user.Username,
			Alias:        user.Alias,
			Tag:          user.Tag,
			Roles:        roles,
		}

		s.emitAudit(ctx, AuditRecord{
			Action:     AuditActionRefreshSuccess,
			Category:   AuditCategoryAuth,
			Outcome:    AuditOutcomeSuccess,
			Actor:      actor,
			EntityType: "user",
			EntityID:   user.PublicID.String(),
		})

		return nil
	})

	if err != nil {
		return nil, s.classify(ctx, err, "refresh failed")
	}
	if denied != nil {
		return nil, denied
	}

	return response, nil
}

// Logout revokes every refresh token held by the session owner. The access
// token is left to expire on its own, only refresh capability is cut.
func (s *Authenticator) Logout(ctx context.Context, req LogoutRequest) error {
	if err := req.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid logout payload")
	}

	token, err := s.repo.RefreshTokens().FindByToken(ctx, req.RefreshToken)
	if err != nil {
		return s.classify(ctx, err, "logout failed")
	}

	if err := s.repo.RefreshTokens().RevokeAll(ctx, token.UserID); err != nil {
		return s.classify(ctx, err, "logout failed")
	}

	actor := ActorRef{ID: token.UserID.String(), Type: "user"}
	s.emitAudit(ctx, AuditRecord{
		Action:     AuditActionLogout,
		Category:   AuditCategoryAuth,
		Outcome:    AuditOutcomeSuccess,
		Actor:      actor,
		EntityType: "user",
		EntityID:   token.UserID.String(),
	})

	return nil
}

// Register creates a pending account with a unique tag and issues an email
// verification token. Each tag allocation attempt runs in its own
// transaction so a collision rollback cannot take the whole registration
// with it.
func (s *Authenticator) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid registration payload")
	}

	if s.passwordPolicy != nil {
		if err := s.passwordPolicy(req.Password); err != nil {
			return nil, err
		}
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	if exists, err := s.repo.Users().ExistsByUsername(ctx, req.Username); err != nil {
		return nil, s.classify(ctx, err, "registration failed")
	} else if exists {
		s.auditRegisterFail(ctx, req.Username, "duplicate_username")
		return nil, detail(ErrDuplicateResource, map[string]any{
			"resource": "user",
			"username": req.Username,
		})
	}

	publicID := uuid.New()
	if s.useHashid {
		if id, err := hashid.NewUUID(req.Username); err == nil {
			publicID = id
		}
	}

	var user *User
	var verification *VerificationToken

	for attempt := 0; attempt < MaxTagAttempts; attempt++ {
		candidate := &User{
			PublicID:       publicID,
			Username:       req.Username,
			PasswordHash:   hash,
			Status:         UserStatusPending,
			Alias:          req.Alias,
			Tag:            GenerateTag(req.Alias, publicID, attempt),
			FirstName:      req.FirstName,
			MiddleName:     req.MiddleName,
			LastName:       req.LastName,
			SecondLastName: req.SecondLastName,
			Phone:          normalizePhone(req.Phone, s.phoneRegion),
		}

		err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			created, err := s.repo.Users().CreateTx(ctx, tx, candidate)
			if err != nil {
				return err
			}

			role, err := s.repo.Roles().GetByNameTx(ctx, tx, RoleUser)
			if err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "default role is not provisioned")
			}

			if err := s.repo.Users().AssignRolesTx(ctx, tx, created.ID, []uuid.UUID{role.ID}); err != nil {
				return err
			}

			verification, err = s.repo.VerificationTokens().IssueTx(ctx, tx, created.ID)
			if err != nil {
				return err
			}

			user = created
			return nil
		})

		if err == nil {
			break
		}

		if IsUniqueViolationError(err) {
			taken, checkErr := s.repo.Users().ExistsByTag(ctx, candidate.Tag)
			if checkErr == nil && taken {
				// tag collision, retry with the next derivation
				continue
			}

			s.auditRegisterFail(ctx, req.Username, "duplicate_username")
			return nil, detail(ErrDuplicateResource, map[string]any{
				"resource": "user",
				"username": req.Username,
			})
		}

		return nil, s.classify(ctx, err, "registration failed")
	}

	if user == nil {
		s.auditRegisterFail(ctx, req.Username, "tag_allocation_exhausted")
		return nil, detail(ErrTagAllocationExhausted, map[string]any{
			"username": req.Username,
			"attempts": MaxTagAttempts,
		})
	}

	s.sendVerificationMail(user, verification)

	s.emitAudit(ctx, AuditRecord{
		Action:     AuditActionRegister,
		Category:   AuditCategoryUser,
		Outcome:    AuditOutcomeSuccess,
		Actor:      actorFromUser(user),
		EntityType: "user",
		EntityID:   user.PublicID.String(),
		Details: NewDetails().
			Add("username", user.Username).
			Add("tag", user.Tag).
			Build(),
	})

	return &RegisterResponse{
		PublicID: user.PublicID.String(),
		Username: user.Username,
		Alias:    user.Alias,
		Tag:      user.Tag,
		Status:   user.Status,
		Roles:    []string{RoleUser},
	}, nil
}

// Verify consumes an email verification token and activates the account.
func (s *Authenticator) Verify(ctx context.Context, req VerifyRequest) error {
	if err := req.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid verification payload")
	}

	token, err := s.repo.VerificationTokens().FindByToken(ctx, req.Token)
	if err != nil {
		return s.classify(ctx, err, "verification failed")
	}

	if token.Expired(s.now()) {
		return ErrTokenExpired
	}

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.repo.VerificationTokens().ConsumeTx(ctx, tx, token); err != nil {
			return err
		}

		_, err := s.repo.Users().UpdateStatusTx(ctx, tx, token.UserID, UserStatusActive)
		return err
	})

	if err != nil {
		return s.classify(ctx, err, "verification failed")
	}

	s.emitAudit(ctx, AuditRecord{
		Action:     AuditActionVerified,
		Category:   AuditCategoryUser,
		Outcome:    AuditOutcomeSuccess,
		Actor:      ActorRef{ID: token.UserID.String(), Type: "user"},
		EntityType: "user",
		EntityID:   token.UserID.String(),
	})

	return nil
}

// ResendVerification replaces the pending account's verification token with
// a fresh one. Unknown usernames and already active accounts return nil so
// the endpoint cannot be used to enumerate accounts.
func (s *Authenticator) ResendVerification(ctx context.Context, req ResendVerificationRequest) error {
	if err := req.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid resend payload")
	}

	user, err := s.repo.Users().GetByUsername(ctx, req.Username)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil
		}
		return s.classify(ctx, err, "resend verification failed")
	}

	if user.Status != UserStatusPending {
		return nil
	}

	var verification *VerificationToken
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		verification, err = s.repo.VerificationTokens().IssueTx(ctx, tx, user.ID)
		return err
	})

	if err != nil {
		return s.classify(ctx, err, "resend verification failed")
	}

	s.sendVerificationMail(user, verification)

	s.emitAudit(ctx, AuditRecord{
		Action:     AuditActionVerificationResent,
		Category:   AuditCategoryUser,
		Outcome:    AuditOutcomeSuccess,
		Actor:      actorFromUser(user),
		EntityType: "user",
		EntityID:   user.PublicID.String(),
	})

	return nil
}

// sendVerificationMail delivers the token out of band. Mail failures are
// logged and dropped, the registration already committed.
func (s *Authenticator) sendVerificationMail(user *User, token *VerificationToken) {
	if token == nil {
		return
	}

	mailer := normalizeMailer(s.mailer)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := mailer.Send(ctx, user.Username, "Verify your account", "account_verification", map[string]any{
			"first_name": user.FirstName,
			"token":      token.Token,
			"expires_at": token.ExpiresAt,
		})
		if err != nil {
			s.logger.Warn("verification mail delivery failed: %v", err)
		}
	}()
}

func (s *Authenticator) emitAudit(ctx context.Context, record AuditRecord) {
	sink := normalizeAuditSink(s.auditSink)

	if info, ok := RequestInfoFromContext(ctx); ok {
		record.Request = info
	}

	if record.OccurredAt.IsZero() {
		record.OccurredAt = s.now()
	}

	if err := sink.Record(ctx, record); err != nil {
		s.logger.Warn("audit sink record error: %v", err)
	}
}

func (s *Authenticator) auditLoginFail(ctx context.Context, actor ActorRef, username, reason string) {
	s.emitAudit(ctx, AuditRecord{
		Action:     AuditActionLoginFail,
		Category:   AuditCategoryAuth,
		Outcome:    AuditOutcomeFail,
		Actor:      actor,
		EntityType: "user",
		EntityID:   actor.ID,
		Details: NewDetails().
			Add("username", username).
			Add("reason", reason).
			Build(),
	})
}

func (s *Authenticator) auditRefreshFail(ctx context.Context, actor ActorRef, entityID, reason string) {
	s.emitAudit(ctx, AuditRecord{
		Action:     AuditActionRefreshFail,
		Category:   AuditCategoryAuth,
		Outcome:    AuditOutcomeFail,
		Actor:      actor,
		EntityType: "user",
		EntityID:   entityID,
		Details:    NewDetails().Add("reason", reason).Build(),
	})
}

func (s *Authenticator) auditRegisterFail(ctx context.Context, username, reason string) {
	s.emitAudit(ctx, AuditRecord{
		Action:     AuditActionRegisterFail,
		Category:   AuditCategoryUser,
		Outcome:    AuditOutcomeFail,
		Actor:      ActorRef{Type: "anonymous"},
		EntityType: "user",
		Details: NewDetails().
			Add("username", username).
			Add("reason", reason).
			Build(),
	})
}

// classify passes categorized errors through untouched. Anything else is an
// unexpected failure, it gets an audit record of its own and a generic
// internal wrapper so callers never see raw driver errors.
func (s *Authenticator) classify(ctx context.Context, err error, msg string) error {
	var rich *goerrors.Error
	if errors.As(err, &rich) {
		return err
	}

	s.emitAudit(ctx, AuditRecord{
		Action:   AuditActionUnhandled,
		Category: AuditCategorySystem,
		Outcome:  AuditOutcomeFail,
		Actor:    ActorRef{Type: "system"},
		Details:  NewDetails().Add("error", err.Error()).Build(),
	})

	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}

func actorFromUser(user *User) ActorRef {
	if user == nil {
		return ActorRef{Type: "unknown"}
	}

	return ActorRef{
		ID:       user.PublicID.String(),
		Username: user.Username,
		Type:     "user",
	}
}
