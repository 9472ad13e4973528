package identity

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// CreateUserRequest provisions an account on behalf of an operator. The
// account comes up active, no verification flow runs.
type CreateUserRequest struct {
	Username       string   `json:"username"`
	Password       string   `json:"password"`
	Alias          string   `json:"alias"`
	FirstName      string   `json:"first_name"`
	MiddleName     string   `json:"middle_name"`
	LastName       string   `json:"last_name"`
	SecondLastName string   `json:"second_last_name"`
	Phone          string   `json:"phone_number"`
	Roles          []string `json:"roles"`
}

// Validate will validate the payload
func (r CreateUserRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 200)),
	)
}

// UpdateProfileRequest changes the mutable profile fields. The tag is fixed
// at creation and never re-derived.
type UpdateProfileRequest struct {
	FirstName      string `json:"first_name"`
	MiddleName     string `json:"middle_name"`
	LastName       string `json:"last_name"`
	SecondLastName string `json:"second_last_name"`
	Phone          string `json:"phone_number"`
	Alias          string `json:"alias"`
}

// Validate will validate the payload
func (r UpdateProfileRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.MiddleName, validation.Length(0, 200)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.SecondLastName, validation.Length(0, 200)),
		validation.Field(&r.Alias, validation.Length(0, 100)),
	)
}

// RoleRequest creates or updates a role
type RoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Validate will run validation rules
func (r RoleRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 100)),
		validation.Field(&r.Description, validation.Length(0, 500)),
	)
}

// PrivilegeRequest creates or updates a privilege
type PrivilegeRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Validate will run validation rules
func (r PrivilegeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 100)),
		validation.Field(&r.Description, validation.Length(0, 500)),
	)
}

// Admin is the operator-facing management surface: account administration
// and RBAC catalog maintenance. Every mutation takes the acting operator
// explicitly, there is no ambient caller identity.
type Admin struct {
	repo        RepositoryManager
	auditSink   AuditSink
	logger      Logger
	phoneRegion string
	now         func() time.Time
}

// NewAdmin returns the management surface over the same repositories the
// Authenticator uses.
func NewAdmin(repo RepositoryManager) *Admin {
	return &Admin{
		repo:        repo,
		auditSink:   noopAuditSink{},
		logger:      defLogger{},
		phoneRegion: "US",
		now:         time.Now,
	}
}

func (a *Admin) WithLogger(logger Logger) *Admin {
	if logger != nil {
		a.logger = logger
	}
	return a
}

// WithAuditSink configures the sink receiving audit records.
func (a *Admin) WithAuditSink(sink AuditSink) *Admin {
	a.auditSink = normalizeAuditSink(sink)
	return a
}

// WithPhoneRegion sets the default region for phone number normalization.
func (a *Admin) WithPhoneRegion(region string) *Admin {
	if region != "" {
		a.phoneRegion = region
	}
	return a
}

// WithClock injects a custom clock (useful for tests).
func (a *Admin) WithClock(clock func() time.Time) *Admin {
	if clock != nil {
		a.now = clock
	}
	return a
}

// CreateUser provisions an active account with the given roles. Tag
// allocation follows the same bounded retry as self registration.
func (a *Admin) CreateUser(ctx context.Context, actor ActorRef, req CreateUserRequest) (*User, error) {
	if err := req.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid user payload")
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	if exists, err := a.repo.Users().ExistsByUsername(ctx, req.Username); err != nil {
		return nil, err
	} else if exists {
		return nil, detail(ErrDuplicateResource, map[string]any{
			"resource": "user",
			"username": req.Username,
		})
	}

	roleNames := req.Roles
	if len(roleNames) == 0 {
		roleNames = []string{RoleUser}
	}

	publicID := uuid.New()

	var user *User
	for attempt := 0; attempt < MaxTagAttempts; attempt++ {
		candidate := &User{
			PublicID:       publicID,
			Username:       req.Username,
			PasswordHash:   hash,
			Status:         UserStatusActive,
			Alias:          req.Alias,
			Tag:            GenerateTag(req.Alias, publicID, attempt),
			FirstName:      req.FirstName,
			MiddleName:     req.MiddleName,
			LastName:       req.LastName,
			SecondLastName: req.SecondLastName,
			Phone:          normalizePhone(req.Phone, a.phoneRegion),
		}

		err = a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			created, err := a.repo.Users().CreateTx(ctx, tx, candidate)
			if err != nil {
				return err
			}

			ids, err := a.resolveRoleIDsTx(ctx, tx, roleNames)
			if err != nil {
				return err
			}

			if err := a.repo.Users().AssignRolesTx(ctx, tx, created.ID, ids); err != nil {
				return err
			}

			user = created
			return nil
		})

		if err == nil {
			break
		}

		if IsUniqueViolationError(err) {
			taken, checkErr := a.repo.Users().ExistsByTag(ctx, candidate.Tag)
			if checkErr == nil && taken {
				continue
			}

			return nil, detail(ErrDuplicateResource, map[string]any{
				"resource": "user",
				"username": req.Username,
			})
		}

		return nil, err
	}

	if user == nil {
		return nil, detail(ErrTagAllocationExhausted, map[string]any{
			"username": req.Username,
			"attempts": MaxTagAttempts,
		})
	}

	a.emitAudit(ctx, AuditRecord{
		Action:     AuditActionUserCreated,
		Category:   AuditCategoryUser,
		Outcome:    AuditOutcomeSuccess,
		Actor:      actor,
		EntityType: "user",
		EntityID:   user.PublicID.String(),
		Details: NewDetails().
			Add("username", user.Username).
			Add("tag", user.Tag).
			Build(),
	})

	return user, nil
}

// UpdateProfile changes the mutable profile fields of the account.
func (a *Admin) UpdateProfile(ctx context.Context, actor ActorRef, publicID uuid.UUID, req UpdateProfileRequest) (*User, error) {
	if err := req.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid profile payload")
	}

	var user *User
	err := a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := a.repo.Users().GetByPublicIDTx(ctx, tx, publicID)
		if err != nil {
			return err
		}

		record.FirstName = req.FirstName
		record.MiddleName = req.MiddleName
		record.LastName = req.LastName
		record.SecondLastName = req.SecondLastName
		record.Alias = req.Alias
		record.Phone = normalizePhone(req.Phone, a.phoneRegion)

		user, err = a.repo.Users().UpdateTx(ctx, tx, record, repository.UpdateByID(record.ID.String()))
		return err
	})

	if err != nil {
		return nil, err
	}

	a.emitAudit(ctx, AuditRecord{
		Action:     AuditActionUserUpdated,
		Category:   AuditCategoryUser,
		Outcome:    AuditOutcomeSuccess,
		Actor:      actor,
		EntityType: "user",
		EntityID:   publicID.String(),
	})

	return user, nil
}

// BlockUser administratively blocks the account and revokes its sessions.
// The block carries no deadline, only UnblockUser lifts it.
func (a *Admin) BlockUser(ctx context.Context, actor ActorRef, publicID uuid.UUID) error {
	err := a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := a.repo.Users().GetByPublicIDTx(ctx, tx, publicID)
		if err != nil {
			return err
		}

		if _, err := a.repo.Users().UpdateStatusTx(ctx, tx, record.ID, UserStatusBlocked); err != nil {
			return err
		}

		return a.repo.RefreshTokens().RevokeAllTx(ctx, tx, record.ID)
	})

	if err != nil {
		return err
	}

	a.emitAudit(ctx, AuditRecord{
		Action:     AuditActionUserBlocked,
		Category:   AuditCategoryUser,
		Outcome:    AuditOutcomeSuccess,
		Actor:      actor,
		EntityType: "user",
		EntityID:   publicID.String(),
	})

	return nil
}

// UnblockUser reactivates the account with clean lockout counters.
func (a *Admin) UnblockUser(ctx context.Context, actor ActorRef, publicID uuid.UUID) error {
	err := a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := a.repo.Users().GetByPublicIDTx(ctx, tx, publicID)
		if err != nil {
			return err
		}

		_, err = a.repo.Users().UpdateStatusTx(ctx, tx, record.ID, UserStatusActive)
		return err
	})

	if err != nil {
		return err
	}

	a.emitAudit(ctx, AuditRecord{
		Action:     AuditActionUserUnblocked,
		Category:   AuditCategoryUser,
		Outcome:    AuditOutcomeSuccess,
		Actor:      actor,
		EntityType: "user",
		EntityID:   publicID.String(),
	})

	return nil
}

// ReplaceUserRoles swaps the account's role set. Every named role must
// exist and be active.
func (a *Admin) ReplaceUserRoles(ctx context.Context, actor ActorRef, publicID uuid.UUID, roleNames []string) error {
	err := a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := a.repo.Users().GetByPublicIDTx(ctx, tx, publicID)
		if err != nil {
			return err
		}

		ids, err := a.resolveRoleIDsTx(ctx, tx, roleNames)
		if err != nil {
			return err
		}

		return a.repo.Users().ReplaceRolesTx(ctx, tx, record.ID, ids)
	})

	if err != nil {
		return err
	}

	a.emitAudit(ctx, AuditRecord{
		Action:     AuditActionRolesReplaced,
		Category:   AuditCategoryRBAC,
		Outcome:    AuditOutcomeSuccess,
		Actor:      actor,
		EntityType: "user",
		EntityID:   publicID.String(),
		Details:    NewDetails().Add("roles", joinNames(roleNames)).Build(),
	})

	return nil
}

// CreateRole adds a role to the catalog.
func (a *Admin) CreateRole(ctx context.Context, actor ActorRef, req RoleRequest) (*Role, error) {
	if err := req.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid role payload")
	}

	role, err := a.repo.Roles().Create(ctx, &Role{
		Name:        canonicalName(req.Name),
		Description: req.Description,
	})
	if err != nil {
		return nil, err
	}

	a.emitAudit(ctx, AuditRecord{
		Action:     AuditActionRoleCreated,
		Category:   AuditCategoryRBAC,
		Outcome:    AuditOutcomeSuccess,
		Actor:      actor,
		EntityType: "role",
		EntityID:   role.Name,
	})

	return role, nil
}

// UpdateRole changes the role description.
func (a *Admin) UpdateRole(ctx context.Context, actor ActorRef, req RoleRequest) (*Role, error) {
	if err := req.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid role payload")
	}

	role, err := a.repo.Roles().GetByName(ctx, canonicalName(req.Name))
	if err != nil {
		return nil, err
	}

	role.Description = req.Description
	role, err = a.repo.Roles().Update(ctx, role, repository.UpdateByID(role.ID.String()))
	if err != nil {
		return nil, err
	}

	a.emitAudit(ctx, AuditRecord{
		Action:     AuditActionRoleUpdated,
		Category:   AuditCategoryRBAC,
		Outcome:    AuditOutcomeSuccess,
		Actor:      actor,
		EntityType: "role",
		EntityID:   role.Name,
	})

	return role, nil
}

// DisableRole soft-deletes a role. Fails while any user still carries it.
func (a *Admin) DisableRole(ctx context.Context, actor ActorRef, name string) error {
	role, err := a.repo.Roles().GetByName(ctx, canonicalName(name))
	if err != nil {
		return err
	}

	if err := a.repo.Roles().Deactivate(ctx, role.ID); err != nil {
		return err
	}

	a.emitAudit(ctx, AuditRecord{
		Action:     AuditActionRoleDisabled,
		Category:   AuditCategoryRBAC,
		Outcome:    AuditOutcomeSuccess,
		Actor:      actor,
		EntityType: "role",
		EntityID:   role.Name,
	})

	return nil
}

// ReplaceRolePrivileges swaps the privilege set attached to a role. Every
// named privilege must exist.
func (a *Admin) ReplaceRolePrivileges(ctx context.Context, actor ActorRef, roleName string, privilegeNames []string) error {
	roleName = canonicalName(roleName)
	privilegeNames = canonicalNames(privilegeNames)

	err := a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		role, err := a.repo.Roles().GetByNameTx(ctx, tx, roleName)
		if err != nil {
			return err
		}

		records, err := a.repo.Privileges().GetByNamesTx(ctx, tx, privilegeNames)
		if err != nil {
			return err
		}
		if len(records) != len(privilegeNames) {
			return detail(ErrResourceNotFound, map[string]any{
				"resource": "privilege",
			})
		}

		ids := make([]uuid.UUID, 0, len(records))
		for _, p := range records {
			ids = append(ids, p.ID)
		}

		return a.repo.Roles().ReplacePrivilegesTx(ctx, tx, role.ID, ids)
	})

	if err != nil {
		return err
	}

	a.emitAudit(ctx, AuditRecord{
		Action:     AuditActionRolePrivsReplaced,
		Category:   AuditCategoryRBAC,
		Outcome:    AuditOutcomeSuccess,
		Actor:      actor,
		EntityType: "role",
		EntityID:   roleName,
		Details:    NewDetails().Add("privileges", joinNames(privilegeNames)).Build(),
	})

	return nil
}

// CreatePrivilege adds a privilege to the catalog.
func (a *Admin) CreatePrivilege(ctx context.Context, actor ActorRef, req PrivilegeRequest) (*Privilege, error) {
	if err := req.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid privilege payload")
	}

	priv, err := a.repo.Privileges().Create(ctx, &Privilege{
		Name:        canonicalName(req.Name),
		Description: req.Description,
	})
	if err != nil {
		return nil, err
	}

	a.emitAudit(ctx, AuditRecord{
		Action:     AuditActionPrivCreated,
		Category:   AuditCategoryRBAC,
		Outcome:    AuditOutcomeSuccess,
		Actor:      actor,
		EntityType: "privilege",
		EntityID:   priv.Name,
	})

	return priv, nil
}

// UpdatePrivilege changes the privilege description.
func (a *Admin) UpdatePrivilege(ctx context.Context, actor ActorRef, req PrivilegeRequest) (*Privilege, error) {
	if err := req.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid privilege payload")
	}

	priv, err := a.repo.Privileges().GetByName(ctx, canonicalName(req.Name))
	if err != nil {
		return nil, err
	}

	priv.Description = req.Description
	priv, err = a.repo.Privileges().Update(ctx, priv, repository.UpdateByID(priv.ID.String()))
	if err != nil {
		return nil, err
	}

	a.emitAudit(ctx, AuditRecord{
		Action:     AuditActionPrivUpdated,
		Category:   AuditCategoryRBAC,
		Outcome:    AuditOutcomeSuccess,
		Actor:      actor,
		EntityType: "privilege",
		EntityID:   priv.Name,
	})

	return priv, nil
}

// DisablePrivilege soft-deletes a privilege. Fails while any role still
// references it.
func (a *Admin) DisablePrivilege(ctx context.Context, actor ActorRef, name string) error {
	priv, err := a.repo.Privileges().GetByName(ctx, canonicalName(name))
	if err != nil {
		return err
	}

	if err := a.repo.Privileges().Deactivate(ctx, priv.ID); err != nil {
		return err
	}

	a.emitAudit(ctx, AuditRecord{
		Action:     AuditActionPrivDisabled,
		Category:   AuditCategoryRBAC,
		Outcome:    AuditOutcomeSuccess,
		Actor:      actor,
		EntityType: "privilege",
		EntityID:   priv.Name,
	})

	return nil
}

func (a *Admin) resolveRoleIDsTx(ctx context.Context, tx bun.IDB, roleNames []string) ([]uuid.UUID, error) {
	roleNames = canonicalNames(roleNames)
	records, err := a.repo.Roles().GetByNamesTx(ctx, tx, roleNames)
	if err != nil {
		return nil, err
	}

	byName := map[string]*Role{}
	for _, r := range records {
		byName[r.Name] = r
	}

	ids := make([]uuid.UUID, 0, len(roleNames))
	for _, name := range roleNames {
		role, ok := byName[name]
		if !ok || !role.Active {
			return nil, detail(ErrResourceNotFound, map[string]any{
				"resource": "role",
				"name":     name,
			})
		}
		ids = append(ids, role.ID)
	}

	return ids, nil
}

func (a *Admin) emitAudit(ctx context.Context, record AuditRecord) {
	sink := normalizeAuditSink(a.auditSink)

	if info, ok := RequestInfoFromContext(ctx); ok {
		record.Request = info
	}

	if record.OccurredAt.IsZero() {
		record.OccurredAt = a.now()
	}

	if err := sink.Record(ctx, record); err != nil {
		a.logger.Warn("audit sink record error: %v", err)
	}
}

func joinNames(names []string) string {
	return strings.Join(names, ",")
}

// canonicalName normalizes a catalog name, the role and privilege tables
// store them uppercased.
func canonicalName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

func canonicalNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, canonicalName(name))
	}
	return out
}
