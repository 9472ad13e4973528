package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// AuditOutcome is the result recorded on an audit record.
type AuditOutcome string

const (
	AuditOutcomeSuccess AuditOutcome = "SUCCESS"
	AuditOutcomeFail    AuditOutcome = "FAIL"
)

// Audit categories group actions for querying.
const (
	AuditCategoryAuth   = "AUTH"
	AuditCategoryUser   = "USER"
	AuditCategoryRBAC   = "RBAC"
	AuditCategorySystem = "SYSTEM"
)

// Audit actions emitted by the engine.
const (
	AuditActionLoginSuccess       = "AUTH_LOGIN_SUCCESS"
	AuditActionLoginFail          = "AUTH_LOGIN_FAIL"
	AuditActionAccountLocked      = "AUTH_ACCOUNT_LOCKED"
	AuditActionRefreshSuccess     = "AUTH_REFRESH_SUCCESS"
	AuditActionRefreshFail        = "AUTH_REFRESH_FAIL"
	AuditActionLogout             = "AUTH_LOGOUT"
	AuditActionRegister           = "USER_REGISTER"
	AuditActionRegisterFail       = "USER_REGISTER_FAIL"
	AuditActionVerified           = "USER_VERIFIED"
	AuditActionVerificationResent = "USER_VERIFICATION_RESENT"
	AuditActionUserCreated        = "USER_CREATED_ADMIN"
	AuditActionUserUpdated        = "USER_UPDATED"
	AuditActionUserBlocked        = "USER_BLOCKED"
	AuditActionUserUnblocked      = "USER_UNBLOCKED"
	AuditActionRolesReplaced      = "USER_ROLE_REPLACED"
	AuditActionRoleCreated        = "ROLE_CREATED"
	AuditActionRoleUpdated        = "ROLE_UPDATED"
	AuditActionRoleDisabled       = "ROLE_DISABLED"
	AuditActionRolePrivsReplaced  = "ROLE_PRIV_REPLACED"
	AuditActionPrivCreated        = "PRIV_CREATED"
	AuditActionPrivUpdated        = "PRIV_UPDATED"
	AuditActionPrivDisabled       = "PRIV_DISABLED"
	AuditActionUnhandled          = "UNHANDLED_FAILURE"
	AuditActionCleanup            = "USER_CLEANUP"
)

// RequestInfo is transport metadata attached to audit records. The transport
// layer threads it through the request context, the engine never reaches
// into any ambient holder for it.
type RequestInfo struct {
	RequestID string
	Method    string
	Path      string
	IP        string
	UserAgent string
}

type requestInfoKeyType struct{}

var requestInfoKey = requestInfoKeyType{}

// WithRequestInfo attaches transport metadata to the context.
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey, info)
}

// RequestInfoFromContext retrieves transport metadata attached by the caller.
func RequestInfoFromContext(ctx context.Context) (RequestInfo, bool) {
	info, ok := ctx.Value(requestInfoKey).(RequestInfo)
	return info, ok
}

// AuditRecord captures a security-relevant transition. Append only, records
// reference entities by public identifier so audit survives entity deletion.
type AuditRecord struct {
	Action     string
	Category   string
	Outcome    AuditOutcome
	Actor      ActorRef
	EntityType string
	EntityID   string
	Details    string
	Request    RequestInfo
	OccurredAt time.Time
}

// AuditSink consumes audit records. Implementations are best effort, a
// failing sink must never break the business flow it observes.
type AuditSink interface {
	Record(ctx context.Context, record AuditRecord) error
}

// AuditSinkFunc adapts a function to the AuditSink interface.
type AuditSinkFunc func(ctx context.Context, record AuditRecord) error

// Record implements AuditSink.
func (f AuditSinkFunc) Record(ctx context.Context, record AuditRecord) error {
	if f == nil {
		return nil
	}
	return f(ctx, record)
}

type noopAuditSink struct{}

func (noopAuditSink) Record(context.Context, AuditRecord) error {
	return nil
}

func normalizeAuditSink(s AuditSink) AuditSink {
	if s == nil {
		return noopAuditSink{}
	}
	return s
}

const maxDetailsLength = 2000

// DetailsBuilder accumulates ordered key-value pairs into the free-text
// details field of an audit record.
type DetailsBuilder struct {
	keys   []string
	values map[string]string
}

// NewDetails returns an empty DetailsBuilder.
func NewDetails() *DetailsBuilder {
	return &DetailsBuilder{values: map[string]string{}}
}

// Add appends a key-value pair, nil values and empty keys are skipped.
func (b *DetailsBuilder) Add(key string, value any) *DetailsBuilder {
	if key == "" || value == nil {
		return b
	}
	if _, seen := b.values[key]; !seen {
		b.keys = append(b.keys, key)
	}
	b.values[key] = fmt.Sprintf("%v", value)
	return b
}

// Build renders the pairs as `k=v;k=v`, escaping the separators and
// truncating to the column width of the details field.
func (b *DetailsBuilder) Build() string {
	if len(b.keys) == 0 {
		return ""
	}

	parts := make([]string, 0, len(b.keys))
	for _, k := range b.keys {
		parts = append(parts, escapeDetail(k)+"="+escapeDetail(b.values[k]))
	}

	combined := strings.Join(parts, ";")
	if len(combined) > maxDetailsLength {
		combined = combined[:maxDetailsLength]
	}
	return combined
}

func escapeDetail(s string) string {
	s = strings.ReplaceAll(s, ";", "{semi}")
	return strings.ReplaceAll(s, "=", "{eq}")
}

// AuditEvent is the persisted form of an AuditRecord. No foreign keys, only
// soft references by public identifier.
type AuditEvent struct {
	bun.BaseModel `bun:"table:audit_events,alias:aud"`
	ID            int64        `bun:"id,pk,autoincrement" json:"id,omitempty"`
	EventTimeUTC  time.Time    `bun:"event_time_utc,notnull" json:"event_time_utc"`
	RequestID     string       `bun:"request_id" json:"request_id,omitempty"`
	ActorPublicID string       `bun:"actor_public_id" json:"actor_public_id,omitempty"`
	ActorUsername string       `bun:"actor_username" json:"actor_username,omitempty"`
	Action        string       `bun:"action,notnull" json:"action"`
	Category      string       `bun:"category,notnull" json:"category"`
	Outcome       AuditOutcome `bun:"outcome,notnull" json:"outcome"`
	EntityType    string       `bun:"entity_type" json:"entity_type,omitempty"`
	EntityID      string       `bun:"entity_id" json:"entity_id,omitempty"`
	HTTPMethod    string       `bun:"http_method" json:"http_method,omitempty"`
	Path          string       `bun:"path" json:"path,omitempty"`
	IP            string       `bun:"ip" json:"ip,omitempty"`
	UserAgent     string       `bun:"user_agent" json:"user_agent,omitempty"`
	Details       string       `bun:"details" json:"details,omitempty"`
	CreatedAt     *time.Time   `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// BunAuditSink persists audit records through bun.
type BunAuditSink struct {
	db     bun.IDB
	logger Logger
}

// NewBunAuditSink returns a database-backed sink. Writes happen outside the
// caller's transaction so a rolled-back request still leaves its audit trail.
func NewBunAuditSink(db bun.IDB, logger Logger) *BunAuditSink {
	if logger == nil {
		logger = defLogger{}
	}
	return &BunAuditSink{db: db, logger: logger}
}

// Record implements AuditSink.
func (s *BunAuditSink) Record(ctx context.Context, record AuditRecord) error {
	occurred := record.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}

	event := &AuditEvent{
		EventTimeUTC:  occurred.UTC(),
		RequestID:     truncateDetail(record.Request.RequestID, 64),
		ActorPublicID: truncateDetail(record.Actor.ID, 36),
		ActorUsername: truncateDetail(record.Actor.Username, 80),
		Action:        truncateDetail(record.Action, 80),
		Category:      truncateDetail(record.Category, 40),
		Outcome:       record.Outcome,
		EntityType:    truncateDetail(record.EntityType, 60),
		EntityID:      truncateDetail(record.EntityID, 36),
		HTTPMethod:    truncateDetail(record.Request.Method, 10),
		Path:          truncateDetail(record.Request.Path, 200),
		IP:            truncateDetail(record.Request.IP, 45),
		UserAgent:     truncateDetail(record.Request.UserAgent, 255),
		Details:       record.Details,
	}

	if _, err := s.db.NewInsert().Model(event).Exec(ctx); err != nil {
		s.logger.Error("failed to save audit event %s: %v", record.Action, err)
		return err
	}

	return nil
}

func truncateDetail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
