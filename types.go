package identity

import (
	"context"
	"fmt"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds engine options
type Config interface {
	GetSigningKey() string
	GetTokenExpiration() int
	GetRefreshExpiration() int
	GetVerificationExpiration() int
	GetIssuer() string
	GetAudience() []string
	GetMaxLoginAttempts() int
	GetLockoutPeriod() string
}

// Mailer delivers templated notifications. Implementations own transport,
// retries, and timeouts, callers treat Send as best effort.
type Mailer interface {
	Send(ctx context.Context, to, subject, templateName string, variables map[string]any) error
}

// MailerFunc adapts a function to the Mailer interface.
type MailerFunc func(ctx context.Context, to, subject, templateName string, variables map[string]any) error

// Send implements Mailer.
func (f MailerFunc) Send(ctx context.Context, to, subject, templateName string, variables map[string]any) error {
	if f == nil {
		return nil
	}
	return f(ctx, to, subject, templateName, variables)
}

type noopMailer struct{}

func (noopMailer) Send(context.Context, string, string, string, map[string]any) error {
	return nil
}

func normalizeMailer(m Mailer) Mailer {
	if m == nil {
		return noopMailer{}
	}
	return m
}

// PasswordPolicy validates a candidate secret before hashing. It is a pure
// predicate external to this engine, a nil policy accepts everything.
type PasswordPolicy func(password string) error

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] IDENTITY "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] IDENTITY "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] IDENTITY "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] IDENTITY "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
