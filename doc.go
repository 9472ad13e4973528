// Package identity provides account authentication and access control
// primitives (JWT issuance, stateful repositories, RBAC resolution) plus
// lifecycle operations for admin workflows.
//
// Account lifecycle:
//   - Users carry a UserStatus field that is persisted via Bun. Accounts are
//     created pending, activated through email verification, and may be
//     blocked either by a lock policy after repeated login failures or
//     administratively without an expiry.
//   - LockPolicy centralizes the failed-attempt counter and the lockout
//     window. Invoke RegisterFailure and RegisterSuccess on login attempts
//     and persist the resulting lock state in the same transaction as the
//     attempt itself.
//
// Audit sinks:
//   - AuditSink is a light-weight audit emitter used by Authenticator, Admin,
//     and Cleaner to describe login, registration, lifecycle, and RBAC
//     events. Sinks run best-effort (errors are logged) so you can forward to
//     a database or queue without blocking authentication.
//
// Access control:
//   - Resolver computes the effective privilege set from a user's active
//     roles. The ADMIN role short-circuits any named privilege check;
//     everyone else is granted exactly what their active roles attach.
package identity
