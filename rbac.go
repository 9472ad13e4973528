package identity

import (
	"context"
	"slices"
)

// Resolver answers "may this set of roles perform this action". ADMIN short
// circuits every check without touching the database.
type Resolver interface {
	EffectivePrivileges(ctx context.Context, roleNames []string) ([]string, error)
	Authorize(ctx context.Context, roleNames []string, privilege string) (bool, error)
}

type resolver struct {
	roles  Roles
	logger Logger
}

type ResolverOption func(*resolver)

func WithResolverLogger(l Logger) ResolverOption {
	return func(r *resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewResolver(roles Roles, opts ...ResolverOption) Resolver {
	r := &resolver{
		roles:  roles,
		logger: defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	return r
}

// EffectivePrivileges resolves the distinct privilege names reachable from
// the given roles. Inactive roles and inactive privileges contribute
// nothing.
func (r *resolver) EffectivePrivileges(ctx context.Context, roleNames []string) ([]string, error) {
	if len(roleNames) == 0 {
		return nil, nil
	}
	return r.roles.PrivilegeNames(ctx, roleNames)
}

// Authorize reports whether any of the roles grants the privilege.
func (r *resolver) Authorize(ctx context.Context, roleNames []string, privilege string) (bool, error) {
	if privilege == "" {
		return false, nil
	}

	if slices.Contains(roleNames, RoleAdmin) {
		return true, nil
	}

	granted, err := r.EffectivePrivileges(ctx, roleNames)
	if err != nil {
		return false, err
	}

	return slices.Contains(granted, privilege), nil
}
