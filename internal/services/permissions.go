package services

import "context"

// PermissionChecker is the opaque authorization oracle consulted before any
// mutating rule/policy operation. The engine performs no role logic itself;
// the server wires an implementation backed by the auth middleware's
// claims, tests wire stubs.
type PermissionChecker interface {
	HasPermission(ctx context.Context, userID uint, action, resource string) bool
}

// PermissionFunc adapts a plain function to PermissionChecker.
type PermissionFunc func(ctx context.Context, userID uint, action, resource string) bool

func (f PermissionFunc) HasPermission(ctx context.Context, userID uint, action, resource string) bool {
	return f(ctx, userID, action, resource)
}

// AllowAll grants everything; used by the standalone escalator CLI where
// there is no request principal, and by tests.
var AllowAll PermissionChecker = PermissionFunc(func(context.Context, uint, string, string) bool {
	return true
})
