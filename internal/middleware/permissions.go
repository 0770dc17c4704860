package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HasPermission reports whether the granted patterns cover the required
// permission. Patterns support "*" (everything), "resource.*" and exact
// "resource.action" matches.
func HasPermission(granted []string, required string) bool {
	required = strings.TrimSpace(required)
	if required == "" {
		return true
	}
	for _, g := range granted {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if g == "*" || g == required {
			return true
		}
		if strings.HasSuffix(g, ".*") && strings.HasPrefix(required, strings.TrimSuffix(g, "*")) {
			return true
		}
	}
	return false
}

func grantedFromGin(c *gin.Context) []string {
	if v, ok := c.Get("permissions"); ok {
		if perms, ok := v.([]string); ok {
			return perms
		}
	}
	return nil
}

func forbid(c *gin.Context, required string) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
		"error":   "Forbidden",
		"message": "missing permission: " + required,
	})
}

// RequirePermissionsAny passes if the caller holds at least one of the
// listed permissions.
func RequirePermissionsAny(required ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		granted := grantedFromGin(c)
		for _, req := range required {
			if HasPermission(granted, req) {
				c.Next()
				return
			}
		}
		forbid(c, strings.Join(required, "|"))
	}
}

// RequirePermissionsAll passes only if the caller holds every listed
// permission.
func RequirePermissionsAll(required ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		granted := grantedFromGin(c)
		for _, req := range required {
			if !HasPermission(granted, req) {
				forbid(c, req)
				return
			}
		}
		c.Next()
	}
}

// RequireResourcePermission derives the required permission from the
// resource and the HTTP method: GET/HEAD need resource.read, everything
// else resource.write.
func RequireResourcePermission(resource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		action := "write"
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead:
			action = "read"
		}
		required := resource + "." + action
		if !HasPermission(grantedFromGin(c), required) {
			forbid(c, required)
			return
		}
		c.Next()
	}
}

// serviceResourcePerm maps the permission oracle's resource names onto
// the HTTP-facing permission namespace.
var serviceResourcePerm = map[string]string{
	"escalation_rule": "escalations",
	"sla_policy":      "sla",
	"ticket":          "tickets",
}

// OraclePermission adapts the request-scoped permission set to the
// services' PermissionChecker signature. Wire it as
// services.PermissionFunc(middleware.OraclePermission).
func OraclePermission(ctx context.Context, _ uint, action, resource string) bool {
	ns, ok := serviceResourcePerm[resource]
	if !ok {
		ns = resource
	}
	perm := ns + ".write"
	if action == "read" || action == "list" {
		perm = ns + ".read"
	}
	return HasPermission(PermissionsFromContext(ctx), perm)
}
