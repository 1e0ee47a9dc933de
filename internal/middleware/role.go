package middleware

import (
	"net/http"
	"strings"

	"schooldesk/internal/domain"
	"schooldesk/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

// RoleGate maps a role claim to the route prefixes it may reach.
// Unknown roles and unlisted prefixes are denied.
type RoleGate struct {
	prefixes map[string][]string
}

// NewRoleGate returns the default route policy.
func NewRoleGate() *RoleGate {
	return &RoleGate{
		prefixes: map[string][]string{
			string(domain.RoleAdmin): {
				"/api/v1/",
			},
			string(domain.RoleTeacher): {
				"/api/v1/students",
				"/api/v1/teachers",
				"/api/v1/users",
			},
			string(domain.RoleStudent): {
				"/api/v1/students/me",
				"/api/v1/teachers",
				"/api/v1/users",
			},
		},
	}
}

func (g *RoleGate) Allowed(role, path string) bool {
	for _, prefix := range g.prefixes[role] {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// RequireAccess enforces the gate after JWTAuth has set the role claim.
func RequireAccess(gate *RoleGate) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString("role")
		if role == "" {
			response.AbortError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Role not found in token")
			return
		}

		if !gate.Allowed(role, c.Request.URL.Path) {
			response.AbortError(c, http.StatusForbidden, "FORBIDDEN", "Access denied: insufficient permissions")
			return
		}

		c.Next()
	}
}
