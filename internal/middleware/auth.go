package middleware

import (
	"errors"
	"net/http"
	"strings"

	jwtsvc "schooldesk/internal/pkg/jwt"
	"schooldesk/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

// JWTAuth verifies the bearer access token on every protected request.
// Verification is signature + expiry only; the refresh ledger is never
// consulted here, which keeps protected-request handling stateless.
//
// An expired token is reported as TOKEN_EXPIRED so clients know the
// failure is recoverable by a refresh; anything else is UNAUTHORIZED.
func JWTAuth(jwt *jwtsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" {
			response.AbortError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Missing Authorization header")
			return
		}

		if !strings.HasPrefix(h, "Bearer ") {
			response.AbortError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid Authorization header")
			return
		}

		tokenStr := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		if tokenStr == "" {
			response.AbortError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Empty token")
			return
		}

		claims, err := jwt.ValidateToken(tokenStr)
		if err != nil {
			if errors.Is(err, jwtsvc.ErrExpired) {
				response.AbortError(c, http.StatusUnauthorized, "TOKEN_EXPIRED", "Access token has expired")
				return
			}
			response.AbortError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("role", claims.Role)

		c.Next()
	}
}
