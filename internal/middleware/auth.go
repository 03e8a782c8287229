package middleware

import (
	"net/http"
	"slices"
	"strings"

	"stockledger/internal/auth"
	"stockledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// PrincipalKey is the gin context key holding the *auth.Principal.
const PrincipalKey = "principal"

// JWTAuth verifies the access token and attaches the principal to both the
// gin context and the request context.
func JWTAuth(issuer *auth.TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := c.Cookie("access_token")
		if err != nil || tokenString == "" {
			header := c.GetHeader("Authorization")
			if header == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
				return
			}
			parts := strings.Split(header, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid authorization format. Expected 'Bearer <token>'"))
				return
			}
			tokenString = parts[1]
		}

		principal, err := issuer.Parse(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid or expired token"))
			return
		}

		c.Set(PrincipalKey, principal)
		c.Request = c.Request.WithContext(auth.WithActor(c.Request.Context(), principal))
		c.Next()
	}
}

// RequirePermission rejects principals that hold neither the code nor the wildcard.
// Must run after JWTAuth.
func RequirePermission(code string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := GetPrincipal(c)
		if p == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authentication required"))
			return
		}
		if !slices.Contains(p.Permissions, auth.PermissionWildcard) && !slices.Contains(p.Permissions, code) {
			c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Access denied: missing permission '"+code+"'"))
			return
		}
		c.Next()
	}
}

// GetPrincipal returns the principal set by JWTAuth, or nil.
func GetPrincipal(c *gin.Context) *auth.Principal {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*auth.Principal)
	return p
}
