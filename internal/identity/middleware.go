package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxSessionClaims = "studio_session_claims"

// RequireToken returns a Gin middleware that enforces a valid Bearer session
// token. The registry is consulted on every request so that a suspended
// identity loses access before its token expires.
//
// On success it injects the *SessionClaims into the context.
func RequireToken(tokens *TokenIssuer, registry *Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer token required",
			})
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := tokens.Verify(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token: " + err.Error(),
			})
			return
		}

		if registry != nil && !registry.Authorize(claims.IdentityID, nil, L1) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "identity is not active",
			})
			return
		}

		c.Set(ctxSessionClaims, claims)
		c.Next()
	}
}

// ClaimsFromCtx retrieves the session claims injected by RequireToken.
func ClaimsFromCtx(c *gin.Context) *SessionClaims {
	v, _ := c.Get(ctxSessionClaims)
	claims, _ := v.(*SessionClaims)
	return claims
}

// RequireRole returns a Gin middleware that allows only sessions whose
// identity currently holds role. It must run after RequireToken.
func RequireRole(registry *Registry, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimsFromCtx(c)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Bearer token required"})
			return
		}
		if !registry.Authorize(claims.IdentityID, []string{role}, L1) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "role " + role + " required",
			})
			return
		}
		c.Next()
	}
}
