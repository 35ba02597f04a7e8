// Package middleware provides the Gin middleware chain of the CRM API.
//
// Ordering is fixed in router.go:
//
//	RequestID → Logger → Metrics → Security → CORS → Auth → RateLimit → RequireRole → Handler
//
// Security headers run first so they appear on every response including
// errors. Auth only validates the session token and records the caller's
// identity; the rate limiter keys on that identity, and RequireRole turns it
// into an authorized principal through the access guard.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/crm-platform/crm/internal/access"
	"github.com/crm-platform/crm/internal/apierror"
	"github.com/crm-platform/crm/internal/auth"
	"github.com/crm-platform/crm/internal/telemetry"
)

// Context keys set by the middleware in this package.
const (
	ContextUserID    = "user_id"
	ContextClaims    = "claims"
	ContextPrincipal = "principal"
	ContextRequestID = "request_id"
)

// OrganizationHeader selects the active organization for one request,
// overriding the organization carried by the session token.
const OrganizationHeader = "X-Organization-ID"

// AuthMiddleware requires a valid session token, read from the Authorization
// bearer header or the session cookie.
func AuthMiddleware(cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authenticate(c, cookieName) {
			telemetry.AccessDeniedTotal.WithLabelValues("unauthenticated").Inc()
			apierror.Respond(c, apierror.ErrUnauthenticated)
			return
		}
		c.Next()
	}
}

// OptionalAuthMiddleware records the caller's identity when a valid token is
// present and continues anonymously otherwise.
func OptionalAuthMiddleware(cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authenticate(c, cookieName)
		c.Next()
	}
}

func authenticate(c *gin.Context, cookieName string) bool {
	token := sessionToken(c, cookieName)
	if token == "" {
		return false
	}
	claims, err := auth.ValidateJWT(token)
	if err != nil || claims.UserID == "" {
		return false
	}
	c.Set(ContextClaims, claims)
	c.Set(ContextUserID, claims.UserID)
	return true
}

func sessionToken(c *gin.Context, cookieName string) string {
	if header := c.GetHeader("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookieName == "" {
		return ""
	}
	cookie, err := c.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return cookie
}

// GetClaims returns the validated token claims, or nil for anonymous requests.
func GetClaims(c *gin.Context) *auth.Claims {
	v, ok := c.Get(ContextClaims)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}

// IdentityFrom builds the guard input for the request. The organization
// header wins over the token's org claim.
func IdentityFrom(c *gin.Context) *access.Identity {
	claims := GetClaims(c)
	if claims == nil {
		return nil
	}
	id := &access.Identity{UserID: claims.UserID, OrganizationID: claims.OrganizationID}
	if org := strings.TrimSpace(c.GetHeader(OrganizationHeader)); org != "" {
		id.OrganizationID = org
	}
	return id
}
