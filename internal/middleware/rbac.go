// rbac.go turns the authenticated identity into an authorized principal.
//
// Roles are checked against the membership row on every request rather than
// embedded in the token, so a role change or removal applies to the very next
// request.
package middleware

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/crm-platform/crm/internal/access"
	"github.com/crm-platform/crm/internal/apierror"
	"github.com/crm-platform/crm/internal/db/models"
	"github.com/crm-platform/crm/internal/telemetry"
)

// Authorizer is the access guard as the middleware uses it.
type Authorizer interface {
	Authorize(ctx context.Context, id *access.Identity, roles ...models.Role) (*access.Principal, error)
}

// RequireRole admits callers whose membership in the active organization
// holds one of roles and stores the principal for the handler.
func RequireRole(guard Authorizer, roles ...models.Role) gin.HandlerFunc {
	if len(roles) == 0 {
		panic("middleware: RequireRole needs at least one role")
	}
	return func(c *gin.Context) {
		principal, err := guard.Authorize(c.Request.Context(), IdentityFrom(c), roles...)
		if err != nil {
			switch {
			case errors.Is(err, apierror.ErrUnauthenticated):
				telemetry.AccessDeniedTotal.WithLabelValues("unauthenticated").Inc()
			case errors.Is(err, apierror.ErrForbidden):
				telemetry.AccessDeniedTotal.WithLabelValues("forbidden").Inc()
			}
			apierror.Respond(c, err)
			return
		}
		c.Set(ContextPrincipal, principal)
		c.Next()
	}
}

// AnyRole is every membership role.
func AnyRole() []models.Role { return models.AllRoles }

// GetPrincipal returns the principal stored by RequireRole. Handlers mounted
// behind RequireRole can rely on it being non-nil.
func GetPrincipal(c *gin.Context) *access.Principal {
	v, ok := c.Get(ContextPrincipal)
	if !ok {
		return nil
	}
	p, _ := v.(*access.Principal)
	return p
}
