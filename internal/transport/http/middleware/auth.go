package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Additional-Code/caravel/internal/auth"
	"github.com/Additional-Code/caravel/internal/presentation/http/response"
	"github.com/Additional-Code/caravel/pkg/errorbank"
)

const principalKey = "caravel.principal"

// Authenticate extracts the bearer token from the Authorization header and
// stores the parsed principal in the request context.
func Authenticate(verifier *auth.Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				return response.New(c).WithError(errorbank.Unauthorized("missing bearer token")).Build()
			}

			principal, err := verifier.Parse(token)
			if err != nil {
				return response.New(c).WithError(errorbank.Unauthorized("invalid bearer token", errorbank.WithCause(err))).Build()
			}

			c.Set(principalKey, principal)
			return next(c)
		}
	}
}

// RequireElevated rejects principals without an operational role. It must
// run after Authenticate.
func RequireElevated() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			principal, ok := PrincipalFrom(c)
			if !ok {
				return response.New(c).WithError(errorbank.Unauthorized("authentication required")).Build()
			}
			if !principal.Elevated() {
				return response.New(c).WithError(errorbank.Forbidden("insufficient role")).Build()
			}
			return next(c)
		}
	}
}

// PrincipalFrom returns the authenticated principal, when present.
func PrincipalFrom(c echo.Context) (*auth.Principal, bool) {
	principal, ok := c.Get(principalKey).(*auth.Principal)
	return principal, ok
}
