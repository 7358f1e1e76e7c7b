package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/labstack/echo/v4"

	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	// HeaderUserID identifies the caller when auth is disabled
	HeaderUserID = "X-User-ID"
	// HeaderUserRole carries the caller role when auth is disabled
	HeaderUserRole = "X-User-Role"
)

// TokenVerifier is satisfied by *oidc.IDTokenVerifier.
type TokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

// NewVerifier discovers the issuer and returns a verifier for clientID.
func NewVerifier(ctx context.Context, issuer, clientID string) (*oidc.IDTokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	return provider.Verifier(&oidc.Config{ClientID: clientID}), nil
}

type claimsDecoder interface {
	Claims(v interface{}) error
}

// roleFromClaims reads roleClaim as a string, falling back to the realm roles list.
func roleFromClaims(token claimsDecoder, roleClaim string) (string, string, error) {
	var claims map[string]any
	if err := token.Claims(&claims); err != nil {
		return "", "", err
	}

	sub, _ := claims["sub"].(string)

	if role, ok := claims[roleClaim].(string); ok && role != "" {
		return sub, strings.ToLower(role), nil
	}

	if realm, ok := claims["realm_access"].(map[string]any); ok {
		if roles, ok := realm["roles"].([]any); ok {
			for _, r := range roles {
				if s, ok := r.(string); ok && strings.EqualFold(s, appctx.RoleAdmin) {
					return sub, appctx.RoleAdmin, nil
				}
			}
		}
	}
	return sub, appctx.RoleAgent, nil
}

// Authentication verifies the bearer token and stores the caller id and role on the context.
func Authentication(logger ectologger.Logger, verifier TokenVerifier, roleClaim string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			ctx, span := tracing.StartSpan(ctx, "middleware.Authentication")
			defer span.End()

			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				logger.WithContext(ctx).Warn("request is missing bearer token")
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer")
			}

			raw := strings.TrimPrefix(auth, "Bearer ")
			verifyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			idToken, err := verifier.Verify(verifyCtx, raw)
			if err != nil {
				logger.WithContext(ctx).WithError(err).Warn("token is invalid")
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			sub, role, err := roleFromClaims(idToken, roleClaim)
			if err != nil || sub == "" {
				logger.WithContext(ctx).WithError(err).Warn("failed to parse claims")
				return echo.NewHTTPError(http.StatusUnauthorized, "cannot parse claims")
			}

			ctx = appctx.SetUserID(ctx, sub)
			ctx = appctx.SetUserRole(ctx, role)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

// TestAuth reads the caller from X-User-ID and X-User-Role. Only for AUTH_ENABLED=false.
func TestAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			if userID := c.Request().Header.Get(HeaderUserID); userID != "" {
				ctx = appctx.SetUserID(ctx, userID)
			}
			if role := strings.ToLower(c.Request().Header.Get(HeaderUserRole)); role != "" {
				ctx = appctx.SetUserRole(ctx, role)
			}

			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// RequireUser rejects anonymous requests.
func RequireUser() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if appctx.GetUserID(c.Request().Context()) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "user required")
			}
			return next(c)
		}
	}
}

// RequireAdmin rejects callers without the admin role.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !appctx.IsAdmin(c.Request().Context()) {
				return echo.NewHTTPError(http.StatusForbidden, "admin role required")
			}
			return next(c)
		}
	}
}
