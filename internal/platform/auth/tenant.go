// Package auth resolves the tenant for every request from a signed
// bearer token, so search state and indexes are always partitioned by
// the caller's tenant.
package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// TenantHeader is the unauthenticated tenant selector honored only
// when no signing secret is configured (development mode).
const TenantHeader = "X-Tenant-ID"

// Claims are the token claims the service consumes.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id"`
}

// Tenant returns middleware that resolves the request's tenant and
// stores it under "tenant_id" in the echo context.
//
// With a signing secret, requests must carry a valid HMAC-signed
// bearer token; its tenant_id claim wins, falling back to the default
// tenant when the claim is empty. Without a secret the middleware runs
// in development mode: the X-Tenant-ID header is trusted as-is.
func Tenant(secret, defaultTenant string, log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if secret == "" {
				tenant := c.Request().Header.Get(TenantHeader)
				if tenant == "" {
					tenant = defaultTenant
				}
				c.Set("tenant_id", tenant)
				return next(c)
			}

			raw, err := bearerToken(c.Request().Header.Get("Authorization"))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				log.Warn().Err(err).Str("remote_ip", c.RealIP()).Msg("rejected bearer token")
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
			}

			tenant := claims.TenantID
			if tenant == "" {
				tenant = defaultTenant
			}
			c.Set("tenant_id", tenant)
			return next(c)
		}
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("missing Authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", fmt.Errorf("Authorization header must be a bearer token")
	}
	return parts[1], nil
}
