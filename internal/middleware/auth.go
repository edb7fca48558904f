package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const tenantLocal = "tenant"

// TenantContext holds the caller's tenant for the request
type TenantContext struct {
	TenantID string
	Subject  string
	Scopes   []string
}

// Claims is the JWT payload issued to ticket offices and back-office tools
type Claims struct {
	TenantID string   `json:"tenant_id"`
	Scopes   []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for tenantID
func IssueToken(secret []byte, tenantID, subject string, scopes []string, ttl time.Duration) (string, error) {
	if tenantID == "" {
		return "", errors.New("tenant id is required")
	}
	now := time.Now()
	claims := Claims{
		TenantID: tenantID,
		Scopes:   scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// AuthMiddleware validates the bearer token and stores the tenant in locals
func AuthMiddleware(secret []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(401).JSON(fiber.Map{
				"error":   "missing_token",
				"message": "A bearer token is required. Use Authorization: Bearer <token>",
			})
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return c.Status(401).JSON(fiber.Map{
				"error":   "invalid_auth_format",
				"message": "Authorization header must be in format: Bearer <token>",
			})
		}

		claims := &Claims{}
		_, err := jwt.ParseWithClaims(strings.TrimSpace(parts[1]), claims, func(t *jwt.Token) (interface{}, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
		if err != nil {
			return c.Status(401).JSON(fiber.Map{
				"error":   "invalid_token",
				"message": "The provided token is invalid or expired",
			})
		}
		if claims.TenantID == "" {
			return c.Status(401).JSON(fiber.Map{
				"error":   "invalid_token",
				"message": "Token carries no tenant_id claim",
			})
		}

		c.Locals(tenantLocal, &TenantContext{
			TenantID: claims.TenantID,
			Subject:  claims.Subject,
			Scopes:   claims.Scopes,
		})
		return c.Next()
	}
}

// HeaderTenant trusts the X-Tenant-ID header. Only for deployments with auth disabled.
func HeaderTenant() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenantID := strings.TrimSpace(c.Get("X-Tenant-ID"))
		if tenantID == "" {
			return c.Status(400).JSON(fiber.Map{
				"error":   "missing_tenant",
				"message": "X-Tenant-ID header is required",
			})
		}
		c.Locals(tenantLocal, &TenantContext{TenantID: tenantID, Scopes: []string{"*"}})
		return c.Next()
	}
}

// Tenant returns the tenant resolved by AuthMiddleware or HeaderTenant
func Tenant(c *fiber.Ctx) (*TenantContext, bool) {
	t, ok := c.Locals(tenantLocal).(*TenantContext)
	return t, ok
}

// RequireScope checks if the caller has a specific scope
func RequireScope(scope string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenant, ok := Tenant(c)
		if !ok {
			return c.Status(401).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "Authentication required",
			})
		}

		for _, s := range tenant.Scopes {
			if s == scope || s == "*" {
				return c.Next()
			}
		}

		return c.Status(403).JSON(fiber.Map{
			"error":          "insufficient_permissions",
			"message":        "Your token does not have the required permissions",
			"required_scope": scope,
		})
	}
}
