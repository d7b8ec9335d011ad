package middleware

import (
	"fmt"
	"strings"

	"dealerchat-backend/internal/model"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// ParseIdentity validates a token minted by the storefront's auth service
// and extracts the {id, role} principal. Token issuance lives outside this
// service; only the verification boundary is ours.
func ParseIdentity(tokenString, jwtSecret string) (model.Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return model.Identity{}, fmt.Errorf("invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return model.Identity{}, fmt.Errorf("invalid token claims")
	}

	id, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	identity := model.Identity{ID: id, Role: model.Role(role)}
	if identity.ID == "" || !identity.Role.Valid() {
		return model.Identity{}, fmt.Errorf("token missing subject or role")
	}
	return identity, nil
}

// Auth resolves the bearer token to an Identity and stores it in locals.
func Auth(jwtSecret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(401).JSON(fiber.Map{"error": "missing authorization header"})
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			return c.Status(401).JSON(fiber.Map{"error": "invalid authorization format"})
		}

		identity, err := ParseIdentity(tokenString, jwtSecret)
		if err != nil {
			return c.Status(401).JSON(fiber.Map{"error": "invalid or expired token"})
		}

		c.Locals("identity", identity)
		return c.Next()
	}
}

// AdminOnly gates back-office routes. Must run after Auth.
func AdminOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, ok := c.Locals("identity").(model.Identity)
		if !ok || identity.Role != model.RoleAdmin {
			return c.Status(403).JSON(fiber.Map{"error": "admin role required"})
		}
		return c.Next()
	}
}

// IdentityFromCtx returns the authenticated principal set by Auth.
func IdentityFromCtx(c *fiber.Ctx) model.Identity {
	identity, _ := c.Locals("identity").(model.Identity)
	return identity
}
