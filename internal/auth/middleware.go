package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/queue-service/internal/domain"
	apperrors "github.com/spec-kit/queue-service/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// Principal represents the authenticated caller. Identity is taken from the
// token as is; accounts live with the external auth provider.
type Principal struct {
	SubjectType    domain.SubjectType
	SubjectID      string
	DepartmentCode string
}

// Actor converts the principal into the identity the dispatch engine records.
func (p *Principal) Actor() domain.Actor {
	return domain.Actor{Type: p.SubjectType, ID: p.SubjectID, DepartmentCode: p.DepartmentCode}
}

// AuthMiddleware validates bearer tokens and loads principals.
type AuthMiddleware struct {
	tokens *TokenManager
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(strings.TrimSpace(parts[1]))
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	switch claims.Subject {
	case domain.SubjectTypeStudent, domain.SubjectTypeStaff:
	default:
		return apperrors.NewUnauthorized("unknown subject")
	}
	if strings.TrimSpace(claims.SubjectID) == "" {
		return apperrors.NewUnauthorized("token has no subject")
	}

	c.Locals(principalKey, &Principal{
		SubjectType:    claims.Subject,
		SubjectID:      claims.SubjectID,
		DepartmentCode: strings.ToUpper(strings.TrimSpace(claims.DepartmentCode)),
	})
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
