package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dispatchly/dispatchly-backend/pkg/enums"
)

// AccessTokenPayload is the actor a token speaks for.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Role   enums.UserRole
	JTI    string
}

func (p AccessTokenPayload) validate() error {
	if p.UserID == uuid.Nil {
		return fmt.Errorf("token has no user id")
	}
	if !p.Role.IsValid() {
		return fmt.Errorf("token carries invalid role %q", p.Role)
	}
	return nil
}

// AccessTokenClaims is the bearer token issued by the identity provider.
type AccessTokenClaims struct {
	UserID uuid.UUID      `json:"user_id"`
	Role   enums.UserRole `json:"role"`
	jwt.RegisteredClaims
}

func (c *AccessTokenClaims) AccessTokenPayload() AccessTokenPayload {
	return AccessTokenPayload{UserID: c.UserID, Role: c.Role, JTI: c.ID}
}
