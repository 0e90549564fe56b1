package auth

import "infinite-experiment/tourdesk/internal/constants"

// UserClaims is what handlers know about the caller
type UserClaims interface {
	UserID() string
	Role() constants.Role
	ProviderID() string
	Source() string
	HasRole(min constants.Role) bool
}

// JWTClaims are the claims of a bearer token issued by the auth provider
type JWTClaims struct {
	Subject       string
	RoleValue     constants.Role
	ProviderIDVal string
}

func (c *JWTClaims) UserID() string                  { return c.Subject }
func (c *JWTClaims) Role() constants.Role            { return c.RoleValue }
func (c *JWTClaims) ProviderID() string              { return c.ProviderIDVal }
func (c *JWTClaims) Source() string                  { return "JWT" }
func (c *JWTClaims) HasRole(min constants.Role) bool { return c.RoleValue.AtLeast(min) }
