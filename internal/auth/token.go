package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"infinite-experiment/tourdesk/internal/constants"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
	ErrUnknownRole  = errors.New("token carries an unknown role")
)

// tokenClaims is the wire shape of the auth provider's access token
type tokenClaims struct {
	Role       string `json:"role"`
	ProviderID string `json:"provider_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier checks HS256 bearer tokens signed with the secret shared with
// the auth provider
type TokenVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewTokenVerifier(secret []byte) *TokenVerifier {
	return &TokenVerifier{secret: secret, now: time.Now}
}

// Verify parses a raw token into claims
func (v *TokenVerifier) Verify(raw string) (*JWTClaims, error) {
	if raw == "" {
		return nil, ErrMissingToken
	}

	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	role := constants.Role(claims.Role)
	if role.Rank() == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, claims.Role)
	}

	return &JWTClaims{
		Subject:       claims.Subject,
		RoleValue:     role,
		ProviderIDVal: claims.ProviderID,
	}, nil
}

// IssueToken signs a token in the auth provider's format. Used by the dev
// token generator and tests.
func IssueToken(secret []byte, subject string, role constants.Role, providerID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		Role:       string(role),
		ProviderID: providerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
