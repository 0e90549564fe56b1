package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"infinite-experiment/tourdesk/internal/constants"
)

var (
	ErrLinkInvalid  = errors.New("invalid export link")
	ErrLinkExpired  = errors.New("export link expired")
	ErrLinkConsumed = errors.New("export link already used")
)

// ExportRequest is what a signed export link is allowed to download
type ExportRequest struct {
	UserID     string `json:"user_id"`
	Role       string `json:"role"`
	ProviderID string `json:"provider_id,omitempty"`
	View       string `json:"view"`
	Format     string `json:"format"`
	Tab        string `json:"tab,omitempty"`
	Search     string `json:"search,omitempty"`
	Date       string `json:"date,omitempty"`
}

type exportClaims struct {
	ExportRequest
	jwt.RegisteredClaims
}

// SignedExport is a validated, consumed export link
type SignedExport struct {
	Request   ExportRequest
	TokenID   string
	ExpiresAt time.Time
}

// UsedTokenStore records consumed token ids. MarkUsed returns false when the
// id was already marked.
type UsedTokenStore interface {
	MarkUsed(ctx context.Context, tokenID string, ttl time.Duration) (bool, error)
}

// RedisTokenStore shares consumed ids across replicas
type RedisTokenStore struct {
	client *redis.Client
}

func NewRedisTokenStore(client *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{client: client}
}

func (s *RedisTokenStore) MarkUsed(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, string(constants.CachePrefixUsedToken)+tokenID, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark token as used: %w", err)
	}
	return ok, nil
}

// MemoryTokenStore keeps consumed ids in the local go-cache
type MemoryTokenStore struct {
	cache *CacheService
}

func NewMemoryTokenStore(cache *CacheService) *MemoryTokenStore {
	return &MemoryTokenStore{cache: cache}
}

func (s *MemoryTokenStore) MarkUsed(_ context.Context, tokenID string, ttl time.Duration) (bool, error) {
	return s.cache.Add(string(constants.CachePrefixUsedToken)+tokenID, true, ttl), nil
}

// ExportLinkSigner issues and redeems single-use download links
type ExportLinkSigner struct {
	secretKey []byte
	store     UsedTokenStore
	now       func() time.Time
}

func NewExportLinkSigner(secretKey []byte, store UsedTokenStore) *ExportLinkSigner {
	return &ExportLinkSigner{secretKey: secretKey, store: store, now: time.Now}
}

// Sign returns a token for req valid for ttl
func (s *ExportLinkSigner) Sign(req ExportRequest, ttl time.Duration) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(ttl)

	claims := exportClaims{
		ExportRequest: req,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   req.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign export link: %w", err)
	}
	return signed, expiresAt, nil
}

// Redeem validates the token and consumes it. A token redeems at most once.
func (s *ExportLinkSigner) Redeem(ctx context.Context, tokenString string) (*SignedExport, error) {
	claims := &exportClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrLinkExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrLinkInvalid, err)
	}
	if !token.Valid || claims.ID == "" || claims.ExpiresAt == nil {
		return nil, ErrLinkInvalid
	}

	expiresAt := claims.ExpiresAt.Time
	ttl := expiresAt.Sub(s.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	fresh, err := s.store.MarkUsed(ctx, claims.ID, ttl)
	if err != nil {
		return nil, err
	}
	if !fresh {
		return nil, ErrLinkConsumed
	}

	return &SignedExport{
		Request:   claims.ExportRequest,
		TokenID:   claims.ID,
		ExpiresAt: expiresAt,
	}, nil
}
