// Package identity authenticates callers. Operators present HS256 bearer
// tokens; automated monitors present bcrypt-verified API keys. Both resolve
// to a domain.Actor.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bissquit/incident-orchestrator/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Authentication errors.
var (
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrInvalidAPIKey = errors.New("invalid api key")
	ErrInvalidConfig = errors.New("invalid identity config")
)

// minSecretLength is the shortest accepted HMAC secret, in bytes.
const minSecretLength = 32

// APIKey is a configured machine credential. Hash is a bcrypt hash of the key.
type APIKey struct {
	Name string
	Hash string
	Role domain.Role
}

// Config contains identity configuration.
type Config struct {
	JWTSecret string
	TokenTTL  time.Duration
	Issuer    string
	APIKeys   []APIKey
}

// Claims are the JWT claims issued for operators.
type Claims struct {
	jwt.RegisteredClaims
	Name string      `json:"name"`
	Role domain.Role `json:"role"`
}

// Service validates and issues credentials.
type Service struct {
	secret  []byte
	ttl     time.Duration
	issuer  string
	apiKeys []APIKey
	now     func() time.Time
}

// NewService creates a new identity service.
func NewService(cfg Config) (*Service, error) {
	if len(cfg.JWTSecret) < minSecretLength {
		return nil, fmt.Errorf("%w: jwt secret must be at least %d bytes", ErrInvalidConfig, minSecretLength)
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 12 * time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "incident-orchestrator"
	}
	for _, k := range cfg.APIKeys {
		if k.Name == "" || k.Hash == "" {
			return nil, fmt.Errorf("%w: api key needs name and hash", ErrInvalidConfig)
		}
		if !k.Role.IsValid() {
			return nil, fmt.Errorf("%w: api key %s has invalid role %q", ErrInvalidConfig, k.Name, k.Role)
		}
		if _, err := bcrypt.Cost([]byte(k.Hash)); err != nil {
			return nil, fmt.Errorf("%w: api key %s hash: %v", ErrInvalidConfig, k.Name, err)
		}
	}

	return &Service{
		secret:  []byte(cfg.JWTSecret),
		ttl:     cfg.TokenTTL,
		issuer:  cfg.Issuer,
		apiKeys: cfg.APIKeys,
		now:     time.Now,
	}, nil
}

// IssueToken signs a token for an operator.
func (s *Service) IssueToken(subject, name string, role domain.Role) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, fmt.Errorf("%w: subject is required", ErrInvalidConfig)
	}
	if !role.IsValid() {
		return "", time.Time{}, fmt.Errorf("%w: invalid role %q", ErrInvalidConfig, role)
	}

	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Name: name,
		Role: role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// AuthenticateToken validates a bearer token.
func (s *Service) AuthenticateToken(_ context.Context, token string) (domain.Actor, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return domain.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || !claims.Role.IsValid() {
		return domain.Actor{}, fmt.Errorf("%w: missing subject or role", ErrInvalidToken)
	}

	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return domain.Actor{ID: claims.Subject, Name: name, Role: claims.Role}, nil
}

// AuthenticateAPIKey matches the key against configured hashes.
func (s *Service) AuthenticateAPIKey(_ context.Context, key string) (domain.Actor, error) {
	if key == "" {
		return domain.Actor{}, ErrInvalidAPIKey
	}
	for _, k := range s.apiKeys {
		if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(key)) == nil {
			return domain.Actor{ID: "apikey:" + k.Name, Name: k.Name, Role: k.Role}, nil
		}
	}
	return domain.Actor{}, ErrInvalidAPIKey
}

// GenerateAPIKey returns a new random key and its bcrypt hash.
func GenerateAPIKey() (key, hash string, err error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate key: %w", err)
	}
	key = "orch_" + hex.EncodeToString(b)

	hash, err = HashAPIKey(key)
	if err != nil {
		return "", "", err
	}
	return key, hash, nil
}

// HashAPIKey hashes a key for the api_keys config section.
func HashAPIKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidConfig)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash key: %w", err)
	}
	return string(h), nil
}
