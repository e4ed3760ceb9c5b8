package jwt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	types "storefront-checkout/internal/common/type"
	"storefront-checkout/internal/pkg/logger"
	"storefront-checkout/internal/pkg/validation"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	UserDataKey   = "user_data"
	defaultSecret = "$d3f4uIt_s3cr3t_key#"
	refreshSkew   = 30 * time.Second
)

type Config struct {
	Secret  string
	Issuer  string
	Subject string
	Scope   string
	TTL     time.Duration
}

func secretOf(secret string) []byte {
	if secret == "" {
		logger.Warning.Println("JWT secret not configured, using default secret")
		secret = defaultSecret
	}
	return []byte(secret)
}

func GenerateToken(secret string, issuer string, data types.ServiceAuth, ttl time.Duration) (string, *time.Time, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	exp := time.Now().Add(ttl)

	claims := jwt.MapClaims{
		"exp":       exp.Unix(),
		"iat":       time.Now().Unix(),
		"sub":       data.Subject,
		UserDataKey: data,
	}
	if issuer != "" {
		claims["iss"] = issuer
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedToken, err := token.SignedString(secretOf(secret))
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return signedToken, &exp, nil
}

func ValidateToken(secret string, jwtToken string) (*types.ServiceAuth, error) {
	jwtToken = strings.TrimSpace(strings.TrimPrefix(jwtToken, "Bearer "))

	token, err := jwt.Parse(jwtToken, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secretOf(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	if claims[UserDataKey] == nil {
		return nil, fmt.Errorf("auth data not found in token claims")
	}

	raw, err := json.Marshal(claims[UserDataKey])
	if err != nil {
		return nil, fmt.Errorf("error marshalling auth data: %w", err)
	}

	var auth types.ServiceAuth
	if err = json.Unmarshal(raw, &auth); err != nil {
		return nil, fmt.Errorf("error unmarshalling auth data: %w", err)
	}

	if err = validation.Validate(auth); err != nil {
		return nil, err
	}

	return &auth, nil
}

// ITokenSource supplies the bearer credential attached to outbound calls.
// Refresh is invoked after the remote side rejected the current token.
type ITokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// ServiceTokenSource mints short-lived HS256 tokens for this service and
// caches them until shortly before expiry.
type ServiceTokenSource struct {
	mu    sync.Mutex
	cfg   Config
	id    uuid.UUID
	token string
	exp   time.Time
}

func NewServiceTokenSource(cfg Config) *ServiceTokenSource {
	if cfg.Subject == "" {
		cfg.Subject = "storefront-checkout"
	}
	return &ServiceTokenSource{cfg: cfg, id: uuid.New()}
}

func (s *ServiceTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Until(s.exp) > refreshSkew {
		return s.token, nil
	}
	return s.mint()
}

func (s *ServiceTokenSource) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mint()
}

func (s *ServiceTokenSource) mint() (string, error) {
	token, exp, err := GenerateToken(s.cfg.Secret, s.cfg.Issuer, types.ServiceAuth{
		ID:      s.id,
		Subject: s.cfg.Subject,
		Scope:   s.cfg.Scope,
	}, s.cfg.TTL)
	if err != nil {
		return "", err
	}
	s.token = token
	s.exp = *exp
	return token, nil
}

// StaticTokenSource hands out a pre-issued token; Refresh cannot renew it.
type StaticTokenSource string

func (s StaticTokenSource) Token(context.Context) (string, error) {
	return string(s), nil
}

func (s StaticTokenSource) Refresh(context.Context) (string, error) {
	return string(s), nil
}
