package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrUnsupportedAlgo  = errors.New("unsupported jwt algorithm")
	ErrSigningKeyNeeded = errors.New("jwt signing key required")
)

// JWTSessionStore issues and validates HMAC-signed bearer tokens. Tokens are
// stateless; logout is a client-side discard.
type JWTSessionStore struct {
	secret []byte
	method *jwt.SigningMethodHMAC
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTSessionStore builds a store signing with HS256, HS384 or HS512.
func NewJWTSessionStore(secret, algorithm string, ttl time.Duration) (*JWTSessionStore, error) {
	if secret == "" {
		return nil, ErrSigningKeyNeeded
	}
	method, err := hmacMethod(algorithm)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("jwt ttl must be positive")
	}
	return &JWTSessionStore{
		secret: []byte(secret),
		method: method,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

func hmacMethod(algorithm string) (*jwt.SigningMethodHMAC, error) {
	switch strings.ToUpper(strings.TrimSpace(algorithm)) {
	case "", "HS256":
		return jwt.SigningMethodHS256, nil
	case "HS384":
		return jwt.SigningMethodHS384, nil
	case "HS512":
		return jwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgo, algorithm)
	}
}

// WithClock replaces the time source used for issuing and validating tokens.
func (s *JWTSessionStore) WithClock(now func() time.Time) *JWTSessionStore {
	if now != nil {
		s.now = now
	}
	return s
}

// NewSession creates a signed JWT whose subject is the username.
func (s *JWTSessionStore) NewSession(subject string) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("token subject required")
	}
	now := s.now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	return jwt.NewWithClaims(s.method, claims).SignedString(s.secret)
}

// Subject validates token and returns its subject.
func (s *JWTSessionStore) Subject(token string) (string, error) {
	claims, err := s.parseAndVerify(token)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}
	return claims.Subject, nil
}

func (s *JWTSessionStore) parseAndVerify(token string) (jwt.RegisteredClaims, error) {
	claims := jwt.RegisteredClaims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, fmt.Errorf("%w: empty", ErrInvalidToken)
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return claims, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return claims, ErrInvalidToken
	}
	return claims, nil
}
