package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"rmcerp.io/internal/apperr"
)

const (
	defaultExpiry       = 24 * time.Hour
	authorizationHeader = "Authorization"
	bearerScheme        = "Bearer"
)

// Principal is the authenticated identity carried inside a token.
type Principal struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// Claims represents JWT claims issued by the API.
type Claims struct {
	UserID   int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

func (c *Claims) principal() Principal {
	return Principal{ID: c.UserID, Username: c.Username, Email: c.Email, Role: c.Role}
}

// Authenticator issues and verifies bearer tokens. It is immutable once
// built and safe for concurrent use.
type Authenticator struct {
	secret []byte
	expiry time.Duration
	issuer string
	now    func() time.Time
}

// Option customises an Authenticator.
type Option func(*Authenticator)

// WithIssuer sets the iss claim written into and required from tokens.
func WithIssuer(issuer string) Option {
	return func(a *Authenticator) { a.issuer = strings.TrimSpace(issuer) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// New builds an Authenticator. expiry uses the "<N>h" / "<N>d" notation.
func New(secret, expiry string, opts ...Option) (*Authenticator, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	a := &Authenticator{
		secret: []byte(secret),
		expiry: ParseExpiry(expiry),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Expiry reports the lifetime given to new tokens.
func (a *Authenticator) Expiry() time.Duration { return a.expiry }

// ParseExpiry converts "<N>h" or "<N>d" into a duration. Anything else,
// including non-positive N, yields 24h.
func ParseExpiry(s string) time.Duration {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return defaultExpiry
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return defaultExpiry
	}
	switch s[len(s)-1] {
	case 'h':
		return time.Duration(n) * time.Hour
	case 'd':
		return time.Duration(n) * 24 * time.Hour
	}
	return defaultExpiry
}

// GenerateToken signs an HS256 token for p that expires after the configured lifetime.
func (a *Authenticator) GenerateToken(p Principal) (string, error) {
	var fields []apperr.FieldError
	if p.ID <= 0 {
		fields = append(fields, apperr.FieldError{Field: "id", Message: "must be a positive integer"})
	}
	if strings.TrimSpace(p.Username) == "" {
		fields = append(fields, apperr.FieldError{Field: "username", Message: "is required"})
	}
	if len(fields) > 0 {
		return "", apperr.Validation("token principal is incomplete", fields...)
	}

	now := a.now().UTC()
	claims := Claims{
		UserID:   p.ID,
		Username: p.Username,
		Email:    p.Email,
		Role:     p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expiry)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken checks the signature and expiry of token and returns the
// principal it carries.
func (a *Authenticator) VerifyToken(token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, apperr.InvalidCredential(msgInvalidToken, nil)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrUnexpectedMethod
		}
		return a.secret, nil
	}, opts...)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Principal{}, apperr.ExpiredCredential(msgExpiredToken, err)
	case err != nil:
		return Principal{}, apperr.InvalidCredential(msgInvalidToken, err)
	case !parsed.Valid || claims.UserID <= 0 || claims.Username == "":
		return Principal{}, apperr.InvalidCredential(msgInvalidToken, nil)
	}
	return claims.principal(), nil
}

// ExtractToken pulls the bearer token out of the Authorization header. The
// header name is matched case-insensitively.
func ExtractToken(headers map[string]string) (string, error) {
	var value string
	for k, v := range headers {
		if strings.EqualFold(k, authorizationHeader) {
			value = v
			break
		}
	}
	if value == "" {
		return "", apperr.MissingCredential(msgMissingHeader)
	}
	parts := strings.Split(value, " ")
	if len(parts) != 2 || parts[0] != bearerScheme || parts[1] == "" {
		return "", apperr.MalformedCredential(msgMalformedHeader)
	}
	return parts[1], nil
}

// ValidateHeaders authenticates a request from its headers.
func (a *Authenticator) ValidateHeaders(headers map[string]string) (Principal, error) {
	token, err := ExtractToken(headers)
	if err != nil {
		return Principal{}, err
	}
	return a.VerifyToken(token)
}
