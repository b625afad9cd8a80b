package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ppiankov/ledgerwatch/internal/model"
)

const issuer = "ledgerwatch"

// Claims is the token body issued to operators and callers.
type Claims struct {
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

// JWT issues and verifies HS256 bearer tokens.
type JWT struct {
	secret []byte
	now    func() time.Time
}

// NewJWT creates a JWT resolver. The secret must be at least 32 bytes.
func NewJWT(secret []byte) (*JWT, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 bytes, got %d", len(secret))
	}
	return &JWT{secret: secret, now: time.Now}, nil
}

// Issue signs a token for p valid for ttl.
func (j *JWT) Issue(p model.Principal, ttl time.Duration) (string, error) {
	if p.UserID == "" {
		return "", errors.New("user id is required")
	}
	if _, err := ParseRole(string(p.Role)); err != nil {
		return "", err
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be positive")
	}
	now := j.now()
	claims := Claims{
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// Resolve verifies token and returns its principal.
func (j *JWT) Resolve(_ context.Context, token string) (model.Principal, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return model.Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	role, err := ParseRole(string(claims.Role))
	if err != nil || claims.Subject == "" {
		return model.Principal{}, fmt.Errorf("%w: token carries no valid subject or role", ErrUnauthenticated)
	}
	return model.Principal{UserID: claims.Subject, Role: role}, nil
}
