// Package identity resolves bearer credentials into principals.
package identity

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ppiankov/ledgerwatch/internal/model"
)

// ErrUnauthenticated is returned when no resolver accepts a credential.
var ErrUnauthenticated = errors.New("unauthenticated")

// Resolver maps a bearer credential to a principal.
type Resolver interface {
	Resolve(ctx context.Context, token string) (model.Principal, error)
}

// TokenConfig registers one static operator token. Only the token's hash is
// kept in configuration.
type TokenConfig struct {
	UserID    string     `yaml:"user_id" json:"user_id"`
	Role      model.Role `yaml:"role" json:"role"`
	TokenHash string     `yaml:"token_hash" json:"token_hash"` // "sha256:<hex>"
}

// Registry resolves static tokens.
type Registry struct {
	tokens []TokenConfig
}

// NewRegistry creates a Registry. Entries with an unknown role or a
// malformed hash are rejected.
func NewRegistry(tokens []TokenConfig) (*Registry, error) {
	for i, t := range tokens {
		if t.UserID == "" {
			return nil, fmt.Errorf("token %d: user_id is required", i)
		}
		if _, err := ParseRole(string(t.Role)); err != nil {
			return nil, fmt.Errorf("token %d: %w", i, err)
		}
		if !strings.HasPrefix(t.TokenHash, "sha256:") || len(t.TokenHash) != 7+64 {
			return nil, fmt.Errorf("token %d: token_hash must be sha256:<64 hex>", i)
		}
	}
	return &Registry{tokens: tokens}, nil
}

// HashToken returns the registry form of a raw token.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return "sha256:" + hex.EncodeToString(h[:])
}

// Resolve looks the token up by hash in constant time per entry.
func (r *Registry) Resolve(_ context.Context, token string) (model.Principal, error) {
	if r == nil || token == "" {
		return model.Principal{}, ErrUnauthenticated
	}
	hash := []byte(HashToken(token))
	for _, t := range r.tokens {
		if subtle.ConstantTimeCompare(hash, []byte(t.TokenHash)) == 1 {
			return model.Principal{UserID: t.UserID, Role: t.Role}, nil
		}
	}
	return model.Principal{}, ErrUnauthenticated
}

// ParseRole validates a role name.
func ParseRole(s string) (model.Role, error) {
	switch r := model.Role(strings.ToLower(s)); r {
	case model.RoleAdmin, model.RoleOperator, model.RoleUser:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Chain tries each resolver in order and returns the first principal.
type Chain []Resolver

// Resolve implements Resolver.
func (c Chain) Resolve(ctx context.Context, token string) (model.Principal, error) {
	for _, r := range c {
		if r == nil {
			continue
		}
		p, err := r.Resolve(ctx, token)
		if err == nil {
			return p, nil
		}
	}
	return model.Principal{}, ErrUnauthenticated
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
