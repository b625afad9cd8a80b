package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ppiankov/ledgerwatch/internal/model"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func testJWT(t *testing.T) *JWT {
	t.Helper()
	j, err := NewJWT(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	return j
}

func TestJWTRoundTrip(t *testing.T) {
	j := testJWT(t)
	tok, err := j.Issue(model.Principal{UserID: "alice", Role: model.RoleAdmin}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	p, err := j.Resolve(context.Background(), tok)
	if err != nil {
		t.Fatal(err)
	}
	if p.UserID != "alice" || p.Role != model.RoleAdmin {
		t.Errorf("unexpected principal %+v", p)
	}
}

func TestJWTExpired(t *testing.T) {
	j := testJWT(t)
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return issued }
	tok, err := j.Issue(model.Principal{UserID: "alice", Role: model.RoleUser}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	j.now = func() time.Time { return issued.Add(2 * time.Minute) }
	if _, err := j.Resolve(context.Background(), tok); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected expired token to fail, got %v", err)
	}
}

func TestJWTRejectsOtherSecret(t *testing.T) {
	other, _ := NewJWT([]byte("ffffffffffffffffffffffffffffffff"))
	tok, _ := other.Issue(model.Principal{UserID: "mallory", Role: model.RoleAdmin}, time.Hour)
	if _, err := testJWT(t).Resolve(context.Background(), tok); err == nil {
		t.Error("expected signature failure")
	}
}

func TestJWTRejectsNoneAlgorithm(t *testing.T) {
	claims := Claims{Role: model.RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{
		Issuer: issuer, Subject: "mallory", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := testJWT(t).Resolve(context.Background(), tok); err == nil {
		t.Error("expected unsigned token to be rejected")
	}
}

func TestJWTRejectsUnknownRole(t *testing.T) {
	claims := Claims{Role: "root", RegisteredClaims: jwt.RegisteredClaims{
		Issuer: issuer, Subject: "mallory", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	tok, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if _, err := testJWT(t).Resolve(context.Background(), tok); err == nil {
		t.Error("expected unknown role to be rejected")
	}
}

func TestJWTIssueValidates(t *testing.T) {
	j := testJWT(t)
	if _, err := j.Issue(model.Principal{Role: model.RoleUser}, time.Hour); err == nil {
		t.Error("expected error for missing user")
	}
	if _, err := j.Issue(model.Principal{UserID: "a", Role: model.RoleUser}, 0); err == nil {
		t.Error("expected error for zero ttl")
	}
	if _, err := NewJWT([]byte("short")); err == nil {
		t.Error("expected error for short secret")
	}
}
