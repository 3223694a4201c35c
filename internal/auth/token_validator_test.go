package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenValidatorAcceptsIssuedTokens(t *testing.T) {
	clockNow := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	issuer := mustIssuer(t, func() time.Time { return clockNow })
	signed, _, err := issuer.Issue(context.Background(), "operator", 3)
	if err != nil {
		t.Fatalf("failed to issue: %v", err)
	}

	claims, err := issuer.Validator().ValidateToken(signed)
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.Subject != "operator" || claims.AccountID != 3 {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestTokenValidatorRejectsExpired(t *testing.T) {
	clockNow := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	issuer := mustIssuer(t, func() time.Time { return clockNow })
	signed, _, err := issuer.Issue(context.Background(), "operator", 0)
	if err != nil {
		t.Fatalf("failed to issue: %v", err)
	}

	validator, err := NewTokenValidator(TokenValidatorConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        DefaultIssuer,
		Audience:      DefaultAudience,
		Clock:         func() time.Time { return clockNow.Add(2 * time.Hour) },
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected expired error, got %v", err)
	}
}

func TestTokenValidatorRejectsForeignTokens(t *testing.T) {
	clockNow := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	validator := mustIssuer(t, func() time.Time { return clockNow }).Validator()

	wrongAudience := jwt.NewWithClaims(jwt.SigningMethodHS256, InspectionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator",
			Issuer:    DefaultIssuer,
			Audience:  []string{"elsewhere"},
			ExpiresAt: jwt.NewNumericDate(clockNow.Add(time.Hour)),
		},
	})
	signed, err := wrongAudience.SignedString([]byte("super-secret"))
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token for foreign audience, got %v", err)
	}

	wrongSecret := jwt.NewWithClaims(jwt.SigningMethodHS256, InspectionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator",
			Issuer:    DefaultIssuer,
			Audience:  []string{DefaultAudience},
			ExpiresAt: jwt.NewNumericDate(clockNow.Add(time.Hour)),
		},
	})
	signed, err = wrongSecret.SignedString([]byte("other"))
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token for foreign secret, got %v", err)
	}

	noSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, InspectionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			Audience:  []string{DefaultAudience},
			ExpiresAt: jwt.NewNumericDate(clockNow.Add(time.Hour)),
		},
	})
	signed, err = noSubject.SignedString([]byte("super-secret"))
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrMissingSubject) {
		t.Fatalf("expected missing subject, got %v", err)
	}

	if _, err := validator.ValidateToken(" "); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token, got %v", err)
	}
}

func TestTokenValidatorValidateRequest(t *testing.T) {
	issuer := mustIssuer(t, nil)
	signed, _, err := issuer.Issue(context.Background(), "operator", 1)
	if err != nil {
		t.Fatalf("failed to issue: %v", err)
	}
	validator := issuer.Validator()

	request := httptest.NewRequest("GET", "/feeds", nil)
	request.Header.Set("Authorization", "Bearer "+signed)
	if _, err := validator.ValidateRequest(request); err != nil {
		t.Fatalf("expected header token to validate: %v", err)
	}

	request = httptest.NewRequest("GET", "/events?access_token="+signed, nil)
	if _, err := validator.ValidateRequest(request); err != nil {
		t.Fatalf("expected query token to validate: %v", err)
	}

	request = httptest.NewRequest("GET", "/feeds", nil)
	if _, err := validator.ValidateRequest(request); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token, got %v", err)
	}
}
