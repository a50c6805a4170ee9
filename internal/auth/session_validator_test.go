package auth

import (
	"context"
	"testing"
	"time"
)

func mustIssuedToken(testContext *testing.T, issuer *SessionIssuer, claims Claims) string {
	testContext.Helper()
	token, _, err := issuer.Issue(claims)
	if err != nil {
		testContext.Fatalf("issue token: %v", err)
	}
	return token
}

func TestValidateTokenAcceptsFreshToken(testContext *testing.T) {
	issuer := NewSessionIssuer(SessionIssuerConfig{SigningSecret: []byte("secret"), Issuer: "collabhub"})
	validator, err := NewSessionValidator(SessionValidatorConfig{SigningSecret: []byte("secret"), Issuer: "collabhub"})
	if err != nil {
		testContext.Fatalf("construct validator: %v", err)
	}

	token := mustIssuedToken(testContext, issuer, Claims{Subject: "user-1"})
	claims, err := validator.ValidateToken(token)
	if err != nil {
		testContext.Fatalf("validate: %v", err)
	}
	if claims.Subject != "user-1" {
		testContext.Fatalf("unexpected subject: %q", claims.Subject)
	}
}

func TestValidateTokenRejectsWrongIssuerWhenConfigured(testContext *testing.T) {
	issuer := NewSessionIssuer(SessionIssuerConfig{SigningSecret: []byte("secret"), Issuer: "other-issuer"})
	validator, err := NewSessionValidator(SessionValidatorConfig{SigningSecret: []byte("secret"), Issuer: "collabhub"})
	if err != nil {
		testContext.Fatalf("construct validator: %v", err)
	}

	token := mustIssuedToken(testContext, issuer, Claims{Subject: "user-1"})
	if _, err := validator.ValidateToken(token); err != ErrInvalidSessionToken {
		testContext.Fatalf("expected invalid token error, got %v", err)
	}
}

func TestValidateTokenSkipsIssuerCheckWhenNotConfigured(testContext *testing.T) {
	issuer := NewSessionIssuer(SessionIssuerConfig{SigningSecret: []byte("secret"), Issuer: "anything"})
	validator, err := NewSessionValidator(SessionValidatorConfig{SigningSecret: []byte("secret")})
	if err != nil {
		testContext.Fatalf("construct validator: %v", err)
	}

	token := mustIssuedToken(testContext, issuer, Claims{Subject: "user-1"})
	if _, err := validator.ValidateToken(token); err != nil {
		testContext.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateTokenRejectsExpiredToken(testContext *testing.T) {
	issuedAt := time.Now().Add(-time.Hour)
	issuer := NewSessionIssuer(SessionIssuerConfig{
		SigningSecret: []byte("secret"),
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return issuedAt },
	})
	validator, err := NewSessionValidator(SessionValidatorConfig{SigningSecret: []byte("secret")})
	if err != nil {
		testContext.Fatalf("construct validator: %v", err)
	}

	token := mustIssuedToken(testContext, issuer, Claims{Subject: "user-1"})
	if _, err := validator.ValidateToken(token); err != ErrExpiredSessionToken {
		testContext.Fatalf("expected expired token error, got %v", err)
	}
}

func TestValidateTokenRejectsEmptyToken(testContext *testing.T) {
	validator, err := NewSessionValidator(SessionValidatorConfig{SigningSecret: []byte("secret")})
	if err != nil {
		testContext.Fatalf("construct validator: %v", err)
	}
	if _, err := validator.ValidateToken(""); err != ErrMissingSessionToken {
		testContext.Fatalf("expected missing token error, got %v", err)
	}
}

func TestNewSessionValidatorRequiresSigningSecret(testContext *testing.T) {
	if _, err := NewSessionValidator(SessionValidatorConfig{}); err != ErrMissingSessionSigningKey {
		testContext.Fatalf("expected missing signing key error, got %v", err)
	}
}

func TestVerifyAdaptsClaimsForCompositeVerifier(testContext *testing.T) {
	issuer := NewSessionIssuer(SessionIssuerConfig{SigningSecret: []byte("secret")})
	validator, err := NewSessionValidator(SessionValidatorConfig{SigningSecret: []byte("secret")})
	if err != nil {
		testContext.Fatalf("construct validator: %v", err)
	}

	token := mustIssuedToken(testContext, issuer, Claims{Subject: "user-1", Email: "user@example.com"})
	claims, err := validator.Verify(context.Background(), token)
	if err != nil {
		testContext.Fatalf("verify: %v", err)
	}
	if claims.Subject != "user-1" || claims.Email != "user@example.com" {
		testContext.Fatalf("unexpected claims: %+v", claims)
	}
}
