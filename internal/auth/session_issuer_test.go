package auth

import (
	"testing"
	"time"
)

func TestIssueProducesVerifiableToken(testContext *testing.T) {
	issuer := NewSessionIssuer(SessionIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "collabhub",
		TokenTTL:      time.Minute,
	})

	token, expiresInSeconds, err := issuer.Issue(Claims{
		Subject:   "user-1",
		Email:     "user@example.com",
		Name:      "User One",
		AvatarURL: "https://example.com/avatar.png",
	})
	if err != nil {
		testContext.Fatalf("issue: %v", err)
	}
	if token == "" {
		testContext.Fatal("expected non-empty token")
	}
	if expiresInSeconds <= 0 {
		testContext.Fatalf("expected positive expiry, got %d", expiresInSeconds)
	}

	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "collabhub",
	})
	if err != nil {
		testContext.Fatalf("construct validator: %v", err)
	}

	claims, err := validator.ValidateToken(token)
	if err != nil {
		testContext.Fatalf("validate: %v", err)
	}
	if claims.Subject != "user-1" {
		testContext.Fatalf("unexpected subject: %q", claims.Subject)
	}
	if claims.UserEmail != "user@example.com" {
		testContext.Fatalf("unexpected email: %q", claims.UserEmail)
	}
}

func TestIssueRejectsMissingSubject(testContext *testing.T) {
	issuer := NewSessionIssuer(SessionIssuerConfig{SigningSecret: []byte("test-signing-secret")})
	if _, _, err := issuer.Issue(Claims{}); err != errMissingSubjectClaim {
		testContext.Fatalf("expected missing subject error, got %v", err)
	}
}

func TestIssueRejectsMissingSigningSecret(testContext *testing.T) {
	issuer := NewSessionIssuer(SessionIssuerConfig{})
	if _, _, err := issuer.Issue(Claims{Subject: "user-1"}); err != errMissingSigningSecret {
		testContext.Fatalf("expected missing signing secret error, got %v", err)
	}
}

func TestIssueUsesDefaultTTLWhenUnset(testContext *testing.T) {
	issuer := NewSessionIssuer(SessionIssuerConfig{SigningSecret: []byte("test-signing-secret")})
	_, expiresInSeconds, err := issuer.Issue(Claims{Subject: "user-1"})
	if err != nil {
		testContext.Fatalf("issue: %v", err)
	}
	if time.Duration(expiresInSeconds)*time.Second != defaultSessionTTL {
		testContext.Fatalf("expected default ttl of %s, got %ds", defaultSessionTTL, expiresInSeconds)
	}
}
