package auth

import "context"

// CompositeVerifier tries an external JWKS-backed verifier first, and
// falls back to internally-issued session tokens. Either side may be
// nil: AUTH_JWKS_URL is optional per spec §6, and a deployment may rely
// solely on SessionIssuer-minted tokens.
type CompositeVerifier struct {
	jwks    Verifier
	session Verifier
}

// NewCompositeVerifier constructs a CompositeVerifier. Both arguments
// may be nil, but at least one is required for Verify to ever succeed.
func NewCompositeVerifier(jwks, session Verifier) *CompositeVerifier {
	return &CompositeVerifier{jwks: jwks, session: session}
}

func (c *CompositeVerifier) Verify(ctx context.Context, rawToken string) (Claims, error) {
	if c.jwks != nil {
		if claims, err := c.jwks.Verify(ctx, rawToken); err == nil {
			return claims, nil
		}
	}
	if c.session != nil {
		return c.session.Verify(ctx, rawToken)
	}
	return Claims{}, errMissingToken
}
