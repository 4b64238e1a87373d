package auth

import (
	"context"
	"strings"
)

// Verifier checks bearer tokens. RS256 tokens are verified against the JWKS
// client when one is configured; HS256 tokens against the shared secret.
type Verifier struct {
	HSSecret string
	JWKS     *JWKSClient
}

func (v Verifier) Enabled() bool {
	return strings.TrimSpace(v.HSSecret) != "" || v.JWKS != nil
}

func (v Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	header, err := ParseHeader(token)
	if err != nil {
		return nil, err
	}
	switch header.Alg {
	case "RS256":
		if v.JWKS == nil || header.Kid == "" {
			return nil, ErrInvalidToken
		}
		key, err := v.JWKS.Get(ctx, header.Kid)
		if err != nil {
			return nil, ErrInvalidToken
		}
		return VerifyRS256(token, key)
	case "HS256":
		if strings.TrimSpace(v.HSSecret) == "" {
			return nil, ErrInvalidToken
		}
		return ParseAndVerifyHS256(token, v.HSSecret)
	default:
		return nil, ErrInvalidToken
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
