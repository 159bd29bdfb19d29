// Package auth validates bearer tokens issued by the external auth service.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/park285/cheese-relay/internal/domain"
)

// TokenValidator turns a token into the subject it was issued for.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// JWTValidator checks HMAC-signed JWTs and returns their "sub" claim.
type JWTValidator struct {
	secret []byte
	method string
}

func NewJWTValidator(secret, algorithm string) (*JWTValidator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	alg := strings.ToUpper(strings.TrimSpace(algorithm))
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	switch alg {
	case jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg():
	default:
		return nil, fmt.Errorf("unsupported jwt algorithm %q", algorithm)
	}
	return &JWTValidator{secret: []byte(secret), method: alg}, nil
}

// ValidateToken verifies signature and expiry. Every failure wraps domain.ErrAuth.
func (v *JWTValidator) ValidateToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: missing token", domain.ErrAuth)
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{v.method}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrAuth, err)
	}
	if !parsed.Valid {
		return "", fmt.Errorf("%w: invalid token", domain.ErrAuth)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("%w: token has no subject", domain.ErrAuth)
	}
	return claims.Subject, nil
}

// Issue signs a token for subject. The relay never issues tokens to
// clients; this exists for tooling and tests.
func (v *JWTValidator) Issue(subject string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = subject
	return jwt.NewWithClaims(jwt.GetSigningMethod(v.method), claims).SignedString(v.secret)
}

// BearerToken extracts the token from an "Authorization: Bearer ..." header.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(header[len(prefix):])
	return tok, tok != ""
}

// TokenFromRequest reads the token from the "token" query parameter, then
// from the Authorization header.
func TokenFromRequest(r *http.Request) string {
	if tok := strings.TrimSpace(r.URL.Query().Get("token")); tok != "" {
		return tok
	}
	tok, _ := BearerToken(r.Header.Get("Authorization"))
	return tok
}
