package middleware

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SubjectVerifier checks HS256 bearer tokens and extracts their subject. It
// only identifies the caller for keying; it is not an authorization check.
type SubjectVerifier struct {
	secret []byte
	parser *jwt.Parser
}

type SubjectVerifierConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	Leeway   time.Duration
}

func NewSubjectVerifier(cfg SubjectVerifierConfig) (*SubjectVerifier, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("subject verifier: empty secret")
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(cfg.Leeway))
	}
	if cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		options = append(options, jwt.WithAudience(cfg.Audience))
	}

	return &SubjectVerifier{
		secret: append([]byte(nil), cfg.Secret...),
		parser: jwt.NewParser(options...),
	}, nil
}

// Subject returns the token's sub claim. Every failure wraps
// ErrUnauthenticated.
func (v *SubjectVerifier) Subject(tokenStr string) (string, error) {
	if v == nil {
		return "", ErrUnauthenticated
	}

	claims := &jwt.RegisteredClaims{}
	token, err := v.parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("%w: missing sub", ErrUnauthenticated)
	}
	return claims.Subject, nil
}
