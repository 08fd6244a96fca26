package middleware

import (
	"errors"
	"net"
	"net/http"
	"strings"
)

var (
	// ErrNoKey is returned by a KeyFunc that found nothing to key on.
	ErrNoKey = errors.New("no abuse key in request")
	// ErrUnauthenticated is returned by KeyBySubject when the bearer token is
	// missing or invalid.
	ErrUnauthenticated = errors.New("missing or invalid bearer token")
)

// KeyFunc derives the abuse key for a request.
type KeyFunc func(r *http.Request) (string, error)

// ClientIP returns the host part of r.RemoteAddr. Deployments behind a proxy
// should rewrite RemoteAddr first, for example with chi's RealIP middleware.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// KeyByIP keys requests on the client IP: "<prefix>:<ip>".
func KeyByIP(prefix string) KeyFunc {
	return func(r *http.Request) (string, error) {
		ip := ClientIP(r)
		if ip == "" {
			return "", ErrNoKey
		}
		return join(prefix, ip), nil
	}
}

// KeyBySubject keys requests on the sub claim of a verified bearer token.
func KeyBySubject(prefix string, verifier *SubjectVerifier) KeyFunc {
	return func(r *http.Request) (string, error) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			return "", ErrUnauthenticated
		}
		sub, err := verifier.Subject(token)
		if err != nil {
			return "", err
		}
		return join(prefix, sub), nil
	}
}

// KeyByFormValue keys requests on a form or query field, such as the email
// on a password reset request. Values are lowercased and trimmed.
func KeyByFormValue(prefix, field string) KeyFunc {
	return func(r *http.Request) (string, error) {
		v := strings.ToLower(strings.TrimSpace(r.FormValue(field)))
		if v == "" {
			return "", ErrNoKey
		}
		return join(prefix, v), nil
	}
}

func join(prefix, value string) string {
	if prefix == "" {
		return value
	}
	return prefix + ":" + value
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
