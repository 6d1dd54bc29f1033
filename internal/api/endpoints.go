package api

import (
	"net/http"
	"strings"
)

// endpoint is a method plus a path prefix.
type endpoint struct {
	method string
	prefix string
}

// publicEndpoints are reachable without an access token. They cover the
// login flow itself: a caller mid-authentication cannot hold a token yet,
// and the approval endpoints are driven by the out-of-band transport.
var publicEndpoints = []endpoint{
	{http.MethodPost, "/approvals"},
	{http.MethodPost, "/approvals/"},
	{http.MethodGet, "/approvals/"},
	{http.MethodPost, "/sessions"},
	{http.MethodPost, "/sessions/refresh"},
	// These two authenticate themselves with the presented session token.
	{http.MethodGet, "/sessions/current"},
	{http.MethodDelete, "/sessions/current"},
	{http.MethodPost, "/users"},
}

// publicSuffixes marks per-user verification endpoints used during login.
var publicSuffixes = []endpoint{
	{http.MethodPost, "/totp/verify"},
	{http.MethodPost, "/backup-codes/verify"},
	{http.MethodPost, "/passkeys/authenticate/begin"},
	{http.MethodPost, "/passkeys/authenticate/complete"},
	{http.MethodPost, "/login-attempts"},
}

// IsPublic reports whether the request may proceed without authentication.
func IsPublic(method, path string) bool {
	for _, e := range publicEndpoints {
		if method != e.method {
			continue
		}
		if strings.HasSuffix(e.prefix, "/") {
			if strings.HasPrefix(path, e.prefix) {
				return true
			}
		} else if path == e.prefix {
			return true
		}
	}
	for _, e := range publicSuffixes {
		if method == e.method && strings.HasSuffix(path, e.prefix) {
			return true
		}
	}
	return false
}
