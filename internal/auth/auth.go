// Package auth implements the gateway's single-credential identity layer.
//
// The server runs with at most one static access/secret key pair. When
// credentials are configured, the middleware extracts the caller's access key
// from the SigV4 Authorization header (or the presigned-URL query parameter),
// rejects a request presenting a different access key, and places the key on
// the request context; without credentials every request carries the empty
// access key. Cryptographic signature verification belongs to the
// fronting transport layer and is deliberately not performed here — the
// secret key never participates in this core.
package auth

import (
	"context"
	"net/http"
	"strings"

	s3err "github.com/balchua/beggar/internal/errors"
	"github.com/balchua/beggar/internal/xmlutil"
)

type contextKey int

const accessKeyContextKey contextKey = 0

// SimpleAuth holds the single configured credential pair. The zero value
// means authentication is disabled and every request carries the empty
// access key.
type SimpleAuth struct {
	accessKey string
	secretKey string
}

// FromSingle creates a SimpleAuth from one access/secret key pair.
func FromSingle(accessKey, secretKey string) *SimpleAuth {
	return &SimpleAuth{accessKey: accessKey, secretKey: secretKey}
}

// Enabled reports whether a credential pair is configured.
func (a *SimpleAuth) Enabled() bool {
	return a != nil && a.accessKey != ""
}

// AccessKeyFromRequest extracts the caller's access key from the SigV4
// Authorization header ("AWS4-HMAC-SHA256 Credential=AK/date/region/s3/
// aws4_request, ...") or the X-Amz-Credential query parameter. Returns the
// empty string when no credential is presented.
func AccessKeyFromRequest(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		idx := strings.Index(authHeader, "Credential=")
		if idx >= 0 {
			cred := authHeader[idx+len("Credential="):]
			if end := strings.IndexAny(cred, ",/ "); end >= 0 {
				cred = cred[:end]
			}
			return cred
		}
	}

	if cred := r.URL.Query().Get("X-Amz-Credential"); cred != "" {
		if end := strings.IndexByte(cred, '/'); end >= 0 {
			return cred[:end]
		}
		return cred
	}
	return ""
}

// Middleware resolves the caller identity for every request. With
// authentication enabled, a request whose access key does not match the
// configured credential fails InvalidAccessKeyId; otherwise the access key
// (empty for an anonymous request) is attached to the request context. With
// authentication disabled the context carries the empty access key.
func Middleware(a *SimpleAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var accessKey string
			if a.Enabled() {
				accessKey = AccessKeyFromRequest(r)
				if accessKey != "" && accessKey != a.accessKey {
					xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidAccessKeyId)
					return
				}
			}
			ctx := context.WithValue(r.Context(), accessKeyContextKey, accessKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccessKeyFromContext returns the access key resolved by the middleware, or
// the empty string when the request was unauthenticated.
func AccessKeyFromContext(ctx context.Context) string {
	if ak, ok := ctx.Value(accessKeyContextKey).(string); ok {
		return ak
	}
	return ""
}
