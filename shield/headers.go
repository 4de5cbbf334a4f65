package shield

import (
	"net/http"
	"strings"
)

// HeaderConfig defines the security and caching headers applied to every
// response.
type HeaderConfig struct {
	CSP                 string
	XFrameOptions       string
	XContentTypeOptions string
	ReferrerPolicy      string
	PermissionsPolicy   string

	// ImmutableCachePrefixes are path prefixes whose responses are
	// content-addressed — fingerprint-named blobs, derived bit-plane
	// images, analyzer archives — and therefore never change once written.
	ImmutableCachePrefixes []string

	// NoStorePrefixes are path prefixes whose responses change as analyzers
	// finish (status/result/infos polling) and must never be cached.
	NoStorePrefixes []string
}

// DefaultHeaders returns the standard configuration for the analysis
// surface: strict security headers, immutable caching for content-addressed
// artifacts, no-store for the polling endpoints.
func DefaultHeaders() HeaderConfig {
	return HeaderConfig{
		CSP:                    "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; frame-ancestors 'none'",
		XFrameOptions:          "DENY",
		XContentTypeOptions:    "nosniff",
		ReferrerPolicy:         "strict-origin-when-cross-origin",
		PermissionsPolicy:      "camera=(), microphone=(), geolocation=()",
		ImmutableCachePrefixes: []string{"/image/", "/download/"},
		NoStorePrefixes:        []string{"/status/", "/result/", "/infos/"},
	}
}

// SecurityHeaders returns middleware that sets the configured security
// headers on every response, and picks the cache policy from the request
// path: an artifact addressed by its content fingerprint can be cached
// forever, while a result document still being assembled by concurrent
// analyzers must be re-fetched on every poll.
func SecurityHeaders(cfg HeaderConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.XContentTypeOptions != "" {
				w.Header().Set("X-Content-Type-Options", cfg.XContentTypeOptions)
			}
			if cfg.XFrameOptions != "" {
				w.Header().Set("X-Frame-Options", cfg.XFrameOptions)
			}
			if cfg.ReferrerPolicy != "" {
				w.Header().Set("Referrer-Policy", cfg.ReferrerPolicy)
			}
			if cfg.CSP != "" {
				w.Header().Set("Content-Security-Policy", cfg.CSP)
			}
			if cfg.PermissionsPolicy != "" {
				w.Header().Set("Permissions-Policy", cfg.PermissionsPolicy)
			}
			if hasPrefixIn(r.URL.Path, cfg.ImmutableCachePrefixes) {
				w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
			} else if hasPrefixIn(r.URL.Path, cfg.NoStorePrefixes) {
				w.Header().Set("Cache-Control", "no-store")
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasPrefixIn(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
