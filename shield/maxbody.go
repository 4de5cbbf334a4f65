package shield

import (
	"net/http"
	"strings"
)

// MaxFormBody returns middleware that limits the request body size for
// form-encoded and multipart POST requests — the latter covers the image
// upload endpoint, which otherwise has no size cap until the multipart
// reader hits disk. Other content types are passed through.
func MaxFormBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ct := r.Header.Get("Content-Type")
			if ct == "application/x-www-form-urlencoded" || strings.HasPrefix(ct, "multipart/form-data") {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
