// Package shield provides reusable HTTP security middleware.
// It consolidates security headers, rate limiting, body limits, request tracing,
// flash messages, and HEAD method handling into a single importable package.
//
// Usage:
//
//	r := chi.NewRouter()
//	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
//	r.Use(shield.MaxFormBody(64 * 1024))
//	r.Use(shield.TraceID)
//	r.Use(shield.NewRateLimiter(db).Middleware)
//	r.Use(shield.Flash)
//	r.Use(shield.HeadToGet)
//
// Or apply the default public stack in one call:
//
//	stack, mm := shield.DefaultPublicStack(db, maxUploadBytes)
//	mm.StartReloader(done)
//	for _, mw := range stack {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
)

type contextKey string

const (
	// LoggerKey is the context key for the per-request structured logger.
	LoggerKey contextKey = "shield_logger"

	// FlashKey is the context key for flash messages.
	FlashKey contextKey = "shield_flash"
)

// FlashMessage represents a one-time notification shown to the user.
type FlashMessage struct {
	Type    string // "success" or "error"
	Message string
}

// GetFlash retrieves the flash message from the request context.
func GetFlash(ctx context.Context) *FlashMessage {
	v, _ := ctx.Value(FlashKey).(*FlashMessage)
	return v
}

// DefaultPublicStack returns the standard middleware stack for a publicly
// reachable service (the upload/status/result/download/remove surface).
// Middleware is ordered: Maintenance → HeadToGet → SecurityHeaders → MaxFormBody → TraceID → RateLimiter → Flash.
// maxBody bounds form/multipart request bodies and should match the
// service's configured upload size cap. The returned MaintenanceMode
// handle allows callers to set a custom page and call StartReloader.
// Health checks (/healthz) bypass maintenance.
func DefaultPublicStack(db *sql.DB, maxBody int64) ([]func(http.Handler) http.Handler, *MaintenanceMode) {
	rl := NewRateLimiter(db)
	mm := NewMaintenanceMode(db, "/healthz", "/static/")
	return []func(http.Handler) http.Handler{
		mm.Middleware,
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxFormBody(maxBody),
		TraceID,
		rl.Middleware,
		Flash,
	}, mm
}

// HeadToGet converts HEAD requests to GET so that handlers registered with
// r.Get() — status/infos/result lookups included — respond with 200
// instead of 405 (Method Not Allowed). The response body is discarded for
// converted requests: a HEAD against an analyzer archive or an image blob
// must cost headers, not a full file transfer.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		r.Method = http.MethodGet
		next.ServeHTTP(&headResponseWriter{ResponseWriter: w}, r)
	})
}

// headResponseWriter reports body writes as successful without sending
// them, so Content-Length and status reach the client but the payload of a
// converted HEAD request does not.
type headResponseWriter struct {
	http.ResponseWriter
}

func (w *headResponseWriter) Write(b []byte) (int, error) {
	return len(b), nil
}

// acceptsHTML reports whether the client negotiated an HTML response. The
// analysis surface is JSON-first; only browser page flows get HTML error
// pages and flash redirects.
func acceptsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// DefaultInternalStack returns the standard middleware stack for an
// internal-only surface (e.g. the ihdrgen admin endpoint). Same as
// DefaultPublicStack but without maintenance mode or rate limiting, and with
// a fixed 64 KiB form-body cap.
func DefaultInternalStack() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxFormBody(64 * 1024),
		TraceID,
		Flash,
	}
}
