package shield

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSecurityHeaders_CachePolicyByPath(t *testing.T) {
	handler := SecurityHeaders(DefaultHeaders())(okHandler())

	cases := []struct {
		path string
		want string
	}{
		{"/image/0123abcd/decomposer_bit0.png", "public, max-age=31536000, immutable"},
		{"/download/0123abcd/binwalk", "public, max-age=31536000, immutable"},
		{"/status/0123abcd", "no-store"},
		{"/result/0123abcd", "no-store"},
		{"/infos/0123abcd", "no-store"},
		{"/upload", ""},
	}
	for _, c := range cases {
		req := httptest.NewRequest("GET", c.path, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if got := w.Header().Get("Cache-Control"); got != c.want {
			t.Errorf("path %q: Cache-Control = %q, want %q", c.path, got, c.want)
		}
		if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
			t.Errorf("path %q: X-Content-Type-Options = %q", c.path, got)
		}
	}
}

func TestHeadToGet_DiscardsBody(t *testing.T) {
	handler := HeadToGet(okHandler())

	req := httptest.NewRequest("HEAD", "/download/0123abcd/binwalk", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Fatalf("HEAD response carried %d body bytes", w.Body.Len())
	}
}

func TestHeadToGet_PassesGETThrough(t *testing.T) {
	handler := HeadToGet(okHandler())

	req := httptest.NewRequest("GET", "/status/abc", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Body.String() != "OK" {
		t.Fatalf("GET body = %q, want OK", w.Body.String())
	}
}
