package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mnehpets/hello/endpoint"
)

func TestNewResponseHeadersProcessor_Defaults(t *testing.T) {
	p := NewResponseHeadersProcessor()
	if !p.ContentTypeOptions {
		t.Error("ContentTypeOptions should be true by default")
	}
	if p.ContentSecurityPolicy != "default-src 'none'; frame-ancestors 'none'" {
		t.Errorf("ContentSecurityPolicy: got %q", p.ContentSecurityPolicy)
	}
	if p.ReferrerPolicy != "no-referrer" {
		t.Errorf("ReferrerPolicy: got %q, want %q", p.ReferrerPolicy, "no-referrer")
	}
	if p.FrameOptions != "DENY" {
		t.Errorf("FrameOptions: got %q, want %q", p.FrameOptions, "DENY")
	}
	if p.CacheControl != "no-store" {
		t.Errorf("CacheControl: got %q, want %q", p.CacheControl, "no-store")
	}
}

func TestResponseHeadersProcessor_SetsHeaders(t *testing.T) {
	p := NewResponseHeadersProcessor()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", nil)

	nextCalled := false
	err := p.Process(w, r, func(w http.ResponseWriter, r *http.Request) error {
		nextCalled = true
		return nil
	})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if !nextCalled {
		t.Fatal("next was not called")
	}

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"Referrer-Policy":         "no-referrer",
		"X-Frame-Options":         "DENY",
		"Cache-Control":           "no-store",
	}
	for k, v := range want {
		if got := w.Header().Get(k); got != v {
			t.Errorf("%s: got %q, want %q", k, got, v)
		}
	}
}

func TestResponseHeadersProcessor_Options(t *testing.T) {
	p := NewResponseHeadersProcessor(
		WithCSP(""),
		WithCacheControl("max-age=60"),
		WithContentTypeOptions(false),
	)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	_ = p.Process(w, r, func(http.ResponseWriter, *http.Request) error { return nil })

	if got := w.Header().Get("Content-Security-Policy"); got != "" {
		t.Errorf("CSP should be disabled, got %q", got)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "" {
		t.Errorf("nosniff should be disabled, got %q", got)
	}
	if got := w.Header().Get("Cache-Control"); got != "max-age=60" {
		t.Errorf("Cache-Control: got %q, want %q", got, "max-age=60")
	}
}

func TestResponseHeadersProcessor_PresentOnErrorResponses(t *testing.T) {
	h := endpoint.Handler(func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (endpoint.Renderer, error) {
		return nil, endpoint.Error(http.StatusBadRequest, "bad", nil)
	}, NewResponseHeadersProcessor())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options: got %q, want %q", got, "nosniff")
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control: got %q, want %q", got, "no-store")
	}
}
