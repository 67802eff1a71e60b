package middleware

import (
	"net/http"

	"github.com/mnehpets/hello/endpoint"
)

// ResponseHeadersProcessor sets fixed hardening headers on every response,
// including error responses.
//
// Defaults from NewResponseHeadersProcessor suit a plain-text API whose body
// echoes client input:
//   - X-Content-Type-Options: nosniff
//   - Content-Security-Policy: default-src 'none'; frame-ancestors 'none'
//   - Referrer-Policy: no-referrer
//   - X-Frame-Options: DENY
//   - Cache-Control: no-store
//
// An empty value (or false) disables the corresponding header.
type ResponseHeadersProcessor struct {
	ContentTypeOptions    bool
	ContentSecurityPolicy string
	ReferrerPolicy        string
	FrameOptions          string
	CacheControl          string
}

// ResponseHeadersOption is a functional option for configuring ResponseHeadersProcessor.
type ResponseHeadersOption func(*ResponseHeadersProcessor)

// NewResponseHeadersProcessor creates a ResponseHeadersProcessor with API defaults.
func NewResponseHeadersProcessor(opts ...ResponseHeadersOption) *ResponseHeadersProcessor {
	p := &ResponseHeadersProcessor{
		ContentTypeOptions:    true,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:        "no-referrer",
		FrameOptions:          "DENY",
		CacheControl:          "no-store",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithCSP sets the Content-Security-Policy header.
func WithCSP(policy string) ResponseHeadersOption {
	return func(p *ResponseHeadersProcessor) {
		p.ContentSecurityPolicy = policy
	}
}

// WithCacheControl sets the Cache-Control header.
func WithCacheControl(value string) ResponseHeadersOption {
	return func(p *ResponseHeadersProcessor) {
		p.CacheControl = value
	}
}

// WithContentTypeOptions enables or disables X-Content-Type-Options: nosniff.
func WithContentTypeOptions(enabled bool) ResponseHeadersOption {
	return func(p *ResponseHeadersProcessor) {
		p.ContentTypeOptions = enabled
	}
}

// Process implements endpoint.Processor.
func (p *ResponseHeadersProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	h := w.Header()
	if p.ContentTypeOptions {
		h.Set("X-Content-Type-Options", "nosniff")
	}
	if p.ContentSecurityPolicy != "" {
		h.Set("Content-Security-Policy", p.ContentSecurityPolicy)
	}
	if p.ReferrerPolicy != "" {
		h.Set("Referrer-Policy", p.ReferrerPolicy)
	}
	if p.FrameOptions != "" {
		h.Set("X-Frame-Options", p.FrameOptions)
	}
	if p.CacheControl != "" {
		h.Set("Cache-Control", p.CacheControl)
	}
	return next(w, r)
}

var _ endpoint.Processor = (*ResponseHeadersProcessor)(nil)
