// Package endpoint provides a type-safe abstraction for building HTTP handlers.
//
// A request passes through three phases:
//
//  1. Unmarshal: the EndpointHandler decodes the request body (JSON or CBOR)
//     into a typed parameters struct and validates it.
//  2. Endpoint: the EndpointFunc receives the decoded parameters and the
//     request, runs business logic, and returns a Renderer. It does not write
//     to the response directly.
//  3. Render: the returned Renderer writes the status code, headers, and body.
//
// Processors can be chained as middleware to intercept requests before they
// reach the EndpointFunc.
package endpoint

import (
	"errors"
	"io"
	"net/http"
)

// EndpointError is a client-visible error that maps directly to an HTTP status code.
//
// The handler wrapper uses this to translate returned Go errors into HTTP
// responses.
type EndpointError struct {
	Status int
	// Message is a short, human-readable description suitable for an HTTP error body.
	Message string
	Cause   error
}

func (e *EndpointError) Error() string {
	if e == nil {
		return "endpoint: error: <nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *EndpointError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Error creates a new EndpointError.
func Error(status int, message string, err error) error {
	return newEndpointError(status, message, err)
}

func newEndpointError(status int, message string, err error) error {
	// Avoid double-wrapping.
	var ee *EndpointError
	if errors.As(err, &ee) {
		return err
	}
	return &EndpointError{Status: status, Message: message, Cause: err}
}

// StatusOf reports the HTTP status an error would be rendered with.
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var ee *EndpointError
	if errors.As(err, &ee) && ee != nil && ee.Status >= 100 {
		return ee.Status
	}
	return http.StatusInternalServerError
}

// Renderers are values that write a response into an http.ResponseWriter.
//
// Protocol:
//   - Renderers MUST call w.WriteHeader() to write the HTTP response status
//     and headers, then w.Write() for the body, if any.
//   - Renderers may optionally write the Content-Type header before
//     calling w.WriteHeader().
//
// If Render returns a non-nil error, it indicates a failure to write the
// response. Headers may already be on the wire at that point.
type Renderer interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// RendererFunc adapts a function to a Renderer.
type RendererFunc func(w http.ResponseWriter, r *http.Request) error

func (f RendererFunc) Render(w http.ResponseWriter, r *http.Request) error {
	return f(w, r)
}

// Processor is middleware-style logic that runs before the Renderer.
//
// Protocol:
//   - Processors MUST call next(...), unless they intend to
//     short-circuit the request by returning an error.
//   - Processors MAY pass a wrapped http.ResponseWriter to next.
//   - Processors MUST NOT call w.WriteHeader(...).
//   - Processors MUST NOT write to the response body.
//
// If any processor returns a non-nil error, the chain stops immediately
// and that error is rendered by the EndpointHandler.
type Processor interface {
	Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error
}

// ProcessorFunc adapts a function to a Processor.
type ProcessorFunc func(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error

func (f ProcessorFunc) Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
	return f(w, r, next)
}

// EndpointFunc is the wrapped handler function type.
//
// It receives the response writer, the incoming request, and a typed params
// value decoded from the request body, and returns a Renderer responsible
// for writing the response, or an error.
type EndpointFunc[P any] func(w http.ResponseWriter, r *http.Request, params P) (Renderer, error)

// EndpointHandler is the standard http.Handler wrapper for an EndpointFunc.
//
// It runs zero or more processors. It then calls Endpoint with decoded
// params and invokes the returned Renderer to write the response.
//
// Processors run outermost-first, so a processor that wraps the
// ResponseWriter observes everything written by later processors and by the
// error path.
type EndpointHandler[P any] struct {
	Endpoint   EndpointFunc[P]
	Processors []Processor
	// Decoder decodes params. If nil, the package default is used.
	Decoder *Decoder
}

// Handler constructs an EndpointHandler.
//
// This helper exists to enable type inference for the params type P.
func Handler[P any](fn EndpointFunc[P], processors ...Processor) *EndpointHandler[P] {
	return &EndpointHandler[P]{
		Endpoint:   fn,
		Processors: processors,
	}
}

// HandleFunc adapts an EndpointFunc into an http.HandlerFunc.
func HandleFunc[P any](fn EndpointFunc[P], processors ...Processor) http.HandlerFunc {
	return Handler(fn, processors...).ServeHTTP
}

// ServeHTTP implements http.Handler.
func (h *EndpointHandler[P]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Endpoint == nil {
		http.Error(w, "endpoint: nil EndpointFunc", http.StatusInternalServerError)
		return
	}
	dec := h.Decoder
	if dec == nil {
		dec = defaultDecoder
	}

	var run func(i int, w2 http.ResponseWriter, r2 *http.Request) error
	run = func(i int, w2 http.ResponseWriter, r2 *http.Request) error {
		if i < len(h.Processors) {
			if h.Processors[i] == nil {
				return errors.New("endpoint: nil processor")
			}
			return h.Processors[i].Process(w2, r2, func(w3 http.ResponseWriter, r3 *http.Request) error {
				// Errors are rendered here so that processors earlier in the
				// chain see the final status on the writer they passed down.
				if err := run(i+1, w3, r3); err != nil {
					writeError(w3, err)
				}
				return nil
			})
		}

		var params P
		if err := dec.Unmarshal(r2, &params); err != nil {
			return err
		}
		renderer, err := h.Endpoint(w2, r2, params)
		if err != nil {
			return err
		}
		if renderer == nil {
			return errors.New("endpoint: nil renderer")
		}
		if c, ok := renderer.(io.Closer); ok {
			defer c.Close()
		}
		return renderer.Render(w2, r2)
	}

	if err := run(0, w, r); err != nil {
		writeError(w, err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusOf(err)
	message := err.Error()
	var ee *EndpointError
	if errors.As(err, &ee) && ee != nil {
		message = ee.Message
		if message == "" {
			message = http.StatusText(status)
		}
	}
	http.Error(w, message, status)
}
