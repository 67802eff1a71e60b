// Package greeter implements the single POST / route: it reads a username
// from the request body and answers with a plain-text greeting.
package greeter

import (
	"net/http"

	"github.com/mnehpets/hello/endpoint"
)

// Pattern is the only route served: POST on exactly "/".
const Pattern = "POST /{$}"

// GreetRequest is the request body. The username must be present; an empty
// string is a valid value.
type GreetRequest struct {
	Username *string `json:"username" cbor:"username" validate:"required"`
}

// Greet renders "Hello <username>" with the username exactly as received.
func Greet(_ http.ResponseWriter, _ *http.Request, req GreetRequest) (endpoint.Renderer, error) {
	return &endpoint.PlainRenderer{
		StringRenderer: endpoint.StringRenderer{Body: Greeting(*req.Username)},
	}, nil
}

// Greeting returns the response body for username.
func Greeting(username string) string {
	return "Hello " + username
}

// Routes registers the greeting endpoint on mux. The decoder may be nil to
// use the endpoint package default.
func Routes(mux *http.ServeMux, dec *endpoint.Decoder, processors ...endpoint.Processor) {
	h := endpoint.Handler(Greet, processors...)
	h.Decoder = dec
	mux.Handle(Pattern, h)
}
