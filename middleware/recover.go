package middleware

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/mnehpets/hello/endpoint"
)

// Recover converts a panic further down the chain into a 500 response.
// http.ErrAbortHandler is re-raised so net/http can drop the connection.
func Recover(logger *zap.Logger) endpoint.Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return endpoint.ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) (err error) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.Error("handler panic",
				zap.Any("panic", rec),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Stack("stack"),
			)
			err = endpoint.Error(http.StatusInternalServerError, "", fmt.Errorf("panic: %v", rec))
		}()
		return next(w, r)
	})
}
