package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mnehpets/hello/endpoint"
)

// RequestLogger returns a processor that logs one line per request once the
// response has been written. Server errors log at Error, client errors at
// Warn, everything else at Info.
func RequestLogger(logger *zap.Logger) endpoint.Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return endpoint.ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
		start := time.Now()
		sw := newStatusWriter(w)

		err := next(sw, r)

		// Errors from further down the chain are already rendered onto sw.
		status := sw.Status()
		level := zapcore.InfoLevel
		switch {
		case status >= 500:
			level = zapcore.ErrorLevel
		case status >= 400:
			level = zapcore.WarnLevel
		}
		if ce := logger.Check(level, "HTTP request"); ce != nil {
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", sw.bytes),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("user_agent", r.UserAgent()),
			}
			ce.Write(fields...)
		}
		return err
	})
}
