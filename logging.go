package nest

import (
	"context"
	"log/slog"
	"time"
)

// WithLogger configures a structured logger for the client. When set, the
// request pipeline logs every API call and the session logs its transitions.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
//	client, _ := nest.NewPasswordClient(user, pass, nest.WithLogger(logger))
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// logResponse logs one completed (or failed) API call.
func (c *Client) logResponse(ctx context.Context, method, url string, statusCode int, duration time.Duration, err error) {
	if c.logger == nil {
		return
	}

	if err != nil {
		c.logger.LogAttrs(ctx, slog.LevelError, "api_error",
			slog.String("method", method),
			slog.String("url", url),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		return
	}

	level := slog.LevelDebug
	if statusCode >= 400 {
		level = slog.LevelWarn
	}
	if statusCode >= 500 {
		level = slog.LevelError
	}
	c.logger.LogAttrs(ctx, level, "api_response",
		slog.String("method", method),
		slog.String("url", url),
		slog.Int("status", statusCode),
		slog.Duration("duration", duration),
	)
}
