package util

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type contextKey string

const ctxKeyLogger contextKey = "logger"

// LogLevelFromString parses level into a zerolog.Level, falling back to debug.
func LogLevelFromString(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(level)
	if err != nil {
		log.Error().Err(err).Str("level", level).Msg("Failed to parse log level, defaulting to debug")
		return zerolog.DebugLevel
	}

	return l
}

// LogFromContext returns the request-scoped logger previously attached via
// WithLogger, or the global logger if none is present.
func LogFromContext(ctx context.Context) *zerolog.Logger {
	l, ok := ctx.Value(ctxKeyLogger).(*zerolog.Logger)
	if !ok || l == nil {
		return &log.Logger
	}

	return l
}

// WithLogger attaches l as the request-scoped logger of ctx.
func WithLogger(ctx context.Context, l *zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKeyLogger, l)
}

// LogFromEchoContext returns the request-scoped logger of an echo request.
func LogFromEchoContext(c echo.Context) *zerolog.Logger {
	return LogFromContext(c.Request().Context())
}
