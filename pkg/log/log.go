package log

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/rs/zerolog"
	slogzerolog "github.com/samber/slog-zerolog/v2"
)

// New builds a console logger, or a JSON logger on stderr when running in
// Kubernetes.
func New() *zerolog.Logger {
	var output io.Writer
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		output = os.Stderr
	} else {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02T15:04:05.999Z07:00"}
	}
	return newLogger(output)
}

func newLogger(output io.Writer) *zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	logger := zerolog.New(output).With().Timestamp().Logger()
	return &logger
}

// NewSlog wraps New for the slog.Logger taken by clickstream.WithLog.
func NewSlog(level slog.Level) *slog.Logger {
	return toSlog(New(), level)
}

func toSlog(logger *zerolog.Logger, level slog.Level) *slog.Logger {
	return slog.New(slogzerolog.Option{Level: level, Logger: logger}.NewZerologHandler())
}
