package link

import (
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/Steven-Chan/chat/internal/metrics"
)

var tracer = otel.Tracer("chatlink/link")

// Option configures a Linker or Backfill.
type Option func(*settings)

type settings struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// WithLogger sets the structured logger. Defaults to discarding output.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records link activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

func newSettings(opts []Option) settings {
	s := settings{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}
