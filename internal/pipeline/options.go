package pipeline

import (
	"go.uber.org/zap"

	"github.com/hyperjump/diydoctor/internal/metrics"
	"github.com/hyperjump/diydoctor/internal/search"
	"github.com/hyperjump/diydoctor/pkg/utils"
)

type settings struct {
	logger    *zap.Logger
	metrics   *metrics.Metrics
	expansion search.Generator
}

// Option configures the pipeline components of this package.
type Option func(*settings)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithMetrics records stage timings, verdicts and session sizes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithExpansionGenerator sets the model used to paraphrase queries when
// retrieval.num_queries is above 1.
func WithExpansionGenerator(g search.Generator) Option {
	return func(s *settings) { s.expansion = g }
}

func newSettings(opts []Option) settings {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	s.logger = utils.LoggerOrNop(s.logger)
	return s
}
