package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"

	"github.com/hyperjump/diydoctor/internal/config"
	"github.com/hyperjump/diydoctor/pkg/utils"
)

// Resilient wraps a Client with a rate limiter, bounded retries with
// exponential backoff, and a circuit breaker around the whole retry loop.
type Resilient struct {
	inner      Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[any]
	attempts   int
	backoff    time.Duration
	maxBackoff time.Duration
	logger     *zap.Logger
}

// ResilientOption configures a Resilient client.
type ResilientOption func(*Resilient)

// WithLogger sets a logger for retry and breaker events.
func WithLogger(l *zap.Logger) ResilientOption {
	return func(r *Resilient) { r.logger = l }
}

// NewResilient wraps inner. A zero RequestsPerSecond disables rate limiting.
func NewResilient(inner Client, cfg config.ResilienceConfig, opts ...ResilientOption) *Resilient {
	r := &Resilient{
		inner:      inner,
		attempts:   max(cfg.RetryMaxAttempts, 1),
		backoff:    time.Duration(cfg.RetryInitialBackoffMs) * time.Millisecond,
		maxBackoff: time.Duration(cfg.RetryMaxBackoffMs) * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = utils.LoggerOrNop(r.logger)
	if cfg.RequestsPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.Burst, 1))
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	r.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        inner.Model(),
		MaxRequests: cfg.BreakerMaxRequests,
		Timeout:     time.Duration(cfg.BreakerOpenSeconds) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			// A rejected request says nothing about provider health.
			code, ok := providerStatus(err)
			return ok && !retryableStatus(code)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("circuit breaker state change",
				zap.String("model", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return r
}

func (r *Resilient) Model() string { return r.inner.Model() }

// Unwrap returns the wrapped client.
func (r *Resilient) Unwrap() Client { return r.inner }

// Generate calls the wrapped client.
func (r *Resilient) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	out, err := r.execute(ctx, "generate", func(ctx context.Context) (any, error) {
		return r.inner.Generate(ctx, prompt, maxTokens)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// EmbedTexts calls the wrapped client's embeddings endpoint, if it has one.
func (r *Resilient) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e, ok := r.inner.(Embedder)
	if !ok {
		return nil, fmt.Errorf("model %s does not provide embeddings", r.inner.Model())
	}
	out, err := r.execute(ctx, "embed", func(ctx context.Context) (any, error) {
		return e.EmbedTexts(ctx, texts)
	})
	if err != nil {
		return nil, err
	}
	return out.([][]float32), nil
}

func (r *Resilient) execute(ctx context.Context, op string, fn func(context.Context) (any, error)) (any, error) {
	return r.breaker.Execute(func() (any, error) {
		wait := r.backoff
		for attempt := 1; ; attempt++ {
			if r.limiter != nil {
				if err := r.limiter.Wait(ctx); err != nil {
					return nil, err
				}
			} else if err := ctx.Err(); err != nil {
				return nil, err
			}
			out, err := fn(ctx)
			if err == nil {
				return out, nil
			}
			if attempt >= r.attempts || !Retryable(err) {
				return nil, err
			}
			if r.maxBackoff > 0 && wait > r.maxBackoff {
				wait = r.maxBackoff
			}
			r.logger.Warn("retrying provider call",
				zap.String("model", r.inner.Model()),
				zap.String("operation", op),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait),
				zap.Error(err))
			if wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return nil, err
				case <-timer.C:
				}
			}
			wait *= 2
		}
	})
}

// Retryable reports whether err is worth another attempt: rate limits, server
// errors and transport failures are; client errors and cancellation are not.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	if code, ok := providerStatus(err); ok {
		return retryableStatus(code)
	}
	return true
}

// providerStatus extracts the HTTP status carried by a provider SDK error.
func providerStatus(err error) (int, bool) {
	var oaiAPI *openai.APIError
	if errors.As(err, &oaiAPI) {
		return oaiAPI.HTTPStatusCode, true
	}
	var oaiReq *openai.RequestError
	if errors.As(err, &oaiReq) {
		return oaiReq.HTTPStatusCode, true
	}
	var antAPI *anthropic.APIError
	if errors.As(err, &antAPI) {
		return anthropicStatus(antAPI.Type), true
	}
	var antReq *anthropic.RequestError
	if errors.As(err, &antReq) {
		return antReq.StatusCode, true
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code, true
	}
	return 0, false
}

// anthropicStatus maps an error body type to the status Anthropic documents for it.
func anthropicStatus(t anthropic.ErrType) int {
	switch t {
	case anthropic.ErrTypeRateLimit:
		return http.StatusTooManyRequests
	case anthropic.ErrTypeApi:
		return http.StatusInternalServerError
	case anthropic.ErrTypeOverloaded:
		return 529
	case anthropic.ErrTypeAuthentication:
		return http.StatusUnauthorized
	case anthropic.ErrTypePermission:
		return http.StatusForbidden
	case anthropic.ErrTypeNotFound:
		return http.StatusNotFound
	case anthropic.ErrTypeTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusBadRequest
	}
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// IsCircuitOpen reports whether err was returned because the breaker rejected the call.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
