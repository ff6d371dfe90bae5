package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"

	"github.com/MikeSquared-Agency/arbiter/internal/llm"
)

const (
	DefaultMaxTokens = 1024
	DefaultTimeout   = 90 * time.Second

	maxLoggedRaw = 2000
)

// Generator is a text-generation service: prompt in, text out.
// Output is not repeatable across calls.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// RetryPolicy bounds retries of transport failures. Parse, shape, timeout
// and configuration errors are never retried.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      3,
	InitialInterval: time.Second,
	MaxInterval:     10 * time.Second,
}

type Evaluator struct {
	gen       Generator
	validator *Validator
	logger    *slog.Logger
	maxTokens int
	timeout   time.Duration
	retry     RetryPolicy
}

type Option func(*Evaluator)

func WithMaxTokens(n int) Option {
	return func(e *Evaluator) { e.maxTokens = n }
}

// WithTimeout bounds each call to the generation service.
func WithTimeout(d time.Duration) Option {
	return func(e *Evaluator) { e.timeout = d }
}

func WithRetry(p RetryPolicy) Option {
	return func(e *Evaluator) { e.retry = p }
}

func WithValidator(v *Validator) Option {
	return func(e *Evaluator) { e.validator = v }
}

func New(gen Generator, logger *slog.Logger, opts ...Option) *Evaluator {
	e := &Evaluator{
		gen:       gen,
		validator: NewValidator(),
		logger:    logger,
		maxTokens: DefaultMaxTokens,
		timeout:   DefaultTimeout,
		retry:     DefaultRetryPolicy,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate scores one session. Every call goes to the model; results are
// never cached and may differ for identical input.
func (e *Evaluator) Evaluate(ctx context.Context, m SessionMetrics) (*SessionEvaluation, error) {
	prompt := BuildPrompt(m)

	e.logger.Info("evaluating session",
		"transcript_len", len(m.Transcript),
		"quality_hint", m.QualityScoreHint,
	)

	raw, err := e.request(ctx, prompt)
	if err != nil {
		return nil, err
	}

	span, err := ExtractJSON(raw)
	if err != nil {
		e.logger.Error("no JSON in evaluation response", "raw", truncate(raw))
		return nil, err
	}

	ev, err := e.validator.Validate(span)
	if err != nil {
		e.logger.Error("failed to validate evaluation response",
			"error_kind", Kind(err),
			"raw", truncate(span),
		)
		return nil, err
	}

	e.logger.Info("evaluation complete",
		"quality_rating", ev.QualityRating,
		"mentor_pct", ev.PaymentDistribution.Mentor,
		"mentee_pct", ev.PaymentDistribution.Mentee,
	)
	return ev, nil
}

func (e *Evaluator) request(ctx context.Context, prompt string) (string, error) {
	attempt := 0
	op := func() (string, error) {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		out, err := e.gen.Generate(callCtx, prompt, e.maxTokens)
		if err == nil {
			return out, nil
		}
		return "", e.classify(ctx, callCtx, err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.retry.InitialInterval
	bo.MaxInterval = e.retry.MaxInterval
	bo.MaxElapsedTime = 0

	var b backoff.BackOff = bo
	if e.retry.MaxRetries >= 0 {
		b = backoff.WithMaxRetries(bo, uint64(e.retry.MaxRetries))
	}

	notify := func(err error, wait time.Duration) {
		e.logger.Warn("generation request failed, retrying",
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	}

	out, err := backoff.RetryNotifyWithData(op, backoff.WithContext(b, ctx), notify)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// Cancelled while waiting between attempts; classify never saw it.
		var transport *TransportError
		if !errors.As(err, &transport) {
			return "", &TransportError{Err: err}
		}
	}
	return out, err
}

// classify maps a Generate error onto the evaluation error taxonomy and marks
// everything except retryable transport failures as permanent.
func (e *Evaluator) classify(parent, call context.Context, err error) error {
	switch {
	case errors.Is(err, llm.ErrMissingCredential):
		return backoff.Permanent(fmt.Errorf("%w: %v", ErrNotConfigured, err))
	case parent.Err() != nil:
		return backoff.Permanent(&TransportError{Err: parent.Err()})
	case errors.Is(call.Err(), context.DeadlineExceeded):
		return backoff.Permanent(&TimeoutError{After: e.timeout, Err: err})
	}

	var statusErr *llm.StatusError
	if errors.As(err, &statusErr) && !statusErr.Retryable() {
		return backoff.Permanent(&TransportError{Err: err})
	}
	return &TransportError{Err: err}
}

func truncate(s string) string {
	if len(s) <= maxLoggedRaw {
		return s
	}
	cut := maxLoggedRaw
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...(truncated)"
}
