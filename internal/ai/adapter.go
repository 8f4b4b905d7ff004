package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/codecollab/internal/domain"
)

// DefaultTimeout bounds a single invocation when none is configured.
const DefaultTimeout = 60 * time.Second

var (
	// ErrUpstreamFailure means the generator failed or did not answer in time.
	ErrUpstreamFailure = errors.New("ai upstream failure")
	// ErrMalformedResponse means the generator answered with something that
	// is not a valid envelope.
	ErrMalformedResponse = errors.New("ai response malformed")
	// ErrEmptyPrompt means nothing was left after removing the trigger.
	ErrEmptyPrompt = errors.New("ai prompt is empty")
)

// Generator produces raw model text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Adapter invokes a Generator under a deadline and parses its reply.
type Adapter struct {
	gen     Generator
	timeout time.Duration
	logger  *slog.Logger
}

// NewAdapter creates an adapter. A non-positive timeout selects DefaultTimeout.
func NewAdapter(gen Generator, timeout time.Duration, logger *slog.Logger) *Adapter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{gen: gen, timeout: timeout, logger: logger}
}

type generation struct {
	text string
	err  error
}

// Invoke sends prompt upstream and returns the parsed envelope. The upstream
// call runs on its own goroutine so a generator that ignores ctx still cannot
// hold the caller past the deadline.
func (a *Adapter) Invoke(ctx context.Context, prompt string) (domain.Envelope, error) {
	if prompt == "" {
		return domain.Envelope{}, ErrEmptyPrompt
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	done := make(chan generation, 1)
	start := time.Now()
	go func() {
		text, err := a.gen.Generate(ctx, prompt)
		done <- generation{text: text, err: err}
	}()

	var res generation
	select {
	case res = <-done:
	case <-ctx.Done():
		a.logger.Warn("ai invocation timed out", "timeout", a.timeout, "error", ctx.Err())
		return domain.Envelope{}, fmt.Errorf("%w: %w", ErrUpstreamFailure, ctx.Err())
	}

	if res.err != nil {
		a.logger.Warn("ai invocation failed", "duration", time.Since(start), "error", res.err)
		return domain.Envelope{}, fmt.Errorf("%w: %w", ErrUpstreamFailure, res.err)
	}

	env, err := ParseEnvelope(res.text)
	if err != nil {
		a.logger.Warn("ai reply rejected", "duration", time.Since(start), "error", err)
		return domain.Envelope{}, err
	}
	a.logger.Debug("ai invocation complete", "duration", time.Since(start), "files", len(env.FileTree))
	return env, nil
}

// FailureText is the user-facing text of an AI failure notice.
func FailureText(err error) string {
	switch {
	case errors.Is(err, ErrEmptyPrompt):
		return "Ask the assistant something after @ai."
	case errors.Is(err, ErrMalformedResponse):
		return "The assistant returned a response that could not be understood. Please try again."
	case errors.Is(err, context.DeadlineExceeded):
		return "The assistant took too long to respond. Please try again."
	default:
		return "The assistant is unavailable right now. Please try again later."
	}
}

// FailureEnvelope builds the notice broadcast in place of a result.
func FailureEnvelope(err error) domain.Envelope {
	return domain.Envelope{Text: FailureText(err), Error: true}
}
