package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"envreport/internal/logger"
)

// Attempt records one provider call made by a Chain.
type Attempt struct {
	Provider string
	Model    string
	Duration time.Duration
	Err      error
}

// Response is the answer of the first provider that succeeded.
type Response struct {
	Provider string
	Model    string
	Text     string
	Attempts []Attempt
}

// ChainError is returned when every provider failed. It matches
// ErrAllProvidersFailed and unwraps to each provider's error.
type ChainError struct {
	Attempts []Attempt
}

func (e *ChainError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Err.Error())
	}
	return fmt.Sprintf("%s: %s", ErrAllProvidersFailed, strings.Join(parts, "; "))
}

func (e *ChainError) Is(target error) bool { return target == ErrAllProvidersFailed }

func (e *ChainError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// Chain tries providers in order until one answers.
type Chain struct {
	providers []Provider
	timeout   time.Duration
	log       zerolog.Logger
}

// NewChain returns a chain over providers. Nil providers are skipped.
func NewChain(providers ...Provider) *Chain {
	c := &Chain{log: logger.WithComponent("analysis")}
	for _, p := range providers {
		if p != nil {
			c.providers = append(c.providers, p)
		}
	}
	return c
}

// WithTimeout bounds each provider call. Zero means no bound beyond ctx.
func (c *Chain) WithTimeout(d time.Duration) *Chain {
	c.timeout = d
	return c
}

// Len returns the number of providers.
func (c *Chain) Len() int { return len(c.providers) }

// Names lists the providers in fallback order.
func (c *Chain) Names() []string {
	out := make([]string, len(c.providers))
	for i, p := range c.providers {
		out[i] = p.Name()
	}
	return out
}

// Close releases providers that hold a client connection.
func (c *Chain) Close() error {
	var errs []error
	for _, p := range c.providers {
		if cl, ok := p.(io.Closer); ok {
			errs = append(errs, cl.Close())
		}
	}
	return errors.Join(errs...)
}

// Analyze sends prompt to each provider in turn. There is no retry and no
// backoff: a failing provider hands over to the next one.
func (c *Chain) Analyze(ctx context.Context, prompt string) (*Response, error) {
	const op = "Chain.Analyze"

	if len(c.providers) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrNoProviders)
	}

	var attempts []Attempt
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if c.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		}
		start := time.Now()
		text, err := p.Analyze(callCtx, prompt)
		cancel()

		a := Attempt{Provider: p.Name(), Model: p.Model(), Duration: time.Since(start), Err: err}
		attempts = append(attempts, a)

		if err == nil {
			c.log.Info().
				Str("provider", a.Provider).
				Str("model", a.Model).
				Dur("duration", a.Duration).
				Int("response_chars", len(text)).
				Msg("Analysis completed")
			return &Response{Provider: a.Provider, Model: a.Model, Text: text, Attempts: attempts}, nil
		}

		var pe *ProviderError
		if !errors.As(err, &pe) {
			a.Err = &ProviderError{Provider: p.Name(), Err: err}
			attempts[len(attempts)-1] = a
		}
		c.log.Warn().
			Err(a.Err).
			Str("provider", a.Provider).
			Dur("duration", a.Duration).
			Msg("Analysis provider failed, trying next")
	}

	return nil, &ChainError{Attempts: attempts}
}
