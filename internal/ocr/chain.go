package ocr

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"envreport/internal/logger"
)

// Chain tries engines in order and returns the first non-empty result.
type Chain struct {
	engines []Engine
	log     zerolog.Logger
}

// NewChain returns a chain over engines. Nil engines are skipped.
func NewChain(engines ...Engine) *Chain {
	c := &Chain{log: logger.WithComponent("ocr")}
	for _, e := range engines {
		if e != nil {
			c.engines = append(c.engines, e)
		}
	}
	return c
}

// Name lists the chained engines, e.g. "tesseract+vision".
func (c *Chain) Name() string {
	names := make([]string, len(c.engines))
	for i, e := range c.engines {
		names[i] = e.Name()
	}
	return strings.Join(names, "+")
}

// Len returns the number of engines.
func (c *Chain) Len() int { return len(c.engines) }

// Recognize returns the first engine result with visible text. When every
// engine fails or comes back empty, the error wraps ErrOCRFailed if any engine
// failed and ErrNoText otherwise.
func (c *Chain) Recognize(ctx context.Context, image []byte) (Result, error) {
	const op = "Chain.Recognize"

	if len(c.engines) == 0 {
		return Result{}, WrapOCRError(op, "", ErrNoEngine, "")
	}

	var errs []error
	for _, engine := range c.engines {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		res, err := engine.Recognize(ctx, image)
		if err != nil {
			c.log.Warn().Err(err).Str("engine", engine.Name()).Msg("OCR engine failed, trying next")
			errs = append(errs, err)
			continue
		}
		if res.Empty() {
			c.log.Debug().Str("engine", engine.Name()).Msg("OCR engine returned no text")
			continue
		}
		if res.Engine == "" {
			res.Engine = engine.Name()
		}
		return res, nil
	}

	if len(errs) > 0 {
		return Result{}, WrapOCRError(op, "", errors.Join(append([]error{ErrOCRFailed}, errs...)...), "all engines failed")
	}
	return Result{}, WrapOCRError(op, "", ErrNoText, "")
}
