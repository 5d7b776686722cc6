package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"time"

	"github.com/rs/zerolog"

	"envreport/internal/logger"
)

// Cache stores provider responses. store.Store implements it.
type Cache interface {
	GetResponse(ctx context.Context, key string) (string, bool, error)
	PutResponse(ctx context.Context, key, provider, model, response string, ttl time.Duration) error
}

// CacheKey identifies a response by provider, model and prompt.
func CacheKey(provider, model, prompt string) string {
	h := sha256.New()
	h.Write([]byte(provider))
	h.Write([]byte{0})
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	return hex.EncodeToString(h.Sum(nil))
}

type cached struct {
	Provider
	cache Cache
	ttl   time.Duration
	log   zerolog.Logger
}

// Cached answers repeated prompts from cache. Cache failures are logged and
// fall through to the provider.
func Cached(p Provider, c Cache, ttl time.Duration) Provider {
	if c == nil {
		return p
	}
	return &cached{Provider: p, cache: c, ttl: ttl, log: logger.WithComponent("analysis-cache")}
}

func (c *cached) Analyze(ctx context.Context, prompt string) (string, error) {
	key := CacheKey(c.Name(), c.Model(), prompt)

	if text, ok, err := c.cache.GetResponse(ctx, key); err != nil {
		c.log.Warn().Err(err).Str("provider", c.Name()).Msg("Cache lookup failed")
	} else if ok {
		c.log.Debug().Str("provider", c.Name()).Msg("Using cached response")
		return text, nil
	}

	text, err := c.Provider.Analyze(ctx, prompt)
	if err != nil {
		return "", err
	}
	if err := c.cache.PutResponse(ctx, key, c.Name(), c.Model(), text, c.ttl); err != nil {
		c.log.Warn().Err(err).Str("provider", c.Name()).Msg("Cache write failed")
	}
	return text, nil
}

func (c *cached) Close() error {
	if cl, ok := c.Provider.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}
