package extractor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// loadTimeout bounds one shared load. It runs detached from the caller that
// started it, so a cancelled flow does not fail the others waiting on it.
const loadTimeout = 5 * time.Minute

// Cache loads a model once per process and hands the same instance to every
// caller. A failed load is not remembered, so the next call retries.
type Cache struct {
	sources []Source
	logger  *zap.Logger

	group singleflight.Group
	mu    sync.RWMutex
	model Model
}

// NewCache returns a lazily initialised model cache over the ordered sources.
func NewCache(sources []Source, logger *zap.Logger) *Cache {
	return &Cache{sources: sources, logger: logger.Named("model_cache")}
}

// Load returns the shared model, loading it on first use.
func (c *Cache) Load(ctx context.Context) (Extractor, error) {
	c.mu.RLock()
	model := c.model
	c.mu.RUnlock()
	if model != nil {
		return model, nil
	}

	ch := c.group.DoChan("model", func() (interface{}, error) {
		c.mu.RLock()
		existing := c.model
		c.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		loaded, name, err := LoadFirst(loadCtx, c.sources)
		if err != nil {
			c.logger.Warn("model load failed", zap.Error(err))
			return nil, err
		}
		c.logger.Info("model loaded", zap.String("source", name))

		c.mu.Lock()
		c.model = loaded
		c.mu.Unlock()
		return loaded, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Model), nil
	}
}

// Close releases the cached model, if any.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.model == nil {
		return nil
	}
	err := c.model.Close()
	c.model = nil
	return err
}
