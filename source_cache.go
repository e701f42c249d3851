package flowgraph

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// SourceProvider returns the text content of an external reference source.
type SourceProvider interface {
	LoadSource(ctx context.Context, sourceID string) (string, error)
}

// SourceProviderFunc adapts a function to SourceProvider.
type SourceProviderFunc func(ctx context.Context, sourceID string) (string, error)

func (f SourceProviderFunc) LoadSource(ctx context.Context, sourceID string) (string, error) {
	return f(ctx, sourceID)
}

// SourceCache memoizes source content for a single execution. A source is
// loaded at most once no matter how many nodes reference it.
type SourceCache struct {
	provider    SourceProvider
	concurrency int
	mutex       sync.Mutex
	content     map[string]string
}

// NewSourceCache returns an empty cache backed by provider.
func NewSourceCache(provider SourceProvider) *SourceCache {
	return &SourceCache{provider: provider, concurrency: 4, content: map[string]string{}}
}

// Get returns the content of the given sources in request order, loading the
// ones not yet cached concurrently.
func (c *SourceCache) Get(ctx context.Context, ids []string) ([]string, error) {
	if c == nil || c.provider == nil {
		if len(ids) == 0 {
			return nil, nil
		}
		return nil, Errorf(CodeSourceNotFound, "no source provider configured")
	}

	c.mutex.Lock()
	var missing []string
	seen := map[string]bool{}
	for _, id := range ids {
		if _, ok := c.content[id]; !ok && !seen[id] {
			seen[id] = true
			missing = append(missing, id)
		}
	}
	c.mutex.Unlock()

	if len(missing) > 0 {
		loaded := make([]string, len(missing))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.concurrency)
		for i, id := range missing {
			g.Go(func() error {
				text, err := c.provider.LoadSource(gctx, id)
				if err != nil {
					return fmt.Errorf("load source %q: %w", id, err)
				}
				loaded[i] = text
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		c.mutex.Lock()
		for i, id := range missing {
			c.content[id] = loaded[i]
		}
		c.mutex.Unlock()
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	result := make([]string, len(ids))
	for i, id := range ids {
		result[i] = c.content[id]
	}
	return result, nil
}

// Len returns the number of cached sources.
func (c *SourceCache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.content)
}
