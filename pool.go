package promptenhance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/chriskillpack/promptenhance/enhancer"
	"github.com/chriskillpack/promptenhance/internal/logging"
)

// Factory builds one pool client.
type Factory func() (enhancer.Enhancer, error)

// Pool fans prompts out over a fixed set of independent clients.
type Pool struct {
	Logger *slog.Logger

	// Progress, when set, is called once per finished prompt. It may be called
	// from several goroutines at once.
	Progress func(index int, fallback bool)

	clients []enhancer.Enhancer

	closeOnce sync.Once
	closeErr  error
}

// NewPool creates size clients with factory. If any client fails to build,
// the ones already built are closed.
func NewPool(size int, factory Factory) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be positive, got %d", size)
	}
	p := &Pool{Logger: logging.NewNop()}
	for i := range size {
		c, err := factory()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("creating pool client %d: %w", i, err)
		}
		p.clients = append(p.clients, c)
	}
	return p, nil
}

// Size returns the number of clients.
func (p *Pool) Size() int { return len(p.clients) }

// Client returns the client serving index i.
func (p *Pool) Client(i int) enhancer.Enhancer {
	return p.clients[i%len(p.clients)]
}

// EnhanceConcurrent enhances every prompt at once, prompt i going to client
// i mod Size. The result keeps the order of prompts and holds the original
// prompt wherever enhancement failed.
func (p *Pool) EnhanceConcurrent(ctx context.Context, prompts []string) []string {
	results := make([]string, len(prompts))
	if len(prompts) == 0 {
		return results
	}
	logger := logging.OrNop(p.Logger)

	// Tasks never return an error so one failure doesn't stop its siblings.
	var g errgroup.Group
	for i, prompt := range prompts {
		client := p.Client(i)
		g.Go(func() error {
			enhanced, err := client.Enhance(ctx, prompt)
			fallback := err != nil
			if fallback {
				logger.Error("failed to enhance prompt, using original",
					slog.Int("item", i),
					slog.String("error", err.Error()),
				)
				enhanced = prompt
			}
			results[i] = enhanced
			if p.Progress != nil {
				p.Progress(i, fallback)
			}
			return nil
		})
	}
	g.Wait()
	return results
}

// TestConnection reports whether the first client can reach its server. All
// clients share one configuration.
func (p *Pool) TestConnection(ctx context.Context) bool {
	return p.clients[0].TestConnection(ctx)
}

// Close closes every client, even when some fail. Later calls return the
// first result.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		var errs []error
		for i, c := range p.clients {
			if err := c.Close(); err != nil {
				logging.OrNop(p.Logger).Error("error closing pool client",
					slog.Int("client", i),
					slog.String("error", err.Error()),
				)
				errs = append(errs, err)
			}
		}
		p.closeErr = errors.Join(errs...)
	})
	return p.closeErr
}
