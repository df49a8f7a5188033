package enhancer

import (
	"context"
	"log/slog"
	"time"

	"github.com/chriskillpack/promptenhance/internal/logging"
)

// DefaultBatchDelay separates successive calls of a sequential batch so the
// remote service isn't hit in a burst.
const DefaultBatchDelay = 100 * time.Millisecond

// BatchOptions tunes Batch.
type BatchOptions struct {
	Delay    time.Duration
	Logger   *slog.Logger
	Progress func(index int, fallback bool) // called after each item, may be nil
	Sleep    func(ctx context.Context, d time.Duration)
}

// EnhanceFunc enhances a single prompt.
type EnhanceFunc func(ctx context.Context, prompt string) (string, error)

// Batch enhances prompts one after another with enhance. A failed item is
// logged and replaced by its original prompt, so the result always has the
// same length as prompts.
func Batch(ctx context.Context, enhance EnhanceFunc, prompts []string, opts BatchOptions) []string {
	logger := logging.OrNop(opts.Logger)
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	results := make([]string, len(prompts))
	for i, prompt := range prompts {
		logger.Info("enhancing prompt", slog.Int("item", i+1), slog.Int("total", len(prompts)))

		enhanced, err := enhance(ctx, prompt)
		fallback := err != nil
		if fallback {
			logger.Error("failed to enhance prompt, using original",
				slog.Int("item", i+1),
				slog.String("error", err.Error()),
			)
			enhanced = prompt
		}
		results[i] = enhanced
		if opts.Progress != nil {
			opts.Progress(i, fallback)
		}

		if i < len(prompts)-1 && opts.Delay > 0 {
			sleep(ctx, opts.Delay)
		}
	}
	return results
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
