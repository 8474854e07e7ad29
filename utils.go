package rowbatch

import (
	"context"
	"log/slog"
	"time"
)

// retryable executes a function with exponential backoff retry logic. Only
// errors accepted by shouldRetry are retried; the wait between attempts
// ends early when ctx is done.
func retryable(ctx context.Context, call func() error, shouldRetry func(error) bool, max int, backoff time.Duration, log *slog.Logger) error {
	if max <= 0 {
		return call() // no retry
	}

	delay := backoff
	for i := 0; ; i++ {
		err := call()
		if err == nil {
			if i > 0 {
				log.Debug("Attempt succeeded", "attempt", i+1)
			}
			return nil
		}
		if i == max || !shouldRetry(err) {
			log.Debug("Final attempt failed", "attempt", i+1, "error", err)
			return err
		}
		log.Debug("Attempt failed, retrying", "attempt", i+1, "error", err, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		delay *= 2
	}
}

// EstimateTokensFromText provides a rough token estimate from text length.
func EstimateTokensFromText(text string) int {
	// Rough heuristic: ~4 characters per token for English text
	return (len(text) + 3) / 4
}
