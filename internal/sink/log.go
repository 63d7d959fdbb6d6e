package sink

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/docfetch/internal/fetch"
)

// LogObserver writes one line per outcome.
func LogObserver(logger *zap.Logger) fetch.Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return fetch.ObserverFunc(func(ctx context.Context, out fetch.Outcome) error {
		fields := []zap.Field{
			zap.String("url", out.URL),
			zap.String("batch_id", fetch.BatchIDFrom(ctx)),
			zap.Int("attempts", out.Attempts),
			zap.Duration("duration", out.Duration),
		}
		if !out.OK {
			logger.Warn("fetch failed", append(fields, zap.Error(out.Err))...)
			return nil
		}
		logger.Info("fetch succeeded", append(fields,
			zap.Int("status", out.StatusCode),
			zap.Int64("bytes", out.Size),
			zap.Bool("not_modified", out.NotModified),
		)...)
		return nil
	})
}
