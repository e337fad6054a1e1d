package llm

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/llm-council/llm-council/gateway/internal/domain/service"
)

const preloadTimeout = 30 * time.Second

// PreloadModels warms the given models in parallel so the first real council
// run does not pay the model load cost. Failures are logged and swallowed;
// warm-up is an optimization, never a gate. Blocks until every preload call
// returns or times out.
func PreloadModels(ctx context.Context, client service.ModelClient, models []string, logger *zap.Logger) {
	unique := make([]string, 0, len(models))
	seen := make(map[string]bool, len(models))
	for _, m := range models {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		unique = append(unique, m)
	}
	if len(unique) == 0 {
		return
	}

	logger.Info("Preloading models", zap.Strings("models", unique))
	start := time.Now()

	var wg sync.WaitGroup
	for _, model := range unique {
		wg.Add(1)
		go func(model string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Panic during model preload",
						zap.String("model", model), zap.Any("panic", r))
				}
			}()

			ctx, cancel := context.WithTimeout(ctx, preloadTimeout)
			defer cancel()
			if err := client.Preload(ctx, model); err != nil {
				logger.Warn("Model preload failed",
					zap.String("model", model), zap.Error(err))
				return
			}
			logger.Debug("Model preloaded", zap.String("model", model))
		}(model)
	}
	wg.Wait()

	logger.Info("Model preload finished", zap.Duration("elapsed", time.Since(start)))
}
