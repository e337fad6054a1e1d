package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/llm-council/llm-council/gateway/internal/domain/entity"
)

// FanOutResult is the outcome of one member's call within a fan-out.
// Exactly one of Reply and Err is set.
type FanOutResult struct {
	Reply *entity.ModelReply
	Err   error
}

// FanOut queries every model concurrently with the same messages and collects
// results keyed by model id. The map always contains an entry for every
// requested id; a member's failure never cancels its peers. Dispatch follows
// input order, completion order is arbitrary.
func FanOut(ctx context.Context, client ModelClient, models []string, messages []ChatMessage) map[string]FanOutResult {
	results := make([]FanOutResult, len(models))

	var wg sync.WaitGroup
	for i, model := range models {
		wg.Add(1)
		go func(i int, model string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = FanOutResult{Err: &BackendFailure{
						Kind:  FailureTransport,
						Model: model,
						Err:   fmt.Errorf("panic during model query: %v", r),
					}}
				}
			}()
			reply, err := client.Query(ctx, model, messages)
			results[i] = FanOutResult{Reply: reply, Err: err}
		}(i, model)
	}
	wg.Wait()

	out := make(map[string]FanOutResult, len(models))
	for i, model := range models {
		out[model] = results[i]
	}
	return out
}
