// Package commandqueue runs tasks in named lanes with FIFO ordering per lane.
//
// Tasks in the same lane run in arrival order, at most Concurrency at a
// time (one by default). Tasks in different lanes run concurrently. Idle
// lanes are forgotten unless their concurrency was set explicitly.
//
// Usage:
//
//	queue := commandqueue.New()
//	defer queue.Close()
//	result, err := queue.Enqueue(ctx, "conversation:abc", func(ctx context.Context) (any, error) {
//		return "ok", nil
//	})
package commandqueue
