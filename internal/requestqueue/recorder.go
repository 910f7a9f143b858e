package requestqueue

import (
	"context"
	"time"
)

// Recorder receives queue events for metrics
type Recorder interface {
	RecordEnqueued(ctx context.Context, priority int)
	RecordCacheHit(ctx context.Context)
	RecordCacheMiss(ctx context.Context)
	RecordDedupJoin(ctx context.Context)
	RecordCircuitRejected(ctx context.Context, category string)
	RecordRetry(ctx context.Context, category string)
	RecordAttempt(ctx context.Context, category string, duration time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) RecordEnqueued(context.Context, int)                         {}
func (nopRecorder) RecordCacheHit(context.Context)                              {}
func (nopRecorder) RecordCacheMiss(context.Context)                             {}
func (nopRecorder) RecordDedupJoin(context.Context)                             {}
func (nopRecorder) RecordCircuitRejected(context.Context, string)               {}
func (nopRecorder) RecordRetry(context.Context, string)                         {}
func (nopRecorder) RecordAttempt(context.Context, string, time.Duration, error) {}
