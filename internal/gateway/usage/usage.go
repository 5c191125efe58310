package usage

import (
	"context"
	"log"
	"time"

	"github.com/mrmushfiq/llm0-chat-gateway/internal/shared/config"
	"github.com/mrmushfiq/llm0-chat-gateway/internal/shared/models"
)

// Store is the persistence the usage log needs
type Store interface {
	InsertUsage(ctx context.Context, rec *models.UsageRecord) error
	DeleteUsageBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Recorder appends usage records to the chat log
type Recorder struct {
	store Store
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Record writes one usage record
func (r *Recorder) Record(ctx context.Context, rec *models.UsageRecord) error {
	return r.store.InsertUsage(ctx, rec)
}

// runRetentionOnce deletes records older than days. A non-positive days keeps
// everything.
func runRetentionOnce(ctx context.Context, store Store, days int, now time.Time) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
	return store.DeleteUsageBefore(ctx, cutoff)
}

// StartRetentionWorker runs the retention cleanup once at startup and then on
// every tick until ctx is done. The retention period is read from the live
// settings on each pass.
func StartRetentionWorker(ctx context.Context, store Store, live interface{ Current() *config.Settings }, every time.Duration) {
	run := func() {
		n, err := runRetentionOnce(ctx, store, live.Current().LogRetentionDays, time.Now())
		if err != nil {
			log.Printf("usage retention cleanup error: %v", err)
			return
		}
		if n > 0 {
			log.Printf("usage retention removed %d records", n)
		}
	}

	go func() {
		run()

		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}
