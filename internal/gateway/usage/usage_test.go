package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mrmushfiq/llm0-chat-gateway/internal/shared/config"
	"github.com/mrmushfiq/llm0-chat-gateway/internal/shared/models"
)

type fakeStore struct {
	mu       sync.Mutex
	inserted []*models.UsageRecord
	cutoffs  []time.Time
	deleted  chan struct{}
}

func (s *fakeStore) InsertUsage(_ context.Context, rec *models.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, rec)
	return nil
}

func (s *fakeStore) DeleteUsageBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	s.cutoffs = append(s.cutoffs, cutoff)
	s.mu.Unlock()
	if s.deleted != nil {
		s.deleted <- struct{}{}
	}
	return 3, nil
}

type fixedSettings struct{ s config.Settings }

func (f fixedSettings) Current() *config.Settings { return &f.s }

func TestRecorder_Record(t *testing.T) {
	store := &fakeStore{}
	rec := &models.UsageRecord{ChannelID: 1, ModelID: "m"}

	if err := NewRecorder(store).Record(context.Background(), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.inserted) != 1 || store.inserted[0] != rec {
		t.Fatalf("expected record to be inserted")
	}
}

func TestRunRetentionOnce(t *testing.T) {
	store := &fakeStore{}
	now := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	n, err := runRetentionOnce(context.Background(), store, 30, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 removed, got %d", n)
	}
	want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if !store.cutoffs[0].Equal(want) {
		t.Fatalf("expected cutoff %v, got %v", want, store.cutoffs[0])
	}

	if _, err := runRetentionOnce(context.Background(), store, 0, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.cutoffs) != 1 {
		t.Fatalf("expected zero retention to skip the delete")
	}
}

func TestStartRetentionWorker_RunsAtStartup(t *testing.T) {
	store := &fakeStore{deleted: make(chan struct{}, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	StartRetentionWorker(ctx, store, fixedSettings{config.Settings{LogRetentionDays: 90}}, time.Hour)

	select {
	case <-store.deleted:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a retention pass at startup")
	}
}
