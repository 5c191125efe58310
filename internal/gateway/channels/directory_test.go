package channels

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/mrmushfiq/llm0-chat-gateway/internal/shared/models"
)

type fakeSource struct {
	channels []models.Channel
	err      error
	calls    int
}

func (f *fakeSource) ListEnabledChannels(context.Context) ([]models.Channel, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.Channel, len(f.channels))
	copy(out, f.channels)
	return out, nil
}

func channelsFixture() []models.Channel {
	return []models.Channel{
		{ID: 9, ModelID: "gpt-x", SortOrder: 20, IsEnabled: true},
		{ID: 4, ModelID: "gpt-x", SortOrder: 10, IsEnabled: true},
		{ID: 2, ModelID: "gpt-x", SortOrder: 10, IsEnabled: true},
		{ID: 1, ModelID: "claude-y", SortOrder: 0, IsEnabled: true},
		{ID: 3, ModelID: "gpt-x", SortOrder: 0, IsEnabled: false},
	}
}

func TestDirectory_RouteLowestSortOrderThenID(t *testing.T) {
	d := NewDirectory(&fakeSource{channels: channelsFixture()})

	for i := 0; i < 5; i++ {
		ch, err := d.Route(context.Background(), "gpt-x")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ch.ID != 2 {
			t.Fatalf("expected channel 2, got %d", ch.ID)
		}
	}
}

func TestDirectory_RouteSkipsDisabled(t *testing.T) {
	src := &fakeSource{channels: channelsFixture()}
	d := NewDirectory(src)

	src.channels[2].IsEnabled = false // disable channel 2
	ch, err := d.Route(context.Background(), "gpt-x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch.ID != 4 {
		t.Fatalf("expected next-lowest channel 4, got %d", ch.ID)
	}
}

func TestDirectory_RouteNotFound(t *testing.T) {
	d := NewDirectory(&fakeSource{channels: channelsFixture()})

	_, err := d.Route(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDirectory_RouteSourceError(t *testing.T) {
	d := NewDirectory(&fakeSource{err: errors.New("db down")})

	_, err := d.Route(context.Background(), "gpt-x")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected a non-NotFound error, got %v", err)
	}
}

func TestDirectory_ListServableModels(t *testing.T) {
	d := NewDirectory(&fakeSource{channels: channelsFixture()})

	got, err := d.ListServableModels(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"claude-y", "gpt-x"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestDirectory_ReadsSourceOnEveryCall(t *testing.T) {
	src := &fakeSource{channels: channelsFixture()}
	d := NewDirectory(src)

	_, _ = d.Route(context.Background(), "gpt-x")
	src.channels = append(src.channels, models.Channel{ID: 50, ModelID: "new-model", IsEnabled: true})
	ch, err := d.Route(context.Background(), "new-model")
	if err != nil {
		t.Fatalf("expected newly added channel to be routable, got %v", err)
	}
	if ch.ID != 50 || src.calls != 2 {
		t.Fatalf("expected channel 50 after 2 source reads, got %d after %d", ch.ID, src.calls)
	}
}
