package channels

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/mrmushfiq/llm0-chat-gateway/internal/shared/models"
)

// ErrNotFound is returned by Route when no enabled channel serves a model.
var ErrNotFound = errors.New("no enabled channel serves model")

// Source lists the currently enabled channels.
type Source interface {
	ListEnabledChannels(ctx context.Context) ([]models.Channel, error)
}

// Directory answers routing questions over a read-only view of channels.
//
// Routing is first-match: the enabled channel with the lowest
// (SortOrder, ID) for the requested model wins. There is no round-robin and
// no fallback to a second channel.
type Directory struct {
	source Source
}

// NewDirectory creates a directory over source
func NewDirectory(source Source) *Directory {
	return &Directory{source: source}
}

// Route returns the channel that serves modelID
func (d *Directory) Route(ctx context.Context, modelID string) (*models.Channel, error) {
	channels, err := d.source.ListEnabledChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}

	var best *models.Channel
	for i := range channels {
		ch := &channels[i]
		if !ch.IsEnabled || ch.ModelID != modelID {
			continue
		}
		if best == nil || less(ch, best) {
			best = ch
		}
	}

	if best == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, modelID)
	}

	out := *best
	return &out, nil
}

// ListServableModels returns the distinct model ids of enabled channels,
// in routing order.
func (d *Directory) ListServableModels(ctx context.Context) ([]string, error) {
	channels, err := d.source.ListEnabledChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}

	ordered := make([]*models.Channel, 0, len(channels))
	for i := range channels {
		if channels[i].IsEnabled {
			ordered = append(ordered, &channels[i])
		}
	}
	sortChannels(ordered)

	seen := make(map[string]bool, len(ordered))
	ids := make([]string, 0, len(ordered))
	for _, ch := range ordered {
		if seen[ch.ModelID] {
			continue
		}
		seen[ch.ModelID] = true
		ids = append(ids, ch.ModelID)
	}

	return ids, nil
}

func less(a, b *models.Channel) bool {
	if a.SortOrder != b.SortOrder {
		return a.SortOrder < b.SortOrder
	}
	return a.ID < b.ID
}

func sortChannels(chs []*models.Channel) {
	sort.SliceStable(chs, func(i, j int) bool { return less(chs[i], chs[j]) })
}
