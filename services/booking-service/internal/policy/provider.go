package policy

import (
	"context"
	"time"

	"github.com/agendei/agendei-server/services/booking-service/internal/storage"
)

// Provider resolves the reminder offsets to schedule ahead of a confirmed
// booking (e.g. 24h and 1h before start).
type Provider interface {
	ReminderOffsets(ctx context.Context, providerID string) []time.Duration
}

type staticProvider struct {
	offsets []time.Duration
}

func NewStaticProvider(offsets []time.Duration) Provider {
	return &staticProvider{offsets: offsets}
}

func (p *staticProvider) ReminderOffsets(_ context.Context, _ string) []time.Duration {
	return p.offsets
}

// catalogProvider reads per-provider offsets from the local catalog read
// model, falling back to defaults for unknown providers.
type catalogProvider struct {
	catalog  *storage.CatalogRepository
	fallback []time.Duration
}

func NewCatalogProvider(catalog *storage.CatalogRepository, fallback []time.Duration) Provider {
	return &catalogProvider{catalog: catalog, fallback: fallback}
}

func (p *catalogProvider) ReminderOffsets(ctx context.Context, providerID string) []time.Duration {
	info, ok, err := p.catalog.GetProvider(ctx, providerID)
	if err != nil || !ok {
		return p.fallback
	}
	var offsets []time.Duration
	for _, mins := range info.ReminderOffsetsMinutes {
		if mins <= 0 {
			continue
		}
		offsets = append(offsets, time.Duration(mins)*time.Minute)
	}
	if len(offsets) == 0 {
		return p.fallback
	}
	return offsets
}
