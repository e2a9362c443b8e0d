package stream

import (
	"sort"
	"sync"

	"fleet-monitor/geostream/internal/domain"
)

// PositionBuffer keeps the latest update per vehicle between flushes.
type PositionBuffer struct {
	mu      sync.Mutex
	pending map[string]domain.VehicleUpdate
}

func NewPositionBuffer() *PositionBuffer {
	return &PositionBuffer{pending: make(map[string]domain.VehicleUpdate)}
}

// Put replaces any earlier update for the same vehicle.
func (b *PositionBuffer) Put(u domain.VehicleUpdate) {
	b.mu.Lock()
	b.pending[u.ID] = u
	b.mu.Unlock()
}

// Drain empties the buffer and returns its contents ordered by vehicle id.
func (b *PositionBuffer) Drain() []domain.VehicleUpdate {
	b.mu.Lock()
	pending := b.pending
	b.pending = make(map[string]domain.VehicleUpdate, len(pending))
	b.mu.Unlock()

	out := make([]domain.VehicleUpdate, 0, len(pending))
	for _, u := range pending {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (b *PositionBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
