package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/google/uuid"
)

type historyRepo struct {
	m *Manager
}

func (r *historyRepo) Create(ctx context.Context, entry *domain.RoutingHistoryEntry) error {
	defer r.m.lock()()

	if entry.ID == "" {
		entry.ID = uuid.Must(uuid.NewV7()).String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	stored, err := deepCopy(entry)
	if err != nil {
		return err
	}
	r.m.store.data.history = append(r.m.store.data.history, stored)
	return nil
}

func (r *historyRepo) Query(ctx context.Context, tenantID string, filter domain.HistoryFilter) ([]*domain.RoutingHistoryEntry, error) {
	defer r.m.lock()()

	var matched []*domain.RoutingHistoryEntry
	for _, e := range r.m.store.data.history {
		if e.TenantID == tenantID && filter.Matches(e) {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if filter.NewestFirst {
			a, b = b, a
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.ID < b.ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*domain.RoutingHistoryEntry{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	out := make([]*domain.RoutingHistoryEntry, 0, len(matched))
	for _, e := range matched {
		c, err := deepCopy(e)
		if err != nil {
			return nil, fmt.Errorf("failed to copy history entry: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}
