package storage

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/AINF-EPAMIG/gestao-sub001/domain"
)

// Memory is an in-process placement store with the same conditional write
// semantics as the table store. It backs local mode and tests.
type Memory struct {
	mu      sync.Mutex
	boards  map[string]map[domain.ItemKey]domain.Placement
	version uint64
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{boards: make(map[string]map[domain.ItemKey]domain.Placement)}
}

func (m *Memory) ListPlacements(ctx context.Context, board string, bucket domain.Bucket) ([]domain.Placement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.boards[board]
	out := make([]domain.Placement, 0, len(rows))
	for _, p := range rows {
		if bucket != "" && p.Bucket != bucket {
			continue
		}
		out = append(out, clonePlacement(p))
	}
	slices.SortFunc(out, func(a, b domain.Placement) int {
		return strings.Compare(rowKey(a.Key()), rowKey(b.Key()))
	})
	return out, nil
}

// ApplyChanges commits changes all or nothing. Inserts fail with
// domain.ErrAlreadyExists when the row is present; updates and deletes fail with
// domain.ErrConcurrencyConflict when the row is gone or its ETag moved on.
func (m *Memory) ApplyChanges(ctx context.Context, board string, changes []domain.Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.boards[board]
	for _, ch := range changes {
		cur, ok := rows[ch.Placement.Key()]
		switch ch.Op {
		case domain.ChangeInsert:
			if ok {
				return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, ch.Placement.Key())
			}
		case domain.ChangeUpdate, domain.ChangeDelete:
			if !ok || (ch.Placement.ETag != "" && ch.Placement.ETag != cur.ETag) {
				return domain.ErrConcurrencyConflict
			}
		default:
			return fmt.Errorf("unsupported change op %d", ch.Op)
		}
	}
	if rows == nil {
		rows = make(map[domain.ItemKey]domain.Placement)
		m.boards[board] = rows
	}
	for _, ch := range changes {
		key := ch.Placement.Key()
		if ch.Op == domain.ChangeDelete {
			delete(rows, key)
			continue
		}
		p := clonePlacement(ch.Placement)
		p.ETag = m.nextETag()
		rows[key] = p
	}
	return nil
}

// Seed writes placements unconditionally, bypassing every check. It simulates
// rows left behind by racing writers.
func (m *Memory) Seed(board string, items ...domain.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.boards[board]
	if rows == nil {
		rows = make(map[domain.ItemKey]domain.Placement)
		m.boards[board] = rows
	}
	for _, it := range items {
		rows[it.Key()] = clonePlacement(domain.Placement{Item: it, ETag: m.nextETag()})
	}
}

func (m *Memory) nextETag() string {
	m.version++
	return `W/"` + strconv.FormatUint(m.version, 10) + `"`
}

func clonePlacement(p domain.Placement) domain.Placement {
	if p.Labels != nil {
		p.Labels = slices.Clone(p.Labels)
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		p.CompletedAt = &t
	}
	return p
}
