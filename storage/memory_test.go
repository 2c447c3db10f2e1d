package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AINF-EPAMIG/gestao-sub001/domain"
)

func TestMemoryApplyChangesRejectsStaleETag(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Seed("b", domain.Item{ID: 1, Kind: domain.KindTask, Bucket: "queue", Position: 1})

	rows, err := m.ListPlacements(ctx, "b", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	first := rows[0]
	first.Position = 2
	if err := m.ApplyChanges(ctx, "b", []domain.Change{{Op: domain.ChangeUpdate, Placement: first}}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	stale := rows[0]
	stale.Position = 3
	err = m.ApplyChanges(ctx, "b", []domain.Change{{Op: domain.ChangeUpdate, Placement: stale}})
	if !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	rows, _ = m.ListPlacements(ctx, "b", "")
	if rows[0].Position != 2 {
		t.Fatalf("stale write must not apply, position=%d", rows[0].Position)
	}
}

func TestMemoryApplyChangesIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Seed("b",
		domain.Item{ID: 1, Kind: domain.KindTask, Bucket: "queue", Position: 1},
		domain.Item{ID: 2, Kind: domain.KindTask, Bucket: "queue", Position: 2},
	)
	rows, _ := m.ListPlacements(ctx, "b", "")
	a, b := rows[0], rows[1]
	a.Position, b.Position = 2, 1
	b.ETag = "W/\"999\""

	err := m.ApplyChanges(ctx, "b", []domain.Change{
		{Op: domain.ChangeUpdate, Placement: a},
		{Op: domain.ChangeUpdate, Placement: b},
	})
	if !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	rows, _ = m.ListPlacements(ctx, "b", "")
	if rows[0].Position != 1 || rows[1].Position != 2 {
		t.Fatalf("partial batch applied: %+v", rows)
	}
}

func TestMemoryInsertDuplicate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	p := domain.Placement{Item: domain.Item{ID: 5, Kind: domain.KindTicket, Bucket: "queue", Position: 1}}
	if err := m.ApplyChanges(ctx, "b", []domain.Change{{Op: domain.ChangeInsert, Placement: p}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := m.ApplyChanges(ctx, "b", []domain.Change{{Op: domain.ChangeInsert, Placement: p}})
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
}

func TestMemoryListFiltersBucketAndCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	done := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	m.Seed("b",
		domain.Item{ID: 1, Kind: domain.KindTask, Bucket: "queue", Position: 1, Labels: []string{"x"}},
		domain.Item{ID: 2, Kind: domain.KindTask, Bucket: "done", Position: 1, CompletedAt: &done},
	)
	rows, err := m.ListPlacements(ctx, "b", "queue")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != 1 {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	rows[0].Labels[0] = "mutated"
	again, _ := m.ListPlacements(ctx, "b", "queue")
	if again[0].Labels[0] != "x" {
		t.Fatalf("store leaked its labels slice")
	}
	if other, _ := m.ListPlacements(ctx, "other", ""); len(other) != 0 {
		t.Fatalf("expected empty board, got %+v", other)
	}
}

func TestMemoryDeleteRemovesRow(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Seed("b", domain.Item{ID: 1, Kind: domain.KindTask, Bucket: "queue", Position: 1})
	rows, _ := m.ListPlacements(ctx, "b", "")
	if err := m.ApplyChanges(ctx, "b", []domain.Change{{Op: domain.ChangeDelete, Placement: rows[0]}}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if rows, _ := m.ListPlacements(ctx, "b", ""); len(rows) != 0 {
		t.Fatalf("expected no rows, got %+v", rows)
	}
}
