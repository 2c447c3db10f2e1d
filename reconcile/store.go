package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/AINF-EPAMIG/gestao-sub001/domain"
	"github.com/AINF-EPAMIG/gestao-sub001/ordering"
)

// Store persists placements. ListPlacements returns every row of a board, or
// only the rows of one bucket when bucket is not empty. ApplyChanges commits a
// change set atomically and returns domain.ErrConcurrencyConflict when any
// ETag no longer matches.
type Store interface {
	ListPlacements(ctx context.Context, board string, bucket domain.Bucket) ([]domain.Placement, error)
	ApplyChanges(ctx context.Context, board string, changes []domain.Change) error
}

// Notifier is told about every committed change of a board.
type Notifier interface {
	BoardChanged(ctx context.Context, board string) error
}

// RepairQueue hands lanes to the maintenance worker.
type RepairQueue interface {
	EnqueueRepair(ctx context.Context, req domain.RepairRequest) error
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second
	return backoff.WithMaxRetries(b, 8)
}

// retryOnConflict repeats op while it fails with a concurrency conflict. Any
// other error stops the loop immediately.
func retryOnConflict(ctx context.Context, b backoff.BackOff, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil || errors.Is(err, domain.ErrConcurrencyConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx))
}

// laneRows filters rows down to one lane.
func laneRows(b domain.Board, rows []domain.Placement, lane domain.Lane) []domain.Placement {
	out := make([]domain.Placement, 0, len(rows))
	for _, r := range rows {
		if b.LaneOf(r.Kind, r.Bucket) == lane {
			out = append(out, r)
		}
	}
	return out
}

func entriesOf(rows []domain.Placement) []ordering.Entry {
	entries := make([]ordering.Entry, len(rows))
	for i, r := range rows {
		entries[i] = ordering.Entry{Key: r.Key(), Position: r.Position}
	}
	return entries
}

func indexRows(rows []domain.Placement) map[domain.ItemKey]domain.Placement {
	m := make(map[domain.ItemKey]domain.Placement, len(rows))
	for _, r := range rows {
		m[r.Key()] = r
	}
	return m
}
