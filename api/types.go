package api

import (
	"context"

	"github.com/AINF-EPAMIG/gestao-sub001/domain"
	"github.com/AINF-EPAMIG/gestao-sub001/reconcile"
)

// Reconciler applies board mutations. It is implemented by reconcile.Service.
type Reconciler interface {
	Move(ctx context.Context, board string, cmd domain.MoveCommand) (reconcile.MoveResult, error)
	AddItem(ctx context.Context, board string, item domain.NewItem) (reconcile.MoveResult, error)
	RemoveItem(ctx context.Context, board string, key domain.ItemKey) (domain.Snapshot, error)
	Normalize(ctx context.Context, board string, bucket domain.Bucket) (reconcile.SweepResult, error)
	Snapshot(ctx context.Context, board string) (domain.Snapshot, error)
}

// SnapshotCache serves board reads without touching storage.
type SnapshotCache interface {
	Load(ctx context.Context, board string) (domain.Snapshot, bool)
	// Generation is read before the snapshot so Store can refuse it when the
	// board changed in between.
	Generation(ctx context.Context, board string) (int64, error)
	Store(ctx context.Context, snap domain.Snapshot, gen int64) (bool, error)
}

// Authenticator is implemented by types able to extract actor IDs from headers.
type Authenticator interface {
	ActorFromAuthHeader(string) (string, error)
}

// Deduper prevents applying the same move twice.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, scope, key string) (bool, error)
	// Remove deletes a previously added key, used when the move fails.
	Remove(ctx context.Context, scope, key string) error
}
