package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/AINF-EPAMIG/gestao-sub001/domain"
	"github.com/AINF-EPAMIG/gestao-sub001/storage"
)

// faultyStore wraps the in-memory store with injectable failures.
type faultyStore struct {
	*storage.Memory

	mu         sync.Mutex
	conflicts  int
	failBucket domain.Bucket
	applyCalls int
	// beforeApply runs once per ApplyChanges call before the commit.
	beforeApply func()
}

var errBoom = errors.New("storage unavailable")

func newFaultyStore() *faultyStore {
	return &faultyStore{Memory: storage.NewMemory()}
}

func (f *faultyStore) ListPlacements(ctx context.Context, board string, bucket domain.Bucket) ([]domain.Placement, error) {
	f.mu.Lock()
	fail := f.failBucket != "" && bucket == f.failBucket
	f.mu.Unlock()
	if fail {
		return nil, errBoom
	}
	return f.Memory.ListPlacements(ctx, board, bucket)
}

func (f *faultyStore) ApplyChanges(ctx context.Context, board string, changes []domain.Change) error {
	f.mu.Lock()
	f.applyCalls++
	hook := f.beforeApply
	f.beforeApply = nil
	if f.conflicts > 0 {
		f.conflicts--
		f.mu.Unlock()
		return domain.ErrConcurrencyConflict
	}
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return f.Memory.ApplyChanges(ctx, board, changes)
}

func (f *faultyStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applyCalls
}

type recordingNotifier struct {
	mu     sync.Mutex
	boards []string
}

func (r *recordingNotifier) BoardChanged(_ context.Context, board string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.boards = append(r.boards, board)
	return nil
}

type recordingQueue struct {
	mu   sync.Mutex
	reqs []domain.RepairRequest
}

func (r *recordingQueue) EnqueueRepair(_ context.Context, req domain.RepairRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return nil
}

func (r *recordingQueue) requests() []domain.RepairRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.RepairRequest(nil), r.reqs...)
}

func noWait() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 5)
}

var fixedNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func task(id int64, bucket domain.Bucket, pos int) domain.Item {
	return domain.Item{ID: id, Kind: domain.KindTask, Bucket: bucket, Position: pos}
}

func ticket(id int64, bucket domain.Bucket, pos int) domain.Item {
	return domain.Item{ID: id, Kind: domain.KindTicket, Bucket: bucket, Position: pos}
}

// positions maps the ids of items in bucket to their position.
func positions(items []domain.Item, bucket domain.Bucket) map[int64]int {
	out := make(map[int64]int)
	for _, it := range items {
		if it.Bucket == bucket {
			out[it.ID] = it.Position
		}
	}
	return out
}
