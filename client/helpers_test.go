package client

import (
	"sync"
	"time"

	"github.com/AINF-EPAMIG/gestao-sub001/domain"
)

const (
	queue      domain.Bucket = "queue"
	inProgress domain.Bucket = "in_progress"
	done       domain.Bucket = "done"
)

func testBoard() domain.Board {
	return domain.Board{
		Name:      "tasks",
		Kinds:     []domain.Kind{domain.KindTask},
		Buckets:   []domain.Bucket{queue, inProgress, done},
		Terminal:  []domain.Bucket{done},
		Partition: domain.PartitionByBucketKind,
	}
}

func key(id int64) domain.ItemKey { return domain.ItemKey{Kind: domain.KindTask, ID: id} }

func item(id int64, bucket domain.Bucket, pos int) domain.Item {
	return domain.Item{ID: id, Kind: domain.KindTask, Bucket: bucket, Position: pos}
}

// ids returns the item ids of a lane in order.
func ids(items []domain.Item) []int64 {
	out := make([]int64, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// scenarioStore holds queue = [1:1, 2:2, 3:3] with an empty in_progress lane.
func scenarioStore(clock *testClock) *Store {
	s := NewStore(testBoard(), NewLedger(DefaultFreshness, clock.Now))
	s.LoadSnapshot([]domain.Item{item(1, queue, 1), item(2, queue, 2), item(3, queue, 3)})
	return s
}
