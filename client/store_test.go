package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AINF-EPAMIG/gestao-sub001/domain"
)

func move(id int64, to domain.Bucket, pos int) domain.MoveCommand {
	return domain.MoveCommand{Key: key(id), ToBucket: to, ToPosition: pos}
}

func TestApplyMoveAcrossBuckets(t *testing.T) {
	s := scenarioStore(newTestClock())

	moved, err := s.ApplyMove(move(2, inProgress, 1))
	require.NoError(t, err)

	assert.True(t, moved.Changed)
	assert.Equal(t, domain.Lane{Bucket: queue, Kind: domain.KindTask}, moved.From)
	assert.Equal(t, 1, moved.FromIndex)
	assert.Equal(t, []int64{1, 3}, ids(s.Lane(domain.KindTask, queue)))
	assert.Equal(t, []int64{2}, ids(s.Lane(domain.KindTask, inProgress)))
	it, _ := s.Item(key(3))
	assert.Equal(t, 2, it.Position)
	it, _ = s.Item(key(2))
	assert.Equal(t, inProgress, it.Bucket)
	assert.Equal(t, 1, it.Position)
}

func TestApplyMoveKeepsBothLanesDense(t *testing.T) {
	s := NewStore(testBoard(), nil)
	s.LoadSnapshot([]domain.Item{
		item(1, queue, 1), item(2, queue, 2), item(3, queue, 3), item(4, queue, 4),
		item(10, inProgress, 1), item(11, inProgress, 2),
	})

	_, err := s.ApplyMove(move(3, inProgress, 2))
	require.NoError(t, err)

	src := s.Lane(domain.KindTask, queue)
	dst := s.Lane(domain.KindTask, inProgress)
	assert.Len(t, src, 3)
	assert.Len(t, dst, 3)
	assert.Equal(t, []int64{10, 3, 11}, ids(dst))
	for i, it := range src {
		assert.Equal(t, i+1, it.Position)
	}
	for i, it := range dst {
		assert.Equal(t, i+1, it.Position)
	}
}

func TestApplyMoveReorderWithinLane(t *testing.T) {
	s := scenarioStore(newTestClock())

	_, err := s.ApplyMove(move(3, queue, 1))
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2}, ids(s.Lane(domain.KindTask, queue)))

	_, err = s.ApplyMove(move(3, queue, 99))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids(s.Lane(domain.KindTask, queue)), "beyond the end appends")
}

func TestApplyMoveSameSlotIsNoop(t *testing.T) {
	s := scenarioStore(newTestClock())

	moved, err := s.ApplyMove(move(2, queue, 2))
	require.NoError(t, err)
	assert.False(t, moved.Changed)
	assert.Equal(t, []int64{1, 2, 3}, ids(s.Lane(domain.KindTask, queue)))
}

func TestApplyMoveRejectsInvalidCommands(t *testing.T) {
	s := scenarioStore(newTestClock())

	_, err := s.ApplyMove(move(2, "archive", 1))
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = s.ApplyMove(move(2, queue, 0))
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = s.ApplyMove(move(42, queue, 1))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, []int64{1, 2, 3}, ids(s.Lane(domain.KindTask, queue)))
}

func TestFirstLoadIgnoresLedger(t *testing.T) {
	clock := newTestClock()
	ledger := NewLedger(DefaultFreshness, clock.Now)
	ledger.Record(Record{Key: key(2), Bucket: inProgress, Position: 1, Sequence: 1})
	s := NewStore(testBoard(), ledger)

	s.LoadSnapshot([]domain.Item{item(1, queue, 1), item(2, queue, 2)})

	assert.Equal(t, []int64{1, 2}, ids(s.Lane(domain.KindTask, queue)))
	assert.Empty(t, s.Lane(domain.KindTask, inProgress))
}

func TestMergeHonorsFreshLedgerRecord(t *testing.T) {
	clock := newTestClock()
	s := scenarioStore(clock)
	_, err := s.ApplyMove(move(2, inProgress, 1))
	require.NoError(t, err)
	s.Ledger().Record(Record{Key: key(2), Bucket: inProgress, Position: 1, Sequence: 1})
	stale := []domain.Item{item(1, queue, 1), item(2, queue, 2), item(3, queue, 3)}

	clock.Advance(5 * time.Second)
	s.LoadSnapshot(stale)
	assert.Equal(t, []int64{1, 3}, ids(s.Lane(domain.KindTask, queue)))
	assert.Equal(t, []int64{2}, ids(s.Lane(domain.KindTask, inProgress)))

	clock.Advance(6 * time.Second)
	s.LoadSnapshot(stale)
	assert.Equal(t, []int64{1, 2, 3}, ids(s.Lane(domain.KindTask, queue)), "server wins once the record expired")
	assert.Empty(t, s.Lane(domain.KindTask, inProgress))
}

func TestMergePutsLedgerItemFirstOnTies(t *testing.T) {
	clock := newTestClock()
	s := scenarioStore(clock)
	s.Ledger().Record(Record{Key: key(3), Bucket: inProgress, Position: 1, Sequence: 1})

	s.MergeSnapshot([]domain.Item{item(1, queue, 1), item(3, queue, 2), item(7, inProgress, 1)})

	assert.Equal(t, []int64{3, 7}, ids(s.Lane(domain.KindTask, inProgress)))
	assert.Equal(t, []int64{1}, ids(s.Lane(domain.KindTask, queue)))
	_, ok := s.Item(key(2))
	assert.False(t, ok, "items missing from the server are dropped")
}

func TestMergeRenumbersServerDuplicates(t *testing.T) {
	s := scenarioStore(newTestClock())

	s.MergeSnapshot([]domain.Item{item(8, queue, 2), item(5, queue, 2), item(1, queue, 1)})

	lane := s.Lane(domain.KindTask, queue)
	assert.Equal(t, []int64{1, 5, 8}, ids(lane))
	assert.Equal(t, 3, lane[2].Position)
}

func TestItemsOrderedByBucketThenPosition(t *testing.T) {
	s := NewStore(testBoard(), nil)
	s.LoadSnapshot([]domain.Item{item(4, done, 1), item(2, queue, 2), item(3, inProgress, 1), item(1, queue, 1)})

	assert.Equal(t, []int64{1, 2, 3, 4}, ids(s.Items()))
}
