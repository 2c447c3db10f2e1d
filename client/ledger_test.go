package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerFreshnessWindow(t *testing.T) {
	clock := newTestClock()
	l := NewLedger(DefaultFreshness, clock.Now)
	require.True(t, l.Record(Record{Key: key(2), Bucket: inProgress, Position: 1, Sequence: 1}))

	clock.Advance(5 * time.Second)
	rec, ok := l.Lookup(key(2))
	require.True(t, ok)
	assert.Equal(t, inProgress, rec.Bucket)

	clock.Advance(6 * time.Second)
	_, ok = l.Lookup(key(2))
	assert.False(t, ok)
	assert.Equal(t, 0, l.Len(), "expired record is dropped on access")
}

func TestLedgerExpiredRecordsStayUntilAccessed(t *testing.T) {
	clock := newTestClock()
	l := NewLedger(time.Second, clock.Now)
	l.Record(Record{Key: key(1), Sequence: 1})
	l.Record(Record{Key: key(2), Sequence: 2})

	clock.Advance(time.Minute)
	assert.Equal(t, 2, l.Len())
	_, ok := l.Lookup(key(1))
	assert.False(t, ok)
	assert.Equal(t, 1, l.Len())
}

func TestLedgerIgnoresLowerSequence(t *testing.T) {
	l := NewLedger(0, newTestClock().Now)
	require.True(t, l.Record(Record{Key: key(1), Bucket: done, Position: 3, Sequence: 5}))
	assert.False(t, l.Record(Record{Key: key(1), Bucket: queue, Position: 1, Sequence: 4}))
	require.True(t, l.Record(Record{Key: key(1), Bucket: inProgress, Position: 2, Sequence: 6}))

	rec, ok := l.Lookup(key(1))
	require.True(t, ok)
	assert.Equal(t, uint64(6), rec.Sequence)
	assert.Equal(t, inProgress, rec.Bucket)
}

func TestLedgerForgetMatchesSequence(t *testing.T) {
	l := NewLedger(0, newTestClock().Now)
	l.Record(Record{Key: key(1), Sequence: 2})

	assert.False(t, l.Forget(key(1), 1))
	assert.Equal(t, 1, l.Len())
	assert.True(t, l.Forget(key(1), 2))
	assert.Equal(t, 0, l.Len())
	assert.False(t, l.Forget(key(9), 1))
}
