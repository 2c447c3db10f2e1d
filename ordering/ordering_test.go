package ordering

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AINF-EPAMIG/gestao-sub001/domain"
)

func task(id int64, pos int) Entry {
	return Entry{Key: domain.ItemKey{Kind: domain.KindTask, ID: id}, Position: pos}
}

func TestCorrectionsResolvesDuplicatesByID(t *testing.T) {
	entries := []Entry{task(9, 2), task(1, 1), task(4, 2)}

	fixes := Corrections(entries)

	require.Len(t, fixes, 1)
	assert.Equal(t, task(9, 3), fixes[0])
}

func TestCorrectionsClosesGaps(t *testing.T) {
	entries := []Entry{task(1, 2), task(2, 5), task(3, 9)}

	fixes := Corrections(entries)

	assert.Equal(t, []Entry{task(1, 1), task(2, 2), task(3, 3)}, fixes)
}

func TestCorrectionsEmptyWhenDense(t *testing.T) {
	assert.Empty(t, Corrections([]Entry{task(3, 1), task(1, 2), task(2, 3)}))
	assert.Empty(t, Corrections(nil))
}

func TestTieBreakIsDeterministic(t *testing.T) {
	base := []Entry{task(30, 2), task(10, 2), task(20, 2), task(5, 1)}
	want := Corrections(base)
	for i := 0; i < 20; i++ {
		shuffled := append([]Entry(nil), base...)
		rand.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, Corrections(shuffled))
	}
	assert.Equal(t, []Entry{task(20, 3), task(30, 4)}, want)
}

func TestMixedKindsTieBreakOnKind(t *testing.T) {
	ticket := Entry{Key: domain.ItemKey{Kind: domain.KindTicket, ID: 7}, Position: 1}
	tk := task(7, 1)

	assert.True(t, Less(tk, ticket))
	assert.False(t, Less(ticket, tk))
}

func TestInsertClampsIndex(t *testing.T) {
	a := domain.ItemKey{Kind: domain.KindTask, ID: 1}
	b := domain.ItemKey{Kind: domain.KindTask, ID: 2}
	c := domain.ItemKey{Kind: domain.KindTask, ID: 3}

	out, idx := Insert([]domain.ItemKey{a, b}, c, 99)
	assert.Equal(t, []domain.ItemKey{a, b, c}, out)
	assert.Equal(t, 2, idx)

	out, idx = Insert([]domain.ItemKey{a, b}, c, -4)
	assert.Equal(t, []domain.ItemKey{c, a, b}, out)
	assert.Equal(t, 0, idx)
}

func TestRemoveReportsIndex(t *testing.T) {
	a := domain.ItemKey{Kind: domain.KindTask, ID: 1}
	b := domain.ItemKey{Kind: domain.KindTask, ID: 2}

	out, idx := Remove([]domain.ItemKey{a, b}, b)
	assert.Equal(t, []domain.ItemKey{a}, out)
	assert.Equal(t, 1, idx)

	_, idx = Remove(out, b)
	assert.Equal(t, -1, idx)
}

func TestIsDense(t *testing.T) {
	assert.True(t, IsDense([]Entry{task(2, 2), task(1, 1)}))
	assert.False(t, IsDense([]Entry{task(2, 2), task(1, 2)}))
	assert.False(t, IsDense([]Entry{task(1, 2)}))
	assert.True(t, IsDense(nil))
}
