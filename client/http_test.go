package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AINF-EPAMIG/gestao-sub001/api"
	"github.com/AINF-EPAMIG/gestao-sub001/domain"
	"github.com/AINF-EPAMIG/gestao-sub001/reconcile"
	"github.com/AINF-EPAMIG/gestao-sub001/storage"
)

var testSecret = []byte("board-secret")

// newTestAPI serves the real board API backed by the in-memory store.
func newTestAPI(t *testing.T, items ...domain.Item) (*HTTP, *storage.Memory) {
	t.Helper()
	mem := storage.NewMemory()
	mem.Seed("tasks", items...)
	return newTestAPIOver(t, mem), mem
}

func newTestAPIOver(t *testing.T, store reconcile.Store, opts ...reconcile.Option) *HTTP {
	t.Helper()
	logger, _ := test.NewNullLogger()
	svc := reconcile.NewService(domain.Layout{Boards: []domain.Board{testBoard()}}, store, logger, opts...)
	t.Cleanup(svc.Close)

	e := echo.New()
	auth := api.NewAuth(nil, api.AuthConfig{Audience: "api://boards", SharedSecret: testSecret})
	api.Register(e, svc, nil, auth, nil, logger)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"aud": "api://boards",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	require.NoError(t, err)
	return NewHTTP(srv.URL+"/", token)
}

func TestHTTPMoveAndSnapshot(t *testing.T) {
	c, _ := newTestAPI(t, item(1, queue, 1), item(2, queue, 2), item(3, queue, 3))
	ctx := context.Background()

	res, err := c.Move(ctx, "tasks", domain.MoveCommand{Key: key(2), FromBucket: queue, ToBucket: inProgress, ToPosition: 1}, "s:1")
	require.NoError(t, err)
	require.NotNil(t, res.Item)
	assert.Equal(t, inProgress, res.Item.Bucket)
	assert.Equal(t, "user-1", res.Item.MovedBy)

	snap, err := c.Snapshot(ctx, "tasks")
	require.NoError(t, err)
	store := NewStore(testBoard(), nil)
	store.LoadSnapshot(snap.Items)
	assert.Equal(t, []int64{1, 3}, ids(store.Lane(domain.KindTask, queue)))
	assert.Equal(t, []int64{2}, ids(store.Lane(domain.KindTask, inProgress)))

	again, err := c.Move(ctx, "tasks", domain.MoveCommand{Key: key(2), ToBucket: inProgress, ToPosition: 1}, "s:1")
	require.NoError(t, err)
	assert.Equal(t, res.Board.Items, again.Board.Items)
}

func TestHTTPErrorsCarryStatus(t *testing.T) {
	c, _ := newTestAPI(t, item(1, queue, 1))
	ctx := context.Background()

	_, err := c.Move(ctx, "tasks", domain.MoveCommand{Key: key(1), ToBucket: "archive", ToPosition: 1}, "")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Contains(t, se.Message, "unknown bucket")
	assert.True(t, isTerminal(err))

	_, err = c.Snapshot(ctx, "nope")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)

	c.Bearer = ""
	_, err = c.Snapshot(ctx, "tasks")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
}

func TestHTTPNormalize(t *testing.T) {
	c, mem := newTestAPI(t, item(1, queue, 1), item(8, queue, 2), item(5, queue, 2))

	res, err := c.Normalize(context.Background(), "tasks", queue)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Corrections)

	rows, err := mem.ListPlacements(context.Background(), "tasks", queue)
	require.NoError(t, err)
	positions := map[int64]int{}
	for _, r := range rows {
		positions[r.ID] = r.Position
	}
	assert.Equal(t, map[int64]int{1: 1, 5: 2, 8: 3}, positions)
}

func TestExecutorAgainstServer(t *testing.T) {
	c, mem := newTestAPI(t, item(1, queue, 1), item(2, queue, 2), item(3, queue, 3))
	ctx := context.Background()
	snap, err := c.Snapshot(ctx, "tasks")
	require.NoError(t, err)
	store := NewStore(testBoard(), nil)
	store.LoadSnapshot(snap.Items)
	logger, _ := test.NewNullLogger()
	exec := NewExecutor(store, c, ExecutorConfig{}, logger)
	t.Cleanup(exec.Close)

	seq, err := exec.Drop(key(3), done, 1, true)
	require.NoError(t, err)
	exec.Wait()

	st, _ := exec.Status(seq)
	require.Equal(t, Confirmed, st.State, "%v", st.Err)
	rows, err := mem.ListPlacements(ctx, "tasks", done)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0].ID)
	require.NotNil(t, rows[0].CompletedAt)
	assert.Equal(t, []int64{1, 2}, ids(store.Lane(domain.KindTask, queue)))
}

// busyStore loses every write while busy is set, like a lane other clients
// keep rewriting.
type busyStore struct {
	*storage.Memory
	busy atomic.Bool
}

func (s *busyStore) ApplyChanges(ctx context.Context, board string, changes []domain.Change) error {
	if s.busy.Load() {
		return domain.ErrConcurrencyConflict
	}
	return s.Memory.ApplyChanges(ctx, board, changes)
}

func TestExecutorRetriesContendedLane(t *testing.T) {
	mem := storage.NewMemory()
	mem.Seed("tasks", item(1, queue, 1), item(2, queue, 2))
	store := &busyStore{Memory: mem}
	store.busy.Store(true)
	c := newTestAPIOver(t, store, reconcile.WithBackOff(func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1)
	}))

	ctx := context.Background()
	snap, err := c.Snapshot(ctx, "tasks")
	require.NoError(t, err)
	local := NewStore(testBoard(), nil)
	local.LoadSnapshot(snap.Items)
	logger, _ := test.NewNullLogger()
	exec := NewExecutor(local, c, ExecutorConfig{MaxAttempts: 4}, logger)
	// the lane calms down before the second attempt
	exec.sleep = func(context.Context, time.Duration) error {
		store.busy.Store(false)
		return nil
	}
	t.Cleanup(exec.Close)

	seq, err := exec.Drop(key(2), inProgress, 1, true)
	require.NoError(t, err)
	exec.Wait()

	st, _ := exec.Status(seq)
	require.Equal(t, Confirmed, st.State, "%v", st.Err)
	assert.Equal(t, 2, st.Attempts)
	assert.Equal(t, []int64{2}, ids(local.Lane(domain.KindTask, inProgress)))
	rows, err := mem.ListPlacements(ctx, "tasks", inProgress)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].ID)
}
