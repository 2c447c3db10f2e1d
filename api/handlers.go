package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/AINF-EPAMIG/gestao-sub001/domain"
)

const idempotencyHeader = "Idempotency-Key"

type handlers struct {
	svc     Reconciler
	cache   SnapshotCache
	deduper Deduper
	logger  *log.Logger
}

// Register wires up all API routes on the provided Echo instance. cache and
// deduper are optional.
func Register(e *echo.Echo, svc Reconciler, cache SnapshotCache, auth Authenticator, deduper Deduper, logger *log.Logger) {
	h := &handlers{svc: svc, cache: cache, deduper: deduper, logger: logger}

	g := e.Group("/api/boards", DecompressRequests(maxBodySize), RequireActor(auth))
	g.GET("/:board", h.getBoard)
	g.POST("/:board/moves", h.postMove)
	g.POST("/:board/normalize", h.postNormalize)
	g.POST("/:board/items", h.postItem)
	g.DELETE("/:board/items/:kind/:id", h.deleteItem)
	e.GET("/healthz", healthz)
}

func healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// conflictRetryAfter is sent with 503 when the lane stayed contended through
// every server-side retry.
const conflictRetryAfter = "1"

// statusFor maps domain errors to HTTP status codes. A concurrency conflict
// is transient, so it maps to 503 and clients retry it.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnknownBoard), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *handlers) fail(c echo.Context, metrics *requestMetrics, stage string, err error) error {
	status := statusFor(err)
	metrics.SetErrorStage(stage)
	if status == http.StatusServiceUnavailable {
		c.Response().Header().Set(echo.HeaderRetryAfter, conflictRetryAfter)
	}
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).WithFields(log.Fields{"route": c.Path(), "board": c.Param("board")}).Error("request failed")
		return c.JSON(status, errorResponse{Error: "internal error"})
	}
	return c.JSON(status, errorResponse{Error: err.Error()})
}

func (h *handlers) begin(c echo.Context) (*requestMetrics, context.Context) {
	metrics, ctx := newRequestMetrics(c.Request().Context(), h.logger, c.Path(), c.Param("board"))
	c.SetRequest(c.Request().WithContext(ctx))
	return metrics, ctx
}

func (h *handlers) getBoard(c echo.Context) (err error) {
	metrics, ctx := h.begin(c)
	defer func() { metrics.Log(c.Response().Status, err) }()

	board := c.Param("board")
	gen, cacheable := int64(0), false
	if h.cache != nil {
		if snap, ok := h.cache.Load(ctx, board); ok {
			metrics.SetCacheHit(true)
			metrics.SetItems(len(snap.Items))
			return c.JSON(http.StatusOK, snap)
		}
		var gerr error
		if gen, gerr = h.cache.Generation(ctx, board); gerr != nil {
			h.logger.WithError(gerr).WithField("board", board).Warn("failed to read cache generation")
		} else {
			cacheable = true
		}
	}
	applyStart := time.Now()
	snap, err := h.svc.Snapshot(ctx, board)
	metrics.ObserveApply(time.Since(applyStart))
	if err != nil {
		return h.fail(c, metrics, "snapshot", err)
	}
	if cacheable {
		if _, cerr := h.cache.Store(ctx, snap, gen); cerr != nil {
			h.logger.WithError(cerr).WithField("board", board).Warn("failed to cache board snapshot")
		}
	}
	metrics.SetItems(len(snap.Items))
	return c.JSON(http.StatusOK, snap)
}

func (h *handlers) postMove(c echo.Context) (err error) {
	metrics, ctx := h.begin(c)
	defer func() { metrics.Log(c.Response().Status, err) }()
	board := c.Param("board")

	decodeStart := time.Now()
	var req moveRequest
	if derr := decodeBody(c.Request().Body, &req); derr != nil {
		return h.fail(c, metrics, "decode", derr)
	}
	cmd, cerr := req.command(actorOf(c))
	metrics.ObserveDecode(time.Since(decodeStart))
	if cerr != nil {
		return h.fail(c, metrics, "decode", cerr)
	}

	key := req.IdempotencyKey
	if key == "" {
		key = c.Request().Header.Get(idempotencyHeader)
	}
	recorded := false
	if key != "" && h.deduper != nil {
		added, derr := h.deduper.Add(ctx, board, key)
		switch {
		case derr != nil:
			h.logger.WithError(derr).WithField("board", board).Warn("deduper unavailable, applying move")
		case !added:
			metrics.SetDuplicate(true)
			snap, serr := h.svc.Snapshot(ctx, board)
			if serr != nil {
				return h.fail(c, metrics, "snapshot", serr)
			}
			metrics.SetItems(len(snap.Items))
			return c.JSON(http.StatusOK, moveResponse{Board: snap, Duplicate: true})
		default:
			recorded = true
		}
	}

	applyStart := time.Now()
	res, merr := h.svc.Move(ctx, board, cmd)
	metrics.ObserveApply(time.Since(applyStart))
	if merr != nil {
		if recorded {
			if rerr := h.deduper.Remove(ctx, board, key); rerr != nil {
				h.logger.WithError(rerr).WithField("board", board).Warn("failed to release idempotency key")
			}
		}
		return h.fail(c, metrics, "move", merr)
	}
	metrics.SetCorrections(res.Corrections)
	metrics.SetItems(len(res.Board.Items))

	encodeStart := time.Now()
	err = c.JSON(http.StatusOK, moveResponse{Item: &res.Item, Board: res.Board, Corrections: res.Corrections})
	metrics.ObserveEncode(time.Since(encodeStart))
	if err != nil {
		metrics.SetErrorStage("encode_response")
	}
	return err
}

func (h *handlers) postNormalize(c echo.Context) (err error) {
	metrics, ctx := h.begin(c)
	defer func() { metrics.Log(c.Response().Status, err) }()

	applyStart := time.Now()
	res, nerr := h.svc.Normalize(ctx, c.Param("board"), domain.Bucket(c.QueryParam("bucket")))
	metrics.ObserveApply(time.Since(applyStart))
	metrics.SetCorrections(res.Corrections)
	if nerr != nil && len(res.FailedLanes) == 0 {
		return h.fail(c, metrics, "normalize", nerr)
	}
	if nerr != nil {
		// partial sweeps still report what was repaired
		metrics.SetErrorStage("normalize")
		h.logger.WithError(nerr).WithField("board", c.Param("board")).Warn("normalization sweep incomplete")
	}
	return c.JSON(http.StatusOK, newNormalizeResponse(res))
}

func (h *handlers) postItem(c echo.Context) (err error) {
	metrics, ctx := h.begin(c)
	defer func() { metrics.Log(c.Response().Status, err) }()

	var req addItemRequest
	if derr := decodeBody(c.Request().Body, &req); derr != nil {
		return h.fail(c, metrics, "decode", derr)
	}
	item, ierr := req.newItem(actorOf(c))
	if ierr != nil {
		return h.fail(c, metrics, "decode", ierr)
	}
	res, aerr := h.svc.AddItem(ctx, c.Param("board"), item)
	if aerr != nil {
		return h.fail(c, metrics, "add", aerr)
	}
	metrics.SetItems(len(res.Board.Items))
	return c.JSON(http.StatusCreated, moveResponse{Item: &res.Item, Board: res.Board, Corrections: res.Corrections})
}

func (h *handlers) deleteItem(c echo.Context) (err error) {
	metrics, ctx := h.begin(c)
	defer func() { metrics.Log(c.Response().Status, err) }()

	id, perr := domain.ParseID(c.Param("id"))
	if perr != nil {
		return h.fail(c, metrics, "decode", perr)
	}
	key := domain.ItemKey{Kind: domain.Kind(c.Param("kind")), ID: id}
	snap, rerr := h.svc.RemoveItem(ctx, c.Param("board"), key)
	if rerr != nil {
		return h.fail(c, metrics, "remove", rerr)
	}
	metrics.SetItems(len(snap.Items))
	return c.JSON(http.StatusOK, snap)
}
