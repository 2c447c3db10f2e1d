package reconcile

import (
	"context"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/AINF-EPAMIG/gestao-sub001/domain"
)

// Normalizer restores the dense 1..N position sequence of lanes. It is
// idempotent and safe to run concurrently with itself and with moves.
type Normalizer struct {
	store       Store
	logger      *log.Logger
	metrics     *Metrics
	newBackOff  func() backoff.BackOff
	parallelism int
}

// NewNormalizer creates a Normalizer working on store.
func NewNormalizer(store Store, logger *log.Logger, metrics *Metrics) *Normalizer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Normalizer{
		store:       store,
		logger:      logger,
		metrics:     metrics,
		newBackOff:  defaultBackOff,
		parallelism: 4,
	}
}

// SweepResult summarizes a normalization sweep over a board.
type SweepResult struct {
	Board       string   `json:"board"`
	Lanes       int      `json:"lanes"`
	Corrections int      `json:"corrections"`
	FailedLanes []string `json:"failedLanes,omitempty"`
}

// NormalizeLane rewrites positions of the lane to their rank in (position, id)
// order, touching only rows whose position differs. It returns the number of
// corrected rows; a settled lane yields zero and no writes.
func (n *Normalizer) NormalizeLane(ctx context.Context, b domain.Board, lane domain.Lane) (int, error) {
	var corrections int
	err := retryOnConflict(ctx, n.newBackOff(), func() error {
		rows, err := n.store.ListPlacements(ctx, b.Name, lane.Bucket)
		if err != nil {
			return err
		}
		changes := renumberPlan(laneRows(b, rows, lane))
		corrections = len(changes)
		if corrections == 0 {
			return nil
		}
		return n.store.ApplyChanges(ctx, b.Name, changes)
	})
	if err != nil {
		n.metrics.normalizeFailed(b.Name)
		return 0, err
	}
	if corrections > 0 {
		n.logger.WithFields(log.Fields{"board": b.Name, "lane": lane.String(), "corrections": corrections}).Info("lane normalized")
	}
	return corrections, nil
}

// Sweep normalizes every lane of the board, or of one bucket when bucket is
// set. Lanes are the configured ones plus any found in stored data. A failing
// lane is logged and skipped; the failures are returned together once all lanes
// were attempted.
func (n *Normalizer) Sweep(ctx context.Context, b domain.Board, bucket domain.Bucket) (SweepResult, error) {
	if bucket != "" && !b.HasBucket(bucket) {
		return SweepResult{}, fmt.Errorf("%w: unknown bucket %q", domain.ErrValidation, bucket)
	}
	lanes := b.Lanes(bucket)
	seen := make(map[domain.Lane]struct{}, len(lanes))
	for _, l := range lanes {
		seen[l] = struct{}{}
	}
	rows, err := n.store.ListPlacements(ctx, b.Name, bucket)
	if err != nil {
		n.logger.WithError(err).WithField("board", b.Name).Warn("lane discovery failed, sweeping configured lanes only")
	}
	for _, r := range rows {
		l := b.LaneOf(r.Kind, r.Bucket)
		if _, ok := seen[l]; !ok {
			seen[l] = struct{}{}
			lanes = append(lanes, l)
		}
	}

	res := SweepResult{Board: b.Name, Lanes: len(lanes)}
	var (
		mu   sync.Mutex
		merr *multierror.Error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.parallelism)
	for _, lane := range lanes {
		g.Go(func() error {
			c, err := n.NormalizeLane(gctx, b, lane)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				n.logger.WithError(err).WithFields(log.Fields{"board": b.Name, "lane": lane.String()}).Error("lane normalization failed")
				res.FailedLanes = append(res.FailedLanes, lane.String())
				merr = multierror.Append(merr, fmt.Errorf("lane %s: %w", lane, err))
				return nil
			}
			res.Corrections += c
			return nil
		})
	}
	_ = g.Wait()
	n.metrics.corrected(b.Name, "sweep", res.Corrections)
	return res, merr.ErrorOrNil()
}
