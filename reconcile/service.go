// Package reconcile applies board mutations to durable storage and keeps every
// lane densely numbered.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/AINF-EPAMIG/gestao-sub001/domain"
	"github.com/AINF-EPAMIG/gestao-sub001/ordering"
)

// Service is the stateless server side of the position engine. One instance
// serves every board of the layout; kinds only select the lane.
type Service struct {
	layout     domain.Layout
	store      Store
	normalizer *Normalizer
	notifier   Notifier
	repairs    *repairSender
	metrics    *Metrics
	logger     *log.Logger
	now        func() time.Time
	newBackOff func() backoff.BackOff
}

// Option customizes a Service.
type Option func(*Service)

// WithNotifier publishes board changes after every commit.
func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

// WithMetrics records counters for moves and corrections.
func WithMetrics(m *Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithClock overrides the time source used for activity timestamps.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithBackOff overrides the retry policy used on concurrency conflicts.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(s *Service) { s.newBackOff = f }
}

// WithRepairQueue hands lanes whose inline normalization failed to the
// maintenance worker through queue.
func WithRepairQueue(queue RepairQueue, cfg RepairSenderConfig) Option {
	return func(s *Service) {
		if queue != nil {
			s.repairs = newRepairSender(queue, cfg, s.logger, s.metrics)
		}
	}
}

// NewService creates a Service. Options are applied in order, so
// WithMetrics should precede WithRepairQueue.
func NewService(layout domain.Layout, store Store, logger *log.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &Service{
		layout:     layout,
		store:      store,
		logger:     logger,
		now:        time.Now,
		newBackOff: defaultBackOff,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.normalizer = NewNormalizer(store, logger, s.metrics)
	s.normalizer.newBackOff = s.newBackOff
	return s
}

// Close releases the repair sender, delivering queued requests first.
func (s *Service) Close() {
	if s.repairs != nil {
		s.repairs.close()
	}
}

// Layout returns the boards served.
func (s *Service) Layout() domain.Layout { return s.layout }

// Normalizer exposes the repair pass for maintenance entry points.
func (s *Service) Normalizer() *Normalizer { return s.normalizer }

// MoveResult is the outcome of one reconciled command.
type MoveResult struct {
	Item        domain.Item     `json:"item"`
	Board       domain.Snapshot `json:"board"`
	Corrections int             `json:"corrections"`
}

// Move durably applies one move command:
//  1. the item takes its new bucket and position (activity bumped on status change),
//  2. the destination lane is renumbered around it,
//  3. the source lane is closed up when the bucket changed,
//  4. both lanes are normalized regardless,
//  5. a terminal destination stamps the completion time once.
//
// Steps 1-3 and 5 are committed as one conditional batch built from a single
// read; a conflicting concurrent write restarts the cycle.
func (s *Service) Move(ctx context.Context, board string, cmd domain.MoveCommand) (MoveResult, error) {
	b, err := s.layout.Board(board)
	if err != nil {
		return MoveResult{}, err
	}
	if err := cmd.Validate(b); err != nil {
		s.metrics.moved(b.Name, "rejected")
		return MoveResult{}, err
	}

	var plan movePlan
	err = retryOnConflict(ctx, s.newBackOff(), func() error {
		rows, err := s.store.ListPlacements(ctx, b.Name, "")
		if err != nil {
			return err
		}
		plan, err = planMove(b, rows, cmd, s.now().UTC())
		if err != nil {
			return err
		}
		if len(plan.changes) == 0 {
			return nil
		}
		return s.store.ApplyChanges(ctx, b.Name, plan.changes)
	})
	if err != nil {
		s.metrics.moved(b.Name, "failed")
		return MoveResult{}, fmt.Errorf("move %s: %w", cmd.Key, err)
	}

	fields := log.Fields{"board": b.Name, "item": cmd.Key.String(), "from": plan.fromBucket, "to": cmd.ToBucket, "position": plan.item.Position, "writes": len(plan.changes)}
	if cmd.FromBucket != "" && cmd.FromBucket != plan.fromBucket {
		s.logger.WithFields(fields).WithField("client_from", cmd.FromBucket).Warn("move issued against a stale bucket")
	}
	if len(plan.changes) == 0 {
		s.metrics.moved(b.Name, "noop")
		s.logger.WithFields(fields).Debug("move was a no-op")
	} else {
		s.metrics.moved(b.Name, "applied")
		s.logger.WithFields(fields).Debug("move applied")
	}

	lanes := []domain.Lane{plan.dest}
	if plan.source != plan.dest {
		lanes = append(lanes, plan.source)
	}
	corrections := s.normalizeInline(ctx, b, lanes, "move")
	if len(plan.changes) > 0 || corrections > 0 {
		s.notify(ctx, b.Name)
	}

	snap, err := s.Snapshot(ctx, b.Name)
	if err != nil {
		return MoveResult{}, err
	}
	res := MoveResult{Item: plan.item, Board: snap, Corrections: corrections}
	if i := slices.IndexFunc(snap.Items, func(it domain.Item) bool { return it.Key() == cmd.Key }); i >= 0 {
		res.Item = snap.Items[i]
	}
	return res, nil
}

// AddItem places a new item at the end of its lane.
func (s *Service) AddItem(ctx context.Context, board string, item domain.NewItem) (MoveResult, error) {
	b, err := s.layout.Board(board)
	if err != nil {
		return MoveResult{}, err
	}
	if err := item.Validate(b); err != nil {
		return MoveResult{}, err
	}
	lane := b.LaneOf(item.Key.Kind, item.Bucket)

	var created domain.Placement
	err = retryOnConflict(ctx, s.newBackOff(), func() error {
		rows, err := s.store.ListPlacements(ctx, b.Name, item.Bucket)
		if err != nil {
			return err
		}
		existing := laneRows(b, rows, lane)
		last := len(existing)
		for _, r := range existing {
			if r.Key() == item.Key {
				return domain.ErrAlreadyExists
			}
			last = max(last, r.Position)
		}
		now := s.now().UTC()
		created = domain.Placement{Item: domain.Item{
			ID:             item.Key.ID,
			Kind:           item.Key.Kind,
			Bucket:         item.Bucket,
			Position:       last + 1,
			LastActivityAt: now,
			Title:          item.Title,
			Owner:          item.Owner,
			Labels:         item.Labels,
			MovedBy:        item.Actor,
		}}
		if b.IsTerminal(item.Bucket) {
			created.CompletedAt = &now
		}
		return s.store.ApplyChanges(ctx, b.Name, []domain.Change{{Op: domain.ChangeInsert, Placement: created}})
	})
	if err != nil {
		return MoveResult{}, fmt.Errorf("add %s: %w", item.Key, err)
	}
	corrections := s.normalizeInline(ctx, b, []domain.Lane{lane}, "add")
	s.notify(ctx, b.Name)

	snap, err := s.Snapshot(ctx, b.Name)
	if err != nil {
		return MoveResult{}, err
	}
	res := MoveResult{Item: created.Item, Board: snap, Corrections: corrections}
	if i := slices.IndexFunc(snap.Items, func(it domain.Item) bool { return it.Key() == item.Key }); i >= 0 {
		res.Item = snap.Items[i]
	}
	return res, nil
}

// RemoveItem deletes an item and closes the gap in its former lane within the
// same batch.
func (s *Service) RemoveItem(ctx context.Context, board string, key domain.ItemKey) (domain.Snapshot, error) {
	b, err := s.layout.Board(board)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if key.ID <= 0 || !b.AllowsKind(key.Kind) {
		return domain.Snapshot{}, fmt.Errorf("%w: invalid item %s", domain.ErrValidation, key)
	}

	var lane domain.Lane
	err = retryOnConflict(ctx, s.newBackOff(), func() error {
		rows, err := s.store.ListPlacements(ctx, b.Name, "")
		if err != nil {
			return err
		}
		target, ok := indexRows(rows)[key]
		if !ok {
			return domain.ErrNotFound
		}
		lane = b.LaneOf(target.Kind, target.Bucket)
		remaining := slices.DeleteFunc(laneRows(b, rows, lane), func(p domain.Placement) bool { return p.Key() == key })
		changes := []domain.Change{{Op: domain.ChangeDelete, Placement: target}}
		changes = append(changes, renumberPlan(remaining)...)
		return s.store.ApplyChanges(ctx, b.Name, changes)
	})
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("remove %s: %w", key, err)
	}
	s.normalizeInline(ctx, b, []domain.Lane{lane}, "remove")
	s.notify(ctx, b.Name)
	return s.Snapshot(ctx, b.Name)
}

// Normalize runs the maintenance sweep for a board, optionally limited to one
// bucket.
func (s *Service) Normalize(ctx context.Context, board string, bucket domain.Bucket) (SweepResult, error) {
	b, err := s.layout.Board(board)
	if err != nil {
		return SweepResult{}, err
	}
	res, err := s.normalizer.Sweep(ctx, b, bucket)
	if errors.Is(err, domain.ErrValidation) {
		return res, err
	}
	if res.Corrections > 0 {
		s.notify(ctx, b.Name)
	}
	if err != nil {
		for _, lane := range res.FailedLanes {
			s.requestRepair(b.Name, laneFromString(lane), "sweep failure")
		}
	}
	return res, err
}

// Snapshot reads every item of the board in display order: bucket order of the
// layout, then lane kind, then position and id.
func (s *Service) Snapshot(ctx context.Context, board string) (domain.Snapshot, error) {
	b, err := s.layout.Board(board)
	if err != nil {
		return domain.Snapshot{}, err
	}
	rows, err := s.store.ListPlacements(ctx, b.Name, "")
	if err != nil {
		return domain.Snapshot{}, err
	}
	slices.SortStableFunc(rows, func(x, y domain.Placement) int {
		if bx, by := b.BucketIndex(x.Bucket), b.BucketIndex(y.Bucket); bx != by {
			return bx - by
		}
		lx, ly := b.LaneOf(x.Kind, x.Bucket), b.LaneOf(y.Kind, y.Bucket)
		if lx.Kind != ly.Kind {
			if lx.Kind < ly.Kind {
				return -1
			}
			return 1
		}
		ex := ordering.Entry{Key: x.Key(), Position: x.Position}
		ey := ordering.Entry{Key: y.Key(), Position: y.Position}
		switch {
		case ordering.Less(ex, ey):
			return -1
		case ordering.Less(ey, ex):
			return 1
		}
		return 0
	})
	items := make([]domain.Item, len(rows))
	for i, r := range rows {
		items[i] = r.Item
	}
	return domain.Snapshot{Board: b.Name, Items: items, FetchedAt: s.now().UTC()}, nil
}

// normalizeInline runs the repair pass on lanes touched by a write. Failures
// are logged and queued for the maintenance worker; they never fail the write.
func (s *Service) normalizeInline(ctx context.Context, b domain.Board, lanes []domain.Lane, reason string) int {
	total := 0
	for _, lane := range lanes {
		n, err := s.normalizer.NormalizeLane(ctx, b, lane)
		if err != nil {
			s.logger.WithError(err).WithFields(log.Fields{"board": b.Name, "lane": lane.String()}).Error("inline normalization failed")
			s.requestRepair(b.Name, lane, reason)
			continue
		}
		total += n
	}
	s.metrics.corrected(b.Name, "inline", total)
	return total
}

func (s *Service) requestRepair(board string, lane domain.Lane, reason string) {
	if s.repairs == nil {
		return
	}
	req := domain.RepairRequest{Board: board, Bucket: lane.Bucket, Kind: lane.Kind, Reason: reason, RequestedAt: s.now().UTC()}
	if !s.repairs.send(req) {
		s.logger.WithFields(log.Fields{"board": board, "lane": lane.String()}).Warn("repair request dropped, periodic sweep will cover it")
	}
}

func (s *Service) notify(ctx context.Context, board string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.BoardChanged(ctx, board); err != nil {
		s.logger.WithError(err).WithField("board", board).Warn("board change notification failed")
	}
}

func laneFromString(s string) domain.Lane {
	bucket, kind, _ := strings.Cut(s, "/")
	return domain.Lane{Bucket: domain.Bucket(bucket), Kind: domain.Kind(kind)}
}
