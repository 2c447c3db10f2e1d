package reconcile

import (
	"slices"
	"time"

	"github.com/AINF-EPAMIG/gestao-sub001/domain"
	"github.com/AINF-EPAMIG/gestao-sub001/ordering"
)

type movePlan struct {
	item       domain.Item
	fromBucket domain.Bucket
	source     domain.Lane
	dest       domain.Lane
	changes    []domain.Change
}

// planMove computes every row write needed to apply cmd against one consistent
// read of the board. The destination lane is rebuilt with the moved item at the
// requested index, which shifts siblings at or after the insertion point up by
// one. When the bucket changes the source lane is dense ranked by (position, id).
func planMove(b domain.Board, rows []domain.Placement, cmd domain.MoveCommand, now time.Time) (movePlan, error) {
	byKey := indexRows(rows)
	moved, ok := byKey[cmd.Key]
	if !ok {
		return movePlan{}, domain.ErrNotFound
	}
	plan := movePlan{
		fromBucket: moved.Bucket,
		source:     b.LaneOf(moved.Kind, moved.Bucket),
		dest:       b.LaneOf(moved.Kind, cmd.ToBucket),
	}
	bucketChanged := moved.Bucket != cmd.ToBucket

	destEntries := entriesOf(laneRows(b, rows, plan.dest))
	destEntries = slices.DeleteFunc(destEntries, func(e ordering.Entry) bool { return e.Key == cmd.Key })
	ordering.Sort(destEntries)
	destKeys, _ := ordering.Insert(ordering.Keys(destEntries), cmd.Key, cmd.ToPosition-1)
	positions := make(map[domain.ItemKey]int, len(rows))
	for i, k := range destKeys {
		positions[k] = i + 1
	}
	if plan.source != plan.dest {
		srcEntries := entriesOf(laneRows(b, rows, plan.source))
		srcEntries = slices.DeleteFunc(srcEntries, func(e ordering.Entry) bool { return e.Key == cmd.Key })
		ordering.Sort(srcEntries)
		for i, e := range srcEntries {
			positions[e.Key] = i + 1
		}
	}

	for key, pos := range positions {
		row := byKey[key]
		updated := row
		updated.Position = pos
		if key == cmd.Key {
			updated.Bucket = cmd.ToBucket
			if bucketChanged || cmd.StatusChanged {
				updated.LastActivityAt = now
				if cmd.Actor != "" {
					updated.MovedBy = cmd.Actor
				}
			}
			if b.IsTerminal(cmd.ToBucket) && updated.CompletedAt == nil {
				done := now
				updated.CompletedAt = &done
			}
			plan.item = updated.Item
		}
		if placementChanged(row, updated) {
			plan.changes = append(plan.changes, domain.Change{Op: domain.ChangeUpdate, Placement: updated})
		}
	}
	slices.SortFunc(plan.changes, func(a, b domain.Change) int {
		return compareKeys(a.Placement.Key(), b.Placement.Key())
	})
	return plan, nil
}

func placementChanged(before, after domain.Placement) bool {
	if before.Bucket != after.Bucket || before.Position != after.Position || before.MovedBy != after.MovedBy {
		return true
	}
	if !before.LastActivityAt.Equal(after.LastActivityAt) {
		return true
	}
	return (before.CompletedAt == nil) != (after.CompletedAt == nil)
}

func compareKeys(a, b domain.ItemKey) int {
	switch {
	case a.Kind < b.Kind:
		return -1
	case a.Kind > b.Kind:
		return 1
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

// renumberPlan dense ranks one lane and returns the rows whose position changed.
func renumberPlan(rows []domain.Placement) []domain.Change {
	entries := entriesOf(rows)
	if ordering.IsDense(entries) {
		return nil
	}
	byKey := indexRows(rows)
	var changes []domain.Change
	for _, fix := range ordering.Corrections(entries) {
		row := byKey[fix.Key]
		row.Position = fix.Position
		changes = append(changes, domain.Change{Op: domain.ChangeUpdate, Placement: row})
	}
	return changes
}
