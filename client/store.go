package client

import (
	"fmt"
	"sort"
	"sync"

	"github.com/AINF-EPAMIG/gestao-sub001/domain"
	"github.com/AINF-EPAMIG/gestao-sub001/ordering"
)

// Moved describes a move applied to the store.
type Moved struct {
	Item domain.Item
	// From is the lane the item left and FromIndex its zero based index there.
	From      domain.Lane
	FromIndex int
	Changed   bool
}

// Store is the local ordered working set of one board. Lanes are always kept
// dense, so positions equal index+1.
type Store struct {
	mu     sync.Mutex
	board  domain.Board
	ledger *Ledger
	loaded bool
	items  map[domain.ItemKey]domain.Item
	lanes  map[domain.Lane][]domain.ItemKey
}

func NewStore(board domain.Board, ledger *Ledger) *Store {
	if ledger == nil {
		ledger = NewLedger(DefaultFreshness, nil)
	}
	return &Store{
		board:  board,
		ledger: ledger,
		items:  make(map[domain.ItemKey]domain.Item),
		lanes:  make(map[domain.Lane][]domain.ItemKey),
	}
}

func (s *Store) Board() domain.Board { return s.board }
func (s *Store) Ledger() *Ledger     { return s.ledger }

// LoadSnapshot replaces the working set with server items. The first load
// takes the server order as is; later loads go through MergeSnapshot.
func (s *Store) LoadSnapshot(items []domain.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		s.loaded = true
		s.rebuild(items, nil)
		return
	}
	s.merge(items)
}

// MergeSnapshot folds server items into the store. A fresh ledger record
// overrides the server bucket and position of its item.
func (s *Store) MergeSnapshot(items []domain.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = true
	s.merge(items)
}

func (s *Store) merge(items []domain.Item) {
	local := make(map[domain.ItemKey]bool)
	merged := make([]domain.Item, len(items))
	for i, it := range items {
		if rec, ok := s.ledger.Lookup(it.Key()); ok {
			it.Bucket = rec.Bucket
			it.Position = rec.Position
			local[it.Key()] = true
		}
		merged[i] = it
	}
	s.rebuild(merged, local)
}

// rebuild regroups items into lanes sorted by (position, ledger first, id)
// and renumbers every lane densely.
func (s *Store) rebuild(items []domain.Item, local map[domain.ItemKey]bool) {
	s.items = make(map[domain.ItemKey]domain.Item, len(items))
	s.lanes = make(map[domain.Lane][]domain.ItemKey)
	for _, it := range items {
		s.items[it.Key()] = it
		lane := s.board.LaneOf(it.Kind, it.Bucket)
		s.lanes[lane] = append(s.lanes[lane], it.Key())
	}
	for lane, keys := range s.lanes {
		sort.SliceStable(keys, func(i, j int) bool {
			a, b := s.items[keys[i]], s.items[keys[j]]
			if a.Position != b.Position {
				return a.Position < b.Position
			}
			if local[a.Key()] != local[b.Key()] {
				return local[a.Key()]
			}
			return ordering.Less(ordering.Entry{Key: a.Key(), Position: a.Position}, ordering.Entry{Key: b.Key(), Position: b.Position})
		})
		s.renumber(lane, keys)
	}
}

func (s *Store) renumber(lane domain.Lane, keys []domain.ItemKey) {
	if len(keys) == 0 {
		delete(s.lanes, lane)
		return
	}
	s.lanes[lane] = keys
	for i, k := range keys {
		it := s.items[k]
		it.Position = i + 1
		s.items[k] = it
	}
}

// ApplyMove moves cmd.Key to cmd.ToBucket at cmd.ToPosition. Positions past
// the end of the lane append. The source lane is renumbered when it differs.
func (s *Store) ApplyMove(cmd domain.MoveCommand) (Moved, error) {
	return s.applyMove(cmd, nil)
}

// applyMove runs applied under the store lock once the move changed the
// store, so nothing can merge in between.
func (s *Store) applyMove(cmd domain.MoveCommand, applied func(Moved)) (Moved, error) {
	if err := cmd.Validate(s.board); err != nil {
		return Moved{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[cmd.Key]
	if !ok {
		return Moved{}, fmt.Errorf("%w: %s", domain.ErrNotFound, cmd.Key)
	}
	from := s.board.LaneOf(it.Kind, it.Bucket)
	to := s.board.LaneOf(it.Kind, cmd.ToBucket)

	srcKeys, fromIndex := ordering.Remove(s.lanes[from], cmd.Key)
	res := Moved{From: from, FromIndex: fromIndex}
	if from == to {
		target := ordering.ClampIndex(cmd.ToPosition-1, len(srcKeys))
		if target == fromIndex {
			res.Item = it
			return res, nil
		}
		keys, _ := ordering.Insert(srcKeys, cmd.Key, target)
		s.renumber(to, keys)
	} else {
		keys, _ := ordering.Insert(s.lanes[to], cmd.Key, cmd.ToPosition-1)
		s.renumber(from, srcKeys)
		it.Bucket = cmd.ToBucket
		if cmd.Actor != "" {
			it.MovedBy = cmd.Actor
		}
		s.items[cmd.Key] = it
		s.renumber(to, keys)
	}
	res.Item = s.items[cmd.Key]
	res.Changed = true
	if applied != nil {
		applied(res)
	}
	return res, nil
}

// Lane returns the items of the lane holding kind k in bucket bk, in order.
func (s *Store) Lane(k domain.Kind, bk domain.Bucket) []domain.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := s.lanes[s.board.LaneOf(k, bk)]
	out := make([]domain.Item, len(keys))
	for i, key := range keys {
		out[i] = s.items[key]
	}
	return out
}

// Items returns every item ordered by bucket, lane kind and position.
func (s *Store) Items() []domain.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if ai, bi := s.board.BucketIndex(a.Bucket), s.board.BucketIndex(b.Bucket); ai != bi {
			return ai < bi
		}
		if la, lb := s.board.LaneOf(a.Kind, a.Bucket), s.board.LaneOf(b.Kind, b.Bucket); la.Kind != lb.Kind {
			return la.Kind < lb.Kind
		}
		return ordering.Less(ordering.Entry{Key: a.Key(), Position: a.Position}, ordering.Entry{Key: b.Key(), Position: b.Position})
	})
	return out
}

func (s *Store) Item(key domain.ItemKey) (domain.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[key]
	return it, ok
}
