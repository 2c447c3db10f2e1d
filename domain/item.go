package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind distinguishes the source tables an item may come from. Item ids are only
// unique within a kind.
type Kind string

const (
	KindTask   Kind = "task"
	KindTicket Kind = "ticket"
)

// Bucket is a board column, usually a workflow status.
type Bucket string

// ItemKey identifies an item across kinds.
type ItemKey struct {
	Kind Kind  `json:"kind"`
	ID   int64 `json:"id"`
}

func (k ItemKey) String() string {
	return string(k.Kind) + ":" + strconv.FormatInt(k.ID, 10)
}

// ParseItemKey parses the "kind:id" form produced by ItemKey.String.
func ParseItemKey(s string) (ItemKey, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || kind == "" {
		return ItemKey{}, fmt.Errorf("%w: malformed item key %q", ErrValidation, s)
	}
	n, err := ParseID(id)
	if err != nil {
		return ItemKey{}, err
	}
	return ItemKey{Kind: Kind(kind), ID: n}, nil
}

// ParseID parses a positive numeric identifier.
func ParseID(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: identifier %q is not a positive integer", ErrValidation, s)
	}
	return n, nil
}

// Item is an ordered-board entry as seen by clients.
type Item struct {
	ID             int64      `json:"id"`
	Kind           Kind       `json:"kind"`
	Bucket         Bucket     `json:"bucket"`
	Position       int        `json:"position"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	Title          string     `json:"title,omitempty"`
	Owner          string     `json:"owner,omitempty"`
	Labels         []string   `json:"labels,omitempty"`
	MovedBy        string     `json:"movedBy,omitempty"`
}

func (i Item) Key() ItemKey { return ItemKey{Kind: i.Kind, ID: i.ID} }

// Placement is the persisted ordering row of one item. ETag carries the storage
// version used for conditional writes.
type Placement struct {
	Item
	ETag string `json:"-"`
}

// Snapshot is the full canonical state of a board.
type Snapshot struct {
	Board     string    `json:"board"`
	Items     []Item    `json:"items"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// ChangeOp is the kind of write in a placement change set.
type ChangeOp int

const (
	ChangeInsert ChangeOp = iota
	ChangeUpdate
	ChangeDelete
)

// Change is one conditional write. Updates and deletes are conditioned on the
// placement ETag read in the same cycle.
type Change struct {
	Op        ChangeOp
	Placement Placement
}

// RepairRequest asks the maintenance worker to normalize one lane.
type RepairRequest struct {
	Board       string    `json:"board"`
	Bucket      Bucket    `json:"bucket"`
	Kind        Kind      `json:"kind,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	RequestedAt time.Time `json:"requestedAt"`
}

func (r RepairRequest) Lane() Lane { return Lane{Bucket: r.Bucket, Kind: r.Kind} }
