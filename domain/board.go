package domain

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// PartitionMode selects how a board splits items into independently ordered lanes.
type PartitionMode string

const (
	// PartitionByBucket orders all kinds of a bucket together.
	PartitionByBucket PartitionMode = "bucket"
	// PartitionByBucketKind keeps a separate ordering per bucket and kind.
	PartitionByBucketKind PartitionMode = "bucket-kind"
)

// Lane is one ordering partition of a board. Kind is empty when the board
// partitions by bucket only.
type Lane struct {
	Bucket Bucket `json:"bucket"`
	Kind   Kind   `json:"kind,omitempty"`
}

func (l Lane) String() string {
	if l.Kind == "" {
		return string(l.Bucket)
	}
	return string(l.Bucket) + "/" + string(l.Kind)
}

// Board describes the columns and partitioning of one drag-and-drop board.
type Board struct {
	Name      string        `yaml:"name" json:"name"`
	Kinds     []Kind        `yaml:"kinds" json:"kinds"`
	Buckets   []Bucket      `yaml:"buckets" json:"buckets"`
	Terminal  []Bucket      `yaml:"terminal" json:"terminal,omitempty"`
	Partition PartitionMode `yaml:"partition" json:"partition"`
}

func (b Board) AllowsKind(k Kind) bool    { return slices.Contains(b.Kinds, k) }
func (b Board) HasBucket(bk Bucket) bool  { return slices.Contains(b.Buckets, bk) }
func (b Board) IsTerminal(bk Bucket) bool { return slices.Contains(b.Terminal, bk) }
func (b Board) BucketIndex(bk Bucket) int { return slices.Index(b.Buckets, bk) }

// LaneOf returns the lane an item of kind k in bucket bk belongs to.
func (b Board) LaneOf(k Kind, bk Bucket) Lane {
	if b.Partition == PartitionByBucketKind {
		return Lane{Bucket: bk, Kind: k}
	}
	return Lane{Bucket: bk}
}

// Lanes lists every configured lane, optionally restricted to one bucket.
func (b Board) Lanes(only Bucket) []Lane {
	lanes := make([]Lane, 0, len(b.Buckets)*len(b.Kinds))
	for _, bk := range b.Buckets {
		if only != "" && bk != only {
			continue
		}
		if b.Partition == PartitionByBucketKind {
			for _, k := range b.Kinds {
				lanes = append(lanes, Lane{Bucket: bk, Kind: k})
			}
			continue
		}
		lanes = append(lanes, Lane{Bucket: bk})
	}
	return lanes
}

func (b Board) validate() error {
	if b.Name == "" {
		return fmt.Errorf("board without name")
	}
	if len(b.Kinds) == 0 || len(b.Buckets) == 0 {
		return fmt.Errorf("board %s needs at least one kind and one bucket", b.Name)
	}
	switch b.Partition {
	case PartitionByBucket, PartitionByBucketKind:
	default:
		return fmt.Errorf("board %s has unsupported partition %q", b.Name, b.Partition)
	}
	for _, t := range b.Terminal {
		if !b.HasBucket(t) {
			return fmt.Errorf("board %s terminal bucket %q is not a bucket", b.Name, t)
		}
	}
	return nil
}

// Layout is the set of boards served by one deployment.
type Layout struct {
	Boards []Board `yaml:"boards"`
}

// Board returns the named board.
func (l Layout) Board(name string) (Board, error) {
	for _, b := range l.Boards {
		if b.Name == name {
			return b, nil
		}
	}
	return Board{}, fmt.Errorf("%w: %s", ErrUnknownBoard, name)
}

func (l Layout) Names() []string {
	names := make([]string, 0, len(l.Boards))
	for _, b := range l.Boards {
		names = append(names, b.Name)
	}
	return names
}

// ParseLayout decodes and validates a YAML layout document.
func ParseLayout(data []byte) (Layout, error) {
	var l Layout
	if err := yaml.Unmarshal(data, &l); err != nil {
		return Layout{}, fmt.Errorf("parse layout: %w", err)
	}
	if len(l.Boards) == 0 {
		return Layout{}, fmt.Errorf("layout defines no boards")
	}
	seen := make(map[string]struct{}, len(l.Boards))
	for i := range l.Boards {
		if l.Boards[i].Partition == "" {
			l.Boards[i].Partition = PartitionByBucket
		}
		if err := l.Boards[i].validate(); err != nil {
			return Layout{}, err
		}
		if _, dup := seen[l.Boards[i].Name]; dup {
			return Layout{}, fmt.Errorf("board %s defined twice", l.Boards[i].Name)
		}
		seen[l.Boards[i].Name] = struct{}{}
	}
	return l, nil
}

// LoadLayout reads a layout file, falling back to DefaultLayout when path is empty.
func LoadLayout(path string) (Layout, error) {
	if path == "" {
		return DefaultLayout(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Layout{}, err
	}
	return ParseLayout(data)
}

// DefaultLayout mirrors the two boards of the product: the task kanban keeps
// one ordering per column and kind, the ticket kanban orders tickets and their
// follow-up tasks together.
func DefaultLayout() Layout {
	buckets := []Bucket{"queue", "in_progress", "review", "done"}
	return Layout{Boards: []Board{
		{
			Name:      "tasks",
			Kinds:     []Kind{KindTask},
			Buckets:   buckets,
			Terminal:  []Bucket{"done"},
			Partition: PartitionByBucketKind,
		},
		{
			Name:      "tickets",
			Kinds:     []Kind{KindTicket, KindTask},
			Buckets:   buckets,
			Terminal:  []Bucket{"done"},
			Partition: PartitionByBucket,
		},
	}}
}
