package domain

import (
	"fmt"
	"time"
)

// MoveCommand relocates one item to a (possibly new) bucket and position.
// FromBucket == ToBucket is a pure reorder.
type MoveCommand struct {
	Key            ItemKey   `json:"key"`
	FromBucket     Bucket    `json:"fromBucket,omitempty"`
	ToBucket       Bucket    `json:"toBucket"`
	ToPosition     int       `json:"toPosition"`
	StatusChanged  bool      `json:"statusChanged,omitempty"`
	ClientSequence uint64    `json:"clientSequence,omitempty"`
	IssuedAt       time.Time `json:"issuedAt,omitempty"`
	Actor          string    `json:"actor,omitempty"`
}

// Validate checks the command shape against the board layout.
func (c MoveCommand) Validate(b Board) error {
	if c.Key.ID <= 0 {
		return fmt.Errorf("%w: item id must be a positive integer", ErrValidation)
	}
	if !b.AllowsKind(c.Key.Kind) {
		return fmt.Errorf("%w: kind %q is not allowed on board %s", ErrValidation, c.Key.Kind, b.Name)
	}
	if !b.HasBucket(c.ToBucket) {
		return fmt.Errorf("%w: unknown bucket %q", ErrValidation, c.ToBucket)
	}
	if c.ToPosition < 1 {
		return fmt.Errorf("%w: position must be at least 1", ErrValidation)
	}
	return nil
}

// NewItem describes an item added to a board. It is placed at the end of its lane.
type NewItem struct {
	Key    ItemKey  `json:"key"`
	Bucket Bucket   `json:"bucket"`
	Title  string   `json:"title,omitempty"`
	Owner  string   `json:"owner,omitempty"`
	Labels []string `json:"labels,omitempty"`
	Actor  string   `json:"actor,omitempty"`
}

func (n NewItem) Validate(b Board) error {
	if n.Key.ID <= 0 {
		return fmt.Errorf("%w: item id must be a positive integer", ErrValidation)
	}
	if !b.AllowsKind(n.Key.Kind) {
		return fmt.Errorf("%w: kind %q is not allowed on board %s", ErrValidation, n.Key.Kind, b.Name)
	}
	if !b.HasBucket(n.Bucket) {
		return fmt.Errorf("%w: unknown bucket %q", ErrValidation, n.Bucket)
	}
	return nil
}
