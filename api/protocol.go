package api

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/bytedance/sonic"

	"github.com/AINF-EPAMIG/gestao-sub001/domain"
	"github.com/AINF-EPAMIG/gestao-sub001/reconcile"
)

const maxBodySize = 64 * 1024 // 64 KiB

// itemID accepts a JSON number or a numeric string.
type itemID int64

func (id *itemID) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := sonic.Unmarshal(raw, &s); err != nil {
			return err
		}
		raw = []byte(s)
	}
	n, err := domain.ParseID(string(raw))
	if err != nil {
		return err
	}
	*id = itemID(n)
	return nil
}

// POST /api/boards/:board/moves request body
type moveRequest struct {
	ItemID          *itemID       `json:"itemId"`
	Kind            domain.Kind   `json:"kind"`
	TargetBucket    domain.Bucket `json:"targetBucket"`
	TargetPosition  int           `json:"targetPosition"`
	StatusChanged   bool          `json:"statusChanged"`
	PreviousBucket  domain.Bucket `json:"previousBucket,omitempty"`
	ActorIdentifier string        `json:"actorIdentifier,omitempty"`
	IdempotencyKey  string        `json:"idempotencyKey,omitempty"`
	ClientSequence  uint64        `json:"clientSequence,omitempty"`
	IssuedAt        *time.Time    `json:"issuedAt,omitempty"`
}

func (r moveRequest) command(actor string) (domain.MoveCommand, error) {
	if r.ItemID == nil {
		return domain.MoveCommand{}, fmt.Errorf("%w: itemId is required", domain.ErrValidation)
	}
	cmd := domain.MoveCommand{
		Key:            domain.ItemKey{Kind: r.Kind, ID: int64(*r.ItemID)},
		FromBucket:     r.PreviousBucket,
		ToBucket:       r.TargetBucket,
		ToPosition:     r.TargetPosition,
		StatusChanged:  r.StatusChanged,
		ClientSequence: r.ClientSequence,
		Actor:          actor,
	}
	if r.IssuedAt != nil {
		cmd.IssuedAt = *r.IssuedAt
	}
	// the token subject wins over the self declared actor
	if cmd.Actor == "" {
		cmd.Actor = r.ActorIdentifier
	}
	return cmd, nil
}

// POST /api/boards/:board/moves response body
type moveResponse struct {
	Item        *domain.Item    `json:"item,omitempty"`
	Board       domain.Snapshot `json:"board"`
	Corrections int             `json:"corrections"`
	Duplicate   bool            `json:"duplicate,omitempty"`
}

// POST /api/boards/:board/items request body
type addItemRequest struct {
	ItemID *itemID       `json:"itemId"`
	Kind   domain.Kind   `json:"kind"`
	Bucket domain.Bucket `json:"bucket"`
	Title  string        `json:"title,omitempty"`
	Owner  string        `json:"owner,omitempty"`
	Labels []string      `json:"labels,omitempty"`
}

func (r addItemRequest) newItem(actor string) (domain.NewItem, error) {
	if r.ItemID == nil {
		return domain.NewItem{}, fmt.Errorf("%w: itemId is required", domain.ErrValidation)
	}
	return domain.NewItem{
		Key:    domain.ItemKey{Kind: r.Kind, ID: int64(*r.ItemID)},
		Bucket: r.Bucket,
		Title:  r.Title,
		Owner:  r.Owner,
		Labels: r.Labels,
		Actor:  actor,
	}, nil
}

// POST /api/boards/:board/normalize response body
type normalizeResponse struct {
	Corrections int      `json:"corrections"`
	Lanes       int      `json:"lanes"`
	FailedLanes []string `json:"failedLanes,omitempty"`
}

func newNormalizeResponse(res reconcile.SweepResult) normalizeResponse {
	return normalizeResponse{Corrections: res.Corrections, Lanes: res.Lanes, FailedLanes: res.FailedLanes}
}

type errorResponse struct {
	Error string `json:"error"`
}

// decodeBody decodes one JSON document of at most maxBodySize bytes,
// rejecting unknown fields.
func decodeBody(body io.Reader, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid body: %v", domain.ErrValidation, err)
	}
	return nil
}
