package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"github.com/AINF-EPAMIG/gestao-sub001/domain"
)

const (
	edmInt64 = "Edm.Int64"
	// maxBatchSize is the entity group transaction limit of Table Storage.
	maxBatchSize = 100
)

type tableAPI interface {
	NewListEntitiesPager(options *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
	SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction, options *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error)
}

// Tables stores placements in one Azure Table. Every board is one partition so
// a change set can be committed as an entity group transaction.
type Tables struct {
	table tableAPI
}

// NewTables connects to the placement table named table.
func NewTables(connStr, table string) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Tables{table: svc.NewClient(table)}, nil
}

type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type placementEntity struct {
	entityKeys
	Kind               string  `json:"Kind"`
	EntityID           int64   `json:"EntityID,string"`
	EntityIDType       string  `json:"EntityID@odata.type"`
	Bucket             string  `json:"Bucket"`
	Position           int     `json:"Position"`
	LastActivityAt     int64   `json:"LastActivityAt,string"`
	LastActivityAtType string  `json:"LastActivityAt@odata.type"`
	CompletedAt        *int64  `json:"CompletedAt,omitempty,string"`
	CompletedAtType    *string `json:"CompletedAt@odata.type,omitempty"`
	Title              string  `json:"Title,omitempty"`
	Owner              string  `json:"Owner,omitempty"`
	Labels             string  `json:"Labels,omitempty"`
	MovedBy            string  `json:"MovedBy,omitempty"`
}

// rowKey zero pads ids so rows of one kind list in id order.
func rowKey(k domain.ItemKey) string {
	return fmt.Sprintf("%s-%019d", k.Kind, k.ID)
}

func encodePlacement(board string, p domain.Placement) ([]byte, error) {
	ent := placementEntity{
		entityKeys:         entityKeys{PartitionKey: board, RowKey: rowKey(p.Key())},
		Kind:               string(p.Kind),
		EntityID:           p.ID,
		EntityIDType:       edmInt64,
		Bucket:             string(p.Bucket),
		Position:           p.Position,
		LastActivityAt:     p.LastActivityAt.UnixNano(),
		LastActivityAtType: edmInt64,
		Title:              p.Title,
		Owner:              p.Owner,
		MovedBy:            p.MovedBy,
	}
	if p.CompletedAt != nil {
		ts := p.CompletedAt.UnixNano()
		t := edmInt64
		ent.CompletedAt = &ts
		ent.CompletedAtType = &t
	}
	if len(p.Labels) > 0 {
		labels, err := sonic.MarshalString(p.Labels)
		if err != nil {
			return nil, err
		}
		ent.Labels = labels
	}
	return sonic.Marshal(ent)
}

func decodePlacement(data []byte) (domain.Placement, error) {
	var raw struct {
		placementEntity
		ETag string `json:"odata.etag"`
	}
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return domain.Placement{}, err
	}
	p := domain.Placement{
		Item: domain.Item{
			ID:             raw.EntityID,
			Kind:           domain.Kind(raw.Kind),
			Bucket:         domain.Bucket(raw.Bucket),
			Position:       raw.Position,
			LastActivityAt: time.Unix(0, raw.LastActivityAt).UTC(),
			Title:          raw.Title,
			Owner:          raw.Owner,
			MovedBy:        raw.MovedBy,
		},
		ETag: raw.ETag,
	}
	if p.ID == 0 {
		// rows written by the legacy importer only carry the row key
		key, err := parseRowKey(raw.RowKey)
		if err != nil {
			return domain.Placement{}, err
		}
		p.ID, p.Kind = key.ID, key.Kind
	}
	if raw.CompletedAt != nil {
		t := time.Unix(0, *raw.CompletedAt).UTC()
		p.CompletedAt = &t
	}
	if raw.Labels != "" {
		if err := sonic.UnmarshalString(raw.Labels, &p.Labels); err != nil {
			return domain.Placement{}, fmt.Errorf("labels of %s: %w", raw.RowKey, err)
		}
	}
	return p, nil
}

func parseRowKey(rk string) (domain.ItemKey, error) {
	kind, id, ok := strings.Cut(rk, "-")
	if !ok {
		return domain.ItemKey{}, fmt.Errorf("malformed row key %q", rk)
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return domain.ItemKey{}, fmt.Errorf("malformed row key %q", rk)
	}
	return domain.ItemKey{Kind: domain.Kind(kind), ID: n}, nil
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// ListPlacements reads the board partition, optionally filtered to one bucket.
func (t *Tables) ListPlacements(ctx context.Context, board string, bucket domain.Bucket) ([]domain.Placement, error) {
	filter := "PartitionKey eq " + quote(board)
	if bucket != "" {
		filter += " and Bucket eq " + quote(string(bucket))
	}
	pager := t.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	rows := []domain.Placement{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			p, err := decodePlacement(e)
			if err != nil {
				return nil, err
			}
			rows = append(rows, p)
		}
	}
	return rows, nil
}

// ApplyChanges submits changes as entity group transactions conditioned on the
// ETags read earlier. Change sets above the transaction limit are split, which
// makes them atomic per chunk only.
func (t *Tables) ApplyChanges(ctx context.Context, board string, changes []domain.Change) error {
	actions := make([]aztables.TransactionAction, 0, len(changes))
	for _, ch := range changes {
		payload, err := encodePlacement(board, ch.Placement)
		if err != nil {
			return err
		}
		action := aztables.TransactionAction{Entity: payload}
		switch ch.Op {
		case domain.ChangeInsert:
			action.ActionType = aztables.TransactionTypeAdd
		case domain.ChangeUpdate:
			action.ActionType = aztables.TransactionTypeUpdateReplace
			action.IfMatch = etagOf(ch.Placement)
		case domain.ChangeDelete:
			action.ActionType = aztables.TransactionTypeDelete
			action.IfMatch = etagOf(ch.Placement)
		default:
			return fmt.Errorf("unsupported change op %d", ch.Op)
		}
		actions = append(actions, action)
	}
	for start := 0; start < len(actions); start += maxBatchSize {
		end := min(start+maxBatchSize, len(actions))
		if _, err := t.table.SubmitTransaction(ctx, actions[start:end], nil); err != nil {
			return mapTableError(err)
		}
	}
	return nil
}

func etagOf(p domain.Placement) *azcore.ETag {
	et := azcore.ETagAny
	if p.ETag != "" {
		et = azcore.ETag(p.ETag)
	}
	return &et
}

func mapTableError(err error) error {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return err
	}
	switch {
	case respErr.StatusCode == 412, respErr.StatusCode == 404:
		return fmt.Errorf("%w: %s", domain.ErrConcurrencyConflict, respErr.ErrorCode)
	case respErr.StatusCode == 409 && respErr.ErrorCode == string(aztables.EntityAlreadyExists):
		return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, respErr.ErrorCode)
	}
	return err
}
