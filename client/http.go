package client

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/AINF-EPAMIG/gestao-sub001/domain"
)

const maxErrorBody = 4 * 1024

// HTTP talks to the board API with JSON requests.
type HTTP struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client
}

// NewHTTP creates an HTTP transport for baseURL.
func NewHTTP(baseURL, bearer string) *HTTP {
	return &HTTP{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Bearer:  bearer,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

type moveBody struct {
	ItemID         int64         `json:"itemId"`
	Kind           domain.Kind   `json:"kind"`
	TargetBucket   domain.Bucket `json:"targetBucket"`
	TargetPosition int           `json:"targetPosition"`
	StatusChanged  bool          `json:"statusChanged"`
	PreviousBucket domain.Bucket `json:"previousBucket,omitempty"`
	IdempotencyKey string        `json:"idempotencyKey,omitempty"`
	ClientSequence uint64        `json:"clientSequence,omitempty"`
	IssuedAt       *time.Time    `json:"issuedAt,omitempty"`
}

// NormalizeResult is the reply of the maintenance endpoint.
type NormalizeResult struct {
	Corrections int      `json:"corrections"`
	Lanes       int      `json:"lanes"`
	FailedLanes []string `json:"failedLanes,omitempty"`
}

func boardPath(board string) string {
	return "/api/boards/" + url.PathEscape(board)
}

// Snapshot fetches the canonical state of board.
func (c *HTTP) Snapshot(ctx context.Context, board string) (domain.Snapshot, error) {
	var snap domain.Snapshot
	err := c.do(ctx, http.MethodGet, boardPath(board), nil, nil, &snap)
	return snap, err
}

// Move sends one move command.
func (c *HTTP) Move(ctx context.Context, board string, cmd domain.MoveCommand, idempotencyKey string) (*MoveResult, error) {
	body := moveBody{
		ItemID:         cmd.Key.ID,
		Kind:           cmd.Key.Kind,
		TargetBucket:   cmd.ToBucket,
		TargetPosition: cmd.ToPosition,
		StatusChanged:  cmd.StatusChanged,
		PreviousBucket: cmd.FromBucket,
		IdempotencyKey: idempotencyKey,
		ClientSequence: cmd.ClientSequence,
	}
	if !cmd.IssuedAt.IsZero() {
		issued := cmd.IssuedAt
		body.IssuedAt = &issued
	}
	var header http.Header
	if idempotencyKey != "" {
		header = http.Header{"Idempotency-Key": []string{idempotencyKey}}
	}
	var res MoveResult
	if err := c.do(ctx, http.MethodPost, boardPath(board)+"/moves", header, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Normalize runs the maintenance pass on board, or on one bucket of it.
func (c *HTTP) Normalize(ctx context.Context, board string, bucket domain.Bucket) (NormalizeResult, error) {
	path := boardPath(board) + "/normalize"
	if bucket != "" {
		path += "?bucket=" + url.QueryEscape(string(bucket))
	}
	var res NormalizeResult
	err := c.do(ctx, http.MethodPost, path, nil, nil, &res)
	return res, err
}

func (c *HTTP) do(ctx context.Context, method, path string, header http.Header, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := sonic.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var payload struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if sonic.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return sonic.ConfigStd.NewDecoder(resp.Body).Decode(out)
}
