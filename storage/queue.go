package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"github.com/AINF-EPAMIG/gestao-sub001/domain"
)

type queueAPI interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
	DequeueMessage(ctx context.Context, o *azqueue.DequeueMessageOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

// RepairQueue carries lanes that need normalization to the sweeper.
type RepairQueue struct {
	queue queueAPI
	// visibility is how long a dequeued request stays hidden before redelivery.
	visibility int32
}

// NewRepairQueue connects to the repair queue named name.
func NewRepairQueue(connStr, name string) (*RepairQueue, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, &opts)
	if err != nil {
		return nil, err
	}
	return &RepairQueue{queue: q, visibility: 60}, nil
}

// EnqueueRepair sends req to the queue.
func (q *RepairQueue) EnqueueRepair(ctx context.Context, req domain.RepairRequest) error {
	data, err := sonic.MarshalString(req)
	if err != nil {
		return err
	}
	_, err = q.queue.EnqueueMessage(ctx, data, nil)
	return err
}

// RepairMessage is a dequeued request together with its delivery receipt.
type RepairMessage struct {
	Request      domain.RepairRequest
	ID           string
	PopReceipt   string
	DequeueCount int64
}

// Dequeue retrieves a single repair request. It returns nil when the queue is
// empty. Undecodable messages are returned with a zero Request so the caller
// can delete them.
func (q *RepairQueue) Dequeue(ctx context.Context) (*RepairMessage, error) {
	resp, err := q.queue.DequeueMessage(ctx, &azqueue.DequeueMessageOptions{VisibilityTimeout: &q.visibility})
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	msg := resp.Messages[0]
	out := &RepairMessage{ID: deref(msg.MessageID), PopReceipt: deref(msg.PopReceipt)}
	if msg.DequeueCount != nil {
		out.DequeueCount = *msg.DequeueCount
	}
	if msg.MessageText != nil {
		if err := sonic.UnmarshalString(*msg.MessageText, &out.Request); err != nil {
			out.Request = domain.RepairRequest{}
		}
	}
	return out, nil
}

// Delete removes a processed message from the queue.
func (q *RepairQueue) Delete(ctx context.Context, msg *RepairMessage) error {
	_, err := q.queue.DeleteMessage(ctx, msg.ID, msg.PopReceipt, nil)
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
