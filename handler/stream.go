package handler

import (
	"context"
	"errors"

	"github.com/aws/aws-lambda-go/events"
)

type StreamForwarder interface {
	Forward(ctx context.Context, batch events.DynamoDBEvent) events.DynamoDBEventResponse
}

// StreamHandler feeds DynamoDB stream batches into the change feed. Failed
// records are returned as batch item failures rather than as an error, so
// only they are retried.
type StreamHandler struct {
	fwd StreamForwarder
}

func NewStreamHandler(fwd StreamForwarder) (*StreamHandler, error) {
	if fwd == nil {
		return nil, errors.New("handler: stream forwarder must not be nil")
	}
	return &StreamHandler{fwd: fwd}, nil
}

func (h *StreamHandler) Handle(ctx context.Context, batch events.DynamoDBEvent) (events.DynamoDBEventResponse, error) {
	return h.fwd.Forward(ctx, batch), nil
}
