package changefeed

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"

	"negotiation-chat/internal/domain"
	"negotiation-chat/internal/metrics"
	"negotiation-chat/internal/repository"
)

// DecodeRecord converts a DynamoDB stream record into a change event. ok is
// false for rows the feed does not carry.
func DecodeRecord(rec events.DynamoDBEventRecord) (ev domain.ChangeEvent, ok bool, err error) {
	var (
		op    domain.ChangeOp
		image map[string]events.DynamoDBAttributeValue
	)
	switch events.DynamoDBOperationType(rec.EventName) {
	case events.DynamoDBOperationTypeInsert:
		op, image = domain.OpInsert, rec.Change.NewImage
	case events.DynamoDBOperationTypeModify:
		op, image = domain.OpUpdate, rec.Change.NewImage
	case events.DynamoDBOperationTypeRemove:
		op, image = domain.OpDelete, rec.Change.OldImage
	default:
		return ev, false, fmt.Errorf("changefeed: unknown event name %q", rec.EventName)
	}
	if len(image) == 0 {
		// KEYS_ONLY streams carry no image to decode.
		return ev, false, nil
	}
	item, err := convertImage(image)
	if err != nil {
		return ev, false, err
	}
	return repository.DecodeChange(op, item)
}

func convertImage(image map[string]events.DynamoDBAttributeValue) (map[string]types.AttributeValue, error) {
	out := make(map[string]types.AttributeValue, len(image))
	for k, v := range image {
		av, err := convertValue(v)
		if err != nil {
			return nil, fmt.Errorf("changefeed: attribute %q: %w", k, err)
		}
		out[k] = av
	}
	return out, nil
}

func convertValue(v events.DynamoDBAttributeValue) (types.AttributeValue, error) {
	switch v.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}, nil
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}, nil
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}, nil
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}, nil
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.StringSet()}, nil
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: v.NumberSet()}, nil
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: v.BinarySet()}, nil
	case events.DataTypeMap:
		m, err := convertImage(v.Map())
		if err != nil {
			return nil, err
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	case events.DataTypeList:
		list := v.List()
		out := make([]types.AttributeValue, 0, len(list))
		for _, el := range list {
			av, err := convertValue(el)
			if err != nil {
				return nil, err
			}
			out = append(out, av)
		}
		return &types.AttributeValueMemberL{Value: out}, nil
	default:
		return nil, errors.New("unsupported data type")
	}
}

// Forwarder publishes decoded stream records to a change feed.
type Forwarder struct {
	pub     Publisher
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewForwarder(pub Publisher, log zerolog.Logger, m *metrics.Metrics) (*Forwarder, error) {
	if pub == nil {
		return nil, errors.New("changefeed: publisher must not be nil")
	}
	return &Forwarder{pub: pub, log: log.With().Str("component", "stream_forwarder").Logger(), metrics: m}, nil
}

// Forward publishes every record of the batch. Records that cannot be decoded
// are logged and skipped; records whose publish failed are reported as batch
// item failures so the stream redelivers them.
func (f *Forwarder) Forward(ctx context.Context, batch events.DynamoDBEvent) events.DynamoDBEventResponse {
	var resp events.DynamoDBEventResponse
	for _, rec := range batch.Records {
		ev, ok, err := DecodeRecord(rec)
		if err != nil {
			f.log.Error().Err(err).Str("event_id", rec.EventID).Msg("skipping undecodable stream record")
			continue
		}
		if !ok {
			continue
		}
		if err := f.pub.Publish(ctx, ev); err != nil {
			f.log.Error().Err(err).
				Str("event_id", rec.EventID).
				Str("conversation_id", ev.ConversationID).
				Msg("change feed publish failed")
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.DynamoDBBatchItemFailure{
				ItemIdentifier: rec.Change.SequenceNumber,
			})
			continue
		}
		f.metrics.StreamRecord(string(ev.Table), string(ev.Op))
	}
	return resp
}
