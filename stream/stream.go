// Package stream decodes DynamoDB Streams events of a blob table into
// per-key changes.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/ddblob/table"
)

// ChangeKind says whether a key was written or removed.
type ChangeKind string

const (
	Put    ChangeKind = "put"
	Delete ChangeKind = "delete"
)

// Change is one row-level change of a blob table.
type Change struct {
	Kind ChangeKind
	Key  string
	// Row is the new row for Put changes.
	Row table.Row

	EventID        string
	SequenceNumber string
	Time           time.Time
}

// ChangeFunc receives decoded changes in stream order.
type ChangeFunc func(ctx context.Context, c Change) error

// Handler processes DynamoDB stream events for a blob table.
type Handler struct {
	fn     ChangeFunc
	logger *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(fn ChangeFunc, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		fn:     fn,
		logger: logger,
	}
}

// HandleEvent passes each record of event to the handler's ChangeFunc.
// It stops at the first failure so that the batch is retried.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleEvent(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err
		}
	}
	return nil
}

func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	change, ok := Decode(record)
	if !ok {
		h.logger.Warn("skipping record without blob key",
			"eventID", record.EventID,
			"eventName", record.EventName,
		)
		return nil
	}

	h.logger.Debug("blob change",
		"kind", change.Kind,
		"key", change.Key,
		"sequenceNumber", change.SequenceNumber,
	)
	if err := h.fn(ctx, change); err != nil {
		return fmt.Errorf("apply %s %s: %w", change.Kind, change.Key, err)
	}
	return nil
}

// Decode turns a stream record into a Change. It reports false for records
// that carry no blob key or an unknown event name.
func Decode(record events.DynamoDBEventRecord) (Change, bool) {
	var key string
	if s, ok := ConvertStreamKey(record.Change.Keys)[table.KeyAttr].(*types.AttributeValueMemberS); ok {
		key = s.Value
	}
	if key == "" {
		key = getStringAttr(record.Change.NewImage, table.KeyAttr)
	}
	if key == "" {
		key = getStringAttr(record.Change.OldImage, table.KeyAttr)
	}
	if key == "" {
		return Change{}, false
	}

	change := Change{
		Key:            key,
		EventID:        record.EventID,
		SequenceNumber: record.Change.SequenceNumber,
		Time:           record.Change.ApproximateCreationDateTime.Time,
	}
	switch events.DynamoDBOperationType(record.EventName) {
	case events.DynamoDBOperationTypeInsert, events.DynamoDBOperationTypeModify:
		image := record.Change.NewImage
		change.Kind = Put
		change.Row = table.Row{
			Key:    key,
			Header: getBinaryAttr(image, table.HeaderAttr),
			Meta:   getBinaryAttr(image, table.MetaAttr),
			Value:  getBinaryAttr(image, table.ValueAttr),
		}
	case events.DynamoDBOperationTypeRemove:
		change.Kind = Delete
	default:
		return Change{}, false
	}
	return change, true
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getBinaryAttr extracts a binary attribute from a DynamoDB stream image.
// Missing or non-binary attributes yield an empty, non-nil slice.
func getBinaryAttr(image map[string]events.DynamoDBAttributeValue, key string) []byte {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeBinary {
		return append([]byte{}, v.Binary()...)
	}
	return []byte{}
}

// ConvertStreamKey converts a DynamoDB stream key to a table.PK.
func ConvertStreamKey(streamKey map[string]events.DynamoDBAttributeValue) table.PK {
	result := make(table.PK)
	for k, v := range streamKey {
		switch v.DataType() {
		case events.DataTypeString:
			result[k] = &types.AttributeValueMemberS{Value: v.String()}
		case events.DataTypeNumber:
			result[k] = &types.AttributeValueMemberN{Value: v.Number()}
		case events.DataTypeBinary:
			result[k] = &types.AttributeValueMemberB{Value: v.Binary()}
		}
	}
	return result
}
