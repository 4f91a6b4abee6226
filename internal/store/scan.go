package store

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"example.com/cityevents/services/ingestion/internal/models"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/pkg/errors"
)

// scanPageSize bounds one scan page; tuned for bulk export, not latency.
const scanPageSize = 100

// ScanPage returns one page of event records whose key starts with prefix,
// plus an opaque continuation token. An empty prefix scans every event; an
// empty returned token means the scan is complete. Only bulk export and
// reindexing use this path.
func (s *EventStore) ScanPage(ctx context.Context, prefix, token string) ([]*models.Event, string, error) {
	input := &dynamodb.ScanInput{
		TableName:                 aws.String(s.table),
		Limit:                     aws.Int64(scanPageSize),
		FilterExpression:          aws.String("record_type = :rt"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{":rt": {S: aws.String(recordTypeEvent)}},
	}

	if prefix != "" {
		input.FilterExpression = aws.String("record_type = :rt AND begins_with(pk, :prefix)")
		input.ExpressionAttributeValues[":prefix"] = &dynamodb.AttributeValue{S: aws.String(prefix)}
	}

	if token != "" {
		startKey, err := decodeToken(token)
		if err != nil {
			return nil, "", err
		}
		input.ExclusiveStartKey = startKey
	}

	out, err := s.client.ScanWithContext(ctx, input)
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to scan events")
	}

	events := make([]*models.Event, 0, len(out.Items))
	for _, item := range out.Items {
		var event models.Event
		if err := dynamodbattribute.UnmarshalMap(item, &event); err != nil {
			return nil, "", errors.Wrap(err, "failed to unmarshal scanned event")
		}
		events = append(events, &event)
	}

	next := ""
	if len(out.LastEvaluatedKey) > 0 {
		next, err = encodeToken(out.LastEvaluatedKey)
		if err != nil {
			return nil, "", err
		}
	}

	return events, next, nil
}

// ScanByKeyPrefix streams every matching event through fn, page by page. The
// scan is finite; fn returning an error stops it.
func (s *EventStore) ScanByKeyPrefix(ctx context.Context, prefix string, fn func(*models.Event) error) error {
	token := ""
	for {
		events, next, err := s.ScanPage(ctx, prefix, token)
		if err != nil {
			return err
		}
		for _, event := range events {
			if err := fn(event); err != nil {
				return err
			}
		}
		if next == "" {
			return nil
		}
		token = next
	}
}

// Continuation tokens are the store's own page keys, base64-wrapped so
// callers can hold them without knowing the key shape.

func encodeToken(key map[string]*dynamodb.AttributeValue) (string, error) {
	data, err := json.Marshal(key)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode continuation token")
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func decodeToken(token string) (map[string]*dynamodb.AttributeValue, error) {
	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, errors.Wrap(err, "invalid continuation token")
	}
	var key map[string]*dynamodb.AttributeValue
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, errors.Wrap(err, "invalid continuation token")
	}
	return key, nil
}
