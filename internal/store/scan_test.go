package store

import (
	"context"
	"testing"

	"example.com/cityevents/services/ingestion/internal/models"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/stretchr/testify/require"
)

func scannedItem(t *testing.T, id string) map[string]*dynamodb.AttributeValue {
	t.Helper()
	item, err := dynamodbattribute.MarshalMap(testEvent(id))
	require.NoError(t, err)
	item["pk"] = &dynamodb.AttributeValue{S: aws.String(id)}
	item["sk"] = &dynamodb.AttributeValue{S: aws.String(id)}
	item["record_type"] = &dynamodb.AttributeValue{S: aws.String("EVENT")}
	return item
}

func TestScanByKeyPrefixPaginates(t *testing.T) {
	lastKey := map[string]*dynamodb.AttributeValue{
		"pk": {S: aws.String("ID-01")},
		"sk": {S: aws.String("ID-01")},
	}

	calls := 0
	fake := &fakeDynamo{
		scanFn: func(in *dynamodb.ScanInput) (*dynamodb.ScanOutput, error) {
			calls++
			if calls == 1 {
				require.Nil(t, in.ExclusiveStartKey)
				return &dynamodb.ScanOutput{
					Items:            []map[string]*dynamodb.AttributeValue{scannedItem(t, "ID-00"), scannedItem(t, "ID-01")},
					LastEvaluatedKey: lastKey,
				}, nil
			}
			// The continuation token round-trips into the page key
			require.Equal(t, "ID-01", *in.ExclusiveStartKey["pk"].S)
			return &dynamodb.ScanOutput{
				Items: []map[string]*dynamodb.AttributeValue{scannedItem(t, "ID-02")},
			}, nil
		},
	}

	s := testStore(fake)

	var seen []string
	err := s.ScanByKeyPrefix(context.Background(), "", func(event *models.Event) error {
		seen = append(seen, event.ID)
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, []string{"ID-00", "ID-01", "ID-02"}, seen)
	require.Equal(t, 2, calls)
}

func TestScanPagePrefixFilter(t *testing.T) {
	fake := &fakeDynamo{
		scanFn: func(in *dynamodb.ScanInput) (*dynamodb.ScanOutput, error) {
			require.Contains(t, *in.FilterExpression, "begins_with(pk, :prefix)")
			require.Equal(t, "CRAWLER-", *in.ExpressionAttributeValues[":prefix"].S)
			return &dynamodb.ScanOutput{}, nil
		},
	}

	s := testStore(fake)
	events, next, err := s.ScanPage(context.Background(), "CRAWLER-", "")

	require.NoError(t, err)
	require.Empty(t, events)
	require.Empty(t, next)
}

func TestScanPageRejectsBadToken(t *testing.T) {
	s := testStore(&fakeDynamo{})
	_, _, err := s.ScanPage(context.Background(), "", "not-base64!!")
	require.Error(t, err)
}
