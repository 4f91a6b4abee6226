// Package store persists canonical records in DynamoDB. The table is the
// source of truth and is append-only for pipeline-originated records: a
// conditional put keyed by the deterministic ID makes the first writer win and
// turns every later attempt into an idempotent no-op.
package store

import (
	"context"
	"time"

	"example.com/cityevents/services/ingestion/config"
	"example.com/cityevents/services/ingestion/internal/identity"
	"example.com/cityevents/services/ingestion/internal/models"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Record type discriminators stored alongside each item
const (
	recordTypeEvent     = "EVENT"
	recordTypeGroupInfo = "GROUP_INFO"
	recordTypeSchedule  = "SCHEDULE"
)

// DynamoAPI is the subset of the DynamoDB client the store uses. The concrete
// *dynamodb.DynamoDB satisfies it; tests substitute a mock.
type DynamoAPI interface {
	PutItemWithContext(aws.Context, *dynamodb.PutItemInput, ...request.Option) (*dynamodb.PutItemOutput, error)
	ScanWithContext(aws.Context, *dynamodb.ScanInput, ...request.Option) (*dynamodb.ScanOutput, error)
	DescribeTableWithContext(aws.Context, *dynamodb.DescribeTableInput, ...request.Option) (*dynamodb.DescribeTableOutput, error)
	CreateTableWithContext(aws.Context, *dynamodb.CreateTableInput, ...request.Option) (*dynamodb.CreateTableOutput, error)
}

// EventStore is the persistence adapter over DynamoDB
type EventStore struct {
	client     DynamoAPI
	table      string
	maxRetries int
	chunkPause time.Duration
	sleep      func(time.Duration)
}

// NewEventStore creates a store backed by a real DynamoDB client.
func NewEventStore(cfg config.DynamoConfig, chunkPause time.Duration) (*EventStore, error) {
	awsCfg := aws.NewConfig().WithRegion(cfg.Region)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create AWS session")
	}

	return newEventStore(dynamodb.New(sess), cfg, chunkPause), nil
}

func newEventStore(client DynamoAPI, cfg config.DynamoConfig, chunkPause time.Duration) *EventStore {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &EventStore{
		client:     client,
		table:      cfg.Table,
		maxRetries: maxRetries,
		chunkPause: chunkPause,
		sleep:      time.Sleep,
	}
}

// CreateIfAbsent writes the event keyed by its deterministic ID, only if no
// record exists for that key. A failed condition is not an error: it reports
// created=false with the existing ID and callers treat it as success.
func (s *EventStore) CreateIfAbsent(ctx context.Context, event *models.Event) (bool, string, error) {
	item, err := eventItem(event)
	if err != nil {
		return false, event.ID, err
	}

	err = s.putIfAbsent(ctx, item)
	if err != nil {
		if isConditionalCheckFailed(err) {
			log.Debug().Str("id", event.ID).Msg("Event already exists, skipping create")
			return false, event.ID, nil
		}
		return false, event.ID, errors.Wrapf(err, "failed to put event %s", event.ID)
	}

	return true, event.ID, nil
}

// CreateGroupIfAbsent writes the GROUP_INFO record and one record per
// schedule, all under the group's identity prefix. The group counts as
// created when its GROUP_INFO record was absent; schedules that already exist
// are idempotent no-ops.
func (s *EventStore) CreateGroupIfAbsent(ctx context.Context, group *models.Group) (bool, string, error) {
	info, err := groupInfoItem(group)
	if err != nil {
		return false, group.ID, err
	}

	created := true
	if err := s.putIfAbsent(ctx, info); err != nil {
		if !isConditionalCheckFailed(err) {
			return false, group.ID, errors.Wrapf(err, "failed to put group %s", group.ID)
		}
		created = false
	}

	for _, schedule := range group.Schedules {
		item, err := scheduleItem(group, schedule)
		if err != nil {
			return created, group.ID, err
		}
		if err := s.putIfAbsent(ctx, item); err != nil && !isConditionalCheckFailed(err) {
			return created, group.ID, errors.Wrapf(err, "failed to put schedule for group %s", group.ID)
		}
	}

	return created, group.ID, nil
}

// putIfAbsent issues the conditional write. The attribute_not_exists predicate
// on the partition key is the only concurrency-safety primitive the pipeline
// relies on: the first successful write wins the race.
func (s *EventStore) putIfAbsent(ctx context.Context, item map[string]*dynamodb.AttributeValue) error {
	_, err := s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk) AND attribute_not_exists(sk)"),
	})
	return err
}

// eventItem marshals an event into a self-keyed table item (pk = sk = ID).
func eventItem(event *models.Event) (map[string]*dynamodb.AttributeValue, error) {
	item, err := dynamodbattribute.MarshalMap(event)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal event %s", event.ID)
	}

	item["pk"] = &dynamodb.AttributeValue{S: aws.String(event.ID)}
	item["sk"] = &dynamodb.AttributeValue{S: aws.String(event.ID)}
	item["record_type"] = &dynamodb.AttributeValue{S: aws.String(recordTypeEvent)}

	// GSI attributes for the secondary access paths downstream consumers
	// query: by creation time, by organizer+date, by category+title.
	item["gsi_created"] = &dynamodb.AttributeValue{S: aws.String(recordTypeEvent)}
	if event.Venue != "" && event.StartDate != "" {
		item["organizer"] = &dynamodb.AttributeValue{S: aws.String(event.Venue)}
	}
	return item, nil
}

func groupInfoItem(group *models.Group) (map[string]*dynamodb.AttributeValue, error) {
	item, err := dynamodbattribute.MarshalMap(group)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal group %s", group.ID)
	}

	item["pk"] = &dynamodb.AttributeValue{S: aws.String(group.ID)}
	item["sk"] = &dynamodb.AttributeValue{S: aws.String(identity.GroupInfoSortKey)}
	item["record_type"] = &dynamodb.AttributeValue{S: aws.String(recordTypeGroupInfo)}
	return item, nil
}

func scheduleItem(group *models.Group, schedule models.GroupSchedule) (map[string]*dynamodb.AttributeValue, error) {
	item, err := dynamodbattribute.MarshalMap(schedule)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal schedule for group %s", group.ID)
	}

	item["pk"] = &dynamodb.AttributeValue{S: aws.String(group.ID)}
	item["sk"] = &dynamodb.AttributeValue{S: aws.String(identity.ScheduleSortKey(schedule))}
	item["record_type"] = &dynamodb.AttributeValue{S: aws.String(recordTypeSchedule)}
	return item, nil
}

// EnsureTable idempotently creates the table with its key schema and the
// secondary indexes; it does not error when the table already exists.
func (s *EventStore) EnsureTable(ctx context.Context) error {
	_, err := s.client.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.table),
	})
	if err == nil {
		return nil
	}
	if aerr, ok := err.(awserr.Error); !ok || aerr.Code() != dynamodb.ErrCodeResourceNotFoundException {
		return errors.Wrapf(err, "failed to describe table %s", s.table)
	}

	log.Info().Str("table", s.table).Msg("Creating DynamoDB table")

	_, err = s.client.CreateTableWithContext(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(s.table),
		BillingMode: aws.String(dynamodb.BillingModePayPerRequest),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String("pk"), AttributeType: aws.String("S")},
			{AttributeName: aws.String("sk"), AttributeType: aws.String("S")},
			{AttributeName: aws.String("gsi_created"), AttributeType: aws.String("S")},
			{AttributeName: aws.String("created_at"), AttributeType: aws.String("N")},
			{AttributeName: aws.String("organizer"), AttributeType: aws.String("S")},
			{AttributeName: aws.String("start_date"), AttributeType: aws.String("S")},
			{AttributeName: aws.String("category"), AttributeType: aws.String("S")},
			{AttributeName: aws.String("title"), AttributeType: aws.String("S")},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String("pk"), KeyType: aws.String(dynamodb.KeyTypeHash)},
			{AttributeName: aws.String("sk"), KeyType: aws.String(dynamodb.KeyTypeRange)},
		},
		GlobalSecondaryIndexes: []*dynamodb.GlobalSecondaryIndex{
			{
				IndexName: aws.String("by-created-at"),
				KeySchema: []*dynamodb.KeySchemaElement{
					{AttributeName: aws.String("gsi_created"), KeyType: aws.String(dynamodb.KeyTypeHash)},
					{AttributeName: aws.String("created_at"), KeyType: aws.String(dynamodb.KeyTypeRange)},
				},
				Projection: &dynamodb.Projection{ProjectionType: aws.String(dynamodb.ProjectionTypeAll)},
			},
			{
				IndexName: aws.String("by-organizer-date"),
				KeySchema: []*dynamodb.KeySchemaElement{
					{AttributeName: aws.String("organizer"), KeyType: aws.String(dynamodb.KeyTypeHash)},
					{AttributeName: aws.String("start_date"), KeyType: aws.String(dynamodb.KeyTypeRange)},
				},
				Projection: &dynamodb.Projection{ProjectionType: aws.String(dynamodb.ProjectionTypeAll)},
			},
			{
				IndexName: aws.String("by-category-title"),
				KeySchema: []*dynamodb.KeySchemaElement{
					{AttributeName: aws.String("category"), KeyType: aws.String(dynamodb.KeyTypeHash)},
					{AttributeName: aws.String("title"), KeyType: aws.String(dynamodb.KeyTypeRange)},
				},
				Projection: &dynamodb.Projection{ProjectionType: aws.String(dynamodb.ProjectionTypeAll)},
			},
		},
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == dynamodb.ErrCodeResourceInUseException {
			return nil
		}
		return errors.Wrapf(err, "failed to create table %s", s.table)
	}

	return nil
}

func isConditionalCheckFailed(err error) bool {
	aerr, ok := errors.Cause(err).(awserr.Error)
	return ok && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException
}

// isThrottled reports whether the store rejected a write transiently; those
// writes are retried with backoff.
func isThrottled(err error) bool {
	aerr, ok := errors.Cause(err).(awserr.Error)
	if !ok {
		return false
	}
	switch aerr.Code() {
	case dynamodb.ErrCodeProvisionedThroughputExceededException,
		dynamodb.ErrCodeRequestLimitExceeded,
		dynamodb.ErrCodeInternalServerError,
		"ThrottlingException":
		return true
	}
	return false
}
