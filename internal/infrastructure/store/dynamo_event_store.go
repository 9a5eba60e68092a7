package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// DynamoEventStore stores events in DynamoDB with (aggregate_id, version) as
// the composite key. The conditional put on that key is the check-and-set:
// two writers racing with the same expectedVersion target the same item key
// and exactly one put succeeds.
type DynamoEventStore struct {
	client            *dynamodb.Client
	tableName         string
	snapshotTableName string
	publisher         Publisher
}

// dynamoEvent represents the DynamoDB item structure
type dynamoEvent struct {
	AggregateID   string `dynamodbav:"aggregate_id"`
	Version       int    `dynamodbav:"version"`
	ID            string `dynamodbav:"id"`
	AggregateType string `dynamodbav:"aggregate_type"`
	EventType     string `dynamodbav:"event_type"`
	Payload       string `dynamodbav:"payload"`
	OccurredAt    string `dynamodbav:"occurred_at"`
	ActorID       string `dynamodbav:"actor_id,omitempty"`
	Metadata      string `dynamodbav:"metadata,omitempty"`
}

func NewDynamoEventStore(client *dynamodb.Client, tableName, snapshotTableName string, publisher Publisher) *DynamoEventStore {
	return &DynamoEventStore{
		client:            client,
		tableName:         tableName,
		snapshotTableName: snapshotTableName,
		publisher:         publisher,
	}
}

// Append stores an event in DynamoDB using a conditional write as the
// optimistic-concurrency check.
func (es *DynamoEventStore) Append(ctx context.Context, aggregateID, aggregateType, eventType string, payload any, expectedVersion int, opts ...AppendOption) (*Event, error) {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if expectedVersion < 0 {
		return nil, ErrConcurrencyConflict
	}

	current, err := es.CurrentVersion(ctx, aggregateID)
	if err != nil {
		return nil, err
	}
	if current != expectedVersion {
		return nil, ErrConcurrencyConflict
	}

	event := Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       jsonPayload,
		Version:       expectedVersion + 1,
		OccurredAt:    time.Now(),
	}
	for _, opt := range opts {
		opt(&event)
	}

	item := dynamoEvent{
		AggregateID:   event.AggregateID,
		Version:       event.Version,
		ID:            event.ID,
		AggregateType: event.AggregateType,
		EventType:     event.EventType,
		Payload:       string(event.Payload),
		OccurredAt:    event.OccurredAt.Format(time.RFC3339Nano),
		ActorID:       event.ActorID,
		Metadata:      string(event.Metadata),
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, &PersistenceError{Op: "marshal event", Err: err}
	}

	// "version" is a DynamoDB reserved word, hence the #v alias.
	_, err = es.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(es.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(aggregate_id) AND attribute_not_exists(#v)"),
		ExpressionAttributeNames: map[string]string{
			"#v": "version",
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return nil, ErrConcurrencyConflict
		}
		return nil, &PersistenceError{Op: "append", Err: err}
	}

	if es.publisher != nil {
		if err := es.publisher.Publish(ctx, event); err != nil {
			log.Printf("[EventStore] Failed to publish event %s: %v", event.ID, err)
		}
	}

	return &event, nil
}

// CurrentVersion queries for the current max version, 0 if none exist.
func (es *DynamoEventStore) CurrentVersion(ctx context.Context, aggregateID string) (int, error) {
	result, err := es.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(es.tableName),
		KeyConditionExpression: aws.String("aggregate_id = :aid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":aid": &types.AttributeValueMemberS{Value: aggregateID},
		},
		ScanIndexForward:     aws.Bool(false), // Descending order
		Limit:                aws.Int32(1),
		ProjectionExpression: aws.String("#v"),
		ExpressionAttributeNames: map[string]string{
			"#v": "version",
		},
	})
	if err != nil {
		return 0, &PersistenceError{Op: "current version", Err: err}
	}

	if len(result.Items) == 0 {
		return 0, nil
	}

	var item struct {
		Version int `dynamodbav:"version"`
	}
	if err := attributevalue.UnmarshalMap(result.Items[0], &item); err != nil {
		return 0, &PersistenceError{Op: "current version", Err: err}
	}
	return item.Version, nil
}

// ReadEvents returns events with version > afterVersion, ascending by version.
func (es *DynamoEventStore) ReadEvents(ctx context.Context, aggregateID string, afterVersion int) ([]Event, error) {
	result, err := es.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(es.tableName),
		KeyConditionExpression: aws.String("aggregate_id = :aid AND #v > :ver"),
		ExpressionAttributeNames: map[string]string{
			"#v": "version",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":aid": &types.AttributeValueMemberS{Value: aggregateID},
			":ver": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", afterVersion)},
		},
		ScanIndexForward: aws.Bool(true), // Ascending order by version
	})
	if err != nil {
		return nil, &PersistenceError{Op: "read events", Err: err}
	}
	return es.unmarshalEvents(result.Items)
}

// ReadByType returns the most recent events of one event type via the
// event-type GSI, ordered by occurred_at descending.
func (es *DynamoEventStore) ReadByType(ctx context.Context, eventType string, limit int) ([]Event, error) {
	return es.queryIndex(ctx, "gsi_event_type", "event_type", eventType, limit)
}

// ReadByActor returns the most recent events caused by one actor via the
// actor GSI.
func (es *DynamoEventStore) ReadByActor(ctx context.Context, actorID string, limit int) ([]Event, error) {
	return es.queryIndex(ctx, "gsi_actor", "actor_id", actorID, limit)
}

func (es *DynamoEventStore) queryIndex(ctx context.Context, indexName, keyAttr, keyValue string, limit int) ([]Event, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(es.tableName),
		IndexName:              aws.String(indexName),
		KeyConditionExpression: aws.String("#k = :v"),
		ExpressionAttributeNames: map[string]string{
			"#k": keyAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: keyValue},
		},
		ScanIndexForward: aws.Bool(false), // Descending order by occurred_at
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}

	result, err := es.client.Query(ctx, input)
	if err != nil {
		return nil, &PersistenceError{Op: "query " + indexName, Err: err}
	}
	return es.unmarshalEvents(result.Items)
}

// unmarshalEvents converts DynamoDB items to Event slice
func (es *DynamoEventStore) unmarshalEvents(items []map[string]types.AttributeValue) ([]Event, error) {
	events := make([]Event, 0, len(items))

	for _, item := range items {
		var de dynamoEvent
		if err := attributevalue.UnmarshalMap(item, &de); err != nil {
			return nil, &PersistenceError{Op: "unmarshal event", Err: err}
		}

		occurredAt, _ := time.Parse(time.RFC3339Nano, de.OccurredAt)

		events = append(events, Event{
			ID:            de.ID,
			AggregateID:   de.AggregateID,
			AggregateType: de.AggregateType,
			EventType:     de.EventType,
			Payload:       json.RawMessage(de.Payload),
			Version:       de.Version,
			OccurredAt:    occurredAt,
			ActorID:       de.ActorID,
			Metadata:      json.RawMessage(de.Metadata),
		})
	}

	return events, nil
}

// dynamoSnapshot represents the DynamoDB item structure for snapshots
// Stored in a separate snapshots table with aggregate_id as partition key
type dynamoSnapshot struct {
	AggregateID   string `dynamodbav:"aggregate_id"`
	AggregateType string `dynamodbav:"aggregate_type"`
	Version       int    `dynamodbav:"version"`
	State         string `dynamodbav:"state"`
	CreatedAt     string `dynamodbav:"created_at"`
}

// SaveSnapshot overwrites the snapshot in the dedicated snapshots table.
func (es *DynamoEventStore) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	item := dynamoSnapshot{
		AggregateID:   snapshot.AggregateID,
		AggregateType: snapshot.AggregateType,
		Version:       snapshot.Version,
		State:         string(snapshot.State),
		CreatedAt:     snapshot.CreatedAt.Format(time.RFC3339Nano),
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return &PersistenceError{Op: "marshal snapshot", Err: err}
	}

	// Overwrite existing snapshot (no condition)
	_, err = es.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(es.snapshotTableName),
		Item:      av,
	})
	if err != nil {
		return &PersistenceError{Op: "save snapshot", Err: err}
	}
	return nil
}

// GetSnapshot retrieves the latest snapshot, or (nil, nil) when none exists.
func (es *DynamoEventStore) GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error) {
	result, err := es.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(es.snapshotTableName),
		Key: map[string]types.AttributeValue{
			"aggregate_id": &types.AttributeValueMemberS{Value: aggregateID},
		},
	})
	if err != nil {
		return nil, &PersistenceError{Op: "get snapshot", Err: err}
	}

	if result.Item == nil {
		return nil, nil // No snapshot exists
	}

	var ds dynamoSnapshot
	if err := attributevalue.UnmarshalMap(result.Item, &ds); err != nil {
		return nil, &PersistenceError{Op: "unmarshal snapshot", Err: err}
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, ds.CreatedAt)

	return &Snapshot{
		AggregateID:   ds.AggregateID,
		AggregateType: ds.AggregateType,
		Version:       ds.Version,
		State:         json.RawMessage(ds.State),
		CreatedAt:     createdAt,
	}, nil
}
