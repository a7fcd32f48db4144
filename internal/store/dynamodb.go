package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/nhle/mailwatch/internal/model"
)

const (
	dynamoIDField = "id"
	dynamoTSField = "ts"
)

// dynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type dynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoStore implements DedupStore on a DynamoDB table whose partition
// key is the string attribute "id".
type DynamoStore struct {
	client dynamoAPI
	table  string
	now    func() time.Time
}

// NewDynamoStore loads the default AWS configuration for region and
// returns a store backed by table.
func NewDynamoStore(ctx context.Context, region, table string) (*DynamoStore, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return newDynamoStore(dynamodb.NewFromConfig(cfg), table), nil
}

func newDynamoStore(client dynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table, now: time.Now}
}

// Close is a no-op; the AWS client holds no resources to release.
func (s *DynamoStore) Close() error { return nil }

func (s *DynamoStore) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamoIDField: &types.AttributeValueMemberS{Value: id},
	}
}

// IsProcessed reports whether id has been recorded.
func (s *DynamoStore) IsProcessed(ctx context.Context, id string) (bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, &PersistenceError{Op: "checking processed", ID: id, Err: err}
	}
	return len(out.Item) > 0, nil
}

// MarkProcessed records id with a conditional put so an existing record
// is never overwritten.
func (s *DynamoStore) MarkProcessed(ctx context.Context, id string) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			dynamoIDField: &types.AttributeValueMemberS{Value: id},
			dynamoTSField: &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339Nano)},
		},
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})

	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	if err != nil {
		return &PersistenceError{Op: "marking processed", ID: id, Err: err}
	}
	return nil
}

// Get retrieves the record for id.
func (s *DynamoStore) Get(ctx context.Context, id string) (*model.ProcessedRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, &PersistenceError{Op: "getting record", ID: id, Err: err}
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	rec := &model.ProcessedRecord{ID: id}
	if ts, ok := out.Item[dynamoTSField].(*types.AttributeValueMemberS); ok {
		parsed, err := time.Parse(time.RFC3339Nano, ts.Value)
		if err != nil {
			return nil, &PersistenceError{Op: "parsing record timestamp", ID: id, Err: err}
		}
		rec.FirstSeen = parsed
	}
	return rec, nil
}

// Count scans the table and returns the number of items.
func (s *DynamoStore) Count(ctx context.Context) (int, error) {
	total := 0
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.table),
			Select:            types.SelectCount,
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return 0, &PersistenceError{Op: "counting records", Err: err}
		}
		total += int(out.Count)
		if len(out.LastEvaluatedKey) == 0 {
			return total, nil
		}
		startKey = out.LastEvaluatedKey
	}
}
