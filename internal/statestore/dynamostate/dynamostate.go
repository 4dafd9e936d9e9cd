// Package dynamostate keeps the dedup state in DynamoDB, one item per
// tracking number. Useful when the tool runs from a box with no durable disk.
package dynamostate

import (
	"context"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pkg/errors"
)

const DefaultTable = "onex-track-state"

// DynamoAPI is the slice of the DynamoDB client the store calls; tests plug
// in an in-memory implementation.
type DynamoAPI interface {
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

type record struct {
	TrackNumber string    `dynamodbav:"track_number"`
	LastDate    string    `dynamodbav:"last_date"`
	UpdatedAt   time.Time `dynamodbav:"updated_at"`
}

type Store struct {
	client  DynamoAPI
	table   string
	nowFunc func() time.Time
}

func New(client DynamoAPI, table string) *Store {
	if table == "" {
		table = DefaultTable
	}
	return &Store{
		client:  client,
		table:   table,
		nowFunc: time.Now,
	}
}

// Connect builds a Store over a real client using the ambient AWS
// configuration. Region comes from AWS_REGION with a us-east-1 fallback.
func Connect(ctx context.Context, table string) (*Store, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	return New(dynamodb.NewFromConfig(cfg), table), nil
}

func (s *Store) Load(ctx context.Context) (map[string]string, error) {
	state := map[string]string{}

	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         &s.table,
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, errors.Wrap(err, "scan state table")
		}

		var recs []record
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &recs); err != nil {
			return nil, errors.Wrap(err, "unmarshal state items")
		}
		for _, r := range recs {
			state[r.TrackNumber] = r.LastDate
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return state, nil
}

// Save overwrites every entry item by item. Numbers never leave the state, so
// there is nothing to delete.
func (s *Store) Save(ctx context.Context, state map[string]string) error {
	now := s.nowFunc().UTC()
	for number, date := range state {
		item, err := attributevalue.MarshalMap(record{
			TrackNumber: number,
			LastDate:    date,
			UpdatedAt:   now,
		})
		if err != nil {
			return errors.Wrap(err, "marshal state item")
		}
		if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: &s.table,
			Item:      item,
		}); err != nil {
			return errors.Wrapf(err, "put state item %s", number)
		}
	}
	return nil
}
