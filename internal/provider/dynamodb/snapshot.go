package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// snapshotItem is the stored form of one key set. A single PutItem replaces
// the whole item, which makes the swap atomic.
type snapshotItem struct {
	PK         string   `dynamodbav:"PK"`
	SK         string   `dynamodbav:"SK"`
	Members    []string `dynamodbav:"members"`
	CapturedAt string   `dynamodbav:"capturedAt"`
	TTL        int64    `dynamodbav:"ttl,omitempty"`
}

// LoadSnapshot reads the snapshot item. Items past their TTL read as absent
// since DynamoDB deletes expired items lazily.
func (p *DynamoDBProvider) LoadSnapshot(ctx context.Context, key string) ([]string, time.Time, error) {
	out, err := p.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &p.tableName,
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: snapshotPK(key)},
			"SK": &ddbtypes.AttributeValueMemberS{Value: skSnapshot},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("getting snapshot %s: %w", key, err)
	}
	if out.Item == nil {
		return nil, time.Time{}, nil
	}

	var item snapshotItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, time.Time{}, fmt.Errorf("unmarshaling snapshot %s: %w", key, err)
	}
	if isExpired(item.TTL) {
		return nil, time.Time{}, nil
	}

	var captured time.Time
	if item.CapturedAt != "" {
		captured, err = time.Parse(time.RFC3339Nano, item.CapturedAt)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("parsing snapshot capture time: %w", err)
		}
	}
	return item.Members, captured, nil
}

// ReplaceSnapshot overwrites the snapshot item.
func (p *DynamoDBProvider) ReplaceSnapshot(ctx context.Context, key string, members []string, capturedAt time.Time, ttl time.Duration) error {
	item := snapshotItem{
		PK:         snapshotPK(key),
		SK:         skSnapshot,
		Members:    members,
		CapturedAt: capturedAt.UTC().Format(time.RFC3339Nano),
	}
	if item.Members == nil {
		item.Members = []string{}
	}
	if ttl > 0 {
		item.TTL = ttlEpoch(ttl)
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshaling snapshot %s: %w", key, err)
	}
	if _, err := p.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &p.tableName,
		Item:      av,
	}); err != nil {
		return fmt.Errorf("putting snapshot %s: %w", key, err)
	}
	return nil
}
