package dynamodb

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDDB is a minimal mock of the DDBAPI interface for unit testing.
type mockDDB struct {
	getItemFn       func(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	putItemFn       func(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	deleteItemFn    func(ctx context.Context, input *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	describeTableFn func(ctx context.Context, input *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	createTableFn   func(ctx context.Context, input *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	updateTTLFn     func(ctx context.Context, input *dynamodb.UpdateTimeToLiveInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error)
}

func (m *mockDDB) GetItem(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.getItemFn != nil {
		return m.getItemFn(ctx, input, opts...)
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (m *mockDDB) PutItem(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if m.putItemFn != nil {
		return m.putItemFn(ctx, input, opts...)
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDDB) DeleteItem(ctx context.Context, input *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if m.deleteItemFn != nil {
		return m.deleteItemFn(ctx, input, opts...)
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

func (m *mockDDB) DescribeTable(ctx context.Context, input *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if m.describeTableFn != nil {
		return m.describeTableFn(ctx, input, opts...)
	}
	return &dynamodb.DescribeTableOutput{}, nil
}

func (m *mockDDB) CreateTable(ctx context.Context, input *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	if m.createTableFn != nil {
		return m.createTableFn(ctx, input, opts...)
	}
	return &dynamodb.CreateTableOutput{}, nil
}

func (m *mockDDB) UpdateTimeToLive(ctx context.Context, input *dynamodb.UpdateTimeToLiveInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error) {
	if m.updateTTLFn != nil {
		return m.updateTTLFn(ctx, input, opts...)
	}
	return &dynamodb.UpdateTimeToLiveOutput{}, nil
}

func newTestProvider(mock *mockDDB) *DynamoDBProvider {
	return NewFromClient(mock, "test-table", false)
}

func TestReplaceSnapshot_ItemShape(t *testing.T) {
	var captured *dynamodb.PutItemInput
	mock := &mockDDB{
		putItemFn: func(_ context.Context, input *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			captured = input
			return &dynamodb.PutItemOutput{}, nil
		},
	}
	p := newTestProvider(mock)

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	err := p.ReplaceSnapshot(context.Background(), "proj:vp:rt:snapshot", []string{`["V1"]`, `["V2"]`}, at, time.Hour)
	require.NoError(t, err)
	require.NotNil(t, captured)

	assert.Equal(t, "test-table", *captured.TableName)
	assert.Equal(t, "SNAPSHOT#proj:vp:rt:snapshot", captured.Item["PK"].(*ddbtypes.AttributeValueMemberS).Value)
	assert.Equal(t, "SNAPSHOT", captured.Item["SK"].(*ddbtypes.AttributeValueMemberS).Value)
	assert.Equal(t, "2024-05-01T10:00:00Z", captured.Item["capturedAt"].(*ddbtypes.AttributeValueMemberS).Value)
	members := captured.Item["members"].(*ddbtypes.AttributeValueMemberL).Value
	assert.Len(t, members, 2)

	ttl, err := strconv.ParseInt(captured.Item["ttl"].(*ddbtypes.AttributeValueMemberN).Value, 10, 64)
	require.NoError(t, err)
	assert.InDelta(t, time.Now().Add(time.Hour).Unix(), ttl, 5)
}

func TestSnapshot_RoundTrip(t *testing.T) {
	var stored map[string]ddbtypes.AttributeValue
	mock := &mockDDB{
		putItemFn: func(_ context.Context, input *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			stored = input.Item
			return &dynamodb.PutItemOutput{}, nil
		},
		getItemFn: func(_ context.Context, input *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			assert.True(t, *input.ConsistentRead)
			return &dynamodb.GetItemOutput{Item: stored}, nil
		},
	}
	p := newTestProvider(mock)
	ctx := context.Background()

	members, captured, err := p.LoadSnapshot(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, members)
	assert.True(t, captured.IsZero())

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, p.ReplaceSnapshot(ctx, "k", []string{"a", "b"}, at, 0))
	_, hasTTL := stored["ttl"]
	assert.False(t, hasTTL)

	members, captured, err = p.LoadSnapshot(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, members)
	assert.True(t, at.Equal(captured))
}

func TestLoadSnapshot_ExpiredReadsAbsent(t *testing.T) {
	mock := &mockDDB{
		getItemFn: func(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: map[string]ddbtypes.AttributeValue{
				"PK":         &ddbtypes.AttributeValueMemberS{Value: "SNAPSHOT#k"},
				"SK":         &ddbtypes.AttributeValueMemberS{Value: "SNAPSHOT"},
				"members":    &ddbtypes.AttributeValueMemberL{Value: []ddbtypes.AttributeValue{&ddbtypes.AttributeValueMemberS{Value: "a"}}},
				"capturedAt": &ddbtypes.AttributeValueMemberS{Value: "2024-05-01T10:00:00Z"},
				"ttl":        &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Add(-time.Minute).Unix(), 10)},
			}}, nil
		},
	}
	members, _, err := newTestProvider(mock).LoadSnapshot(context.Background(), "k")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestLoadSnapshot_Error(t *testing.T) {
	mock := &mockDDB{
		getItemFn: func(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			return nil, errors.New("throttled")
		},
	}
	_, _, err := newTestProvider(mock).LoadSnapshot(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestAcquireLock_Held(t *testing.T) {
	mock := &mockDDB{
		putItemFn: func(_ context.Context, input *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			assert.Equal(t, "LOCK#rt_vehicle_positions", input.Item["PK"].(*ddbtypes.AttributeValueMemberS).Value)
			assert.NotNil(t, input.ConditionExpression)
			return nil, &ddbtypes.ConditionalCheckFailedException{}
		},
	}
	ok, err := newTestProvider(mock).AcquireLock(context.Background(), "rt_vehicle_positions", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStart_CreatesTable(t *testing.T) {
	created, ttlEnabled := false, false
	mock := &mockDDB{
		createTableFn: func(_ context.Context, _ *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
			created = true
			return &dynamodb.CreateTableOutput{}, nil
		},
		updateTTLFn: func(_ context.Context, _ *dynamodb.UpdateTimeToLiveInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error) {
			ttlEnabled = true
			return &dynamodb.UpdateTimeToLiveOutput{}, nil
		},
	}
	p := NewFromClient(mock, "t", true)
	require.NoError(t, p.Start(context.Background()))
	assert.True(t, created)
	assert.True(t, ttlEnabled)
}

func TestPing_Error(t *testing.T) {
	mock := &mockDDB{
		describeTableFn: func(_ context.Context, _ *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
			return nil, errors.New("no such table")
		},
	}
	err := newTestProvider(mock).Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dynamodb ping failed")
}
