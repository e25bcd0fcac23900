package tracking

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDynamoDB struct {
	getItemOut  *dynamodb.GetItemOutput
	getItemKeys []map[string]ddbtypes.AttributeValue
	putItems    []map[string]ddbtypes.AttributeValue
	updateIn    *dynamodb.UpdateItemInput
	scanOut     *dynamodb.ScanOutput
	describeOut *dynamodb.DescribeTableOutput
}

func (f *fakeDynamoDB) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.getItemKeys = append(f.getItemKeys, params.Key)
	if f.getItemOut != nil {
		return f.getItemOut, nil
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (f *fakeDynamoDB) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putItems = append(f.putItems, params.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamoDB) UpdateItem(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updateIn = params
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamoDB) Scan(_ context.Context, _ *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	if f.scanOut != nil {
		return f.scanOut, nil
	}
	return &dynamodb.ScanOutput{}, nil
}

func (f *fakeDynamoDB) DescribeTable(_ context.Context, _ *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return f.describeOut, nil
}

func stringVal(s string) ddbtypes.AttributeValue {
	return &ddbtypes.AttributeValueMemberS{Value: s}
}

func TestGetDocumentKeyScheme(t *testing.T) {
	client := &fakeDynamoDB{
		getItemOut: &dynamodb.GetItemOutput{Item: map[string]ddbtypes.AttributeValue{
			"PK":           stringVal("doc#invoice.pdf"),
			"SK":           stringVal("none"),
			"ObjectStatus": stringVal("FAILED"),
			"TraceId":      stringVal("1-5759e988-bd862e3fe1be46a994272793"),
		}},
	}
	store := NewStore(client, "tracking-table", zap.NewNop())

	record, found, err := store.GetDocument(context.Background(), "invoice.pdf")
	require.NoError(t, err)
	require.True(t, found)

	// key is PK doc#<objectKey> / SK none
	key := client.getItemKeys[0]
	assert.Equal(t, "doc#invoice.pdf", key["PK"].(*ddbtypes.AttributeValueMemberS).Value)
	assert.Equal(t, "none", key["SK"].(*ddbtypes.AttributeValueMemberS).Value)

	assert.Equal(t, "FAILED", record.ObjectStatus)
	assert.Equal(t, "1-5759e988-bd862e3fe1be46a994272793", record.TraceID)
	// ObjectKey backfilled from the lookup key
	assert.Equal(t, "invoice.pdf", record.ObjectKey)
}

func TestGetDocumentNotFound(t *testing.T) {
	store := NewStore(&fakeDynamoDB{}, "tracking-table", zap.NewNop())

	record, found, err := store.GetDocument(context.Background(), "missing.pdf")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, record)
}

func TestProcessingWindow(t *testing.T) {
	record := &DocumentRecord{
		StartTime:      "2026-01-15T10:00:00Z",
		CompletionTime: "2026-01-15T10:05:00Z",
	}
	start, end := record.ProcessingWindow()
	assert.Equal(t, time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC), start)
	assert.Equal(t, 5*time.Minute, end.Sub(start))

	// StartTime missing falls back to InitialEventTime
	record = &DocumentRecord{InitialEventTime: "2026-01-15T09:59:00Z"}
	start, end = record.ProcessingWindow()
	assert.False(t, start.IsZero())
	assert.True(t, end.IsZero())

	// unparsable timestamps yield zero times
	record = &DocumentRecord{StartTime: "not-a-time"}
	start, _ = record.ProcessingWindow()
	assert.True(t, start.IsZero())
}

func TestUpdateTestRunStatus(t *testing.T) {
	client := &fakeDynamoDB{}
	store := NewStore(client, "tracking-table", zap.NewNop())

	err := store.UpdateTestRunStatus(context.Background(), "run-1", "FAILED", "copy failed")
	require.NoError(t, err)

	require.NotNil(t, client.updateIn)
	key := client.updateIn.Key
	assert.Equal(t, "testrun#run-1", key["PK"].(*ddbtypes.AttributeValueMemberS).Value)
	assert.Equal(t, "metadata", key["SK"].(*ddbtypes.AttributeValueMemberS).Value)
	assert.NotNil(t, client.updateIn.UpdateExpression)
}

func TestPutTestSetRecordSetsTTLAndKeys(t *testing.T) {
	client := &fakeDynamoDB{}
	store := NewStore(client, "tracking-table", zap.NewNop())
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	err := store.PutTestSetRecord(context.Background(), TestSetRecord{TestSetID: "default"})
	require.NoError(t, err)

	require.Len(t, client.putItems, 1)
	item := client.putItems[0]
	assert.Equal(t, "testset#default", item["PK"].(*ddbtypes.AttributeValueMemberS).Value)

	ttl, err := strconv.ParseInt(item["ExpiresAfter"].(*ddbtypes.AttributeValueMemberN).Value, 10, 64)
	require.NoError(t, err)
	assert.Equal(t, now.Add(365*24*time.Hour).Unix(), ttl)
}
