// Package tracking implements the document tracking-table access layer.
// This is the only package that should have knowledge of the tracking
// table's DynamoDB key scheme.
package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	appErrors "github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/pkg/errors"
)

func stringAttr(value string) ddbtypes.AttributeValue {
	return &ddbtypes.AttributeValueMemberS{Value: value}
}

// DynamoDBAPI is the subset of the DynamoDB client used by the store.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DocumentRecord is a document item in the tracking table.
type DocumentRecord struct {
	PK                   string `dynamodbav:"PK"`
	SK                   string `dynamodbav:"SK"`
	ObjectKey            string `dynamodbav:"ObjectKey"`
	ObjectStatus         string `dynamodbav:"ObjectStatus"`
	WorkflowExecutionArn string `dynamodbav:"WorkflowExecutionArn"`
	InitialEventTime     string `dynamodbav:"InitialEventTime"`
	StartTime            string `dynamodbav:"StartTime"`
	CompletionTime       string `dynamodbav:"CompletionTime"`
	ErrorMessage         string `dynamodbav:"ErrorMessage"`
	EvaluationStatus     string `dynamodbav:"EvaluationStatus"`
	TraceID              string `dynamodbav:"TraceId"`
}

// ProcessingWindow returns the document's processing time window. The
// zero time is returned for timestamps that are missing or unparsable.
func (r *DocumentRecord) ProcessingWindow() (start, end time.Time) {
	start = parseTimestamp(r.StartTime)
	if start.IsZero() {
		start = parseTimestamp(r.InitialEventTime)
	}
	end = parseTimestamp(r.CompletionTime)
	return start, end
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// TestSetRecord is a deployed test-set item in the tracking table.
type TestSetRecord struct {
	PK             string `dynamodbav:"PK"`
	SK             string `dynamodbav:"SK"`
	TestSetID      string `dynamodbav:"testSetId"`
	Name           string `dynamodbav:"name"`
	Description    string `dynamodbav:"description"`
	BucketType     string `dynamodbav:"bucketType"`
	BucketName     string `dynamodbav:"bucketName"`
	InputPrefix    string `dynamodbav:"inputPrefix"`
	BaselinePrefix string `dynamodbav:"baselinePrefix"`
	FileCount      int    `dynamodbav:"fileCount"`
	Status         string `dynamodbav:"status"`
	DatasetVersion string `dynamodbav:"datasetVersion"`
	CreatedAt      string `dynamodbav:"createdAt"`
	UpdatedAt      string `dynamodbav:"updatedAt"`
	Source         string `dynamodbav:"source"`
	ExpiresAfter   int64  `dynamodbav:"ExpiresAfter"`
}

// Store reads and writes tracking-table items.
type Store struct {
	client    DynamoDBAPI
	tableName string
	logger    *zap.Logger
	now       func() time.Time
}

// NewStore creates a tracking store for the given table.
func NewStore(client DynamoDBAPI, tableName string, logger *zap.Logger) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		logger:    logger,
		now:       time.Now,
	}
}

// TableName returns the tracking table name the store operates on.
func (s *Store) TableName() string {
	return s.tableName
}

// GetDocument looks up the tracking record for a document object key.
func (s *Store) GetDocument(ctx context.Context, objectKey string) (*DocumentRecord, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]ddbtypes.AttributeValue{
			"PK": stringAttr(fmt.Sprintf("doc#%s", objectKey)),
			"SK": stringAttr("none"),
		},
	})
	if err != nil {
		return nil, false, appErrors.Wrap(err, "failed to get document record")
	}
	if len(out.Item) == 0 {
		return nil, false, nil
	}

	var record DocumentRecord
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return nil, false, appErrors.Wrap(err, "failed to unmarshal document record")
	}
	if record.ObjectKey == "" {
		record.ObjectKey = objectKey
	}
	return &record, true, nil
}

// QueryRecentDocuments scans for document records updated within the
// look-back window. The tracking table has no time-based index, so a
// bounded filtered scan mirrors what the platform console does.
func (s *Store) QueryRecentDocuments(ctx context.Context, hoursBack int, limit int) ([]DocumentRecord, error) {
	cutoff := s.now().UTC().Add(-time.Duration(hoursBack) * time.Hour).Format(time.RFC3339)

	filter := expression.Name("PK").BeginsWith("doc#").
		And(expression.Name("CompletionTime").GreaterThanEqual(expression.Value(cutoff)))
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to build tracking scan expression")
	}

	out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:                 aws.String(s.tableName),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit:                     aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to scan tracking table")
	}

	records := make([]DocumentRecord, 0, len(out.Items))
	for _, item := range out.Items {
		var record DocumentRecord
		if err := attributevalue.UnmarshalMap(item, &record); err != nil {
			s.logger.Warn("Skipping unparsable tracking item", zap.Error(err))
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// UpdateTestRunStatus sets the status of a test run, optionally
// recording the failure message.
func (s *Store) UpdateTestRunStatus(ctx context.Context, testRunID, status, errorMessage string) error {
	update := expression.Set(expression.Name("Status"), expression.Value(status))
	if errorMessage != "" {
		update = update.Set(expression.Name("Error"), expression.Value(errorMessage))
	}
	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return appErrors.Wrap(err, "failed to build test run update expression")
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]ddbtypes.AttributeValue{
			"PK": stringAttr(fmt.Sprintf("testrun#%s", testRunID)),
			"SK": stringAttr("metadata"),
		},
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return appErrors.Wrap(err, "failed to update test run status")
	}
	s.logger.Info("Updated test run status",
		zap.String("test_run_id", testRunID),
		zap.String("status", status),
	)
	return nil
}

// GetTestSetVersion returns the deployed version of a test set, or an
// empty string when the record does not exist.
func (s *Store) GetTestSetVersion(ctx context.Context, testSetID string) (string, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]ddbtypes.AttributeValue{
			"PK": stringAttr(fmt.Sprintf("testset#%s", testSetID)),
			"SK": stringAttr("metadata"),
		},
	})
	if err != nil {
		return "", appErrors.Wrap(err, "failed to get test set record")
	}
	if len(out.Item) == 0 {
		return "", nil
	}

	var record TestSetRecord
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return "", appErrors.Wrap(err, "failed to unmarshal test set record")
	}
	return record.DatasetVersion, nil
}

// PutTestSetRecord writes the test-set metadata item with a 1-year TTL.
func (s *Store) PutTestSetRecord(ctx context.Context, record TestSetRecord) error {
	now := s.now().UTC()
	record.PK = fmt.Sprintf("testset#%s", record.TestSetID)
	record.SK = "metadata"
	record.CreatedAt = now.Format(time.RFC3339)
	record.UpdatedAt = record.CreatedAt
	record.ExpiresAfter = now.Add(365 * 24 * time.Hour).Unix()

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return appErrors.Wrap(err, "failed to marshal test set record")
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return appErrors.Wrap(err, "failed to put test set record")
	}
	s.logger.Info("Created test set record", zap.String("test_set_id", record.TestSetID))
	return nil
}

// TableInfo summarizes the tracking table schema for the agent tools.
type TableInfo struct {
	TableName     string   `json:"table_name"`
	Status        string   `json:"status"`
	ItemCount     int64    `json:"item_count"`
	SizeBytes     int64    `json:"size_bytes"`
	KeySchema     []string `json:"key_schema"`
	AttributeDefs []string `json:"attribute_definitions"`
}

// DescribeTable returns a schema overview of the tracking table.
func (s *Store) DescribeTable(ctx context.Context) (*TableInfo, error) {
	out, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to describe tracking table")
	}

	info := &TableInfo{
		TableName: s.tableName,
		Status:    string(out.Table.TableStatus),
		ItemCount: aws.ToInt64(out.Table.ItemCount),
		SizeBytes: aws.ToInt64(out.Table.TableSizeBytes),
	}
	for _, key := range out.Table.KeySchema {
		info.KeySchema = append(info.KeySchema,
			fmt.Sprintf("%s (%s)", aws.ToString(key.AttributeName), key.KeyType))
	}
	for _, attr := range out.Table.AttributeDefinitions {
		info.AttributeDefs = append(info.AttributeDefs,
			fmt.Sprintf("%s: %s", aws.ToString(attr.AttributeName), attr.AttributeType))
	}
	return info, nil
}

