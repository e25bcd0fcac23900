package copier

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/tracking"
	appErrors "github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/pkg/errors"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]string // bucket -> keys
	copied  []string            // "srcbucket/src -> dstbucket/dst"
	copyErr map[string]error    // src key -> error
}

func (f *fakeS3) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := aws.ToString(params.Prefix)
	var contents []s3types.Object
	for _, key := range f.objects[aws.ToString(params.Bucket)] {
		if strings.HasPrefix(key, prefix) {
			contents = append(contents, s3types.Object{Key: aws.String(key)})
		}
	}
	return &s3.ListObjectsV2Output{Contents: contents, IsTruncated: aws.Bool(false)}, nil
}

func (f *fakeS3) CopyObject(_ context.Context, params *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	source := aws.ToString(params.CopySource)
	for key, err := range f.copyErr {
		if strings.Contains(source, key) {
			return nil, err
		}
	}
	f.copied = append(f.copied, fmt.Sprintf("%s -> %s/%s",
		source, aws.ToString(params.Bucket), aws.ToString(params.Key)))
	return &s3.CopyObjectOutput{}, nil
}

type fakeStore struct {
	mu       sync.Mutex
	records  map[string]*tracking.DocumentRecord
	statuses []string
	lastErr  string
}

func (f *fakeStore) GetDocument(_ context.Context, objectKey string) (*tracking.DocumentRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[objectKey]
	return record, ok, nil
}

func (f *fakeStore) UpdateTestRunStatus(_ context.Context, _ string, status, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	f.lastErr = errorMessage
	return nil
}

type fakeEventBridge struct {
	entries int
}

func (f *fakeEventBridge) PutEvents(_ context.Context, params *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	f.entries += len(params.Entries)
	return &eventbridge.PutEventsOutput{}, nil
}

func validJob() string {
	return `{"testRunId":"run-1","filePattern":"docs/*.pdf","inputBucket":"input","baselineBucket":"baseline","trackingTable":"tracking"}`
}

func baselineReady(keys ...string) map[string]*tracking.DocumentRecord {
	records := map[string]*tracking.DocumentRecord{}
	for _, key := range keys {
		records[key] = &tracking.DocumentRecord{
			ObjectKey:        key,
			EvaluationStatus: "BASELINE_AVAILABLE",
		}
	}
	return records
}

func TestParseJobValidation(t *testing.T) {
	c := New(&fakeS3{}, nil, &fakeStore{}, "", zap.NewNop())

	job, err := c.ParseJob(validJob())
	require.NoError(t, err)
	assert.Equal(t, "run-1", job.TestRunID)

	_, err = c.ParseJob(`{"testRunId":"run-1"}`)
	require.Error(t, err)
	assert.True(t, appErrors.IsValidation(err))

	_, err = c.ParseJob(`not json`)
	require.Error(t, err)
	assert.True(t, appErrors.IsValidation(err))
}

func TestLiteralPrefix(t *testing.T) {
	assert.Equal(t, "docs/", literalPrefix("docs/*.pdf"))
	assert.Equal(t, "docs/a", literalPrefix("docs/a?c.pdf"))
	assert.Equal(t, "exact/key.pdf", literalPrefix("exact/key.pdf"))
}

func TestFindMatchingFiles(t *testing.T) {
	s3Client := &fakeS3{objects: map[string][]string{
		"input": {"docs/a.pdf", "docs/b.pdf", "docs/notes.txt", "other/c.pdf"},
	}}
	c := New(s3Client, nil, &fakeStore{}, "", zap.NewNop())

	keys, err := c.FindMatchingFiles(context.Background(), "input", "docs/*.pdf")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"docs/a.pdf", "docs/b.pdf"}, keys)
}

func TestRunCopiesBaselinesAndDocuments(t *testing.T) {
	s3Client := &fakeS3{objects: map[string][]string{
		"input":    {"docs/a.pdf"},
		"baseline": {"docs/a.pdf/sections/1/result.json"},
	}}
	store := &fakeStore{records: baselineReady("docs/a.pdf")}
	bus := &fakeEventBridge{}
	c := New(s3Client, bus, store, "test-bus", zap.NewNop())

	job, err := c.ParseJob(validJob())
	require.NoError(t, err)

	result, err := c.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, 1, result.FilesMatched)
	assert.Equal(t, 1, result.BaselinesCopied)
	assert.Equal(t, 1, result.DocumentsCopied)

	assert.Equal(t, []string{"RUNNING"}, store.statuses)
	assert.Equal(t, 1, bus.entries)

	// baseline lands under the test run prefix in the baseline bucket,
	// document under the test run prefix in the input bucket
	joined := strings.Join(s3Client.copied, "\n")
	assert.Contains(t, joined, "baseline/run-1/docs/a.pdf/sections/1/result.json")
	assert.Contains(t, joined, "input/run-1/docs/a.pdf")
}

func TestRunNoMatchesFails(t *testing.T) {
	s3Client := &fakeS3{objects: map[string][]string{"input": {"other/x.pdf"}}}
	store := &fakeStore{}
	c := New(s3Client, nil, store, "", zap.NewNop())

	job, err := c.ParseJob(validJob())
	require.NoError(t, err)

	_, err = c.Run(context.Background(), job)
	require.Error(t, err)
	assert.True(t, appErrors.IsNotFound(err))
	assert.Equal(t, []string{"RUNNING", "FAILED"}, store.statuses)
	assert.NotEmpty(t, store.lastErr)
}

func TestRunAggregatesBaselineFailures(t *testing.T) {
	s3Client := &fakeS3{objects: map[string][]string{
		"input":    {"docs/a.pdf", "docs/b.pdf"},
		"baseline": {"docs/a.pdf/result.json", "docs/b.pdf/result.json"},
	}}
	// docs/b.pdf has no tracking record
	store := &fakeStore{records: baselineReady("docs/a.pdf")}
	c := New(s3Client, nil, store, "", zap.NewNop())

	job, err := c.ParseJob(validJob())
	require.NoError(t, err)

	_, err = c.Run(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "docs/b.pdf")
	assert.Contains(t, err.Error(), "1 of 2")
	assert.Equal(t, []string{"RUNNING", "FAILED"}, store.statuses)
}

func TestRunRequiresBaselineAvailable(t *testing.T) {
	s3Client := &fakeS3{objects: map[string][]string{
		"input":    {"docs/a.pdf"},
		"baseline": {"docs/a.pdf/result.json"},
	}}
	store := &fakeStore{records: map[string]*tracking.DocumentRecord{
		"docs/a.pdf": {ObjectKey: "docs/a.pdf", EvaluationStatus: "PENDING"},
	}}
	c := New(s3Client, nil, store, "", zap.NewNop())

	job, err := c.ParseJob(validJob())
	require.NoError(t, err)

	_, err = c.Run(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "baseline not available")
}
