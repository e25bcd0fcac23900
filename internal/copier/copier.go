// Package copier implements the test file copier: given a test run and
// a file pattern, it stages baseline results and re-copies the input
// documents so the processing workflow runs them under the test run's
// prefix.
package copier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/tracking"
	appErrors "github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/pkg/errors"
)

const (
	baselineWorkers  = 20
	baselineTimeout  = 60 * time.Second
	documentWorkers  = 30
	documentTimeout  = 30 * time.Second
	statusRunning    = "RUNNING"
	statusCopying    = "COPYING_FILES"
	statusFailed     = "FAILED"
	baselineReadyTag = "BASELINE_AVAILABLE"
)

// S3API is the subset of the S3 client the copier uses.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// EventBridgeAPI is the subset of the EventBridge client the copier uses.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// TrackingStore is the tracking-table surface the copier needs.
type TrackingStore interface {
	GetDocument(ctx context.Context, objectKey string) (*tracking.DocumentRecord, bool, error)
	UpdateTestRunStatus(ctx context.Context, testRunID, status, errorMessage string) error
}

// CopyJob is the SQS message that starts a test run copy.
type CopyJob struct {
	TestRunID      string `json:"testRunId" validate:"required"`
	FilePattern    string `json:"filePattern" validate:"required"`
	InputBucket    string `json:"inputBucket" validate:"required"`
	BaselineBucket string `json:"baselineBucket" validate:"required"`
	TrackingTable  string `json:"trackingTable" validate:"required"`
}

// Result summarizes one completed copy job.
type Result struct {
	TestRunID       string `json:"testRunId"`
	FilesMatched    int    `json:"filesMatched"`
	BaselinesCopied int    `json:"baselinesCopied"`
	DocumentsCopied int    `json:"documentsCopied"`
}

// Copier stages test run files.
type Copier struct {
	s3Client S3API
	events   EventBridgeAPI
	store    TrackingStore
	eventBus string
	logger   *zap.Logger
	validate *validator.Validate
}

// New creates a Copier. eventBus may be empty to disable status events.
func New(s3Client S3API, events EventBridgeAPI, store TrackingStore, eventBus string, logger *zap.Logger) *Copier {
	return &Copier{
		s3Client: s3Client,
		events:   events,
		store:    store,
		eventBus: eventBus,
		logger:   logger,
		validate: validator.New(),
	}
}

// ParseJob decodes and validates an SQS message body.
func (c *Copier) ParseJob(body string) (*CopyJob, error) {
	var job CopyJob
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return nil, appErrors.NewValidation(fmt.Sprintf("invalid copy job message: %v", err))
	}
	if err := c.validate.Struct(&job); err != nil {
		return nil, appErrors.NewValidation(fmt.Sprintf("copy job message failed validation: %v", err))
	}
	return &job, nil
}

// Run executes a copy job end to end. The test run is marked RUNNING up
// front and FAILED with the aggregated error on any failure.
func (c *Copier) Run(ctx context.Context, job *CopyJob) (*Result, error) {
	c.logger.Info("Starting test run copy",
		zap.String("test_run_id", job.TestRunID),
		zap.String("file_pattern", job.FilePattern),
	)
	if err := c.store.UpdateTestRunStatus(ctx, job.TestRunID, statusRunning, ""); err != nil {
		return nil, err
	}

	result, err := c.run(ctx, job)
	if err != nil {
		if updateErr := c.store.UpdateTestRunStatus(ctx, job.TestRunID, statusFailed, err.Error()); updateErr != nil {
			c.logger.Error("Failed to record test run failure", zap.Error(updateErr))
		}
		c.publishStatus(ctx, job.TestRunID, statusFailed, err.Error())
		return nil, err
	}

	c.publishStatus(ctx, job.TestRunID, statusCopying, "")
	return result, nil
}

func (c *Copier) run(ctx context.Context, job *CopyJob) (*Result, error) {
	keys, err := c.FindMatchingFiles(ctx, job.InputBucket, job.FilePattern)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, appErrors.NewNotFound(fmt.Sprintf("no files match pattern %q in bucket %q", job.FilePattern, job.InputBucket))
	}

	baselines, err := c.copyBaselines(ctx, job, keys)
	if err != nil {
		return nil, err
	}
	documents, err := c.copyDocuments(ctx, job, keys)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Test run copy complete",
		zap.String("test_run_id", job.TestRunID),
		zap.Int("files_matched", len(keys)),
		zap.Int("baselines_copied", baselines),
		zap.Int("documents_copied", documents),
	)
	return &Result{
		TestRunID:       job.TestRunID,
		FilesMatched:    len(keys),
		BaselinesCopied: baselines,
		DocumentsCopied: documents,
	}, nil
}

// FindMatchingFiles lists bucket objects whose keys match the glob
// pattern. The literal leading portion of the pattern becomes the list
// prefix so "reports/*.pdf" does not scan the whole bucket.
func (c *Copier) FindMatchingFiles(ctx context.Context, bucket, pattern string) ([]string, error) {
	prefix := literalPrefix(pattern)

	var keys []string
	var continuation *string
	for {
		out, err := c.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, appErrors.Wrap(err, fmt.Sprintf("failed to list bucket %q", bucket))
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			matched, err := path.Match(pattern, key)
			if err != nil {
				return nil, appErrors.NewValidation(fmt.Sprintf("invalid file pattern %q", pattern))
			}
			if matched {
				keys = append(keys, key)
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		continuation = out.NextContinuationToken
	}
	return keys, nil
}

// literalPrefix returns the pattern text before the first glob
// metacharacter.
func literalPrefix(pattern string) string {
	if idx := strings.IndexAny(pattern, "*?["); idx >= 0 {
		return pattern[:idx]
	}
	return pattern
}

// copyBaselines stages the baseline evaluation results for each matched
// document. Every document must already have a BASELINE_AVAILABLE
// tracking record; individual failures do not stop siblings, they are
// aggregated into one error.
func (c *Copier) copyBaselines(ctx context.Context, job *CopyJob, keys []string) (int, error) {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(baselineWorkers)

	var mu sync.Mutex
	copied := 0
	var failures []string

	for _, key := range keys {
		key := key
		group.Go(func() error {
			fileCtx, cancel := context.WithTimeout(groupCtx, baselineTimeout)
			defer cancel()

			n, err := c.copyBaselineForKey(fileCtx, job, key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", key, err))
				return nil
			}
			copied += n
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return 0, err
	}
	if len(failures) > 0 {
		return 0, appErrors.NewInternal(fmt.Sprintf("baseline copy failed for %d of %d files: %s",
			len(failures), len(keys), strings.Join(failures, "; ")), nil)
	}
	return copied, nil
}

func (c *Copier) copyBaselineForKey(ctx context.Context, job *CopyJob, key string) (int, error) {
	record, found, err := c.store.GetDocument(ctx, key)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("no tracking record")
	}
	if record.EvaluationStatus != baselineReadyTag {
		return 0, fmt.Errorf("baseline not available (status %q)", record.EvaluationStatus)
	}

	out, err := c.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(job.BaselineBucket),
		Prefix: aws.String(key + "/"),
	})
	if err != nil {
		return 0, fmt.Errorf("list baseline objects: %w", err)
	}
	if len(out.Contents) == 0 {
		return 0, fmt.Errorf("no baseline objects under %q", key+"/")
	}

	copied := 0
	for _, obj := range out.Contents {
		srcKey := aws.ToString(obj.Key)
		dstKey := job.TestRunID + "/" + srcKey
		if err := c.copyObject(ctx, job.BaselineBucket, srcKey, job.BaselineBucket, dstKey); err != nil {
			return copied, err
		}
		copied++
	}
	return copied, nil
}

// copyDocuments re-copies each matched document under the test run's
// prefix in the input bucket, which triggers the processing workflow.
func (c *Copier) copyDocuments(ctx context.Context, job *CopyJob, keys []string) (int, error) {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(documentWorkers)

	var mu sync.Mutex
	copied := 0
	var failures []string

	for _, key := range keys {
		key := key
		group.Go(func() error {
			fileCtx, cancel := context.WithTimeout(groupCtx, documentTimeout)
			defer cancel()

			err := c.copyObject(fileCtx, job.InputBucket, key, job.InputBucket, job.TestRunID+"/"+key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", key, err))
				return nil
			}
			copied++
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return 0, err
	}
	if len(failures) > 0 {
		return 0, appErrors.NewInternal(fmt.Sprintf("document copy failed for %d of %d files: %s",
			len(failures), len(keys), strings.Join(failures, "; ")), nil)
	}
	return copied, nil
}

func (c *Copier) copyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	_, err := c.s3Client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dstBucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(srcBucket + "/" + url.PathEscape(srcKey)),
	})
	if err != nil {
		return fmt.Errorf("copy to %s/%s: %w", dstBucket, dstKey, err)
	}
	return nil
}

// publishStatus emits a "TestRun Status Changed" event. Event failures
// are logged, never returned: the status is already durable in the
// tracking table.
func (c *Copier) publishStatus(ctx context.Context, testRunID, status, errorMessage string) {
	if c.eventBus == "" || c.events == nil {
		return
	}
	detail, err := json.Marshal(map[string]string{
		"testRunId": testRunID,
		"status":    status,
		"error":     errorMessage,
	})
	if err != nil {
		return
	}
	_, err = c.events.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []ebtypes.PutEventsRequestEntry{{
			EventBusName: aws.String(c.eventBus),
			Source:       aws.String("idp.testing"),
			DetailType:   aws.String("TestRun Status Changed"),
			Detail:       aws.String(string(detail)),
		}},
	})
	if err != nil {
		c.logger.Warn("Failed to publish test run status event",
			zap.String("test_run_id", testRunID), zap.Error(err))
	}
}
