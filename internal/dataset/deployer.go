// Package dataset deploys the bundled evaluation test set into a test
// bucket. The dataset ships as objects plus a manifest in a source S3
// location; deployment copies the documents and renders the baseline
// ground truth the evaluation pipeline expects.
package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/tracking"
	appErrors "github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/pkg/errors"
)

// S3API is the subset of the S3 client the deployer uses.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// TestSetStore is the tracking-table surface the deployer needs.
type TestSetStore interface {
	GetTestSetVersion(ctx context.Context, testSetID string) (string, error)
	PutTestSetRecord(ctx context.Context, record tracking.TestSetRecord) error
}

// Manifest describes the shipped dataset.
type Manifest struct {
	Version     string             `json:"version"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Documents   []ManifestDocument `json:"documents"`
}

// ManifestDocument is one document entry in the manifest.
type ManifestDocument struct {
	ID          string          `json:"id"`
	Key         string          `json:"key"`
	GroundTruth json.RawMessage `json:"groundTruth"`
}

// DeployParams configure one deployment.
type DeployParams struct {
	TestSetID    string
	TargetBucket string
	TargetPrefix string
}

// DeployResult summarizes a deployment.
type DeployResult struct {
	Deployed  bool   `json:"deployed"`
	Skipped   bool   `json:"skipped"`
	FileCount int    `json:"file_count"`
	Failures  int    `json:"failures"`
	Version   string `json:"version"`
}

// Deployer copies the dataset into place.
type Deployer struct {
	s3Client     S3API
	store        TestSetStore
	sourceBucket string
	sourcePrefix string
	logger       *zap.Logger
}

// NewDeployer creates a Deployer reading from the given source location.
func NewDeployer(s3Client S3API, store TestSetStore, sourceBucket, sourcePrefix string, logger *zap.Logger) *Deployer {
	return &Deployer{
		s3Client:     s3Client,
		store:        store,
		sourceBucket: sourceBucket,
		sourcePrefix: sourcePrefix,
		logger:       logger,
	}
}

// Deploy installs the dataset unless the same version is already in
// place. Per-document failures are skipped and counted so one bad
// object does not fail the whole stack operation.
func (d *Deployer) Deploy(ctx context.Context, params DeployParams) (*DeployResult, error) {
	manifest, err := d.readManifest(ctx)
	if err != nil {
		return nil, err
	}

	deployed, err := d.alreadyDeployed(ctx, params, manifest.Version)
	if err != nil {
		return nil, err
	}
	if deployed {
		d.logger.Info("Test set already deployed, skipping",
			zap.String("test_set_id", params.TestSetID),
			zap.String("version", manifest.Version),
		)
		return &DeployResult{Skipped: true, Version: manifest.Version}, nil
	}

	inputPrefix := params.TargetPrefix + "input/"
	baselinePrefix := params.TargetPrefix + "baseline/"

	copied, failures := 0, 0
	for i, doc := range manifest.Documents {
		if err := d.deployDocument(ctx, params, inputPrefix, baselinePrefix, doc); err != nil {
			d.logger.Warn("Skipping document",
				zap.String("document_id", doc.ID), zap.Error(err))
			failures++
			continue
		}
		copied++
		if (i+1)%10 == 0 {
			d.logger.Info("Deployment progress",
				zap.Int("deployed", i+1),
				zap.Int("total", len(manifest.Documents)),
			)
		}
	}
	if copied == 0 {
		return nil, appErrors.NewInternal("no dataset documents could be deployed", nil)
	}

	record := tracking.TestSetRecord{
		TestSetID:      params.TestSetID,
		Name:           manifest.Name,
		Description:    manifest.Description,
		BucketType:     "test",
		BucketName:     params.TargetBucket,
		InputPrefix:    inputPrefix,
		BaselinePrefix: baselinePrefix,
		FileCount:      copied,
		Status:         "COMPLETED",
		DatasetVersion: manifest.Version,
		Source:         fmt.Sprintf("s3://%s/%s", d.sourceBucket, d.sourcePrefix),
	}
	if err := d.store.PutTestSetRecord(ctx, record); err != nil {
		return nil, err
	}

	d.logger.Info("Test set deployed",
		zap.String("test_set_id", params.TestSetID),
		zap.Int("file_count", copied),
		zap.Int("failures", failures),
	)
	return &DeployResult{
		Deployed:  true,
		FileCount: copied,
		Failures:  failures,
		Version:   manifest.Version,
	}, nil
}

// alreadyDeployed reports whether the recorded version matches AND at
// least one input object exists. Both checks are needed: the record can
// outlive a manually emptied bucket.
func (d *Deployer) alreadyDeployed(ctx context.Context, params DeployParams, version string) (bool, error) {
	recorded, err := d.store.GetTestSetVersion(ctx, params.TestSetID)
	if err != nil {
		return false, err
	}
	if recorded == "" || recorded != version {
		return false, nil
	}

	out, err := d.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(params.TargetBucket),
		Prefix:  aws.String(params.TargetPrefix + "input/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, appErrors.Wrap(err, "failed to check deployed test set objects")
	}
	return len(out.Contents) > 0, nil
}

func (d *Deployer) readManifest(ctx context.Context) (*Manifest, error) {
	key := d.sourcePrefix + "manifest.json"
	out, err := d.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.sourceBucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, fmt.Sprintf("failed to read dataset manifest s3://%s/%s", d.sourceBucket, key))
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to read dataset manifest body")
	}
	var manifest Manifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return nil, appErrors.NewValidation(fmt.Sprintf("dataset manifest is not valid JSON: %v", err))
	}
	if manifest.Version == "" || len(manifest.Documents) == 0 {
		return nil, appErrors.NewValidation("dataset manifest is missing a version or documents")
	}
	return &manifest, nil
}

// deployDocument copies one document PDF and renders its baseline
// ground truth in the layout the evaluation pipeline reads.
func (d *Deployer) deployDocument(ctx context.Context, params DeployParams, inputPrefix, baselinePrefix string, doc ManifestDocument) error {
	if doc.ID == "" || doc.Key == "" {
		return fmt.Errorf("manifest entry missing id or key")
	}

	srcKey := d.sourcePrefix + doc.Key
	_, err := d.s3Client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(params.TargetBucket),
		Key:        aws.String(inputPrefix + doc.ID),
		CopySource: aws.String(d.sourceBucket + "/" + url.PathEscape(srcKey)),
	})
	if err != nil {
		return fmt.Errorf("copy document: %w", err)
	}

	if len(doc.GroundTruth) == 0 {
		return nil
	}
	baseline, err := json.Marshal(map[string]json.RawMessage{
		"inference_result": doc.GroundTruth,
	})
	if err != nil {
		return fmt.Errorf("render ground truth: %w", err)
	}
	_, err = d.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(params.TargetBucket),
		Key:         aws.String(baselinePrefix + doc.ID + "/sections/1/result.json"),
		Body:        strings.NewReader(string(baseline)),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("write ground truth: %w", err)
	}
	return nil
}
