// Package uninstall tears down a deployed IDP stack: the data buckets
// are emptied and removed first (CloudFormation refuses to delete
// non-empty buckets), then the stack, its service-role stack and the
// permission-boundary policy.
package uninstall

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	appErrors "github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/pkg/errors"
)

// bucketOutputKeys name the stack outputs that reference data buckets.
var bucketOutputKeys = []string{
	"S3LoggingBucket",
	"S3WebUIBucket",
	"S3EvaluationBaselineBucketName",
	"S3InputBucketName",
	"S3OutputBucketName",
}

// defaultPrefix names the installer artifacts (install bucket, service
// role stack, permission boundary) when no prefix is given.
const defaultPrefix = "idp-dev"

// CloudFormationAPI is the subset of the CloudFormation client used here.
type CloudFormationAPI interface {
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	DeleteStack(ctx context.Context, params *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error)
}

// S3API is the subset of the S3 client used here.
type S3API interface {
	ListObjectVersions(ctx context.Context, params *s3.ListObjectVersionsInput, optFns ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	DeleteBucket(ctx context.Context, params *s3.DeleteBucketInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketOutput, error)
}

// IAMAPI is the subset of the IAM client used here.
type IAMAPI interface {
	ListPolicies(ctx context.Context, params *iam.ListPoliciesInput, optFns ...func(*iam.Options)) (*iam.ListPoliciesOutput, error)
	DeletePolicy(ctx context.Context, params *iam.DeletePolicyInput, optFns ...func(*iam.Options)) (*iam.DeletePolicyOutput, error)
}

// Service removes a deployed stack and its data.
type Service struct {
	cfn      CloudFormationAPI
	s3Client S3API
	iam      IAMAPI
	region   string
	prefix   string
	logger   *zap.Logger
}

// New creates an uninstall Service. The prefix names the installer
// artifacts that live outside the stack (install bucket, service role
// stack, permission boundary policy); empty means "idp-dev".
func New(cfn CloudFormationAPI, s3Client S3API, iamClient IAMAPI, region, prefix string, logger *zap.Logger) *Service {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Service{cfn: cfn, s3Client: s3Client, iam: iamClient, region: region, prefix: prefix, logger: logger}
}

// Report summarizes what the uninstall removed.
type Report struct {
	StackName       string   `json:"stack_name"`
	BucketsEmptied  []string `json:"buckets_emptied"`
	ObjectsDeleted  int      `json:"objects_deleted"`
	StackDeleted    bool     `json:"stack_deleted"`
	RoleStack       string   `json:"service_role_stack,omitempty"`
	PolicyDeleted   bool     `json:"permission_boundary_deleted"`
	Warnings        []string `json:"warnings,omitempty"`
}

// Uninstall removes the stack end to end. Bucket and policy problems
// become warnings; only the stack delete itself is fatal.
func (s *Service) Uninstall(ctx context.Context, stackName string) (*Report, error) {
	report := &Report{StackName: stackName}

	out, err := s.cfn.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, fmt.Sprintf("failed to describe stack %q", stackName))
	}
	if len(out.Stacks) == 0 {
		return nil, appErrors.NewNotFound(fmt.Sprintf("stack %q not found", stackName))
	}
	stack := out.Stacks[0]

	for _, bucket := range s.stackBuckets(stack) {
		deleted, err := s.emptyBucket(ctx, bucket)
		report.ObjectsDeleted += deleted
		if err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("bucket %s: %v", bucket, err))
			continue
		}
		if _, err := s.s3Client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("delete bucket %s: %v", bucket, err))
			continue
		}
		report.BucketsEmptied = append(report.BucketsEmptied, bucket)
		s.logger.Info("Deleted bucket", zap.String("bucket", bucket))
	}

	if err := s.deleteStack(ctx, stackName); err != nil {
		return report, err
	}
	report.StackDeleted = true

	roleStack := s.prefix + "-cloudformation-service-role"
	if err := s.deleteStack(ctx, roleStack); err != nil {
		if !appErrors.IsNotFound(err) {
			report.Warnings = append(report.Warnings, fmt.Sprintf("service role stack: %v", err))
		}
	} else {
		report.RoleStack = roleStack
	}

	deletedPolicy, warning := s.deletePermissionBoundary(ctx)
	report.PolicyDeleted = deletedPolicy
	if warning != "" {
		report.Warnings = append(report.Warnings, warning)
	}
	return report, nil
}

// stackBuckets collects the data buckets from the stack outputs plus
// the install bucket "<prefix>-<account>-<region>". The account ID
// comes from the stack ARN.
func (s *Service) stackBuckets(stack cfntypes.Stack) []string {
	var buckets []string
	seen := map[string]bool{}
	add := func(bucket string) {
		if bucket != "" && !seen[bucket] {
			seen[bucket] = true
			buckets = append(buckets, bucket)
		}
	}
	for _, output := range stack.Outputs {
		key := aws.ToString(output.OutputKey)
		for _, want := range bucketOutputKeys {
			if key == want {
				add(aws.ToString(output.OutputValue))
			}
		}
	}
	if account := accountFromStackARN(aws.ToString(stack.StackId)); account != "" {
		add(fmt.Sprintf("%s-%s-%s", s.prefix, account, s.region))
	}
	return buckets
}

// accountFromStackARN extracts the account ID from a stack ARN like
// arn:aws:cloudformation:us-east-1:123456789012:stack/name/uuid.
func accountFromStackARN(arn string) string {
	parts := strings.Split(arn, ":")
	if len(parts) < 6 {
		return ""
	}
	return parts[4]
}

// emptyBucket removes every object version and delete marker.
func (s *Service) emptyBucket(ctx context.Context, bucket string) (int, error) {
	deleted := 0
	var keyMarker, versionMarker *string
	for {
		out, err := s.s3Client.ListObjectVersions(ctx, &s3.ListObjectVersionsInput{
			Bucket:          aws.String(bucket),
			KeyMarker:       keyMarker,
			VersionIdMarker: versionMarker,
		})
		if err != nil {
			return deleted, fmt.Errorf("list object versions: %w", err)
		}

		var objects []s3types.ObjectIdentifier
		for _, version := range out.Versions {
			objects = append(objects, s3types.ObjectIdentifier{
				Key:       version.Key,
				VersionId: version.VersionId,
			})
		}
		for _, marker := range out.DeleteMarkers {
			objects = append(objects, s3types.ObjectIdentifier{
				Key:       marker.Key,
				VersionId: marker.VersionId,
			})
		}
		if len(objects) > 0 {
			if _, err := s.s3Client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(bucket),
				Delete: &s3types.Delete{Objects: objects, Quiet: aws.Bool(true)},
			}); err != nil {
				return deleted, fmt.Errorf("delete objects: %w", err)
			}
			deleted += len(objects)
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		keyMarker = out.NextKeyMarker
		versionMarker = out.NextVersionIdMarker
	}
	s.logger.Info("Emptied bucket", zap.String("bucket", bucket), zap.Int("objects", deleted))
	return deleted, nil
}

// deleteStack deletes a stack and waits for completion. A missing stack
// is reported as not found so callers can treat it as already gone.
func (s *Service) deleteStack(ctx context.Context, stackName string) error {
	_, err := s.cfn.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		if appErrors.IsAWSErrorCode(err, "ValidationError") {
			return appErrors.NewNotFound(fmt.Sprintf("stack %q does not exist", stackName))
		}
		return appErrors.Wrap(err, fmt.Sprintf("failed to describe stack %q", stackName))
	}

	s.logger.Info("Deleting stack", zap.String("stack", stackName))
	if _, err := s.cfn.DeleteStack(ctx, &cloudformation.DeleteStackInput{
		StackName: aws.String(stackName),
	}); err != nil {
		return appErrors.Wrap(err, fmt.Sprintf("failed to delete stack %q", stackName))
	}

	waiter := cloudformation.NewStackDeleteCompleteWaiter(s.cfn)
	if err := waiter.Wait(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	}, 30*time.Minute); err != nil {
		return appErrors.Wrap(err, fmt.Sprintf("stack %q did not finish deleting", stackName))
	}
	return nil
}

// deletePermissionBoundary removes the "<prefix>-IDPPermissionBoundary"
// customer-managed policy. A missing policy is fine; a policy still
// attached somewhere is a warning, not a failure.
func (s *Service) deletePermissionBoundary(ctx context.Context) (bool, string) {
	policyName := s.prefix + "-IDPPermissionBoundary"

	var policyARN string
	var marker *string
	for {
		out, err := s.iam.ListPolicies(ctx, &iam.ListPoliciesInput{
			Scope:  "Local",
			Marker: marker,
		})
		if err != nil {
			return false, fmt.Sprintf("list policies: %v", err)
		}
		for _, policy := range out.Policies {
			if aws.ToString(policy.PolicyName) == policyName {
				policyARN = aws.ToString(policy.Arn)
				break
			}
		}
		if policyARN != "" || !out.IsTruncated {
			break
		}
		marker = out.Marker
	}
	if policyARN == "" {
		return false, ""
	}

	if _, err := s.iam.DeletePolicy(ctx, &iam.DeletePolicyInput{PolicyArn: aws.String(policyARN)}); err != nil {
		if appErrors.IsAWSErrorCode(err, "NoSuchEntity") {
			return false, ""
		}
		if appErrors.IsAWSErrorCode(err, "DeleteConflict") {
			return false, fmt.Sprintf("policy %s is still attached; detach it and delete manually", policyName)
		}
		return false, fmt.Sprintf("delete policy %s: %v", policyName, err)
	}
	s.logger.Info("Deleted permission boundary policy", zap.String("policy", policyName))
	return true, ""
}
