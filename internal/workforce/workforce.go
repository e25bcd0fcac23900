// Package workforce resolves the SageMaker labeling workforce portal
// URL for a CloudFormation custom resource. The workteam is created by
// the same stack, so the describe call is retried while SageMaker
// finishes provisioning it.
package workforce

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"go.uber.org/zap"

	appErrors "github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/pkg/errors"
)

const (
	describeAttempts = 5
	describeDelay    = 5 * time.Second
)

// SageMakerAPI is the subset of the SageMaker client used here.
type SageMakerAPI interface {
	DescribeWorkteam(ctx context.Context, params *sagemaker.DescribeWorkteamInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeWorkteamOutput, error)
}

// PortalInfo carries the resolved workforce URLs.
type PortalInfo struct {
	PortalURL  string
	ConsoleURL string
}

// Resolver looks up workteam portal URLs.
type Resolver struct {
	client SageMakerAPI
	region string
	logger *zap.Logger
	delay  time.Duration
}

// NewResolver creates a Resolver for the given region.
func NewResolver(client SageMakerAPI, region string, logger *zap.Logger) *Resolver {
	return &Resolver{
		client: client,
		region: region,
		logger: logger,
		delay:  describeDelay,
	}
}

// PortalInfo resolves the portal URL for a workteam, retrying while the
// workteam is still being created. Exhausting the retries does not fail
// the stack: a workteam that never appeared reports "Workteam not
// found", one that appeared without a subdomain reports "Not available".
func (r *Resolver) PortalInfo(ctx context.Context, workteamName string) (*PortalInfo, error) {
	if workteamName == "" {
		return nil, appErrors.NewValidation("workteam name is required")
	}

	info := &PortalInfo{
		PortalURL:  "Not available",
		ConsoleURL: fmt.Sprintf("https://%s.console.aws.amazon.com/sagemaker/groundtruth?region=%s#/labeling-workforces/private", r.region, r.region),
	}

	workteamMissing := false
	for attempt := 1; attempt <= describeAttempts; attempt++ {
		out, err := r.client.DescribeWorkteam(ctx, &sagemaker.DescribeWorkteamInput{
			WorkteamName: aws.String(workteamName),
		})
		switch {
		case err != nil && appErrors.IsAWSErrorCode(err, "ResourceNotFound"):
			workteamMissing = true
			r.logger.Info("Workteam not ready yet",
				zap.String("workteam", workteamName),
				zap.Int("attempt", attempt),
			)
		case err != nil:
			return nil, appErrors.Wrap(err, fmt.Sprintf("failed to describe workteam %q", workteamName))
		default:
			workteamMissing = false
			subdomain := aws.ToString(out.Workteam.SubDomain)
			if subdomain != "" {
				info.PortalURL = "https://" + subdomain
				return info, nil
			}
			r.logger.Info("Workteam has no subdomain yet",
				zap.String("workteam", workteamName),
				zap.Int("attempt", attempt),
			)
		}

		if attempt == describeAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.delay):
		}
	}

	if workteamMissing {
		info.PortalURL = "Workteam not found"
	}
	r.logger.Warn("Workteam portal URL unavailable after retries",
		zap.String("workteam", workteamName),
		zap.String("portal_url", info.PortalURL))
	return info, nil
}
