package tracking

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"

	appErrors "github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/pkg/errors"
)

// CloudFormationAPI is the subset of the CloudFormation client used for
// table discovery.
type CloudFormationAPI interface {
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
}

// DiscoverTableName resolves the tracking table name. An explicitly
// configured name wins; otherwise the stack's TrackingTableName output
// is used. Neither resolving is a not-found error.
func DiscoverTableName(ctx context.Context, cfn CloudFormationAPI, configured, stackName string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if stackName == "" {
		return "", appErrors.NewNotFound("TrackingTable not found")
	}

	out, err := cfn.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		return "", appErrors.Wrap(err, fmt.Sprintf("failed to describe stack %q for tracking table discovery", stackName))
	}
	for _, stack := range out.Stacks {
		for _, output := range stack.Outputs {
			if aws.ToString(output.OutputKey) != "TrackingTableName" {
				continue
			}
			if name := aws.ToString(output.OutputValue); name != "" {
				return name, nil
			}
		}
	}
	return "", appErrors.NewNotFound("TrackingTable not found")
}
