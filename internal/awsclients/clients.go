// Package awsclients builds the AWS service clients shared by the
// Lambda handlers, the agent tool server and the CLI.
package awsclients

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/xray"
)

// Clients bundles the service clients a binary may need. Each cmd only
// touches the fields its packages use; the rest stay nil-cost until the
// first call.
type Clients struct {
	cfg aws.Config

	Logs           *cloudwatchlogs.Client
	StepFunctions  *sfn.Client
	XRay           *xray.Client
	CloudFormation *cloudformation.Client
	DynamoDB       *dynamodb.Client
	S3             *s3.Client
	SageMaker      *sagemaker.Client
	Cognito        *cognitoidentityprovider.Client
	EventBridge    *eventbridge.Client
	IAM            *iam.Client
}

// New loads the default AWS configuration and constructs all clients.
func New(ctx context.Context, region string) (*Clients, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Clients{
		cfg:            cfg,
		Logs:           cloudwatchlogs.NewFromConfig(cfg),
		StepFunctions:  sfn.NewFromConfig(cfg),
		XRay:           xray.NewFromConfig(cfg),
		CloudFormation: cloudformation.NewFromConfig(cfg),
		DynamoDB:       dynamodb.NewFromConfig(cfg),
		S3:             s3.NewFromConfig(cfg),
		SageMaker:      sagemaker.NewFromConfig(cfg),
		Cognito:        cognitoidentityprovider.NewFromConfig(cfg),
		EventBridge:    eventbridge.NewFromConfig(cfg),
		IAM:            iam.NewFromConfig(cfg),
	}, nil
}

// Region returns the resolved region of the loaded configuration.
func (c *Clients) Region() string {
	return c.cfg.Region
}
