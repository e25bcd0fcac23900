// Package stackinfo resolves the deployed stack's API gateway and
// Cognito configuration for operators wiring up external clients.
package stackinfo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"go.uber.org/zap"

	appErrors "github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/pkg/errors"
)

// CloudFormationAPI is the subset of the CloudFormation client used here.
type CloudFormationAPI interface {
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
}

// CognitoAPI is the subset of the Cognito IDP client used here.
type CognitoAPI interface {
	DescribeUserPool(ctx context.Context, params *cognitoidentityprovider.DescribeUserPoolInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.DescribeUserPoolOutput, error)
}

// GatewayInfo is the resolved client configuration.
type GatewayInfo struct {
	StackName        string `json:"stack_name"`
	GatewayURL       string `json:"gateway_url,omitempty"`
	ClientID         string `json:"client_id,omitempty"`
	ClientSecret     string `json:"client_secret,omitempty"`
	UserPoolID       string `json:"user_pool_id,omitempty"`
	UserPoolName     string `json:"user_pool_name,omitempty"`
	Domain           string `json:"domain,omitempty"`
	TokenURL         string `json:"token_url,omitempty"`
	AuthorizationURL string `json:"authorization_url,omitempty"`
}

// Service resolves gateway configuration from stack outputs.
type Service struct {
	cfn     CloudFormationAPI
	cognito CognitoAPI
	region  string
	logger  *zap.Logger
}

// New creates a stack info Service.
func New(cfn CloudFormationAPI, cognito CognitoAPI, region string, logger *zap.Logger) *Service {
	return &Service{cfn: cfn, cognito: cognito, region: region, logger: logger}
}

// GatewayInfo reads the stack outputs and the referenced Cognito user
// pool. Cognito lookup failures degrade to output-only info; the stack
// lookup itself must succeed.
func (s *Service) GatewayInfo(ctx context.Context, stackName string) (*GatewayInfo, error) {
	out, err := s.cfn.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, fmt.Sprintf("failed to describe stack %q", stackName))
	}
	if len(out.Stacks) == 0 {
		return nil, appErrors.NewNotFound(fmt.Sprintf("stack %q not found", stackName))
	}

	info := &GatewayInfo{StackName: stackName}
	for _, output := range out.Stacks[0].Outputs {
		value := aws.ToString(output.OutputValue)
		switch aws.ToString(output.OutputKey) {
		case "AgentGatewayUrl", "GatewayUrl":
			info.GatewayURL = value
		case "ExternalAppClientId", "GatewayClientId", "UserPoolClientId":
			info.ClientID = value
		case "ExternalAppClientSecret", "GatewayClientSecret":
			info.ClientSecret = value
		case "ExternalAppUserPoolId", "UserPoolId":
			info.UserPoolID = value
		}
	}

	if info.UserPoolID != "" {
		pool, err := s.cognito.DescribeUserPool(ctx, &cognitoidentityprovider.DescribeUserPoolInput{
			UserPoolId: aws.String(info.UserPoolID),
		})
		if err != nil {
			s.logger.Warn("Failed to describe user pool",
				zap.String("user_pool_id", info.UserPoolID), zap.Error(err))
		} else if pool.UserPool != nil {
			info.UserPoolName = aws.ToString(pool.UserPool.Name)
			info.Domain = aws.ToString(pool.UserPool.Domain)
			if info.Domain != "" {
				base := fmt.Sprintf("https://%s.auth.%s.amazoncognito.com", info.Domain, s.region)
				info.TokenURL = base + "/oauth2/token"
				info.AuthorizationURL = base + "/oauth2/authorize"
			}
		}
	}
	return info, nil
}
