package ddb

import (
	"context"

	"github.com/Invicton-Labs/go-stackerr"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

type ClientConfig struct {
	// OPTIONAL. An AWS config to use. If not provided,
	// the default config will be used.
	AwsConfig *aws.Config
	// OPTIONAL. Overrides the region of the AWS config.
	Region string
}

// NewClient creates a DynamoDB client from the given config.
func NewClient(ctx context.Context, clientConfig ClientConfig) (*dynamodb.Client, stackerr.Error) {
	var cfg aws.Config
	if clientConfig.AwsConfig != nil {
		cfg = *clientConfig.AwsConfig
	} else {
		var err error
		// Get the config for our AWS credentials
		cfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, stackerr.Wrap(err)
		}
	}
	if clientConfig.Region != "" {
		cfg.Region = clientConfig.Region
	}

	return dynamodb.NewFromConfig(cfg), nil
}
