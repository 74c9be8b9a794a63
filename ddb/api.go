// Package ddb is the module's facade over DynamoDB. It pins the subset of
// the service API that the lock and the repositories consume, constructs
// clients, and classifies the store's failure signals (conditional-check
// failures, transaction cancellations) so that the packages above it can
// map them to domain errors without touching SDK error types themselves.
package ddb

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// API is the DynamoDB surface this module depends on. *dynamodb.Client
// satisfies it; so does the in-memory store in the ddbmem package. The
// implementation must be safe for concurrent use.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

var _ API = (*dynamodb.Client)(nil)
