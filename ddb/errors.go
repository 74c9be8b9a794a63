package ddb

import (
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// CancellationReasonConditionalCheckFailed is the per-item cancellation
// code DynamoDB reports for a transact item whose condition expression
// evaluated to false.
const CancellationReasonConditionalCheckFailed = "ConditionalCheckFailed"

// IsConditionalCheckFailed reports whether err signals a failed condition
// expression on a single-item write (PutItem or UpdateItem).
func IsConditionalCheckFailed(err error) bool {
	var ccfe *types.ConditionalCheckFailedException
	if errors.As(err, &ccfe) {
		return true
	}
	// Errors that crossed a boundary that strips the concrete type still
	// carry the service error code.
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}

// ConditionalCheckFailedItem returns the old item image attached to a
// conditional-check failure, when the request asked for
// ReturnValuesOnConditionCheckFailure=ALL_OLD. The second return value is
// false if err is not a conditional-check failure at all; an empty map
// with true means the condition failed against a non-existent item.
func ConditionalCheckFailedItem(err error) (map[string]types.AttributeValue, bool) {
	var ccfe *types.ConditionalCheckFailedException
	if !errors.As(err, &ccfe) {
		return nil, false
	}
	return ccfe.Item, true
}

// CancellationReasons extracts the ordered per-item cancellation reasons
// from a TransactWriteItems failure. The order matches the order of the
// TransactItems in the request; callers rely on that to map an index back
// to the operation that failed.
func CancellationReasons(err error) ([]types.CancellationReason, bool) {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return nil, false
	}
	return tce.CancellationReasons, true
}

// ReasonIsConditionalCheckFailed reports whether a single cancellation
// reason denotes a failed condition expression.
func ReasonIsConditionalCheckFailed(reason types.CancellationReason) bool {
	return reason.Code != nil && *reason.Code == CancellationReasonConditionalCheckFailed
}
