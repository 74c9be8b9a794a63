// Package ddbmem is an in-memory implementation of the DynamoDB subset
// consumed by this module (ddb.API). It evaluates real condition and
// update expressions and reproduces the store's failure signals —
// ConditionalCheckFailedException with an optional old item image, and
// TransactionCanceledException with ordered per-item cancellation
// reasons — so the lock and the repositories can be tested hermetically
// against the same semantics they run against in production.
package ddbmem

import (
	"context"
	"strings"
	"sync"

	"github.com/Invicton-Labs/go-dynamodb-concurrency/conversions"
	"github.com/Invicton-Labs/go-dynamodb-concurrency/ddb"
	"github.com/Invicton-Labs/go-stackerr"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// maxTransactItems mirrors the store's bound on the size of a single
// TransactWriteItems batch.
const maxTransactItems = 100

// Table declares the key schema of a table held by the store.
type Table struct {
	Name         string
	PartitionKey string
	// SortKey is empty for tables with a partition key only.
	SortKey string
}

type table struct {
	schema Table
	items  map[string]map[string]types.AttributeValue
}

// Store is an in-memory DynamoDB. It satisfies ddb.API and is safe for
// concurrent use.
type Store struct {
	mu     sync.Mutex
	tables map[string]*table
}

var _ ddb.API = (*Store)(nil)

// NewStore creates a store holding the given tables.
func NewStore(tables ...Table) *Store {
	s := &Store{
		tables: make(map[string]*table, len(tables)),
	}
	for _, schema := range tables {
		s.tables[schema.Name] = &table{
			schema: schema,
			items:  map[string]map[string]types.AttributeValue{},
		}
	}
	return s
}

func (s *Store) table(name *string) (*table, error) {
	tableName := conversions.FromPtr(name)
	if tableName == "" {
		return nil, validationError("TableName is required")
	}
	t, ok := s.tables[tableName]
	if !ok {
		return nil, &types.ResourceNotFoundException{
			Message: conversions.GetPtr("Requested resource not found: Table: " + tableName + " not found"),
		}
	}
	return t, nil
}

// itemKey builds the internal map key for an item from its key attributes.
func (t *table) itemKey(attrs map[string]types.AttributeValue) (string, error) {
	parts := make([]string, 0, 2)
	keyNames := []string{t.schema.PartitionKey}
	if t.schema.SortKey != "" {
		keyNames = append(keyNames, t.schema.SortKey)
	}
	for _, name := range keyNames {
		value, ok := attrs[name]
		if !ok {
			return "", validationError("One of the required keys was not given a value: " + name)
		}
		switch av := value.(type) {
		case *types.AttributeValueMemberS:
			parts = append(parts, av.Value)
		case *types.AttributeValueMemberN:
			parts = append(parts, av.Value)
		default:
			return "", validationError("Key attribute " + name + " must be a string or a number")
		}
	}
	return strings.Join(parts, "\x00"), nil
}

func validationError(message string) error {
	return &smithy.GenericAPIError{
		Code:    "ValidationException",
		Message: message,
	}
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	copied := make(map[string]types.AttributeValue, len(item))
	for name, value := range item {
		copied[name] = copyValue(value)
	}
	return copied
}

func copyValue(value types.AttributeValue) types.AttributeValue {
	switch av := value.(type) {
	case *types.AttributeValueMemberS:
		return &types.AttributeValueMemberS{Value: av.Value}
	case *types.AttributeValueMemberN:
		return &types.AttributeValueMemberN{Value: av.Value}
	case *types.AttributeValueMemberBOOL:
		return &types.AttributeValueMemberBOOL{Value: av.Value}
	case *types.AttributeValueMemberNULL:
		return &types.AttributeValueMemberNULL{Value: av.Value}
	case *types.AttributeValueMemberL:
		values := make([]types.AttributeValue, len(av.Value))
		for i, v := range av.Value {
			values[i] = copyValue(v)
		}
		return &types.AttributeValueMemberL{Value: values}
	case *types.AttributeValueMemberM:
		return &types.AttributeValueMemberM{Value: copyItem(av.Value)}
	default:
		// Binary and set members are not produced by this module.
		return value
	}
}

func conditionalCheckFailed(oldItem map[string]types.AttributeValue, returnValues types.ReturnValuesOnConditionCheckFailure) error {
	failure := &types.ConditionalCheckFailedException{
		Message: conversions.GetPtr("The conditional request failed"),
	}
	if returnValues == types.ReturnValuesOnConditionCheckFailureAllOld && oldItem != nil {
		failure.Item = copyItem(oldItem)
	}
	return failure
}

func (s *Store) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(params.TableName)
	if err != nil {
		return nil, err
	}
	key, err := t.itemKey(params.Key)
	if err != nil {
		return nil, err
	}

	item, ok := t.items[key]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(item)}, nil
}

// DeleteItem removes an item. Not part of ddb.API — the module's cores
// never delete — but pollers and tests exercising vanished-item paths
// need it.
func (s *Store) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(params.TableName)
	if err != nil {
		return nil, err
	}
	key, err := t.itemKey(params.Key)
	if err != nil {
		return nil, err
	}

	existing := t.items[key]
	if params.ConditionExpression != nil {
		ok, serr := evalCondition(*params.ConditionExpression, exprContext{
			names:  params.ExpressionAttributeNames,
			values: params.ExpressionAttributeValues,
			item:   existing,
		})
		if serr != nil {
			return nil, serr
		}
		if !ok {
			return nil, conditionalCheckFailed(existing, params.ReturnValuesOnConditionCheckFailure)
		}
	}

	delete(t.items, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (s *Store) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(params.TableName)
	if err != nil {
		return nil, err
	}
	key, err := t.itemKey(params.Item)
	if err != nil {
		return nil, err
	}

	existing := t.items[key]
	if params.ConditionExpression != nil {
		ok, serr := evalCondition(*params.ConditionExpression, exprContext{
			names:  params.ExpressionAttributeNames,
			values: params.ExpressionAttributeValues,
			item:   existing,
		})
		if serr != nil {
			return nil, serr
		}
		if !ok {
			return nil, conditionalCheckFailed(existing, params.ReturnValuesOnConditionCheckFailure)
		}
	}

	t.items[key] = copyItem(params.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (s *Store) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(params.TableName)
	if err != nil {
		return nil, err
	}
	key, err := t.itemKey(params.Key)
	if err != nil {
		return nil, err
	}

	existing, exists := t.items[key]
	if params.ConditionExpression != nil {
		ok, serr := evalCondition(*params.ConditionExpression, exprContext{
			names:  params.ExpressionAttributeNames,
			values: params.ExpressionAttributeValues,
			item:   existing,
		})
		if serr != nil {
			return nil, serr
		}
		if !ok {
			return nil, conditionalCheckFailed(existing, params.ReturnValuesOnConditionCheckFailure)
		}
	}

	updated, serr := applyUpdateToItem(params.Key, existing, exists, params.UpdateExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if serr != nil {
		return nil, serr
	}
	t.items[key] = updated
	return &dynamodb.UpdateItemOutput{}, nil
}

// applyUpdateToItem applies an update expression to an existing item, or
// to a fresh item holding only the key attributes when the item does not
// exist yet (an unconditioned UpdateItem creates the item).
func applyUpdateToItem(
	key map[string]types.AttributeValue,
	existing map[string]types.AttributeValue,
	exists bool,
	updateExpression *string,
	names map[string]string,
	values map[string]types.AttributeValue,
) (map[string]types.AttributeValue, stackerr.Error) {
	base := existing
	if !exists {
		base = copyItem(key)
	}
	if updateExpression == nil {
		return copyItem(base), nil
	}
	return applyUpdate(*updateExpression, exprContext{
		names:  names,
		values: values,
		item:   base,
	})
}

// TransactWriteItems applies the batch atomically: all condition
// expressions are evaluated against the current state first, and
// mutations are applied only if every one of them passed. On failure it
// returns a TransactionCanceledException whose CancellationReasons are in
// request order, which callers depend on to attribute the failure.
func (s *Store) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(params.TransactItems) == 0 {
		return nil, validationError("TransactItems must contain at least one item")
	}
	if len(params.TransactItems) > maxTransactItems {
		return nil, validationError("Member must have length less than or equal to 100")
	}

	type plannedWrite struct {
		table *table
		key   string
		// item is nil for a pure condition check.
		item map[string]types.AttributeValue
	}

	reasons := make([]types.CancellationReason, len(params.TransactItems))
	writes := make([]plannedWrite, 0, len(params.TransactItems))
	cancelled := false

	for i, op := range params.TransactItems {
		reasons[i] = types.CancellationReason{Code: conversions.GetPtr("None")}

		fail := func(oldItem map[string]types.AttributeValue, returnValues types.ReturnValuesOnConditionCheckFailure) {
			reasons[i] = types.CancellationReason{
				Code:    conversions.GetPtr(ddb.CancellationReasonConditionalCheckFailed),
				Message: conversions.GetPtr("The conditional request failed"),
			}
			if returnValues == types.ReturnValuesOnConditionCheckFailureAllOld && oldItem != nil {
				reasons[i].Item = copyItem(oldItem)
			}
			cancelled = true
		}

		switch {
		case op.Put != nil:
			t, err := s.table(op.Put.TableName)
			if err != nil {
				return nil, err
			}
			key, err := t.itemKey(op.Put.Item)
			if err != nil {
				return nil, err
			}
			existing := t.items[key]
			if op.Put.ConditionExpression != nil {
				ok, serr := evalCondition(*op.Put.ConditionExpression, exprContext{
					names:  op.Put.ExpressionAttributeNames,
					values: op.Put.ExpressionAttributeValues,
					item:   existing,
				})
				if serr != nil {
					return nil, serr
				}
				if !ok {
					fail(existing, op.Put.ReturnValuesOnConditionCheckFailure)
					continue
				}
			}
			writes = append(writes, plannedWrite{table: t, key: key, item: copyItem(op.Put.Item)})

		case op.Update != nil:
			t, err := s.table(op.Update.TableName)
			if err != nil {
				return nil, err
			}
			key, err := t.itemKey(op.Update.Key)
			if err != nil {
				return nil, err
			}
			existing, exists := t.items[key]
			if op.Update.ConditionExpression != nil {
				ok, serr := evalCondition(*op.Update.ConditionExpression, exprContext{
					names:  op.Update.ExpressionAttributeNames,
					values: op.Update.ExpressionAttributeValues,
					item:   existing,
				})
				if serr != nil {
					return nil, serr
				}
				if !ok {
					fail(existing, op.Update.ReturnValuesOnConditionCheckFailure)
					continue
				}
			}
			updated, serr := applyUpdateToItem(op.Update.Key, existing, exists, op.Update.UpdateExpression, op.Update.ExpressionAttributeNames, op.Update.ExpressionAttributeValues)
			if serr != nil {
				return nil, serr
			}
			writes = append(writes, plannedWrite{table: t, key: key, item: updated})

		case op.ConditionCheck != nil:
			t, err := s.table(op.ConditionCheck.TableName)
			if err != nil {
				return nil, err
			}
			key, err := t.itemKey(op.ConditionCheck.Key)
			if err != nil {
				return nil, err
			}
			existing := t.items[key]
			if op.ConditionCheck.ConditionExpression == nil {
				return nil, validationError("ConditionCheck requires a ConditionExpression")
			}
			ok, serr := evalCondition(*op.ConditionCheck.ConditionExpression, exprContext{
				names:  op.ConditionCheck.ExpressionAttributeNames,
				values: op.ConditionCheck.ExpressionAttributeValues,
				item:   existing,
			})
			if serr != nil {
				return nil, serr
			}
			if !ok {
				fail(existing, op.ConditionCheck.ReturnValuesOnConditionCheckFailure)
			}

		default:
			return nil, validationError("TransactItems entries must contain a Put, Update or ConditionCheck")
		}
	}

	if cancelled {
		return nil, &types.TransactionCanceledException{
			Message:             conversions.GetPtr("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}

	// Nothing failed, apply every planned write.
	for _, write := range writes {
		write.table.items[write.key] = write.item
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}
