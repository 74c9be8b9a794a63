package ddbmem

import (
	"context"
	"testing"

	"github.com/Invicton-Labs/go-dynamodb-concurrency/conversions"
	"github.com/Invicton-Labs/go-dynamodb-concurrency/ddb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTable = "payments"

func newTestStore() *Store {
	return NewStore(Table{
		Name:         testTable,
		PartitionKey: "PK",
		SortKey:      "SK",
	})
}

func putTestItem(t *testing.T, store *Store, pk, sk string, extra map[string]types.AttributeValue) {
	t.Helper()
	item := map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
	for name, value := range extra {
		item[name] = value
	}
	_, err := store.PutItem(context.Background(), &dynamodb.PutItemInput{
		TableName: conversions.GetPtr(testTable),
		Item:      item,
	})
	require.NoError(t, err)
}

func getTestItem(t *testing.T, store *Store, pk, sk string) map[string]types.AttributeValue {
	t.Helper()
	response, err := store.GetItem(context.Background(), &dynamodb.GetItemInput{
		TableName: conversions.GetPtr(testTable),
		Key:       ddb.CompositeKey(pk, sk),
	})
	require.NoError(t, err)
	return response.Item
}

func TestGetItemAbsent(t *testing.T) {
	store := newTestStore()
	assert.Nil(t, getTestItem(t, store, "A#1", "A"))
}

func TestGetItemUnknownTable(t *testing.T) {
	store := newTestStore()
	_, err := store.GetItem(context.Background(), &dynamodb.GetItemInput{
		TableName: conversions.GetPtr("nope"),
		Key:       ddb.CompositeKey("A#1", "A"),
	})
	var notFound *types.ResourceNotFoundException
	assert.ErrorAs(t, err, &notFound)
}

func TestPutItemConditional(t *testing.T) {
	store := newTestStore()
	putTestItem(t, store, "A#1", "A", map[string]types.AttributeValue{
		"Id": &types.AttributeValueMemberS{Value: "1"},
	})

	// A second conditional put against the same item fails and leaves
	// the stored item untouched.
	_, err := store.PutItem(context.Background(), &dynamodb.PutItemInput{
		TableName: conversions.GetPtr(testTable),
		Item: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: "A#1"},
			"SK": &types.AttributeValueMemberS{Value: "A"},
			"Id": &types.AttributeValueMemberS{Value: "2"},
		},
		ConditionExpression: conversions.GetPtr("attribute_not_exists(Id)"),
	})
	assert.True(t, ddb.IsConditionalCheckFailed(err))

	item := getTestItem(t, store, "A#1", "A")
	assert.Equal(t, &types.AttributeValueMemberS{Value: "1"}, item["Id"])
}

func TestUpdateItemCreatesWhenUnconditioned(t *testing.T) {
	store := newTestStore()
	_, err := store.UpdateItem(context.Background(), &dynamodb.UpdateItemInput{
		TableName:        conversions.GetPtr(testTable),
		Key:              ddb.CompositeKey("A#1", "A"),
		UpdateExpression: conversions.GetPtr("SET Amount = :amount"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":amount": &types.AttributeValueMemberN{Value: "100"},
		},
	})
	require.NoError(t, err)

	item := getTestItem(t, store, "A#1", "A")
	require.NotNil(t, item)
	assert.Equal(t, &types.AttributeValueMemberN{Value: "100"}, item["Amount"])
}

func TestUpdateItemConditionFailureDoesNotCreate(t *testing.T) {
	store := newTestStore()
	_, err := store.UpdateItem(context.Background(), &dynamodb.UpdateItemInput{
		TableName:           conversions.GetPtr(testTable),
		Key:                 ddb.CompositeKey("A#1", "A"),
		UpdateExpression:    conversions.GetPtr("SET Amount = :amount"),
		ConditionExpression: conversions.GetPtr("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":amount": &types.AttributeValueMemberN{Value: "100"},
		},
	})
	assert.True(t, ddb.IsConditionalCheckFailed(err))
	assert.Nil(t, getTestItem(t, store, "A#1", "A"))
}

func TestUpdateItemReturnsOldImageOnConditionFailure(t *testing.T) {
	store := newTestStore()
	putTestItem(t, store, "A#1", "A", map[string]types.AttributeValue{
		"Version": &types.AttributeValueMemberN{Value: "3"},
	})

	_, err := store.UpdateItem(context.Background(), &dynamodb.UpdateItemInput{
		TableName:           conversions.GetPtr(testTable),
		Key:                 ddb.CompositeKey("A#1", "A"),
		UpdateExpression:    conversions.GetPtr("SET Version = :new"),
		ConditionExpression: conversions.GetPtr("Version = :old"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new": &types.AttributeValueMemberN{Value: "1"},
			":old": &types.AttributeValueMemberN{Value: "0"},
		},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	item, ok := ddb.ConditionalCheckFailedItem(err)
	require.True(t, ok)
	assert.Equal(t, &types.AttributeValueMemberN{Value: "3"}, item["Version"])
}

func TestTransactWriteItemsAppliesAllOrNothing(t *testing.T) {
	store := newTestStore()
	putTestItem(t, store, "A#1", "A", map[string]types.AttributeValue{
		"Id":      &types.AttributeValueMemberS{Value: "1"},
		"Version": &types.AttributeValueMemberN{Value: "0"},
	})
	// An event already stored under the same partition.
	putTestItem(t, store, "A#1", "EVENT#e1", map[string]types.AttributeValue{
		"Id": &types.AttributeValueMemberS{Value: "e1"},
	})

	// The aggregate update would pass, but the event insert collides:
	// nothing may be applied.
	_, err := store.TransactWriteItems(context.Background(), &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Update: &types.Update{
					TableName:           conversions.GetPtr(testTable),
					Key:                 ddb.CompositeKey("A#1", "A"),
					UpdateExpression:    conversions.GetPtr("SET Version = :new"),
					ConditionExpression: conversions.GetPtr("Version = :old"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":new": &types.AttributeValueMemberN{Value: "1"},
						":old": &types.AttributeValueMemberN{Value: "0"},
					},
				},
			},
			{
				Put: &types.Put{
					TableName: conversions.GetPtr(testTable),
					Item: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: "A#1"},
						"SK": &types.AttributeValueMemberS{Value: "EVENT#e1"},
						"Id": &types.AttributeValueMemberS{Value: "e1"},
						"Name": &types.AttributeValueMemberS{
							Value: "SomethingHappened",
						},
					},
					ConditionExpression: conversions.GetPtr("attribute_not_exists(Id)"),
				},
			},
		},
	})

	reasons, ok := ddb.CancellationReasons(err)
	require.True(t, ok)
	require.Len(t, reasons, 2)
	assert.False(t, ddb.ReasonIsConditionalCheckFailed(reasons[0]))
	assert.True(t, ddb.ReasonIsConditionalCheckFailed(reasons[1]))

	// Neither write took effect.
	aggregate := getTestItem(t, store, "A#1", "A")
	assert.Equal(t, &types.AttributeValueMemberN{Value: "0"}, aggregate["Version"])
	event := getTestItem(t, store, "A#1", "EVENT#e1")
	assert.NotContains(t, event, "Name")
}

func TestTransactWriteItemsReturnsOldImageForFirstItem(t *testing.T) {
	store := newTestStore()
	putTestItem(t, store, "A#1", "A", map[string]types.AttributeValue{
		"Id":      &types.AttributeValueMemberS{Value: "1"},
		"Version": &types.AttributeValueMemberN{Value: "5"},
	})

	_, err := store.TransactWriteItems(context.Background(), &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Update: &types.Update{
					TableName:           conversions.GetPtr(testTable),
					Key:                 ddb.CompositeKey("A#1", "A"),
					UpdateExpression:    conversions.GetPtr("SET Version = :new"),
					ConditionExpression: conversions.GetPtr("attribute_exists(Id) AND Version = :old"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":new": &types.AttributeValueMemberN{Value: "1"},
						":old": &types.AttributeValueMemberN{Value: "0"},
					},
					ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
				},
			},
		},
	})

	reasons, ok := ddb.CancellationReasons(err)
	require.True(t, ok)
	require.Len(t, reasons, 1)
	require.True(t, ddb.ReasonIsConditionalCheckFailed(reasons[0]))
	assert.Equal(t, &types.AttributeValueMemberN{Value: "5"}, reasons[0].Item["Version"])
}

func TestTransactWriteItemsConditionCheck(t *testing.T) {
	store := newTestStore()
	putTestItem(t, store, "A#1", "A", map[string]types.AttributeValue{
		"Id": &types.AttributeValueMemberS{Value: "1"},
	})

	_, err := store.TransactWriteItems(context.Background(), &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				ConditionCheck: &types.ConditionCheck{
					TableName:           conversions.GetPtr(testTable),
					Key:                 ddb.CompositeKey("A#1", "A"),
					ConditionExpression: conversions.GetPtr("attribute_exists(Id)"),
				},
			},
			{
				Put: &types.Put{
					TableName: conversions.GetPtr(testTable),
					Item: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: "A#1"},
						"SK": &types.AttributeValueMemberS{Value: "EVENT#e1"},
						"Id": &types.AttributeValueMemberS{Value: "e1"},
					},
				},
			},
		},
	})
	require.NoError(t, err)
	assert.NotNil(t, getTestItem(t, store, "A#1", "EVENT#e1"))
}

func TestTransactWriteItemsRejectsOversizedBatch(t *testing.T) {
	store := newTestStore()
	items := make([]types.TransactWriteItem, maxTransactItems+1)
	for i := range items {
		items[i] = types.TransactWriteItem{
			ConditionCheck: &types.ConditionCheck{
				TableName:           conversions.GetPtr(testTable),
				Key:                 ddb.CompositeKey("A#1", "A"),
				ConditionExpression: conversions.GetPtr("attribute_not_exists(Id)"),
			},
		}
	}
	_, err := store.TransactWriteItems(context.Background(), &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	assert.Error(t, err)
}
