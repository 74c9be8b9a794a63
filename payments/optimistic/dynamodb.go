package optimistic

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/Invicton-Labs/go-dynamodb-concurrency/collections"
	"github.com/Invicton-Labs/go-dynamodb-concurrency/conversions"
	"github.com/Invicton-Labs/go-dynamodb-concurrency/ddb"
	"github.com/Invicton-Labs/go-dynamodb-concurrency/events"
	"github.com/Invicton-Labs/go-stackerr"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	partitionKeyPrefix = "PAYMENT_INTENT#"
	sortKeyValue       = "PAYMENT_INTENT"
)

// paymentIntentItem is the stored shape of the aggregate. Attribute names
// are part of the on-wire contract.
type paymentIntentItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	ID         string `dynamodbav:"Id"`
	State      string `dynamodbav:"State"`
	CustomerID string `dynamodbav:"CustomerId"`
	Amount     int64  `dynamodbav:"Amount"`
	Currency   string `dynamodbav:"Currency"`
	Charge     string `dynamodbav:"Charge"`
	Version    int64  `dynamodbav:"Version"`
}

func intentPartitionKey(paymentIntentID string) string {
	return partitionKeyPrefix + paymentIntentID
}

func intentKey(paymentIntentID string) map[string]types.AttributeValue {
	return ddb.CompositeKey(intentPartitionKey(paymentIntentID), sortKeyValue)
}

// marshalCharge encodes the charge as a JSON string attribute; a nil
// charge is stored as an empty JSON object.
func marshalCharge(charge *Charge) (string, stackerr.Error) {
	if charge == nil {
		return "{}", nil
	}
	encoded, err := json.Marshal(charge)
	if err != nil {
		return "", stackerr.Wrap(err)
	}
	return string(encoded), nil
}

func unmarshalCharge(encoded string) (*Charge, stackerr.Error) {
	if encoded == "" || encoded == "{}" {
		return nil, nil
	}
	var charge Charge
	if err := json.Unmarshal([]byte(encoded), &charge); err != nil {
		return nil, stackerr.Wrap(err)
	}
	if charge == (Charge{}) {
		return nil, nil
	}
	return &charge, nil
}

// DynamoDBRepository persists optimistic payment intents and their
// events in one table, events sharing the aggregate's partition.
type DynamoDBRepository struct {
	client    ddb.API
	tableName string
}

var _ Repository = (*DynamoDBRepository)(nil)

func NewDynamoDBRepository(client ddb.API, tableName string) *DynamoDBRepository {
	return &DynamoDBRepository{
		client:    client,
		tableName: tableName,
	}
}

func (r *DynamoDBRepository) Get(ctx context.Context, paymentIntentID string) (*PaymentIntent, error) {
	response, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &r.tableName,
		Key:            intentKey(paymentIntentID),
		ConsistentRead: conversions.GetPtr(true),
	})
	if err != nil {
		return nil, stackerr.Wrap(err)
	}
	if response.Item == nil {
		return nil, &NotFoundError{ID: paymentIntentID}
	}

	var item paymentIntentItem
	if err := attributevalue.UnmarshalMap(response.Item, &item); err != nil {
		return nil, stackerr.Wrap(err)
	}
	charge, serr := unmarshalCharge(item.Charge)
	if serr != nil {
		return nil, serr
	}

	return &PaymentIntent{
		id:         item.ID,
		state:      State(item.State),
		customerID: item.CustomerID,
		amount:     item.Amount,
		currency:   item.Currency,
		charge:     charge,
		version:    item.Version,
	}, nil
}

func (r *DynamoDBRepository) Create(ctx context.Context, paymentIntent *PaymentIntent) error {
	charge, serr := marshalCharge(paymentIntent.charge)
	if serr != nil {
		return serr
	}
	item, err := attributevalue.MarshalMap(paymentIntentItem{
		PK:         intentPartitionKey(paymentIntent.id),
		SK:         sortKeyValue,
		ID:         paymentIntent.id,
		State:      string(paymentIntent.state),
		CustomerID: paymentIntent.customerID,
		Amount:     paymentIntent.amount,
		Currency:   paymentIntent.currency,
		Charge:     charge,
		Version:    paymentIntent.version,
	})
	if err != nil {
		return stackerr.Wrap(err)
	}

	if _, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &r.tableName,
		Item:                item,
		ConditionExpression: conversions.GetPtr("attribute_not_exists(Id)"),
	}); err != nil {
		if ddb.IsConditionalCheckFailed(err) {
			return &IdentifierCollisionError{ID: paymentIntent.id}
		}
		return stackerr.Wrap(err)
	}
	return nil
}

// Update issues a single TransactWriteItems. The aggregate update is the
// first transact item; the pending event inserts follow in emission
// order. The cancellation-reason index positions are what lets a failure
// be attributed: index 0 is the version check, index k >= 1 is the
// insert of the (k-1)-th pending event.
func (r *DynamoDBRepository) Update(ctx context.Context, paymentIntent *PaymentIntent) error {
	charge, serr := marshalCharge(paymentIntent.charge)
	if serr != nil {
		return serr
	}

	transactItems := make([]types.TransactWriteItem, 0, 1+len(paymentIntent.events))
	transactItems = append(transactItems, types.TransactWriteItem{
		Update: &types.Update{
			TableName:           &r.tableName,
			Key:                 intentKey(paymentIntent.id),
			UpdateExpression:    conversions.GetPtr("SET #state = :state, #amount = :amount, #charge = :charge, #version = :newVersion"),
			ConditionExpression: conversions.GetPtr("attribute_exists(Id) AND #version = :version"),
			ExpressionAttributeNames: map[string]string{
				"#state":   "State",
				"#amount":  "Amount",
				"#charge":  "Charge",
				"#version": "Version",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":state":      &types.AttributeValueMemberS{Value: string(paymentIntent.state)},
				":amount":     &types.AttributeValueMemberN{Value: strconv.FormatInt(paymentIntent.amount, 10)},
				":charge":     &types.AttributeValueMemberS{Value: charge},
				":version":    &types.AttributeValueMemberN{Value: strconv.FormatInt(paymentIntent.version, 10)},
				":newVersion": &types.AttributeValueMemberN{Value: strconv.FormatInt(paymentIntent.version+1, 10)},
			},
			// The old item image is what distinguishes "aggregate
			// missing" from "version mismatch" on failure.
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		},
	})

	eventItems, serr := collections.TransformSliceWithErr(paymentIntent.events, func(_ int, event Event) (types.TransactWriteItem, stackerr.Error) {
		envelope, serr := event.Envelope()
		if serr != nil {
			return types.TransactWriteItem{}, serr
		}
		item, serr := envelope.Item(intentPartitionKey(paymentIntent.id))
		if serr != nil {
			return types.TransactWriteItem{}, serr
		}
		return types.TransactWriteItem{
			Put: &types.Put{
				TableName:           &r.tableName,
				Item:                item,
				ConditionExpression: conversions.GetPtr("attribute_not_exists(Id)"),
			},
		}, nil
	})
	if serr != nil {
		return serr
	}
	transactItems = append(transactItems, eventItems...)

	if _, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: transactItems,
	}); err != nil {
		return r.mapUpdateError(err, paymentIntent)
	}
	return nil
}

// mapUpdateError maps an update transaction failure onto the domain
// error taxonomy using the ordered cancellation reasons.
func (r *DynamoDBRepository) mapUpdateError(err error, paymentIntent *PaymentIntent) error {
	reasons, ok := ddb.CancellationReasons(err)
	if !ok {
		return stackerr.Wrap(err)
	}

	for i, reason := range reasons {
		if !ddb.ReasonIsConditionalCheckFailed(reason) {
			continue
		}
		if i == 0 {
			// The aggregate update failed its condition. An empty old
			// item image means there was no record at all.
			if len(reason.Item) == 0 {
				return &NotFoundError{ID: paymentIntent.id}
			}
			return &OptimisticLockError{ID: paymentIntent.id}
		}
		return &EventCollisionError{EventID: paymentIntent.events[i-1].EventID()}
	}
	return stackerr.Wrap(err)
}

func (r *DynamoDBRepository) GetEvent(ctx context.Context, paymentIntentID, eventID string) (*events.Envelope, error) {
	response, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &r.tableName,
		Key:            ddb.CompositeKey(intentPartitionKey(paymentIntentID), events.SortKeyPrefix+eventID),
		ConsistentRead: conversions.GetPtr(true),
	})
	if err != nil {
		return nil, stackerr.Wrap(err)
	}
	if response.Item == nil {
		return nil, nil
	}

	envelope, serr := events.FromItem(response.Item)
	if serr != nil {
		return nil, serr
	}
	return &envelope, nil
}
