package pessimistic

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/Invicton-Labs/go-dynamodb-concurrency/conversions"
	"github.com/Invicton-Labs/go-dynamodb-concurrency/ddb"
	"github.com/Invicton-Labs/go-dynamodb-concurrency/lock"
	"github.com/Invicton-Labs/go-stackerr"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	partitionKeyPrefix = "PAYMENT_INTENT#"
	sortKeyValue       = "PAYMENT_INTENT"
	aggregateName      = "PaymentIntent"
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
}

func intentKey(paymentIntentID string) map[string]types.AttributeValue {
	return ddb.CompositeKey(partitionKeyPrefix+paymentIntentID, sortKeyValue)
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

// DynamoDBRepository persists pessimistic payment intents. The item lock
// it hands out through WithLockedIntent lives on the same record, under
// the configured lock attribute.
type DynamoDBRepository struct {
	client    ddb.API
	tableName string
	lock      *lock.PessimisticLock
}

var _ Repository = (*DynamoDBRepository)(nil)

// NewDynamoDBRepository creates a repository over the given table. The
// lock options configure the embedded pessimistic lock (lock attribute,
// stale-lock timeout, clock).
func NewDynamoDBRepository(client ddb.API, tableName string, lockOpts ...lock.Option) *DynamoDBRepository {
	return &DynamoDBRepository{
		client:    client,
		tableName: tableName,
		lock:      lock.New(client, tableName, lockOpts...),
	}
}

func (r *DynamoDBRepository) Get(ctx context.Context, paymentIntentID string) (*PaymentIntent, error) {
	response, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &r.tableName,
		Key:       intentKey(paymentIntentID),
		// The charge workflow decides on the freshest state; the lock
		// does not imply cache invalidation.
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
	}, nil
}

func (r *DynamoDBRepository) Create(ctx context.Context, paymentIntent *PaymentIntent) error {
	charge, serr := marshalCharge(paymentIntent.charge)
	if serr != nil {
		return serr
	}
	item, err := attributevalue.MarshalMap(paymentIntentItem{
		PK:         partitionKeyPrefix + paymentIntent.id,
		SK:         sortKeyValue,
		ID:         paymentIntent.id,
		State:      string(paymentIntent.state),
		CustomerID: paymentIntent.customerID,
		Amount:     paymentIntent.amount,
		Currency:   paymentIntent.currency,
		Charge:     charge,
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

func (r *DynamoDBRepository) Update(ctx context.Context, paymentIntent *PaymentIntent) error {
	charge, serr := marshalCharge(paymentIntent.charge)
	if serr != nil {
		return serr
	}

	if _, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           &r.tableName,
		Key:                 intentKey(paymentIntent.id),
		UpdateExpression:    conversions.GetPtr("SET #state = :state, #amount = :amount, #charge = :charge"),
		ConditionExpression: conversions.GetPtr("attribute_exists(Id)"),
		ExpressionAttributeNames: map[string]string{
			"#state":  "State",
			"#amount": "Amount",
			"#charge": "Charge",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":state":  &types.AttributeValueMemberS{Value: string(paymentIntent.state)},
			":amount": &types.AttributeValueMemberN{Value: strconv.FormatInt(paymentIntent.amount, 10)},
			":charge": &types.AttributeValueMemberS{Value: charge},
		},
	}); err != nil {
		if ddb.IsConditionalCheckFailed(err) {
			return &NotFoundError{ID: paymentIntent.id}
		}
		return stackerr.Wrap(err)
	}
	return nil
}

func (r *DynamoDBRepository) WithLockedIntent(ctx context.Context, paymentIntentID string, body func(ctx context.Context, paymentIntent *PaymentIntent) error) error {
	return r.lock.WithLock(ctx, intentKey(paymentIntentID), func(ctx context.Context) error {
		paymentIntent, err := r.Get(ctx, paymentIntentID)
		if err != nil {
			return err
		}
		return body(ctx, paymentIntent)
	})
}
