package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var _ Store = (*DynamoStore)(nil)

// maxBatchWrite is the BatchWriteItem request limit
const maxBatchWrite = 25

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// dynamoItem is the single-table layout: one item per key. Values live in
// val, sets in members, counters in n. ttl is epoch seconds and is checked
// on read because DynamoDB expires items lazily.
type dynamoItem struct {
	PK      string   `dynamodbav:"pk"`
	Value   []byte   `dynamodbav:"val,omitempty"`
	Members []string `dynamodbav:"members,stringset,omitempty"`
	Counter *int64   `dynamodbav:"n,omitempty"`
	TTL     int64    `dynamodbav:"ttl,omitempty"`
}

// DynamoStore implements Store on a DynamoDB table keyed by the string
// attribute pk.
type DynamoStore struct {
	client DynamoAPI
	table  string
	now    func() time.Time
}

// NewDynamoStore creates a store on table
func NewDynamoStore(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table, now: time.Now}
}

func pkKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: key}}
}

// expiresAt rounds up to whole seconds so an item never lapses before ttl
func (d *DynamoStore) expiresAt(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	at := d.now().Add(ttl)
	if rounded := at.Truncate(time.Second); rounded.Before(at) {
		return rounded.Unix() + 1
	}
	return at.Unix()
}

func (d *DynamoStore) nowUnix() types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(d.now().Unix(), 10)}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// load reads a live item, or nil when absent or expired
func (d *DynamoStore) load(ctx context.Context, key string) (*dynamoItem, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            pkKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb get error: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("dynamodb unmarshal %q: %w", key, err)
	}
	if item.TTL > 0 && item.TTL <= d.now().Unix() {
		return nil, nil
	}
	return &item, nil
}

// Get retrieves a value (counters are returned in decimal)
func (d *DynamoStore) Get(ctx context.Context, key string) ([]byte, error) {
	item, err := d.load(ctx, key)
	if err != nil {
		return nil, err
	}
	switch {
	case item == nil:
		return nil, ErrNotFound
	case item.Value != nil:
		return item.Value, nil
	case item.Counter != nil:
		return []byte(strconv.FormatInt(*item.Counter, 10)), nil
	default:
		return nil, ErrNotFound
	}
}

// Set stores a value with TTL
func (d *DynamoStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	av, err := attributevalue.MarshalMap(dynamoItem{
		PK:    key,
		Value: value,
		TTL:   d.expiresAt(ttl),
	})
	if err != nil {
		return fmt.Errorf("dynamodb marshal %q: %w", key, err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("dynamodb put error: %w", err)
	}
	return nil
}

// Replace updates val only when a live item exists
func (d *DynamoStore) Replace(ctx context.Context, key string, value []byte) (bool, error) {
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(d.table),
		Key:                      pkKey(key),
		UpdateExpression:         aws.String("SET val = :v"),
		ConditionExpression:      aws.String("attribute_exists(pk) AND (attribute_not_exists(#ttl) OR #ttl > :now)"),
		ExpressionAttributeNames: map[string]string{"#ttl": "ttl"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v":   &types.AttributeValueMemberB{Value: value},
			":now": d.nowUnix(),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("dynamodb replace error: %w", err)
	}
	return true, nil
}

// Refresh updates val and restarts ttl only when a live value item exists
func (d *DynamoStore) Refresh(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	expr := "SET val = :v REMOVE #ttl"
	values := map[string]types.AttributeValue{
		":v":   &types.AttributeValueMemberB{Value: value},
		":now": d.nowUnix(),
	}
	if exp := d.expiresAt(ttl); exp > 0 {
		expr = "SET val = :v, #ttl = :exp"
		values[":exp"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(exp, 10)}
	}

	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.table),
		Key:                       pkKey(key),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(val) AND (attribute_not_exists(#ttl) OR #ttl > :now)"),
		ExpressionAttributeNames:  map[string]string{"#ttl": "ttl"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("dynamodb refresh error: %w", err)
	}
	return true, nil
}

// Delete removes keys, batching in groups of 25
func (d *DynamoStore) Delete(ctx context.Context, keys ...string) error {
	keys = dedupe(keys)
	switch len(keys) {
	case 0:
		return nil
	case 1:
		_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(d.table),
			Key:       pkKey(keys[0]),
		})
		if err != nil {
			return fmt.Errorf("dynamodb delete error: %w", err)
		}
		return nil
	}

	for start := 0; start < len(keys); start += maxBatchWrite {
		end := start + maxBatchWrite
		if end > len(keys) {
			end = len(keys)
		}

		requests := make([]types.WriteRequest, 0, end-start)
		for _, key := range keys[start:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: pkKey(key)},
			})
		}
		if err := d.batchWrite(ctx, requests); err != nil {
			return err
		}
	}
	return nil
}

func (d *DynamoStore) batchWrite(ctx context.Context, requests []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{d.table: requests}

	for attempt := 0; attempt < 3 && len(pending[d.table]) > 0; attempt++ {
		out, err := d.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return fmt.Errorf("dynamodb batch delete error: %w", err)
		}
		pending = out.UnprocessedItems
	}

	if n := len(pending[d.table]); n > 0 {
		return fmt.Errorf("dynamodb batch delete: %d keys unprocessed", n)
	}
	return nil
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// Incr adds one to n. An expired counter restarts at 1.
func (d *DynamoStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	expr := "ADD n :one"
	values := map[string]types.AttributeValue{
		":one": &types.AttributeValueMemberN{Value: "1"},
		":now": d.nowUnix(),
	}
	if exp := d.expiresAt(ttl); exp > 0 {
		expr += " SET #ttl = if_not_exists(#ttl, :exp)"
		values[":exp"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(exp, 10)}
	}

	out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.table),
		Key:                       pkKey(key),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_not_exists(#ttl) OR #ttl > :now"),
		ExpressionAttributeNames:  map[string]string{"#ttl": "ttl"},
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		if !isConditionFailed(err) {
			return 0, fmt.Errorf("dynamodb incr error: %w", err)
		}
		return d.restartCounter(ctx, key, ttl)
	}

	var n int64
	if err := attributevalue.Unmarshal(out.Attributes["n"], &n); err != nil {
		return 0, fmt.Errorf("dynamodb incr %q: %w", key, err)
	}
	return n, nil
}

func (d *DynamoStore) restartCounter(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	one := int64(1)
	av, err := attributevalue.MarshalMap(dynamoItem{PK: key, Counter: &one, TTL: d.expiresAt(ttl)})
	if err != nil {
		return 0, fmt.Errorf("dynamodb marshal %q: %w", key, err)
	}
	if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(d.table), Item: av}); err != nil {
		return 0, fmt.Errorf("dynamodb incr reset error: %w", err)
	}
	return one, nil
}

// SetAdd adds members to the string set attribute
func (d *DynamoStore) SetAdd(ctx context.Context, setKey string, members ...string) error {
	members = dedupe(members)
	if len(members) == 0 {
		return nil
	}

	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(d.table),
		Key:              pkKey(setKey),
		UpdateExpression: aws.String("ADD members :m"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":m": &types.AttributeValueMemberSS{Value: members},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamodb sadd error: %w", err)
	}
	return nil
}

// SetMembers lists a set's members
func (d *DynamoStore) SetMembers(ctx context.Context, setKey string) ([]string, error) {
	item, err := d.load(ctx, setKey)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return []string{}, nil
	}
	return item.Members, nil
}

// SetDiff reads every set and diffs them client-side
func (d *DynamoStore) SetDiff(ctx context.Context, setKey string, others ...string) ([]string, error) {
	base, err := d.SetMembers(ctx, setKey)
	if err != nil {
		return nil, err
	}

	exclude := make(map[string]struct{})
	for _, other := range others {
		members, err := d.SetMembers(ctx, other)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			exclude[m] = struct{}{}
		}
	}

	out := make([]string, 0, len(base))
	for _, m := range base {
		if _, skip := exclude[m]; !skip {
			out = append(out, m)
		}
	}
	return out, nil
}

// Ping describes the table
func (d *DynamoStore) Ping(ctx context.Context) error {
	_, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(d.table)})
	if err != nil {
		return fmt.Errorf("dynamodb describe table %q: %w", d.table, err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no connection to release
func (d *DynamoStore) Close() error {
	return nil
}
