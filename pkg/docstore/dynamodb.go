package docstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// Table layout: every collection shares one table, partitioned by
// collection and sorted by id. Ordered reads on a field go through a local
// secondary index named IndexName(field) whose sort key is that field.
const (
	partitionKey = "collection"
	sortKey      = "id"
)

// timeLayout stores times as fixed-width UTC strings so that index order on a
// time field is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// dynamoValue converts times (including those in nested maps) to timeLayout.
func dynamoValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(timeLayout)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(timeLayout)
	case Record:
		return dynamoFields(t)
	case map[string]any:
		return dynamoFields(t)
	}
	return v
}

func dynamoFields(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = dynamoValue(v)
	}
	return out
}

// IndexName returns the local secondary index used to order by field.
func IndexName(field string) string {
	return field + "-index"
}

// DynamoDBAPI is the subset of *dynamodb.Client used by DynamoDB.
type DynamoDBAPI interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoDBConfig holds connection settings.
type DynamoDBConfig struct {
	Table    string
	Region   string
	Endpoint string // Optional, e.g. DynamoDB Local at http://localhost:8000
}

// ConnectDynamoDB builds a client from the default AWS config chain and checks
// that the table is reachable.
func ConnectDynamoDB(ctx context.Context, cfg DynamoDBConfig) (*dynamodb.Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	if _, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(cfg.Table)}); err != nil {
		return nil, fmt.Errorf("checking table %s: %w", cfg.Table, err)
	}
	return client, nil
}

// DynamoDB is a Store backed by a DynamoDB table.
type DynamoDB struct {
	client DynamoDBAPI
	now    func() time.Time
	table  string
}

// NewDynamoDB creates a store over client and table.
func NewDynamoDB(client DynamoDBAPI, table string) *DynamoDB {
	return &DynamoDB{client: client, table: table, now: time.Now}
}

// Query implements Store. A filtered query keeps reading until Limit matching
// documents are found or the partition is exhausted.
func (d *DynamoDB) Query(ctx context.Context, collection string, q Query) (Result, error) {
	input, err := d.queryInput(collection, q.Where)
	if err != nil {
		return Result{}, err
	}
	input.ScanIndexForward = aws.Bool(q.Direction != Desc)
	if q.OrderBy != "" && q.OrderBy != sortKey {
		input.IndexName = aws.String(IndexName(q.OrderBy))
	}
	if q.StartAfter != "" {
		key, err := decodeDynamoCursor(q.StartAfter)
		if err != nil {
			return Result{}, err
		}
		input.ExclusiveStartKey = key
	}

	var items []map[string]types.AttributeValue
	for {
		if q.Limit > 0 {
			input.Limit = aws.Int32(int32(q.Limit - len(items)))
		}
		out, err := d.client.Query(ctx, input)
		if err != nil {
			return Result{}, fmt.Errorf("querying %s: %w", collection, err)
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 || (q.Limit > 0 && len(items) >= q.Limit) {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	res := Result{Records: make([]Record, 0, len(items))}
	for _, item := range items {
		r, err := fromItem(item)
		if err != nil {
			return Result{}, err
		}
		res.Records = append(res.Records, r)
	}
	if n := len(items); n > 0 {
		next, err := encodeDynamoCursor(items[n-1], q.OrderBy)
		if err != nil {
			return Result{}, err
		}
		res.Next = next
	}
	return res, nil
}

// Count implements Store using server-side counting (Select COUNT).
func (d *DynamoDB) Count(ctx context.Context, collection string, where ...Condition) (int, error) {
	input, err := d.queryInput(collection, where)
	if err != nil {
		return 0, err
	}
	input.Select = types.SelectCount

	total := 0
	for {
		out, err := d.client.Query(ctx, input)
		if err != nil {
			return 0, fmt.Errorf("counting %s: %w", collection, err)
		}
		total += int(out.Count)
		if len(out.LastEvaluatedKey) == 0 {
			return total, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// Get implements Store.
func (d *DynamoDB) Get(ctx context.Context, collection, id string) (Record, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.table),
		Key:       itemKey(collection, id),
	})
	if err != nil {
		return nil, fmt.Errorf("getting %s/%s: %w", collection, id, err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return fromItem(out.Item)
}

// Add implements Store.
func (d *DynamoDB) Add(ctx context.Context, collection string, fields Record) (string, error) {
	id := uuid.New().String()
	if err := d.Set(ctx, collection, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

// Set implements Store.
func (d *DynamoDB) Set(ctx context.Context, collection, id string, fields Record) error {
	doc := resolve(fields, d.now().UTC())
	doc[partitionKey] = collection
	doc[sortKey] = id

	item, err := attributevalue.MarshalMap(dynamoFields(doc))
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", collection, id, err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("writing %s/%s: %w", collection, id, err)
	}
	return nil
}

// Update implements Store.
func (d *DynamoDB) Update(ctx context.Context, collection, id string, fields Record) error {
	names := map[string]string{"#pk": partitionKey}
	values := make(map[string]types.AttributeValue)
	var sets []string

	i := 0
	for field, v := range resolve(fields, d.now().UTC()) {
		if field == partitionKey || field == sortKey {
			continue
		}
		av, err := attributevalue.Marshal(dynamoValue(v))
		if err != nil {
			return fmt.Errorf("encoding %s: %w", field, err)
		}
		name, value := "#u"+strconv.Itoa(i), ":u"+strconv.Itoa(i)
		names[name] = field
		values[value] = av
		sets = append(sets, name+" = "+value)
		i++
	}
	if len(sets) == 0 {
		return nil
	}

	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.table),
		Key:                       itemKey(collection, id),
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       aws.String("attribute_exists(#pk)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("updating %s/%s: %w", collection, id, err)
	}
	return nil
}

// queryInput builds the partition query with a filter for where.
func (d *DynamoDB) queryInput(collection string, where []Condition) (*dynamodb.QueryInput, error) {
	names := map[string]string{"#pk": partitionKey}
	values := map[string]types.AttributeValue{
		":pk": &types.AttributeValueMemberS{Value: collection},
	}

	var filters []string
	for i, c := range where {
		if err := c.validate(); err != nil {
			return nil, err
		}
		var path []string
		for j, part := range strings.Split(c.Field, ".") {
			name := fmt.Sprintf("#f%d_%d", i, j)
			names[name] = part
			path = append(path, name)
		}
		av, err := attributevalue.Marshal(dynamoValue(c.Value))
		if err != nil {
			return nil, fmt.Errorf("encoding condition on %s: %w", c.Field, err)
		}
		value := ":v" + strconv.Itoa(i)
		values[value] = av
		filters = append(filters, strings.Join(path, ".")+" "+dynamoOp(c.Op)+" "+value)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(d.table),
		KeyConditionExpression:    aws.String("#pk = :pk"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}
	if len(filters) > 0 {
		input.FilterExpression = aws.String(strings.Join(filters, " AND "))
	}
	return input, nil
}

func dynamoOp(op Op) string {
	switch op {
	case Eq:
		return "="
	case Ne:
		return "<>"
	}
	return string(op)
}

func itemKey(collection, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		partitionKey: &types.AttributeValueMemberS{Value: collection},
		sortKey:      &types.AttributeValueMemberS{Value: id},
	}
}

func fromItem(item map[string]types.AttributeValue) (Record, error) {
	var m map[string]any
	if err := attributevalue.UnmarshalMap(item, &m); err != nil {
		return nil, fmt.Errorf("decoding item: %w", err)
	}
	delete(m, partitionKey)
	return Record(m), nil
}

// encodeDynamoCursor captures the key attributes of the last item, which is
// what DynamoDB expects back as ExclusiveStartKey for the same index.
func encodeDynamoCursor(item map[string]types.AttributeValue, orderBy string) (Cursor, error) {
	key := map[string]types.AttributeValue{
		partitionKey: item[partitionKey],
		sortKey:      item[sortKey],
	}
	if orderBy != "" && orderBy != sortKey {
		if v, ok := item[orderBy]; ok {
			key[orderBy] = v
		}
	}

	var plain map[string]any
	if err := attributevalue.UnmarshalMap(key, &plain); err != nil {
		return "", fmt.Errorf("encoding cursor: %w", err)
	}
	raw, err := json.Marshal(plain)
	if err != nil {
		return "", fmt.Errorf("encoding cursor: %w", err)
	}
	return Cursor(base64.RawURLEncoding.EncodeToString(raw)), nil
}

func decodeDynamoCursor(c Cursor) (map[string]types.AttributeValue, error) {
	raw, err := base64.RawURLEncoding.DecodeString(string(c))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var plain map[string]any
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if _, ok := plain[partitionKey]; !ok {
		return nil, fmt.Errorf("%w: missing partition key", ErrInvalidCursor)
	}
	key, err := attributevalue.MarshalMap(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return key, nil
}
