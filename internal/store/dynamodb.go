package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"dailyprices/internal/config"
	"dailyprices/internal/domain"
)

// Compile-time interface check.
var _ Store = (*DynamoStore)(nil)

// Attribute names of the price tables.
const (
	attrInstrument   = "Instrument"
	attrUnixDateTime = "UnixDateTime"
	attrPrice        = "Price"
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoStore implements Store on Amazon DynamoDB. Prices are stored as
// number attributes, whose wire form is the decimal string.
type DynamoStore struct {
	client DynamoAPI
}

// NewDynamoStore loads the default AWS configuration for the region and
// returns a store using it. A non-empty endpoint points the client at
// DynamoDB Local or LocalStack.
func NewDynamoStore(ctx context.Context, cfg config.DynamoDB) (*DynamoStore, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewDynamoStoreWithClient(client), nil
}

// NewDynamoStoreWithClient wraps an existing client.
func NewDynamoStoreWithClient(client DynamoAPI) *DynamoStore {
	return &DynamoStore{client: client}
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *DynamoStore) Close() error { return nil }

// Query issues one DynamoDB Query call.
func (s *DynamoStore) Query(ctx context.Context, table string, q Query) (*Page, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}

	out, err := s.client.Query(ctx, buildQueryInput(table, q))
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
		}
		return nil, fmt.Errorf("query %s: %w", table, err)
	}

	page := &Page{Records: make([]domain.PriceRecord, 0, len(out.Items))}
	for _, item := range out.Items {
		r, err := decodeItem(item)
		if err != nil {
			return nil, fmt.Errorf("decode item from %s: %w", table, err)
		}
		// Projected reads may omit the partition key.
		if r.Instrument == "" {
			r.Instrument = q.Instrument
		}
		page.Records = append(page.Records, r)
	}

	if len(out.LastEvaluatedKey) > 0 {
		key, err := decodeKey(out.LastEvaluatedKey)
		if err != nil {
			return nil, fmt.Errorf("decode last evaluated key from %s: %w", table, err)
		}
		page.LastKey = &key
	}
	return page, nil
}

// BatchPut issues one BatchWriteItem call. Unprocessed items are counted
// as not accepted and are not retried.
func (s *DynamoStore) BatchPut(ctx context.Context, table string, records []domain.PriceRecord) (int, error) {
	if err := checkBatch(table, records); err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	requests := make([]types.WriteRequest, 0, len(records))
	for _, r := range records {
		requests = append(requests, types.WriteRequest{
			PutRequest: &types.PutRequest{Item: encodeItem(r)},
		})
	}

	out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{table: requests},
	})
	if err != nil {
		return 0, fmt.Errorf("batch write %s: %w", table, err)
	}
	return len(records) - len(out.UnprocessedItems[table]), nil
}

// buildQueryInput renders q as a DynamoDB key condition.
func buildQueryInput(table string, q Query) *dynamodb.QueryInput {
	cond := "#pk = :pk"
	names := map[string]string{"#pk": attrInstrument}
	values := map[string]types.AttributeValue{
		":pk": &types.AttributeValueMemberS{Value: q.Instrument},
	}
	if q.Range != nil {
		cond += " AND #sk BETWEEN :from AND :to"
		names["#sk"] = attrUnixDateTime
		values[":from"] = numberAttr(q.Range.From)
		values[":to"] = numberAttr(q.Range.To)
	}

	in := &dynamodb.QueryInput{
		TableName:                 aws.String(table),
		KeyConditionExpression:    aws.String(cond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}
	if q.Limit > 0 {
		in.Limit = aws.Int32(int32(min(q.Limit, math.MaxInt32)))
	}
	if q.StartKey != nil {
		in.ExclusiveStartKey = encodeKey(*q.StartKey)
	}
	return in
}

func numberAttr(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func encodeKey(k Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrInstrument:   &types.AttributeValueMemberS{Value: k.Instrument},
		attrUnixDateTime: numberAttr(k.UnixDateTime),
	}
}

func encodeItem(r domain.PriceRecord) map[string]types.AttributeValue {
	item := encodeKey(KeyOf(r))
	item[attrPrice] = &types.AttributeValueMemberN{Value: r.Price.String()}
	return item
}

func decodeKey(item map[string]types.AttributeValue) (Key, error) {
	var k Key
	if av, ok := item[attrInstrument]; ok {
		s, ok := av.(*types.AttributeValueMemberS)
		if !ok {
			return k, fmt.Errorf("%s is not a string attribute", attrInstrument)
		}
		k.Instrument = s.Value
	}

	av, ok := item[attrUnixDateTime]
	if !ok {
		return k, fmt.Errorf("missing %s", attrUnixDateTime)
	}
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return k, fmt.Errorf("%s is not a number attribute", attrUnixDateTime)
	}
	ts, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return k, fmt.Errorf("%s %q: %w", attrUnixDateTime, n.Value, err)
	}
	k.UnixDateTime = ts
	return k, nil
}

func decodeItem(item map[string]types.AttributeValue) (domain.PriceRecord, error) {
	k, err := decodeKey(item)
	if err != nil {
		return domain.PriceRecord{}, err
	}

	av, ok := item[attrPrice]
	if !ok {
		return domain.PriceRecord{}, fmt.Errorf("missing %s at %d", attrPrice, k.UnixDateTime)
	}
	var raw string
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		raw = v.Value
	case *types.AttributeValueMemberS:
		// String prices are read the same way.
		raw = v.Value
	default:
		return domain.PriceRecord{}, fmt.Errorf("%s at %d has unsupported type %T", attrPrice, k.UnixDateTime, av)
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return domain.PriceRecord{}, fmt.Errorf("%s %q at %d: %w", attrPrice, raw, k.UnixDateTime, err)
	}

	return domain.PriceRecord{
		Instrument:   k.Instrument,
		UnixDateTime: k.UnixDateTime,
		Price:        price,
	}, nil
}
