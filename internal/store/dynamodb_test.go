package store

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"dailyprices/internal/domain"
)

// fakeDynamo records calls and returns canned outputs.
type fakeDynamo struct {
	queryIn  []*dynamodb.QueryInput
	queryOut *dynamodb.QueryOutput
	queryErr error

	batchIn  []*dynamodb.BatchWriteItemInput
	batchOut *dynamodb.BatchWriteItemOutput
	batchErr error
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryIn = append(f.queryIn, in)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.queryOut, nil
}

func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.batchIn = append(f.batchIn, in)
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	if f.batchOut == nil {
		return &dynamodb.BatchWriteItemOutput{}, nil
	}
	return f.batchOut, nil
}

func numberValue(t *testing.T, av types.AttributeValue) string {
	t.Helper()
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		t.Fatalf("attribute is %T, want number", av)
	}
	return n.Value
}

func TestBuildQueryInput(t *testing.T) {
	in := buildQueryInput("multiple_prices", Query{
		Instrument: "EURUSD",
		Range:      &Range{From: 100, To: 200},
		Limit:      50,
		StartKey:   &Key{Instrument: "EURUSD", UnixDateTime: 150},
	})

	if aws.ToString(in.TableName) != "multiple_prices" {
		t.Errorf("TableName = %q, want multiple_prices", aws.ToString(in.TableName))
	}
	wantCond := "#pk = :pk AND #sk BETWEEN :from AND :to"
	if aws.ToString(in.KeyConditionExpression) != wantCond {
		t.Errorf("KeyConditionExpression = %q, want %q", aws.ToString(in.KeyConditionExpression), wantCond)
	}
	if in.ExpressionAttributeNames["#pk"] != "Instrument" || in.ExpressionAttributeNames["#sk"] != "UnixDateTime" {
		t.Errorf("ExpressionAttributeNames = %v", in.ExpressionAttributeNames)
	}
	if got := numberValue(t, in.ExpressionAttributeValues[":from"]); got != "100" {
		t.Errorf(":from = %s, want 100", got)
	}
	if got := numberValue(t, in.ExpressionAttributeValues[":to"]); got != "200" {
		t.Errorf(":to = %s, want 200", got)
	}
	if aws.ToInt32(in.Limit) != 50 {
		t.Errorf("Limit = %d, want 50", aws.ToInt32(in.Limit))
	}
	if got := numberValue(t, in.ExclusiveStartKey["UnixDateTime"]); got != "150" {
		t.Errorf("ExclusiveStartKey UnixDateTime = %s, want 150", got)
	}
}

func TestBuildQueryInputPartitionOnly(t *testing.T) {
	in := buildQueryInput("EURUSD", Query{Instrument: "EURUSD"})

	if aws.ToString(in.KeyConditionExpression) != "#pk = :pk" {
		t.Errorf("KeyConditionExpression = %q, want partition-only condition", aws.ToString(in.KeyConditionExpression))
	}
	if in.Limit != nil {
		t.Errorf("Limit = %d, want unset", aws.ToInt32(in.Limit))
	}
	if in.ExclusiveStartKey != nil {
		t.Errorf("ExclusiveStartKey = %v, want nil", in.ExclusiveStartKey)
	}
	if _, ok := in.ExpressionAttributeNames["#sk"]; ok {
		t.Error("sort key name set without a range")
	}
}

func TestBuildQueryInputLimitClamped(t *testing.T) {
	limit := math.MaxInt32
	limit++
	in := buildQueryInput("multiple_prices", Query{Instrument: "EURUSD", Limit: limit})
	if in.Limit == nil || *in.Limit != math.MaxInt32 {
		t.Errorf("Limit = %v, want %d", in.Limit, math.MaxInt32)
	}
}

func TestDynamoStoreQuery(t *testing.T) {
	fake := &fakeDynamo{
		queryOut: &dynamodb.QueryOutput{
			Items: []map[string]types.AttributeValue{
				encodeItem(rec("EURUSD", 100, "1.105")),
				{
					// Projected item without the partition key.
					"UnixDateTime": &types.AttributeValueMemberN{Value: "200"},
					"Price":        &types.AttributeValueMemberN{Value: "1.2"},
				},
			},
			LastEvaluatedKey: encodeKey(Key{Instrument: "EURUSD", UnixDateTime: 200}),
		},
	}
	s := NewDynamoStoreWithClient(fake)

	page, err := s.Query(context.Background(), "multiple_prices", Query{Instrument: "EURUSD"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(page.Records) != 2 {
		t.Fatalf("Query returned %d records, want 2", len(page.Records))
	}
	if page.Records[0].Price.String() != "1.105" {
		t.Errorf("price = %s, want 1.105", page.Records[0].Price)
	}
	if page.Records[1].Instrument != "EURUSD" {
		t.Errorf("projected record instrument = %q, want EURUSD", page.Records[1].Instrument)
	}
	if page.LastKey == nil || *page.LastKey != (Key{Instrument: "EURUSD", UnixDateTime: 200}) {
		t.Errorf("LastKey = %v, want EURUSD/200", page.LastKey)
	}
}

func TestDynamoStoreQueryTableNotFound(t *testing.T) {
	fake := &fakeDynamo{queryErr: &types.ResourceNotFoundException{Message: aws.String("Requested resource not found")}}
	s := NewDynamoStoreWithClient(fake)

	_, err := s.Query(context.Background(), "missing_table", Query{Instrument: "EURUSD"})
	if !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("Query err = %v, want ErrTableNotFound", err)
	}
}

func TestDynamoStoreQueryBadItem(t *testing.T) {
	fake := &fakeDynamo{
		queryOut: &dynamodb.QueryOutput{
			Items: []map[string]types.AttributeValue{{
				"UnixDateTime": &types.AttributeValueMemberN{Value: "100"},
				"Price":        &types.AttributeValueMemberN{Value: "not-a-number"},
			}},
		},
	}
	s := NewDynamoStoreWithClient(fake)

	if _, err := s.Query(context.Background(), "multiple_prices", Query{Instrument: "EURUSD"}); err == nil {
		t.Fatal("Query with an unparseable price returned nil error")
	}
}

func TestDynamoStoreBatchPut(t *testing.T) {
	records := []domain.PriceRecord{
		rec("EURUSD", 100, "1.105"),
		rec("EURUSD", 200, "1.2"),
		rec("EURUSD", 300, "1.3"),
	}
	fake := &fakeDynamo{
		batchOut: &dynamodb.BatchWriteItemOutput{
			UnprocessedItems: map[string][]types.WriteRequest{
				"daily_prices": {{PutRequest: &types.PutRequest{Item: encodeItem(records[2])}}},
			},
		},
	}
	s := NewDynamoStoreWithClient(fake)

	n, err := s.BatchPut(context.Background(), "daily_prices", records)
	if err != nil {
		t.Fatalf("BatchPut: %v", err)
	}
	if n != 2 {
		t.Errorf("BatchPut accepted %d, want 2 (one unprocessed)", n)
	}
	if len(fake.batchIn) != 1 {
		t.Fatalf("BatchWriteItem called %d times, want 1", len(fake.batchIn))
	}
	reqs := fake.batchIn[0].RequestItems["daily_prices"]
	if len(reqs) != 3 {
		t.Fatalf("request carried %d items, want 3", len(reqs))
	}
	if got := numberValue(t, reqs[0].PutRequest.Item["Price"]); got != "1.105" {
		t.Errorf("encoded price = %s, want 1.105", got)
	}
}

func TestDynamoStoreBatchPutEmpty(t *testing.T) {
	fake := &fakeDynamo{}
	s := NewDynamoStoreWithClient(fake)

	n, err := s.BatchPut(context.Background(), "daily_prices", nil)
	if err != nil || n != 0 {
		t.Fatalf("BatchPut(nil) = %d, %v; want 0, nil", n, err)
	}
	if len(fake.batchIn) != 0 {
		t.Errorf("BatchWriteItem called %d times for an empty batch, want 0", len(fake.batchIn))
	}
}
