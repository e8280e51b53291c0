package dynamodb

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JiscSD/rdss-repository-core/storage"
)

// fakeDynamoDB keeps items in a map keyed by pk and sk. It supports the
// subset of the API used by the store.
type fakeDynamoDB struct {
	dynamodbiface.DynamoDBAPI
	items   map[string]map[string]map[string]*dynamodb.AttributeValue
	failGet error
}

func newFake() *fakeDynamoDB {
	return &fakeDynamoDB{items: map[string]map[string]map[string]*dynamodb.AttributeValue{}}
}

func keyOf(k map[string]*dynamodb.AttributeValue) (string, string) {
	return *k["pk"].S, *k["sk"].S
}

func (f *fakeDynamoDB) GetItemWithContext(_ aws.Context, input *dynamodb.GetItemInput, _ ...request.Option) (*dynamodb.GetItemOutput, error) {
	if f.failGet != nil {
		return nil, f.failGet
	}
	pk, sk := keyOf(input.Key)
	return &dynamodb.GetItemOutput{Item: f.items[pk][sk]}, nil
}

func (f *fakeDynamoDB) PutItemWithContext(_ aws.Context, input *dynamodb.PutItemInput, _ ...request.Option) (*dynamodb.PutItemOutput, error) {
	pk, sk := keyOf(input.Item)
	if f.items[pk] == nil {
		f.items[pk] = map[string]map[string]*dynamodb.AttributeValue{}
	}
	f.items[pk][sk] = input.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamoDB) DeleteItemWithContext(_ aws.Context, input *dynamodb.DeleteItemInput, _ ...request.Option) (*dynamodb.DeleteItemOutput, error) {
	pk, sk := keyOf(input.Key)
	delete(f.items[pk], sk)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamoDB) QueryWithContext(_ aws.Context, input *dynamodb.QueryInput, _ ...request.Option) (*dynamodb.QueryOutput, error) {
	pk := *input.ExpressionAttributeValues[":pk"].S
	sks := make([]string, 0, len(f.items[pk]))
	for sk := range f.items[pk] {
		sks = append(sks, sk)
	}
	sort.Strings(sks)
	out := &dynamodb.QueryOutput{}
	for _, sk := range sks {
		out.Items = append(out.Items, f.items[pk][sk])
	}
	return out, nil
}

func (f *fakeDynamoDB) UpdateItemWithContext(_ aws.Context, input *dynamodb.UpdateItemInput, _ ...request.Option) (*dynamodb.UpdateItemOutput, error) {
	pk, sk := keyOf(input.Key)
	if f.items[pk] == nil {
		f.items[pk] = map[string]map[string]*dynamodb.AttributeValue{}
	}
	item := f.items[pk][sk]
	if item == nil {
		item = map[string]*dynamodb.AttributeValue{"pk": input.Key["pk"], "sk": input.Key["sk"]}
		f.items[pk][sk] = item
	}
	var v int64
	if have, ok := item["value"]; ok {
		v, _ = strconv.ParseInt(*have.N, 10, 64)
	}
	inc, _ := strconv.ParseInt(*input.ExpressionAttributeValues[":inc"].N, 10, 64)
	item["value"] = &dynamodb.AttributeValue{N: aws.String(strconv.FormatInt(v+inc, 10))}
	return &dynamodb.UpdateItemOutput{
		Attributes: map[string]*dynamodb.AttributeValue{"value": item["value"]},
	}, nil
}

func TestStore_Rows(t *testing.T) {
	ctx := context.Background()
	s := New(newFake(), "repository")
	id := uuid.New()

	row, err := s.Get(ctx, storage.TableBundle, id)
	require.NoError(t, err)
	assert.Nil(t, row)

	require.NoError(t, s.Put(ctx, storage.TableBundle, id, []byte(`{"name":"ORIGINAL"}`)))
	row, err = s.Get(ctx, storage.TableBundle, id)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"ORIGINAL"}`, string(row))

	var n int
	require.NoError(t, s.Scan(ctx, storage.TableBundle, func(got uuid.UUID, _ []byte) error {
		assert.Equal(t, id, got)
		n++
		return nil
	}))
	assert.Equal(t, 1, n)

	require.NoError(t, s.Delete(ctx, storage.TableBundle, id))
	row, _ = s.Get(ctx, storage.TableBundle, id)
	assert.Nil(t, row)
}

func TestStore_Links(t *testing.T) {
	ctx := context.Background()
	s := New(newFake(), "repository")
	collection := uuid.New()
	items := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	for _, item := range items {
		require.NoError(t, s.Link(ctx, storage.CollectionItem, collection, item))
	}
	require.NoError(t, s.Link(ctx, storage.CollectionItem, collection, items[0]))

	children, err := s.Children(ctx, storage.CollectionItem, collection)
	require.NoError(t, err)
	assert.Equal(t, items, children)

	require.NoError(t, s.Unlink(ctx, storage.CollectionItem, collection, items[1]))
	ok, err := s.Linked(ctx, storage.CollectionItem, collection, items[1])
	require.NoError(t, err)
	assert.False(t, ok)

	parents, err := s.Parents(ctx, storage.CollectionItem, items[2])
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{collection}, parents)
}

func TestStore_Next(t *testing.T) {
	s := New(newFake(), "repository")
	for want := int64(1); want <= 3; want++ {
		got, err := s.Next(context.Background(), "handle")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestStore_GetFails(t *testing.T) {
	f := newFake()
	f.failGet = errors.New("throttled")
	s := New(f, "repository")

	_, err := s.Get(context.Background(), storage.TableItem, uuid.New())
	assert.EqualError(t, err, "throttled")
}
