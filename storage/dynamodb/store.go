// Package dynamodb implements storage.Store on a single DynamoDB table with
// a string partition key "pk" and a string sort key "sk".
//
//	rows      pk=row#<table>              sk=<id>      row=<bytes>
//	links     pk=link#<rel>#<parent>      sk=<child>   pos=<n>
//	reverse   pk=rlink#<rel>#<child>      sk=<parent>  pos=<n>
//	counters  pk=counter                  sk=<name>    value=<n>
package dynamodb

import (
	"context"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/JiscSD/rdss-repository-core/storage"
)

const counterPartition = "counter"

type record struct {
	PK    string `dynamodbav:"pk"`
	SK    string `dynamodbav:"sk"`
	Row   []byte `dynamodbav:"row,omitempty"`
	Pos   int64  `dynamodbav:"pos,omitempty"`
	Value int64  `dynamodbav:"value,omitempty"`
}

type storeDynamoDBImpl struct {
	DynamoDB dynamodbiface.DynamoDBAPI
	Table    string
}

var _ storage.Store = (*storeDynamoDBImpl)(nil)

// New returns a store writing to the given table.
func New(client dynamodbiface.DynamoDBAPI, table string) *storeDynamoDBImpl {
	return &storeDynamoDBImpl{
		DynamoDB: client,
		Table:    table,
	}
}

func rowKey(table string) string { return "row#" + table }

func linkKey(rel storage.Relation, parent uuid.UUID) string {
	return "link#" + string(rel) + "#" + parent.String()
}

func reverseKey(rel storage.Relation, child uuid.UUID) string {
	return "rlink#" + string(rel) + "#" + child.String()
}

func key(pk, sk string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		"pk": {S: aws.String(pk)},
		"sk": {S: aws.String(sk)},
	}
}

func (s *storeDynamoDBImpl) get(ctx context.Context, pk, sk string) (*record, error) {
	output, err := s.DynamoDB.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.Table),
		Key:            key(pk, sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if output.Item == nil {
		return nil, nil
	}
	rec := &record{}
	if err := dynamodbattribute.UnmarshalMap(output.Item, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *storeDynamoDBImpl) put(ctx context.Context, rec *record) error {
	item, err := dynamodbattribute.MarshalMap(rec)
	if err != nil {
		return err
	}
	_, err = s.DynamoDB.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.Table),
		Item:      item,
	})
	return err
}

func (s *storeDynamoDBImpl) delete(ctx context.Context, pk, sk string) error {
	_, err := s.DynamoDB.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.Table),
		Key:       key(pk, sk),
	})
	return err
}

// query returns every record of a partition, following pagination.
func (s *storeDynamoDBImpl) query(ctx context.Context, pk string) ([]*record, error) {
	var (
		records []*record
		start   map[string]*dynamodb.AttributeValue
	)
	for {
		output, err := s.DynamoDB.QueryWithContext(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.Table),
			KeyConditionExpression: aws.String("pk = :pk"),
			ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
				":pk": {S: aws.String(pk)},
			},
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, err
		}
		for _, item := range output.Items {
			rec := &record{}
			if err := dynamodbattribute.UnmarshalMap(item, rec); err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
		if len(output.LastEvaluatedKey) == 0 {
			return records, nil
		}
		start = output.LastEvaluatedKey
	}
}

func (s *storeDynamoDBImpl) Get(ctx context.Context, table string, id uuid.UUID) ([]byte, error) {
	rec, err := s.get(ctx, rowKey(table), id.String())
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.Row, nil
}

func (s *storeDynamoDBImpl) Put(ctx context.Context, table string, id uuid.UUID, row []byte) error {
	return s.put(ctx, &record{PK: rowKey(table), SK: id.String(), Row: row})
}

func (s *storeDynamoDBImpl) Delete(ctx context.Context, table string, id uuid.UUID) error {
	return s.delete(ctx, rowKey(table), id.String())
}

func (s *storeDynamoDBImpl) Scan(ctx context.Context, table string, fn func(id uuid.UUID, row []byte) error) error {
	records, err := s.query(ctx, rowKey(table))
	if err != nil {
		return err
	}
	for _, rec := range records {
		id, err := uuid.Parse(rec.SK)
		if err != nil {
			return errors.Wrapf(err, "row %s in %s", rec.SK, table)
		}
		if err := fn(id, rec.Row); err != nil {
			return err
		}
	}
	return nil
}

func (s *storeDynamoDBImpl) Link(ctx context.Context, rel storage.Relation, parent, child uuid.UUID) error {
	have, err := s.get(ctx, linkKey(rel, parent), child.String())
	if err != nil {
		return err
	}
	if have != nil {
		return nil
	}
	pos, err := s.Next(ctx, "linkpos#"+string(rel))
	if err != nil {
		return err
	}
	if err := s.put(ctx, &record{PK: linkKey(rel, parent), SK: child.String(), Pos: pos}); err != nil {
		return err
	}
	return s.put(ctx, &record{PK: reverseKey(rel, child), SK: parent.String(), Pos: pos})
}

func (s *storeDynamoDBImpl) Unlink(ctx context.Context, rel storage.Relation, parent, child uuid.UUID) error {
	if err := s.delete(ctx, linkKey(rel, parent), child.String()); err != nil {
		return err
	}
	return s.delete(ctx, reverseKey(rel, child), parent.String())
}

func (s *storeDynamoDBImpl) Linked(ctx context.Context, rel storage.Relation, parent, child uuid.UUID) (bool, error) {
	rec, err := s.get(ctx, linkKey(rel, parent), child.String())
	return rec != nil, err
}

func (s *storeDynamoDBImpl) Children(ctx context.Context, rel storage.Relation, parent uuid.UUID) ([]uuid.UUID, error) {
	return s.ordered(ctx, linkKey(rel, parent))
}

func (s *storeDynamoDBImpl) Parents(ctx context.Context, rel storage.Relation, child uuid.UUID) ([]uuid.UUID, error) {
	return s.ordered(ctx, reverseKey(rel, child))
}

func (s *storeDynamoDBImpl) ordered(ctx context.Context, pk string) ([]uuid.UUID, error) {
	records, err := s.query(ctx, pk)
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Pos < records[j].Pos })
	ids := make([]uuid.UUID, 0, len(records))
	for _, rec := range records {
		id, err := uuid.Parse(rec.SK)
		if err != nil {
			return nil, errors.Wrapf(err, "link %s in %s", rec.SK, pk)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Next uses an atomic ADD so concurrent minting never hands out a value
// twice.
func (s *storeDynamoDBImpl) Next(ctx context.Context, counter string) (int64, error) {
	output, err := s.DynamoDB.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.Table),
		Key:              key(counterPartition, counter),
		UpdateExpression: aws.String("ADD #v :inc"),
		ExpressionAttributeNames: map[string]*string{
			"#v": aws.String("value"),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":inc": {N: aws.String("1")},
		},
		ReturnValues: aws.String(dynamodb.ReturnValueUpdatedNew),
	})
	if err != nil {
		return 0, err
	}
	v, ok := output.Attributes["value"]
	if !ok || v.N == nil {
		return 0, errors.Errorf("counter %s: no value returned", counter)
	}
	return strconv.ParseInt(*v.N, 10, 64)
}

func (s *storeDynamoDBImpl) Close() error {
	return nil
}
