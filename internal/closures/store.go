// Package closures is the registry of dates the clinic is closed. The
// booking flow consults it read-only; administrators add and remove entries.
package closures

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/heartclinic/clinic-assistant/pkg/logging"
)

// ErrAlreadyClosed indicates the date already has a closure entry.
var ErrAlreadyClosed = errors.New("closures: date already closed")

// Entry marks one calendar date as unavailable for booking.
type Entry struct {
	ID        string    `dynamodbav:"id" json:"id"`
	Date      string    `dynamodbav:"date" json:"date"` // YYYY-MM-DD, also the table key
	Reason    string    `dynamodbav:"reason,omitempty" json:"reason,omitempty"`
	CreatedAt time.Time `dynamodbav:"createdAt" json:"created_at"`
	AddedBy   string    `dynamodbav:"addedBy" json:"added_by"`
}

type dynamoAPI interface {
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(context.Context, *dynamodb.ScanInput, ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store persists closure entries to DynamoDB, keyed by date so one date can
// carry at most one entry.
type Store struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

// NewStore builds a closure store backed by the provided DynamoDB client.
func NewStore(client dynamoAPI, tableName string, logger *logging.Logger) *Store {
	if client == nil {
		panic("closures: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("closures: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{client: client, tableName: tableName, logger: logger}
}

func dateKey(date string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"date": &types.AttributeValueMemberS{Value: date},
	}
}

// Closed reports whether the clinic is closed on the date, with the reason.
func (s *Store) Closed(ctx context.Context, date string) (string, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       dateKey(date),
	})
	if err != nil {
		return "", false, fmt.Errorf("closures: fetch %s: %w", date, err)
	}
	if out.Item == nil {
		return "", false, nil
	}
	var entry Entry
	if err := attributevalue.UnmarshalMap(out.Item, &entry); err != nil {
		return "", false, fmt.Errorf("closures: decode %s: %w", date, err)
	}
	return entry.Reason, true, nil
}

// List returns every closure entry sorted ascending by date.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	var items []map[string]types.AttributeValue
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.tableName),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("closures: scan: %w", err)
		}
		items = append(items, out.Items...)
		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		var e Entry
		if err := attributevalue.UnmarshalMap(item, &e); err != nil {
			return nil, fmt.Errorf("closures: decode item: %w", err)
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Date < entries[j].Date })
	return entries, nil
}

// Add registers a closure entry. Adding a date twice fails with
// ErrAlreadyClosed.
func (s *Store) Add(ctx context.Context, entry Entry) (*Entry, error) {
	if entry.Date == "" {
		return nil, errors.New("closures: date required")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Reason == "" {
		entry.Reason = "Clinic closed"
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	item, err := attributevalue.MarshalMap(entry)
	if err != nil {
		return nil, fmt.Errorf("closures: marshal: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#d)"),
		ExpressionAttributeNames: map[string]string{
			"#d": "date",
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return nil, ErrAlreadyClosed
		}
		return nil, fmt.Errorf("closures: add %s: %w", entry.Date, err)
	}

	s.logger.Info("closure date added", "date", entry.Date, "reason", entry.Reason, "added_by", entry.AddedBy)
	return &entry, nil
}

// Remove reopens a date by deleting its closure entry.
func (s *Store) Remove(ctx context.Context, date string) error {
	if date == "" {
		return errors.New("closures: date required")
	}
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       dateKey(date),
	})
	if err != nil {
		return fmt.Errorf("closures: remove %s: %w", date, err)
	}
	s.logger.Info("closure date removed", "date", date)
	return nil
}
