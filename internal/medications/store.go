// Package medications records the medication plans administrators assign to
// patients. The assistant never touches these; they are admin-managed data.
package medications

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

const patientIndex = "patient-index"

// ErrInvalidMedication indicates a record with missing required fields.
var ErrInvalidMedication = errors.New("medications: invalid record")

// IntakeTimes flags the times of day a dose is taken.
type IntakeTimes struct {
	Morning bool `dynamodbav:"morning" json:"morning"`
	Noon    bool `dynamodbav:"noon" json:"noon"`
	Night   bool `dynamodbav:"night" json:"night"`
}

// Any reports whether at least one intake time is selected.
func (t IntakeTimes) Any() bool {
	return t.Morning || t.Noon || t.Night
}

// Medication is one prescribed plan for a patient.
type Medication struct {
	ID           string      `dynamodbav:"id" json:"id"`
	PatientID    string      `dynamodbav:"patientId" json:"patient_id"`
	PatientName  string      `dynamodbav:"patientName" json:"patient_name"`
	PatientEmail string      `dynamodbav:"patientEmail" json:"patient_email"`
	Name         string      `dynamodbav:"medicationName" json:"medication_name"`
	Dosage       string      `dynamodbav:"dosage" json:"dosage"`
	Instructions string      `dynamodbav:"instructions" json:"instructions"`
	StartDate    string      `dynamodbav:"startDate" json:"start_date"`
	EndDate      string      `dynamodbav:"endDate" json:"end_date"`
	Times        IntakeTimes `dynamodbav:"times" json:"times"`
	CreatedAt    time.Time   `dynamodbav:"createdAt" json:"created_at"`
	AddedBy      string      `dynamodbav:"addedBy" json:"added_by"`
}

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(context.Context, *dynamodb.ScanInput, ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store persists medication plans to DynamoDB.
type Store struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

// NewStore builds a medication store backed by the provided DynamoDB client.
func NewStore(client dynamoAPI, tableName string, logger *logging.Logger) *Store {
	if client == nil {
		panic("medications: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("medications: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{client: client, tableName: tableName, logger: logger}
}

// Add stores one medication plan.
func (s *Store) Add(ctx context.Context, med Medication) (*Medication, error) {
	switch {
	case med.PatientID == "":
		return nil, fmt.Errorf("%w: patient id required", ErrInvalidMedication)
	case med.Name == "" || med.Dosage == "" || med.Instructions == "":
		return nil, fmt.Errorf("%w: name, dosage and instructions required", ErrInvalidMedication)
	case med.StartDate == "" || med.EndDate == "":
		return nil, fmt.Errorf("%w: start and end dates required", ErrInvalidMedication)
	case !med.Times.Any():
		return nil, fmt.Errorf("%w: at least one intake time required", ErrInvalidMedication)
	}

	if med.ID == "" {
		med.ID = uuid.NewString()
	}
	if med.CreatedAt.IsZero() {
		med.CreatedAt = time.Now().UTC()
	}

	item, err := attributevalue.MarshalMap(med)
	if err != nil {
		return nil, fmt.Errorf("medications: marshal: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return nil, fmt.Errorf("medications: add: %w", err)
	}

	s.logger.Info("medication added",
		"medication_id", med.ID,
		"patient_id", med.PatientID,
		"added_by", med.AddedBy,
	)
	return &med, nil
}

// ListForPatient returns a patient's medication plans, newest first.
func (s *Store) ListForPatient(ctx context.Context, patientID string) ([]Medication, error) {
	if patientID == "" {
		return nil, errors.New("medications: patient id required")
	}
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(patientIndex),
		KeyConditionExpression: aws.String("patientId = :patient"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":patient": &types.AttributeValueMemberS{Value: patientID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("medications: query patient: %w", err)
	}
	meds, err := unmarshalMedications(out.Items)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(meds)
	return meds, nil
}

// List returns every medication plan, newest first. Admin listing only.
func (s *Store) List(ctx context.Context) ([]Medication, error) {
	var items []map[string]types.AttributeValue
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.tableName),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("medications: scan: %w", err)
		}
		items = append(items, out.Items...)
		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	meds, err := unmarshalMedications(items)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(meds)
	return meds, nil
}

func sortNewestFirst(meds []Medication) {
	sort.Slice(meds, func(i, j int) bool { return meds[i].CreatedAt.After(meds[j].CreatedAt) })
}

func unmarshalMedications(items []map[string]types.AttributeValue) ([]Medication, error) {
	out := make([]Medication, 0, len(items))
	for _, item := range items {
		var m Medication
		if err := attributevalue.UnmarshalMap(item, &m); err != nil {
			return nil, fmt.Errorf("medications: decode item: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}
