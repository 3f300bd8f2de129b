package appointments

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
	"github.com/heartclinic/clinic-assistant/pkg/logging"
)

const (
	apptKeyPrefix = "APPT#"
	slotKeyPrefix = "SLOT#"
	holdKeyPrefix = "HOLD#"

	dateIndex    = "date-index"
	subjectIndex = "subject-index"
)

// dynamoAPI is the slice of the DynamoDB client the store needs.
type dynamoAPI interface {
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(context.Context, *dynamodb.ScanInput, ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(context.Context, *dynamodb.TransactWriteItemsInput, ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Store persists appointments to DynamoDB. A single table holds three item
// shapes keyed by pk: the appointment record (APPT#id), a slot lock
// (SLOT#date#time) and a subject hold (HOLD#subjectId). The lock and hold
// items exist only while an appointment is confirmed; their condition
// expressions are what enforce the one-per-slot and one-per-subject
// invariants, not anything the readers observed earlier.
type Store struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

// slotLock reserves one (date, time) pair on the shared calendar.
type slotLock struct {
	PK            string `dynamodbav:"pk"`
	AppointmentID string `dynamodbav:"appointmentId"`
	LockDate      string `dynamodbav:"lockDate"`
	TimeSlot      string `dynamodbav:"timeSlot"`
}

// subjectHold marks a subject as holding a confirmed appointment.
type subjectHold struct {
	PK            string `dynamodbav:"pk"`
	AppointmentID string `dynamodbav:"appointmentId"`
	HoldDate      string `dynamodbav:"holdDate"`
}

// NewStore builds a store backed by the provided DynamoDB client.
func NewStore(client dynamoAPI, tableName string, logger *logging.Logger) *Store {
	if client == nil {
		panic("appointments: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("appointments: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{client: client, tableName: tableName, logger: logger}
}

func apptKey(id string) string        { return apptKeyPrefix + id }
func slotKey(date, slot string) string { return slotKeyPrefix + date + "#" + slot }
func holdKey(subjectID string) string { return holdKeyPrefix + subjectID }

func pkAttr(pk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: pk},
	}
}

// Get fetches one appointment by ID.
func (s *Store) Get(ctx context.Context, id string) (*Appointment, error) {
	if id == "" {
		return nil, errors.New("appointments: id required")
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       pkAttr(apptKey(id)),
	})
	if err != nil {
		return nil, fmt.Errorf("appointments: fetch %s: %w", id, err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var appt Appointment
	if err := attributevalue.UnmarshalMap(out.Item, &appt); err != nil {
		return nil, fmt.Errorf("appointments: decode %s: %w", id, err)
	}
	return &appt, nil
}

// ConfirmedForDate returns every confirmed appointment on the given day.
func (s *Store) ConfirmedForDate(ctx context.Context, date string) ([]Appointment, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(dateIndex),
		KeyConditionExpression: aws.String("#d = :date"),
		FilterExpression:       aws.String("#s = :confirmed"),
		ExpressionAttributeNames: map[string]string{
			"#d": "date",
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":date":      &types.AttributeValueMemberS{Value: date},
			":confirmed": &types.AttributeValueMemberS{Value: string(StatusConfirmed)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("appointments: query date %s: %w", date, err)
	}
	return unmarshalAppointments(out.Items)
}

// ConfirmedForSubject returns every confirmed appointment held by a subject,
// past ones included. Policy on lapsed records is the caller's concern.
func (s *Store) ConfirmedForSubject(ctx context.Context, subjectID string) ([]Appointment, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(subjectIndex),
		KeyConditionExpression: aws.String("subjectId = :subject"),
		FilterExpression:       aws.String("#s = :confirmed"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":subject":   &types.AttributeValueMemberS{Value: subjectID},
			":confirmed": &types.AttributeValueMemberS{Value: string(StatusConfirmed)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("appointments: query subject: %w", err)
	}
	return unmarshalAppointments(out.Items)
}

// ListAll returns every appointment record, optionally filtered by status,
// ordered by date then time slot. Admin listing only; the booking flow never
// scans.
func (s *Store) ListAll(ctx context.Context, status Status) ([]Appointment, error) {
	filter := "begins_with(pk, :prefix)"
	values := map[string]types.AttributeValue{
		":prefix": &types.AttributeValueMemberS{Value: apptKeyPrefix},
	}
	var names map[string]string
	if status != "" {
		filter += " AND #s = :status"
		names = map[string]string{"#s": "status"}
		values[":status"] = &types.AttributeValueMemberS{Value: string(status)}
	}

	var items []map[string]types.AttributeValue
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(s.tableName),
			FilterExpression:          aws.String(filter),
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("appointments: scan: %w", err)
		}
		items = append(items, out.Items...)
		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	appts, err := unmarshalAppointments(items)
	if err != nil {
		return nil, err
	}
	sort.Slice(appts, func(i, j int) bool {
		if appts[i].Date != appts[j].Date {
			return appts[i].Date < appts[j].Date
		}
		return appts[i].TimeSlot < appts[j].TimeSlot
	})
	return appts, nil
}

// Book writes a confirmed appointment as one atomic transaction: the record,
// the slot lock and the subject hold all land together or not at all. A
// subject hold left behind by a lapsed appointment (holdDate before today)
// does not block the new booking.
func (s *Store) Book(ctx context.Context, appt *Appointment, today string) error {
	if appt == nil {
		return errors.New("appointments: appointment cannot be nil")
	}

	item, err := attributevalue.MarshalMap(appt)
	if err != nil {
		return fmt.Errorf("appointments: marshal: %w", err)
	}
	item["pk"] = &types.AttributeValueMemberS{Value: apptKey(appt.ID)}

	lock, err := attributevalue.MarshalMap(slotLock{
		PK:            slotKey(appt.Date, appt.TimeSlot),
		AppointmentID: appt.ID,
		LockDate:      appt.Date,
		TimeSlot:      appt.TimeSlot,
	})
	if err != nil {
		return fmt.Errorf("appointments: marshal slot lock: %w", err)
	}

	hold, err := attributevalue.MarshalMap(subjectHold{
		PK:            holdKey(appt.SubjectID),
		AppointmentID: appt.ID,
		HoldDate:      appt.Date,
	})
	if err != nil {
		return fmt.Errorf("appointments: marshal subject hold: %w", err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(s.tableName),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(pk)"),
			}},
			{Put: &types.Put{
				TableName:           aws.String(s.tableName),
				Item:                lock,
				ConditionExpression: aws.String("attribute_not_exists(pk)"),
			}},
			{Put: &types.Put{
				TableName:           aws.String(s.tableName),
				Item:                hold,
				ConditionExpression: aws.String("attribute_not_exists(pk) OR holdDate < :today"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":today": &types.AttributeValueMemberS{Value: today},
				},
			}},
		},
	})
	if err != nil {
		return mapBookError(err)
	}

	s.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"subject_id", appt.SubjectID,
		"date", appt.Date,
		"time_slot", appt.TimeSlot,
	)
	return nil
}

// Cancel transitions an appointment to cancelled and, when it was confirmed,
// releases its slot lock and subject hold in the same transaction.
func (s *Store) Cancel(ctx context.Context, appt *Appointment, cancelledAt time.Time) error {
	if appt == nil {
		return errors.New("appointments: appointment cannot be nil")
	}

	when := &types.AttributeValueMemberS{Value: cancelledAt.UTC().Format(time.RFC3339Nano)}

	if appt.Status == StatusWaiting {
		// Waiting appointments never acquired a lock or hold.
		_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:           aws.String(s.tableName),
			Key:                 pkAttr(apptKey(appt.ID)),
			UpdateExpression:    aws.String("SET #s = :cancelled, cancelledAt = :when"),
			ConditionExpression: aws.String("#s = :waiting"),
			ExpressionAttributeNames: map[string]string{
				"#s": "status",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":cancelled": &types.AttributeValueMemberS{Value: string(StatusCancelled)},
				":waiting":   &types.AttributeValueMemberS{Value: string(StatusWaiting)},
				":when":      when,
			},
		})
		if err != nil {
			var conditionFailed *types.ConditionalCheckFailedException
			if errors.As(err, &conditionFailed) {
				return ErrNoActiveAppointment
			}
			return fmt.Errorf("appointments: cancel %s: %w", appt.ID, err)
		}
		return nil
	}

	idCond := map[string]types.AttributeValue{
		":id": &types.AttributeValueMemberS{Value: appt.ID},
	}

	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: &types.Update{
				TableName:           aws.String(s.tableName),
				Key:                 pkAttr(apptKey(appt.ID)),
				UpdateExpression:    aws.String("SET #s = :cancelled, cancelledAt = :when"),
				ConditionExpression: aws.String("#s = :confirmed"),
				ExpressionAttributeNames: map[string]string{
					"#s": "status",
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":cancelled": &types.AttributeValueMemberS{Value: string(StatusCancelled)},
					":confirmed": &types.AttributeValueMemberS{Value: string(StatusConfirmed)},
					":when":      when,
				},
			}},
			{Delete: &types.Delete{
				TableName:                 aws.String(s.tableName),
				Key:                       pkAttr(slotKey(appt.Date, appt.TimeSlot)),
				ConditionExpression:       aws.String("appointmentId = :id"),
				ExpressionAttributeValues: idCond,
			}},
			{Delete: &types.Delete{
				TableName:                 aws.String(s.tableName),
				Key:                       pkAttr(holdKey(appt.SubjectID)),
				ConditionExpression:       aws.String("appointmentId = :id"),
				ExpressionAttributeValues: idCond,
			}},
		},
	})
	if err != nil {
		var cancelled *types.TransactionCanceledException
		if errors.As(err, &cancelled) {
			return ErrNoActiveAppointment
		}
		return fmt.Errorf("appointments: cancel %s: %w", appt.ID, err)
	}

	s.logger.Info("appointment cancelled",
		"appointment_id", appt.ID,
		"subject_id", appt.SubjectID,
		"date", appt.Date,
		"time_slot", appt.TimeSlot,
	)
	return nil
}

// Confirm promotes a waiting appointment to confirmed, acquiring the slot
// lock and subject hold under the same conditions as a fresh booking.
func (s *Store) Confirm(ctx context.Context, appt *Appointment, confirmedAt time.Time, today string) error {
	if appt == nil {
		return errors.New("appointments: appointment cannot be nil")
	}

	lock, err := attributevalue.MarshalMap(slotLock{
		PK:            slotKey(appt.Date, appt.TimeSlot),
		AppointmentID: appt.ID,
		LockDate:      appt.Date,
		TimeSlot:      appt.TimeSlot,
	})
	if err != nil {
		return fmt.Errorf("appointments: marshal slot lock: %w", err)
	}
	hold, err := attributevalue.MarshalMap(subjectHold{
		PK:            holdKey(appt.SubjectID),
		AppointmentID: appt.ID,
		HoldDate:      appt.Date,
	})
	if err != nil {
		return fmt.Errorf("appointments: marshal subject hold: %w", err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: &types.Update{
				TableName:           aws.String(s.tableName),
				Key:                 pkAttr(apptKey(appt.ID)),
				UpdateExpression:    aws.String("SET #s = :confirmed, confirmedAt = :when"),
				ConditionExpression: aws.String("#s = :waiting"),
				ExpressionAttributeNames: map[string]string{
					"#s": "status",
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":confirmed": &types.AttributeValueMemberS{Value: string(StatusConfirmed)},
					":waiting":   &types.AttributeValueMemberS{Value: string(StatusWaiting)},
					":when":      &types.AttributeValueMemberS{Value: confirmedAt.UTC().Format(time.RFC3339Nano)},
				},
			}},
			{Put: &types.Put{
				TableName:           aws.String(s.tableName),
				Item:                lock,
				ConditionExpression: aws.String("attribute_not_exists(pk)"),
			}},
			{Put: &types.Put{
				TableName:           aws.String(s.tableName),
				Item:                hold,
				ConditionExpression: aws.String("attribute_not_exists(pk) OR holdDate < :today"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":today": &types.AttributeValueMemberS{Value: today},
				},
			}},
		},
	})
	if err != nil {
		return mapConfirmError(err)
	}
	return nil
}

// mapBookError translates a cancelled booking transaction into the conflict
// it represents: item 1 is the slot lock, item 2 the subject hold.
func mapBookError(err error) error {
	var cancelled *types.TransactionCanceledException
	if !errors.As(err, &cancelled) {
		return fmt.Errorf("appointments: book: %w", err)
	}
	for i, reason := range cancelled.CancellationReasons {
		if reason.Code == nil || *reason.Code != "ConditionalCheckFailed" {
			continue
		}
		switch i {
		case 1:
			return ErrSlotTaken
		case 2:
			return ErrAlreadyBooked
		}
	}
	return fmt.Errorf("appointments: book: %w", err)
}

func mapConfirmError(err error) error {
	var cancelled *types.TransactionCanceledException
	if !errors.As(err, &cancelled) {
		return fmt.Errorf("appointments: confirm: %w", err)
	}
	for i, reason := range cancelled.CancellationReasons {
		if reason.Code == nil || *reason.Code != "ConditionalCheckFailed" {
			continue
		}
		switch i {
		case 0:
			return ErrNotFound
		case 1:
			return ErrSlotTaken
		case 2:
			return ErrAlreadyBooked
		}
	}
	return fmt.Errorf("appointments: confirm: %w", err)
}

func unmarshalAppointments(items []map[string]types.AttributeValue) ([]Appointment, error) {
	out := make([]Appointment, 0, len(items))
	for _, item := range items {
		var appt Appointment
		if err := attributevalue.UnmarshalMap(item, &appt); err != nil {
			return nil, fmt.Errorf("appointments: decode item: %w", err)
		}
		out = append(out, appt)
	}
	return out, nil
}
