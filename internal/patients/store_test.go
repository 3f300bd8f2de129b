package patients

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/heartclinic/clinic-assistant/pkg/logging"
)

type mockDynamo struct {
	getOutput  *dynamodb.GetItemOutput
	scanOutput *dynamodb.ScanOutput
}

func (m *mockDynamo) GetItem(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.getOutput != nil {
		return m.getOutput, nil
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (m *mockDynamo) Scan(_ context.Context, _ *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	if m.scanOutput != nil {
		return m.scanOutput, nil
	}
	return &dynamodb.ScanOutput{}, nil
}

func TestGetProfile(t *testing.T) {
	item, err := attributevalue.MarshalMap(Profile{ID: "u-1", Name: "Jordan Lee", Email: "jordan@example.com", Admin: true})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	store := NewStore(&mockDynamo{getOutput: &dynamodb.GetItemOutput{Item: item}}, "users", logging.Default())

	p, err := store.Get(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if p.Name != "Jordan Lee" || !p.Admin {
		t.Fatalf("unexpected profile: %+v", p)
	}
}

func TestGetMissingProfile(t *testing.T) {
	store := NewStore(&mockDynamo{}, "users", logging.Default())
	if _, err := store.Get(context.Background(), "u-404"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListOrdersByEmail(t *testing.T) {
	b, _ := attributevalue.MarshalMap(Profile{ID: "u-2", Email: "b@example.com"})
	a, _ := attributevalue.MarshalMap(Profile{ID: "u-1", Email: "a@example.com"})
	store := NewStore(&mockDynamo{scanOutput: &dynamodb.ScanOutput{
		Items: []map[string]types.AttributeValue{b, a},
	}}, "users", logging.Default())

	profiles, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(profiles) != 2 || profiles[0].Email != "a@example.com" {
		t.Fatalf("expected email ordering, got %+v", profiles)
	}
}
