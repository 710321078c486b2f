package aws

import (
	"context"
	"errors"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/satriahrh/allergy-checker/domain"
	"github.com/satriahrh/allergy-checker/domain/entities"
	"github.com/satriahrh/allergy-checker/domain/repositories"
)

type dynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// table wraps the key-value access both repositories need
type table struct {
	client dynamoAPI
	name   string
	key    string
}

func (t table) get(ctx context.Context, id string, out any) error {
	started := time.Now()
	resp, err := t.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: awssdk.String(t.name),
		Key:       map[string]types.AttributeValue{t.key: &types.AttributeValueMemberS{Value: id}},
	})
	if err := observe(serviceDynamoDB, started, err); err != nil {
		return err
	}
	if len(resp.Item) == 0 {
		return fmt.Errorf("%s %s: %w", t.name, id, domain.ErrNotFound)
	}
	if err := attributevalue.UnmarshalMap(resp.Item, out); err != nil {
		return fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return nil
}

func (t table) put(ctx context.Context, in any) error {
	item, err := attributevalue.MarshalMap(in)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	started := time.Now()
	_, err = t.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: awssdk.String(t.name),
		Item:      item,
	})
	return observe(serviceDynamoDB, started, err)
}

func (t table) delete(ctx context.Context, id string) error {
	started := time.Now()
	_, err := t.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: awssdk.String(t.name),
		Key:       map[string]types.AttributeValue{t.key: &types.AttributeValueMemberS{Value: id}},
	})
	return observe(serviceDynamoDB, started, err)
}

// DynamoPatientRepository keeps patient records keyed by patientId
type DynamoPatientRepository struct {
	table  table
	logger *zap.Logger
}

var _ repositories.PatientRepository = (*DynamoPatientRepository)(nil)

// NewDynamoPatientRepository creates a repository over tableName
func NewDynamoPatientRepository(cfg awssdk.Config, tableName string, logger *zap.Logger) *DynamoPatientRepository {
	return newDynamoPatientRepository(dynamodb.NewFromConfig(cfg), tableName, logger)
}

func newDynamoPatientRepository(client dynamoAPI, tableName string, logger *zap.Logger) *DynamoPatientRepository {
	return &DynamoPatientRepository{
		table:  table{client: client, name: tableName, key: "patientId"},
		logger: logger,
	}
}

// Get implements PatientRepository interface
func (r *DynamoPatientRepository) Get(ctx context.Context, id string) (*entities.Patient, error) {
	if id == "" {
		return nil, errors.New("patient ID cannot be empty")
	}
	var patient entities.Patient
	if err := r.table.get(ctx, id, &patient); err != nil {
		return nil, err
	}
	return &patient, nil
}

// Put implements PatientRepository interface
func (r *DynamoPatientRepository) Put(ctx context.Context, patient *entities.Patient) error {
	if patient == nil {
		return errors.New("patient cannot be nil")
	}
	if err := patient.Validate(); err != nil {
		return err
	}
	if patient.CreatedAt.IsZero() {
		patient.CreatedAt = time.Now()
	}
	if err := r.table.put(ctx, patient); err != nil {
		return err
	}
	r.logger.Debug("Patient saved", zap.String("patientID", patient.ID))
	return nil
}

// Delete implements PatientRepository interface
func (r *DynamoPatientRepository) Delete(ctx context.Context, id string) error {
	return r.table.delete(ctx, id)
}

// DynamoUserDirectory reads registered users keyed by username
type DynamoUserDirectory struct {
	table table
}

var _ repositories.UserDirectory = (*DynamoUserDirectory)(nil)

// NewDynamoUserDirectory creates a directory over tableName
func NewDynamoUserDirectory(cfg awssdk.Config, tableName string) *DynamoUserDirectory {
	return newDynamoUserDirectory(dynamodb.NewFromConfig(cfg), tableName)
}

func newDynamoUserDirectory(client dynamoAPI, tableName string) *DynamoUserDirectory {
	return &DynamoUserDirectory{table: table{client: client, name: tableName, key: "username"}}
}

// GetByUsername implements UserDirectory interface
func (d *DynamoUserDirectory) GetByUsername(ctx context.Context, username string) (*entities.User, error) {
	if username == "" {
		return nil, errors.New("username cannot be empty")
	}
	var user entities.User
	if err := d.table.get(ctx, username, &user); err != nil {
		return nil, err
	}
	return &user, nil
}
