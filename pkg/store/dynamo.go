package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

// DefaultDynamoTable is the conversation table name.
const DefaultDynamoTable = "chatbot_conversations"

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// DynamoStore keeps conversations in a DynamoDB table keyed by id.
type DynamoStore struct {
	client DynamoAPI
	table  string
	logger *zap.Logger
}

// NewDynamoStore wraps client. An empty table uses DefaultDynamoTable.
func NewDynamoStore(client DynamoAPI, table string, logger *zap.Logger) *DynamoStore {
	if table == "" {
		table = DefaultDynamoTable
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DynamoStore{client: client, table: table, logger: logger}
}

// NewDynamoStoreFromConfig builds the client from an AWS config.
func NewDynamoStoreFromConfig(cfg aws.Config, table string, logger *zap.Logger) *DynamoStore {
	return NewDynamoStore(dynamodb.NewFromConfig(cfg), table, logger)
}

// EnsureSchema creates the table with a string hash key "id". An existing
// table is left alone.
func (d *DynamoStore) EnsureSchema(ctx context.Context) error {
	_, err := d.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(d.table),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
		},
		ProvisionedThroughput: &types.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(5),
			WriteCapacityUnits: aws.Int64(5),
		},
	})
	var inUse *types.ResourceInUseException
	if errors.As(err, &inUse) {
		d.logger.Debug("dynamodb table already exists", zap.String("table", d.table))
		return nil
	}
	if err != nil {
		return fmt.Errorf("create table %s: %w", d.table, err)
	}
	d.logger.Info("dynamodb table created", zap.String("table", d.table))
	return nil
}

func (d *DynamoStore) Save(ctx context.Context, conv *Conversation) error {
	if err := validate(conv); err != nil {
		return err
	}
	record := conv.Clone()
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("marshal conversation %s: %w", conv.ID, err)
	}
	if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("save conversation %s: %w", conv.ID, err)
	}
	d.logger.Debug("conversation saved",
		zap.String("conversation_id", conv.ID),
		zap.Int("turns", len(conv.Turns)))
	return nil
}

func (d *DynamoStore) Get(ctx context.Context, id string) (*Conversation, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var conv Conversation
	if err := attributevalue.UnmarshalMap(out.Item, &conv); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	return &conv, nil
}
