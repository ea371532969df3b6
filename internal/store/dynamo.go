// Package store persists extracted entities, contacts, and per-message
// processing logs in DynamoDB. Tables share a deployment prefix and every
// read or write is scoped to a tenant's user_id.
package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/smile-crm/sales-funnel/internal/config"
)

// GSI names shared with the provisioning templates.
const (
	tenantIndex = "user_id-created_at-index"
	emailIndex  = "email-index"
)

// ErrNotFound is returned when a tenant-scoped lookup matches nothing the
// caller owns.
var ErrNotFound = errors.New("store: item not found")

// DynamoAPI is the slice of the DynamoDB client the store uses. Tests
// substitute an in-memory fake.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

type tableNames struct {
	Tasks     string
	Deals     string
	Contacts  string
	EmailLogs string
}

// Store is the DynamoDB-backed persistence layer.
type Store struct {
	db     DynamoAPI
	tables tableNames
}

// New wires a Store over an existing DynamoDB client.
func New(db DynamoAPI, tablePrefix string) *Store {
	return &Store{
		db: db,
		tables: tableNames{
			Tasks:     tablePrefix + "-tasks",
			Deals:     tablePrefix + "-deals",
			Contacts:  tablePrefix + "-contacts",
			EmailLogs: tablePrefix + "-email-logs",
		},
	}
}

// Connect builds the DynamoDB client from the storage config and returns a
// Store over it. An explicit endpoint targets DynamoDB Local.
func Connect(ctx context.Context, cfg config.StorageConfig) (*Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if profile := cfg.GetAWSProfile(); profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return New(client, cfg.TablePrefix), nil
}

// DB exposes the underlying client so sibling stores (credentials) can share
// one connection.
func (s *Store) DB() DynamoAPI { return s.db }

// cursor carries the exclusive start key of a tenant-index page between
// requests, opaque to callers.
type cursor struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	CreatedAt string `json:"created_at"`
}

func encodeCursor(key map[string]types.AttributeValue) string {
	if key == nil {
		return ""
	}
	c := cursor{}
	if v, ok := key["id"].(*types.AttributeValueMemberS); ok {
		c.ID = v.Value
	}
	if v, ok := key["user_id"].(*types.AttributeValueMemberS); ok {
		c.UserID = v.Value
	}
	if v, ok := key["created_at"].(*types.AttributeValueMemberS); ok {
		c.CreatedAt = v.Value
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(s string) (map[string]types.AttributeValue, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	var c cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	return map[string]types.AttributeValue{
		"id":         &types.AttributeValueMemberS{Value: c.ID},
		"user_id":    &types.AttributeValueMemberS{Value: c.UserID},
		"created_at": &types.AttributeValueMemberS{Value: c.CreatedAt},
	}, nil
}
