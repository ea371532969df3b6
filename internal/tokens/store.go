// Package tokens persists per-tenant OAuth credentials in DynamoDB. The
// table is keyed by user_id (the tenant's mailbox address); one row per
// connected account.
package tokens

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/smile-crm/sales-funnel/internal/pkg/logger"
)

// expirySkew is how early a token counts as expired. Refreshing a few
// minutes ahead keeps a poll cycle from failing mid-fetch.
const expirySkew = 5 * time.Minute

// Token is a stored OAuth credential for one tenant.
type Token struct {
	UserID       string   `dynamodbav:"user_id"`
	AccessToken  string   `dynamodbav:"access_token"`
	RefreshToken string   `dynamodbav:"refresh_token"`
	TokenURI     string   `dynamodbav:"token_uri,omitempty"`
	Scopes       []string `dynamodbav:"scopes,omitempty"`
	Expiry       string   `dynamodbav:"expiry"`
	CreatedAt    string   `dynamodbav:"created_at,omitempty"`
	UpdatedAt    string   `dynamodbav:"updated_at"`
}

// ExpiresSoon reports whether the access token is expired or within the
// refresh skew of expiring. An unparseable expiry counts as expired.
func (t *Token) ExpiresSoon(now time.Time) bool {
	exp, err := time.Parse(time.RFC3339, t.Expiry)
	if err != nil {
		return true
	}
	return !now.Add(expirySkew).Before(exp)
}

// DynamoAPI is the slice of the DynamoDB client the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store reads and writes tenant credentials.
type Store struct {
	client DynamoAPI
	table  string
}

// NewStore creates a token store over the given table prefix.
func NewStore(client DynamoAPI, tablePrefix string) *Store {
	return &Store{client: client, table: tablePrefix + "-gmail-tokens"}
}

// Get returns the stored token for a tenant, or nil when none exists.
func (s *Store) Get(ctx context.Context, userID string) (*Token, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting token for %s: %w", logger.RedactEmail(userID), err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var tok Token
	if err := attributevalue.UnmarshalMap(out.Item, &tok); err != nil {
		return nil, fmt.Errorf("unmarshaling token: %w", err)
	}
	return &tok, nil
}

// Save writes or replaces a tenant's token. CreatedAt is preserved across
// refreshes; UpdatedAt always moves.
func (s *Store) Save(ctx context.Context, tok *Token) error {
	now := time.Now().UTC().Format(time.RFC3339)
	tok.UpdatedAt = now
	if tok.CreatedAt == "" {
		existing, err := s.Get(ctx, tok.UserID)
		if err == nil && existing != nil {
			tok.CreatedAt = existing.CreatedAt
		}
		if tok.CreatedAt == "" {
			tok.CreatedAt = now
		}
	}

	item, err := attributevalue.MarshalMap(tok)
	if err != nil {
		return fmt.Errorf("marshaling token: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("saving token for %s: %w", logger.RedactEmail(tok.UserID), err)
	}
	logger.Info("saved mailbox token", "user_id", tok.UserID)
	return nil
}

// Delete removes a tenant's token. Deleting an absent token is not an error.
func (s *Store) Delete(ctx context.Context, userID string) error {
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
	}); err != nil {
		return fmt.Errorf("deleting token for %s: %w", logger.RedactEmail(userID), err)
	}
	logger.Info("deleted mailbox token", "user_id", userID)
	return nil
}

// ListUsers returns every tenant with a stored credential. The table is
// small (one row per connected mailbox), so a scan is fine.
func (s *Store) ListUsers(ctx context.Context) ([]string, error) {
	var users []string
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(s.table),
			ProjectionExpression: aws.String("user_id"),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("listing connected users: %w", err)
		}
		for _, item := range out.Items {
			if v, ok := item["user_id"].(*types.AttributeValueMemberS); ok {
				users = append(users, v.Value)
			}
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return users, nil
}
