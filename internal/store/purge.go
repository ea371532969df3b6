package store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/smile-crm/sales-funnel/internal/pkg/logger"
)

// PurgeResult counts what a tenant purge removed per table.
type PurgeResult struct {
	Tasks     int `json:"tasks"`
	Deals     int `json:"deals"`
	Contacts  int `json:"contacts"`
	EmailLogs int `json:"email_logs"`
}

// PurgeTenant deletes everything a tenant owns. Idempotency records are kept
// by default so a purge followed by a reconnect does not reprocess old mail;
// includeIdempotency removes them too for a full erasure.
func (s *Store) PurgeTenant(ctx context.Context, userID string, includeIdempotency bool) (*PurgeResult, error) {
	res := &PurgeResult{}

	var err error
	if res.Tasks, err = s.purgeByTenantIndex(ctx, s.tables.Tasks, userID); err != nil {
		return res, err
	}
	if res.Deals, err = s.purgeByTenantIndex(ctx, s.tables.Deals, userID); err != nil {
		return res, err
	}
	if res.Contacts, err = s.purgeByTenantIndex(ctx, s.tables.Contacts, userID); err != nil {
		return res, err
	}
	if includeIdempotency {
		if res.EmailLogs, err = s.purgeEmailLogs(ctx, userID); err != nil {
			return res, err
		}
	}

	logger.Info("Purged tenant data", "user_id", userID,
		"tasks", res.Tasks, "deals", res.Deals, "contacts", res.Contacts, "email_logs", res.EmailLogs)
	return res, nil
}

func (s *Store) purgeByTenantIndex(ctx context.Context, table, userID string) (int, error) {
	deleted := 0
	var startKey map[string]types.AttributeValue

	for {
		out, err := s.db.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(table),
			IndexName:              aws.String(tenantIndex),
			KeyConditionExpression: aws.String("user_id = :uid"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":uid": &types.AttributeValueMemberS{Value: userID},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return deleted, fmt.Errorf("querying %s for purge: %w", table, err)
		}

		for _, item := range out.Items {
			id, ok := item["id"].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			if _, err := s.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(table),
				Key: map[string]types.AttributeValue{
					"id": &types.AttributeValueMemberS{Value: id.Value},
				},
			}); err != nil {
				logger.Error("Failed to delete item during purge", "table", table, "id", id.Value, "error", err)
				continue
			}
			deleted++
		}

		if out.LastEvaluatedKey == nil {
			return deleted, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// purgeEmailLogs scans; the logs table is keyed by fingerprint and has no
// tenant GSI.
func (s *Store) purgeEmailLogs(ctx context.Context, userID string) (int, error) {
	deleted := 0
	var startKey map[string]types.AttributeValue

	for {
		out, err := s.db.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(s.tables.EmailLogs),
			FilterExpression: aws.String("user_id = :uid"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":uid": &types.AttributeValueMemberS{Value: userID},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return deleted, fmt.Errorf("scanning email logs for purge: %w", err)
		}

		for _, item := range out.Items {
			hash, ok := item["message_id_hash"].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			if _, err := s.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(s.tables.EmailLogs),
				Key: map[string]types.AttributeValue{
					"message_id_hash": &types.AttributeValueMemberS{Value: hash.Value},
				},
			}); err != nil {
				logger.Error("Failed to delete email log during purge", "hash", hash.Value, "error", err)
				continue
			}
			deleted++
		}

		if out.LastEvaluatedKey == nil {
			return deleted, nil
		}
		startKey = out.LastEvaluatedKey
	}
}
