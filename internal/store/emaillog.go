package store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/smile-crm/sales-funnel/internal/domain"
)

// GetEmailLog looks up the idempotency record for a content fingerprint.
// Returns (nil, nil) when the message has not been seen.
func (s *Store) GetEmailLog(ctx context.Context, messageIDHash string) (*domain.EmailLog, error) {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tables.EmailLogs),
		Key: map[string]types.AttributeValue{
			"message_id_hash": &types.AttributeValueMemberS{Value: messageIDHash},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting email log: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var log domain.EmailLog
	if err := attributevalue.UnmarshalMap(out.Item, &log); err != nil {
		return nil, fmt.Errorf("unmarshaling email log: %w", err)
	}
	return &log, nil
}

// PutEmailLog writes the idempotency record. A failure here means the message
// stays eligible for reprocessing, so the error is tagged accordingly for the
// pipeline to report.
func (s *Store) PutEmailLog(ctx context.Context, log *domain.EmailLog) error {
	av, err := attributevalue.MarshalMap(log)
	if err != nil {
		return fmt.Errorf("%w: marshaling email log: %w", domain.ErrIdempotencyWrite, err)
	}

	if _, err := s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tables.EmailLogs),
		Item:      av,
	}); err != nil {
		return fmt.Errorf("%w: putting email log: %w", domain.ErrIdempotencyWrite, err)
	}
	return nil
}
