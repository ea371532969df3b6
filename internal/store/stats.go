package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/smile-crm/sales-funnel/internal/domain"
)

// EmailStats aggregates a tenant's processing log over a time window.
type EmailStats struct {
	Processed    int `json:"processed"`
	Skipped      int `json:"skipped"`
	Failed       int `json:"failed"`
	TasksCreated int `json:"tasks_created"`
	DealsCreated int `json:"deals_created"`
	TokensUsed   int `json:"tokens_used"`
}

// ExtractionRate is the share of processed messages among all sightings in
// the window.
func (s *EmailStats) ExtractionRate() float64 {
	total := s.Processed + s.Skipped + s.Failed
	if total == 0 {
		return 0
	}
	return float64(s.Processed) / float64(total)
}

// EmailLogStats scans the log table for one tenant's entries since the given
// time. Like the purge path this is a Scan; the logs table is keyed by
// fingerprint and has no tenant GSI, and stats windows are short.
func (s *Store) EmailLogStats(ctx context.Context, userID string, since time.Time) (*EmailStats, error) {
	stats := &EmailStats{}
	sinceStr := since.UTC().Format(time.RFC3339)
	var startKey map[string]types.AttributeValue

	for {
		out, err := s.db.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(s.tables.EmailLogs),
			FilterExpression: aws.String("user_id = :uid AND processed_at >= :since"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":uid":   &types.AttributeValueMemberS{Value: userID},
				":since": &types.AttributeValueMemberS{Value: sinceStr},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scanning email logs for stats: %w", err)
		}

		for _, item := range out.Items {
			var log domain.EmailLog
			if err := attributevalue.UnmarshalMap(item, &log); err != nil {
				continue
			}
			switch log.Status {
			case domain.ProcessingProcessed:
				stats.Processed++
			case domain.ProcessingSkipped:
				stats.Skipped++
			default:
				stats.Failed++
			}
			stats.TasksCreated += len(log.TasksCreated)
			stats.DealsCreated += len(log.DealsCreated)
			stats.TokensUsed += log.LLMTokensUsed
		}

		if out.LastEvaluatedKey == nil {
			return stats, nil
		}
		startKey = out.LastEvaluatedKey
	}
}
