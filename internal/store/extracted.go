package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/smile-crm/sales-funnel/internal/domain"
	"github.com/smile-crm/sales-funnel/internal/pkg/logger"
)

// SaveResult lists the IDs actually persisted; a failed item is skipped, not
// fatal.
type SaveResult struct {
	TaskIDs    []string
	DealIDs    []string
	ContactIDs []string
}

// SaveExtracted persists one email's extraction output: contacts first so a
// deal can reference its sender, then tasks, then deals. Individual write
// failures are logged and skipped so one bad item never discards the rest of
// the batch.
func (s *Store) SaveExtracted(ctx context.Context, contacts []*domain.Contact, tasks []*domain.Task, deals []*domain.Deal) *SaveResult {
	res := &SaveResult{
		TaskIDs:    []string{},
		DealIDs:    []string{},
		ContactIDs: []string{},
	}

	var contactID string
	for _, c := range contacts {
		id, err := s.upsertContact(ctx, c)
		if err != nil {
			logger.Error("Failed to save contact", "user_id", c.UserID, "email", c.Email, "error", err)
			continue
		}
		res.ContactIDs = append(res.ContactIDs, id)
		if contactID == "" {
			contactID = id
		}
	}

	for _, t := range tasks {
		if err := s.putItem(ctx, s.tables.Tasks, t); err != nil {
			logger.Error("Failed to save task", "user_id", t.UserID, "title", t.Title, "error", err)
			continue
		}
		res.TaskIDs = append(res.TaskIDs, t.ID)
	}

	for _, d := range deals {
		if d.ContactID == "" {
			d.ContactID = contactID
		}
		if err := s.putItem(ctx, s.tables.Deals, d); err != nil {
			logger.Error("Failed to save deal", "user_id", d.UserID, "title", d.Title, "error", err)
			continue
		}
		res.DealIDs = append(res.DealIDs, d.ID)
	}

	return res
}

// upsertContact creates the contact or, when the tenant already has one for
// that address, refreshes its last-contact timestamp and fills in a missing
// name. Returns the surviving contact's ID.
func (s *Store) upsertContact(ctx context.Context, c *domain.Contact) (string, error) {
	existing, err := s.GetContactByEmail(ctx, c.UserID, c.Email)
	if err != nil {
		return "", err
	}
	if existing == nil {
		if err := s.putItem(ctx, s.tables.Contacts, c); err != nil {
			return "", err
		}
		return c.ID, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	existing.LastContactAt = now
	existing.UpdatedAt = now
	if existing.Name == "" && c.Name != "" {
		existing.Name = c.Name
	}
	if err := s.putItem(ctx, s.tables.Contacts, existing); err != nil {
		return "", err
	}
	return existing.ID, nil
}

// GetContactByEmail queries the contacts email GSI. Returns (nil, nil) when
// no contact exists for that tenant and address.
func (s *Store) GetContactByEmail(ctx context.Context, userID, email string) (*domain.Contact, error) {
	out, err := s.db.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tables.Contacts),
		IndexName:              aws.String(emailIndex),
		KeyConditionExpression: aws.String("email = :email"),
		FilterExpression:       aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":email": &types.AttributeValueMemberS{Value: strings.ToLower(email)},
			":uid":   &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("querying contact by email: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}

	var contact domain.Contact
	if err := attributevalue.UnmarshalMap(out.Items[0], &contact); err != nil {
		return nil, fmt.Errorf("unmarshaling contact: %w", err)
	}
	return &contact, nil
}

func (s *Store) putItem(ctx context.Context, table string, item any) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshaling item: %w", err)
	}
	if _, err := s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      av,
	}); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return nil
}
