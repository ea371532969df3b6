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
)

// Fields a client may change after creation. Everything else (confidence,
// provenance, timestamps) is owned by the pipeline.
var (
	taskUpdatable = map[string]bool{
		"title": true, "description": true, "status": true, "priority": true, "due_date": true,
	}
	dealUpdatable = map[string]bool{
		"title": true, "description": true, "status": true, "stage": true,
		"value": true, "currency": true, "probability": true,
	}

	taskStatuses = map[string]bool{
		domain.StatusDraft: true, domain.StatusAccepted: true,
		domain.StatusRejected: true, domain.StatusCompleted: true,
	}
	dealStatuses = map[string]bool{
		domain.StatusDraft: true, domain.StatusAccepted: true,
		domain.StatusRejected: true, domain.StatusWon: true, domain.StatusLost: true,
	}
	dealStages = map[string]bool{
		domain.StageLead: true, domain.StageQualified: true, domain.StageProposal: true,
		domain.StageNegotiation: true, domain.StageClosed: true,
	}
	taskPriorities = map[string]bool{
		domain.PriorityHigh: true, domain.PriorityMedium: true, domain.PriorityLow: true,
	}
)

// ListTasks returns the tenant's tasks newest first. An empty status means no
// status filter; the returned cursor is non-empty when more pages exist.
func (s *Store) ListTasks(ctx context.Context, userID, status string, limit int, cur string) ([]domain.Task, string, error) {
	items, next, err := s.listByTenant(ctx, s.tables.Tasks, userID, status, limit, cur)
	if err != nil {
		return nil, "", err
	}

	tasks := make([]domain.Task, 0, len(items))
	for _, item := range items {
		var t domain.Task
		if err := attributevalue.UnmarshalMap(item, &t); err != nil {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, next, nil
}

// ListDeals returns the tenant's deals newest first.
func (s *Store) ListDeals(ctx context.Context, userID, status string, limit int, cur string) ([]domain.Deal, string, error) {
	items, next, err := s.listByTenant(ctx, s.tables.Deals, userID, status, limit, cur)
	if err != nil {
		return nil, "", err
	}

	deals := make([]domain.Deal, 0, len(items))
	for _, item := range items {
		var d domain.Deal
		if err := attributevalue.UnmarshalMap(item, &d); err != nil {
			continue
		}
		deals = append(deals, d)
	}
	return deals, next, nil
}

// ListContacts returns the tenant's contacts newest first.
func (s *Store) ListContacts(ctx context.Context, userID string, limit int, cur string) ([]domain.Contact, string, error) {
	items, next, err := s.listByTenant(ctx, s.tables.Contacts, userID, "", limit, cur)
	if err != nil {
		return nil, "", err
	}

	contacts := make([]domain.Contact, 0, len(items))
	for _, item := range items {
		var c domain.Contact
		if err := attributevalue.UnmarshalMap(item, &c); err != nil {
			continue
		}
		contacts = append(contacts, c)
	}
	return contacts, next, nil
}

func (s *Store) listByTenant(ctx context.Context, table, userID, status string, limit int, cur string) ([]map[string]types.AttributeValue, string, error) {
	startKey, err := decodeCursor(cur)
	if err != nil {
		return nil, "", err
	}

	input := &dynamodb.QueryInput{
		TableName:              aws.String(table),
		IndexName:              aws.String(tenantIndex),
		KeyConditionExpression: aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
		ScanIndexForward:  aws.Bool(false), // newest first
		ExclusiveStartKey: startKey,
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}
	if status != "" {
		input.FilterExpression = aws.String("#status = :status")
		input.ExpressionAttributeNames = map[string]string{"#status": "status"}
		input.ExpressionAttributeValues[":status"] = &types.AttributeValueMemberS{Value: status}
	}

	out, err := s.db.Query(ctx, input)
	if err != nil {
		return nil, "", fmt.Errorf("querying %s: %w", table, err)
	}
	return out.Items, encodeCursor(out.LastEvaluatedKey), nil
}

// GetTask fetches a task the tenant owns. Another tenant's task reads as
// ErrNotFound, never as a permission error that confirms its existence.
func (s *Store) GetTask(ctx context.Context, userID, taskID string) (*domain.Task, error) {
	var t domain.Task
	if err := s.getOwned(ctx, s.tables.Tasks, userID, taskID, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetDeal fetches a deal the tenant owns.
func (s *Store) GetDeal(ctx context.Context, userID, dealID string) (*domain.Deal, error) {
	var d domain.Deal
	if err := s.getOwned(ctx, s.tables.Deals, userID, dealID, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) getOwned(ctx context.Context, table, userID, id string, target any) error {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return fmt.Errorf("getting item: %w", err)
	}
	if out.Item == nil {
		return ErrNotFound
	}
	owner, ok := out.Item["user_id"].(*types.AttributeValueMemberS)
	if !ok || owner.Value != userID {
		return ErrNotFound
	}
	if err := attributevalue.UnmarshalMap(out.Item, target); err != nil {
		return fmt.Errorf("unmarshaling item: %w", err)
	}
	return nil
}

// UpdateTask applies the allowed field changes and bumps updated_at. Unknown
// fields are rejected rather than silently dropped.
func (s *Store) UpdateTask(ctx context.Context, userID, taskID string, fields map[string]any) (*domain.Task, error) {
	if _, err := s.GetTask(ctx, userID, taskID); err != nil {
		return nil, err
	}
	if err := validateTaskFields(fields); err != nil {
		return nil, err
	}

	item, err := s.updateFields(ctx, s.tables.Tasks, taskID, fields)
	if err != nil {
		return nil, err
	}

	var t domain.Task
	if err := attributevalue.UnmarshalMap(item, &t); err != nil {
		return nil, fmt.Errorf("unmarshaling updated task: %w", err)
	}
	return &t, nil
}

// UpdateDeal applies the allowed field changes and bumps updated_at.
func (s *Store) UpdateDeal(ctx context.Context, userID, dealID string, fields map[string]any) (*domain.Deal, error) {
	if _, err := s.GetDeal(ctx, userID, dealID); err != nil {
		return nil, err
	}
	if err := validateDealFields(fields); err != nil {
		return nil, err
	}

	item, err := s.updateFields(ctx, s.tables.Deals, dealID, fields)
	if err != nil {
		return nil, err
	}

	var d domain.Deal
	if err := attributevalue.UnmarshalMap(item, &d); err != nil {
		return nil, fmt.Errorf("unmarshaling updated deal: %w", err)
	}
	return &d, nil
}

func (s *Store) updateFields(ctx context.Context, table, id string, fields map[string]any) (map[string]types.AttributeValue, error) {
	expr := "SET updated_at = :updated_at"
	names := map[string]string{}
	values := map[string]types.AttributeValue{
		":updated_at": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
	}

	for field, value := range fields {
		av, err := attributevalue.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshaling field %s: %w", field, err)
		}
		expr += fmt.Sprintf(", #%s = :%s", field, field)
		names["#"+field] = field
		values[":"+field] = av
	}

	out, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(table),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: updating item: %w", domain.ErrPersistence, err)
	}
	return out.Attributes, nil
}

func validateTaskFields(fields map[string]any) error {
	for field, value := range fields {
		if !taskUpdatable[field] {
			return fmt.Errorf("field %q is not updatable", field)
		}
		switch field {
		case "title":
			s, ok := value.(string)
			if !ok || strings.TrimSpace(s) == "" {
				return fmt.Errorf("task title must be a non-empty string")
			}
		case "status":
			s, _ := value.(string)
			if !taskStatuses[s] {
				return fmt.Errorf("invalid task status %q", s)
			}
		case "priority":
			s, _ := value.(string)
			if !taskPriorities[s] {
				return fmt.Errorf("invalid task priority %q", s)
			}
		case "due_date":
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("due_date must be an RFC 3339 string")
			}
			if _, err := time.Parse(time.RFC3339, s); err != nil {
				return fmt.Errorf("invalid due_date: %w", err)
			}
		}
	}
	return nil
}

func validateDealFields(fields map[string]any) error {
	for field, value := range fields {
		if !dealUpdatable[field] {
			return fmt.Errorf("field %q is not updatable", field)
		}
		switch field {
		case "title":
			s, ok := value.(string)
			if !ok || strings.TrimSpace(s) == "" {
				return fmt.Errorf("deal title must be a non-empty string")
			}
		case "status":
			s, _ := value.(string)
			if !dealStatuses[s] {
				return fmt.Errorf("invalid deal status %q", s)
			}
		case "stage":
			s, _ := value.(string)
			if !dealStages[s] {
				return fmt.Errorf("invalid deal stage %q", s)
			}
		case "currency":
			s, _ := value.(string)
			if !domain.ValidCurrencies[strings.ToUpper(s)] {
				return fmt.Errorf("unsupported currency %q", s)
			}
			fields[field] = strings.ToUpper(s)
		case "value":
			v, ok := toFloat(value)
			if !ok || v < 0 {
				return fmt.Errorf("deal value must be a non-negative number")
			}
		case "probability":
			v, ok := toFloat(value)
			if !ok || v < 0 || v > 100 {
				return fmt.Errorf("deal probability must be between 0 and 100")
			}
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
