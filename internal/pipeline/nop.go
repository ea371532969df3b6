package pipeline

import (
	"context"

	"github.com/smile-crm/sales-funnel/internal/domain"
	"github.com/smile-crm/sales-funnel/internal/store"
)

// NopStorage satisfies Storage without touching a database. The demo
// endpoint runs the full pipeline with it so callers can see what would be
// extracted without writing anything.
type NopStorage struct{}

func (NopStorage) GetEmailLog(context.Context, string) (*domain.EmailLog, error) { return nil, nil }

func (NopStorage) PutEmailLog(context.Context, *domain.EmailLog) error { return nil }

func (NopStorage) SaveExtracted(_ context.Context, contacts []*domain.Contact, tasks []*domain.Task, deals []*domain.Deal) *store.SaveResult {
	res := &store.SaveResult{TaskIDs: []string{}, DealIDs: []string{}, ContactIDs: []string{}}
	for _, c := range contacts {
		res.ContactIDs = append(res.ContactIDs, c.ID)
	}
	for _, t := range tasks {
		res.TaskIDs = append(res.TaskIDs, t.ID)
	}
	for _, d := range deals {
		res.DealIDs = append(res.DealIDs, d.ID)
	}
	return res
}
