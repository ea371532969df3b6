// Package api is the HTTP surface: OAuth connect/disconnect, manual polling,
// scheduler control, entity listing and review updates, and ad-hoc MIME
// ingestion. Handlers stay thin; everything interesting happens in the
// pipeline and store packages.
package api

import (
	"context"
	"time"

	"github.com/smile-crm/sales-funnel/internal/domain"
	"github.com/smile-crm/sales-funnel/internal/gmail"
	"github.com/smile-crm/sales-funnel/internal/pipeline"
	"github.com/smile-crm/sales-funnel/internal/poller"
	"github.com/smile-crm/sales-funnel/internal/store"
	"github.com/smile-crm/sales-funnel/internal/tokens"
)

// OAuthFlow starts and completes the Gmail consent flow.
type OAuthFlow interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*tokens.Token, error)
}

// TokenStore is the credential store slice the handlers need.
type TokenStore interface {
	Get(ctx context.Context, userID string) (*tokens.Token, error)
	Delete(ctx context.Context, userID string) error
	ListUsers(ctx context.Context) ([]string, error)
}

// Datastore is the persistence slice behind the CRUD endpoints.
type Datastore interface {
	ListTasks(ctx context.Context, userID, status string, limit int, cursor string) ([]domain.Task, string, error)
	ListDeals(ctx context.Context, userID, status string, limit int, cursor string) ([]domain.Deal, string, error)
	ListContacts(ctx context.Context, userID string, limit int, cursor string) ([]domain.Contact, string, error)
	UpdateTask(ctx context.Context, userID, taskID string, fields map[string]any) (*domain.Task, error)
	UpdateDeal(ctx context.Context, userID, dealID string, fields map[string]any) (*domain.Deal, error)
	PurgeTenant(ctx context.Context, userID string, includeIdempotency bool) (*store.PurgeResult, error)
	EmailLogStats(ctx context.Context, userID string, since time.Time) (*store.EmailStats, error)
}

// Labels lists a tenant's Gmail labels.
type Labels interface {
	ListLabels(ctx context.Context, userID string) ([]gmail.Label, error)
}

// Processor runs one message through the pipeline.
type Processor interface {
	Process(ctx context.Context, userID, source string, msg *domain.CanonicalMessage) (*pipeline.Result, error)
}

// Scheduler controls the background poller.
type Scheduler interface {
	Start()
	Stop()
	IsRunning() bool
	Status() map[string]any
	PollTenant(ctx context.Context, userID string) (*poller.TenantResult, error)
	ForgetCursor(userID string)
}

// Handlers carries the wired dependencies for every route.
type Handlers struct {
	oauth     OAuthFlow
	tokens    TokenStore
	store     Datastore
	labels    Labels
	engine    Processor
	demo      Processor // same pipeline over no-op storage
	scheduler Scheduler
	demoLimit *RateLimiter
}

func NewHandlers(oauth OAuthFlow, tok TokenStore, st Datastore, labels Labels, engine, demo Processor, sched Scheduler) *Handlers {
	return &Handlers{
		oauth:     oauth,
		tokens:    tok,
		store:     st,
		labels:    labels,
		engine:    engine,
		demo:      demo,
		scheduler: sched,
		demoLimit: NewRateLimiter(demoRequestsPerMinute),
	}
}
