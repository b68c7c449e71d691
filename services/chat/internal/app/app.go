package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"bookchat/internal/util"
	"bookchat/pkg/ai"
	"bookchat/pkg/domain"
	"bookchat/pkg/events"
	"bookchat/pkg/store"
)

const (
	defaultMaxResponseTokens = 512
	defaultCompletionTimeout = 60 * time.Second
)

// BookCatalog resolves book metadata used to render the persona.
type BookCatalog interface {
	GetBook(ctx context.Context, token, id string) (domain.Book, error)
}

// Config holds runtime configuration for the core application.
type Config struct {
	Store     store.Store
	Generator ai.ChatGenerator
	// Provider and Model label metrics and assistant message metadata.
	Provider string
	Model    string
	// Books is optional; without it the persona is rendered from the book id.
	Books  BookCatalog
	Events events.Publisher

	PersonaTemplate string
	// HistoryLimit caps how many ledger entries are sent to the model.
	// 0 sends the full ledger, so prompt size grows with the session.
	HistoryLimit      int
	MaxResponseTokens int
	CompletionTimeout time.Duration

	Now func() time.Time
}

// Caller is the authenticated identity for one request. Handlers build it
// from the request and pass it explicitly; nothing is kept process-wide.
type Caller struct {
	User  domain.User
	Token string
}

func (c Caller) authenticated() bool {
	return strings.TrimSpace(c.User.ID) != ""
}

// App wires storage, the model client and event publishing into the
// chat session engine.
type App struct {
	store             store.Store
	generator         ai.ChatGenerator
	provider          string
	model             string
	books             BookCatalog
	events            events.Publisher
	persona           *template.Template
	historyLimit      int
	maxResponseTokens int
	completionTimeout time.Duration
	now               func() time.Time
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("generator required")
	}
	persona, err := parsePersonaTemplate(cfg.PersonaTemplate)
	if err != nil {
		return nil, err
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit < 0 {
		return nil, fmt.Errorf("history limit must be >= 0, got %d", historyLimit)
	}
	maxTokens := cfg.MaxResponseTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxResponseTokens
	}
	timeout := cfg.CompletionTimeout
	if timeout <= 0 {
		timeout = defaultCompletionTimeout
	}
	publisher := cfg.Events
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	provider := strings.TrimSpace(cfg.Provider)
	if provider == "" {
		provider = "unknown"
	}
	return &App{
		store:             cfg.Store,
		generator:         cfg.Generator,
		provider:          provider,
		model:             strings.TrimSpace(cfg.Model),
		books:             cfg.Books,
		events:            publisher,
		persona:           persona,
		historyLimit:      historyLimit,
		maxResponseTokens: maxTokens,
		completionTimeout: timeout,
		now:               now,
	}, nil
}

func (a *App) publish(ctx context.Context, ev events.Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = a.now()
	}
	if err := a.events.Publish(ctx, ev); err != nil {
		util.LoggerFromContext(ctx).Warn("publish event failed", "type", ev.Type, "err", err)
	}
}
