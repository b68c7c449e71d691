package store

import (
	"context"
	"errors"
	"time"

	"bookchat/pkg/domain"
)

var (
	// ErrDuplicate reports a unique-constraint violation on insert.
	ErrDuplicate = errors.New("store: duplicate record")
	// ErrNotFound reports a missing record on update.
	ErrNotFound = errors.New("store: record not found")
)

// Store defines persistence operations for chat sessions, their messages,
// and per-(user, book) insights.
type Store interface {
	// sessions
	CreateSession(ctx context.Context, s domain.Session) error
	GetSession(ctx context.Context, id string) (domain.Session, bool, error)
	GetSessionByUserBook(ctx context.Context, userID, bookID string) (domain.Session, bool, error)
	TouchSession(ctx context.Context, id string, at time.Time) error

	// messages
	AppendMessage(ctx context.Context, msg domain.Message) error
	// ListMessages returns messages in ledger order. limit > 0 keeps only the
	// most recent entries, still in ascending order.
	ListMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)

	// insights
	AppendInsight(ctx context.Context, in domain.Insight) error
	ListInsights(ctx context.Context, userID, bookID string) ([]domain.Insight, error)

	Close() error
}
