package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"bookchat/internal/util"
	"bookchat/pkg/domain"
	"bookchat/pkg/events"
)

// ListInsights returns the insights for (scopeUserID, bookID), newest first.
// An empty scopeUserID means the caller; admins may read any scope.
// Appends from other requests may take a short while to show up when the
// insight cache is enabled.
func (a *App) ListInsights(ctx context.Context, caller Caller, scopeUserID, bookID string) ([]domain.Insight, error) {
	userID, bookID, err := a.insightScope(caller, scopeUserID, bookID, true)
	if err != nil {
		return nil, err
	}
	items, err := a.store.ListInsights(ctx, userID, bookID)
	if err != nil {
		return nil, storageError("list insights", err)
	}
	if items == nil {
		items = []domain.Insight{}
	}
	return items, nil
}

// AppendInsight validates and stores one insight. Blank title or content
// is rejected before anything is written. Only the owner of a scope
// writes to it, whatever the caller's role.
func (a *App) AppendInsight(ctx context.Context, caller Caller, scopeUserID, bookID, title, content string) (domain.Insight, error) {
	userID, bookID, err := a.insightScope(caller, scopeUserID, bookID, false)
	if err != nil {
		return domain.Insight{}, err
	}
	title = strings.TrimSpace(title)
	content = strings.TrimSpace(content)
	if title == "" {
		return domain.Insight{}, validationError("title required")
	}
	if content == "" {
		return domain.Insight{}, validationError("content required")
	}
	in := domain.Insight{
		ID:        uuid.NewString(),
		UserID:    userID,
		BookID:    bookID,
		Title:     title,
		Content:   content,
		CreatedAt: a.now(),
	}
	if err := a.store.AppendInsight(ctx, in); err != nil {
		return domain.Insight{}, storageError("append insight", err)
	}
	insightsAppended.Inc()
	util.LoggerFromContext(ctx).Debug("insight appended", "insight_id", in.ID, "book_id", bookID)
	a.publish(ctx, events.Event{
		Type:       events.TypeInsightAppended,
		UserID:     userID,
		BookID:     bookID,
		InsightID:  in.ID,
		OccurredAt: in.CreatedAt,
	})
	return in, nil
}

func (a *App) insightScope(caller Caller, scopeUserID, bookID string, read bool) (string, string, error) {
	if !caller.authenticated() {
		return "", "", ErrNotAuthenticated
	}
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return "", "", validationError("bookId required")
	}
	scopeUserID = strings.TrimSpace(scopeUserID)
	if scopeUserID == "" {
		return caller.User.ID, bookID, nil
	}
	if scopeUserID == caller.User.ID {
		return scopeUserID, bookID, nil
	}
	if !read || caller.User.Role != domain.RoleAdmin {
		return "", "", fmt.Errorf("insights of user %s: %w", scopeUserID, ErrForbidden)
	}
	return scopeUserID, bookID, nil
}
