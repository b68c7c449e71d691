package app

import (
	"context"
	"strings"

	"bookchat/internal/util"
	"bookchat/pkg/domain"
)

// AppendMessage adds one entry to a session's ledger. It only checks that
// the role is known and the content is not blank; it does not touch the
// session's timestamps.
func (a *App) AppendMessage(ctx context.Context, sessionID string, role domain.MessageRole, content string) (domain.Message, error) {
	return a.appendMessage(ctx, sessionID, role, content, nil)
}

func (a *App) appendMessage(ctx context.Context, sessionID string, role domain.MessageRole, content string, meta map[string]string) (domain.Message, error) {
	if strings.TrimSpace(sessionID) == "" {
		return domain.Message{}, validationError("sessionId required")
	}
	if !role.Valid() {
		return domain.Message{}, validationError("unknown role " + string(role))
	}
	if strings.TrimSpace(content) == "" {
		return domain.Message{}, validationError("content required")
	}
	now := a.now()
	msg := domain.Message{
		ID:        util.NewID(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Metadata:  meta,
		CreatedAt: now,
	}
	if err := a.store.AppendMessage(ctx, msg); err != nil {
		return domain.Message{}, storageError("append "+string(role)+" message", err)
	}
	return msg, nil
}

// ListMessages returns the whole ledger of a session in ledger order.
func (a *App) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	items, err := a.store.ListMessages(ctx, sessionID, 0)
	if err != nil {
		return nil, storageError("list messages", err)
	}
	return items, nil
}

// ListChatMessages returns the caller's ledger for bookID. A missing
// session is an empty conversation, not an error.
func (a *App) ListChatMessages(ctx context.Context, caller Caller, bookID string) ([]domain.Message, error) {
	sess, err := a.FindSession(ctx, caller, bookID)
	if err != nil {
		if isNotFound(err) {
			return []domain.Message{}, nil
		}
		return nil, err
	}
	return a.ListMessages(ctx, sess.ID)
}
