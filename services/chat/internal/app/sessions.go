package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bookchat/internal/util"
	"bookchat/pkg/domain"
	"bookchat/pkg/store"
)

// GetOrCreateSession returns the caller's session for bookID, creating it
// on first contact. Uniqueness of (user, book) is enforced by the store;
// losing a concurrent create re-reads the winner's session.
func (a *App) GetOrCreateSession(ctx context.Context, caller Caller, bookID string) (domain.Session, error) {
	if !caller.authenticated() {
		return domain.Session{}, ErrNotAuthenticated
	}
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return domain.Session{}, validationError("bookId required")
	}
	sess, ok, err := a.store.GetSessionByUserBook(ctx, caller.User.ID, bookID)
	if err != nil {
		return domain.Session{}, storageError("load session", err)
	}
	if ok {
		return sess, nil
	}

	now := a.now()
	sess = domain.Session{
		ID:        util.NewID(),
		UserID:    caller.User.ID,
		BookID:    bookID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateSession(ctx, sess); err != nil {
		if !errors.Is(err, store.ErrDuplicate) {
			return domain.Session{}, storageError("create session", err)
		}
		existing, ok, err := a.store.GetSessionByUserBook(ctx, caller.User.ID, bookID)
		if err != nil {
			return domain.Session{}, storageError("reload session", err)
		}
		if !ok {
			return domain.Session{}, storageError("reload session", fmt.Errorf("duplicate reported but no session for user %s book %s", caller.User.ID, bookID))
		}
		return existing, nil
	}
	sessionsCreated.Inc()
	util.LoggerFromContext(ctx).Info("chat session created", "session_id", sess.ID, "user_id", sess.UserID, "book_id", sess.BookID)
	return sess, nil
}

// FindSession returns the caller's session for bookID without creating one.
func (a *App) FindSession(ctx context.Context, caller Caller, bookID string) (domain.Session, error) {
	if !caller.authenticated() {
		return domain.Session{}, ErrNotAuthenticated
	}
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return domain.Session{}, validationError("bookId required")
	}
	sess, ok, err := a.store.GetSessionByUserBook(ctx, caller.User.ID, bookID)
	if err != nil {
		return domain.Session{}, storageError("load session", err)
	}
	if !ok {
		return domain.Session{}, fmt.Errorf("session: %w", ErrNotFound)
	}
	return sess, nil
}

func (a *App) loadSession(ctx context.Context, sessionID string) (domain.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Session{}, validationError("sessionId required")
	}
	sess, ok, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, storageError("load session", err)
	}
	if !ok {
		return domain.Session{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return sess, nil
}
