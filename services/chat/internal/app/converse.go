package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bookchat/internal/util"
	"bookchat/pkg/ai"
	"bookchat/pkg/domain"
	"bookchat/pkg/events"
)

// Converse runs one turn on an existing session: persist the user's
// utterance, build the prompt over the updated ledger, call the model
// once, persist its trimmed reply and return both messages.
//
// The user message is never rolled back. On ErrCompletionFailed the
// returned slice holds just that persisted user message; call
// RetryCompletion to ask again without appending a second copy.
func (a *App) Converse(ctx context.Context, sessionID, utterance, persona string) ([]domain.Message, error) {
	if strings.TrimSpace(utterance) == "" {
		return nil, validationError("content required")
	}
	sess, err := a.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	userMsg, err := a.appendMessage(ctx, sess.ID, domain.MessageRoleUser, utterance, nil)
	if err != nil {
		return nil, err
	}
	reply, err := a.complete(ctx, sess, persona, userMsg.ID)
	if err != nil {
		return []domain.Message{userMsg}, err
	}
	return []domain.Message{userMsg, reply}, nil
}

// RetryCompletion re-runs the completion step for a session whose latest
// ledger entry is an unanswered user message. The check and the append are
// not atomic: retries that overlap both pass the check and both store a
// reply. Requests share no locks, so callers should not overlap retries;
// over HTTP each retry also spends one unit of the caller's turn limit.
func (a *App) RetryCompletion(ctx context.Context, sessionID, persona string) (domain.Message, error) {
	sess, err := a.loadSession(ctx, sessionID)
	if err != nil {
		return domain.Message{}, err
	}
	last, err := a.store.ListMessages(ctx, sess.ID, 1)
	if err != nil {
		return domain.Message{}, storageError("load last message", err)
	}
	if len(last) == 0 || last[0].Role != domain.MessageRoleUser {
		return domain.Message{}, validationError("no unanswered user message to retry")
	}
	return a.complete(ctx, sess, persona, last[0].ID)
}

// SendMessage is the HTTP entry point for a turn: it resolves the persona,
// finds or creates the caller's session for bookID and runs Converse.
func (a *App) SendMessage(ctx context.Context, caller Caller, bookID, content string) ([]domain.Message, error) {
	if !caller.authenticated() {
		return nil, ErrNotAuthenticated
	}
	if strings.TrimSpace(content) == "" {
		return nil, validationError("content required")
	}
	persona, err := a.Persona(ctx, caller, bookID)
	if err != nil {
		return nil, err
	}
	sess, err := a.GetOrCreateSession(ctx, caller, bookID)
	if err != nil {
		return nil, err
	}
	return a.Converse(ctx, sess.ID, content, persona)
}

// RetryLastMessage retries the completion for the caller's session on bookID.
func (a *App) RetryLastMessage(ctx context.Context, caller Caller, bookID string) (domain.Message, error) {
	sess, err := a.FindSession(ctx, caller, bookID)
	if err != nil {
		return domain.Message{}, err
	}
	persona, err := a.Persona(ctx, caller, bookID)
	if err != nil {
		return domain.Message{}, err
	}
	return a.RetryCompletion(ctx, sess.ID, persona)
}

func (a *App) complete(ctx context.Context, sess domain.Session, persona, userMessageID string) (domain.Message, error) {
	log := util.LoggerFromContext(ctx).With("session_id", sess.ID, "provider", a.provider)
	prompt, err := a.BuildContext(ctx, sess.ID, persona)
	if err != nil {
		return domain.Message{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, a.completionTimeout)
	start := time.Now()
	text, err := a.generator.Chat(callCtx, prompt, ai.Options{MaxTokens: a.maxResponseTokens})
	cancel()
	completionDuration.WithLabelValues(a.provider).Observe(time.Since(start).Seconds())
	if err != nil {
		outcome := outcomeError
		if errors.Is(err, ai.ErrEmptyCompletion) {
			outcome = outcomeEmpty
		}
		completionsTotal.WithLabelValues(a.provider, outcome).Inc()
		log.Warn("completion failed", "err", err, "prompt_messages", len(prompt))
		return domain.Message{}, fmt.Errorf("%w: %w", ErrCompletionFailed, err)
	}
	// Blank replies are not stored; the turn is reported as failed.
	text = strings.TrimSpace(text)
	if text == "" {
		completionsTotal.WithLabelValues(a.provider, outcomeEmpty).Inc()
		log.Warn("completion empty", "prompt_messages", len(prompt))
		return domain.Message{}, fmt.Errorf("%w: %w", ErrCompletionFailed, ai.ErrEmptyCompletion)
	}
	completionsTotal.WithLabelValues(a.provider, outcomeOK).Inc()

	meta := map[string]string{"provider": a.provider}
	if a.model != "" {
		meta["model"] = a.model
	}
	reply, err := a.appendMessage(ctx, sess.ID, domain.MessageRoleAssistant, text, meta)
	if err != nil {
		return domain.Message{}, err
	}
	if err := a.store.TouchSession(ctx, sess.ID, reply.CreatedAt); err != nil {
		log.Warn("touch session failed", "err", err)
	}

	ids := []string{reply.ID}
	if userMessageID != "" {
		ids = []string{userMessageID, reply.ID}
	}
	a.publish(ctx, events.Event{
		Type:       events.TypeTurnCompleted,
		SessionID:  sess.ID,
		UserID:     sess.UserID,
		BookID:     sess.BookID,
		MessageIDs: ids,
		OccurredAt: reply.CreatedAt,
	})
	return reply, nil
}
