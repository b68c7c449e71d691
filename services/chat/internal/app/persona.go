package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"

	"bookchat/pkg/domain"
	"bookchat/services/chat/internal/bookclient"
)

const defaultPersonaTemplate = `You are the book "{{.Title}}"{{if .Author}} by {{.Author}}{{end}}, speaking to a reader in the first person. ` +
	`Answer from the book's own perspective, stay faithful to its content and voice, and say so plainly when something is outside what the book covers. ` +
	`Keep replies conversational and concise.`

const fallbackPersona = "You are a book speaking with its reader. Answer in the book's voice and stay faithful to its content."

func parsePersonaTemplate(text string) (*template.Template, error) {
	if strings.TrimSpace(text) == "" {
		text = defaultPersonaTemplate
	}
	tmpl, err := template.New("persona").Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse persona template: %w", err)
	}
	if err := tmpl.Execute(io.Discard, domain.Book{}); err != nil {
		return nil, fmt.Errorf("persona template: %w", err)
	}
	return tmpl, nil
}

// Persona renders the system instruction for conversations about bookID.
// With a book catalog configured the book must exist and be visible to
// the caller.
func (a *App) Persona(ctx context.Context, caller Caller, bookID string) (string, error) {
	if !caller.authenticated() {
		return "", ErrNotAuthenticated
	}
	book := domain.Book{ID: bookID, Title: bookID}
	if a.books != nil {
		found, err := a.books.GetBook(ctx, caller.Token, bookID)
		if err != nil {
			return "", classifyBookError(err)
		}
		book = found
		if strings.TrimSpace(book.Title) == "" {
			book.Title = bookID
		}
	}
	return a.renderPersona(book)
}

func (a *App) renderPersona(book domain.Book) (string, error) {
	var sb strings.Builder
	if err := a.persona.Execute(&sb, book); err != nil {
		return "", fmt.Errorf("render persona: %w", err)
	}
	return strings.TrimSpace(sb.String()), nil
}

func classifyBookError(err error) error {
	var apiErr *bookclient.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusNotFound:
			return fmt.Errorf("book: %w", ErrNotFound)
		case http.StatusUnauthorized:
			return fmt.Errorf("book: %w", ErrNotAuthenticated)
		case http.StatusForbidden:
			return fmt.Errorf("book: %w", ErrForbidden)
		}
	}
	return storageError("load book", err)
}
