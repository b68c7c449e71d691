package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestChatOpenAPIDocumentPasses(t *testing.T) {
	doc, err := loadDoc(filepath.Join("..", "..", "services", "chat", "openapi.yaml"))
	if err != nil {
		t.Fatalf("load doc: %v", err)
	}
	if err := check(doc); err != nil {
		t.Fatalf("check: %v", err)
	}
}

func TestCheckReportsMissingRouteAndField(t *testing.T) {
	content := `
paths:
  /healthz:
    get: {}
components:
  schemas:
    ErrorResponse:
      type: object
      required: [error]
      properties:
        error:
          type: string
`
	path := filepath.Join(t.TempDir(), "openapi.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write doc: %v", err)
	}
	doc, err := loadDoc(path)
	if err != nil {
		t.Fatalf("load doc: %v", err)
	}
	err = check(doc)
	if err == nil {
		t.Fatalf("expected check to fail")
	}
	for _, want := range []string{
		"path /chats/{bookId}/messages is not documented",
		`ErrorResponse.required must include "code"`,
		`schema "Message" missing`,
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err.Error(), want)
		}
	}
}
