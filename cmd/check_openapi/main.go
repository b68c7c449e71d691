package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type openAPIDoc struct {
	Paths      map[string]map[string]yaml.Node `yaml:"paths"`
	Components struct {
		Schemas map[string]schema `yaml:"schemas"`
	} `yaml:"components"`
}

type schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Properties map[string]schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Items      *schema           `yaml:"items"`
}

type route struct {
	Method string
	Path   string
}

// chatRoutes mirrors the handlers registered by services/chat/internal/server.
var chatRoutes = []route{
	{"get", "/healthz"},
	{"get", "/chats/{bookId}"},
	{"post", "/chats/{bookId}"},
	{"get", "/chats/{bookId}/messages"},
	{"post", "/chats/{bookId}/messages"},
	{"post", "/chats/{bookId}/messages/retry"},
	{"get", "/chats/{bookId}/insights"},
	{"post", "/chats/{bookId}/insights"},
}

var requiredFields = map[string][]string{
	"ErrorResponse": {"error", "code"},
	"Session":       {"id", "userId", "bookId", "createdAt", "updatedAt"},
	"Message":       {"id", "sessionId", "role", "content", "createdAt"},
	"Insight":       {"id", "userId", "bookId", "title", "content", "createdAt"},
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <chat-openapi.yaml>\n", os.Args[0])
		os.Exit(2)
	}
	doc, err := loadDoc(os.Args[1])
	if err != nil {
		exitErr(err)
	}
	if err := check(doc); err != nil {
		exitErr(err)
	}
	fmt.Println("OpenAPI consistency check passed.")
}

func check(doc openAPIDoc) error {
	var errs []error
	errs = append(errs, checkRoutes(doc)...)
	names := make([]string, 0, len(requiredFields))
	for name := range requiredFields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s, err := getSchema(doc, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := validateObject(name, s, requiredFields[name]); err != nil {
			errs = append(errs, err)
		}
	}
	if errResp, err := getSchema(doc, "ErrorResponse"); err == nil {
		if err := validateErrorResponse(errResp); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func loadDoc(path string) (openAPIDoc, error) {
	var doc openAPIDoc
	raw, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func checkRoutes(doc openAPIDoc) []error {
	var errs []error
	for _, r := range chatRoutes {
		ops, ok := doc.Paths[r.Path]
		if !ok {
			errs = append(errs, fmt.Errorf("path %s is not documented", r.Path))
			continue
		}
		if _, ok := ops[r.Method]; !ok {
			errs = append(errs, fmt.Errorf("%s %s is not documented", strings.ToUpper(r.Method), r.Path))
		}
	}
	return errs
}

func getSchema(doc openAPIDoc, name string) (schema, error) {
	if doc.Components.Schemas == nil {
		return schema{}, errors.New("components.schemas missing")
	}
	s, ok := doc.Components.Schemas[name]
	if !ok {
		return schema{}, fmt.Errorf("schema %q missing", name)
	}
	return s, nil
}

func validateObject(name string, s schema, fields []string) error {
	if s.Type != "object" {
		return fmt.Errorf("%s must be object", name)
	}
	required := makeSet(s.Required)
	for _, field := range fields {
		if !required[field] {
			return fmt.Errorf("%s.required must include %q", name, field)
		}
		if _, ok := s.Properties[field]; !ok {
			return fmt.Errorf("%s.%s is required but not declared", name, field)
		}
	}
	return nil
}

func validateErrorResponse(s schema) error {
	for _, field := range []string{"error", "code"} {
		if prop := s.Properties[field]; prop.Type != "string" {
			return fmt.Errorf("ErrorResponse.%s must be string", field)
		}
	}
	userMsg, ok := s.Properties["userMessage"]
	if !ok {
		return errors.New("ErrorResponse.userMessage must be declared")
	}
	if strings.TrimSpace(userMsg.Ref) != "#/components/schemas/Message" {
		return errors.New("ErrorResponse.userMessage must reference Message")
	}
	return nil
}

func makeSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out[item] = true
	}
	return out
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
