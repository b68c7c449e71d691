package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bookchat/internal/usertoken"
	"bookchat/internal/util"
	"bookchat/pkg/domain"
	"bookchat/services/chat/internal/app"
	"bookchat/services/chat/internal/authclient"
)

const maxBodyBytes = 1 << 20

// TokenVerifier checks bearer tokens locally against the auth service keys.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (usertoken.Identity, error)
}

// UserDirectory resolves the full user profile for a token.
type UserDirectory interface {
	Me(ctx context.Context, token string) (domain.User, error)
}

// RateLimiter gates completion turns per caller.
type RateLimiter interface {
	Allow(ctx context.Context, key string) bool
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	TokenVerifier  TokenVerifier
	Users          UserDirectory
	TurnLimiter    RateLimiter
	TrustedProxies *util.TrustedProxies
}

// Server exposes HTTP endpoints for the chat service.
type Server struct {
	app           *app.App
	tokenVerifier TokenVerifier
	users         UserDirectory
	turnLimiter   RateLimiter
	trusted       *util.TrustedProxies
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app required")
	}
	if cfg.TokenVerifier == nil && cfg.Users == nil {
		return nil, errors.New("server: token verifier or auth client required")
	}
	s := &Server{
		app:           cfg.App,
		tokenVerifier: cfg.TokenVerifier,
		users:         cfg.Users,
		turnLimiter:   cfg.TurnLimiter,
		trusted:       cfg.TrustedProxies,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(
		util.WithRequestLog("chat", s.trusted,
			util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	s.mux.Handle("GET /chats/{bookId}", s.withUser(s.handleGetSession))
	s.mux.Handle("POST /chats/{bookId}", s.withUser(s.handleCreateSession))
	s.mux.Handle("GET /chats/{bookId}/messages", s.withUser(s.handleListMessages))
	s.mux.Handle("POST /chats/{bookId}/messages", s.withUser(s.handleSendMessage))
	s.mux.Handle("POST /chats/{bookId}/messages/retry", s.withUser(s.handleRetry))
	s.mux.Handle("GET /chats/{bookId}/insights", s.withUser(s.handleListInsights))
	s.mux.Handle("POST /chats/{bookId}/insights", s.withUser(s.handleAppendInsight))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type callerHandler func(http.ResponseWriter, *http.Request, app.Caller)

// withUser resolves the caller once per request and hands it to next.
func (s *Server) withUser(next callerHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := s.authorize(r)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		logger := util.LoggerFromContext(r.Context()).With("user_id", caller.User.ID)
		r = r.WithContext(util.ContextWithLogger(r.Context(), logger))
		next(w, r, caller)
	})
}

func (s *Server) authorize(r *http.Request) (app.Caller, error) {
	ctx := r.Context()
	logger := util.LoggerFromContext(ctx)
	token, ok := bearerToken(r)
	if !ok {
		return app.Caller{}, app.ErrNotAuthenticated
	}
	var user domain.User
	if s.tokenVerifier != nil {
		id, err := s.tokenVerifier.Verify(ctx, token)
		if err != nil {
			logger.Warn("token verify failed", "err", err)
			return app.Caller{}, app.ErrNotAuthenticated
		}
		user = domain.User{ID: id.UserID, Email: id.Email, Role: domain.UserRole(id.Role), Status: domain.StatusActive}
	}
	if s.users != nil {
		me, err := s.users.Me(ctx, token)
		if err != nil {
			var apiErr *authclient.APIError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusForbidden {
				return app.Caller{}, app.ErrForbidden
			}
			logger.Warn("auth me failed", "err", err)
			return app.Caller{}, app.ErrNotAuthenticated
		}
		if user.ID != "" && me.ID != user.ID {
			logger.Warn("token subject mismatch", "subject", user.ID, "me", me.ID)
			return app.Caller{}, app.ErrNotAuthenticated
		}
		user = me
	}
	if user.Role == "" {
		user.Role = domain.RoleUser
	}
	return app.Caller{User: user, Token: token}, nil
}

func (s *Server) allowTurn(r *http.Request, caller app.Caller) bool {
	if s.turnLimiter == nil {
		return true
	}
	return s.turnLimiter.Allow(r.Context(), "turn:"+caller.User.ID)
}

type sessionResponse struct {
	SessionID string         `json:"sessionId"`
	Session   domain.Session `json:"session"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, caller app.Caller) {
	sess, err := s.app.FindSession(r.Context(), caller, r.PathValue("bookId"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{SessionID: sess.ID, Session: sess})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request, caller app.Caller) {
	sess, err := s.app.GetOrCreateSession(r.Context(), caller, r.PathValue("bookId"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{SessionID: sess.ID, Session: sess})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request, caller app.Caller) {
	items, err := s.app.ListChatMessages(r.Context(), caller, r.PathValue("bookId"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

type messageRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, caller app.Caller) {
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "content is required")
		return
	}
	if !s.allowTurn(r, caller) {
		writeAppError(w, r, app.ErrRateLimited)
		return
	}
	items, err := s.app.SendMessage(r.Context(), caller, r.PathValue("bookId"), req.Content)
	if err != nil {
		if errors.Is(err, app.ErrCompletionFailed) && len(items) > 0 {
			writeCompletionFailure(w, r, err, items[0])
			return
		}
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request, caller app.Caller) {
	if !s.allowTurn(r, caller) {
		writeAppError(w, r, app.ErrRateLimited)
		return
	}
	reply, err := s.app.RetryLastMessage(r.Context(), caller, r.PathValue("bookId"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleListInsights(w http.ResponseWriter, r *http.Request, caller app.Caller) {
	items, err := s.app.ListInsights(r.Context(), caller, r.URL.Query().Get("userId"), r.PathValue("bookId"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

type insightRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (s *Server) handleAppendInsight(w http.ResponseWriter, r *http.Request, caller app.Caller) {
	var req insightRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	in, err := s.app.AppendInsight(r.Context(), caller, r.URL.Query().Get("userId"), r.PathValue("bookId"), req.Title, req.Content)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, in)
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		return errors.Join(app.ErrValidation, errors.New("invalid JSON body"))
	}
	return nil
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
