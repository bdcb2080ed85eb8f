package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/harrisonrobin/taskbot/pkg/auth"
	"github.com/harrisonrobin/taskbot/pkg/observability"
)

// Authorizer finishes an OAuth flow from its redirect.
type Authorizer interface {
	CompleteByState(ctx context.Context, state, code string) (string, error)
}

type Server struct {
	creds    Authorizer
	metrics  *observability.Metrics
	onLinked func(ctx context.Context, chatID string)
}

// New builds the HTTP surface. onLinked is called with the chat whose flow the
// redirect completed; it may be nil.
func New(creds Authorizer, metrics *observability.Metrics, onLinked func(ctx context.Context, chatID string)) *Server {
	return &Server{creds: creds, metrics: metrics, onLinked: onLinked}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})
	r.Get("/oauth2callback", s.handleOAuthCallback)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		http.Error(w, fmt.Sprintf("Authorization was not granted (%s). Run /calendar_auth again in the chat.", reason), http.StatusBadRequest)
		return
	}
	code := strings.TrimSpace(q.Get("code"))
	if code == "" {
		http.Error(w, "Authorization code not found", http.StatusBadRequest)
		return
	}

	chatID, err := s.creds.CompleteByState(r.Context(), q.Get("state"), code)
	if errors.Is(err, auth.ErrNoFlow) {
		http.Error(w, "This authorization link is unknown or expired. Run /calendar_auth again in the chat.", http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Printf("OAuth callback for chat %s failed: %v", chatID, err)
		http.Error(w, "Google rejected the authorization code. Run /calendar_auth again in the chat.", http.StatusBadGateway)
		return
	}

	if s.onLinked != nil {
		s.onLinked(r.Context(), chatID)
	}
	fmt.Fprintf(w, "Authentication successful! You can close this window.")
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
