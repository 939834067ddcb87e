// internal/gateway/server.go
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sachiniyer/meal-finder/internal/state"
	"github.com/sachiniyer/meal-finder/internal/types"
)

// Server exposes the gateway over HTTP: the websocket endpoint plus a
// small read-only REST surface for health checks and debugging.
type Server struct {
	gateway  *Gateway
	apiToken string
	logger   *slog.Logger
	httpSrv  *http.Server
	upgrader websocket.Upgrader
}

// NewServer creates the HTTP server for the gateway.
func NewServer(listen string, gateway *Gateway, apiToken string, logger *slog.Logger) *Server {
	s := &Server{
		gateway:  gateway,
		apiToken: apiToken,
		logger:   logger.With("component", "server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The API token is the access control, not the origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /api/conversations", s.requireToken(s.handleListConversations))
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.requireToken(s.handleMessages))

	s.httpSrv = &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) tokenValid(token string) bool {
	if s.apiToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.apiToken)) == 1
}

func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if !s.tokenValid(token) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWS upgrades the connection after validating the token query
// parameter, then hands the socket to the gateway.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.tokenValid(r.URL.Query().Get("token")) {
		s.logger.Warn("rejected connection with invalid token", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	s.gateway.HandleConn(r.Context(), ws)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	chats, err := s.gateway.conversations.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	id := types.ConversationID(r.PathValue("id"))
	conv, err := s.gateway.conversations.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, state.ErrConversationNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chat_id":  id,
		"messages": conv.Messages,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
