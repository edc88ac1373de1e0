// Package http implements the C8 HTTP adapter over the Conversation
// Service: POST /chat, GET /health, and the optional webhook CRUD
// surface. GET /metrics is not served here. Grounded on
// internal/web/web.go's Handler (plain net/http.ServeMux, a Config
// struct of optional collaborators, JSON responses written by hand
// rather than through a framework).
package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/goatbytes/consoul/internal/breaker"
	"github.com/goatbytes/consoul/internal/consoulerr"
	"github.com/goatbytes/consoul/internal/consoullog"
	"github.com/goatbytes/consoul/internal/conversation"
	"github.com/goatbytes/consoul/internal/models"
	"github.com/goatbytes/consoul/internal/ratelimit"
	"github.com/goatbytes/consoul/internal/sessions"
	"github.com/goatbytes/consoul/internal/webhooks"
)

// Config carries the Server's collaborators and auth settings.
type Config struct {
	Conversation *conversation.Service
	Sessions     *sessions.ResilientStore
	Breakers     *breaker.Registry
	Webhooks     *webhooks.Dispatcher
	RateLimiter  *ratelimit.Limiter
	Logger       *consoullog.Logger

	// APIKeys, if non-empty, requires every request to present one of
	// these values via X-API-Key (HTTP) or ?api_key= (WebSocket, parsed
	// by the caller using APIKeys directly).
	APIKeys []string

	// ActiveWebSockets is polled by /health; supplied by the WebSocket
	// adapter sharing this process.
	ActiveWebSockets func() int
}

// Server is the C8 HTTP adapter.
type Server struct {
	config Config
	mux    *http.ServeMux
}

// NewServer builds a Server with all routes registered.
func NewServer(config Config) *Server {
	if config.Logger == nil {
		config.Logger = consoullog.New(consoullog.Config{})
	}
	s := &Server{config: config, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /chat", s.withMiddleware(s.handleChat))
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST /webhooks", s.withMiddleware(s.handleWebhookCreate))
	s.mux.HandleFunc("GET /webhooks", s.withMiddleware(s.handleWebhookList))
	s.mux.HandleFunc("GET /webhooks/{id}", s.withMiddleware(s.handleWebhookGet))
	s.mux.HandleFunc("PATCH /webhooks/{id}", s.withMiddleware(s.handleWebhookPatch))
	s.mux.HandleFunc("DELETE /webhooks/{id}", s.withMiddleware(s.handleWebhookDelete))
}

// withMiddleware applies correlation-ID propagation, API-key auth, and
// rate limiting, in that order, ahead of the handler.
func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = "req-" + randomHex(6)
		}
		ctx := consoullog.WithCorrelationID(r.Context(), correlationID)
		w.Header().Set("X-Correlation-ID", correlationID)

		if !s.authenticate(r) {
			writeError(w, correlationID, consoulerr.New(consoulerr.KindAuth, "missing or invalid API key"))
			return
		}

		if s.config.RateLimiter != nil {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.RemoteAddr
			}
			if !s.config.RateLimiter.Allow(key) {
				wait := s.config.RateLimiter.WaitTime(key)
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(wait.Seconds()+1)))
				writeError(w, correlationID, consoulerr.New(consoulerr.KindRateLimited, "rate limit exceeded"))
				return
			}
		}

		next(w, r.WithContext(ctx))
	}
}

func (s *Server) authenticate(r *http.Request) bool {
	if len(s.config.APIKeys) == 0 {
		return true
	}
	got := r.Header.Get("X-API-Key")
	for _, k := range s.config.APIKeys {
		if constantTimeEqual(got, k) {
			return true
		}
	}
	return false
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := 0; i < len(a); i++ {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

// chatRequest is POST /chat's request body.
type chatRequest struct {
	SessionID   string              `json:"session_id"`
	Message     string              `json:"message"`
	Model       string              `json:"model,omitempty"`
	Temperature *float64            `json:"temperature,omitempty"`
	Tools       []string            `json:"tools,omitempty"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

type usagePayload struct {
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	EstimatedCost  float64 `json:"estimated_cost"`
}

type chatResponse struct {
	SessionID string       `json:"session_id"`
	Response  string       `json:"response"`
	Model     string       `json:"model"`
	Usage     usagePayload `json:"usage"`
	Timestamp time.Time    `json:"timestamp"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	correlationID := consoullog.CorrelationID(r.Context())

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, correlationID, consoulerr.Wrap(consoulerr.KindValidation, "invalid JSON body", err))
		return
	}
	if err := validateChatRequest(req); err != nil {
		writeError(w, correlationID, err)
		return
	}

	events, err := s.config.Conversation.SendMessage(r.Context(), req.SessionID, req.Message, req.Attachments, nil)
	if err != nil {
		writeError(w, correlationID, err)
		return
	}

	var responseText string
	var usage usagePayload
	var session *models.Session
	var turnErr error

	for ev := range events {
		switch ev.Kind {
		case conversation.EventToken:
			responseText += ev.Text
		case conversation.EventDone:
			session = ev.Session
			if ev.Usage != nil {
				usage.InputTokens = ev.Usage.InputTokens
				usage.OutputTokens = ev.Usage.OutputTokens
				usage.TotalTokens = ev.Usage.InputTokens + ev.Usage.OutputTokens
				usage.EstimatedCost = estimateCost(session.Model, ev.Usage.InputTokens, ev.Usage.OutputTokens)
			}
		case conversation.EventError:
			turnErr = ev.Err
		}
	}

	if turnErr != nil {
		writeError(w, correlationID, turnErr)
		return
	}

	model := req.Model
	if session != nil {
		model = session.Model
	}
	writeJSON(w, http.StatusOK, chatResponse{
		SessionID: req.SessionID,
		Response:  responseText,
		Model:     model,
		Usage:     usage,
		Timestamp: time.Now(),
	})
}

func validateChatRequest(req chatRequest) error {
	if len(req.SessionID) < 1 || len(req.SessionID) > 128 {
		return consoulerr.New(consoulerr.KindValidation, "session_id must be 1..128 characters")
	}
	if len(req.Message) < 1 || len(req.Message) > 32768 {
		return consoulerr.New(consoulerr.KindValidation, "message must be 1..32768 characters")
	}
	return nil
}

func estimateCost(modelID string, inputTokens, outputTokens int) float64 {
	m, ok := models.Get(modelID)
	if !ok {
		return 0
	}
	return float64(inputTokens)/1_000_000*m.InputPrice + float64(outputTokens)/1_000_000*m.OutputPrice
}

type healthResponse struct {
	Status           string            `json:"status"`
	RedisMode        string            `json:"redis_mode"`
	ActiveWebSockets int               `json:"active_websockets"`
	Breakers         map[string]string `json:"breakers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Breakers: make(map[string]string),
	}
	if s.config.Sessions != nil {
		mode := s.config.Sessions.Mode()
		resp.RedisMode = string(mode)
		if mode == sessions.ModeDegraded {
			resp.Status = "degraded"
		}
	}
	if s.config.Breakers != nil {
		for name, state := range s.config.Breakers.States() {
			resp.Breakers[name] = state.String()
		}
	}
	if s.config.ActiveWebSockets != nil {
		resp.ActiveWebSockets = s.config.ActiveWebSockets()
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Details   string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, correlationID string, err error) {
	kind := consoulerr.KindOf(err)
	writeJSON(w, kind.HTTPStatus(), errorResponse{
		Error:     string(kind),
		Message:   err.Error(),
		Timestamp: time.Now(),
		Details:   correlationID,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
