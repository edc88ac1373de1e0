package http

import (
	"encoding/json"
	"net/http"

	"github.com/goatbytes/consoul/internal/consoullog"
	"github.com/goatbytes/consoul/internal/consoulerr"
	"github.com/goatbytes/consoul/internal/webhooks"
)

type webhookRequest struct {
	URL      string              `json:"url"`
	Events   []webhooks.EventType `json:"events"`
	Secret   string              `json:"secret"`
	Metadata map[string]string   `json:"metadata,omitempty"`
}

type webhookPatchRequest struct {
	URL      *string              `json:"url,omitempty"`
	Events   []webhooks.EventType `json:"events,omitempty"`
	Secret   *string              `json:"secret,omitempty"`
	Enabled  *bool                `json:"enabled,omitempty"`
	Metadata map[string]string    `json:"metadata,omitempty"`
}

func (s *Server) handleWebhookCreate(w http.ResponseWriter, r *http.Request) {
	correlationID := consoullog.CorrelationID(r.Context())
	if s.config.Webhooks == nil {
		writeError(w, correlationID, consoulerr.New(consoulerr.KindValidation, "webhooks are not enabled"))
		return
	}

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, correlationID, consoulerr.Wrap(consoulerr.KindValidation, "invalid JSON body", err))
		return
	}

	hook, err := s.config.Webhooks.Register(r.Context(), req.URL, req.Events, req.Secret, req.Metadata)
	if err != nil {
		writeError(w, correlationID, consoulerr.Wrap(consoulerr.KindValidation, err.Error(), err))
		return
	}
	writeJSON(w, http.StatusCreated, hook)
}

func (s *Server) handleWebhookList(w http.ResponseWriter, r *http.Request) {
	correlationID := consoullog.CorrelationID(r.Context())
	if s.config.Webhooks == nil {
		writeJSON(w, http.StatusOK, []*webhooks.Webhook{})
		return
	}
	hooks, err := s.config.Webhooks.List(r.Context())
	if err != nil {
		writeError(w, correlationID, consoulerr.Wrap(consoulerr.KindStorage, "listing webhooks", err))
		return
	}
	writeJSON(w, http.StatusOK, hooks)
}

func (s *Server) handleWebhookGet(w http.ResponseWriter, r *http.Request) {
	correlationID := consoullog.CorrelationID(r.Context())
	if s.config.Webhooks == nil {
		writeError(w, correlationID, consoulerr.New(consoulerr.KindValidation, "webhooks are not enabled"))
		return
	}
	hook, err := s.config.Webhooks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, correlationID, consoulerr.Wrap(consoulerr.KindStorage, "loading webhook", err))
		return
	}
	if hook == nil {
		writeError(w, correlationID, consoulerr.New(consoulerr.KindValidation, "webhook not found"))
		return
	}
	writeJSON(w, http.StatusOK, hook)
}

func (s *Server) handleWebhookPatch(w http.ResponseWriter, r *http.Request) {
	correlationID := consoullog.CorrelationID(r.Context())
	if s.config.Webhooks == nil {
		writeError(w, correlationID, consoulerr.New(consoulerr.KindValidation, "webhooks are not enabled"))
		return
	}

	var req webhookPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, correlationID, consoulerr.Wrap(consoulerr.KindValidation, "invalid JSON body", err))
		return
	}

	hook, err := s.config.Webhooks.Update(r.Context(), r.PathValue("id"), webhooks.Patch{
		URL:      req.URL,
		Events:   req.Events,
		Secret:   req.Secret,
		Enabled:  req.Enabled,
		Metadata: req.Metadata,
	})
	if err != nil {
		writeError(w, correlationID, consoulerr.Wrap(consoulerr.KindValidation, err.Error(), err))
		return
	}
	writeJSON(w, http.StatusOK, hook)
}

func (s *Server) handleWebhookDelete(w http.ResponseWriter, r *http.Request) {
	correlationID := consoullog.CorrelationID(r.Context())
	if s.config.Webhooks == nil {
		writeError(w, correlationID, consoulerr.New(consoulerr.KindValidation, "webhooks are not enabled"))
		return
	}
	if err := s.config.Webhooks.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, correlationID, consoulerr.Wrap(consoulerr.KindStorage, "deleting webhook", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
