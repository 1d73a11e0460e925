// Package api serves the local HTTP API the analyst UI drives: one case
// per session, stage endpoints, the overlay and a websocket view feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gonkalabs/kpg-client/internal/logging"
	"github.com/gonkalabs/kpg-client/internal/sanitize"
	"github.com/gonkalabs/kpg-client/internal/workflow"
)

// Handler implements all HTTP endpoints.
type Handler struct {
	orch     *workflow.Orchestrator
	registry *workflow.Registry
	hub      *Hub
	origins  []string
	upgrader websocket.Upgrader
	log      *logging.Logger
}

// New creates a Handler. The hub should also be registered as the
// orchestrator's observer so stage progress reaches websockets.
func New(orch *workflow.Orchestrator, registry *workflow.Registry, hub *Hub, allowedOrigins []string, log *logging.Logger) *Handler {
	h := &Handler{
		orch:     orch,
		registry: registry,
		hub:      hub,
		origins:  allowedOrigins,
		log:      log.WithComponent("api"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Routes returns the router with CORS applied.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)
	r.Post("/cases", h.createCase)
	r.Route("/cases/{id}", func(rt chi.Router) {
		rt.Get("/", h.withSession(h.getCase))
		rt.Delete("/", h.withSession(h.deleteCase))
		rt.Put("/text", h.withSession(h.setText))
		rt.Get("/overlay", h.withSession(h.overlay))
		rt.Post("/analyse", h.withSession(h.stage(h.orch.Analyse)))
		rt.Post("/tokenise", h.withSession(h.stage(h.orch.Tokenise)))
		rt.Post("/search", h.withSession(h.stage(h.orch.SearchAndSummarise)))
		rt.Post("/reset", h.withSession(h.reset))
		rt.Get("/ws", h.withSession(h.watch))
	})
	return r
}

// ---------- endpoints ----------

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "cases": h.registry.Len()})
}

type textBody struct {
	Text string `json:"text"`
}

func (h *Handler) createCase(w http.ResponseWriter, r *http.Request) {
	var body textBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeErr(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	s := h.orch.NewSession()
	if err := h.orch.SetText(s, body.Text); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.registry.Add(s)
	h.log.Info("case opened", zap.String("case_id", s.CaseID()))
	writeJSON(w, http.StatusCreated, s.View())
}

func (h *Handler) getCase(w http.ResponseWriter, _ *http.Request, s *workflow.Session) {
	writeJSON(w, http.StatusOK, s.View())
}

func (h *Handler) deleteCase(w http.ResponseWriter, _ *http.Request, s *workflow.Session) {
	if err := h.orch.Close(s); err != nil {
		h.writeStageErr(w, err, s)
		return
	}
	h.registry.Remove(s.CaseID())
	h.hub.CloseCase(s.CaseID())
	h.log.Info("case closed", zap.String("case_id", s.CaseID()))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setText(w http.ResponseWriter, r *http.Request, s *workflow.Session) {
	var body textBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := h.orch.SetText(s, body.Text); err != nil {
		h.writeStageErr(w, err, s)
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

func (h *Handler) overlay(w http.ResponseWriter, _ *http.Request, s *workflow.Session) {
	v := s.View()
	writeJSON(w, http.StatusOK, map[string][]sanitize.Run{"runs": v.Overlay})
}

func (h *Handler) reset(w http.ResponseWriter, _ *http.Request, s *workflow.Session) {
	if err := h.orch.Reset(s); err != nil {
		h.writeStageErr(w, err, s)
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

func (h *Handler) watch(w http.ResponseWriter, r *http.Request, s *workflow.Session) {
	h.hub.serve(w, r, &h.upgrader, s)
}

// stage adapts an orchestrator stage to an endpoint. The stage runs on a
// context detached from the request so a closed browser tab cannot cut a
// collaborator or audit call short; the transport timeout still bounds it.
func (h *Handler) stage(run func(context.Context, *workflow.Session) error) sessionHandler {
	return func(w http.ResponseWriter, r *http.Request, s *workflow.Session) {
		if err := run(context.WithoutCancel(r.Context()), s); err != nil {
			h.writeStageErr(w, err, s)
			return
		}
		writeJSON(w, http.StatusOK, s.View())
	}
}

// ---------- helpers ----------

type sessionHandler func(http.ResponseWriter, *http.Request, *workflow.Session)

func (h *Handler) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		s, ok := h.registry.Get(id)
		if !ok {
			writeErr(w, http.StatusNotFound, "unknown case "+id)
			return
		}
		next(w, r, s)
	}
}

type stageErrBody struct {
	Error string        `json:"error"`
	Stage string        `json:"stage,omitempty"`
	View  workflow.View `json:"view"`
}

// writeStageErr maps workflow errors to statuses: 409 busy, 412 failed
// precondition, 502 collaborator failure.
func (h *Handler) writeStageErr(w http.ResponseWriter, err error, s *workflow.Session) {
	status := http.StatusInternalServerError
	body := stageErrBody{Error: err.Error()}

	var pe *workflow.PreconditionError
	var se *workflow.StageError
	switch {
	case errors.Is(err, workflow.ErrBusy):
		status = http.StatusConflict
	case errors.As(err, &pe):
		status = http.StatusPreconditionFailed
		body.Stage = string(pe.Step)
	case errors.As(err, &se):
		status = http.StatusBadGateway
		body.Stage = string(se.Step)
	}
	body.View = s.View()
	writeJSON(w, status, body)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.origins, "*") {
		return true
	}
	return slices.Contains(h.origins, origin)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
