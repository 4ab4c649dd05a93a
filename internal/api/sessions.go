package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/peterje/rootrepl/internal/backend"
	"github.com/peterje/rootrepl/internal/logging"
	"github.com/peterje/rootrepl/internal/models"
	"github.com/peterje/rootrepl/internal/repl"
)

// HistoryLister is the read side of the history store.
type HistoryLister interface {
	List(ctx context.Context, session string, limit int) ([]models.Evaluation, error)
}

type SessionsHandler struct {
	repls   map[backend.ID]*repl.REPL
	def     backend.ID
	history HistoryLister
	log     *logging.Logger
}

// NewSessionsHandler serves sessions on every given REPL. def is used when a
// create request names no backend. history may be nil.
func NewSessionsHandler(repls []*repl.REPL, def backend.ID, history HistoryLister, log *logging.Logger) *SessionsHandler {
	h := &SessionsHandler{
		repls:   make(map[backend.ID]*repl.REPL, len(repls)),
		def:     def,
		history: history,
		log:     log.With("component", "api"),
	}
	for _, r := range repls {
		h.repls[r.Backend().ID()] = r
	}
	return h
}

// Routes mounts the session endpoints on r.
func (h *SessionsHandler) Routes(r chi.Router) {
	r.Get("/", h.HandleList)
	r.Post("/", h.HandleCreate)
	r.Route("/{name}", func(r chi.Router) {
		r.Delete("/", h.HandleDelete)
		r.Post("/send", h.HandleSend)
		r.Post("/eval", h.HandleEval)
		r.Get("/output", h.HandleOutput)
		r.Get("/history", h.HandleHistory)
	})
}

// lookup finds the REPL whose backend hosts name.
func (h *SessionsHandler) lookup(name string) (*repl.REPL, error) {
	for _, r := range h.repls {
		if r.Backend().Has(name) {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", backend.ErrNoSession, name)
}

// Count returns the number of live sessions across backends.
func (h *SessionsHandler) Count() int {
	n := 0
	for _, r := range h.repls {
		names, err := r.List()
		if err == nil {
			n += len(names)
		}
	}
	return n
}

func (h *SessionsHandler) HandleList(w http.ResponseWriter, _ *http.Request) {
	sessions := []models.Session{}
	for id, r := range h.repls {
		names, err := r.List()
		if err != nil {
			writeErr(w, err)
			return
		}
		for _, name := range names {
			sessions = append(sessions, models.Session{Name: name, Backend: string(id), Status: "running"})
		}
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Name < sessions[j].Name })
	WriteJSON(w, http.StatusOK, sessions)
}

func (h *SessionsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name    string `json:"name"`
		Backend string `json:"backend"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if body.Backend == "" {
		body.Backend = string(h.def)
	}
	id, err := backend.ParseID(body.Backend)
	if err != nil {
		writeErr(w, err)
		return
	}
	rp, ok := h.repls[id]
	if !ok {
		writeErr(w, fmt.Errorf("%w: %q is not configured", backend.ErrUnknownBackend, id))
		return
	}
	if body.Name == "" {
		body.Name = uuid.New().String()[:8]
	}
	if err := repl.ValidateName(body.Name); err != nil {
		writeErr(w, err)
		return
	}
	if _, err := h.lookup(body.Name); err == nil {
		writeErr(w, fmt.Errorf("%w: %s", backend.ErrSessionExists, body.Name))
		return
	}

	pid, err := rp.Start(r.Context(), body.Name)
	if err != nil {
		h.log.Error("start session", "session", body.Name, "error", err)
		writeErr(w, err)
		return
	}

	sess := models.Session{Name: body.Name, Backend: string(id), Status: "running"}
	if pid > 0 {
		sess.PID = &pid
	}
	WriteJSON(w, http.StatusCreated, sess)
}

func (h *SessionsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	rp, err := h.lookup(name)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := rp.Stop(name); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type codeRequest struct {
	Code string `json:"code"`
}

func decodeCode(w http.ResponseWriter, r *http.Request) (string, bool) {
	var body codeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON")
		return "", false
	}
	return body.Code, true
}

func (h *SessionsHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	code, ok := decodeCode(w, r)
	if !ok {
		return
	}
	rp, err := h.lookup(name)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := rp.Send(name, code); err != nil {
		writeErr(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (h *SessionsHandler) HandleEval(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	code, ok := decodeCode(w, r)
	if !ok {
		return
	}
	rp, err := h.lookup(name)
	if err != nil {
		writeErr(w, err)
		return
	}
	out, err := rp.Eval(r.Context(), name, code)
	if err != nil {
		writeErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"output": out})
}

func (h *SessionsHandler) HandleOutput(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	rp, err := h.lookup(name)
	if err != nil {
		writeErr(w, err)
		return
	}
	out, err := rp.LastOutput(name)
	if err != nil {
		writeErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"output": out})
}

// HandleHistory lists evaluations for a session. The session need not be
// live.
func (h *SessionsHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		WriteError(w, http.StatusNotFound, "history is disabled")
		return
	}
	name := chi.URLParam(r, "name")
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	evals, err := h.history.List(r.Context(), name, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, evals)
}
