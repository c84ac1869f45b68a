// Package httpapi exposes the subscription store over HTTP: a read-mostly
// admin surface for inspecting versions, plus two write endpoints that
// stand in for the sync client in a sync deployment (declaring
// subscriptions, and driving state transitions as the server bootstraps
// a version).
package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"flexsync/internal/subscriptions"
)

type jsonResponse map[string]any

type errorResponse struct {
	Error string `json:"error"`
}

// Server adapts a SubscriptionStore to HTTP.
type Server struct {
	store *subscriptions.SubscriptionStore
}

func NewServer(store *subscriptions.SubscriptionStore) *Server {
	return &Server{store: store}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/subscriptions/latest", s.handleLatest)
	mux.HandleFunc("/subscriptions/active", s.handleActive)
	mux.HandleFunc("/subscriptions/pending", s.handlePending)
	mux.HandleFunc("/subscriptions/version", s.handleByVersion)
	mux.HandleFunc("/subscriptions/ext_json", s.handleExtJSON)
	mux.HandleFunc("/subscriptions", s.handleDeclare)
	mux.HandleFunc("/subscriptions/state", s.handleUpdateState)
	mux.HandleFunc("/healthz", handleHealthz)
}

type subscriptionView struct {
	ID              string  `json:"id"`
	Name            *string `json:"name,omitempty"`
	ObjectClassName string  `json:"objectClassName"`
	Query           string  `json:"query"`
}

type setView struct {
	Version         int64              `json:"version"`
	State           string             `json:"state"`
	SnapshotVersion int64              `json:"snapshotVersion"`
	ErrorMessage    string             `json:"errorMessage,omitempty"`
	Subscriptions   []subscriptionView `json:"subscriptions"`
}

func toSetView(set *subscriptions.SubscriptionSet) setView {
	view := setView{
		Version:         set.Version(),
		State:           set.State().String(),
		SnapshotVersion: set.SnapshotVersion(),
		ErrorMessage:    set.ErrorMessage(),
		Subscriptions:   make([]subscriptionView, set.Size()),
	}
	for i := 0; i < set.Size(); i++ {
		sub := set.At(i)
		view.Subscriptions[i] = subscriptionView{
			ID:              sub.ID.String(),
			Name:            sub.Name,
			ObjectClassName: sub.ObjectClassName,
			Query:           sub.QueryString,
		}
	}
	return view
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	set, err := s.store.GetLatest(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, toSetView(set))
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	set, err := s.store.GetActive(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, toSetView(set))
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	sets, err := s.store.GetPendingSubscriptions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]setView, len(sets))
	for i, set := range sets {
		views[i] = toSetView(set)
	}
	writeJSON(w, http.StatusOK, jsonResponse{"pending": views})
}

func (s *Server) handleByVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	version, err := parseVersion(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	set, err := s.store.GetByVersion(r.Context(), version)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, toSetView(set))
}

func (s *Server) handleExtJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	version, err := parseVersion(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	set, err := s.store.GetByVersion(r.Context(), version)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(set.ToExtJSON()))
}

type declareRequest struct {
	Subscriptions []struct {
		Name            *string `json:"name"`
		ObjectClassName string  `json:"objectClassName"`
		Query           string  `json:"query"`
	} `json:"subscriptions"`
}

// handleDeclare simulates a sync client replacing its subscription set:
// make a mutable copy of the active set, clear it, insert the requested
// subscriptions, and commit as Pending.
func (s *Server) handleDeclare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var payload declareRequest
	if err := decodeJSON(r, &payload); err != nil {
		log.Printf("declare subscriptions decode error: %v", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	active, err := s.store.GetActive(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	mutable, err := active.MakeMutableCopy(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := mutable.Clear(); err != nil {
		_ = mutable.Rollback()
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	for _, sub := range payload.Subscriptions {
		if sub.Name != nil {
			if _, _, err := mutable.InsertOrAssignNamed(*sub.Name, sub.ObjectClassName, sub.Query); err != nil {
				_ = mutable.Rollback()
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			continue
		}
		if _, _, err := mutable.InsertOrAssignAnonymous(sub.ObjectClassName, sub.Query); err != nil {
			_ = mutable.Rollback()
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}

	committed, err := mutable.Commit(r.Context())
	if err != nil {
		log.Printf("declare subscriptions commit error: %v", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, toSetView(committed))
}

type updateStateRequest struct {
	Version      int64  `json:"version"`
	State        string `json:"state"`
	ErrorMessage string `json:"errorMessage"`
}

// handleUpdateState simulates the sync client driving a version through
// Bootstrapping/Complete/Error as the server processes it.
func (s *Server) handleUpdateState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var payload updateStateRequest
	if err := decodeJSON(r, &payload); err != nil {
		log.Printf("update state decode error: %v", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	newState, err := parseState(payload.State)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	mutable, err := s.store.GetMutableByVersion(r.Context(), payload.Version)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err := mutable.UpdateState(newState, payload.ErrorMessage); err != nil {
		_ = mutable.Rollback()
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	committed, err := mutable.Commit(r.Context())
	if err != nil {
		log.Printf("update state commit error version=%d: %v", payload.Version, err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, toSetView(committed))
}

func parseState(raw string) (subscriptions.State, error) {
	switch raw {
	case "Bootstrapping":
		return subscriptions.StateBootstrapping, nil
	case "Complete":
		return subscriptions.StateComplete, nil
	case "Error":
		return subscriptions.StateError, nil
	default:
		return 0, errors.New("state must be one of Bootstrapping, Complete, Error, got " + raw)
	}
}

func parseVersion(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("version")
	if raw == "" {
		return 0, errors.New("version query parameter is required")
	}
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.New("version must be an integer")
	}
	return version, nil
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(payload)
}
