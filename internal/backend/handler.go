package backend

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// Handler serves a Store over HTTP under /anchors.
type Handler struct {
	store Store
	log   *zap.Logger
}

// NewHandler exposes store over HTTP for RemoteStore clients.
func NewHandler(store Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, log: logger}
}

// Register mounts the anchor routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/anchors", h.handleList)
	mux.HandleFunc("/anchors/", h.handleAnchor)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.fail(w, r, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ids, err := h.store.List(r.Context())
	if err != nil {
		h.fail(w, r, err.Error(), http.StatusInternalServerError)
		return
	}
	h.reply(w, r, http.StatusOK, ids)
}

func (h *Handler) handleAnchor(w http.ResponseWriter, r *http.Request) {
	// Extract id from path: /anchors/{id}
	id := r.URL.Path[len("/anchors/"):]
	if id == "" {
		h.fail(w, r, "anchor id required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, err := h.store.Get(r.Context(), id)
		if errors.Is(err, ErrAnchorNotFound) {
			h.fail(w, r, "anchor not found", http.StatusNotFound)
			return
		}
		if err != nil {
			h.fail(w, r, err.Error(), http.StatusInternalServerError)
			return
		}
		h.reply(w, r, http.StatusOK, rec)
	case http.MethodPut:
		var rec Record
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			h.fail(w, r, "bad json", http.StatusBadRequest)
			return
		}
		if rec.ID != "" && rec.ID != id {
			h.fail(w, r, "anchor id does not match path", http.StatusBadRequest)
			return
		}
		rec.ID = id
		if err := h.store.Put(r.Context(), rec); err != nil {
			h.fail(w, r, err.Error(), http.StatusInternalServerError)
			return
		}
		h.log.Info("anchor stored", zap.String("anchor", id), zap.Time("expires", rec.ExpiresAt))
		h.reply(w, r, http.StatusNoContent, nil)
	case http.MethodDelete:
		if err := h.store.Delete(r.Context(), id); err != nil {
			h.fail(w, r, err.Error(), http.StatusInternalServerError)
			return
		}
		h.log.Info("anchor deleted", zap.String("anchor", id))
		h.reply(w, r, http.StatusNoContent, nil)
	default:
		h.fail(w, r, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) reply(w http.ResponseWriter, r *http.Request, code int, body any) {
	storeRequests.WithLabelValues(r.Method, strconv.Itoa(code)).Inc()
	if body == nil {
		w.WriteHeader(code)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn("failed to write response", zap.Error(err))
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, code int) {
	storeRequests.WithLabelValues(r.Method, strconv.Itoa(code)).Inc()
	h.log.Debug("anchor request failed",
		zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Int("code", code))
	http.Error(w, msg, code)
}
