// Package httpapi serves the subscription management API. Handlers talk to
// the store directly; there is no service layer in between.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"quakepush/internal/store"
	"quakepush/pkg/geodesic"
	"quakepush/pkg/intensity"
	logx "quakepush/pkg/logx"
)

const (
	maxSubscribeIDLen   = 64
	maxUnsubscribeIDLen = 256
	defaultMinIntensity = 3
)

type Handler struct {
	repo store.Repository
	log  logx.Logger
}

func NewHandler(repo store.Repository, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{repo: repo, log: log}
}

type subscribeRequest struct {
	ID           string  `json:"id"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	MinIntensity *int    `json:"min_intensity"`
}

// Subscribe registers or replaces a push target. The request id is the Bark
// device key, so its charset is restricted to what Bark itself issues.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.ID == "" || len(req.ID) > maxSubscribeIDLen || !isAlnum(req.ID) {
		writeError(w, http.StatusBadRequest, "invalid device key")
		return
	}
	if !geodesic.ValidCoordinates(req.Latitude, req.Longitude) {
		writeError(w, http.StatusBadRequest, "invalid coordinates")
		return
	}
	minIntensity := defaultMinIntensity
	if req.MinIntensity != nil {
		minIntensity = *req.MinIntensity
	}
	if !intensity.Validate(minIntensity) {
		writeError(w, http.StatusBadRequest, "min_intensity must be between 0 and 7")
		return
	}

	sub := store.NewSubscription(req.ID, req.Latitude, req.Longitude, minIntensity)
	if err := h.repo.Upsert(r.Context(), sub); err != nil {
		h.log.Error("subscribe failed", logx.String("id", req.ID), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}

	h.log.Info("subscriber registered",
		logx.String("id", req.ID),
		logx.Int("min_intensity", minIntensity))
	writeOK(w, "subscribed", sub)
}

// Unsubscribe removes a push target. The id limit is looser than on
// subscribe so stale clients with legacy keys can still leave.
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxUnsubscribeIDLen || !isKeyChars(id) {
		writeError(w, http.StatusBadRequest, "invalid device key")
		return
	}

	err := h.repo.Delete(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "subscription not found")
	case err != nil:
		h.log.Error("unsubscribe failed", logx.String("id", id), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to delete subscription")
	default:
		h.log.Info("subscriber removed", logx.String("id", id))
		writeOK(w, "unsubscribed", nil)
	}
}

// Stats reports the current subscriber count.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	total, err := h.repo.Count(r.Context())
	if err != nil {
		h.log.Error("stats query failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to query stats")
		return
	}
	writeOK(w, "ok", map[string]any{"total_subscriptions": total})
}

// Health is the liveness probe.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, "ok", map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func isAlnum(s string) bool {
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}

func isKeyChars(s string) bool {
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}
