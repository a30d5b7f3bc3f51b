package resync

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"shelfshare/internal/httpx"
)

// Handler accepts signals over HTTP on behalf of the reconciler.
type Handler struct {
	trigger       Trigger
	internalToken string
	logger        *zap.Logger
}

func NewHandler(trigger Trigger, internalToken string, logger *zap.Logger) *Handler {
	return &Handler{trigger: trigger, internalToken: internalToken, logger: logger}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.RequireToken(h.internalToken, h.logger))
	r.Post("/resync", h.handleResync)
	return r
}

func (h *Handler) handleResync(w http.ResponseWriter, r *http.Request) {
	var sig Signal
	if err := httpx.Decode(r, &sig); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	if err := h.trigger.Notify(r.Context(), sig); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	h.logger.Debug("resync accepted",
		zap.String("reason", sig.Reason),
		zap.Int("listings", len(sig.ListingIDs)))
	w.WriteHeader(http.StatusAccepted)
}
