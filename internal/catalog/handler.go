// internal/catalog/handler.go
package catalog

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"shelfshare/internal/errs"
	"shelfshare/internal/httpx"
	"shelfshare/internal/membership"
)

type Handler struct {
	service       Service
	tokens        *membership.TokenManager
	internalToken string
	logger        *zap.Logger
}

func NewHandler(service Service, tokens *membership.TokenManager, internalToken string, logger *zap.Logger) *Handler {
	return &Handler{service: service, tokens: tokens, internalToken: internalToken, logger: logger}
}

// Routes mounts the public, admin and internal catalog APIs.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(membership.Authenticate(h.tokens, h.logger))
		r.Get("/listings", h.handleListListings)
		r.Get("/listings/{id}", h.handleGetListing)

		r.Group(func(r chi.Router) {
			r.Use(membership.Require(membership.CapManageCatalog, h.logger))
			r.Post("/listings", h.handleCreateListing)
			r.Put("/listings/{id}/quantity", h.handleSetListedQuantity)
		})
	})
	r.Route("/internal", func(r chi.Router) {
		r.Use(httpx.RequireToken(h.internalToken, h.logger))
		r.Get("/listings/ids", h.handleListIDs)
		r.Patch("/listings/{id}/availability", h.handleUpdateAvailability)
	})
	return r
}

func (h *Handler) handleListListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ListFilter{AvailableOnly: q.Get("available") == "true"}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	listings, err := h.service.ListListings(r.Context(), f)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	if listings == nil {
		listings = []*Listing{}
	}
	httpx.JSON(w, http.StatusOK, listings)
}

func (h *Handler) handleGetListing(w http.ResponseWriter, r *http.Request) {
	id, err := listingID(r)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	listing, err := h.service.GetListing(r.Context(), id)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listing)
}

func (h *Handler) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	var req NewListing
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	listing, err := h.service.CreateListing(r.Context(), req)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, listing)
}

func (h *Handler) handleSetListedQuantity(w http.ResponseWriter, r *http.Request) {
	id, err := listingID(r)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	var req struct {
		ListedQuantity int `json:"listed_quantity" validate:"gte=0"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	listing, err := h.service.SetListedQuantity(r.Context(), id, req.ListedQuantity)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listing)
}

func (h *Handler) handleListIDs(w http.ResponseWriter, r *http.Request) {
	ids, err := h.service.ListAllListingIDs(r.Context())
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	httpx.JSON(w, http.StatusOK, ids)
}

func (h *Handler) handleUpdateAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := listingID(r)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	var req Availability
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	if err := h.service.UpdateListingAvailability(r.Context(), id, req); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func listingID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errs.InvalidInput("listing id %q", raw)
	}
	return id, nil
}
