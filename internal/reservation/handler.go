// internal/reservation/handler.go
package reservation

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"shelfshare/internal/errs"
	"shelfshare/internal/httpx"
	"shelfshare/internal/membership"
	"shelfshare/internal/orders"
)

type Handler struct {
	service Service
	logger  *zap.Logger
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes mounts the rentals API. Every route reads the caller from a
// bearer token; the workflow decides what each caller may do.
func (h *Handler) Routes(tokens *membership.TokenManager) http.Handler {
	r := chi.NewRouter()
	r.Use(membership.Authenticate(tokens, h.logger))
	r.Post("/checkout", h.handleCheckout)
	r.Get("/rentals/me", h.handleMyRentals)
	r.Get("/orders", h.handleListOrders)
	r.Route("/orders/{id}", func(r chi.Router) {
		r.Get("/", h.handleGetOrder)
		r.Post("/cancel", h.handleCancel)
		r.Post("/return", h.handleReturn)
		r.Post("/extend", h.handleExtend)
		r.Post("/payments", h.handlePayment)
	})
	return r
}

type checkoutRequest struct {
	Items []CartItem `json:"items" validate:"required,min=1,dive"`
}

type extendRequest struct {
	Frequency orders.Frequency `json:"frequency" validate:"required,oneof=weekly monthly"`
}

type paymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Kind   PaymentKind     `json:"kind" validate:"required,oneof=base extension"`
}

type paymentResponse struct {
	OrderID    uuid.UUID       `json:"order_id"`
	AmountPaid decimal.Decimal `json:"amount_paid"`
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	placed, err := h.service.Checkout(r.Context(), NewCart(req.Items...))
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, placed)
}

func (h *Handler) handleMyRentals(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.MyRentals(r.Context())
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := orders.Filter{Status: orders.Status(q.Get("status"))}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	list, err := h.service.ListOrders(r.Context(), f)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	if list == nil {
		list = []*orders.Order{}
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	o, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	o, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	o, err := h.service.Return(r.Context(), id)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) handleExtend(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	var req extendRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	o, err := h.service.Extend(r.Context(), id, req.Frequency)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) handlePayment(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	var req paymentRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	paid, err := h.service.RecordPayment(r.Context(), id, req.Amount, req.Kind)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, paymentResponse{OrderID: id, AmountPaid: paid})
}

func orderID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errs.InvalidInput("order id %q", raw)
	}
	return id, nil
}
