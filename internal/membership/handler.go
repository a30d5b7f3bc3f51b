// internal/membership/handler.go
package membership

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"shelfshare/internal/errs"
	"shelfshare/internal/httpx"
)

type Handler struct {
	service Service
	logger  *zap.Logger
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes mounts the membership API. tokens authenticates the caller for
// the routes that need one.
func (h *Handler) Routes(tokens *TokenManager) http.Handler {
	r := chi.NewRouter()
	r.Post("/members", h.handleRegisterMember)
	r.Post("/login", h.handleLogin)
	r.Group(func(r chi.Router) {
		r.Use(Authenticate(tokens, h.logger))
		r.With(Require("", h.logger)).Get("/me", h.handleMe)
		r.With(Require(CapManageCatalog, h.logger)).Put("/members/{id}/role", h.handleSetRole)
	})
	return r
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,max=120"`
	Password string `json:"password" validate:"required,min=8"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token  string  `json:"token"`
	Member *Member `json:"member"`
}

type roleRequest struct {
	Role Role `json:"role" validate:"required,oneof=member admin"`
}

func (h *Handler) handleRegisterMember(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}

	member, err := h.service.RegisterMember(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, member)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}

	member, token, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, loginResponse{Token: token, Member: member})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	member, err := h.service.GetMember(r.Context(), p.UserID)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, member)
}

func (h *Handler) handleSetRole(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, h.logger, errs.InvalidInput("member id %q", chi.URLParam(r, "id")))
		return
	}
	var req roleRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	if err := h.service.SetRole(r.Context(), id, req.Role); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
