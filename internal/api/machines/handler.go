// Package machines provides HTTP handlers for agent registration, token
// exchange and machine administration.
package machines

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/siemlite/internal/api/auth"
	"github.com/good-yellow-bee/siemlite/internal/api/respond"
	"github.com/good-yellow-bee/siemlite/internal/ingest"
	"github.com/good-yellow-bee/siemlite/internal/metrics"
	"github.com/good-yellow-bee/siemlite/internal/models"
	"github.com/good-yellow-bee/siemlite/internal/storage"
)

// Registry registers machines and checks their API tokens.
type Registry interface {
	Register(ctx context.Context, req ingest.Registration) (*models.Machine, string, error)
	AuthenticateToken(ctx context.Context, apiToken, machineID string) (*models.Machine, error)
}

// Handler handles machine endpoints.
type Handler struct {
	registry Registry
	machines storage.MachineRepository
	jwt      *auth.JWTService
	logger   *zap.SugaredLogger
}

// NewHandler creates a new machines handler.
func NewHandler(registry Registry, machines storage.MachineRepository, jwt *auth.JWTService, logger *zap.SugaredLogger) *Handler {
	return &Handler{registry: registry, machines: machines, jwt: jwt, logger: logger}
}

// RegistrationResponse is returned once, at registration. It is the only
// time the API token is disclosed.
type RegistrationResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Hostname     string    `json:"hostname,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	APIToken     string    `json:"api_token"`
	IsActive     bool      `json:"is_active"`
	RegisteredAt time.Time `json:"registered_at"`
}

// TokenRequest exchanges an API token for a machine JWT.
type TokenRequest struct {
	APIToken  string `json:"api_token" validate:"required,max=256"`
	MachineID string `json:"machine_id,omitempty" validate:"omitempty,uuid"`
}

// TokenResponse carries a machine JWT.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	MachineID   string `json:"machine_id"`
}

// Register handles POST /api/v1/machines/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req ingest.Registration
	if rerr := respond.Decode(w, r, &req); rerr != nil {
		respond.Fail(w, rerr)
		return
	}

	m, token, err := h.registry.Register(r.Context(), req)
	if err != nil {
		if errors.Is(err, ingest.ErrInvalidRegistration) {
			respond.Fail(w, respond.Validation(respond.Describe(err)))
			return
		}
		h.logger.Errorw("register machine", "name", req.Name, "error", err)
		respond.Fail(w, respond.ErrInternal)
		return
	}

	respond.Created(w, RegistrationResponse{
		ID:           m.ID,
		Name:         m.Name,
		Hostname:     m.Hostname,
		IPAddress:    m.IPAddress,
		APIToken:     token,
		IsActive:     m.IsActive,
		RegisteredAt: m.CreatedAt,
	})
}

// Token handles POST /api/v1/machines/token.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if rerr := respond.Decode(w, r, &req); rerr != nil {
		respond.Fail(w, rerr)
		return
	}

	m, err := h.registry.AuthenticateToken(r.Context(), req.APIToken, req.MachineID)
	if err != nil {
		if errors.Is(err, ingest.ErrInvalidCredentials) {
			h.logger.Infow("machine token exchange rejected", "machine_id", req.MachineID, "remote", r.RemoteAddr)
			respond.Fail(w, respond.ErrUnauthorized)
			return
		}
		h.logger.Errorw("machine token exchange", "error", err)
		respond.Fail(w, respond.ErrInternal)
		return
	}

	token, err := h.jwt.IssueMachineToken(m.ID, m.Name)
	if err != nil {
		h.logger.Errorw("issue machine token", "machine_id", m.ID, "error", err)
		respond.Fail(w, respond.ErrInternal)
		return
	}
	metrics.AuthTokensIssued.WithLabelValues(string(auth.KindMachine)).Inc()

	respond.OK(w, TokenResponse{
		AccessToken: token,
		TokenType:   string(auth.KindMachine),
		ExpiresIn:   int(h.jwt.MachineTTL().Seconds()),
		MachineID:   m.ID,
	})
}

// List handles GET /api/v1/machines.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	machines, err := h.machines.List(r.Context())
	if err != nil {
		h.logger.Errorw("list machines", "error", err)
		respond.Fail(w, respond.ErrInternal)
		return
	}
	if machines == nil {
		machines = []*models.Machine{}
	}
	respond.OK(w, machines)
}

// Get handles GET /api/v1/machines/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	m, err := h.machines.GetByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		respond.Fail(w, respond.NotFound("machine not found"))
		return
	}
	if err != nil {
		h.logger.Errorw("get machine", "error", err)
		respond.Fail(w, respond.ErrInternal)
		return
	}
	respond.OK(w, m)
}

// Activate handles POST /api/v1/machines/{id}/activate.
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// Deactivate handles POST /api/v1/machines/{id}/deactivate. A deactivated
// machine can no longer authenticate or ingest.
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	err := h.machines.SetActive(ctx, id, active)
	if errors.Is(err, storage.ErrNotFound) {
		respond.Fail(w, respond.NotFound("machine not found"))
		return
	}
	if err != nil {
		h.logger.Errorw("set machine active", "machine_id", id, "error", err)
		respond.Fail(w, respond.ErrInternal)
		return
	}
	h.logger.Infow("machine state changed", "machine_id", id, "active", active)

	m, err := h.machines.GetByID(ctx, id)
	if err != nil {
		h.logger.Errorw("get machine", "machine_id", id, "error", err)
		respond.Fail(w, respond.ErrInternal)
		return
	}
	respond.OK(w, m)
}
