package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/siemlite/internal/alerting"
	"github.com/good-yellow-bee/siemlite/internal/api/auth"
	"github.com/good-yellow-bee/siemlite/internal/metrics"
	"github.com/good-yellow-bee/siemlite/internal/models"
	"github.com/good-yellow-bee/siemlite/internal/storage"
)

var (
	// ErrInvalidCredentials is returned when an API token does not identify an
	// active machine.
	ErrInvalidCredentials = errors.New("invalid machine credentials")
	// ErrInvalidRegistration is returned for a malformed registration.
	ErrInvalidRegistration = errors.New("invalid registration")
)

// Registration is the payload an agent sends to register itself.
type Registration struct {
	Name      string `json:"name" validate:"required,max=150"`
	Hostname  string `json:"hostname,omitempty" validate:"max=255"`
	IPAddress string `json:"ip_address,omitempty" validate:"omitempty,ip"`
}

// Registry registers machines and resolves their credentials.
type Registry struct {
	machines storage.MachineRepository
	logger   *zap.SugaredLogger
	now      func() time.Time
}

// NewRegistry creates a machine registry.
func NewRegistry(machines storage.MachineRepository, logger *zap.SugaredLogger) *Registry {
	return &Registry{machines: machines, logger: logger, now: time.Now}
}

// Register creates an active machine and returns it with its API token. The
// token is only available here; the store keeps its digest.
func (r *Registry) Register(ctx context.Context, req Registration) (*models.Machine, string, error) {
	if err := validate.Struct(req); err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrInvalidRegistration, err)
	}

	token, hash, err := auth.GenerateAPIToken()
	if err != nil {
		return nil, "", err
	}

	now := r.now().UTC()
	m := &models.Machine{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Hostname:     req.Hostname,
		IPAddress:    req.IPAddress,
		APITokenHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.machines.Create(ctx, m); err != nil {
		return nil, "", fmt.Errorf("register machine: %w", err)
	}

	metrics.MachinesRegistered.Inc()
	r.logger.Infow("machine registered", "machine_id", m.ID, "name", m.Name, "hostname", m.Hostname)
	return m, token, nil
}

// AuthenticateToken resolves an API token to its active machine. When
// machineID is set it must match the token's machine.
func (r *Registry) AuthenticateToken(ctx context.Context, apiToken, machineID string) (*models.Machine, error) {
	if apiToken == "" {
		return nil, ErrInvalidCredentials
	}
	m, err := r.machines.GetByTokenHash(ctx, auth.HashAPIToken(apiToken))
	if errors.Is(err, storage.ErrNotFound) {
		metrics.AuthAttemptsTotal.WithLabelValues(string(auth.KindMachine), "failure").Inc()
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("lookup machine token: %w", err)
	}
	if !m.IsActive || (machineID != "" && machineID != m.ID) {
		metrics.AuthAttemptsTotal.WithLabelValues(string(auth.KindMachine), "failure").Inc()
		return nil, ErrInvalidCredentials
	}
	metrics.AuthAttemptsTotal.WithLabelValues(string(auth.KindMachine), "success").Inc()
	return m, nil
}

// Lookup returns the active machine with id. Unknown and inactive machines
// yield alerting.ErrUnknownMachine.
func (r *Registry) Lookup(ctx context.Context, id string) (*models.Machine, error) {
	m, err := r.machines.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", alerting.ErrUnknownMachine, id)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup machine: %w", err)
	}
	if !m.IsActive {
		return nil, fmt.Errorf("%w: %s is inactive", alerting.ErrUnknownMachine, id)
	}
	return m, nil
}
