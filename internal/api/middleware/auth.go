package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/siemlite/internal/api/auth"
	"github.com/good-yellow-bee/siemlite/internal/api/respond"
	"github.com/good-yellow-bee/siemlite/internal/metrics"
	"github.com/good-yellow-bee/siemlite/internal/models"
)

// MachineTokenHeader carries a machine's long-lived API token.
const MachineTokenHeader = "X-Machine-Token"

type contextKey string

const (
	machineKey contextKey = "machine"
	adminKey   contextKey = "admin"
)

// MachineResolver resolves machine credentials to an active machine.
type MachineResolver interface {
	AuthenticateToken(ctx context.Context, apiToken, machineID string) (*models.Machine, error)
	Lookup(ctx context.Context, id string) (*models.Machine, error)
}

// bearerToken returns the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// MachineAuth authenticates an agent with either a machine JWT in the
// Authorization header or its API token in X-Machine-Token. The machine must
// exist and be active.
func MachineAuth(jwt *auth.JWTService, machines MachineResolver, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			var (
				machine *models.Machine
				err     error
			)
			if token, ok := bearerToken(r); ok {
				var claims *auth.Claims
				claims, err = jwt.Validate(token, auth.KindMachine)
				if err == nil {
					machine, err = machines.Lookup(ctx, claims.Subject)
				}
			} else if apiToken := r.Header.Get(MachineTokenHeader); apiToken != "" {
				machine, err = machines.AuthenticateToken(ctx, apiToken, "")
			} else {
				respond.Fail(w, respond.ErrUnauthorized)
				return
			}

			if err != nil {
				metrics.AuthAttemptsTotal.WithLabelValues(string(auth.KindMachine), "failure").Inc()
				logger.Infow("machine auth failed", "remote", r.RemoteAddr, "error", err)
				if errors.Is(err, auth.ErrTokenExpired) {
					respond.Fail(w, respond.ErrInvalidToken)
					return
				}
				respond.Fail(w, respond.ErrUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithMachine(ctx, machine)))
		})
	}
}

// AdminAuth requires an admin JWT.
func AdminAuth(jwt *auth.JWTService, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				respond.Fail(w, respond.ErrUnauthorized)
				return
			}
			claims, err := jwt.Validate(token, auth.KindAdmin)
			if err != nil {
				logger.Infow("admin auth failed", "remote", r.RemoteAddr, "error", err)
				respond.Fail(w, respond.ErrInvalidToken)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAdmin(r.Context(), claims.Subject)))
		})
	}
}

// WithMachine stores the authenticated machine in ctx.
func WithMachine(ctx context.Context, m *models.Machine) context.Context {
	return context.WithValue(ctx, machineKey, m)
}

// GetMachine returns the authenticated machine, or nil.
func GetMachine(ctx context.Context) *models.Machine {
	m, _ := ctx.Value(machineKey).(*models.Machine)
	return m
}

// WithAdmin stores the authenticated administrator's username in ctx.
func WithAdmin(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, adminKey, username)
}

// GetAdmin returns the authenticated administrator's username.
func GetAdmin(ctx context.Context) string {
	s, _ := ctx.Value(adminKey).(string)
	return s
}
