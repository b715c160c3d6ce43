package auth

import (
	"crypto/subtle"
	"net/http"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/siemlite/internal/api/respond"
	"github.com/good-yellow-bee/siemlite/internal/metrics"
)

// AdminCredentials is the single administrator account, configured rather
// than stored.
type AdminCredentials struct {
	Username     string
	PasswordHash string
}

// Handler handles administrator authentication endpoints.
type Handler struct {
	admin   AdminCredentials
	jwt     *JWTService
	lockout *LockoutTracker
	logger  *zap.SugaredLogger
}

// NewHandler creates a new auth handler.
func NewHandler(admin AdminCredentials, jwt *JWTService, lockout *LockoutTracker, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		admin:   admin,
		jwt:     jwt,
		lockout: lockout,
		logger:  logger,
	}
}

// LoginRequest is the request body for login.
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=100"`
	Password string `json:"password" validate:"required,max=72"`
}

// TokenResponse is returned when a token is issued.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Login exchanges administrator credentials for an admin token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if rerr := respond.Decode(w, r, &req); rerr != nil {
		respond.Fail(w, rerr)
		return
	}

	if h.lockout.IsLocked(req.Username) {
		h.logger.Warnw("login blocked, account locked",
			"username", req.Username, "remaining", h.lockout.RemainingLockoutTime(req.Username))
		metrics.AuthAttemptsTotal.WithLabelValues(string(KindAdmin), "locked").Inc()
		respond.Fail(w, respond.ErrAccountLocked)
		return
	}

	if !h.verify(req.Username, req.Password) {
		locked := h.lockout.RecordFailure(req.Username)
		h.logger.Warnw("login failed", "username", req.Username, "remote", r.RemoteAddr, "locked", locked)
		metrics.AuthAttemptsTotal.WithLabelValues(string(KindAdmin), "failure").Inc()
		respond.Fail(w, respond.ErrUnauthorized)
		return
	}

	token, err := h.jwt.IssueAdminToken(req.Username)
	if err != nil {
		h.logger.Errorw("issue admin token", "error", err)
		respond.Fail(w, respond.ErrInternal)
		return
	}

	h.lockout.ClearFailures(req.Username)
	metrics.AuthAttemptsTotal.WithLabelValues(string(KindAdmin), "success").Inc()
	metrics.AuthTokensIssued.WithLabelValues(string(KindAdmin)).Inc()
	h.logger.Infow("admin logged in", "username", req.Username, "remote", r.RemoteAddr)

	respond.OK(w, TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(h.jwt.AdminTTL().Seconds()),
	})
}

// verify checks the username in constant time and always runs bcrypt so
// unknown usernames cost the same as wrong passwords.
func (h *Handler) verify(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(h.admin.Username)) == 1
	passOK := CheckPassword(h.admin.PasswordHash, password)
	return userOK && passOK && h.admin.Username != ""
}
