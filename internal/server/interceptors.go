package server

import (
	"context"
	"errors"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/good-yellow-bee/siemlite/internal/api/auth"
	"github.com/good-yellow-bee/siemlite/internal/metrics"
	"github.com/good-yellow-bee/siemlite/internal/models"
)

// Metadata keys carrying machine credentials.
const (
	authorizationKey = "authorization"
	MachineTokenKey  = "x-machine-token"
)

// MachineResolver resolves machine credentials to an active machine.
type MachineResolver interface {
	AuthenticateToken(ctx context.Context, apiToken, machineID string) (*models.Machine, error)
	Lookup(ctx context.Context, id string) (*models.Machine, error)
}

type machineKey struct{}

// MachineFromContext returns the authenticated machine, or nil.
func MachineFromContext(ctx context.Context) *models.Machine {
	m, _ := ctx.Value(machineKey{}).(*models.Machine)
	return m
}

type authenticator struct {
	jwt      *auth.JWTService
	machines MachineResolver
	logger   *zap.SugaredLogger
}

// authenticate resolves the caller from "authorization: Bearer <jwt>" or
// "x-machine-token: <api token>" metadata.
func (a *authenticator) authenticate(ctx context.Context) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)

	var (
		machine *models.Machine
		err     error
	)
	if token, ok := bearerFromMD(md); ok {
		var claims *auth.Claims
		claims, err = a.jwt.Validate(token, auth.KindMachine)
		if err == nil {
			machine, err = a.machines.Lookup(ctx, claims.Subject)
		}
	} else if vals := md.Get(MachineTokenKey); len(vals) > 0 && vals[0] != "" {
		machine, err = a.machines.AuthenticateToken(ctx, vals[0], "")
	} else {
		return nil, status.Error(codes.Unauthenticated, "machine credentials required")
	}

	if err != nil {
		metrics.AuthAttemptsTotal.WithLabelValues(string(auth.KindMachine), "failure").Inc()
		a.logger.Infow("grpc machine auth failed", "error", err)
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, status.Error(codes.Unauthenticated, "token expired")
		}
		return nil, status.Error(codes.Unauthenticated, "invalid machine credentials")
	}
	return context.WithValue(ctx, machineKey{}, machine), nil
}

func bearerFromMD(md metadata.MD) (string, bool) {
	vals := md.Get(authorizationKey)
	if len(vals) == 0 {
		return "", false
	}
	scheme, token, ok := strings.Cut(vals[0], " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

// requiresMachine reports whether method belongs to IngestService. The
// standard health service is open.
func requiresMachine(method string) bool {
	return strings.HasPrefix(method, "/"+ServiceName+"/")
}

func (a *authenticator) unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !requiresMachine(info.FullMethod) {
			return handler(ctx, req)
		}
		ctx, err := a.authenticate(ctx)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func (a *authenticator) stream() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if !requiresMachine(info.FullMethod) {
			return handler(srv, ss)
		}
		ctx, err := a.authenticate(ss.Context())
		if err != nil {
			return err
		}
		return handler(srv, &contextStream{ServerStream: ss, ctx: ctx})
	}
}

// contextStream overrides the context of a server stream.
type contextStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *contextStream) Context() context.Context {
	return s.ctx
}

// observeUnary records metrics and a log line per call and converts panics
// to Internal.
func observeUnary(logger *zap.SugaredLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := time.Now()
		defer func() {
			if p := recover(); p != nil {
				logger.Errorw("grpc handler panic", "method", info.FullMethod, "panic", p, "stack", string(debug.Stack()))
				err = status.Error(codes.Internal, "internal error")
			}
			observe(logger, info.FullMethod, start, err)
		}()
		return handler(ctx, req)
	}
}

func observeStream(logger *zap.SugaredLogger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		start := time.Now()
		defer func() {
			if p := recover(); p != nil {
				logger.Errorw("grpc stream panic", "method", info.FullMethod, "panic", p, "stack", string(debug.Stack()))
				err = status.Error(codes.Internal, "internal error")
			}
			observe(logger, info.FullMethod, start, err)
		}()
		return handler(srv, ss)
	}
}

func observe(logger *zap.SugaredLogger, method string, start time.Time, err error) {
	code := status.Code(err)
	metrics.GRPCRequestsTotal.WithLabelValues(method, code.String()).Inc()
	logger.Debugw("grpc request",
		"method", method, "code", code.String(), "duration_ms", time.Since(start).Milliseconds())
}
