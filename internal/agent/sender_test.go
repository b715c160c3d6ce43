package agent

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/good-yellow-bee/siemlite/internal/alerting"
	"github.com/good-yellow-bee/siemlite/internal/api/auth"
	"github.com/good-yellow-bee/siemlite/internal/ingest"
	"github.com/good-yellow-bee/siemlite/internal/models"
	"github.com/good-yellow-bee/siemlite/internal/server"
)

const agentToken = "slm_test_agent"

type tokenResolver struct {
	machine *models.Machine
}

func (r tokenResolver) AuthenticateToken(_ context.Context, token, _ string) (*models.Machine, error) {
	if token != agentToken {
		return nil, ingest.ErrInvalidCredentials
	}
	return r.machine, nil
}

func (r tokenResolver) Lookup(context.Context, string) (*models.Machine, error) {
	return r.machine, nil
}

// typeIngester stores every event except those with event_type "bad".
type typeIngester struct{}

func (typeIngester) Ingest(_ context.Context, _ *models.Machine, _ ingest.Transport, e *ingest.Event) (*ingest.Result, error) {
	if e.EventType == "bad" {
		return nil, fmt.Errorf("%w: bad event", alerting.ErrInvalidEvent)
	}
	return &ingest.Result{ID: "evt-" + e.RawMessage, Status: ingest.StatusIngested, Alerts: 1}, nil
}

func startServer(t *testing.T) *grpc.ClientConn {
	t.Helper()
	srv, err := server.New(&server.Config{}, typeIngester{},
		tokenResolver{machine: &models.Machine{ID: "m1", Name: "web-01", IsActive: true}},
		auth.NewJWTService([]byte("test-secret-key-at-least-32-bytes!"), time.Minute, time.Minute),
		zap.NewNop().Sugar())
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	return conn
}

func wireEvent(t *testing.T, eventType, msg string) *structpb.Struct {
	t.Helper()
	s, err := server.EventToStruct(&ingest.Event{
		Timestamp:  time.Now().UTC(),
		EventType:  eventType,
		RawMessage: msg,
	})
	require.NoError(t, err)
	return s
}

func TestGRPCSender_Send(t *testing.T) {
	sender := NewGRPCSender(startServer(t), agentToken)
	defer sender.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := []*structpb.Struct{
		wireEvent(t, models.EventTypeSSHFailedLogin, "one"),
		wireEvent(t, "bad", "two"),
		wireEvent(t, models.EventTypeSSHFailedLogin, "three"),
	}
	acks, err := sender.Send(ctx, events)
	require.NoError(t, err)
	require.Len(t, acks, 3)

	byIndex := map[int]Ack{}
	for _, a := range acks {
		byIndex[a.Index] = a
	}
	assert.Equal(t, codes.OK, byIndex[0].Code)
	assert.Equal(t, "evt-one", byIndex[0].ID)
	assert.Equal(t, 1, byIndex[0].Alerts)
	assert.Equal(t, codes.InvalidArgument, byIndex[1].Code)
	assert.False(t, byIndex[1].Stored())
	assert.Equal(t, "evt-three", byIndex[2].ID)

	// The caller's messages are not modified.
	assert.NotContains(t, events[0].GetFields(), "sequence")
}

func TestGRPCSender_BadToken(t *testing.T) {
	sender := NewGRPCSender(startServer(t), "slm_wrong")
	defer sender.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	acks, err := sender.Send(ctx, []*structpb.Struct{wireEvent(t, models.EventTypeSSHFailedLogin, "one")})
	assert.Empty(t, acks)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestParseCode(t *testing.T) {
	assert.Equal(t, codes.Unavailable, parseCode(codes.Unavailable.String()))
	assert.Equal(t, codes.InvalidArgument, parseCode("InvalidArgument"))
	assert.Equal(t, codes.Unknown, parseCode("nonsense"))
}
