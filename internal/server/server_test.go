package server

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/good-yellow-bee/siemlite/internal/alerting"
	"github.com/good-yellow-bee/siemlite/internal/api/auth"
	"github.com/good-yellow-bee/siemlite/internal/ingest"
	"github.com/good-yellow-bee/siemlite/internal/lock"
	"github.com/good-yellow-bee/siemlite/internal/models"
	"github.com/good-yellow-bee/siemlite/internal/storage"
)

type fixture struct {
	store    *storage.SQLiteStorage
	registry *ingest.Registry
	jwt      *auth.JWTService
	client   IngestClient
	conn     *grpc.ClientConn
}

func newFixture(t *testing.T, override Ingester) *fixture {
	t.Helper()
	logger := zap.NewNop().Sugar()

	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "siemlite.db"))
	require.NoError(t, store.Open())
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())

	engine := alerting.NewEngine(store.Alerts(), store.Machines(), lock.NewLocalLocker(time.Second), nil, alerting.DefaultConfig(), logger)
	evaluator := alerting.NewEvaluator(store.Rules(), store.Events(), engine, logger)
	var ingester Ingester = ingest.NewService(store.Events(), store.Machines(), evaluator, logger)
	if override != nil {
		ingester = override
	}
	registry := ingest.NewRegistry(store.Machines(), logger)
	jwt := auth.NewJWTService([]byte("test-secret-key-at-least-32-bytes!"), 30*time.Minute, time.Hour)

	srv, err := New(&Config{}, ingester, registry, jwt, logger)
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
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &fixture{store: store, registry: registry, jwt: jwt, client: NewIngestClient(conn), conn: conn}
}

func (f *fixture) register(t *testing.T) (*models.Machine, string) {
	t.Helper()
	m, token, err := f.registry.Register(context.Background(), ingest.Registration{
		Name: "web-01", Hostname: "web-01.example.com", IPAddress: "10.0.0.10",
	})
	require.NoError(t, err)
	return m, token
}

func (f *fixture) addRule(t *testing.T, threshold int) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, f.store.Rules().Create(context.Background(), &models.Rule{
		ID:            uuid.New().String(),
		Name:          "SSH brute force",
		Slug:          "ssh-brute-force",
		EventType:     models.EventTypeSSHFailedLogin,
		Severity:      models.SeverityHigh,
		Threshold:     threshold,
		WindowMinutes: 5,
		Enabled:       true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}))
}

func withAPIToken(token string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), MachineTokenKey, token)
}

func sshEvent(t *testing.T, ts time.Time) *structpb.Struct {
	t.Helper()
	msg, err := EventToStruct(&ingest.Event{
		Timestamp:  ts,
		EventType:  models.EventTypeSSHFailedLogin,
		RawMessage: "Failed password for root from 203.0.113.7 port 22 ssh2",
		SourceIP:   "203.0.113.7",
		Username:   "root",
		Metadata:   map[string]any{"port": 22},
	})
	require.NoError(t, err)
	return msg
}

func TestIngest_RaisesAlert(t *testing.T) {
	f := newFixture(t, nil)
	f.addRule(t, 2)
	machine, token := f.register(t)
	ctx := withAPIToken(token)

	base := time.Now().UTC().Add(-time.Minute)
	first, err := f.client.Ingest(ctx, sshEvent(t, base))
	require.NoError(t, err)
	res := ResultFromStruct(first)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, ingest.StatusIngested, res.Status)
	assert.Equal(t, 0, res.Alerts)

	second, err := f.client.Ingest(ctx, sshEvent(t, base.Add(time.Second)))
	require.NoError(t, err)
	assert.Equal(t, 1, ResultFromStruct(second).Alerts)

	alerts, total, err := f.store.Alerts().List(context.Background(), &storage.AlertFilter{MachineID: machine.ID})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	assert.Equal(t, 2, alerts[0].Occurrences)
}

func TestIngest_MachineJWT(t *testing.T) {
	f := newFixture(t, nil)
	machine, _ := f.register(t)

	token, err := f.jwt.IssueMachineToken(machine.ID, machine.Name)
	require.NoError(t, err)
	ctx := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)

	_, err = f.client.Ingest(ctx, sshEvent(t, time.Now()))
	require.NoError(t, err)

	admin, err := f.jwt.IssueAdminToken("admin")
	require.NoError(t, err)
	ctx = metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+admin)
	_, err = f.client.Ingest(ctx, sshEvent(t, time.Now()))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestIngest_Unauthenticated(t *testing.T) {
	f := newFixture(t, nil)
	machine, token := f.register(t)

	_, err := f.client.Ingest(context.Background(), sshEvent(t, time.Now()))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = f.client.Ingest(withAPIToken("slm_not-a-real-token"), sshEvent(t, time.Now()))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	require.NoError(t, f.store.Machines().SetActive(context.Background(), machine.ID, false))
	_, err = f.client.Ingest(withAPIToken(token), sshEvent(t, time.Now()))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestIngest_InvalidArgument(t *testing.T) {
	f := newFixture(t, nil)
	_, token := f.register(t)
	ctx := withAPIToken(token)

	tests := []struct {
		name   string
		fields map[string]any
	}{
		{"empty", map[string]any{}},
		{"missing event_type", map[string]any{"timestamp": time.Now().Format(time.RFC3339), "raw_message": "x"}},
		{"bad timestamp", map[string]any{"timestamp": "yesterday", "event_type": "x", "raw_message": "x"}},
		{"bad source_ip", map[string]any{"timestamp": time.Now().Format(time.RFC3339), "event_type": "x", "raw_message": "x", "source_ip": "999.1.1.1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := structpb.NewStruct(tt.fields)
			require.NoError(t, err)
			_, err = f.client.Ingest(ctx, msg)
			assert.Equal(t, codes.InvalidArgument, status.Code(err))
		})
	}
}

type storedButFailing struct{}

func (storedButFailing) Ingest(context.Context, *models.Machine, ingest.Transport, *ingest.Event) (*ingest.Result, error) {
	return &ingest.Result{ID: "evt-42", Status: ingest.StatusIngested},
		fmt.Errorf("evaluate event evt-42: %w", alerting.ErrContention)
}

func TestIngest_StoredButEvaluationFailed(t *testing.T) {
	f := newFixture(t, storedButFailing{})
	_, token := f.register(t)

	_, err := f.client.Ingest(withAPIToken(token), sshEvent(t, time.Now()))
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.Equal(t, "evt-42", StoredEventID(err))
}

func TestIngestStream(t *testing.T) {
	f := newFixture(t, nil)
	f.addRule(t, 2)
	_, token := f.register(t)

	stream, err := f.client.IngestStream(withAPIToken(token))
	require.NoError(t, err)

	base := time.Now().UTC().Add(-time.Minute)
	valid := func(seq int, ts time.Time) *structpb.Struct {
		msg := sshEvent(t, ts)
		msg.Fields["sequence"] = structpb.NewNumberValue(float64(seq))
		return msg
	}
	invalid, err := structpb.NewStruct(map[string]any{"sequence": 2, "event_type": "x"})
	require.NoError(t, err)

	msgs := []*structpb.Struct{valid(1, base), invalid, valid(3, base.Add(time.Second))}
	for _, m := range msgs {
		require.NoError(t, stream.Send(m))
	}
	require.NoError(t, stream.CloseSend())

	var acks []*structpb.Struct
	for range msgs {
		ack, err := stream.Recv()
		require.NoError(t, err)
		acks = append(acks, ack)
	}

	assert.EqualValues(t, 1, acks[0].Fields["sequence"].GetNumberValue())
	assert.NotEmpty(t, acks[0].Fields["id"].GetStringValue())
	assert.Nil(t, acks[0].Fields["error"])

	assert.EqualValues(t, 2, acks[1].Fields["sequence"].GetNumberValue())
	assert.Equal(t, codes.InvalidArgument.String(), acks[1].Fields["code"].GetStringValue())

	assert.EqualValues(t, 3, acks[2].Fields["sequence"].GetNumberValue())
	assert.EqualValues(t, 1, acks[2].Fields["alerts"].GetNumberValue())
}

func TestIngestStream_Unauthenticated(t *testing.T) {
	f := newFixture(t, nil)

	stream, err := f.client.IngestStream(context.Background())
	require.NoError(t, err)
	_, err = stream.Recv()
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestHealthIsOpen(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := healthpb.NewHealthClient(f.conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(nil, nil, nil, nil, nil)
	assert.Error(t, err)

	_, err = New(&Config{TLSCertFile: "server.crt"}, storedButFailing{}, &ingest.Registry{}, &auth.JWTService{}, zap.NewNop().Sugar())
	assert.Error(t, err)
}
