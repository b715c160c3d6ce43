package server

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/good-yellow-bee/siemlite/internal/api/auth"
	"github.com/good-yellow-bee/siemlite/internal/ingest"
	"github.com/good-yellow-bee/siemlite/internal/models"
	"github.com/good-yellow-bee/siemlite/internal/security"
)

type staticResolver struct {
	machine *models.Machine
}

func (r staticResolver) AuthenticateToken(_ context.Context, token, _ string) (*models.Machine, error) {
	if token != "slm_agent" {
		return nil, ingest.ErrInvalidCredentials
	}
	return r.machine, nil
}

func (r staticResolver) Lookup(context.Context, string) (*models.Machine, error) {
	return r.machine, nil
}

type echoIngester struct{}

func (echoIngester) Ingest(_ context.Context, m *models.Machine, _ ingest.Transport, _ *ingest.Event) (*ingest.Result, error) {
	return &ingest.Result{ID: "evt-" + m.ID, Status: ingest.StatusIngested}, nil
}

func TestServer_MutualTLS(t *testing.T) {
	dir := t.TempDir()
	ca, err := security.InitCA(dir, 1)
	require.NoError(t, err)
	require.NoError(t, ca.Issue(dir, security.CertRequest{Name: "server", Kind: security.ServerCert}))
	require.NoError(t, ca.Issue(dir, security.CertRequest{Name: "agent", Kind: security.AgentCert}))

	machine := &models.Machine{ID: "m1", Name: "web-01", IsActive: true}
	srv, err := New(&Config{
		TLSCertFile:     filepath.Join(dir, "server.crt"),
		TLSKeyFile:      filepath.Join(dir, "server.key"),
		TLSClientCAFile: filepath.Join(dir, "ca.crt"),
	}, echoIngester{}, staticResolver{machine: machine},
		auth.NewJWTService([]byte("test-secret-key-at-least-32-bytes!"), time.Minute, time.Minute),
		zap.NewNop().Sugar())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	defer func() {
		cancel()
		<-done
	}()

	dial := func(t *testing.T, cfg *security.ClientTLSConfig) IngestClient {
		creds, err := security.LoadClientTLS(cfg)
		require.NoError(t, err)
		conn, err := grpc.NewClient(ln.Addr().String(), grpc.WithTransportCredentials(creds))
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return NewIngestClient(conn)
	}

	callCtx, callCancel := context.WithTimeout(metadata.AppendToOutgoingContext(context.Background(), MachineTokenKey, "slm_agent"), 5*time.Second)
	defer callCancel()

	t.Run("with agent certificate", func(t *testing.T) {
		client := dial(t, &security.ClientTLSConfig{
			CAFile:   filepath.Join(dir, "ca.crt"),
			CertFile: filepath.Join(dir, "agent.crt"),
			KeyFile:  filepath.Join(dir, "agent.key"),
		})
		resp, err := client.Ingest(callCtx, sshEvent(t, time.Now()))
		require.NoError(t, err)
		assert.Equal(t, "evt-m1", ResultFromStruct(resp).ID)
	})

	t.Run("without agent certificate", func(t *testing.T) {
		client := dial(t, &security.ClientTLSConfig{CAFile: filepath.Join(dir, "ca.crt")})
		_, err := client.Ingest(callCtx, sshEvent(t, time.Now()))
		assert.Error(t, err)
	})
}
