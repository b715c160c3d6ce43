package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/siemlite/internal/alerting"
	"github.com/good-yellow-bee/siemlite/internal/lock"
	"github.com/good-yellow-bee/siemlite/internal/models"
	"github.com/good-yellow-bee/siemlite/internal/storage"
)

func openStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "siemlite.db"))
	require.NoError(t, store.Open())
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())
	return store
}

func newPipeline(t *testing.T, store *storage.SQLiteStorage) *Service {
	t.Helper()
	logger := zap.NewNop().Sugar()
	engine := alerting.NewEngine(store.Alerts(), store.Machines(), lock.NewLocalLocker(time.Second), nil, alerting.DefaultConfig(), logger)
	evaluator := alerting.NewEvaluator(store.Rules(), store.Events(), engine, logger)
	return NewService(store.Events(), store.Machines(), evaluator, logger)
}

func registerMachine(t *testing.T, store *storage.SQLiteStorage) (*models.Machine, string) {
	t.Helper()
	reg := NewRegistry(store.Machines(), zap.NewNop().Sugar())
	m, token, err := reg.Register(context.Background(), Registration{Name: "web-01", Hostname: "web-01.example.com", IPAddress: "10.0.0.10"})
	require.NoError(t, err)
	return m, token
}

func addSSHRule(t *testing.T, store *storage.SQLiteStorage) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, store.Rules().Create(context.Background(), &models.Rule{
		ID:            uuid.New().String(),
		Name:          "SSH brute force",
		Slug:          "ssh-brute-force",
		EventType:     models.EventTypeSSHFailedLogin,
		Severity:      models.SeverityHigh,
		Threshold:     3,
		WindowMinutes: 5,
		Enabled:       true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}))
}

func sshEvent(ts time.Time) *Event {
	return &Event{
		Timestamp:  ts,
		EventType:  models.EventTypeSSHFailedLogin,
		RawMessage: "Failed password for root from 203.0.113.7 port 22 ssh2",
		SourceIP:   "203.0.113.7",
		Username:   "root",
		Metadata:   map[string]any{"port": 22},
	}
}

func TestService_IngestRaisesAlertAtThreshold(t *testing.T) {
	store := openStore(t)
	svc := newPipeline(t, store)
	machine, _ := registerMachine(t, store)
	addSSHRule(t, store)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Minute)
	var results []*Result
	for i := 0; i < 3; i++ {
		res, err := svc.Ingest(ctx, machine, TransportHTTP, sshEvent(base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
		assert.Equal(t, StatusIngested, res.Status)
		assert.NotEmpty(t, res.ID)
		results = append(results, res)
	}
	assert.Equal(t, 0, results[0].Alerts)
	assert.Equal(t, 0, results[1].Alerts)
	assert.Equal(t, 1, results[2].Alerts)

	alerts, total, err := store.Alerts().List(ctx, &storage.AlertFilter{})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	assert.Equal(t, "203.0.113.7", alerts[0].SourceIP)
	assert.Equal(t, "root", alerts[0].Metadata["username"])

	m, err := store.Machines().GetByID(ctx, machine.ID)
	require.NoError(t, err)
	assert.NotNil(t, m.LastHeartbeat)

	events, err := store.Events().List(ctx, &storage.EventFilter{MachineID: machine.ID})
	require.NoError(t, err)
	assert.Len(t, events, 3)
	assert.Equal(t, models.SeverityInfo, events[0].Severity)
}

func TestService_IngestRejectsInvalidEvents(t *testing.T) {
	store := openStore(t)
	svc := newPipeline(t, store)
	machine, _ := registerMachine(t, store)
	now := time.Now().UTC()

	tests := []struct {
		name  string
		event *Event
	}{
		{"nil", nil},
		{"missing timestamp", &Event{EventType: "x", RawMessage: "m"}},
		{"missing event type", &Event{Timestamp: now, RawMessage: "m"}},
		{"missing raw message", &Event{Timestamp: now, EventType: "x"}},
		{"bad source ip", &Event{Timestamp: now, EventType: "x", RawMessage: "m", SourceIP: "not-an-ip"}},
		{"bad severity", &Event{Timestamp: now, EventType: "x", RawMessage: "m", Severity: "urgent"}},
		{"nested metadata", &Event{Timestamp: now, EventType: "x", RawMessage: "m", Metadata: map[string]any{"a": map[string]any{"b": 1}}}},
		{"year 2300", &Event{Timestamp: time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC), EventType: "x", RawMessage: "m"}},
		{"before epoch", &Event{Timestamp: time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC), EventType: "x", RawMessage: "m"}},
		{"too far ahead", &Event{Timestamp: now.Add(MaxClockSkew + time.Hour), EventType: "x", RawMessage: "m"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.Ingest(context.Background(), machine, TransportHTTP, tt.event)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, alerting.ErrInvalidEvent)
		})
	}

	n, err := store.Events().Count(context.Background(), &storage.EventFilter{MachineID: machine.ID})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestService_IngestRejectsInactiveMachine(t *testing.T) {
	store := openStore(t)
	svc := newPipeline(t, store)
	machine, _ := registerMachine(t, store)
	machine.IsActive = false

	_, err := svc.Ingest(context.Background(), machine, TransportGRPC, sshEvent(time.Now()))
	assert.ErrorIs(t, err, alerting.ErrUnknownMachine)

	_, err = svc.Ingest(context.Background(), nil, TransportGRPC, sshEvent(time.Now()))
	assert.ErrorIs(t, err, alerting.ErrUnknownMachine)
}

type failingEvaluator struct{ err error }

func (f failingEvaluator) EvaluateEvent(context.Context, *models.LogEvent, *models.Machine) ([]*models.Alert, error) {
	return nil, f.err
}

func TestService_EvaluationFailureKeepsEvent(t *testing.T) {
	store := openStore(t)
	machine, _ := registerMachine(t, store)
	svc := NewService(store.Events(), store.Machines(),
		failingEvaluator{err: alerting.ErrContention}, zap.NewNop().Sugar())

	res, err := svc.Ingest(context.Background(), machine, TransportHTTP, sshEvent(time.Now()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, alerting.ErrContention))
	require.NotNil(t, res)
	assert.True(t, IsStored(res, err))

	n, err := store.Events().Count(context.Background(), &storage.EventFilter{MachineID: machine.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
