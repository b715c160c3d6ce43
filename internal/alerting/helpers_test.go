package alerting

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/siemlite/internal/lock"
	"github.com/good-yellow-bee/siemlite/internal/models"
	"github.com/good-yellow-bee/siemlite/internal/storage"
)

type notification struct {
	alertID   string
	reason    models.NotifyReason
	escalated bool
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notification
}

func (n *recordingNotifier) Notify(_ context.Context, alert *models.Alert, reason models.NotifyReason) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notification{alertID: alert.ID, reason: reason, escalated: alert.IsEscalated})
}

func (n *recordingNotifier) all() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.calls...)
}

func (n *recordingNotifier) count(reason models.NotifyReason) int {
	c := 0
	for _, call := range n.all() {
		if call.reason == reason {
			c++
		}
	}
	return c
}

type harness struct {
	store     *storage.SQLiteStorage
	engine    *Engine
	evaluator *Evaluator
	notifier  *recordingNotifier
	machine   *models.Machine
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "siemlite.db"))
	require.NoError(t, store.Open())
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())

	logger := zap.NewNop().Sugar()
	notifier := &recordingNotifier{}
	engine := NewEngine(store.Alerts(), store.Machines(), lock.NewLocalLocker(5*time.Second), notifier, cfg, logger)

	h := &harness{
		store:     store,
		engine:    engine,
		evaluator: NewEvaluator(store.Rules(), store.Events(), engine, logger),
		notifier:  notifier,
	}
	h.machine = h.addMachine(t, "web-01")
	return h
}

func (h *harness) addMachine(t *testing.T, name string) *models.Machine {
	t.Helper()
	now := time.Now().UTC()
	m := &models.Machine{
		ID:           uuid.New().String(),
		Name:         name,
		Hostname:     name + ".example.com",
		APITokenHash: uuid.New().String(),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, h.store.Machines().Create(context.Background(), m))
	return m
}

func (h *harness) addRule(t *testing.T, slug string, severity models.Severity, threshold, windowMinutes int) *models.Rule {
	t.Helper()
	now := time.Now().UTC()
	r := &models.Rule{
		ID:            uuid.New().String(),
		Name:          "Rule " + slug,
		Slug:          slug,
		Description:   "detects " + slug,
		EventType:     models.EventTypeSSHFailedLogin,
		Severity:      severity,
		Threshold:     threshold,
		WindowMinutes: windowMinutes,
		Enabled:       true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, h.store.Rules().Create(context.Background(), r))
	return r
}

// ingest stores an event and evaluates it, the way the ingestion path does.
func (h *harness) ingest(t *testing.T, ts time.Time, sourceIP string) []*models.Alert {
	t.Helper()
	event := &models.LogEvent{
		ID:         uuid.New().String(),
		MachineID:  h.machine.ID,
		Timestamp:  ts,
		IngestedAt: time.Now().UTC(),
		EventType:  models.EventTypeSSHFailedLogin,
		Severity:   models.SeverityInfo,
		RawMessage: "Failed password for root from " + sourceIP,
		SourceIP:   sourceIP,
		Username:   "root",
	}
	require.NoError(t, h.store.Events().Insert(context.Background(), event))

	alerts, err := h.evaluator.EvaluateEvent(context.Background(), event, nil)
	require.NoError(t, err)
	return alerts
}

func (h *harness) listAlerts(t *testing.T, filter *storage.AlertFilter) []*models.Alert {
	t.Helper()
	alerts, _, err := h.store.Alerts().List(context.Background(), filter)
	require.NoError(t, err)
	return alerts
}
