package alerting

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/siemlite/internal/lock"
	"github.com/good-yellow-bee/siemlite/internal/models"
	"github.com/good-yellow-bee/siemlite/internal/storage"
)

func TestEngine_SSHBruteForceScenario(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	rule := h.addRule(t, "ssh-brute-force", models.SeverityHigh, 3, 5)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Empty(t, h.ingest(t, base, "203.0.113.7"))
	assert.Empty(t, h.ingest(t, base.Add(time.Minute), "203.0.113.7"))

	alerts := h.ingest(t, base.Add(2*time.Minute), "203.0.113.7")
	require.Len(t, alerts, 1)
	alert := alerts[0]
	assert.Equal(t, rule.ID, alert.RuleID)
	assert.Equal(t, "203.0.113.7", alert.SourceIP)
	assert.Equal(t, 3, alert.Occurrences)
	assert.Equal(t, models.SeverityHigh, alert.Severity)
	assert.Equal(t, models.AlertStatusOpen, alert.Status)
	assert.Equal(t, "Rule 'Rule ssh-brute-force' triggered on web-01.example.com", alert.Title)
	assert.Equal(t, "detects ssh-brute-force", alert.Description)
	assert.Equal(t, "root", alert.Metadata["username"])
	assert.False(t, alert.IsEscalated)

	updated := h.ingest(t, base.Add(3*time.Minute), "203.0.113.7")
	require.Len(t, updated, 1)
	assert.Equal(t, alert.ID, updated[0].ID)
	assert.Equal(t, 4, updated[0].Occurrences)
	assert.Equal(t, alert.FirstSeen, updated[0].FirstSeen)
	assert.False(t, updated[0].LastSeen.Before(alert.LastSeen))

	calls := h.notifier.all()
	require.Len(t, calls, 1)
	assert.Equal(t, models.NotifyReasonCreated, calls[0].reason)
	assert.Equal(t, alert.ID, calls[0].alertID)

	// A different source address is a separate incident.
	for i := 0; i < 3; i++ {
		h.ingest(t, base.Add(time.Duration(i)*time.Second), "198.51.100.9")
	}
	assert.Len(t, h.listAlerts(t, &storage.AlertFilter{Status: models.AlertStatusOpen}), 2)
	assert.Equal(t, 2, h.notifier.count(models.NotifyReasonCreated))
}

func TestEngine_EscalationScenario(t *testing.T) {
	h := newHarness(t, Config{EscalationThreshold: 10})
	h.addRule(t, "repeated-failures", models.SeverityHigh, 1, 60)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var last *models.Alert
	for i := 0; i < 12; i++ {
		alerts := h.ingest(t, base.Add(time.Duration(i)*time.Minute), "")
		require.Len(t, alerts, 1)
		last = alerts[0]
		assert.Equal(t, i+1, last.Occurrences)
		assert.Equal(t, i+1 >= 10, last.IsEscalated, "occurrence %d", i+1)
	}

	assert.Equal(t, 1, h.notifier.count(models.NotifyReasonCreated))
	assert.Equal(t, 1, h.notifier.count(models.NotifyReasonEscalated))
	require.NotNil(t, last.EscalatedAt)

	history, total, err := h.store.Alerts().History(context.Background(), last.ID, 100, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 13, total)
	actions := map[models.HistoryAction]int{}
	for _, entry := range history {
		actions[entry.Action]++
	}
	assert.Equal(t, 1, actions[models.HistoryCreated])
	assert.Equal(t, 11, actions[models.HistoryUpdated])
	assert.Equal(t, 1, actions[models.HistoryEscalated])
}

func TestEngine_CriticalEscalatesAtCreationWithSingleNotification(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	rule := h.addRule(t, "root-login", models.SeverityCritical, 1, 5)

	alert, err := h.engine.Upsert(context.Background(), UpsertRequest{Rule: rule, MachineID: h.machine.ID, Occurrences: 1})
	require.NoError(t, err)
	assert.True(t, alert.IsEscalated)

	calls := h.notifier.all()
	require.Len(t, calls, 1)
	assert.Equal(t, models.NotifyReasonCreated, calls[0].reason)
	assert.True(t, calls[0].escalated)

	// Further breaches never escalate again.
	_, err = h.engine.Upsert(context.Background(), UpsertRequest{Rule: rule, MachineID: h.machine.ID, Occurrences: 1})
	require.NoError(t, err)
	assert.Len(t, h.notifier.all(), 1)
}

func TestEngine_SeverityNeverDecreases(t *testing.T) {
	h := newHarness(t, Config{EscalationThreshold: 1000})
	rule := h.addRule(t, "sev", models.SeverityLow, 1, 5)
	ctx := context.Background()

	req := UpsertRequest{Rule: rule, MachineID: h.machine.ID, Occurrences: 1}
	a, err := h.engine.Upsert(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityLow, a.Severity)

	req.Severity = models.SeverityHigh
	a, err = h.engine.Upsert(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityHigh, a.Severity)

	req.Severity = models.SeverityMedium
	a, err = h.engine.Upsert(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityHigh, a.Severity)

	req.Severity = ""
	a, err = h.engine.Upsert(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityHigh, a.Severity)
	assert.Equal(t, 4, a.Occurrences)
}

func TestEngine_OccurrencesTakeWindowCount(t *testing.T) {
	h := newHarness(t, Config{EscalationThreshold: 1000})
	rule := h.addRule(t, "occ", models.SeverityLow, 1, 5)
	ctx := context.Background()

	a, err := h.engine.Upsert(ctx, UpsertRequest{Rule: rule, MachineID: h.machine.ID, Occurrences: 0})
	require.NoError(t, err)
	assert.Equal(t, 1, a.Occurrences)

	a, err = h.engine.Upsert(ctx, UpsertRequest{Rule: rule, MachineID: h.machine.ID, Occurrences: 7})
	require.NoError(t, err)
	assert.Equal(t, 7, a.Occurrences)

	// A smaller window count never lowers the total.
	a, err = h.engine.Upsert(ctx, UpsertRequest{Rule: rule, MachineID: h.machine.ID, Occurrences: 2})
	require.NoError(t, err)
	assert.Equal(t, 8, a.Occurrences)
}

func TestEngine_MetadataExistingKeysWin(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	rule := h.addRule(t, "md", models.SeverityLow, 1, 5)
	ctx := context.Background()

	_, err := h.engine.Upsert(ctx, UpsertRequest{
		Rule: rule, MachineID: h.machine.ID, Occurrences: 1,
		Metadata: models.Metadata{"username": "root", "port": 22},
	})
	require.NoError(t, err)

	a, err := h.engine.Upsert(ctx, UpsertRequest{
		Rule: rule, MachineID: h.machine.ID, Occurrences: 1,
		Metadata: models.Metadata{"username": "admin", "tty": "pts/0"},
	})
	require.NoError(t, err)
	assert.Equal(t, "root", a.Metadata["username"])
	assert.Equal(t, int64(22), a.Metadata["port"])
	assert.Equal(t, "pts/0", a.Metadata["tty"])

	_, err = h.engine.Upsert(ctx, UpsertRequest{
		Rule: rule, MachineID: h.machine.ID, Occurrences: 1,
		Metadata: models.Metadata{"nested": map[string]any{"a": 1}},
	})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestEngine_ClosedAlertIsNotReopened(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	rule := h.addRule(t, "closed", models.SeverityMedium, 1, 5)
	ctx := context.Background()
	req := UpsertRequest{Rule: rule, MachineID: h.machine.ID, SourceIP: "10.0.0.1", Occurrences: 1}

	first, err := h.engine.Upsert(ctx, req)
	require.NoError(t, err)
	_, err = h.store.Alerts().SetStatus(ctx, first.ID, models.AlertStatusClosed, "analyst")
	require.NoError(t, err)

	second, err := h.engine.Upsert(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, models.AlertStatusOpen, second.Status)
	assert.Equal(t, 1, second.Occurrences)

	reloaded, err := h.store.Alerts().GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusClosed, reloaded.Status)
	assert.Equal(t, 2, h.notifier.count(models.NotifyReasonCreated))
}

func TestEngine_ConcurrentCreateYieldsOneAlert(t *testing.T) {
	h := newHarness(t, Config{EscalationThreshold: 1000})
	rule := h.addRule(t, "race", models.SeverityMedium, 1, 5)

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.Upsert(context.Background(), UpsertRequest{
				Rule: rule, MachineID: h.machine.ID, SourceIP: "192.0.2.1", Occurrences: 1,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	alerts := h.listAlerts(t, &storage.AlertFilter{RuleID: rule.ID})
	require.Len(t, alerts, 1)
	assert.Equal(t, workers, alerts[0].Occurrences)
	assert.Equal(t, 1, h.notifier.count(models.NotifyReasonCreated))
}

// racyAlerts hides the open alert from the first FindOpen, as if another
// writer committed it between the read and the insert.
type racyAlerts struct {
	storage.AlertRepository
	mu     sync.Mutex
	hidden bool
}

type racyTx struct {
	storage.AlertTx
	parent *racyAlerts
}

func (r *racyAlerts) WithinTx(ctx context.Context, fn func(tx storage.AlertTx) error) error {
	return r.AlertRepository.WithinTx(ctx, func(tx storage.AlertTx) error {
		return fn(&racyTx{AlertTx: tx, parent: r})
	})
}

func (t *racyTx) FindOpen(ctx context.Context, key models.DedupKey) (*models.Alert, error) {
	t.parent.mu.Lock()
	defer t.parent.mu.Unlock()
	if !t.parent.hidden {
		t.parent.hidden = true
		return nil, nil
	}
	return t.AlertTx.FindOpen(ctx, key)
}

func TestEngine_RetriesWhenInsertRaces(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	rule := h.addRule(t, "retry", models.SeverityLow, 1, 5)
	ctx := context.Background()
	req := UpsertRequest{Rule: rule, MachineID: h.machine.ID, Occurrences: 1}

	existing, err := h.engine.Upsert(ctx, req)
	require.NoError(t, err)

	racy := &racyAlerts{AlertRepository: h.store.Alerts()}
	engine := NewEngine(racy, h.store.Machines(), lock.NewLocalLocker(time.Second), h.notifier, DefaultConfig(), zap.NewNop().Sugar())

	a, err := engine.Upsert(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, a.ID)
	assert.Equal(t, 2, a.Occurrences)
	assert.Equal(t, 1, h.notifier.count(models.NotifyReasonCreated))
}

func TestEngine_RetryExhaustionIsContention(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	rule := h.addRule(t, "exhaust", models.SeverityLow, 1, 5)
	ctx := context.Background()
	req := UpsertRequest{Rule: rule, MachineID: h.machine.ID, Occurrences: 1}

	_, err := h.engine.Upsert(ctx, req)
	require.NoError(t, err)

	racy := &racyAlerts{AlertRepository: h.store.Alerts()}
	engine := NewEngine(racy, h.store.Machines(), lock.NewLocalLocker(time.Second), nil,
		Config{MaxUpsertAttempts: 1}, zap.NewNop().Sugar())

	_, err = engine.Upsert(ctx, req)
	assert.ErrorIs(t, err, ErrContention)
	assert.ErrorIs(t, err, storage.ErrOpenAlertExists)
}

type timeoutLocker struct{}

func (timeoutLocker) Lock(_ context.Context, key string) (func(), error) {
	return nil, fmt.Errorf("%w: %s", lock.ErrLockTimeout, key)
}

func TestEngine_LockTimeoutIsContention(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	rule := h.addRule(t, "locked", models.SeverityLow, 1, 5)
	engine := NewEngine(h.store.Alerts(), h.store.Machines(), timeoutLocker{}, h.notifier, DefaultConfig(), zap.NewNop().Sugar())

	_, err := engine.Upsert(context.Background(), UpsertRequest{Rule: rule, MachineID: h.machine.ID, Occurrences: 1})
	assert.ErrorIs(t, err, ErrContention)
	assert.ErrorIs(t, err, lock.ErrLockTimeout)
	assert.Empty(t, h.notifier.all())
}

func TestEngine_RejectsUnknownAndInactiveMachines(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	rule := h.addRule(t, "machines", models.SeverityLow, 1, 5)
	ctx := context.Background()

	_, err := h.engine.Upsert(ctx, UpsertRequest{Rule: rule, MachineID: "no-such-machine", Occurrences: 1})
	assert.ErrorIs(t, err, ErrUnknownMachine)

	require.NoError(t, h.store.Machines().SetActive(ctx, h.machine.ID, false))
	_, err = h.engine.Upsert(ctx, UpsertRequest{Rule: rule, MachineID: h.machine.ID, Occurrences: 1})
	assert.ErrorIs(t, err, ErrUnknownMachine)

	_, err = h.engine.Upsert(ctx, UpsertRequest{MachineID: h.machine.ID})
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = h.engine.Upsert(ctx, UpsertRequest{Rule: rule, MachineID: h.machine.ID, Severity: "severe"})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestEngine_OverridesAndHostnameFallback(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	rule := h.addRule(t, "overrides", models.SeverityLow, 1, 5)
	bare := h.addMachine(t, "bare")
	bare.Hostname = ""

	a, err := h.engine.Upsert(context.Background(), UpsertRequest{
		Rule: rule, Machine: bare, Occurrences: 1,
		Description: "custom description", Severity: models.SeverityMedium,
	})
	require.NoError(t, err)
	assert.Equal(t, "Rule 'Rule overrides' triggered on bare", a.Title)
	assert.Equal(t, "custom description", a.Description)
	assert.Equal(t, models.SeverityMedium, a.Severity)

	b, err := h.engine.Upsert(context.Background(), UpsertRequest{
		Rule: rule, MachineID: h.machine.ID, Occurrences: 1, Title: "custom title",
	})
	require.NoError(t, err)
	assert.Equal(t, "custom title", b.Title)
}
