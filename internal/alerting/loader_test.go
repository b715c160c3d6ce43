package alerting

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/siemlite/internal/models"
)

const sampleRules = `
rules:
  - name: SSH brute force
    description: Repeated failed SSH logins from one address
    event_type: ssh_failed_login
    severity: high
    threshold: 3
    window_minutes: 5
  - name: Sudo storm
    slug: sudo-storm
    event_type: sudo_command
    severity: medium
    threshold: 20
    window_minutes: 10
    enabled: false
`

func TestLoadRules(t *testing.T) {
	rules, err := LoadRules(strings.NewReader(sampleRules))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.Equal(t, "ssh-brute-force", rules[0].Slug)
	assert.Equal(t, models.SeverityHigh, rules[0].Severity)
	assert.Equal(t, 3, rules[0].Threshold)
	assert.True(t, rules[0].Enabled)

	assert.Equal(t, "sudo-storm", rules[1].Slug)
	assert.False(t, rules[1].Enabled)

	fromBytes, err := LoadRulesFromBytes([]byte(sampleRules))
	require.NoError(t, err)
	assert.Equal(t, rules, fromBytes)
}

func TestLoadRules_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad yaml", "rules: [", "failed to parse rules YAML"},
		{"bad severity", "rules:\n  - name: a\n    event_type: x\n    severity: severe\n    threshold: 1\n", "index 0"},
		{"zero threshold", "rules:\n  - name: a\n    event_type: x\n    severity: low\n    threshold: 0\n", "threshold"},
		{"negative window", "rules:\n  - name: a\n    event_type: x\n    severity: low\n    threshold: 1\n    window_minutes: -1\n", "window_minutes"},
		{
			"duplicate slug",
			"rules:\n  - name: Same Name\n    event_type: x\n    severity: low\n    threshold: 1\n  - name: same name\n    event_type: y\n    severity: low\n    threshold: 1\n",
			"already used",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRulesFromBytes([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadRules_Empty(t *testing.T) {
	rules, err := LoadRules(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestSyncRules(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	repo := h.store.Rules()

	rules, err := LoadRulesFromBytes([]byte(sampleRules))
	require.NoError(t, err)

	res, err := SyncRules(ctx, repo, rules)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Created: 2}, res)

	stored, err := repo.GetBySlug(ctx, "ssh-brute-force")
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ID)

	res, err = SyncRules(ctx, repo, rules)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Unchanged: 2}, res)

	rules[0].Threshold = 5
	res, err = SyncRules(ctx, repo, rules)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Updated: 1, Unchanged: 1}, res)

	updated, err := repo.GetBySlug(ctx, "ssh-brute-force")
	require.NoError(t, err)
	assert.Equal(t, stored.ID, updated.ID)
	assert.Equal(t, 5, updated.Threshold)
}

func TestRuleWatcher_ReloadsOnWrite(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	repo := h.store.Rules()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRules), 0o600))

	w, err := NewRuleWatcher(path, repo, zap.NewNop().Sugar())
	require.NoError(t, err)
	w.debounce = 10 * time.Millisecond
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := w.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	changed := strings.Replace(sampleRules, "threshold: 3", "threshold: 7", 1)
	require.NoError(t, os.WriteFile(path, []byte(changed), 0o600))

	require.Eventually(t, func() bool {
		r, err := repo.GetBySlug(context.Background(), "ssh-brute-force")
		return err == nil && r.Threshold == 7
	}, 5*time.Second, 20*time.Millisecond)

	// A broken file keeps the last good rules.
	require.NoError(t, os.WriteFile(path, []byte("rules: ["), 0o600))
	time.Sleep(100 * time.Millisecond)
	r, err := repo.GetBySlug(context.Background(), "ssh-brute-force")
	require.NoError(t, err)
	assert.Equal(t, 7, r.Threshold)

	cancel()
	<-done
}
