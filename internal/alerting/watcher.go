package alerting

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/siemlite/internal/storage"
)

const defaultReloadDebounce = 250 * time.Millisecond

// RuleWatcher re-syncs a rules file into the rule store whenever it changes.
type RuleWatcher struct {
	path     string
	repo     storage.RuleRepository
	logger   *zap.SugaredLogger
	debounce time.Duration
	watcher  *fsnotify.Watcher
}

// NewRuleWatcher watches path. The parent directory is watched so that
// editors that replace the file by rename are picked up.
func NewRuleWatcher(path string, repo storage.RuleRepository, logger *zap.SugaredLogger) (*RuleWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve rules path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(absPath), err)
	}

	return &RuleWatcher{
		path:     absPath,
		repo:     repo,
		logger:   logger,
		debounce: defaultReloadDebounce,
		watcher:  watcher,
	}, nil
}

// Sync loads the rules file and applies it to the store once.
func (w *RuleWatcher) Sync(ctx context.Context) (SyncResult, error) {
	rules, err := LoadRulesFromFile(w.path)
	if err != nil {
		return SyncResult{}, err
	}
	return SyncRules(ctx, w.repo, rules)
}

// Run processes file events until ctx is done. A file that fails to parse is
// logged and the previously synced rules stay in effect.
func (w *RuleWatcher) Run(ctx context.Context) error {
	var (
		timer   *time.Timer
		reloadC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Editors often emit several events per save.
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			reloadC = timer.C
		case <-reloadC:
			reloadC = nil
			w.reload(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warnw("rules watcher error", "path", w.path, "error", err)
		}
	}
}

func (w *RuleWatcher) reload(ctx context.Context) {
	res, err := w.Sync(ctx)
	if err != nil {
		w.logger.Errorw("rules reload failed", "path", w.path, "error", err)
		return
	}
	w.logger.Infow("rules reloaded",
		"path", w.path, "created", res.Created, "updated", res.Updated, "unchanged", res.Unchanged)
}

// Close stops watching.
func (w *RuleWatcher) Close() error {
	return w.watcher.Close()
}
