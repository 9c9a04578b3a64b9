package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/infrastructure/logger"
)

// RuleWatcher reloads a rules file into the engine whenever it changes.
type RuleWatcher struct {
	path    string
	engine  *RuleEngine
	logger  *logger.Logger
	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

func NewRuleWatcher(path string, engine *RuleEngine, log *logger.Logger) *RuleWatcher {
	if log == nil {
		log = logger.NewNop()
	}
	return &RuleWatcher{path: path, engine: engine, logger: log}
}

// Reload reads the file and replaces the file rule group.
func (w *RuleWatcher) Reload() (int, error) {
	inputs, err := LoadRuleFile(w.path)
	if err != nil {
		return 0, err
	}
	return w.engine.ReplaceGroup(FileRuleGroup, inputs)
}

// Start loads the file once and then watches its directory until ctx is
// done. Editors often replace files by rename, so the directory is watched
// rather than the file.
func (w *RuleWatcher) Start(ctx context.Context) error {
	if _, err := w.Reload(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.watcher = watcher

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

func (w *RuleWatcher) loop(ctx context.Context) {
	defer w.wg.Done()
	target := filepath.Clean(w.path)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			count, err := w.Reload()
			if err != nil {
				w.logger.Errorw("rules_reload_failed", "path", w.path, "error", err)
				continue
			}
			w.logger.Infow("rules_reloaded", "path", w.path, "count", count)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorw("rules_watch_error", "error", err)
		}
	}
}

func (w *RuleWatcher) Close() error {
	if w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
