package safety

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"talon/internal/logger"
)

// SentinelWatcher toggles the gate from the filesystem: creating the
// sentinel file activates the kill switch, removing it deactivates. This is
// the ops-facing remote activation path; no network surface is involved.
type SentinelWatcher struct {
	gate    *Gate
	path    string
	watcher *fsnotify.Watcher
}

func NewSentinelWatcher(gate *Gate, path string) (*SentinelWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: the sentinel itself may not exist yet.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, err
	}
	return &SentinelWatcher{gate: gate, path: abs, watcher: w}, nil
}

// Run blocks until ctx is cancelled. The initial filesystem state is applied
// before watching so a sentinel left over from a previous run still engages
// the gate.
func (s *SentinelWatcher) Run(ctx context.Context) error {
	if s == nil || s.watcher == nil {
		return nil
	}
	defer s.watcher.Close()

	s.apply()
	logger.Infof("safety: watching kill sentinel %s", s.path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-s.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(evt.Name) != s.path {
				continue
			}
			if evt.Op.Has(fsnotify.Create) || evt.Op.Has(fsnotify.Write) || evt.Op.Has(fsnotify.Remove) || evt.Op.Has(fsnotify.Rename) {
				s.apply()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("safety: sentinel watcher error: %v", err)
		}
	}
}

func (s *SentinelWatcher) apply() {
	_, err := os.Stat(s.path)
	exists := err == nil
	switch {
	case exists && !s.gate.Active():
		s.gate.Activate("kill sentinel present: "+s.path, "sentinel-watcher")
	case !exists && s.gate.Active():
		// Only release activations the watcher itself made; a manual
		// activation must not be cleared by a missing file.
		if s.gate.Status().ActivatedBy == "sentinel-watcher" {
			s.gate.Deactivate("kill sentinel removed", "sentinel-watcher")
		}
	}
}
