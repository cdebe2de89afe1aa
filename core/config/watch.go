package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch starts an fsnotify watch on the manager's backing file,
// calling Reload whenever the file is written. If the watcher cannot
// be created or the file cannot be added to it, Watch returns that
// error. Once the watch is running, reload failures and watcher errors
// are logged, not returned: a config hot-reload is a convenience, not a
// correctness requirement. The returned stop function closes the watcher.
func (m *Manager) Watch(logger *slog.Logger) (stop func(), err error) {
	if m.path == "" {
		return func() {}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return func() {}, err
	}
	if err := watcher.Add(m.path); err != nil {
		watcher.Close()
		return func() {}, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := m.Reload(); err != nil {
					logger.Warn("retrace config reload failed", "error", err, "path", m.path)
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("retrace config watch error", "error", werr)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
