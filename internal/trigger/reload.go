package trigger

import (
	"encoding/json"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/synapsed/synapsed/internal/errs"
	"github.com/synapsed/synapsed/internal/logging"
)

var reloadLog = logging.GetLogger("trigger")

// LoadCategoriesFromFile reads a JSON-encoded []CategoryConfig from path.
func LoadCategoriesFromFile(path string) ([]CategoryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Config("trigger: failed to read pattern file", err)
	}
	var categories []CategoryConfig
	if err := json.Unmarshal(data, &categories); err != nil {
		return nil, errs.Config("trigger: failed to parse pattern file", err)
	}
	return categories, nil
}

// WatchFile watches path for writes and atomically reloads e's snapshot on
// each change, debounced by debounce so a burst of writes (e.g. an editor
// save) produces one reload instead of many. An invalid file on reload
// logs a warning and leaves the live snapshot untouched. The
// returned stop function closes the watcher; it is safe to call once.
func (e *Engine) WatchFile(path string, debounce time.Duration) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errs.Config("trigger: failed to create file watcher", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, errs.Config("trigger: failed to watch pattern file", err)
	}

	done := make(chan struct{})
	go func() {
		var timer *time.Timer
		var timerCh <-chan time.Time
		for {
			select {
			case <-done:
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounce)
				} else {
					timer.Reset(debounce)
				}
				timerCh = timer.C
			case <-timerCh:
				categories, loadErr := LoadCategoriesFromFile(path)
				if loadErr != nil {
					reloadLog.Warn("pattern file reload failed, keeping live snapshot", "error", loadErr)
					continue
				}
				if reloadErr := e.Reload(Config{Categories: categories}); reloadErr != nil {
					reloadLog.Warn("pattern file reload produced an invalid config, keeping live snapshot", "error", reloadErr)
				} else {
					reloadLog.Info("trigger patterns reloaded", "path", path)
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				reloadLog.Warn("pattern file watcher error", "error", werr)
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
