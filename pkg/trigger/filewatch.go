// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package trigger

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// fsEventTypes maps fsnotify operations to the FILE_WATCH event names a
// workflow's input_mapping can reference. Grounded on
// internal/controller/filewatcher/watcher.go's eventTypeMap; fsnotify.Chmod
// is intentionally left unmapped, matching the teacher.
var fsEventTypes = map[fsnotify.Op]string{
	fsnotify.Create: "created",
	fsnotify.Write:  "modified",
	fsnotify.Remove: "deleted",
	fsnotify.Rename: "renamed",
}

// FileWatchConfig is the opaque config of a FILE_WATCH TriggerConfig (§3).
// Path is watched non-recursively; Events restricts which of
// created/modified/deleted/renamed fire the trigger (empty means all).
type FileWatchConfig struct {
	Path   string
	Events []string
}

// FileWatch is the FILE_WATCH trigger: one fsnotify watch on Path, firing
// with {path, event, size, mtime, is_dir} inputs on each matching event.
// Grounded on internal/controller/filewatcher/watcher.go, adapted from a
// standalone Watcher type into a Trigger implementation sharing base's
// pause/disable/history bookkeeping.
type FileWatch struct {
	base
	cfg FileWatchConfig

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewFileWatch constructs a FILE_WATCH trigger for cfg.Path.
func NewFileWatch(tc Config, cfg FileWatchConfig, disp Dispatcher) *FileWatch {
	return &FileWatch{base: newBase(tc, disp), cfg: cfg}
}

func (f *FileWatch) allowed(eventType string) bool {
	if len(f.cfg.Events) == 0 {
		return true
	}
	for _, e := range f.cfg.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

func (f *FileWatch) Start() error {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return nil
	}

	absPath, err := filepath.Abs(f.cfg.Path)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		f.mu.Unlock()
		return err
	}
	if err := fsw.Add(absPath); err != nil {
		fsw.Close()
		f.mu.Unlock()
		return err
	}

	f.watcher = fsw
	f.stopCh = make(chan struct{})
	f.doneCh = make(chan struct{})
	f.started = true
	f.mu.Unlock()

	go f.run()
	return nil
}

func (f *FileWatch) run() {
	defer close(f.doneCh)
	for {
		select {
		case <-f.stopCh:
			return
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			f.handle(ev)
		case _, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (f *FileWatch) handle(ev fsnotify.Event) {
	eventType, ok := fsEventTypes[ev.Op]
	if !ok || !f.allowed(eventType) || !f.isLive() {
		return
	}

	var size int64
	var mtime time.Time
	isDir := false
	if eventType != "deleted" {
		if info, err := os.Stat(ev.Name); err == nil {
			size = info.Size()
			mtime = info.ModTime()
			isDir = info.IsDir()
		}
	}

	f.dispatch(map[string]any{
		"path":   ev.Name,
		"event":  eventType,
		"size":   size,
		"mtime":  mtime,
		"is_dir": isDir,
	}, nil)
}

func (f *FileWatch) Stop() error {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return nil
	}
	w := f.watcher
	stopCh := f.stopCh
	doneCh := f.doneCh
	f.watcher = nil
	f.started = false
	f.mu.Unlock()

	close(stopCh)
	<-doneCh
	return w.Close()
}

// Fire allows manually triggering a FILE_WATCH config for tests/tooling,
// bypassing the fsnotify loop.
func (f *FileWatch) Fire(inputs, metadata map[string]any) Result {
	return f.dispatch(inputs, metadata)
}
