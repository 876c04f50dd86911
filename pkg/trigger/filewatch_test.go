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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileWatchFiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "watched.txt")
	require.NoError(t, os.WriteFile(target, []byte("v1"), 0o644))

	fired := make(chan map[string]any, 4)
	fw := NewFileWatch(
		Config{ID: "fw1", WorkflowID: "wf-1", Enabled: true},
		FileWatchConfig{Path: dir, Events: []string{"modified", "created"}},
		func(workflowID string, inputs map[string]any) (string, error) {
			fired <- inputs
			return "exec-1", nil
		},
	)
	require.NoError(t, fw.Start())
	defer fw.Stop()

	require.NoError(t, os.WriteFile(target, []byte("v2"), 0o644))

	select {
	case inputs := <-fired:
		assert.Equal(t, target, inputs["path"])
		assert.Contains(t, []any{"modified", "created"}, inputs["event"])
	case <-time.After(2 * time.Second):
		t.Fatal("expected file watch trigger to fire")
	}
}

func TestFileWatchSkipsDisallowedEvents(t *testing.T) {
	dir := t.TempDir()
	fired := make(chan map[string]any, 4)
	fw := NewFileWatch(
		Config{ID: "fw2", WorkflowID: "wf-1", Enabled: true},
		FileWatchConfig{Path: dir, Events: []string{"deleted"}},
		func(workflowID string, inputs map[string]any) (string, error) {
			fired <- inputs
			return "exec-1", nil
		},
	)
	require.NoError(t, fw.Start())
	defer fw.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x"), 0o644))

	select {
	case inputs := <-fired:
		t.Fatalf("unexpected fire for disallowed event: %v", inputs)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestFileWatchDisabledNeverFires(t *testing.T) {
	dir := t.TempDir()
	fired := make(chan map[string]any, 4)
	fw := NewFileWatch(
		Config{ID: "fw3", WorkflowID: "wf-1", Enabled: false},
		FileWatchConfig{Path: dir},
		func(workflowID string, inputs map[string]any) (string, error) {
			fired <- inputs
			return "exec-1", nil
		},
	)
	require.NoError(t, fw.Start())
	defer fw.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x"), 0o644))

	select {
	case inputs := <-fired:
		t.Fatalf("unexpected fire while disabled: %v", inputs)
	case <-time.After(300 * time.Millisecond):
	}
}
