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

package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternMatching(t *testing.T) {
	cases := []struct {
		pattern, eventType string
		want               bool
	}{
		{"*", "anything.happened", true},
		{"workflow.*", "workflow.started", true},
		{"workflow.*", "trigger.fired", false},
		{"workflow.started", "workflow.started", true},
		{"workflow.started", "workflow.completed", false},
	}
	for _, c := range cases {
		b := New(0, nil)
		var got bool
		var wg sync.WaitGroup
		wg.Add(1)
		b.Subscribe(c.pattern, func(Event) { got = true; wg.Done() }, nil)
		n := b.Emit(NewEvent(c.eventType, "test", nil))
		if c.want {
			wg.Wait()
			assert.Equal(t, 1, n)
			assert.True(t, got)
		} else {
			assert.Equal(t, 0, n)
		}
	}
}

func TestSubscriptionOrderPreserved(t *testing.T) {
	b := New(0, nil)
	var order []int
	var mu sync.Mutex
	for i := 0; i < 5; i++ {
		i := i
		b.Subscribe("a.*", func(Event) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}, nil)
	}
	b.Emit(NewEvent("a.b", "test", nil))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestHandlerPanicIsolated(t *testing.T) {
	b := New(0, nil)
	called := false
	b.Subscribe("x", func(Event) { panic("boom") }, nil)
	b.Subscribe("x", func(Event) { called = true }, nil)
	n := b.Emit(NewEvent("x", "test", nil))
	assert.Equal(t, 2, n)
	assert.True(t, called)
}

func TestUnsubscribe(t *testing.T) {
	b := New(0, nil)
	hits := 0
	id := b.Subscribe("x", func(Event) { hits++ }, nil)
	b.Emit(NewEvent("x", "t", nil))
	b.Unsubscribe(id)
	b.Emit(NewEvent("x", "t", nil))
	assert.Equal(t, 1, hits)
}

func TestWaitForDelivers(t *testing.T) {
	b := New(0, nil)
	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Emit(NewEvent("done", "t", map[string]any{"ok": true}))
	}()
	e := b.WaitFor("done", time.Second, nil)
	require.NotNil(t, e)
	assert.Equal(t, true, e.Data["ok"])
}

func TestWaitForTimeout(t *testing.T) {
	b := New(0, nil)
	e := b.WaitFor("never", 20*time.Millisecond, nil)
	assert.Nil(t, e)
}

func TestWaitForPredicate(t *testing.T) {
	b := New(0, nil)
	go func() {
		b.Emit(NewEvent("v", "t", map[string]any{"n": 1}))
		b.Emit(NewEvent("v", "t", map[string]any{"n": 2}))
	}()
	e := b.WaitFor("v", time.Second, func(ev Event) bool {
		n, _ := ev.Data["n"].(int)
		return n == 2
	})
	require.NotNil(t, e)
	assert.Equal(t, 2, e.Data["n"])
}

func TestHistoryBounded(t *testing.T) {
	b := New(3, nil)
	for i := 0; i < 10; i++ {
		b.Emit(NewEvent("t", "s", nil))
	}
	assert.Len(t, b.GetHistory("", 0), 3)
}

func TestHistoryFilterByType(t *testing.T) {
	b := New(0, nil)
	b.Emit(NewEvent("a", "s", nil))
	b.Emit(NewEvent("b", "s", nil))
	b.Emit(NewEvent("a", "s", nil))
	assert.Len(t, b.GetHistory("a", 0), 2)
	assert.Len(t, b.GetHistory("b", 0), 1)
}
