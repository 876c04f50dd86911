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

package realtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamPublishesSamplesToPubSub(t *testing.T) {
	p := NewPubSub(0, 0, nil)
	received := make(chan any, 8)
	p.Subscribe("ticks", "sub-1", false, func(msg any) { received <- msg })

	m := NewStreamManager(p, nil)
	var n int32
	s := m.Start("s1", "ticks", 5*time.Millisecond, time.Second, 10, func(ctx context.Context) (any, error) {
		return atomic.AddInt32(&n, 1), nil
	})
	defer s.Stop()

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stream sample")
	}
}

func TestStreamRetainsBoundedHistory(t *testing.T) {
	p := NewPubSub(0, 0, nil)
	m := NewStreamManager(p, nil)
	var n int32
	s := m.Start("s1", "ticks", 2*time.Millisecond, time.Second, 3, func(ctx context.Context) (any, error) {
		return atomic.AddInt32(&n, 1), nil
	})
	defer s.Stop()

	require.Eventually(t, func() bool {
		return len(s.History()) == 3
	}, time.Second, 2*time.Millisecond)

	history := s.History()
	assert.Len(t, history, 3)
}

func TestStreamBacksOffOnErrorAndRecovers(t *testing.T) {
	p := NewPubSub(0, 0, nil)
	m := NewStreamManager(p, nil)

	var calls int32
	s := m.Start("s1", "ticks", 2*time.Millisecond, 50*time.Millisecond, 5, func(ctx context.Context) (any, error) {
		c := atomic.AddInt32(&calls, 1)
		if c <= 2 {
			return nil, errors.New("transient failure")
		}
		return c, nil
	})
	defer s.Stop()

	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return snap.State == StreamRunning && snap.LastErr == ""
	}, time.Second, 2*time.Millisecond)
}

func TestStreamPauseStopsProduction(t *testing.T) {
	p := NewPubSub(0, 0, nil)
	m := NewStreamManager(p, nil)
	var n int32
	s := m.Start("s1", "ticks", 2*time.Millisecond, time.Second, 10, func(ctx context.Context) (any, error) {
		return atomic.AddInt32(&n, 1), nil
	})
	defer s.Stop()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&n) > 0 }, time.Second, 2*time.Millisecond)
	s.Pause()
	assert.Equal(t, StreamPaused, s.Snapshot().State)

	time.Sleep(20 * time.Millisecond)
	countAfterPause := atomic.LoadInt32(&n)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, countAfterPause, atomic.LoadInt32(&n), "paused stream must not keep producing")

	s.Resume()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&n) > countAfterPause }, time.Second, 2*time.Millisecond)
}

func TestStreamManagerStopAllTerminatesEveryStream(t *testing.T) {
	p := NewPubSub(0, 0, nil)
	m := NewStreamManager(p, nil)
	m.Start("s1", "a", 2*time.Millisecond, time.Second, 0, func(ctx context.Context) (any, error) { return 1, nil })
	m.Start("s2", "b", 2*time.Millisecond, time.Second, 0, func(ctx context.Context) (any, error) { return 1, nil })

	m.StopAll()
	assert.Empty(t, m.List())
}
