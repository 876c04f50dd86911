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
	"context"
	"sync"
	"time"
)

// PollFunc performs one poll attempt, returning inputs to fire with when it
// detects new data, or (nil, nil, false) when there is nothing new.
type PollFunc func(ctx context.Context) (inputs map[string]any, err error, hasData bool)

// PollConfig is the opaque config of an API_POLL TriggerConfig. Grounded on
// internal/controller/polltrigger/ratelimit.go's min-interval + backoff-on-
// error bookkeeping, adapted into the trigger-as-library shape (the
// teacher's version is integration-specific; this is the generic poll loop
// any API_POLL trigger shares).
type PollConfig struct {
	MinInterval time.Duration
	MaxBackoff  time.Duration
}

// Poll is the API_POLL trigger: a loop that calls fn on MinInterval and
// backs off exponentially on repeated errors.
type Poll struct {
	base
	cfg PollConfig
	fn  PollFunc

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoll constructs an API_POLL trigger.
func NewPoll(tc Config, cfg PollConfig, fn PollFunc, disp Dispatcher) *Poll {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 30 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Minute
	}
	return &Poll{base: newBase(tc, disp), cfg: cfg, fn: fn}
}

func (p *Poll) Start() error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.started = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(ctx)
	return nil
}

func (p *Poll) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	return nil
}

func (p *Poll) run(ctx context.Context) {
	defer p.wg.Done()
	interval := p.cfg.MinInterval
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		if !p.isLive() {
			continue
		}
		inputs, err, hasData := p.fn(ctx)
		if err != nil {
			interval *= 2
			if interval > p.cfg.MaxBackoff {
				interval = p.cfg.MaxBackoff
			}
			continue
		}
		interval = p.cfg.MinInterval
		if hasData {
			p.dispatch(inputs, nil)
		}
	}
}

func (p *Poll) Fire(inputs, metadata map[string]any) Result {
	return p.dispatch(inputs, metadata)
}
