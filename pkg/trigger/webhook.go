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
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"golang.org/x/time/rate"

	"github.com/tombee/conductor/internal/tracing"
)

// WebhookConfig is the opaque config of a WEBHOOK TriggerConfig (§4.9).
type WebhookConfig struct {
	Path             string
	Methods          []string
	Secret           string
	RequireSignature bool
	SignatureHeader  string
	RateLimit        int // requests per window, 0 means reject every request
	RateWindow       time.Duration
	InputMapping     map[string]string // dotted source path -> target input key
}

// DefaultWebhookConfig mirrors triggers/webhook.py's WebhookConfig defaults.
func DefaultWebhookConfig() WebhookConfig {
	return WebhookConfig{
		Methods:         []string{"POST"},
		SignatureHeader: "X-Webhook-Signature",
		RateLimit:       100,
		RateWindow:      time.Minute,
	}
}

// WebhookRequest is the inbound request data the caller's HTTP layer
// extracts and hands to Handle (HTTP transport itself is out of scope, §1).
// CorrelationID carries the inbound X-Correlation-ID/X-Request-ID header
// value, if any; Handle validates it or mints a fresh one (internal/tracing).
type WebhookRequest struct {
	Method        string
	RemoteIP      string
	Body          []byte
	Signature     string // raw header value, "sha256=" prefix optional
	CorrelationID string
}

// WebhookOutcome carries the HTTP status contract from §6 alongside the
// trigger Result. CorrelationID should be echoed back by the caller's HTTP
// layer as the X-Correlation-ID response header (internal/tracing).
type WebhookOutcome struct {
	Status        int
	Result        Result
	CorrelationID string
}

// Webhook is the WEBHOOK trigger (§4.9). Grounded on
// internal/controller/webhook/router.go's route/verify/map shape and
// internal/controller/webhook/github.go's HMAC verification, adapted to the
// trigger-as-library contract (no bound HTTP mux; callers own the server).
type Webhook struct {
	base
	cfg WebhookConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewWebhook constructs a Webhook trigger.
func NewWebhook(tc Config, wc WebhookConfig, disp Dispatcher) *Webhook {
	if wc.RateWindow <= 0 {
		wc.RateWindow = time.Minute
	}
	if wc.SignatureHeader == "" {
		wc.SignatureHeader = "X-Webhook-Signature"
	}
	return &Webhook{
		base:     newBase(tc, disp),
		cfg:      wc,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (w *Webhook) Start() error { w.mu.Lock(); w.started = true; w.mu.Unlock(); return nil }
func (w *Webhook) Stop() error  { w.mu.Lock(); w.started = false; w.mu.Unlock(); return nil }

// Fire is not used directly for webhooks; use Handle, which enforces method,
// rate-limit and signature checks before ever calling Fire semantics.
func (w *Webhook) Fire(inputs, metadata map[string]any) Result {
	return w.dispatch(inputs, metadata)
}

// Handle processes one inbound HTTP request end to end (§4.9, §6 status
// contract): method check (405), rate cap (429), signature (401), payload
// mapping, then dispatch (200). No workflow execution is attempted on any
// rejection (§7 "webhook auth").
func (w *Webhook) Handle(req WebhookRequest) WebhookOutcome {
	corrID := resolveCorrelationID(req.CorrelationID).String()

	if !w.isLive() {
		return WebhookOutcome{Status: 503, Result: w.failedResult("trigger not active", nil), CorrelationID: corrID}
	}

	if !methodAllowed(w.cfg.Methods, req.Method) {
		return WebhookOutcome{Status: 405, Result: w.failedResult("method not allowed: "+req.Method, nil), CorrelationID: corrID}
	}

	if !w.allowRate(req.RemoteIP) {
		return WebhookOutcome{Status: 429, Result: w.failedResult("rate limit exceeded", nil), CorrelationID: corrID}
	}

	if w.cfg.RequireSignature {
		if !verifyHMAC(w.cfg.Secret, req.Body, req.Signature) {
			return WebhookOutcome{Status: 401, Result: w.failedResult("signature verification failed", nil), CorrelationID: corrID}
		}
	}

	var payload map[string]any
	if len(req.Body) > 0 {
		if err := json.Unmarshal(req.Body, &payload); err != nil {
			return WebhookOutcome{Status: 400, Result: w.failedResult("invalid payload: "+err.Error(), nil), CorrelationID: corrID}
		}
	}
	if payload == nil {
		payload = map[string]any{}
	}

	inputs := mapInputs(payload, w.cfg.InputMapping)
	inputs["_payload"] = payload

	res := w.dispatch(inputs, map[string]any{"method": req.Method, "remote_ip": req.RemoteIP, "correlation_id": corrID})
	if !res.Success {
		return WebhookOutcome{Status: 500, Result: res, CorrelationID: corrID}
	}
	return WebhookOutcome{Status: 200, Result: res, CorrelationID: corrID}
}

// resolveCorrelationID validates an inbound header value against
// internal/tracing's UUID contract, or mints a fresh one, so every webhook
// dispatch is traceable the way tracing.CorrelationMiddleware makes a bound
// HTTP server's requests traceable.
func resolveCorrelationID(raw string) tracing.CorrelationID {
	if raw != "" {
		if id, ok := tracing.ValidateUUID(raw); ok {
			return id
		}
	}
	return tracing.NewCorrelationID()
}

func methodAllowed(allowed []string, method string) bool {
	if len(allowed) == 0 {
		allowed = []string{"POST"}
	}
	for _, m := range allowed {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// allowRate enforces a per-IP token bucket sized from RateLimit/RateWindow
// (§4.9), the same golang.org/x/time/rate approach pkg/alert/channels.go
// uses for its per-channel cap. RateLimit<=0 rejects every request (§8
// boundary behavior): burst 0 never admits a token.
func (w *Webhook) allowRate(ip string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	lim, ok := w.limiters[ip]
	if !ok {
		lim = w.newLimiter()
		w.limiters[ip] = lim
	}
	return lim.Allow()
}

func (w *Webhook) newLimiter() *rate.Limiter {
	if w.cfg.RateLimit <= 0 {
		return rate.NewLimiter(0, 0)
	}
	perSecond := rate.Limit(float64(w.cfg.RateLimit) / w.cfg.RateWindow.Seconds())
	return rate.NewLimiter(perSecond, w.cfg.RateLimit)
}

// verifyHMAC computes HMAC-SHA256 of body with secret and compares it
// constant-time to signature, accepting an optional "sha256=" prefix on the
// header value (§4.9, §6).
func verifyHMAC(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected))
}

// mapInputs applies input_mapping (dotted source paths -> target keys)
// against the parsed payload (§4.9). Unmapped fields are not copied; the
// full payload is always available separately as "_payload".
func mapInputs(payload map[string]any, mapping map[string]string) map[string]any {
	out := make(map[string]any, len(mapping))
	for target, source := range mapping {
		if v, ok := dottedLookup(payload, source); ok {
			out[target] = v
		}
	}
	return out
}

// dottedLookup resolves "a.b.c" or "a.b[0].c" style paths over a parsed
// payload by translating them into a rooted JSONPath expression and
// delegating to jsonpath.Get, which gives §4.9's "dotted source paths"
// mapping the full JSONPath grammar for free.
func dottedLookup(root any, path string) (any, bool) {
	v, err := jsonpath.Get("$."+path, root)
	if err != nil {
		return nil, false
	}
	return v, true
}
