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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookHMACAndMapping(t *testing.T) {
	secret := "s"
	body := []byte(`{"ref":"main","after":"abc123","_ignored":1}`)
	var gotWorkflow string
	var gotInputs map[string]any

	wh := NewWebhook(
		Config{ID: "wh1", WorkflowID: "wf-1", Enabled: true},
		WebhookConfig{
			RequireSignature: true,
			Secret:           secret,
			InputMapping:     map[string]string{"branch": "ref", "commit": "after"},
			RateLimit:        100,
		},
		func(workflowID string, inputs map[string]any) (string, error) {
			gotWorkflow = workflowID
			gotInputs = inputs
			return "exec-1", nil
		},
	)
	require.NoError(t, wh.Start())

	out := wh.Handle(WebhookRequest{Method: "POST", RemoteIP: "1.2.3.4", Body: body, Signature: sign(secret, body)})
	assert.Equal(t, 200, out.Status)
	assert.True(t, out.Result.Success)
	assert.Equal(t, "wf-1", gotWorkflow)
	assert.Equal(t, "main", gotInputs["branch"])
	assert.Equal(t, "abc123", gotInputs["commit"])
	payload, ok := gotInputs["_payload"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, payload["_ignored"])
}

func TestWebhookBadSignature(t *testing.T) {
	wh := NewWebhook(
		Config{ID: "wh1", WorkflowID: "wf-1", Enabled: true},
		WebhookConfig{RequireSignature: true, Secret: "s", RateLimit: 100},
		nil,
	)
	require.NoError(t, wh.Start())
	out := wh.Handle(WebhookRequest{Method: "POST", RemoteIP: "ip", Body: []byte(`{}`), Signature: "sha256=deadbeef"})
	assert.Equal(t, 401, out.Status)
	assert.False(t, out.Result.Success)
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	wh := NewWebhook(Config{ID: "wh1", WorkflowID: "wf-1", Enabled: true}, WebhookConfig{RateLimit: 100}, nil)
	require.NoError(t, wh.Start())
	out := wh.Handle(WebhookRequest{Method: "GET", RemoteIP: "ip", Body: []byte(`{}`)})
	assert.Equal(t, 405, out.Status)
}

func TestWebhookRateLimitZeroRejectsEverything(t *testing.T) {
	wh := NewWebhook(Config{ID: "wh1", WorkflowID: "wf-1", Enabled: true}, WebhookConfig{RateLimit: 0}, nil)
	require.NoError(t, wh.Start())
	out := wh.Handle(WebhookRequest{Method: "POST", RemoteIP: "ip", Body: []byte(`{}`)})
	assert.Equal(t, 429, out.Status)
}

func TestWebhookRateLimitExceeded(t *testing.T) {
	wh := NewWebhook(Config{ID: "wh1", WorkflowID: "wf-1", Enabled: true}, WebhookConfig{RateLimit: 1}, func(string, map[string]any) (string, error) { return "e", nil })
	require.NoError(t, wh.Start())
	first := wh.Handle(WebhookRequest{Method: "POST", RemoteIP: "ip", Body: []byte(`{}`)})
	second := wh.Handle(WebhookRequest{Method: "POST", RemoteIP: "ip", Body: []byte(`{}`)})
	assert.Equal(t, 200, first.Status)
	assert.Equal(t, 429, second.Status)
}

func TestDottedLookupWithIndex(t *testing.T) {
	payload := map[string]any{
		"commits": []any{
			map[string]any{"id": "a1"},
			map[string]any{"id": "b2"},
		},
	}
	v, ok := dottedLookup(payload, "commits[1].id")
	require.True(t, ok)
	assert.Equal(t, "b2", v)
}
