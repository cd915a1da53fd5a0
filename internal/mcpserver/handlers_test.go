package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	cfg := Config{
		APIURL:       ts.URL,
		AgentAddress: "0xAGENT",
	}
	client := NewAgentGateClient(cfg)
	h := NewHandlers(client)
	return h, ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// ============================================================
// Client tests
// ============================================================

func TestClient_DoRequest_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "not_approved",
			"message": "exceeds_max_amount",
		})
	}))
	defer ts.Close()

	client := NewAgentGateClient(Config{APIURL: ts.URL, AgentAddress: "0x1"})
	_, err := client.ExecuteAction(context.Background(), "mnd_1", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "exceeds_max_amount")
}

func TestClient_DoRequest_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewAgentGateClient(Config{APIURL: ts.URL, AgentAddress: "0x1"})
	_, err := client.GetReputation(context.Background(), "0x2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_DoRequest_ConnectionRefused(t *testing.T) {
	client := NewAgentGateClient(Config{APIURL: "http://127.0.0.1:1", AgentAddress: "0x1"})
	_, err := client.GetReputation(context.Background(), "0x2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestClient_DoRequest_CancelledContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Second)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewAgentGateClient(Config{APIURL: ts.URL, AgentAddress: "0x1"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately
	_, err := client.GetReputation(ctx, "0x2")
	require.Error(t, err)
}

func TestClient_ValidateMandate_PathAndBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/mandates/mnd_abc/validate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		body, _ := io.ReadAll(r.Body)
		var action map[string]any
		require.NoError(t, json.Unmarshal(body, &action))
		assert.Equal(t, "transfer", action["type"])
		assert.Equal(t, "1000", action["amount"])

		_, _ = w.Write([]byte(`{"approved":true}`))
	}))
	defer ts.Close()

	client := NewAgentGateClient(Config{APIURL: ts.URL})
	_, err := client.ValidateMandate(context.Background(), "mnd_abc", map[string]any{
		"type": "transfer", "amount": "1000",
	})
	require.NoError(t, err)
}

func TestClient_GetRecentAlerts_LimitParam(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/alerts/0xabc", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"alerts":[]}`))
	}))
	defer ts.Close()

	client := NewAgentGateClient(Config{APIURL: ts.URL})
	_, err := client.GetRecentAlerts(context.Background(), "0xabc", 5)
	require.NoError(t, err)
}

// ============================================================
// Handler tests
// ============================================================

func TestHandleValidateMandate_Approved(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"approved":        true,
			"reason":          "",
			"mandateId":       "mnd_1",
			"remainingBudget": "2000000000000000000",
		})
	}))
	defer cleanup()

	result, err := h.HandleValidateMandate(context.Background(), makeRequest(map[string]any{
		"mandate_id": "mnd_1",
		"recipient":  "0xdead",
		"amount":     "1000000000000000000",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "APPROVED")
	assert.Contains(t, text, "2 tokens")
}

func TestHandleValidateMandate_Denied(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"approved":  false,
			"reason":    "exceeds_max_amount",
			"mandateId": "mnd_1",
		})
	}))
	defer cleanup()

	result, err := h.HandleValidateMandate(context.Background(), makeRequest(map[string]any{
		"mandate_id": "mnd_1",
		"recipient":  "0xdead",
		"amount":     "99",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "DENIED")
	assert.Contains(t, text, "exceeds_max_amount")
}

func TestHandleValidateMandate_MissingArgs(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("API should not be called with missing args")
	}))
	defer cleanup()

	result, err := h.HandleValidateMandate(context.Background(), makeRequest(map[string]any{
		"recipient": "0xdead",
		"amount":    "1",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = h.HandleValidateMandate(context.Background(), makeRequest(map[string]any{
		"mandate_id": "mnd_1",
		"amount":     "1",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleExecuteAction_Success(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/mandates/mnd_2/execute", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"mandateId": "mnd_2",
			"reference": "stl_deadbeef",
			"decision": map[string]any{
				"approved":        true,
				"remainingBudget": "500000000000000000",
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleExecuteAction(context.Background(), makeRequest(map[string]any{
		"mandate_id": "mnd_2",
		"recipient":  "0xdead",
		"amount":     "500000000000000000",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "stl_deadbeef")
	assert.Contains(t, text, "0.5 tokens")
}

func TestHandleExecuteAction_Denied(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "not_approved",
			"message": "exceeds_budget",
		})
	}))
	defer cleanup()

	result, err := h.HandleExecuteAction(context.Background(), makeRequest(map[string]any{
		"mandate_id": "mnd_2",
		"recipient":  "0xdead",
		"amount":     "1",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "exceeds_budget")
}

func TestHandleCreateMandate(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		require.NoError(t, json.Unmarshal(body, &req))
		scope, _ := req["scope"].(map[string]any)
		assert.Equal(t, "1000000000000000000", scope["maxAmount"])
		assert.Equal(t, "5000000000000000000", scope["totalBudget"])
		assert.Equal(t, "12h", req["duration"])

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":        "mnd_new",
			"agent":     req["agent"],
			"principal": req["principal"],
			"scope":     scope,
			"expiresAt": "2026-08-30T00:00:00Z",
		})
	}))
	defer cleanup()

	result, err := h.HandleCreateMandate(context.Background(), makeRequest(map[string]any{
		"agent":        "0xaaa",
		"principal":    "0xbbb",
		"max_amount":   "1000000000000000000",
		"total_budget": "5000000000000000000",
		"duration":     "12h",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "mnd_new")
	assert.Contains(t, text, "1 tokens")
	assert.Contains(t, text, "5 tokens")
}

func TestHandleListMandates_DefaultsToConfiguredAddress(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/agents/0xAGENT/mandates", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"mandates": []map[string]any{
				{
					"id":         "mnd_1",
					"status":     "active",
					"usedAmount": "0",
					"expiresAt":  "2026-08-30T00:00:00Z",
					"scope":      map[string]any{"maxAmount": "1000000000000000000"},
				},
			},
			"count": 1,
		})
	}))
	defer cleanup()

	result, err := h.HandleListMandates(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "mnd_1")
	assert.Contains(t, text, "active")
}

func TestHandleListMandates_Empty(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"mandates": []map[string]any{}, "count": 0})
	}))
	defer cleanup()

	result, err := h.HandleListMandates(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "No mandates found.", resultText(t, result))
}

func TestHandleEvaluatePolicy_Denied(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var evalCtx map[string]any
		require.NoError(t, json.Unmarshal(body, &evalCtx))
		assert.Equal(t, "transfer", evalCtx["action"])
		assert.Equal(t, "0xAGENT", evalCtx["actor"]) // default filled in

		_ = json.NewEncoder(w).Encode(map[string]any{
			"allowed":       false,
			"reason":        `denied by policy "no-large-transfers"`,
			"denyingPolicy": "pol_1",
			"evaluated":     []string{"pol_1"},
		})
	}))
	defer cleanup()

	result, err := h.HandleEvaluatePolicy(context.Background(), makeRequest(map[string]any{
		"action": "transfer",
		"amount": "100",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "DENIED")
	assert.Contains(t, text, "no-large-transfers")
	assert.Contains(t, text, "pol_1")
}

func TestHandleAnalyzeTransaction_Block(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"riskScore":   80,
			"riskLevel":   "critical",
			"shouldBlock": true,
			"threats": []map[string]any{
				{"type": "blacklist", "severity": "critical", "description": "recipient address is blacklisted"},
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleAnalyzeTransaction(context.Background(), makeRequest(map[string]any{
		"to":     "0xbad",
		"amount": "1000",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "80/100")
	assert.Contains(t, text, "BLOCK")
	assert.Contains(t, text, "blacklisted")
}

func TestHandleGetReputation(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/reputation/0xabc", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"address":    "0xabc",
			"score":      72.5,
			"riskLevel":  "low",
			"confidence": 0.4,
		})
	}))
	defer cleanup()

	result, err := h.HandleGetReputation(context.Background(), makeRequest(map[string]any{
		"address": "0xabc",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "72.5/100")
	assert.Contains(t, text, "low")
	assert.Contains(t, text, "40%")
}

func TestHandleCheckBlacklist_Clean(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"address":     "0xgood",
			"blacklisted": false,
			"entry":       nil,
		})
	}))
	defer cleanup()

	result, err := h.HandleCheckBlacklist(context.Background(), makeRequest(map[string]any{
		"address": "0xgood",
	}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "not blacklisted")
}

func TestHandleCheckBlacklist_Listed(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"address":     "0xbad",
			"blacklisted": true,
			"entry": map[string]any{
				"address":  "0xbad",
				"severity": "critical",
				"reason":   "known drainer",
				"source":   "manual",
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleCheckBlacklist(context.Background(), makeRequest(map[string]any{
		"address": "0xbad",
	}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "IS blacklisted")
	assert.Contains(t, text, "critical")
	assert.Contains(t, text, "known drainer")
}

func TestHandleRevokeMandate(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/v1/mandates/mnd_x", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"revoked": true})
	}))
	defer cleanup()

	result, err := h.HandleRevokeMandate(context.Background(), makeRequest(map[string]any{
		"mandate_id": "mnd_x",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "mnd_x revoked")
}
