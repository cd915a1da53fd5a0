package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the AgentGate platform.
type Config struct {
	APIURL       string // REST API base URL
	AgentAddress string // Acting agent's address, e.g. "0x..."
}

// AgentGateClient is a pure HTTP client for the AgentGate platform API.
type AgentGateClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewAgentGateClient creates a new client for the AgentGate platform.
func NewAgentGateClient(cfg Config) *AgentGateClient {
	return &AgentGateClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError is the error envelope the REST API returns.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest issues one API call and returns the raw response body.
func (c *AgentGateClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// CreateMandate issues a new spending mandate.
func (c *AgentGateClient) CreateMandate(ctx context.Context, agent, principal string, scope map[string]any, duration string) (json.RawMessage, error) {
	body := map[string]any{
		"agent":     agent,
		"principal": principal,
		"scope":     scope,
	}
	if duration != "" {
		body["duration"] = duration
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/mandates", nil, body)
}

// ValidateMandate checks a proposed action against a mandate without executing it.
func (c *AgentGateClient) ValidateMandate(ctx context.Context, mandateID string, action map[string]any) (json.RawMessage, error) {
	path := "/v1/mandates/" + mandateID + "/validate"
	return c.doRequest(ctx, http.MethodPost, path, nil, action)
}

// ExecuteAction validates and executes an action under a mandate.
func (c *AgentGateClient) ExecuteAction(ctx context.Context, mandateID string, action map[string]any) (json.RawMessage, error) {
	path := "/v1/mandates/" + mandateID + "/execute"
	return c.doRequest(ctx, http.MethodPost, path, nil, action)
}

// ListMandates returns mandates issued to an agent.
func (c *AgentGateClient) ListMandates(ctx context.Context, agentAddr string) (json.RawMessage, error) {
	path := "/v1/agents/" + agentAddr + "/mandates"
	return c.doRequest(ctx, http.MethodGet, path, nil, nil)
}

// RevokeMandate revokes a mandate immediately.
func (c *AgentGateClient) RevokeMandate(ctx context.Context, mandateID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodDelete, "/v1/mandates/"+mandateID, nil, nil)
}

// EvaluatePolicy evaluates an action context against the policy set.
func (c *AgentGateClient) EvaluatePolicy(ctx context.Context, evalCtx map[string]any) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/evaluate", nil, evalCtx)
}

// AnalyzeTransaction runs a risk analysis on a transaction.
func (c *AgentGateClient) AnalyzeTransaction(ctx context.Context, tx map[string]any) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/analyze", nil, tx)
}

// GetReputation returns the reputation score for a given address.
func (c *AgentGateClient) GetReputation(ctx context.Context, address string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/reputation/"+address, nil, nil)
}

// CheckBlacklist checks whether an address is blacklisted.
func (c *AgentGateClient) CheckBlacklist(ctx context.Context, address string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/blacklist/"+address, nil, nil)
}

// GetRecentAlerts returns recent risk alerts for an address.
func (c *AgentGateClient) GetRecentAlerts(ctx context.Context, address string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/alerts/"+address, q, nil)
}
