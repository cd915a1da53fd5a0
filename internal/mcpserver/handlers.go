package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kordell-io/agentgate/internal/amount"
	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers implements the MCP tool callbacks on top of the API client.
type Handlers struct {
	client *AgentGateClient
}

// NewHandlers builds tool handlers backed by client.
func NewHandlers(client *AgentGateClient) *Handlers {
	return &Handlers{client: client}
}

// HandleCreateMandate issues a new mandate.
func (h *Handlers) HandleCreateMandate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agent := req.GetString("agent", "")
	if agent == "" {
		return mcp.NewToolResultError("agent is required"), nil
	}
	principal := req.GetString("principal", "")
	if principal == "" {
		return mcp.NewToolResultError("principal is required"), nil
	}
	maxAmount := req.GetString("max_amount", "")
	if maxAmount == "" {
		return mcp.NewToolResultError("max_amount is required"), nil
	}

	scope := map[string]any{"maxAmount": maxAmount}
	if budget := req.GetString("total_budget", ""); budget != "" {
		scope["totalBudget"] = budget
	}
	duration := req.GetString("duration", "")

	raw, err := h.client.CreateMandate(ctx, agent, principal, scope, duration)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create mandate: %v", err)), nil
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse mandate: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString("Mandate created:\n")
	fmt.Fprintf(&sb, "  ID: %s\n", getString(m, "id"))
	fmt.Fprintf(&sb, "  Agent: %s\n", getString(m, "agent"))
	fmt.Fprintf(&sb, "  Principal: %s\n", getString(m, "principal"))
	fmt.Fprintf(&sb, "  Max per action: %s\n", formatAmount(maxAmount))
	if budget := getString(scopeOf(m), "totalBudget"); budget != "" {
		fmt.Fprintf(&sb, "  Total budget: %s\n", formatAmount(budget))
	}
	fmt.Fprintf(&sb, "  Expires: %s\n", getString(m, "expiresAt"))

	return mcp.NewToolResultText(sb.String()), nil
}

// HandleValidateMandate pre-flights an action against a mandate.
func (h *Handlers) HandleValidateMandate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mandateID := req.GetString("mandate_id", "")
	if mandateID == "" {
		return mcp.NewToolResultError("mandate_id is required"), nil
	}
	action, errResult := actionFromRequest(req)
	if errResult != nil {
		return errResult, nil
	}

	raw, err := h.client.ValidateMandate(ctx, mandateID, action)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Validation failed: %v", err)), nil
	}

	text, err := formatDecision(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse decision: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleExecuteAction validates and executes an action in one step.
func (h *Handlers) HandleExecuteAction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mandateID := req.GetString("mandate_id", "")
	if mandateID == "" {
		return mcp.NewToolResultError("mandate_id is required"), nil
	}
	action, errResult := actionFromRequest(req)
	if errResult != nil {
		return errResult, nil
	}

	raw, err := h.client.ExecuteAction(ctx, mandateID, action)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Execution failed: %v", err)), nil
	}

	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse result: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString("Action executed.\n")
	fmt.Fprintf(&sb, "  Mandate: %s\n", getString(result, "mandateId"))
	fmt.Fprintf(&sb, "  Settlement reference: %s\n", getString(result, "reference"))
	if d, ok := result["decision"].(map[string]any); ok {
		if rb := getString(d, "remainingBudget"); rb != "" {
			fmt.Fprintf(&sb, "  Remaining budget: %s\n", formatAmount(rb))
		}
	}

	return mcp.NewToolResultText(sb.String()), nil
}

// HandleListMandates lists an agent's mandates.
func (h *Handlers) HandleListMandates(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("agent_address", h.client.cfg.AgentAddress)
	if address == "" {
		return mcp.NewToolResultError("agent_address is required (no default address configured)"), nil
	}

	raw, err := h.client.ListMandates(ctx, address)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list mandates: %v", err)), nil
	}

	text, err := formatMandateList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse mandates: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleRevokeMandate revokes a mandate.
func (h *Handlers) HandleRevokeMandate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mandateID := req.GetString("mandate_id", "")
	if mandateID == "" {
		return mcp.NewToolResultError("mandate_id is required"), nil
	}

	if _, err := h.client.RevokeMandate(ctx, mandateID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Revocation failed: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Mandate %s revoked. All further actions under it will be denied.", mandateID)), nil
}

// HandleEvaluatePolicy evaluates an action against the policy set.
func (h *Handlers) HandleEvaluatePolicy(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action := req.GetString("action", "")
	if action == "" {
		return mcp.NewToolResultError("action is required"), nil
	}

	evalCtx := map[string]any{"action": action}
	if actor := req.GetString("actor", h.client.cfg.AgentAddress); actor != "" {
		evalCtx["actor"] = actor
	}
	if target := req.GetString("target", ""); target != "" {
		evalCtx["target"] = target
	}
	if amt := req.GetString("amount", ""); amt != "" {
		evalCtx["amount"] = amt
	}
	if token := req.GetString("token", ""); token != "" {
		evalCtx["token"] = token
	}

	raw, err := h.client.EvaluatePolicy(ctx, evalCtx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Policy evaluation failed: %v", err)), nil
	}

	var d map[string]any
	if err := json.Unmarshal(raw, &d); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse decision: %v", err)), nil
	}

	var sb strings.Builder
	if allowed, _ := d["allowed"].(bool); allowed {
		sb.WriteString("Policy decision: ALLOWED\n")
	} else {
		sb.WriteString("Policy decision: DENIED\n")
		fmt.Fprintf(&sb, "  Reason: %s\n", getString(d, "reason"))
		if dp := getString(d, "denyingPolicy"); dp != "" {
			fmt.Fprintf(&sb, "  Denying policy: %s\n", dp)
		}
	}
	if warnings, ok := d["warnings"].([]any); ok && len(warnings) > 0 {
		sb.WriteString("  Warnings:\n")
		for _, w := range warnings {
			fmt.Fprintf(&sb, "    - %v\n", w)
		}
	}
	if evaluated, ok := d["evaluated"].([]any); ok {
		fmt.Fprintf(&sb, "  Policies evaluated: %d\n", len(evaluated))
	}

	return mcp.NewToolResultText(sb.String()), nil
}

// HandleAnalyzeTransaction runs a risk analysis.
func (h *Handlers) HandleAnalyzeTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	to := req.GetString("to", "")
	if to == "" {
		return mcp.NewToolResultError("to is required"), nil
	}
	amt := req.GetString("amount", "")
	if amt == "" {
		return mcp.NewToolResultError("amount is required"), nil
	}

	tx := map[string]any{"to": to, "amount": amt}
	if from := req.GetString("from", h.client.cfg.AgentAddress); from != "" {
		tx["from"] = from
	}
	if token := req.GetString("token", ""); token != "" {
		tx["token"] = token
	}

	raw, err := h.client.AnalyzeTransaction(ctx, tx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Analysis failed: %v", err)), nil
	}

	var a map[string]any
	if err := json.Unmarshal(raw, &a); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse analysis: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString("Risk analysis:\n")
	if score, ok := getFloat(a, "riskScore"); ok {
		fmt.Fprintf(&sb, "  Score: %.0f/100 (%s)\n", score, getString(a, "riskLevel"))
	}
	if block, _ := a["shouldBlock"].(bool); block {
		sb.WriteString("  Recommendation: BLOCK this transaction\n")
	} else {
		sb.WriteString("  Recommendation: proceed\n")
	}
	if threats, ok := a["threats"].([]any); ok && len(threats) > 0 {
		sb.WriteString("  Threats:\n")
		for _, t := range threats {
			if tm, ok := t.(map[string]any); ok {
				fmt.Fprintf(&sb, "    - [%s] %s\n", getString(tm, "severity"), getString(tm, "description"))
			}
		}
	}

	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGetReputation returns the reputation score for an address.
func (h *Handlers) HandleGetReputation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("address", "")
	if address == "" {
		return mcp.NewToolResultError("address is required"), nil
	}

	raw, err := h.client.GetReputation(ctx, address)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get reputation: %v", err)), nil
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse reputation: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString("Reputation:\n")
	fmt.Fprintf(&sb, "  Address: %s\n", getString(m, "address"))
	if v, ok := getFloat(m, "score"); ok {
		fmt.Fprintf(&sb, "  Score: %.1f/100\n", v)
	}
	if v := getString(m, "riskLevel"); v != "" {
		fmt.Fprintf(&sb, "  Risk level: %s\n", v)
	}
	if v, ok := getFloat(m, "confidence"); ok {
		fmt.Fprintf(&sb, "  Confidence: %.0f%%\n", v*100)
	}

	return mcp.NewToolResultText(sb.String()), nil
}

// HandleCheckBlacklist checks an address against the risk blacklist.
func (h *Handlers) HandleCheckBlacklist(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("address", "")
	if address == "" {
		return mcp.NewToolResultError("address is required"), nil
	}

	raw, err := h.client.CheckBlacklist(ctx, address)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Blacklist check failed: %v", err)), nil
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}

	if listed, _ := m["blacklisted"].(bool); !listed {
		return mcp.NewToolResultText(fmt.Sprintf("%s is not blacklisted.", address)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s IS blacklisted.\n", address)
	if entry, ok := m["entry"].(map[string]any); ok {
		fmt.Fprintf(&sb, "  Severity: %s\n", getString(entry, "severity"))
		fmt.Fprintf(&sb, "  Reason: %s\n", getString(entry, "reason"))
		if src := getString(entry, "source"); src != "" {
			fmt.Fprintf(&sb, "  Source: %s\n", src)
		}
	}

	return mcp.NewToolResultText(sb.String()), nil
}

// --- Formatting helpers ---

// actionFromRequest builds the action payload shared by validate and execute.
func actionFromRequest(req mcp.CallToolRequest) (map[string]any, *mcp.CallToolResult) {
	recipient := req.GetString("recipient", "")
	if recipient == "" {
		return nil, mcp.NewToolResultError("recipient is required")
	}
	amt := req.GetString("amount", "")
	if amt == "" {
		return nil, mcp.NewToolResultError("amount is required")
	}

	action := map[string]any{
		"type":      req.GetString("action_type", "transfer"),
		"recipient": recipient,
		"amount":    amt,
	}
	if token := req.GetString("token", ""); token != "" {
		action["token"] = token
	}
	return action, nil
}

func formatDecision(raw json.RawMessage) (string, error) {
	var d map[string]any
	if err := json.Unmarshal(raw, &d); err != nil {
		return "", err
	}

	var sb strings.Builder
	if approved, _ := d["approved"].(bool); approved {
		sb.WriteString("Decision: APPROVED\n")
	} else {
		sb.WriteString("Decision: DENIED\n")
		fmt.Fprintf(&sb, "  Reason: %s\n", getString(d, "reason"))
	}
	if rb := getString(d, "remainingBudget"); rb != "" {
		fmt.Fprintf(&sb, "  Remaining budget: %s\n", formatAmount(rb))
	}
	if warnings, ok := d["warnings"].([]any); ok && len(warnings) > 0 {
		sb.WriteString("  Warnings:\n")
		for _, w := range warnings {
			fmt.Fprintf(&sb, "    - %v\n", w)
		}
	}
	return sb.String(), nil
}

func formatMandateList(raw json.RawMessage) (string, error) {
	var resp struct {
		Mandates []map[string]any `json:"mandates"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected mandates response format")
	}

	if len(resp.Mandates) == 0 {
		return "No mandates found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d mandate(s):\n\n", len(resp.Mandates))
	for i, m := range resp.Mandates {
		fmt.Fprintf(&sb, "%d. %s [%s]\n", i+1, getString(m, "id"), getString(m, "status"))
		scope := scopeOf(m)
		fmt.Fprintf(&sb, "   Max per action: %s\n", formatAmount(getString(scope, "maxAmount")))
		if budget := getString(scope, "totalBudget"); budget != "" {
			fmt.Fprintf(&sb, "   Budget: %s (used %s)\n",
				formatAmount(budget), formatAmount(getString(m, "usedAmount")))
		}
		fmt.Fprintf(&sb, "   Expires: %s\n", getString(m, "expiresAt"))
		if i < len(resp.Mandates)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

// formatAmount renders a base-unit amount as a decimal token count for display.
func formatAmount(baseUnits string) string {
	v, ok := amount.Parse(baseUnits)
	if !ok {
		return baseUnits
	}
	s := amount.FormatTokens(v)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	return s + " tokens"
}

func scopeOf(m map[string]any) map[string]any {
	if s, ok := m["scope"].(map[string]any); ok {
		return s
	}
	return map[string]any{}
}

// getString reads the first present key as a string, accepting numbers too.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat reads the first present key as a float64.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
