package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the AgentGate MCP server.
// Tool descriptions double as the LLM-facing documentation for each call.

var ToolCreateMandate = mcp.NewTool("create_mandate",
	mcp.WithDescription(
		"Issue a spending mandate that authorizes an agent to act within bounds "+
			"set by a principal. Returns the mandate with its ID and authorization proof. "+
			"Amounts are base-unit integer strings (18 decimals)."),
	mcp.WithString("agent",
		mcp.Required(),
		mcp.Description("Agent address being authorized (e.g. '0x1234...')")),
	mcp.WithString("principal",
		mcp.Required(),
		mcp.Description("Principal address granting the authority")),
	mcp.WithString("max_amount",
		mcp.Required(),
		mcp.Description("Per-action spending cap in base units (e.g. '1000000000000000000' for 1 token)")),
	mcp.WithString("total_budget",
		mcp.Description("Cumulative spending cap in base units. Omit for no budget limit.")),
	mcp.WithString("duration",
		mcp.Description("Mandate validity window as a Go duration (e.g. '24h', '30m'). Defaults to 24h.")),
)

var ToolValidateMandate = mcp.NewTool("validate_mandate",
	mcp.WithDescription(
		"Check whether a proposed action is authorized under a mandate without "+
			"executing it. Returns an approval decision with the denial reason and "+
			"remaining budget. Use this to pre-flight an action before execute_action."),
	mcp.WithString("mandate_id",
		mcp.Required(),
		mcp.Description("The mandate ID (e.g. 'mnd_...')")),
	mcp.WithString("action_type",
		mcp.Description("Action type: 'transfer', 'swap', 'stake', or 'lend'. Defaults to 'transfer'."),
		mcp.Enum("transfer", "swap", "stake", "lend")),
	mcp.WithString("recipient",
		mcp.Required(),
		mcp.Description("Recipient address for the action")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Amount in base units (e.g. '500000000000000000')")),
	mcp.WithString("token",
		mcp.Description("Token contract address. Omit for the native asset.")),
)

var ToolExecuteAction = mcp.NewTool("execute_action",
	mcp.WithDescription(
		"Validate AND execute an action under a mandate in one atomic step. "+
			"On approval the mandate's used budget and rate-limit window are updated "+
			"and a settlement reference is returned. Denied actions leave the mandate untouched."),
	mcp.WithString("mandate_id",
		mcp.Required(),
		mcp.Description("The mandate ID (e.g. 'mnd_...')")),
	mcp.WithString("action_type",
		mcp.Description("Action type: 'transfer', 'swap', 'stake', or 'lend'. Defaults to 'transfer'."),
		mcp.Enum("transfer", "swap", "stake", "lend")),
	mcp.WithString("recipient",
		mcp.Required(),
		mcp.Description("Recipient address for the action")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Amount in base units")),
	mcp.WithString("token",
		mcp.Description("Token contract address. Omit for the native asset.")),
)

var ToolListMandates = mcp.NewTool("list_mandates",
	mcp.WithDescription(
		"List the mandates issued to an agent, including scope, remaining budget, "+
			"and status. Use your own address to see what you are authorized to do."),
	mcp.WithString("agent_address",
		mcp.Description("Agent address. Defaults to your configured address.")),
)

var ToolRevokeMandate = mcp.NewTool("revoke_mandate",
	mcp.WithDescription(
		"Revoke a mandate immediately. All subsequent validations against it will "+
			"be denied. Revocation is permanent."),
	mcp.WithString("mandate_id",
		mcp.Required(),
		mcp.Description("The mandate ID to revoke")),
)

var ToolEvaluatePolicy = mcp.NewTool("evaluate_policy",
	mcp.WithDescription(
		"Evaluate an action context against the platform's policy set. "+
			"Returns whether the action is allowed, which policies were evaluated, "+
			"and any warnings. A deny from any matching policy blocks the action."),
	mcp.WithString("action",
		mcp.Required(),
		mcp.Description("Action name to evaluate (e.g. 'transfer')")),
	mcp.WithString("actor",
		mcp.Description("Acting address. Defaults to your configured address.")),
	mcp.WithString("target",
		mcp.Description("Target address of the action")),
	mcp.WithString("amount",
		mcp.Description("Amount in base units")),
	mcp.WithString("token",
		mcp.Description("Token contract address")),
)

var ToolAnalyzeTransaction = mcp.NewTool("analyze_transaction",
	mcp.WithDescription(
		"Run a risk analysis on a proposed transaction. Returns a risk score "+
			"(0-100), risk level, detected threats, and whether the transaction "+
			"should be blocked. Use this before sending funds to an unknown address."),
	mcp.WithString("from",
		mcp.Description("Sender address. Defaults to your configured address.")),
	mcp.WithString("to",
		mcp.Required(),
		mcp.Description("Recipient address")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Amount in base units")),
	mcp.WithString("token",
		mcp.Description("Token contract address. Omit for the native asset.")),
)

var ToolGetReputation = mcp.NewTool("get_reputation",
	mcp.WithDescription(
		"Get the reputation score (0-100) and risk level for any address. "+
			"Scores above 70 are low risk; below 25 is critical."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("The address to score (e.g. '0x1234...')")),
)

var ToolCheckBlacklist = mcp.NewTool("check_blacklist",
	mcp.WithDescription(
		"Check whether an address is on the risk blacklist. Returns the entry "+
			"with its severity and reason, or confirms the address is clean."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("The address to check")),
)
