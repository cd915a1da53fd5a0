package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all AgentGate tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("agentgate", "1.0.0")
	client := NewAgentGateClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolCreateMandate, h.HandleCreateMandate)
	s.AddTool(ToolValidateMandate, h.HandleValidateMandate)
	s.AddTool(ToolExecuteAction, h.HandleExecuteAction)
	s.AddTool(ToolListMandates, h.HandleListMandates)
	s.AddTool(ToolRevokeMandate, h.HandleRevokeMandate)
	s.AddTool(ToolEvaluatePolicy, h.HandleEvaluatePolicy)
	s.AddTool(ToolAnalyzeTransaction, h.HandleAnalyzeTransaction)
	s.AddTool(ToolGetReputation, h.HandleGetReputation)
	s.AddTool(ToolCheckBlacklist, h.HandleCheckBlacklist)

	return s
}
