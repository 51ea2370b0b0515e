package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const entryWorkflowPromptName = "entry_workflow"

const entryWorkflowPromptText = "The user keeps short notes as entries. Use entry_add to save one, entry_add_batch to save many at once, entry_search to find entries by a word or phrase, and entry_get to fetch one by id. Entries are stored lower-cased. A result of [] means nothing matched or the user is not signed in."

func registerPrompts(mcpServer *mcp.Server) {
	for _, prompt := range PromptDefinitions() {
		mcpServer.AddPrompt(prompt, entryWorkflowPrompt)
	}
}

// PromptDefinitions returns the MCP prompt definitions.
func PromptDefinitions() []*mcp.Prompt {
	return []*mcp.Prompt{
		{
			Name:        entryWorkflowPromptName,
			Title:       "Entry workflow",
			Description: "Brief guidance on which entry tool to use.",
		},
	}
}

func entryWorkflowPrompt(_ context.Context, _ *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Brief guidance on which entry tool to use.",
		Messages: []*mcp.PromptMessage{
			{
				Role:    mcp.Role("user"),
				Content: &mcp.TextContent{Text: entryWorkflowPromptText},
			},
		},
	}, nil
}
