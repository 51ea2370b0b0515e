package mcp

import (
	"fmt"

	"github.com/kuitang/entrystore/internal/entries"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	ToolEntryGet      = "entry_get"
	ToolEntrySearch   = "entry_search"
	ToolEntryAdd      = "entry_add"
	ToolEntryAddBatch = "entry_add_batch"
)

// ToolDefinitions returns the entry MCP tool definitions.
func ToolDefinitions() []*mcp.Tool {
	return []*mcp.Tool{
		{
			Name:        ToolEntryGet,
			Description: "Fetch one of your entries by its numeric id. Returns the entry as JSON, or [] if you are not signed in or the entry belongs to someone else.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": map[string]any{
						"type":        "integer",
						"description": "The entry id returned by entry_add or entry_search",
					},
				},
				"required": []string{"id"},
			},
		},
		{
			Name:        ToolEntrySearch,
			Description: fmt.Sprintf("Search your entries for a case-insensitive substring. Returns at most %d entries, oldest first. An empty query lists your first %d entries.", entries.SearchLimit, entries.SearchLimit),
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "Text to look for; matched literally",
					},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        ToolEntryAdd,
			Description: "Store a short text entry. The text is saved lower-cased. Returns the stored entry with its id and created_at.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"data": map[string]any{
						"type":        "string",
						"description": "The text to store",
					},
				},
				"required": []string{"data"},
			},
		},
		{
			Name:        ToolEntryAddBatch,
			Description: fmt.Sprintf("Store several entries at once, up to %d. All are stored or none are. Returns the stored entries in input order.", entries.MaxBatchSize),
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"entries": map[string]any{
						"type":        "array",
						"description": "Entries to store",
						"maxItems":    entries.MaxBatchSize,
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"data": map[string]any{"type": "string"},
							},
							"required": []string{"data"},
						},
					},
				},
				"required": []string{"entries"},
			},
		},
	}
}
