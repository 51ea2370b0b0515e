package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/kuitang/entrystore/internal/auth"
	"github.com/kuitang/entrystore/internal/entries"
	"github.com/kuitang/entrystore/internal/errs"
	"github.com/kuitang/entrystore/internal/obs"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Handler implements MCP tool call handling.
type Handler struct {
	entries *entries.Service
}

// NewHandler creates a new MCP handler over the entry service.
func NewHandler(entrySvc *entries.Service) *Handler {
	return &Handler{entries: entrySvc}
}

// createToolHandler returns a tool handler bound to the caller's principal.
func (h *Handler) createToolHandler(p auth.Principal, name string) func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
		result, err := h.HandleToolCall(ctx, p, name, args)
		return result, nil, err
	}
}

// HandleToolCall routes tool calls to appropriate handlers. Failures are
// reported as tool results with IsError set, never as protocol errors.
func (h *Handler) HandleToolCall(ctx context.Context, p auth.Principal, name string, arguments map[string]any) (*mcp.CallToolResult, error) {
	var (
		result *mcp.CallToolResult
		err    error
	)
	switch name {
	case ToolEntryGet:
		result, err = h.handleEntryGet(ctx, p, arguments)
	case ToolEntrySearch:
		result, err = h.handleEntrySearch(ctx, p, arguments)
	case ToolEntryAdd:
		result, err = h.handleEntryAdd(ctx, p, arguments)
	case ToolEntryAddBatch:
		result, err = h.handleEntryAddBatch(ctx, p, arguments)
	default:
		err = errs.New(errs.InvalidArgument, fmt.Sprintf("unknown tool: %s", name))
	}
	if err != nil {
		if errs.CodeOf(err) == errs.Internal {
			obs.From(ctx).Error("mcp: tool call failed", "tool", name, "error", err)
		}
		return newToolResultFromError(err), nil
	}
	return result, nil
}

type getArgs struct {
	ID *int64 `json:"id"`
}

type searchArgs struct {
	Query *string `json:"query"`
}

type addArgs struct {
	Data *string `json:"data"`
}

type addBatchArgs struct {
	Entries []entries.EntryRequest `json:"entries"`
}

func (h *Handler) handleEntryGet(ctx context.Context, p auth.Principal, args map[string]any) (*mcp.CallToolResult, error) {
	var in getArgs
	if err := decodeToolArgs(args, &in); err != nil {
		return nil, err
	}
	if in.ID == nil {
		return nil, errs.New(errs.InvalidArgument, "id is required")
	}
	res, err := h.entries.Get(ctx, p, *in.ID)
	if err != nil {
		return nil, err
	}
	if res.Status.Denied() {
		return deniedResult(), nil
	}
	return newToolResultText(marshalToolJSON(res.Entry)), nil
}

func (h *Handler) handleEntrySearch(ctx context.Context, p auth.Principal, args map[string]any) (*mcp.CallToolResult, error) {
	var in searchArgs
	if err := decodeToolArgs(args, &in); err != nil {
		return nil, err
	}
	res, err := h.entries.Search(ctx, p, entries.SearchRequest{Query: in.Query})
	if err != nil {
		return nil, err
	}
	if res.Status.Denied() {
		return deniedResult(), nil
	}
	return newToolResultText(marshalToolJSON(res.Entries)), nil
}

func (h *Handler) handleEntryAdd(ctx context.Context, p auth.Principal, args map[string]any) (*mcp.CallToolResult, error) {
	var in addArgs
	if err := decodeToolArgs(args, &in); err != nil {
		return nil, err
	}
	res, err := h.entries.Add(ctx, p, entries.EntryRequest{Data: in.Data})
	if err != nil {
		return nil, err
	}
	if res.Status.Denied() {
		return deniedResult(), nil
	}
	return newToolResultText(marshalToolJSON(res.Entry)), nil
}

func (h *Handler) handleEntryAddBatch(ctx context.Context, p auth.Principal, args map[string]any) (*mcp.CallToolResult, error) {
	var in addBatchArgs
	if err := decodeToolArgs(args, &in); err != nil {
		return nil, err
	}
	if in.Entries == nil {
		return nil, errs.New(errs.InvalidArgument, "entries is required")
	}
	res, err := h.entries.AddBatch(ctx, p, in.Entries)
	if err != nil {
		return nil, err
	}
	if res.Status.Denied() {
		return deniedResult(), nil
	}
	return newToolResultText(marshalToolJSON(res.Entries)), nil
}

// decodeToolArgs converts loosely typed tool arguments into dst.
// Unknown fields are rejected; a nil map decodes as an empty object.
func decodeToolArgs(args map[string]any, dst any) error {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, "invalid tool arguments", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errs.Wrap(errs.InvalidArgument, "invalid tool arguments: "+err.Error(), err)
	}
	return nil
}

// toolErrorPayload is the JSON body of an error tool result.
type toolErrorPayload struct {
	Code    errs.Code `json:"code"`
	Message string    `json:"message"`
}

func newToolResultFromError(err error) *mcp.CallToolResult {
	return newToolResultError(marshalToolJSON(toolErrorPayload{
		Code:    errs.CodeOf(err),
		Message: errs.MessageOf(err),
	}))
}

// deniedResult mirrors the HTTP surface: anonymous and not-owned both
// look like an empty list.
func deniedResult() *mcp.CallToolResult {
	return newToolResultText("[]")
}

// newToolResultText creates a successful tool result with text content.
func newToolResultText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// newToolResultError creates a tool result indicating an error.
func newToolResultError(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: message},
		},
		IsError: true,
	}
}

func marshalToolJSON(value any) string {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal response","detail":%q}`, err.Error())
	}
	return string(data)
}
