// Package mcpserver registers MCP tools that expose bookmark mirroring and
// session export. It adapts the mirror and session packages to the MCP
// SDK's tool handler interface.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/m0o0scar/nenya/internal/mirror"
	"github.com/m0o0scar/nenya/internal/raindrop"
	"github.com/m0o0scar/nenya/internal/session"
	"github.com/m0o0scar/nenya/internal/state"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// BookmarkMirror runs or previews a mirror pass. *mirror.Mirror satisfies it.
type BookmarkMirror interface {
	Run(ctx context.Context) (*mirror.Result, error)
	Plan(ctx context.Context) (*mirror.GroupPlan, error)
}

// SessionExporter runs or joins an export pass. *session.Serializer
// satisfies it.
type SessionExporter interface {
	Export(ctx context.Context, bucketID int64) (*session.ExportResult, bool, error)
}

// ItemSource reads the saved items of a bucket.
type ItemSource interface {
	FetchItems(ctx context.Context, collectionID int64) ([]raindrop.Item, error)
}

// SessionRestorer replays a saved session. *session.Restorer satisfies it.
type SessionRestorer interface {
	Replay(ctx context.Context, tree *session.RestoreTree) *session.RestoreResult
}

// ExportHistory reads the last export summary. *state.State satisfies it.
type ExportHistory interface {
	LastExport(bucketID int64) (*state.ExportSummary, error)
}

// Deps holds the components the tools call. BucketID is the device
// session bucket resolved at startup.
type Deps struct {
	Mirror   BookmarkMirror
	Exporter SessionExporter
	Items    ItemSource
	Restorer SessionRestorer
	History  ExportHistory
	BucketID int64
}

// RegisterTools adds all nenya tools to the given MCP server.
func RegisterTools(server *mcp.Server, d Deps) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "bookmarks_sync",
		Description: "Mirror the remote collection hierarchy and its items into the local bookmark tree. Returns mutation counts and any per-item failures.",
	}, syncHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "bookmarks_plan",
		Description: "Show the folder structure the next sync would produce, one entry per collection in display order with its depth. Makes no changes.",
	}, planHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "session_export",
		Description: "Save the open browser windows, tabs and tab groups to this device's session bucket. Joins a pass that is already running instead of starting another.",
	}, exportHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "session_show",
		Description: "List the saved session for this device: windows in order with their tabs, grouped tabs labelled by group title.",
	}, showHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "session_restore",
		Description: "Reopen the saved session in new browser windows, restoring pinned tabs and tab groups.",
	}, restoreHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "session_status",
		Description: "Report when this device's session was last exported and what that export changed.",
	}, statusHandler(d))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// SyncInput has no parameters.
type SyncInput struct{}

// PlanInput holds parameters for bookmarks_plan.
type PlanInput struct {
	MaxDepth int `json:"max_depth,omitempty" jsonschema:"deepest collection level to include, 0 means all"`
}

// ExportInput has no parameters.
type ExportInput struct{}

// ShowInput holds parameters for session_show.
type ShowInput struct {
	Window int64 `json:"window,omitempty" jsonschema:"only list tabs of this saved window id"`
}

// RestoreInput holds parameters for session_restore.
type RestoreInput struct {
	Confirm bool `json:"confirm" jsonschema:"required,must be true; opens new browser windows"`
}

// StatusInput has no parameters.
type StatusInput struct{}

// --- Output types ---

// SyncOutput is the result of bookmarks_sync.
type SyncOutput struct {
	Stats       mirror.Stats `json:"stats"`
	Collections int          `json:"collections"`
	Errors      []string     `json:"errors,omitempty"`
}

// PlanEntry is one collection in the planned folder tree.
type PlanEntry struct {
	Group string `json:"group"`
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Depth int    `json:"depth"`
}

// PlanOutput is the result of bookmarks_plan.
type PlanOutput struct {
	Groups  []string    `json:"groups"`
	Entries []PlanEntry `json:"entries"`
}

// ExportOutput is the result of session_export.
type ExportOutput struct {
	Bucket  int64    `json:"bucket"`
	Joined  bool     `json:"joined"`
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Deleted int      `json:"deleted"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// ShowEntry is one saved tab.
type ShowEntry struct {
	Window int64  `json:"window"`
	Group  string `json:"group,omitempty"`
	Title  string `json:"title"`
	URL    string `json:"url"`
	Pinned bool   `json:"pinned,omitempty"`
}

// ShowOutput is the result of session_show.
type ShowOutput struct {
	Windows int         `json:"windows"`
	Tabs    int         `json:"tabs"`
	Entries []ShowEntry `json:"entries"`
}

// RestoreOutput is the result of session_restore.
type RestoreOutput struct {
	Windows int      `json:"windows"`
	Tabs    int      `json:"tabs"`
	Groups  int      `json:"groups"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// StatusOutput is the result of session_status.
type StatusOutput struct {
	Bucket   int64  `json:"bucket"`
	Exported bool   `json:"exported"`
	At       string `json:"at,omitempty"`
	Created  int    `json:"created"`
	Updated  int    `json:"updated"`
	Deleted  int    `json:"deleted"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
}

// --- Handlers ---

func syncHandler(d Deps) mcp.ToolHandlerFor[SyncInput, *SyncOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ SyncInput) (*mcp.CallToolResult, *SyncOutput, error) {
		res, err := d.Mirror.Run(ctx)
		if err != nil {
			return nil, nil, err
		}

		result := &SyncOutput{
			Stats:       res.Stats,
			Collections: len(res.CollectionFolders),
		}
		for _, e := range res.Errors {
			result.Errors = append(result.Errors, e.Error())
		}

		return textResult(result), result, nil
	}
}

func planHandler(d Deps) mcp.ToolHandlerFor[PlanInput, *PlanOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input PlanInput) (*mcp.CallToolResult, *PlanOutput, error) {
		if input.MaxDepth < 0 {
			return nil, nil, fmt.Errorf("max_depth must not be negative")
		}

		plan, err := d.Mirror.Plan(ctx)
		if err != nil {
			return nil, nil, err
		}

		result := &PlanOutput{Groups: []string{}, Entries: []PlanEntry{}}

		for _, g := range plan.Groups {
			result.Groups = append(result.Groups, g.Title)

			var visit func(n *mirror.RemoteNode, depth int)
			visit = func(n *mirror.RemoteNode, depth int) {
				if input.MaxDepth > 0 && depth >= input.MaxDepth {
					return
				}

				result.Entries = append(result.Entries, PlanEntry{Group: g.Title, ID: n.ID, Title: n.Title, Depth: depth})
				for _, c := range n.Children {
					visit(c, depth+1)
				}
			}

			for _, n := range g.Collections {
				visit(n, 0)
			}
		}

		return textResult(result), result, nil
	}
}

func exportHandler(d Deps) mcp.ToolHandlerFor[ExportInput, *ExportOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ ExportInput) (*mcp.CallToolResult, *ExportOutput, error) {
		res, shared, err := d.Exporter.Export(ctx, d.BucketID)
		if err != nil {
			return nil, nil, err
		}

		result := &ExportOutput{
			Bucket:  d.BucketID,
			Joined:  shared,
			Created: res.Created,
			Updated: res.Updated,
			Deleted: res.Deleted,
			Skipped: res.Skipped,
			Failed:  res.Failed,
		}
		for _, e := range res.Errors {
			result.Errors = append(result.Errors, e.Error())
		}

		return textResult(result), result, nil
	}
}

func showHandler(d Deps) mcp.ToolHandlerFor[ShowInput, *ShowOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ShowInput) (*mcp.CallToolResult, *ShowOutput, error) {
		tree, err := loadTree(ctx, d)
		if err != nil {
			return nil, nil, err
		}

		result := &ShowOutput{Entries: []ShowEntry{}}

		for _, w := range tree.Windows {
			if input.Window != 0 && w.ID != input.Window {
				continue
			}

			result.Windows++

			for _, n := range w.Tree {
				if n.Type == session.NodeGroup {
					for _, t := range n.Tabs {
						result.Entries = append(result.Entries, showEntry(w.ID, n.Title, t))
					}

					continue
				}

				result.Entries = append(result.Entries, showEntry(w.ID, "", n))
			}
		}

		result.Tabs = len(result.Entries)

		return textResult(result), result, nil
	}
}

func showEntry(window int64, group string, n session.Node) ShowEntry {
	return ShowEntry{Window: window, Group: group, Title: n.Title, URL: n.URL, Pinned: n.Pinned}
}

func restoreHandler(d Deps) mcp.ToolHandlerFor[RestoreInput, *RestoreOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input RestoreInput) (*mcp.CallToolResult, *RestoreOutput, error) {
		if !input.Confirm {
			return nil, nil, fmt.Errorf("restore opens new browser windows; call again with confirm set to true")
		}

		tree, err := loadTree(ctx, d)
		if err != nil {
			return nil, nil, err
		}

		if len(tree.Windows) == 0 {
			return nil, nil, fmt.Errorf("bucket %d holds no saved tabs", d.BucketID)
		}

		res := d.Restorer.Replay(ctx, tree)

		result := &RestoreOutput{
			Windows: res.Windows,
			Tabs:    res.Tabs,
			Groups:  res.Groups,
			Failed:  res.Failed,
		}
		for _, e := range res.Errors {
			result.Errors = append(result.Errors, e.Error())
		}

		return textResult(result), result, nil
	}
}

func statusHandler(d Deps) mcp.ToolHandlerFor[StatusInput, *StatusOutput] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, *StatusOutput, error) {
		sum, err := d.History.LastExport(d.BucketID)
		if err != nil {
			return nil, nil, err
		}

		result := &StatusOutput{Bucket: d.BucketID}
		if sum != nil {
			result.Exported = true
			result.At = sum.At.UTC().Format(time.RFC3339)
			result.Created = sum.Created
			result.Updated = sum.Updated
			result.Deleted = sum.Deleted
			result.Skipped = sum.Skipped
			result.Failed = sum.Failed
		}

		return textResult(result), result, nil
	}
}

func loadTree(ctx context.Context, d Deps) (*session.RestoreTree, error) {
	items, err := d.Items.FetchItems(ctx, d.BucketID)
	if err != nil {
		return nil, fmt.Errorf("fetching bucket %d: %w", d.BucketID, err)
	}

	return session.PlanRestore(items), nil
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v interface{}) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
