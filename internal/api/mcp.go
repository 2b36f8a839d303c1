package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/loomkit/loom/internal/graph"
	"github.com/loomkit/loom/internal/harvest"
	"github.com/loomkit/loom/internal/retrieval"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     *graph.Store
	Retriever *retrieval.Retriever
	Harvest   *harvest.Store
	TopK      int
}

// NewMCPServer creates an MCP server with the loom tools and resources
// registered, so agents can search the graph and collect passages into
// harvest buckets.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"loom",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("loom — personal content graph: search passages, explore related content, and collect passages into harvest buckets."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_passages",
			mcp.WithDescription("Search the content graph for passages relevant to a query, using staged hybrid retrieval."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchPassages(deps),
	)

	s.AddTool(
		mcp.NewTool("related_passages",
			mcp.WithDescription("Find passages where a keyword is central, ranked by how much the passage is about it."),
			mcp.WithString("keyword", mcp.Description("Keyword or phrase"), mcp.Required()),
			mcp.WithString("exclude", mcp.Description("Node ID to exclude from results")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpRelatedPassages(deps),
	)

	s.AddTool(
		mcp.NewTool("collect_passage",
			mcp.WithDescription("Add a passage to a collecting harvest bucket as a candidate for curation."),
			mcp.WithString("bucket_id", mcp.Description("Harvest bucket ID"), mcp.Required()),
			mcp.WithNumber("version", mcp.Description("Bucket version last read"), mcp.Required()),
			mcp.WithString("text", mcp.Description("Passage text"), mcp.Required()),
			mcp.WithString("node_id", mcp.Description("Source node ID, when the passage comes from the graph")),
			mcp.WithString("source", mcp.Description("Free-form source label")),
		),
		mcpCollectPassage(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"loom://stats",
			"Corpus Statistics",
			mcp.WithResourceDescription("Node, link, version, and vector counts for the content graph"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	return s
}

func mcpSearchPassages(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		results, err := deps.Retriever.Staged(ctx, query, retrieval.StagedOptions{
			Hybrid: retrieval.HybridOptions{TopK: limit},
		})
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(results) == 0 {
			return mcpText("[]"), nil
		}

		type passageResult struct {
			ID         string  `json:"id"`
			Title      string  `json:"title,omitempty"`
			Text       string  `json:"text"`
			SourceType string  `json:"source_type"`
			Score      float64 `json:"score"`
		}
		out := make([]passageResult, len(results))
		for i, res := range results {
			out[i] = passageResult{
				ID:         res.Node.ID,
				Title:      res.Node.Title,
				Text:       res.Node.Text,
				SourceType: res.Node.SourceType,
				Score:      res.Score,
			}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRelatedPassages(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		keyword, err := req.RequireString("keyword")
		if err != nil {
			return mcpError("keyword is required"), nil
		}

		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 50 {
			limit = 50
		}

		matches, err := deps.Store.FindByKeyword(keyword, graph.KeywordOptions{
			ExcludeNodeID: req.GetString("exclude", ""),
			Limit:         limit,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("keyword search failed: %v", err)), nil
		}
		if len(matches) == 0 {
			return mcpText("[]"), nil
		}

		type matchResult struct {
			ID         string  `json:"id"`
			Title      string  `json:"title,omitempty"`
			Text       string  `json:"text"`
			Centrality float64 `json:"centrality"`
		}
		out := make([]matchResult, len(matches))
		for i, m := range matches {
			out[i] = matchResult{
				ID:         m.Node.ID,
				Title:      m.Node.Title,
				Text:       m.Node.Text,
				Centrality: m.Centrality,
			}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpCollectPassage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		bucketID, err := req.RequireString("bucket_id")
		if err != nil {
			return mcpError("bucket_id is required"), nil
		}
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		version := req.GetInt("version", 0)
		if version <= 0 {
			return mcpError("version is required"), nil
		}

		passage, err := deps.Harvest.Collect(bucketID, version, harvest.PassageInput{
			NodeID: req.GetString("node_id", ""),
			Text:   text,
			Source: req.GetString("source", "mcp"),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("collect failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Collected passage %s into bucket %s", passage.ID, bucketID)), nil
	}
}

func mcpResourceStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats, err := deps.Store.Stats()
		if err != nil {
			return nil, fmt.Errorf("failed to get stats: %w", err)
		}
		b, err := json.Marshal(stats)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal stats: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "loom://stats",
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
