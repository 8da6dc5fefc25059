package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/use-agent/tweetscope/models"
)

func main() {
	apiURL := os.Getenv("TWEETSCOPE_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("TWEETSCOPE_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "TWEETSCOPE_API_KEY is required")
		os.Exit(1)
	}
	api := &apiClient{
		baseURL: strings.TrimRight(apiURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}

	s := server.NewMCPServer(
		"tweetscope",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	requestAcquisitionTool := mcp.NewTool("request_acquisition",
		mcp.WithDescription("Acquire fresh posts for one or more search queries and wait for the run to finish. Only one acquisition runs at a time; a busy server answers ALREADY_RUNNING."),
		mcp.WithArray("queries",
			mcp.Required(),
			mcp.Description("Search queries to acquire, processed in order (max 20)"),
		),
		mcp.WithNumber("timeout_minutes",
			mcp.Description("How long to wait for the run before giving up on polling (default: 30)"),
		),
	)
	s.AddTool(requestAcquisitionTool, handleRequestAcquisition(api))

	searchPostsTool := mcp.NewTool("search_posts",
		mcp.WithDescription("Full-text search over stored posts (text and author). Supports quoted phrases, OR and -exclusion."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search text"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum posts to return (default: 20, max: 200)"),
		),
	)
	s.AddTool(searchPostsTool, handleSearchPosts(api))

	topPostsTool := mcp.NewTool("top_posts",
		mcp.WithDescription("Highest-engagement recent posts, ranked by weighted likes, replies, reposts and quotes."),
		mcp.WithString("query",
			mcp.Description("Restrict to posts acquired for this query"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum posts to return (default: 20, max: 200)"),
		),
		mcp.WithBoolean("distinct",
			mcp.Description("Collapse near-duplicate texts, keeping the higher-ranked post"),
		),
	)
	s.AddTool(topPostsTool, handleTopPosts(api))

	latestPostsTool := mcp.NewTool("latest_posts",
		mcp.WithDescription("Most recent stored posts ranked by engagement, optionally from one author."),
		mcp.WithString("author",
			mcp.Description("Author handle, with or without @"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum posts to return (default: 20, max: 200)"),
		),
	)
	s.AddTool(latestPostsTool, handleLatestPosts(api))

	statsTool := mcp.NewTool("scraper_stats",
		mcp.WithDescription("Store totals, per-query counts, top authors and whether an acquisition is running."),
	)
	s.AddTool(statsTool, handleStats(api))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func handleRequestAcquisition(api *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		queries, err := request.RequireStringSlice("queries")
		if err != nil || len(queries) == 0 {
			return mcp.NewToolResultError("queries is required and must be a non-empty array of strings"), nil
		}
		wait := time.Duration(numberArg(request, "timeout_minutes", 30)) * time.Minute

		var accepted models.AcquisitionResponse
		if err := api.post(ctx, "/api/v1/acquisitions", models.AcquisitionRequest{
			Queries:   queries,
			ChannelID: "mcp",
		}, &accepted); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		pollCtx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		view, err := api.pollTask(pollCtx, accepted.TaskID, 3*time.Second)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("task %s: %v", accepted.TaskID, err)), nil
		}
		if view.Status == models.TaskFailed {
			return mcp.NewToolResultError(formatTask(view)), nil
		}
		return mcp.NewToolResultText(formatTask(view)), nil
	}
}

func handleSearchPosts(api *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		q, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError("query is required"), nil
		}
		params := url.Values{"q": {q}}
		setLimit(params, request)
		return listTool(ctx, api, "/api/v1/posts/search", params, fmt.Sprintf("Search %q", q))
	}
}

func handleTopPosts(api *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		params := url.Values{}
		if q := request.GetString("query", ""); q != "" {
			params.Set("query", q)
		}
		if distinct, ok := request.GetArguments()["distinct"].(bool); ok && distinct {
			params.Set("distinct", "true")
		}
		setLimit(params, request)
		return listTool(ctx, api, "/api/v1/posts/top", params, "Top posts")
	}
}

func handleLatestPosts(api *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		params := url.Values{}
		if a := request.GetString("author", ""); a != "" {
			params.Set("author", a)
		}
		setLimit(params, request)
		return listTool(ctx, api, "/api/v1/posts/latest", params, "Latest posts")
	}
}

func handleStats(api *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var stats models.StatsResponse
		if err := api.get(ctx, "/api/v1/stats", nil, &stats); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(formatStats(stats)), nil
	}
}

func listTool(ctx context.Context, api *apiClient, path string, params url.Values, title string) (*mcp.CallToolResult, error) {
	var list models.PostListResponse
	if err := api.get(ctx, path, params, &list); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatPosts(title, list.Posts)), nil
}

func numberArg(request mcp.CallToolRequest, key string, fallback float64) float64 {
	if v, ok := request.GetArguments()[key].(float64); ok && v > 0 {
		return v
	}
	return fallback
}

func setLimit(params url.Values, request mcp.CallToolRequest) {
	if n := numberArg(request, "limit", 0); n > 0 {
		params.Set("limit", strconv.Itoa(int(n)))
	}
}
