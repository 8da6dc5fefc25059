package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/use-agent/tweetscope/models"
)

// apiClient calls the tweetscope HTTP API.
type apiClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func (c *apiClient) get(ctx context.Context, path string, params url.Values, out any) error {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *apiClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// do sends req and decodes a 2xx body into out. Error envelopes become
// "[CODE] message" errors.
func (c *apiClient) do(req *http.Request, out any) error {
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var env models.ErrorResponse
		if json.Unmarshal(body, &env) == nil && env.Error != nil {
			return fmt.Errorf("[%s] %s", env.Error.Code, env.Error.Message)
		}
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// pollTask polls a task until it is terminal or ctx is done.
func (c *apiClient) pollTask(ctx context.Context, id string, every time.Duration) (models.TaskView, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		var view models.TaskView
		if err := c.get(ctx, "/api/v1/acquisitions/"+url.PathEscape(id), nil, &view); err != nil {
			return view, err
		}
		if view.Status.Terminal() {
			return view, nil
		}

		select {
		case <-ctx.Done():
			return view, ctx.Err()
		case <-ticker.C:
		}
	}
}

func formatTask(v models.TaskView) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task %s: %s", v.ID, v.Status)
	if v.Status == models.TaskCompleted {
		fmt.Fprintf(&sb, " (%d collected, %d new, %dms)", v.TotalCollected, v.TotalInserted, v.DurationMs)
	}
	sb.WriteString("\n")
	if v.Error != "" {
		fmt.Fprintf(&sb, "Error: %s\n", v.Error)
	}
	for _, r := range v.Results {
		fmt.Fprintf(&sb, "- %s: %s after %d attempt(s), %d collected", r.Query, r.Status, r.Attempts, r.Collected)
		if r.Error != "" {
			fmt.Fprintf(&sb, " (%s)", r.Error)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatPosts(title string, posts []models.ScoredPost) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %d post(s)\n\n", title, len(posts))
	for i, p := range posts {
		fmt.Fprintf(&sb, "--- [%d] @%s · %s · score %.1f ---\n", i+1, p.AuthorHandle, p.CreatedAt.UTC().Format(time.RFC3339), p.Score)
		fmt.Fprintf(&sb, "%s\n", p.Text)
		fmt.Fprintf(&sb, "likes %d · replies %d · reposts %d · quotes %d\n%s\n\n", p.Likes, p.Replies, p.Reposts, p.Quotes, p.Permalink)
	}
	return sb.String()
}

func formatStats(s models.StatsResponse) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Total posts: %d\n", s.Total)
	if s.LastRunAt != nil {
		fmt.Fprintf(&sb, "Last collected: %s\n", s.LastRunAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&sb, "Acquisition running: %v", s.Runtime.IsRunning)
	if s.Runtime.CurrentTaskID != "" {
		fmt.Fprintf(&sb, " (task %s)", s.Runtime.CurrentTaskID)
	}
	sb.WriteString("\n")
	if s.Runtime.NextRunAt != nil {
		fmt.Fprintf(&sb, "Next scheduled run: %s\n", s.Runtime.NextRunAt.UTC().Format(time.RFC3339))
	}

	if len(s.PerQueryCounts) > 0 {
		sb.WriteString("\nPer query:\n")
		for q, n := range s.PerQueryCounts {
			fmt.Fprintf(&sb, "- %s: %d\n", q, n)
		}
	}
	if len(s.PerAuthorTop) > 0 {
		sb.WriteString("\nTop authors:\n")
		for _, a := range s.PerAuthorTop {
			fmt.Fprintf(&sb, "- @%s: %d\n", a.Handle, a.Count)
		}
	}
	return sb.String()
}
