// Package notion is the record-store client: authenticated JSON calls
// against the Notion API with the property envelope translated both
// ways. API failures come back as result values, not errors, so domain
// tools can turn them into human-readable failure text.
package notion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.notion.com/v1"
	notionVersion  = "2022-06-28"
	requestTimeout = 30 * time.Second

	maxPageSize = 100
)

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// SetBaseURL overrides the API endpoint (for tests).
func (c *Client) SetBaseURL(u string) {
	c.baseURL = strings.TrimRight(u, "/")
}

// Result is the uniform outcome of a single API call.
type Result struct {
	Success bool
	Data    map[string]any
	Error   string
	Status  int
}

// QueryResult carries all pages of a database query.
type QueryResult struct {
	Success bool
	Results []map[string]any
	Error   string
}

func (c *Client) request(method, endpoint string, body any) Result {
	if c.apiKey == "" {
		return Result{Error: "NOTION_API_KEY is not configured"}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return Result{Error: fmt.Sprintf("marshal request: %v", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, c.baseURL+"/"+endpoint, reader)
	if err != nil {
		return Result{Error: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Notion-Version", notionVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{Error: fmt.Sprintf("network error: %v", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Status: resp.StatusCode, Error: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{Status: resp.StatusCode, Error: strings.TrimSpace(string(respBody))}
	}

	var data map[string]any
	if err := json.Unmarshal(respBody, &data); err != nil {
		return Result{Status: resp.StatusCode, Error: fmt.Sprintf("decode response: %v", err)}
	}
	return Result{Success: true, Data: data, Status: resp.StatusCode}
}

// QueryDatabase runs a database query with optional filter and sorts,
// following pagination cursors until all results are collected or a
// page fails.
func (c *Client) QueryDatabase(dbID string, filter any, sorts []map[string]any, pageSize int) QueryResult {
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	var all []map[string]any
	var cursor string

	for {
		body := map[string]any{"page_size": pageSize}
		if filter != nil {
			body["filter"] = filter
		}
		if len(sorts) > 0 {
			body["sorts"] = sorts
		}
		if cursor != "" {
			body["start_cursor"] = cursor
		}

		result := c.request(http.MethodPost, fmt.Sprintf("databases/%s/query", dbID), body)
		if !result.Success {
			return QueryResult{Results: all, Error: result.Error}
		}

		if pages, ok := result.Data["results"].([]any); ok {
			for _, p := range pages {
				if page, ok := p.(map[string]any); ok {
					all = append(all, page)
				}
			}
		}

		hasMore, _ := result.Data["has_more"].(bool)
		if !hasMore {
			break
		}
		next, _ := result.Data["next_cursor"].(string)
		if next == "" {
			break
		}
		cursor = next
	}

	return QueryResult{Success: true, Results: all}
}

// CreatePage creates a page in a database with the given properties.
func (c *Client) CreatePage(dbID string, properties map[string]any) Result {
	return c.request(http.MethodPost, "pages", map[string]any{
		"parent":     map[string]any{"database_id": dbID},
		"properties": properties,
	})
}

// UpdatePage sets properties on an existing page.
func (c *Client) UpdatePage(pageID string, properties map[string]any) Result {
	return c.request(http.MethodPatch, "pages/"+pageID, map[string]any{
		"properties": properties,
	})
}

// ArchivePage soft-deletes a page.
func (c *Client) ArchivePage(pageID string) Result {
	return c.request(http.MethodPatch, "pages/"+pageID, map[string]any{
		"archived": true,
	})
}
