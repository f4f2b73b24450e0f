// Package textrainsdk is a thin client for the textrain HTTP API.
package textrainsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a textrain API server. The zero BasePath means /v0.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Health is the liveness response.
type Health struct {
	Status string `json:"status"`
}

// Run mirrors a ledger run row.
type Run struct {
	ID         string  `json:"id"`
	OutputDir  string  `json:"output_dir"`
	Task       string  `json:"task"`
	Detector   string  `json:"detector"`
	Connection string  `json:"connection"`
	Status     string  `json:"status"`
	Error      string  `json:"error"`
	StartedAt  string  `json:"started_at"`
	FinishedAt *string `json:"finished_at"`
}

// RunEvent is one ledger event of a run.
type RunEvent struct {
	ID      int64          `json:"id"`
	TS      string         `json:"ts"`
	Type    string         `json:"type"`
	Phase   string         `json:"phase"`
	Payload map[string]any `json:"payload"`
}

// RunDetail is a run with its event trail.
type RunDetail struct {
	Run    Run        `json:"run"`
	Events []RunEvent `json:"events"`
}

// TaskProfile mirrors a resolved task profile (partial).
type TaskProfile struct {
	FullID       string `json:"full_id"`
	DetectorTask string `json:"detector_task"`
	SubTask      int    `json:"sub_task"`
	Detector     string `json:"detector"`
	SingleStage  bool   `json:"single_stage"`
	Unmerging    bool   `json:"unmerging"`
	Modifiers    bool   `json:"modifiers"`
	Evaluation   string `json:"evaluation"`
	Preprocessor string `json:"preprocessor"`
}

// RunFilters narrow a run listing.
type RunFilters struct {
	Status string
	Task   string
	Limit  int
}

// APIError wraps non-2xx responses, with the envelope decoded when the
// server sent one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Health checks server liveness. It needs no token.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var resp Health
	err := c.get(ctx, "health", &resp)
	return resp, err
}

// ListRuns returns ledger runs, newest first.
func (c *Client) ListRuns(ctx context.Context, f RunFilters) ([]Run, error) {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Task != "" {
		q.Set("task", f.Task)
	}
	if f.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", f.Limit))
	}
	endpoint := "runs"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Run
	err := c.get(ctx, endpoint, &resp)
	return resp, err
}

// GetRun fetches one run with its events.
func (c *Client) GetRun(ctx context.Context, id string) (RunDetail, error) {
	var resp RunDetail
	err := c.get(ctx, "runs/"+url.PathEscape(id), &resp)
	return resp, err
}

// ListTasks returns the recognized task identifiers.
func (c *Client) ListTasks(ctx context.Context) ([]string, error) {
	var resp struct {
		Tasks []string `json:"tasks"`
	}
	err := c.get(ctx, "tasks", &resp)
	return resp.Tasks, err
}

// GetTask resolves a task profile.
func (c *Client) GetTask(ctx context.Context, id string) (TaskProfile, error) {
	var resp TaskProfile
	err := c.get(ctx, "tasks/"+url.PathEscape(id), &resp)
	return resp, err
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + c.basePath() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) basePath() string {
	if c.BasePath == "" {
		return "/v0"
	}
	return "/" + strings.Trim(c.BasePath, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
