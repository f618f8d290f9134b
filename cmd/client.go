package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/lucky-verma/music-discovery/internal/history"
	"github.com/lucky-verma/music-discovery/internal/models"
	"github.com/lucky-verma/music-discovery/internal/orchestrator"
	"github.com/lucky-verma/music-discovery/internal/shared"
)

// daemonClient talks to a running daemon over its JSON API. It satisfies the
// job monitor's controller and stats interfaces so the TUI can drive a remote
// queue.
type daemonClient struct {
	baseURL    string
	httpClient *http.Client
}

func newDaemonClient(baseURL string, httpClient *http.Client) *daemonClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &daemonClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

type apiError struct {
	Message string `json:"error"`
	Detail  string `json:"detail"`
}

func (c *daemonClient) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: is the daemon running? %v", shared.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Message != "" {
			return fmt.Errorf("%w: %s: %s", shared.ErrAPIRequest, apiErr.Message, apiErr.Detail)
		}
		return fmt.Errorf("%w: status %d", shared.ErrAPIRequest, resp.StatusCode)
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

type searchResponse struct {
	Service string                `json:"service"`
	Results []models.SearchResult `json:"results"`
}

func (c *daemonClient) Search(ctx context.Context, service, query string, limit int) (*searchResponse, error) {
	params := url.Values{"q": {query}}
	if service != "" {
		params.Set("service", service)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/search?" + params.Encode()
	var out searchResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *daemonClient) Download(ctx context.Context, sourceRef, quality string, meta models.TrackMetadata) (*models.Job, error) {
	body := map[string]any{
		"source_ref": sourceRef,
		"quality":    quality,
		"meta":       meta,
	}
	var job models.Job
	if err := c.do(ctx, http.MethodPost, "/api/download", body, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *daemonClient) Sync(ctx context.Context, service, playlist, quality string, liked bool) (*models.Batch, error) {
	body := map[string]any{
		"service":  service,
		"playlist": playlist,
		"liked":    liked,
		"quality":  quality,
	}
	var batch models.Batch
	if err := c.do(ctx, http.MethodPost, "/api/sync", body, &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

// Jobs lists every job the scheduler knows about, newest first. Errors are
// swallowed so the monitor keeps its last snapshot on a blip.
func (c *daemonClient) Jobs() []models.Job {
	var jobs []models.Job
	if err := c.do(context.Background(), http.MethodGet, "/api/jobs", nil, &jobs); err != nil {
		return nil
	}
	return jobs
}

func (c *daemonClient) Job(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+id, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *daemonClient) Cancel(jobID string) error {
	return c.do(context.Background(), http.MethodPost, "/api/jobs/"+jobID+"/cancel", nil, nil)
}

func (c *daemonClient) Retry(jobID string) (*models.Job, error) {
	var job models.Job
	if err := c.do(context.Background(), http.MethodPost, "/api/jobs/"+jobID+"/retry", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *daemonClient) Batch(ctx context.Context, id string) (*orchestrator.BatchStatus, error) {
	var status orchestrator.BatchStatus
	if err := c.do(ctx, http.MethodGet, "/api/batches/"+id, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *daemonClient) History(ctx context.Context, limit int) ([]models.JobEvent, error) {
	path := "/api/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var events []models.JobEvent
	if err := c.do(ctx, http.MethodGet, path, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *daemonClient) Stats() (history.Stats, error) {
	var stats history.Stats
	err := c.do(context.Background(), http.MethodGet, "/api/stats", nil, &stats)
	return stats, err
}

func (c *daemonClient) Scan(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/scan", nil, nil)
}
