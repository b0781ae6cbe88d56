// Package manager talks to the tunasync manager, which supervises the sync
// processes and owns their run status.
package manager

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

	"mirrorctl/internal/logger"
	"mirrorctl/internal/model"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

type Client struct {
	base string
	http *http.Client
}

func New(base string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// API is the base URL workers use to report back to the manager.
func (c *Client) API() string {
	return c.base
}

// Workers lists every registered worker. Each job runs in its own worker,
// so this is also the roster of job names.
func (c *Client) Workers(ctx context.Context) ([]model.Worker, error) {
	var workers []model.Worker
	if err := c.query(ctx, "/workers", &workers); err != nil {
		return nil, err
	}
	return workers, nil
}

// Jobs lists mirror statuses, scoped to one worker when worker is set.
func (c *Client) Jobs(ctx context.Context, worker string) ([]model.MirrorStatus, error) {
	path := "/jobs"
	if worker != "" {
		path = "/workers/" + url.PathEscape(worker) + "/jobs"
	}

	var jobs []model.MirrorStatus
	if err := c.query(ctx, path, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// Job returns the status of the mirror served by the named worker.
func (c *Client) Job(ctx context.Context, name string) (model.MirrorStatus, bool) {
	jobs, err := c.Jobs(ctx, name)
	if err != nil {
		logger.Log.Debug("failed to query job",
			zap.String("name", name),
			zap.Error(err))
		return model.MirrorStatus{}, false
	}
	if len(jobs) == 0 {
		return model.MirrorStatus{}, false
	}
	return jobs[0], true
}

type commandRequest struct {
	Cmd      string         `json:"cmd"`
	MirrorID string         `json:"mirror_id,omitempty"`
	WorkerID string         `json:"worker_id"`
	Options  map[string]any `json:"options"`
}

// Command sends a control command to the worker's mirror. Reload targets
// the worker itself, so it carries no mirror id.
func (c *Client) Command(ctx context.Context, worker, cmd string) Result {
	req := commandRequest{
		Cmd:      cmd,
		WorkerID: worker,
		Options:  map[string]any{"force": true},
	}
	if cmd != "reload" {
		req.MirrorID = worker
	}
	return c.write(ctx, http.MethodPost, "/cmd", req)
}

func (c *Client) DeleteWorker(ctx context.Context, worker string) Result {
	return c.write(ctx, http.MethodDelete, "/workers/"+url.PathEscape(worker), nil)
}

// FlushDisabled drops the manager's records of disabled jobs.
func (c *Client) FlushDisabled(ctx context.Context) Result {
	return c.write(ctx, http.MethodDelete, "/jobs/disabled", nil)
}

func (c *Client) SetSize(ctx context.Context, worker, mirror, size string) Result {
	body := struct {
		Name string `json:"Name"`
		Size string `json:"Size"`
	}{Name: mirror, Size: size}

	path := fmt.Sprintf("/workers/%s/jobs/%s/size", url.PathEscape(worker), url.PathEscape(mirror))
	return c.write(ctx, http.MethodPost, path, body)
}

func (c *Client) query(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach manager: %w", err)
	}

	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read manager response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("manager returned %d: %s", resp.StatusCode, errorMessage(data))
	}

	// The manager answers with an error object where a list is expected
	// when the worker is unknown.
	if parsed := gjson.ParseBytes(data); !parsed.IsArray() {
		if e := parsed.Get("error"); e.Exists() {
			return fmt.Errorf("manager error: %s", e.String())
		}
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode manager response: %w", err)
	}
	return nil
}

func (c *Client) write(ctx context.Context, method, path string, body any) Result {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return Result{Kind: KindTransport, Err: fmt.Errorf("failed to encode request: %w", err)}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return Result{Kind: KindTransport, Err: fmt.Errorf("failed to build request: %w", err)}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		r := Result{Kind: KindTransport, Err: fmt.Errorf("failed to reach manager: %w", err)}
		r.log(method, path)
		return r
	}

	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	data, _ := io.ReadAll(resp.Body)
	r := classify(resp.StatusCode, data)
	r.log(method, path)
	return r
}

func classify(code int, data []byte) Result {
	if code != http.StatusOK {
		return Result{Kind: KindStatus, StatusCode: code, Message: errorMessage(data)}
	}
	if e := gjson.GetBytes(data, "error"); e.Exists() {
		return Result{Kind: KindPayload, StatusCode: code, Message: e.String()}
	}
	return Result{Kind: KindOK, StatusCode: code, Message: gjson.GetBytes(data, "message").String()}
}

func errorMessage(data []byte) string {
	if e := gjson.GetBytes(data, "error"); e.Exists() {
		return e.String()
	}
	return strings.TrimSpace(string(data))
}
