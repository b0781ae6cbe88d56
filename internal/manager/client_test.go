package manager

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	body   map[string]any
}

func newServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *[]recorded) {
	t.Helper()

	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			require.NoError(t, json.Unmarshal(data, &rec.body))
		}
		calls = append(calls, rec)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	return New(srv.URL+"/", time.Second), &calls
}

func TestWorkersAndJobs(t *testing.T) {
	c, calls := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/workers":
			_, _ = io.WriteString(w, `[{"id":"debian"},{"id":"pypi"}]`)
		case "/jobs":
			_, _ = io.WriteString(w, `[{"name":"debian","status":"success","size":"1.2T"},{"name":"pypi","status":"failed"}]`)
		case "/workers/debian/jobs":
			_, _ = io.WriteString(w, `[{"name":"debian","status":"syncing","last_update":"2024-01-01 00:00:00 +0800"}]`)
		case "/workers/ghost/jobs":
			_, _ = io.WriteString(w, `{"error":"invalid workerID ghost"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	ctx := context.Background()

	workers, err := c.Workers(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 2)
	require.Equal(t, "pypi", workers[1].ID)

	jobs, err := c.Jobs(ctx, "")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "1.2T", jobs[0].Size)

	job, ok := c.Job(ctx, "debian")
	require.True(t, ok)
	require.Equal(t, "syncing", job.Status)
	require.JSONEq(t, `"2024-01-01 00:00:00 +0800"`, string(job.LastUpdate))

	_, ok = c.Job(ctx, "ghost")
	require.False(t, ok)

	_, err = c.Jobs(ctx, "missing")
	require.Error(t, err)

	require.Equal(t, "/workers", (*calls)[0].path)
}

func TestCommand(t *testing.T) {
	c, calls := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"message":"successfully send command to worker debian"}`)
	})

	ctx := context.Background()

	r := c.Command(ctx, "debian", "start")
	require.True(t, r.OK())
	require.Equal(t, "successfully send command to worker debian", r.Message)

	require.True(t, c.Command(ctx, "debian", "reload").OK())

	require.Len(t, *calls, 2)

	start := (*calls)[0]
	require.Equal(t, http.MethodPost, start.method)
	require.Equal(t, "/cmd", start.path)
	require.Equal(t, map[string]any{
		"cmd":       "start",
		"mirror_id": "debian",
		"worker_id": "debian",
		"options":   map[string]any{"force": true},
	}, start.body)

	reload := (*calls)[1]
	require.NotContains(t, reload.body, "mirror_id")
	require.Equal(t, "reload", reload.body["cmd"])
}

func TestWriteResults(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		kind    Kind
		message string
	}{
		{name: "ok", status: http.StatusOK, body: `{"message":"deleted"}`, kind: KindOK, message: "deleted"},
		{name: "error payload", status: http.StatusOK, body: `{"error":"worker not found"}`, kind: KindPayload, message: "worker not found"},
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":"db closed"}`, kind: KindStatus, message: "db closed"},
		{name: "plain text failure", status: http.StatusBadGateway, body: "bad gateway\n", kind: KindStatus, message: "bad gateway"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, calls := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			r := c.DeleteWorker(context.Background(), "debian")
			require.Equal(t, tt.kind, r.Kind)
			require.Equal(t, tt.message, r.Message)
			require.Equal(t, tt.kind == KindOK, r.OK())
			if !r.OK() {
				require.NotEmpty(t, r.Reason())
			}

			require.Equal(t, http.MethodDelete, (*calls)[0].method)
			require.Equal(t, "/workers/debian", (*calls)[0].path)
		})
	}
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := New(srv.URL, 100*time.Millisecond)

	r := c.FlushDisabled(context.Background())
	require.Equal(t, KindTransport, r.Kind)
	require.False(t, r.OK())
	require.Error(t, r.Err)

	_, err := c.Workers(context.Background())
	require.Error(t, err)
}

func TestSetSizeAndFlush(t *testing.T) {
	c, calls := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"message":"ok"}`)
	})

	ctx := context.Background()
	require.True(t, c.SetSize(ctx, "debian", "debian", "12.3G").OK())
	require.True(t, c.FlushDisabled(ctx).OK())

	require.Equal(t, recorded{
		method: http.MethodPost,
		path:   "/workers/debian/jobs/debian/size",
		body:   map[string]any{"Name": "debian", "Size": "12.3G"},
	}, (*calls)[0])
	require.Equal(t, http.MethodDelete, (*calls)[1].method)
	require.Equal(t, "/jobs/disabled", (*calls)[1].path)
}
