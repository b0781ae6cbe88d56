package cmd

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mirrorctl/internal/config"
	"mirrorctl/internal/model"

	"github.com/stretchr/testify/require"
)

func withDaemon(t *testing.T, h http.HandlerFunc) {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	prev := cfg
	cfg = &config.Config{Server: srv.URL + "/"}
	t.Cleanup(func() { cfg = prev })
}

func TestReply(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		withDaemon(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/job", r.URL.Path)
			require.Equal(t, "application/json", r.Header.Get("Content-Type"))

			body, _ := io.ReadAll(r.Body)
			require.JSONEq(t, `{"name":"debian","upstream":"rsync://example.org/debian/"}`, string(body))
			_, _ = io.WriteString(w, `{"msg":"create debian succeed"}`)
		})

		require.NoError(t, reply(http.MethodPost, "/job",
			strings.NewReader(`{"name":"debian","upstream":"rsync://example.org/debian/"}`)))
	})

	t.Run("failed steps", func(t *testing.T) {
		withDaemon(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"error":"some error happened in [disable]","failed":["disable"]}`)
		})

		err := reply(http.MethodDelete, "/job/debian", nil)
		require.EqualError(t, err, "some error happened in [disable] (failed: disable)")
	})

	t.Run("non json body", func(t *testing.T) {
		withDaemon(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, "bad gateway")
		})

		require.ErrorContains(t, reply(http.MethodGet, "/init", nil), "unexpected response (502)")
	})
}

func TestFetch(t *testing.T) {
	withDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/job":
			require.Equal(t, "failed", r.URL.Query().Get("status"))
			_, _ = io.WriteString(w, `{"msg":"success","data":[{"name":"pypi","status":"failed","pods":[]}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":"job not exists"}`)
		}
	})

	var jobs []model.JobStatus
	require.NoError(t, fetch("/job?status=failed", &jobs))
	require.Len(t, jobs, 1)
	require.Equal(t, "pypi", jobs[0].Name)
	require.Equal(t, model.StatusFailed, jobs[0].Status)

	var info model.JobInfo
	require.EqualError(t, fetch("/job/ghost", &info), "job not exists")
}
