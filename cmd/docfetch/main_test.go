package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/docfetch/internal/config"
	"github.com/JakeFAU/docfetch/internal/fetch"
)

func TestParseURLList(t *testing.T) {
	t.Parallel()

	urls, err := parseURLList(strings.NewReader("https://a.example\n\n# skip\n  https://b.example  \n"))
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, urls)
}

func TestFetchCommandPrintsSummary(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "document")
	}))
	t.Cleanup(upstream.Close)

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "docfetch.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("logging:\n  level: error\nbatch:\n  max_concurrency: 2\n"), 0o600))
	listPath := filepath.Join(dir, "urls.txt")
	require.NoError(t, os.WriteFile(listPath, []byte(upstream.URL+"/b\n"+upstream.URL+"/missing\n"), 0o600))

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", cfgPath, "fetch", upstream.URL + "/a", "--file", listPath})
	require.NoError(t, cmd.Execute())

	var summary struct {
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
		Stats     struct {
			Bytes int64 `json:"bytes"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &summary))
	require.Equal(t, 2, summary.Succeeded)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, int64(16), summary.Stats.Bytes)
}

func TestFetchCommandClosesAppWhenBatchAborts(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	t.Cleanup(upstream.Close)

	closed := false
	orig := newApp
	t.Cleanup(func() { newApp = orig })
	newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
		a, err := buildApp(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { closed = true })
		return a, nil
	}

	cfgPath := filepath.Join(t.TempDir(), "docfetch.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("logging:\n  level: error\nbatch:\n  max_concurrency: 1\n  max_failures: 1\n"), 0o600))

	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--config", cfgPath, "fetch", upstream.URL + "/a", upstream.URL + "/b"})
	err := cmd.Execute()
	require.ErrorIs(t, err, fetch.ErrBatchAborted)
	require.True(t, closed)
}

func TestFetchCommandRequiresURLs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"fetch"})
	err := cmd.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "no URLs given")
}
