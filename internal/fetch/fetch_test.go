package fetch

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/history-extracts/internal/storage"
)

const payload = "0123456789abcdefghijklmnopqrstuvwxyz"

// rangeServer serves payload for /history-1.osm.pbf with HEAD and byte
// range support and counts GET requests.
func rangeServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	modified := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			atomic.AddInt32(hits, 1)
		}
		if r.URL.Path != "/history-1.osm.pbf" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.ServeContent(w, r, "history-1.osm.pbf", modified, strings.NewReader(payload))
	}))
}

func TestHTTPFetcher(t *testing.T) {
	t.Run("fresh download", func(t *testing.T) {
		var hits int32
		srv := rangeServer(t, &hits)
		defer srv.Close()
		dir := t.TempDir()

		require.NoError(t, NewHTTPFetcher(srv.Client(), srv.URL+"/").Fetch(context.Background(), "history-1.osm.pbf", dir))

		data, err := os.ReadFile(filepath.Join(dir, "history-1.osm.pbf"))
		require.NoError(t, err)
		assert.Equal(t, payload, string(data))
		_, err = os.Stat(filepath.Join(dir, "history-1.osm.pbf.part"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("no clobber", func(t *testing.T) {
		var hits int32
		srv := rangeServer(t, &hits)
		defer srv.Close()
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "history-1.osm.pbf"), []byte("local"), 0o644))

		require.NoError(t, NewHTTPFetcher(srv.Client(), srv.URL).Fetch(context.Background(), "history-1.osm.pbf", dir))

		data, err := os.ReadFile(filepath.Join(dir, "history-1.osm.pbf"))
		require.NoError(t, err)
		assert.Equal(t, "local", string(data))
		assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
	})

	t.Run("resume partial", func(t *testing.T) {
		var hits int32
		srv := rangeServer(t, &hits)
		defer srv.Close()
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "history-1.osm.pbf.part"), []byte(payload[:10]), 0o644))

		require.NoError(t, NewHTTPFetcher(srv.Client(), srv.URL).Fetch(context.Background(), "history-1.osm.pbf", dir))

		data, err := os.ReadFile(filepath.Join(dir, "history-1.osm.pbf"))
		require.NoError(t, err)
		assert.Equal(t, payload, string(data))
	})

	t.Run("complete partial", func(t *testing.T) {
		var hits int32
		srv := rangeServer(t, &hits)
		defer srv.Close()
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "history-1.osm.pbf.part"), []byte(payload), 0o644))

		require.NoError(t, NewHTTPFetcher(srv.Client(), srv.URL).Fetch(context.Background(), "history-1.osm.pbf", dir))

		data, err := os.ReadFile(filepath.Join(dir, "history-1.osm.pbf"))
		require.NoError(t, err)
		assert.Equal(t, payload, string(data))
	})

	t.Run("cancelled", func(t *testing.T) {
		var hits int32
		srv := rangeServer(t, &hits)
		defer srv.Close()
		dir := t.TempDir()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := NewHTTPFetcher(srv.Client(), srv.URL).Fetch(ctx, "history-1.osm.pbf", dir)
		assert.ErrorIs(t, err, context.Canceled)
		_, statErr := os.Stat(filepath.Join(dir, "history-1.osm.pbf"))
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("missing remote file", func(t *testing.T) {
		var hits int32
		srv := rangeServer(t, &hits)
		defer srv.Close()
		dir := t.TempDir()

		err := NewHTTPFetcher(srv.Client(), srv.URL).Fetch(context.Background(), "history-2.osm.pbf", dir)
		assert.Error(t, err)
		_, statErr := os.Stat(filepath.Join(dir, "history-2.osm.pbf"))
		assert.True(t, os.IsNotExist(statErr))
	})
}

type recordingStore struct {
	keys []string
}

func (s *recordingStore) ListObjects(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	return nil, nil
}

func (s *recordingStore) DownloadObject(ctx context.Context, key, destPath string) error {
	s.keys = append(s.keys, key)
	return os.WriteFile(destPath, []byte(key), 0o644)
}

func TestObjectFetcher(t *testing.T) {
	dir := t.TempDir()
	store := &recordingStore{}
	f := NewObjectFetcher(store, "planet/full-history")

	require.NoError(t, f.Fetch(context.Background(), "history-1.osm.pbf", dir))
	require.NoError(t, f.Fetch(context.Background(), "history-1.osm.pbf", dir))

	assert.Equal(t, []string{"planet/full-history/history-1.osm.pbf"}, store.keys)
}

func TestWgetFetcher(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	bin := t.TempDir()
	script := filepath.Join(bin, "wget")
	// stands in for wget: records its arguments and writes the basename
	require.NoError(t, os.WriteFile(script, []byte(`#!/bin/sh
echo "$@" >> args.log
name=$(basename "$2")
echo fetched > "$name"
`), 0o755))

	dir := t.TempDir()
	var stderr bytes.Buffer
	f := NewWgetFetcher(script, "http://planet.example.org/experimental/", &stderr)

	require.NoError(t, f.Fetch(context.Background(), "history-1.osm.pbf.md5", dir))

	args, err := os.ReadFile(filepath.Join(dir, "args.log"))
	require.NoError(t, err)
	assert.Equal(t, "-nc http://planet.example.org/experimental/history-1.osm.pbf.md5\n", string(args))
	_, err = os.Stat(filepath.Join(dir, "history-1.osm.pbf.md5"))
	assert.NoError(t, err)

	t.Run("failure", func(t *testing.T) {
		f := NewWgetFetcher(filepath.Join(bin, "missing-wget"), "http://planet.example.org", &stderr)
		assert.Error(t, f.Fetch(context.Background(), "history-1.osm.pbf", dir))
	})
}
