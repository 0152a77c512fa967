package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/history-extracts/internal/domain"
	"github.com/andresuchdata/history-extracts/internal/storage"
)

const listing = `<html><body><table>
<tr><td><a href="history-20230101.osm.pbf.md5">history-20230101.osm.pbf.md5</a></td></tr>
<tr><td><a href="history-20230101.osm.pbf">history-20230101.osm.pbf</a></td></tr>
<tr><td><a href="history-20221201.osm.pbf">history-20221201.osm.pbf</a></td></tr>
</table></body></html>`

func newTestCatalog(t *testing.T, url string, retries int) *HTTPCatalog {
	t.Helper()
	c, err := NewHTTPCatalog(HTTPConfig{
		BaseURL:    url,
		Pattern:    `history-([^.]+)\.osm\.pbf`,
		RPS:        1000,
		MaxRetries: retries,
	})
	require.NoError(t, err)
	c.backoff = func(int) time.Duration { return time.Millisecond }
	return c
}

func TestMatcher(t *testing.T) {
	m, err := NewMatcher(`history-([^.]+)\.osm\.pbf`)
	require.NoError(t, err)

	t.Run("first match wins", func(t *testing.T) {
		snap, err := m.First(listing)
		require.NoError(t, err)
		assert.Equal(t, "history-20230101.osm.pbf", snap.RemoteName)
		assert.Equal(t, "20230101", snap.Stamp)
	})

	t.Run("no match", func(t *testing.T) {
		_, err := m.First("<html>empty</html>")
		assert.True(t, errors.Is(err, domain.ErrCatalogUnavailable))
	})

	t.Run("stamp must be one path element", func(t *testing.T) {
		for _, text := range []string{
			`<a href="history-2023/01/01.osm.pbf">`,
			`<a href="history-2023 01.osm.pbf">`,
			`<a href="history-"2023".osm.pbf">`,
		} {
			_, err := m.First(text)
			assert.True(t, errors.Is(err, domain.ErrCatalogUnavailable), text)
		}
		_, ok := m.Match("history-a/b.osm.pbf")
		assert.False(t, ok)
	})

	t.Run("whole name only", func(t *testing.T) {
		_, ok := m.Match("history-20230101.osm.pbf.md5")
		assert.False(t, ok)
		snap, ok := m.Match("history-20230101.osm.pbf")
		assert.True(t, ok)
		assert.Equal(t, "20230101", snap.Stamp)
	})

	t.Run("pattern needs one group", func(t *testing.T) {
		_, err := NewMatcher(`history-[^.]+\.osm\.pbf`)
		assert.Error(t, err)
		_, err = NewMatcher(`(`)
		assert.Error(t, err)
	})
}

func TestHTTPCatalogFindLatest(t *testing.T) {
	t.Run("sorted listing", func(t *testing.T) {
		var query string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			query = r.URL.RawQuery
			_, _ = w.Write([]byte(listing))
		}))
		defer srv.Close()

		snap, err := newTestCatalog(t, srv.URL, 0).FindLatest(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "C=M;O=D", query)
		assert.Equal(t, domain.Snapshot{RemoteName: "history-20230101.osm.pbf", Stamp: "20230101"}, snap)
	})

	t.Run("malformed listing is not retried", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			_, _ = w.Write([]byte("<html>nothing here</html>"))
		}))
		defer srv.Close()

		_, err := newTestCatalog(t, srv.URL, 3).FindLatest(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrCatalogUnavailable))
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("server errors are retried", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(listing))
		}))
		defer srv.Close()

		snap, err := newTestCatalog(t, srv.URL, 3).FindLatest(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "20230101", snap.Stamp)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("retries exhausted", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := newTestCatalog(t, srv.URL, 2).FindLatest(context.Background())
		assert.True(t, errors.Is(err, domain.ErrCatalogUnavailable))
	})

	t.Run("not found is final", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		_, err := newTestCatalog(t, srv.URL, 3).FindLatest(context.Background())
		assert.True(t, errors.Is(err, domain.ErrCatalogUnavailable))
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})
}

type fakeObjects struct {
	objects []storage.ObjectInfo
	err     error
}

func (f *fakeObjects) ListObjects(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	return f.objects, f.err
}

func (f *fakeObjects) DownloadObject(ctx context.Context, key, destPath string) error {
	return nil
}

func TestObjectCatalogFindLatest(t *testing.T) {
	now := time.Now()

	t.Run("newest matching object", func(t *testing.T) {
		store := &fakeObjects{objects: []storage.ObjectInfo{
			{Key: "planet/history-20221201.osm.pbf", LastModified: now.Add(-48 * time.Hour)},
			{Key: "planet/history-20230101.osm.pbf.md5", LastModified: now},
			{Key: "planet/history-20230101.osm.pbf", LastModified: now.Add(-time.Hour)},
			{Key: "planet/README", LastModified: now.Add(time.Hour)},
		}}
		c, err := NewObjectCatalog(store, "planet/", `history-([^.]+)\.osm\.pbf`)
		require.NoError(t, err)

		snap, err := c.FindLatest(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "history-20230101.osm.pbf", snap.RemoteName)
		assert.Equal(t, "20230101", snap.Stamp)
	})

	t.Run("empty bucket", func(t *testing.T) {
		c, err := NewObjectCatalog(&fakeObjects{}, "planet/", `history-([^.]+)\.osm\.pbf`)
		require.NoError(t, err)

		_, err = c.FindLatest(context.Background())
		assert.True(t, errors.Is(err, domain.ErrCatalogUnavailable))
	})

	t.Run("list failure", func(t *testing.T) {
		c, err := NewObjectCatalog(&fakeObjects{err: errors.New("denied")}, "", `history-([^.]+)\.osm\.pbf`)
		require.NoError(t, err)

		_, err = c.FindLatest(context.Background())
		assert.True(t, errors.Is(err, domain.ErrCatalogUnavailable))
	})
}
