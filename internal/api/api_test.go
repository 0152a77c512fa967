package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/history-extracts/internal/domain"
	"github.com/andresuchdata/history-extracts/internal/pipeline"
	"github.com/andresuchdata/history-extracts/internal/publish"
	"github.com/andresuchdata/history-extracts/internal/service"
)

type fakeRuns struct {
	runs []*pipeline.ExtractionRun
}

func (f *fakeRuns) ListRuns(_ context.Context, limit int) ([]*pipeline.ExtractionRun, error) {
	if limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

func (f *fakeRuns) GetRun(_ context.Context, id string) (*pipeline.ExtractionRun, error) {
	for _, r := range f.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func setup(t *testing.T, runs service.RunStore) (*gin.Engine, domain.Layout) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	layout := domain.Layout{WorkDir: root, OutputRoot: filepath.Join(root, "full-history-extracts")}
	for _, stamp := range []string{"20221201", "20230101"} {
		dir := layout.RunDir(stamp)
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "europe", "germany"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "europe.conf"), []byte("europe/germany/x.osh BBOX 1,2,3,4\n"), 0o644))
	}
	require.NoError(t, publish.NewPublisher(layout, domain.PointerRename).Commit("20230101"))

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "sample_total", Help: "sample counter"}))

	router := NewRouter(&Services{
		Extracts: service.NewExtractsService(layout, ".conf", runs),
		Gatherer: reg,
	}, []string{"https://ops.example.org"})
	return router, layout
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Origin", "https://ops.example.org")
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router, _ := setup(t, nil)
	w := get(t, router, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.Equal(t, "https://ops.example.org", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestExtracts(t *testing.T) {
	router, _ := setup(t, nil)

	t.Run("latest", func(t *testing.T) {
		w := get(t, router, "/api/v1/extracts/latest")
		require.Equal(t, http.StatusOK, w.Code)
		var got service.LatestStatus
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, service.LatestStatus{Stamp: "20230101", Pointer: "20230101", Consistent: true}, got)
	})

	t.Run("list newest first", func(t *testing.T) {
		w := get(t, router, "/api/v1/extracts")
		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Data  []service.Extract `json:"data"`
			Total int               `json:"total"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Equal(t, 2, body.Total)
		assert.Equal(t, "20230101", body.Data[0].Stamp)
		assert.True(t, body.Data[0].Latest)
		assert.False(t, body.Data[1].Latest)
		assert.Equal(t, []string{"europe.conf"}, body.Data[1].Configs)
	})

	t.Run("one", func(t *testing.T) {
		w := get(t, router, "/api/v1/extracts/20221201")
		require.Equal(t, http.StatusOK, w.Code)
		var got service.Extract
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, []string{"europe", "europe/germany"}, got.Regions)
	})

	t.Run("unknown", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, get(t, router, "/api/v1/extracts/19990101").Code)
		assert.Equal(t, http.StatusNotFound, get(t, router, "/api/v1/extracts/..").Code)
	})
}

func TestLatestBeforeFirstRun(t *testing.T) {
	gin.SetMode(gin.TestMode)
	root := t.TempDir()
	layout := domain.Layout{WorkDir: root, OutputRoot: filepath.Join(root, "out")}
	router := NewRouter(&Services{Extracts: service.NewExtractsService(layout, ".conf", nil)}, nil)

	assert.Equal(t, http.StatusNotFound, get(t, router, "/api/v1/extracts/latest").Code)
	w := get(t, router, "/api/v1/extracts")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":[],"total":0}`, w.Body.String())
	assert.Equal(t, http.StatusNotFound, get(t, router, "/metrics").Code)
}

func TestRuns(t *testing.T) {
	t.Run("history disabled", func(t *testing.T) {
		router, _ := setup(t, nil)
		assert.Equal(t, http.StatusServiceUnavailable, get(t, router, "/api/v1/runs").Code)
	})

	t.Run("list and get", func(t *testing.T) {
		run := pipeline.NewExtractionRun(domain.Snapshot{RemoteName: "history-20230101.osm.pbf", Stamp: "20230101"}, "/out/20230101")
		run.Jobs = []*pipeline.ConfigJob{{Config: "europe.conf", Status: pipeline.StatusCompleted}}
		router, _ := setup(t, &fakeRuns{runs: []*pipeline.ExtractionRun{run}})

		w := get(t, router, "/api/v1/runs?limit=5")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), run.ID)

		w = get(t, router, "/api/v1/runs/"+run.ID)
		require.Equal(t, http.StatusOK, w.Code)
		var got pipeline.ExtractionRun
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, "20230101", got.Stamp)
		require.Len(t, got.Jobs, 1)
		assert.Equal(t, pipeline.StatusCompleted, got.Jobs[0].Status)

		assert.Equal(t, http.StatusNotFound, get(t, router, "/api/v1/runs/missing").Code)
	})
}

func TestMetrics(t *testing.T) {
	router, _ := setup(t, nil)
	w := get(t, router, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sample_total 0")
}

func TestNormalizeAllowedOrigins(t *testing.T) {
	origins, all := normalizeAllowedOrigins([]string{" https://a.example, https://b.example ", ""})
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, origins)
	assert.False(t, all)

	_, all = normalizeAllowedOrigins([]string{"*"})
	assert.True(t, all)
}
