package confset

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const regionConf = `# europe extracts
europe/germany.osh.pbf    BBOX 5.8,47.2,15.1,55.1

   europe/france.osh.pbf  POLY clipbounds/france.poly
#asia/japan.osh.pbf BBOX 0,0,1,1
planet.osh.pbf BBOX -180,-90,180,90
europe/germany/berlin.osh.pbf BBOX 13.0,52.3,13.8,52.7
   # indented comment
asia/japan.osh.pbf BBOX 122.9,24.0,153.9,45.5
`

func TestParse(t *testing.T) {
	t.Run("directories only", func(t *testing.T) {
		subpaths, err := Parse(strings.NewReader(regionConf))
		require.NoError(t, err)
		assert.Equal(t, []string{"europe", filepath.Join("europe", "germany"), "asia"}, subpaths)
	})

	t.Run("empty", func(t *testing.T) {
		subpaths, err := Parse(strings.NewReader("\n# nothing\n\n"))
		require.NoError(t, err)
		assert.Empty(t, subpaths)
	})

	t.Run("trailing separator names the entry itself", func(t *testing.T) {
		subpaths, err := Parse(strings.NewReader("regionA/ BBOX 0,0,1,1\nasia/japan/ BBOX 0,0,1,1\n/ BBOX 0,0,1,1\n"))
		require.NoError(t, err)
		assert.Equal(t, []string{"asia"}, subpaths)
	})

	t.Run("escaping paths rejected", func(t *testing.T) {
		_, err := Parse(strings.NewReader("../outside/x.osh.pbf BBOX 0,0,1,1\n"))
		assert.Error(t, err)
		_, err = Parse(strings.NewReader("/tmp/x.osh.pbf BBOX 0,0,1,1\n"))
		assert.Error(t, err)
	})
}

func writeConf(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeConf(t, dir, "b.conf", "regionB/out.osh BBOX 0,0,1,1\n")
	writeConf(t, dir, "a.conf", "regionA/out.osh BBOX 0,0,1,1\n")
	writeConf(t, dir, "notes.txt", "regionC/out.osh\n")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir.conf"), 0o755))

	configs, err := New(dir, ".conf").Discover()
	require.NoError(t, err)
	require.Len(t, configs, 2)

	assert.Equal(t, "a.conf", configs[0].Name)
	assert.Equal(t, filepath.Join(dir, "a.conf"), configs[0].SourcePath)
	assert.Equal(t, []string{"regionA"}, configs[0].Subpaths)
	assert.Equal(t, "b.conf", configs[1].Name)
	assert.Equal(t, []string{"regionB"}, configs[1].Subpaths)
}

func TestPrepare(t *testing.T) {
	work := t.TempDir()
	writeConf(t, work, "europe.conf", regionConf)
	runDir := filepath.Join(t.TempDir(), "20230101")
	require.NoError(t, os.MkdirAll(runDir, 0o755))

	set := New(work, ".conf")
	configs, err := set.Discover()
	require.NoError(t, err)
	require.Len(t, configs, 1)

	require.NoError(t, set.Prepare(configs[0], runDir))
	// idempotent
	require.NoError(t, set.Prepare(configs[0], runDir))

	var dirs []string
	require.NoError(t, filepath.WalkDir(runDir, func(path string, d os.DirEntry, err error) error {
		require.NoError(t, err)
		if d.IsDir() && path != runDir {
			rel, _ := filepath.Rel(runDir, path)
			dirs = append(dirs, rel)
		}
		return nil
	}))
	sort.Strings(dirs)
	assert.Equal(t, []string{"asia", "europe", filepath.Join("europe", "germany")}, dirs)

	copied, err := os.ReadFile(filepath.Join(runDir, "europe.conf"))
	require.NoError(t, err)
	assert.Equal(t, regionConf, string(copied))
}
