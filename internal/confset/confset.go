// Package confset discovers the region definition files that drive the
// splitter and prepares the output tree each of them writes into.
package confset

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/history-extracts/internal/domain"
	"github.com/andresuchdata/history-extracts/pkg/logger"
)

// Set finds config files with a fixed extension directly inside a directory.
type Set struct {
	dir string
	ext string
	log zerolog.Logger
}

func New(dir, ext string) *Set {
	if ext == "" {
		ext = ".conf"
	}
	return &Set{dir: dir, ext: ext, log: logger.With("confset")}
}

// Discover returns every config in the directory, sorted by file name.
func (s *Set) Discover() ([]domain.PartitionConfig, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list configs in %s: %w", s.dir, err)
	}

	var configs []domain.PartitionConfig
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != s.ext {
			continue
		}
		cfg, err := Load(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}

	sort.Slice(configs, func(i, j int) bool { return configs[i].Name < configs[j].Name })
	return configs, nil
}

// Load parses a single config file.
func Load(path string) (domain.PartitionConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.PartitionConfig{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	subpaths, err := Parse(f)
	if err != nil {
		return domain.PartitionConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return domain.PartitionConfig{
		Name:       filepath.Base(path),
		SourcePath: path,
		Subpaths:   subpaths,
	}, nil
}

// Parse returns the output subdirectories a config writes into. Only the
// first whitespace-delimited token of each line counts; blank lines and lines
// starting with # are skipped. Subpaths are returned once, in file order.
func Parse(r io.Reader) ([]string, error) {
	seen := make(map[string]bool)
	var subpaths []string

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		out := strings.TrimRight(filepath.FromSlash(fields[0]), string(filepath.Separator))
		if out == "" {
			continue
		}
		dir := filepath.Dir(out)
		if dir == "." || seen[dir] {
			continue
		}
		if filepath.IsAbs(dir) || dir == ".." || strings.HasPrefix(dir, ".."+string(filepath.Separator)) {
			return nil, fmt.Errorf("output path %q leaves the extract directory", fields[0])
		}
		seen[dir] = true
		subpaths = append(subpaths, dir)
	}
	return subpaths, scanner.Err()
}

// Prepare creates every subpath of cfg below runDir and copies the config
// into runDir, so each dated extract keeps the definition it was built from.
func (s *Set) Prepare(cfg domain.PartitionConfig, runDir string) error {
	for _, sub := range cfg.Subpaths {
		dir := filepath.Join(runDir, sub)
		if _, err := os.Stat(dir); err == nil {
			continue
		}
		s.log.Info().Msgf("%s/%s", filepath.Base(runDir), sub)
		if err := os.MkdirAll(dir, 0o775); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := copyFile(cfg.SourcePath, filepath.Join(runDir, cfg.Name)); err != nil {
		return fmt.Errorf("copy %s: %w", cfg.Name, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o664)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
