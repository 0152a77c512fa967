package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/history-extracts/internal/domain"
	"github.com/andresuchdata/history-extracts/internal/pipeline"
	"github.com/andresuchdata/history-extracts/internal/publish"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrHistoryDisabled = errors.New("run history is not configured")
)

// RunStore is the read side of run history.
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]*pipeline.ExtractionRun, error)
	GetRun(ctx context.Context, id string) (*pipeline.ExtractionRun, error)
}

// Extract is one dated output directory.
type Extract struct {
	Stamp      string    `json:"stamp"`
	Path       string    `json:"path"`
	ModifiedAt time.Time `json:"modified_at"`
	Latest     bool      `json:"latest"`
	Configs    []string  `json:"configs"`
	Regions    []string  `json:"regions,omitempty"`
}

// LatestStatus is what the stamp file and the pointer currently say.
type LatestStatus struct {
	Stamp      string `json:"stamp"`
	Pointer    string `json:"pointer"`
	Consistent bool   `json:"consistent"`
}

// ExtractsService answers read-only questions about the output root and the
// run history. It never writes.
type ExtractsService struct {
	layout    domain.Layout
	configExt string
	publisher *publish.Publisher
	runs      RunStore
}

// NewExtractsService builds the service. runs may be nil when no database
// is configured.
func NewExtractsService(layout domain.Layout, configExt string, runs RunStore) *ExtractsService {
	return &ExtractsService{
		layout:    layout,
		configExt: configExt,
		publisher: publish.NewPublisher(layout, domain.PointerRename),
		runs:      runs,
	}
}

func (s *ExtractsService) Latest() (LatestStatus, error) {
	stamp, pointer, err := s.publisher.Latest()
	if err != nil {
		return LatestStatus{}, err
	}
	return LatestStatus{Stamp: stamp, Pointer: pointer, Consistent: stamp != "" && stamp == pointer}, nil
}

// ListExtracts returns the dated directories, newest stamp first.
func (s *ExtractsService) ListExtracts() ([]Extract, error) {
	entries, err := os.ReadDir(s.layout.OutputRoot)
	if errors.Is(err, os.ErrNotExist) {
		return []Extract{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.layout.OutputRoot, err)
	}

	latest, err := s.Latest()
	if err != nil {
		log.Warn().Err(err).Msg("extracts: could not read latest state")
	}

	out := make([]Extract, 0, len(entries))
	for _, e := range entries {
		// the pointer is a symlink and is skipped here
		if !e.IsDir() {
			continue
		}
		ex, err := s.describe(e.Name(), false)
		if err != nil {
			log.Warn().Err(err).Str("stamp", e.Name()).Msg("extracts: skipping unreadable directory")
			continue
		}
		ex.Latest = ex.Stamp == latest.Pointer
		out = append(out, ex)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Stamp > out[j].Stamp })
	return out, nil
}

// GetExtract describes one dated directory including its region subpaths.
func (s *ExtractsService) GetExtract(stamp string) (Extract, error) {
	if stamp == "" || stamp == "." || stamp == ".." || strings.ContainsAny(stamp, `/\`) {
		return Extract{}, ErrNotFound
	}
	info, err := os.Stat(s.layout.RunDir(stamp))
	if errors.Is(err, os.ErrNotExist) || (err == nil && !info.IsDir()) {
		return Extract{}, ErrNotFound
	}
	if err != nil {
		return Extract{}, err
	}

	ex, err := s.describe(stamp, true)
	if err != nil {
		return Extract{}, err
	}
	if latest, err := s.Latest(); err == nil {
		ex.Latest = ex.Stamp == latest.Pointer
	}
	return ex, nil
}

func (s *ExtractsService) describe(stamp string, withRegions bool) (Extract, error) {
	dir := s.layout.RunDir(stamp)
	info, err := os.Stat(dir)
	if err != nil {
		return Extract{}, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Extract{}, err
	}

	ex := Extract{Stamp: stamp, Path: dir, ModifiedAt: info.ModTime().UTC(), Configs: []string{}}
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == s.configExt {
			ex.Configs = append(ex.Configs, e.Name())
		}
	}
	if withRegions {
		ex.Regions, err = regions(dir)
		if err != nil {
			return Extract{}, err
		}
	}
	return ex, nil
}

// regions lists every directory below dir, relative to it.
func regions(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || path == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(out)
	return out, err
}

func (s *ExtractsService) ListRuns(ctx context.Context, limit int) ([]*pipeline.ExtractionRun, error) {
	if s.runs == nil {
		return nil, ErrHistoryDisabled
	}
	return s.runs.ListRuns(ctx, limit)
}

func (s *ExtractsService) GetRun(ctx context.Context, id string) (*pipeline.ExtractionRun, error) {
	if s.runs == nil {
		return nil, ErrHistoryDisabled
	}
	run, err := s.runs.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrNotFound
	}
	return run, nil
}
