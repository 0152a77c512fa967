// Package snapshot manages the raw downloaded dump on local disk: the
// recorded stamp, download, checksum verification and the splitter alias.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/history-extracts/internal/checksum"
	"github.com/andresuchdata/history-extracts/internal/domain"
	"github.com/andresuchdata/history-extracts/internal/fetch"
	"github.com/andresuchdata/history-extracts/pkg/logger"
)

// Store owns SnapshotDir and reads the stamp file under the output root.
type Store struct {
	layout   domain.Layout
	fetcher  fetch.Fetcher
	verifier checksum.Verifier
	log      zerolog.Logger
}

func NewStore(layout domain.Layout, fetcher fetch.Fetcher, verifier checksum.Verifier) *Store {
	return &Store{
		layout:   layout,
		fetcher:  fetcher,
		verifier: verifier,
		log:      logger.With("snapshot"),
	}
}

// LastCompletedStamp returns the stamp of the last completed run, or "" if
// there never was one.
func (s *Store) LastCompletedStamp() (string, error) {
	data, err := os.ReadFile(s.layout.StampFile())
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read stamp: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// NeedsUpdate reports whether remote differs from the recorded stamp and
// returns that stamp, empty before the first run. Stamps are opaque; no
// ordering is assumed.
func (s *Store) NeedsUpdate(remote string) (needs bool, local string, err error) {
	local, err = s.LastCompletedStamp()
	if err != nil {
		return false, "", err
	}
	return remote != local, local, nil
}

// Resolve fills in the local paths for a snapshot found by the catalog.
func (s *Store) Resolve(snap domain.Snapshot) domain.Snapshot {
	snap.LocalPath = filepath.Join(s.layout.SnapshotDir, snap.RemoteName)
	snap.ChecksumPath = filepath.Join(s.layout.SnapshotDir, snap.ChecksumName())
	snap.AliasPath = filepath.Join(s.layout.SnapshotDir, snap.AliasName())
	return snap
}

// Fetch downloads the sidecar and then the dump into SnapshotDir. Files that
// are already present are left alone.
func (s *Store) Fetch(ctx context.Context, snap domain.Snapshot, skipDownload bool) error {
	if err := os.MkdirAll(s.layout.SnapshotDir, 0o775); err != nil {
		return fmt.Errorf("%w: create snapshot dir: %v", domain.ErrDownloadFailed, err)
	}
	if skipDownload {
		s.log.Info().Msg("skipping download of new dump")
		return nil
	}

	s.log.Info().Str("remote", snap.RemoteName).Msg("fetching new dump")
	for _, name := range []string{snap.ChecksumName(), snap.RemoteName} {
		if err := s.fetcher.Fetch(ctx, name, s.layout.SnapshotDir); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrDownloadFailed, err)
		}
	}
	return nil
}

// Verify checks the dump against its sidecar. A missing dump or sidecar is a
// download failure, even when the download step was skipped.
func (s *Store) Verify(ctx context.Context, snap domain.Snapshot, skipChecksum bool) error {
	if err := requireFile(snap.LocalPath); err != nil {
		return err
	}
	if skipChecksum {
		s.log.Info().Msg("skipping md5sum check")
		return nil
	}
	if err := requireFile(snap.ChecksumPath); err != nil {
		return err
	}

	s.log.Info().Str("sidecar", filepath.Base(snap.ChecksumPath)).Msg("checking md5sum")
	if err := s.verifier.Verify(ctx, snap.ChecksumPath); err != nil {
		if errors.Is(err, domain.ErrChecksumMismatch) {
			return err
		}
		return fmt.Errorf("verify %s: %w", snap.RemoteName, err)
	}
	return nil
}

// Alias links the history-flavoured name to the dump and returns its path.
// The link is relative so SnapshotDir can move as a whole.
func (s *Store) Alias(snap domain.Snapshot) (string, error) {
	if err := requireFile(snap.LocalPath); err != nil {
		return "", err
	}

	target := filepath.Base(snap.LocalPath)
	if current, err := os.Readlink(snap.AliasPath); err == nil {
		if current == target || current == snap.LocalPath {
			return snap.AliasPath, nil
		}
		s.log.Warn().Str("alias", snap.AliasPath).Str("target", current).Msg("alias points elsewhere, leaving it")
		return snap.AliasPath, nil
	}
	if _, err := os.Lstat(snap.AliasPath); err == nil {
		// a regular file under the alias name is accepted as is
		return snap.AliasPath, nil
	}

	if err := os.Symlink(target, snap.AliasPath); err != nil && !errors.Is(err, os.ErrExist) {
		return "", fmt.Errorf("alias %s: %w", snap.AliasPath, err)
	}
	return snap.AliasPath, nil
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s not found locally", domain.ErrDownloadFailed, filepath.Base(path))
	}
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDownloadFailed, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", domain.ErrDownloadFailed, path)
	}
	return nil
}
