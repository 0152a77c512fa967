// Package publish records a completed run: the stamp file and the "latest"
// pointer under the output root.
package publish

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/history-extracts/internal/domain"
	"github.com/andresuchdata/history-extracts/pkg/logger"
)

// Publisher is the only writer of the stamp file and the pointer.
type Publisher struct {
	layout domain.Layout
	mode   domain.PointerMode
	log    zerolog.Logger
}

func NewPublisher(layout domain.Layout, mode domain.PointerMode) *Publisher {
	return &Publisher{layout: layout, mode: mode, log: logger.With("publish")}
}

// Commit makes stamp the latest completed run. The stamp file is written
// first, then the pointer is moved to the stamp's directory.
func (p *Publisher) Commit(stamp string) error {
	if stamp == "" || strings.ContainsRune(stamp, filepath.Separator) {
		return fmt.Errorf("%w: invalid stamp %q", domain.ErrPublishFailed, stamp)
	}
	if info, err := os.Stat(p.layout.RunDir(stamp)); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: run directory for %s missing", domain.ErrPublishFailed, stamp)
	}

	p.log.Info().Str("stamp", stamp).Msg("updating latest-stamp file and symlink")

	if err := writeFileAtomic(p.layout.StampFile(), []byte(stamp), 0o664); err != nil {
		return fmt.Errorf("%w: write stamp: %v", domain.ErrPublishFailed, err)
	}

	var err error
	switch p.mode {
	case domain.PointerReplace:
		err = p.replacePointer(stamp)
	default:
		err = p.renamePointer(stamp)
	}
	if err != nil {
		return fmt.Errorf("%w: move pointer: %v", domain.ErrPublishFailed, err)
	}
	return nil
}

// replacePointer unlinks and relinks. A crash in between leaves no pointer;
// running Commit again repairs it.
func (p *Publisher) replacePointer(stamp string) error {
	ptr := p.layout.Pointer()
	if err := os.Remove(ptr); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return os.Symlink(stamp, ptr)
}

// renamePointer links under a temporary name and renames it into place, so
// readers see either the old or the new target.
func (p *Publisher) renamePointer(stamp string) error {
	ptr := p.layout.Pointer()
	tmp := ptr + ".tmp"
	if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.Symlink(stamp, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, ptr); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return fsyncDir(p.layout.OutputRoot)
}

// Latest reports the recorded stamp and the stamp the pointer resolves to.
// Either is "" when absent.
func (p *Publisher) Latest() (stamp, pointer string, err error) {
	data, err := os.ReadFile(p.layout.StampFile())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", "", err
	}
	stamp = strings.TrimSpace(string(data))

	target, err := os.Readlink(p.layout.Pointer())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", "", err
	}
	if target != "" {
		pointer = filepath.Base(target)
	}
	return stamp, pointer, nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
