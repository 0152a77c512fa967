package checksum

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresuchdata/history-extracts/internal/domain"
)

// Entry is one line of an md5sum-format sidecar.
type Entry struct {
	Sum  string
	Name string
}

// ParseSidecar reads md5sum-format lines ("<hex>  <name>" or "<hex> *<name>").
func ParseSidecar(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("malformed checksum line %q", line)
		}
		sum := strings.ToLower(fields[0])
		if _, err := hex.DecodeString(sum); err != nil || len(sum) != md5.Size*2 {
			return nil, fmt.Errorf("malformed md5 %q", fields[0])
		}
		name := strings.TrimPrefix(strings.Join(fields[1:], " "), "*")
		entries = append(entries, Entry{Sum: sum, Name: name})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("checksum file is empty")
	}
	return entries, nil
}

// NativeVerifier hashes the files in-process instead of shelling out.
type NativeVerifier struct{}

func NewNativeVerifier() *NativeVerifier {
	return &NativeVerifier{}
}

func (v *NativeVerifier) Verify(ctx context.Context, sidecarPath string) error {
	f, err := os.Open(sidecarPath)
	if err != nil {
		return err
	}
	entries, err := ParseSidecar(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrChecksumMismatch, filepath.Base(sidecarPath), err)
	}

	dir := filepath.Dir(sidecarPath)
	for _, e := range entries {
		got, err := sumFile(ctx, filepath.Join(dir, e.Name))
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s: listed in sidecar but not found", domain.ErrChecksumMismatch, e.Name)
		}
		if err != nil {
			return err
		}
		if got != e.Sum {
			return fmt.Errorf("%w: %s: want %s, got %s", domain.ErrChecksumMismatch, e.Name, e.Sum, got)
		}
	}
	return nil
}

func sumFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, &ctxReader{ctx: ctx, r: f}); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ctxReader stops a long hash when the run is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var _ Verifier = (*NativeVerifier)(nil)
