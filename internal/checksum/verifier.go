// Package checksum checks a downloaded snapshot against its md5 sidecar.
package checksum

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/andresuchdata/history-extracts/internal/domain"
)

// Verifier checks the files listed in the sidecar at sidecarPath. A mismatch
// wraps domain.ErrChecksumMismatch; anything else is a tooling failure.
type Verifier interface {
	Verify(ctx context.Context, sidecarPath string) error
}

// MD5SumVerifier runs `md5sum -c` in the sidecar's directory. Exit status 0
// is a match; any other exit status is a mismatch.
type MD5SumVerifier struct {
	path   string
	stdout io.Writer
}

// NewMD5SumVerifier uses the md5sum binary at path; its report goes to stdout.
func NewMD5SumVerifier(path string, stdout io.Writer) *MD5SumVerifier {
	if path == "" {
		path = "md5sum"
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	return &MD5SumVerifier{path: path, stdout: stdout}
}

func (v *MD5SumVerifier) Verify(ctx context.Context, sidecarPath string) error {
	cmd := exec.CommandContext(ctx, v.path, "-c", filepath.Base(sidecarPath))
	cmd.Dir = filepath.Dir(sidecarPath)
	cmd.Stdout = v.stdout
	cmd.Stderr = v.stdout

	err := cmd.Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return fmt.Errorf("%w: md5sum exited with %d", domain.ErrChecksumMismatch, exitErr.ExitCode())
	}
	return fmt.Errorf("run md5sum: %w", err)
}

var _ Verifier = (*MD5SumVerifier)(nil)
