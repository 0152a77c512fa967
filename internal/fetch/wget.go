package fetch

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// WgetFetcher shells out to wget with -nc, leaving resume and no-clobber
// handling to wget itself.
type WgetFetcher struct {
	path    string
	baseURL string
	stderr  io.Writer
}

// NewWgetFetcher fetches from baseURL using the wget binary at path.
// Progress output goes to stderr.
func NewWgetFetcher(path, baseURL string, stderr io.Writer) *WgetFetcher {
	if path == "" {
		path = "wget"
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return &WgetFetcher{
		path:    path,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		stderr:  stderr,
	}
}

func (f *WgetFetcher) Fetch(ctx context.Context, name, destDir string) error {
	cmd := exec.CommandContext(ctx, f.path, "-nc", f.baseURL+"/"+name)
	cmd.Dir = destDir
	cmd.Stdout = f.stderr
	cmd.Stderr = f.stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("wget %s: %w", name, err)
	}
	return nil
}

var _ Fetcher = (*WgetFetcher)(nil)
