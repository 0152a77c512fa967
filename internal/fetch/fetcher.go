// Package fetch retrieves snapshot files from the remote archive into a local
// directory. Every implementation is no-clobber: a file already present under
// its final name is never fetched again.
package fetch

import (
	"context"
	"errors"
	"os"
)

// Fetcher retrieves the file called name into destDir.
type Fetcher interface {
	Fetch(ctx context.Context, name, destDir string) error
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}
