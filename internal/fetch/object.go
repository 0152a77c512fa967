package fetch

import (
	"context"
	"path"
	"path/filepath"

	"github.com/andresuchdata/history-extracts/internal/storage"
)

// ObjectFetcher pulls snapshot files from an S3-compatible mirror.
type ObjectFetcher struct {
	store  storage.ObjectStorage
	prefix string
}

func NewObjectFetcher(store storage.ObjectStorage, prefix string) *ObjectFetcher {
	return &ObjectFetcher{store: store, prefix: prefix}
}

func (f *ObjectFetcher) Fetch(ctx context.Context, name, destDir string) error {
	dest := filepath.Join(destDir, name)
	done, err := exists(dest)
	if err != nil || done {
		return err
	}
	return f.store.DownloadObject(ctx, path.Join(f.prefix, name), dest)
}

var _ Fetcher = (*ObjectFetcher)(nil)
