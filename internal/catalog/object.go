package catalog

import (
	"context"
	"fmt"
	"path"
	"sort"

	"github.com/andresuchdata/history-extracts/internal/domain"
	"github.com/andresuchdata/history-extracts/internal/storage"
)

// ObjectCatalog finds the newest snapshot in an S3-compatible mirror bucket.
type ObjectCatalog struct {
	store   storage.ObjectStorage
	prefix  string
	matcher *Matcher
}

// NewObjectCatalog lists prefix in store and matches object basenames
// against pattern.
func NewObjectCatalog(store storage.ObjectStorage, prefix, pattern string) (*ObjectCatalog, error) {
	matcher, err := NewMatcher(pattern)
	if err != nil {
		return nil, err
	}
	return &ObjectCatalog{store: store, prefix: prefix, matcher: matcher}, nil
}

// FindLatest returns the most recently modified matching object.
func (c *ObjectCatalog) FindLatest(ctx context.Context) (domain.Snapshot, error) {
	objects, err := c.store.ListObjects(ctx, c.prefix)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("%w: %v", domain.ErrCatalogUnavailable, err)
	}

	sort.SliceStable(objects, func(i, j int) bool {
		return objects[i].LastModified.After(objects[j].LastModified)
	})

	for _, obj := range objects {
		if snap, ok := c.matcher.Match(path.Base(obj.Key)); ok {
			return snap, nil
		}
	}
	return domain.Snapshot{}, fmt.Errorf("%w: no snapshot under prefix %q", domain.ErrCatalogUnavailable, c.prefix)
}

var _ Catalog = (*ObjectCatalog)(nil)
