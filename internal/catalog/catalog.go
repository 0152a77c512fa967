// Package catalog finds the newest snapshot published by the remote archive.
package catalog

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/andresuchdata/history-extracts/internal/domain"
)

// Catalog resolves the newest snapshot on the remote side. The returned
// snapshot only carries RemoteName and Stamp.
type Catalog interface {
	FindLatest(ctx context.Context) (domain.Snapshot, error)
}

// Matcher pulls the snapshot name and stamp out of listing text. The pattern
// must have exactly one capture group holding the stamp.
type Matcher struct {
	re *regexp.Regexp
}

// NewMatcher compiles pattern.
func NewMatcher(pattern string) (*Matcher, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog pattern: %w", err)
	}
	if re.NumSubexp() != 1 {
		return nil, fmt.Errorf("catalog pattern %q must have exactly one capture group", pattern)
	}
	return &Matcher{re: re}, nil
}

// First returns the first match in text. The caller hands over the listing
// already sorted newest first. A missing match or a stamp that cannot name a
// directory wraps domain.ErrCatalogUnavailable.
func (m *Matcher) First(text string) (domain.Snapshot, error) {
	match := m.re.FindStringSubmatch(text)
	if match == nil || match[1] == "" {
		return domain.Snapshot{}, fmt.Errorf("%w: no snapshot name found", domain.ErrCatalogUnavailable)
	}
	if err := checkStamp(match[1]); err != nil {
		return domain.Snapshot{}, fmt.Errorf("%w: %s: %v", domain.ErrCatalogUnavailable, match[0], err)
	}
	return domain.Snapshot{RemoteName: match[0], Stamp: match[1]}, nil
}

// checkStamp rejects stamps that are unsafe as a single path element, since
// the stamp becomes the dated output directory.
func checkStamp(stamp string) error {
	if stamp == "." || stamp == ".." {
		return fmt.Errorf("stamp %q is not a directory name", stamp)
	}
	if i := strings.IndexFunc(stamp, func(r rune) bool {
		return r == '/' || r == '\\' || r == '"' || r == '\'' || r == '<' || r == '>' ||
			unicode.IsSpace(r) || unicode.IsControl(r)
	}); i >= 0 {
		return fmt.Errorf("stamp %q contains %q", stamp, stamp[i:i+1])
	}
	return nil
}

// Match reports whether name as a whole is a snapshot name.
func (m *Matcher) Match(name string) (domain.Snapshot, bool) {
	snap, err := m.First(name)
	if err != nil || snap.RemoteName != name {
		return domain.Snapshot{}, false
	}
	return snap, true
}
