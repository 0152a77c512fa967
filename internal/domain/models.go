package domain

import (
	"path/filepath"
	"strings"
)

// Snapshot is one dated full-history dump. Stamp is its identity.
type Snapshot struct {
	RemoteName   string `json:"remote_name"`
	Stamp        string `json:"stamp"`
	LocalPath    string `json:"local_path,omitempty"`
	ChecksumPath string `json:"checksum_path,omitempty"`
	AliasPath    string `json:"alias_path,omitempty"`
}

// ChecksumName is the name of the md5 sidecar published next to the dump.
func (s Snapshot) ChecksumName() string {
	return s.RemoteName + ".md5"
}

// AliasName is the history-flavoured name the splitter expects, e.g.
// history-20230101.osm.pbf -> history-20230101.osh.pbf.
func (s Snapshot) AliasName() string {
	return strings.Replace(s.RemoteName, ".osm.", ".osh.", 1)
}

// PartitionConfig is one region definition file found in the work dir.
type PartitionConfig struct {
	Name       string   `json:"name"`
	SourcePath string   `json:"source_path"`
	Subpaths   []string `json:"subpaths"`
}

// Layout fixes where state lives on disk. All paths are absolute once
// resolved by the config loader.
type Layout struct {
	WorkDir     string
	SnapshotDir string
	OutputRoot  string
}

const (
	stampFileName = "latest-stamp"
	pointerName   = "latest"
)

// StampFile holds the stamp of the last completed run.
func (l Layout) StampFile() string {
	return filepath.Join(l.OutputRoot, stampFileName)
}

// Pointer is the "latest" alias inside the output root.
func (l Layout) Pointer() string {
	return filepath.Join(l.OutputRoot, pointerName)
}

// RunDir is the dated output directory for stamp.
func (l Layout) RunDir(stamp string) string {
	return filepath.Join(l.OutputRoot, stamp)
}
