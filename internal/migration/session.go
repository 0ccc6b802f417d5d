// Package migration converts published repositories from split metadata to
// the combined-metadata layout. The filesystem is the only state: every
// repository's migration state is derived from directory naming.
package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// PendingSuffix marks the converted sibling of a repository awaiting swap
	PendingSuffix = "____unified_metadata_update"
	// BackupInfix precedes the session timestamp in backup directory names
	BackupInfix = "____split_metadata_backup-"
	// RevertedSuffix marks a migrated repository moved aside by a revert
	RevertedSuffix = ".reverted"
	// ManifestFile identifies a repository root
	ManifestFile = "Updates.xml"
	// CombinedArchiveSuffix identifies combined metadata in a repository root
	CombinedArchiveSuffix = "_meta.7z"
	// TimestampFormat is the layout of session timestamps
	TimestampFormat = "2006-01-02T150405"
)

// Session carries the timestamp shared by every backup of one run
type Session struct {
	Timestamp string
}

// NewSession captures now as the session timestamp
func NewSession(now time.Time) *Session {
	return &Session{Timestamp: now.Format(TimestampFormat)}
}

// ParseSession restores the session of an earlier run from its timestamp
func ParseSession(timestamp string) (*Session, error) {
	if _, err := time.Parse(TimestampFormat, timestamp); err != nil {
		return nil, fmt.Errorf("invalid session timestamp %q, want %s: %w", timestamp, TimestampFormat, err)
	}
	return &Session{Timestamp: timestamp}, nil
}

// BackupPath returns where repo is moved to when swapped in this session
func (s *Session) BackupPath(repo string) string {
	return filepath.Clean(repo) + BackupInfix + s.Timestamp
}

// PendingPath returns the converted sibling of repo
func PendingPath(repo string) string {
	return filepath.Clean(repo) + PendingSuffix
}

// cleanPaths cleans every path and drops the duplicates that cleaning
// reveals, so a trailing slash never turns a sibling into a child
func cleanPaths(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func isBackupName(name string) bool {
	return strings.Contains(name, BackupInfix)
}

func isRepository(dir string) bool {
	info, err := os.Stat(dir + string(os.PathSeparator) + ManifestFile)
	return err == nil && info.Mode().IsRegular()
}

// HasCombinedMetadata reports whether dir holds a combined-metadata archive
func HasCombinedMetadata(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), CombinedArchiveSuffix) {
			return true
		}
	}
	return false
}
