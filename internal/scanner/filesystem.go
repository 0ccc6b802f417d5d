package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// DefaultGlob matches Debian binary packages
const DefaultGlob = "*.deb"

// FileSystemScanner implements Scanner for local content sources
type FileSystemScanner struct {
	glob string
}

// NewFileSystemScanner creates a scanner collecting files whose base name
// matches glob
func NewFileSystemScanner(glob string) *FileSystemScanner {
	if glob == "" {
		glob = DefaultGlob
	}
	return &FileSystemScanner{glob: glob}
}

// Glob returns the package-file pattern
func (s *FileSystemScanner) Glob() string {
	return s.glob
}

// Match reports whether a file name matches the scanner's pattern
func (s *FileSystemScanner) Match(name string) bool {
	ok, err := filepath.Match(s.glob, filepath.Base(name))
	return err == nil && ok
}

// Scan recursively scans a directory for packages
func (s *FileSystemScanner) Scan(ctx context.Context, root string) ([]ScannedPackage, error) {
	var packages []ScannedPackage

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}

		if !s.Match(path) {
			return nil
		}

		pkgType, err := DetectPackageType(path)
		if err != nil {
			logrus.Warnf("Failed to detect type for %s: %v", path, err)
			return nil
		}

		logrus.Debugf("Found %s package: %s", pkgType, path)

		packages = append(packages, ScannedPackage{
			Path: path,
			Type: pkgType,
			Size: info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	logrus.Infof("Found %d packages in %s", len(packages), root)
	return packages, nil
}
