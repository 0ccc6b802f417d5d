package scanner

import "context"

// PackageType represents the type of package
type PackageType int

const (
	TypeUnknown PackageType = iota
	TypeDeb
	TypeRpm
)

// String returns the string representation of PackageType
func (pt PackageType) String() string {
	switch pt {
	case TypeDeb:
		return "deb"
	case TypeRpm:
		return "rpm"
	default:
		return "unknown"
	}
}

// ScannedPackage represents a package file found during scanning
type ScannedPackage struct {
	Path string
	Type PackageType
	Size int64
}

// Scanner finds package files below a content source
type Scanner interface {
	// Scan returns the package files found at path, which may be a
	// directory or a single file
	Scan(ctx context.Context, path string) ([]ScannedPackage, error)
}
