package models

import "fmt"

// Package represents a package file collected for a repository
type Package struct {
	Name         string
	Version      string
	Architecture string

	// File information
	Filename  string
	Size      int64
	SHA256Sum string

	// Type-specific metadata
	Metadata map[string]interface{}
}

// Identity returns the name:version:arch triple that the repository manager
// treats as unique.
func (p Package) Identity() string {
	if release, ok := p.Metadata["Release"].(string); ok && release != "" {
		return fmt.Sprintf("%s:%s-%s:%s", p.Name, p.Version, release, p.Architecture)
	}
	return fmt.Sprintf("%s:%s:%s", p.Name, p.Version, p.Architecture)
}

// IsArchIndependent reports whether the package installs on any architecture.
func (p Package) IsArchIndependent() bool {
	switch p.Architecture {
	case "all", "any", "noarch":
		return true
	}
	return false
}
