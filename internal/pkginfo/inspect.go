// Package pkginfo reads the identity of package files so a repository only
// receives packages for its architectures and never two files claiming the
// same name, version and architecture.
package pkginfo

import (
	"sort"

	"github.com/ralt/repoctl/internal/models"
	"github.com/ralt/repoctl/internal/scanner"
	"github.com/ralt/repoctl/internal/utils"
	"github.com/sirupsen/logrus"
)

// Inspect returns the metadata of a scanned package file. Files of unknown
// type come back with only file information filled in.
func Inspect(sp scanner.ScannedPackage) (*models.Package, error) {
	var (
		pkg *models.Package
		err error
	)

	switch sp.Type {
	case scanner.TypeDeb:
		pkg, err = parseDeb(sp.Path)
		if err != nil {
			logrus.Debugf("Falling back to file name for %s: %v", sp.Path, err)
			pkg, err = parseDebFilename(sp.Path)
		}
	case scanner.TypeRpm:
		pkg, err = parseRpm(sp.Path)
	default:
		pkg = &models.Package{Metadata: make(map[string]interface{})}
	}
	if err != nil {
		return nil, err
	}

	checksum, err := utils.CalculateChecksum(sp.Path)
	if err != nil {
		return nil, err
	}
	pkg.Filename = sp.Path
	pkg.Size = checksum.Size
	pkg.SHA256Sum = checksum.SHA256
	return pkg, nil
}

// Selection is the outcome of filtering package files for one repository
type Selection struct {
	Keep    []string
	Skipped map[string]string // path -> reason
}

// Select inspects packages and keeps those installable on one of arches.
// rpm packages are inspected for the report but never kept.
// When two files carry the same identity the first one wins; identical
// content is skipped silently, differing content is reported.
func Select(packages []scanner.ScannedPackage, arches []string) (*Selection, error) {
	wanted := make(map[string]bool, len(arches))
	for _, a := range arches {
		wanted[a] = true
	}

	// Deterministic winner for duplicate identities
	sorted := append([]scanner.ScannedPackage(nil), packages...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	sel := &Selection{Skipped: make(map[string]string)}
	seen := make(map[string]models.Package)

	for _, sp := range sorted {
		pkg, err := Inspect(sp)
		if err != nil {
			return nil, err
		}

		if pkg.Name == "" {
			// Unknown type: nothing to filter on
			sel.Keep = append(sel.Keep, sp.Path)
			continue
		}

		// Build directories often hold the rpm flavour next to the deb
		if sp.Type == scanner.TypeRpm {
			sel.Skipped[sp.Path] = "rpm package " + pkg.Identity() + " cannot go into an APT repository"
			continue
		}

		if len(wanted) > 0 && !pkg.IsArchIndependent() && !wanted[pkg.Architecture] {
			sel.Skipped[sp.Path] = "architecture " + pkg.Architecture + " not published"
			continue
		}

		id := pkg.Identity()
		if prev, ok := seen[id]; ok {
			if prev.SHA256Sum == pkg.SHA256Sum {
				sel.Skipped[sp.Path] = "duplicate of " + prev.Filename
			} else {
				logrus.Warnf("%s conflicts with already selected %s (%s)", sp.Path, prev.Filename, id)
				sel.Skipped[sp.Path] = "conflicts with " + prev.Filename
			}
			continue
		}

		seen[id] = *pkg
		sel.Keep = append(sel.Keep, sp.Path)
	}

	return sel, nil
}
