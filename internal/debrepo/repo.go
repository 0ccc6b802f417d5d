// Package debrepo writes static APT repositories: a pool of package files
// plus the dists/ indexes apt reads, optionally signed.
package debrepo

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/ralt/repoctl/internal/models"
	"github.com/ralt/repoctl/internal/utils"
	"github.com/sirupsen/logrus"
)

// Signer signs Release files
type Signer interface {
	SignCleartext(data []byte) ([]byte, error)
	SignDetached(data []byte) ([]byte, error)
}

// Release describes the distribution being written
type Release struct {
	Origin        string
	Label         string
	Distribution  string
	Component     string
	Architectures []string
}

// Write publishes packages as one distribution of the repository at root.
// Other distributions sharing root are left untouched. A nil signer writes
// an unsigned repository.
func Write(ctx context.Context, root string, rel Release, packages []models.Package, s Signer) error {
	if rel.Component == "" {
		rel.Component = "main"
	}
	logrus.Infof("Writing %s/%s to %s", rel.Distribution, rel.Component, root)

	pooled := make([]models.Package, 0, len(packages))
	for _, pkg := range packages {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := addToPool(root, rel.Component, pkg)
		if err != nil {
			return err
		}
		pooled = append(pooled, p)
	}

	distDir := filepath.Join(root, "dists", rel.Distribution)
	var indexes []string
	for _, arch := range rel.Architectures {
		files, err := writeIndex(distDir, rel.Component, arch, pooled)
		if err != nil {
			return fmt.Errorf("failed to write %s index: %w", arch, err)
		}
		indexes = append(indexes, files...)
	}

	if err := writeRelease(distDir, rel, indexes, s); err != nil {
		return fmt.Errorf("failed to write Release: %w", err)
	}

	logrus.Infof("Wrote %d packages for %s", len(pooled), rel.Distribution)
	return nil
}

// Remove deletes the indexes of one distribution. Pool files stay since
// other distributions may reference them.
func Remove(root, distribution string) error {
	return os.RemoveAll(filepath.Join(root, "dists", distribution))
}

// poolDir returns pool/<component>/<prefix>/<name>, with lib packages
// grouped by their first four letters as in the Debian archive
func poolDir(component, name string) string {
	prefix := "0"
	switch {
	case len(name) > 3 && name[:3] == "lib":
		prefix = name[:4]
	case name != "" && name[0] >= 'a' && name[0] <= 'z':
		prefix = name[:1]
	}
	return path.Join("pool", component, prefix, name)
}

// addToPool copies a package file into the pool and returns it with its
// Filename relative to root
func addToPool(root, component string, pkg models.Package) (models.Package, error) {
	if pkg.Name == "" || pkg.Version == "" || pkg.Architecture == "" {
		return pkg, fmt.Errorf("package %s lacks name, version or architecture", pkg.Filename)
	}

	rel := path.Join(poolDir(component, pkg.Name), filepath.Base(pkg.Filename))
	dst := filepath.Join(root, filepath.FromSlash(rel))

	if sum, err := utils.CalculateChecksum(dst); err == nil && sum.SHA256 == pkg.SHA256Sum {
		logrus.Debugf("%s already pooled", rel)
	} else {
		if err := utils.EnsureDir(filepath.Dir(dst)); err != nil {
			return pkg, err
		}
		if err := utils.CopyFile(pkg.Filename, dst); err != nil {
			return pkg, fmt.Errorf("failed to copy %s: %w", pkg.Filename, err)
		}
	}

	pkg.Filename = rel
	return pkg, nil
}

// writeIndex writes Packages and Packages.gz for one architecture and
// returns their paths relative to distDir
func writeIndex(distDir, component, arch string, packages []models.Package) ([]string, error) {
	var selected []models.Package
	for _, p := range packages {
		if p.Architecture == arch || p.IsArchIndependent() {
			selected = append(selected, p)
		}
	}
	sort.SliceStable(selected, func(i, j int) bool {
		if selected[i].Name != selected[j].Name {
			return selected[i].Name < selected[j].Name
		}
		return selected[i].Version < selected[j].Version
	})

	data := GeneratePackagesFile(selected)
	gz, err := utils.GzipCompress(data)
	if err != nil {
		return nil, err
	}

	dir := path.Join(component, "binary-"+arch)
	files := []string{path.Join(dir, "Packages"), path.Join(dir, "Packages.gz")}
	for i, content := range [][]byte{data, gz} {
		if err := utils.WriteFile(filepath.Join(distDir, filepath.FromSlash(files[i])), content, 0644); err != nil {
			return nil, err
		}
	}

	logrus.Debugf("Indexed %d packages for %s", len(selected), arch)
	return files, nil
}
