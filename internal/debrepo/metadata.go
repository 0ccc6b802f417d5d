package debrepo

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ralt/repoctl/internal/models"
)

// Fields written from the pool entry rather than the control file
var poolFields = map[string]bool{
	"Filename": true,
	"Size":     true,
	"SHA256":   true,
	"MD5sum":   true,
	"SHA1":     true,
	"SHA512":   true,
}

// GeneratePackagesFile creates a Packages index in the order given
func GeneratePackagesFile(packages []models.Package) []byte {
	var buf bytes.Buffer

	for _, pkg := range packages {
		fmt.Fprintf(&buf, "Package: %s\n", pkg.Name)
		fmt.Fprintf(&buf, "Version: %s\n", pkg.Version)
		fmt.Fprintf(&buf, "Architecture: %s\n", pkg.Architecture)

		// Control fields in a stable order, Description last as apt expects
		keys := make([]string, 0, len(pkg.Metadata))
		for k := range pkg.Metadata {
			if !poolFields[k] && k != "Description" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&buf, "%s: %v\n", k, pkg.Metadata[k])
		}

		fmt.Fprintf(&buf, "Filename: %s\n", pkg.Filename)
		fmt.Fprintf(&buf, "Size: %d\n", pkg.Size)
		fmt.Fprintf(&buf, "SHA256: %s\n", pkg.SHA256Sum)

		if desc, ok := pkg.Metadata["Description"]; ok {
			fmt.Fprintf(&buf, "Description: %v\n", desc)
		}

		buf.WriteString("\n")
	}

	return buf.Bytes()
}
