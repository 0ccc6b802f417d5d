package scanner

import (
	"bytes"
	"os"
	"path/filepath"
)

// Magic bytes for package detection
var (
	// Debian packages start with "!<arch>\ndebian"
	debMagic = []byte("!<arch>\ndebian")

	// RPM packages start with 0xED 0xAB 0xEE 0xDB
	rpmMagic = []byte{0xED, 0xAB, 0xEE, 0xDB}
)

// DetectPackageType determines the package type based on magic bytes and file extension
func DetectPackageType(path string) (PackageType, error) {
	f, err := os.Open(path)
	if err != nil {
		return TypeUnknown, err
	}
	defer f.Close()

	header := make([]byte, 64)
	n, err := f.Read(header)
	if err != nil && n == 0 {
		// Empty files carry no magic; fall back to the extension
		header = nil
	}
	header = header[:n]

	switch ext := filepath.Ext(path); {
	case bytes.HasPrefix(header, debMagic), ext == ".deb", ext == ".udeb":
		return TypeDeb, nil
	case bytes.HasPrefix(header, rpmMagic), ext == ".rpm":
		return TypeRpm, nil
	}
	return TypeUnknown, nil
}
