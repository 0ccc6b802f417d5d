package pkginfo

import (
	"fmt"
	"os"

	"github.com/ralt/repoctl/internal/models"
	"github.com/sassoftware/go-rpmutils"
)

// parseRpm reads the header of an RPM file
func parseRpm(path string) (*models.Package, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rpm, err := rpmutils.ReadRpm(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read RPM: %w", err)
	}

	pkg := &models.Package{
		Name:         getStringTag(rpm, rpmutils.NAME),
		Version:      getStringTag(rpm, rpmutils.VERSION),
		Architecture: getStringTag(rpm, rpmutils.ARCH),
		Metadata:     make(map[string]interface{}),
	}
	pkg.Metadata["Release"] = getStringTag(rpm, rpmutils.RELEASE)

	if pkg.Name == "" || pkg.Version == "" {
		return nil, fmt.Errorf("RPM header of %s is incomplete", path)
	}
	return pkg, nil
}

// getStringTag safely gets a string tag from RPM
func getStringTag(rpm *rpmutils.Rpm, tag int) string {
	val, err := rpm.Header.Get(tag)
	if err != nil {
		return ""
	}

	switch v := val.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	}
	return ""
}
