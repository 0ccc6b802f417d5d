package pkginfo

import (
	"archive/tar"
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ralt/repoctl/internal/models"
	"github.com/ralt/repoctl/internal/utils"
)

// parseDeb reads the control file of a .deb package
func parseDeb(path string) (*models.Package, error) {
	control, err := extractControl(path)
	if err != nil {
		return nil, fmt.Errorf("failed to extract control: %w", err)
	}

	pkg, err := parseControl(control)
	if err != nil {
		return nil, fmt.Errorf("failed to parse control: %w", err)
	}
	if pkg.Name == "" || pkg.Version == "" || pkg.Architecture == "" {
		return nil, fmt.Errorf("control file of %s is incomplete", filepath.Base(path))
	}
	return pkg, nil
}

// extractControl extracts the control file from a .deb package
func extractControl(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// .deb files are ar archives starting with "!<arch>\n"
	magic := make([]byte, 8)
	if _, err := io.ReadFull(f, magic); err != nil {
		return nil, err
	}
	if string(magic) != "!<arch>\n" {
		return nil, fmt.Errorf("not an ar archive")
	}

	for {
		arHeader := make([]byte, 60)
		if _, err := io.ReadFull(f, arHeader); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to read ar header: %w", err)
		}

		// Name is space padded and may carry a trailing slash
		name := strings.TrimRight(strings.TrimSpace(string(arHeader[0:16])), "/")

		var size int64
		if _, err := fmt.Sscanf(strings.TrimSpace(string(arHeader[48:58])), "%d", &size); err != nil {
			return nil, fmt.Errorf("bad ar member size for %s", name)
		}

		if strings.HasPrefix(name, "control.tar") {
			data := make([]byte, size)
			if _, err := io.ReadFull(f, data); err != nil {
				return nil, err
			}
			return extractControlFromTar(data, name)
		}

		// Members are 2-byte aligned
		skip := size + size%2
		if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("control.tar not found in package")
}

// extractControlFromTar extracts the control file from control.tar*
func extractControlFromTar(data []byte, member string) ([]byte, error) {
	r, err := utils.Decompressor(bytes.NewReader(data), member)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		if header.Name == "./control" || header.Name == "control" {
			return io.ReadAll(tr)
		}
	}

	return nil, fmt.Errorf("control file not found in %s", member)
}

// parseControl parses a Debian control file. Fields other than the package
// identity are kept in Metadata with continuation lines folded back in.
func parseControl(data []byte) (*models.Package, error) {
	pkg := &models.Package{
		Metadata: make(map[string]interface{}),
	}

	var last string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}

		if line[0] == ' ' || line[0] == '\t' {
			if prev, ok := pkg.Metadata[last].(string); ok {
				pkg.Metadata[last] = prev + "\n" + line
			}
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		last = ""

		switch key {
		case "Package":
			pkg.Name = value
		case "Version":
			pkg.Version = value
		case "Architecture":
			pkg.Architecture = value
		default:
			pkg.Metadata[key] = value
			last = key
		}
	}

	return pkg, sc.Err()
}

// parseDebFilename recovers name, version and architecture from the
// conventional name_version_arch.deb file name
func parseDebFilename(path string) (*models.Package, error) {
	base := strings.TrimSuffix(strings.TrimSuffix(filepath.Base(path), ".deb"), ".udeb")
	parts := strings.Split(base, "_")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%s does not follow name_version_arch.deb", filepath.Base(path))
	}
	return &models.Package{
		Name:         parts[0],
		Version:      parts[1],
		Architecture: parts[2],
		Metadata:     make(map[string]interface{}),
	}, nil
}
