package repogen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ralt/repoctl/internal/fetcher"
	"github.com/ralt/repoctl/internal/models"
	"github.com/ralt/repoctl/internal/utils"
	"github.com/sirupsen/logrus"
)

// BinaryName is the executable looked up inside a tools archive
const BinaryName = "repogen"

// Install downloads a tools archive from url into dir, unpacks it and
// returns the repogen executable found inside.
func Install(ctx context.Context, f *fetcher.Fetcher, url, dir string) (*Binary, error) {
	if !utils.IsTarArchive(url) {
		return nil, models.NewError(models.ErrPrecondition, url,
			fmt.Errorf("unsupported tools archive, want .tar.gz, .tgz, .tar.xz or .tar.zst"))
	}

	downloads := filepath.Join(dir, "download")
	paths, err := f.Fetch(ctx, []string{url}, downloads, 1, fetcher.DefaultFetchTimeout)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(downloads)

	unpacked := filepath.Join(dir, "tools")
	if err := utils.ExtractTarFile(paths[0], unpacked); err != nil {
		return nil, models.NewError(models.ErrFileOp, url, err)
	}

	bin, err := findBinary(unpacked)
	if err != nil {
		return nil, models.NewError(models.ErrPrecondition, url, err)
	}
	logrus.Infof("Installed repogen from %s at %s", url, bin)
	return NewBinary(bin)
}

// findBinary returns the shallowest regular file named repogen
func findBinary(root string) (string, error) {
	var found string
	depth := -1
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != BinaryName {
			return nil
		}
		level := strings.Count(strings.TrimPrefix(path, root), string(filepath.Separator))
		if depth < 0 || level < depth {
			found, depth = path, level
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("no %s executable in archive", BinaryName)
	}
	return found, nil
}
