package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ralt/repoctl/internal/fetcher"
	"github.com/ralt/repoctl/internal/manager"
	"github.com/ralt/repoctl/internal/models"
	"github.com/ralt/repoctl/internal/pkginfo"
	"github.com/ralt/repoctl/internal/scanner"
	"github.com/sirupsen/logrus"
)

// PopulateRepository collects package files from local paths and URLs and
// adds them to a repository. Undo does nothing: content is only ever added,
// and the repository itself goes away when its creation is undone.
type PopulateRepository struct {
	Manager        manager.Manager
	Fetcher        *fetcher.Fetcher
	Repository     string
	ContentSources []string
	PackageGlob    string
	Architectures  []string
	Workers        int
	Timeout        time.Duration
}

func (c *PopulateRepository) Name() string {
	return fmt.Sprintf("populate repository %s", c.Repository)
}

func (c *PopulateRepository) Execute(ctx context.Context) error {
	scratch, err := os.MkdirTemp("", "repoctl-"+c.Repository+"-")
	if err != nil {
		return models.NewError(models.ErrFileOp, c.Repository, err)
	}
	defer os.RemoveAll(scratch)

	sc := scanner.NewFileSystemScanner(c.PackageGlob)

	var (
		local  []scanner.ScannedPackage
		remote []string
	)
	crawler := fetcher.NewCrawler(c.Fetcher, c.Workers)
	for _, src := range c.ContentSources {
		if fetcher.IsURL(src) {
			urls, err := crawler.Crawl(ctx, src, sc.Glob())
			if err != nil {
				return models.NewError(models.ErrFetch, src, err)
			}
			remote = append(remote, urls...)
			continue
		}

		found, err := sc.Scan(ctx, src)
		if err != nil {
			return models.NewError(models.ErrFileOp, src, err)
		}
		local = append(local, found...)
	}

	if len(remote) > 0 {
		paths, err := c.Fetcher.Fetch(ctx, remote, scratch, c.Workers, c.Timeout)
		if err != nil {
			return err
		}
		downloaded, err := sc.Scan(ctx, scratch)
		if err != nil {
			return models.NewError(models.ErrFileOp, scratch, err)
		}
		if len(downloaded) != len(paths) {
			logrus.Warnf("%d files downloaded but %d match %s", len(paths), len(downloaded), sc.Glob())
		}
		local = append(local, downloaded...)
	}

	if len(local) == 0 {
		return models.NewError(models.ErrPrecondition, c.Repository,
			fmt.Errorf("no package files matching %s in %v", sc.Glob(), c.ContentSources))
	}

	sel, err := pkginfo.Select(local, c.Architectures)
	if err != nil {
		return models.NewError(models.ErrFileOp, c.Repository, err)
	}
	for path, reason := range sel.Skipped {
		logrus.Infof("Skipping %s: %s", path, reason)
	}

	if err := c.Manager.AddPackages(ctx, c.Repository, sel.Keep); err != nil {
		return err
	}
	logrus.Infof("Populated %s with %d packages", c.Repository, len(sel.Keep))
	return nil
}

func (c *PopulateRepository) Undo(ctx context.Context) error {
	logrus.Debugf("Nothing to undo for %s", c.Name())
	return nil
}
