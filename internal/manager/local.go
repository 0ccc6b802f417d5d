package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ralt/repoctl/internal/debrepo"
	"github.com/ralt/repoctl/internal/models"
	"github.com/ralt/repoctl/internal/pkginfo"
	"github.com/ralt/repoctl/internal/scanner"
	"github.com/ralt/repoctl/internal/signer"
	"github.com/ralt/repoctl/internal/utils"
	"github.com/sirupsen/logrus"
)

// Local is a repository manager without a daemon. Repositories and
// snapshots live for the lifetime of the process; filesystem endpoints are
// written as static APT repositories below a root directory.
type Local struct {
	*Memory
	root  string
	store string
}

// NewLocal publishes filesystem endpoints to root/<endpoint name>/<prefix>
func NewLocal(root string) (*Local, error) {
	store, err := os.MkdirTemp("", "repoctl-local-")
	if err != nil {
		return nil, models.NewError(models.ErrFileOp, root, err)
	}
	return &Local{Memory: NewMemory(), root: root, store: store}, nil
}

// Close drops the package store. Published repositories are kept.
func (l *Local) Close() error {
	return os.RemoveAll(l.store)
}

func (l *Local) endpointDir(e models.Endpoint) string {
	return filepath.Join(l.root, e.Name, filepath.FromSlash(e.Prefix))
}

// AddPackages copies files into the store so they outlive their source
func (l *Local) AddPackages(ctx context.Context, repo string, files []string) error {
	if !l.hasRepo(repo) {
		return fmt.Errorf("repository %s: %w", repo, ErrNotFound)
	}

	dir := filepath.Join(l.store, repo)
	if err := utils.EnsureDir(dir); err != nil {
		return models.NewError(models.ErrFileOp, repo, err)
	}

	stored := make([]string, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		dst := filepath.Join(dir, filepath.Base(f))
		if err := utils.CopyFile(f, dst); err != nil {
			return models.NewError(models.ErrFileOp, repo, err)
		}
		stored = append(stored, dst)
	}
	return l.Memory.AddPackages(ctx, repo, stored)
}

func (l *Local) Publish(ctx context.Context, req PublishRequest) error {
	if req.Endpoint.Type != models.EndpointFilesystem {
		return models.NewError(models.ErrPrecondition, req.Endpoint.String(),
			fmt.Errorf("only filesystem endpoints can be published without a repository manager"))
	}

	var s debrepo.Signer
	if req.Signing != nil {
		g, err := signer.Load(req.Signing)
		if err != nil {
			return err
		}
		s = g
	}

	component, files, err := l.snapshotFiles(req.Snapshot)
	if err != nil {
		return err
	}

	var packages []models.Package
	for _, f := range files {
		t, err := scanner.DetectPackageType(f)
		if err != nil {
			return models.NewError(models.ErrFileOp, f, err)
		}
		if t != scanner.TypeDeb {
			logrus.Warnf("Leaving %s out of APT repository %s", filepath.Base(f), req.Snapshot)
			continue
		}
		pkg, err := pkginfo.Inspect(scanner.ScannedPackage{Path: f, Type: t})
		if err != nil {
			return models.NewError(models.ErrFileOp, f, err)
		}
		packages = append(packages, *pkg)
	}

	if err := l.Memory.Publish(ctx, req); err != nil {
		return err
	}

	rel := debrepo.Release{
		Distribution:  req.Distribution,
		Component:     component,
		Architectures: req.Architectures,
	}
	if err := debrepo.Write(ctx, l.endpointDir(req.Endpoint), rel, packages, s); err != nil {
		if undoErr := l.Memory.Unpublish(ctx, req.Endpoint, req.Distribution); undoErr != nil {
			logrus.Errorf("Failed to forget %s: %v", req.Snapshot, undoErr)
		}
		return models.NewError(models.ErrFileOp, req.Snapshot, err)
	}
	return nil
}

func (l *Local) Unpublish(ctx context.Context, endpoint models.Endpoint, distribution string) error {
	if err := l.Memory.Unpublish(ctx, endpoint, distribution); err != nil {
		return err
	}
	if err := debrepo.Remove(l.endpointDir(endpoint), distribution); err != nil {
		return models.NewError(models.ErrFileOp, endpoint.String(), err)
	}
	return nil
}
