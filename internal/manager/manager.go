// Package manager talks to the repository manager that owns repositories,
// snapshots and published endpoints.
package manager

import (
	"context"
	"errors"

	"github.com/ralt/repoctl/internal/models"
	"github.com/ralt/repoctl/internal/signer"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
)

// PublishRequest maps a snapshot to an endpoint and distribution
type PublishRequest struct {
	Snapshot      string
	Endpoint      models.Endpoint
	Distribution  string
	Architectures []string
	// Signing is nil for unsigned publishing
	Signing *signer.Credentials
}

// Published is one live endpoint mapping
type Published struct {
	Endpoint      models.Endpoint
	Distribution  string
	Snapshot      string
	Architectures []string
	// Signing is the key the mapping was published with, nil if unsigned.
	// It is only meaningful when SigningKnown is set; aptly does not report
	// the key of a published repository.
	Signing      *signer.Credentials
	SigningKnown bool
}

// Manager is the repository manager API
type Manager interface {
	CreateRepo(ctx context.Context, name, distribution, component string) error
	DeleteRepo(ctx context.Context, name string) error
	// AddPackages imports local package files into a repository
	AddPackages(ctx context.Context, repo string, files []string) error

	CreateSnapshot(ctx context.Context, snapshot, repo string) error
	DeleteSnapshot(ctx context.Context, snapshot string) error

	Publish(ctx context.Context, req PublishRequest) error
	Unpublish(ctx context.Context, endpoint models.Endpoint, distribution string) error

	ListRepos(ctx context.Context) ([]string, error)
	ListSnapshots(ctx context.Context) ([]string, error)
	ListPublished(ctx context.Context) ([]Published, error)
}

// FindPublished returns the live mapping for endpoint and distribution
func FindPublished(ctx context.Context, m Manager, endpoint models.Endpoint, distribution string) (*Published, error) {
	all, err := m.ListPublished(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].Endpoint == endpoint && all[i].Distribution == distribution {
			return &all[i], nil
		}
	}
	return nil, nil
}
