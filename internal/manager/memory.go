package manager

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ralt/repoctl/internal/models"
	"github.com/sirupsen/logrus"
)

type memoryRepo struct {
	distribution string
	component    string
	// file name -> path it was added from
	packages map[string]string
}

type memorySnapshot struct {
	component string
	packages  map[string]string
}

// Memory is an in-process repository manager. It backs --dry-run and tests.
type Memory struct {
	mu        sync.Mutex
	repos     map[string]*memoryRepo
	snapshots map[string]*memorySnapshot
	published map[string]Published
}

// NewMemory returns an empty manager
func NewMemory() *Memory {
	return &Memory{
		repos:     make(map[string]*memoryRepo),
		snapshots: make(map[string]*memorySnapshot),
		published: make(map[string]Published),
	}
}

func publishKey(e models.Endpoint, distribution string) string {
	return e.String() + "/" + distribution
}

func (m *Memory) CreateRepo(ctx context.Context, name, distribution, component string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.repos[name]; ok {
		return fmt.Errorf("repository %s: %w", name, ErrExists)
	}
	m.repos[name] = &memoryRepo{distribution: distribution, component: component, packages: make(map[string]string)}
	logrus.Debugf("memory: created repository %s", name)
	return nil
}

func (m *Memory) DeleteRepo(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.repos[name]; !ok {
		return fmt.Errorf("repository %s: %w", name, ErrNotFound)
	}
	delete(m.repos, name)
	return nil
}

func (m *Memory) AddPackages(ctx context.Context, repo string, files []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[repo]
	if !ok {
		return fmt.Errorf("repository %s: %w", repo, ErrNotFound)
	}
	for _, f := range files {
		r.packages[filepath.Base(f)] = f
	}
	return nil
}

func (m *Memory) hasRepo(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.repos[name]
	return ok
}

// Packages returns the package file names of a repository
func (m *Memory) Packages(repo string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[repo]
	if !ok {
		return nil
	}
	return sortedKeys(r.packages)
}

func (m *Memory) CreateSnapshot(ctx context.Context, snapshot, repo string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[repo]
	if !ok {
		return fmt.Errorf("repository %s: %w", repo, ErrNotFound)
	}
	if _, ok := m.snapshots[snapshot]; ok {
		return fmt.Errorf("snapshot %s: %w", snapshot, ErrExists)
	}
	frozen := make(map[string]string, len(r.packages))
	for name, path := range r.packages {
		frozen[name] = path
	}
	m.snapshots[snapshot] = &memorySnapshot{component: r.component, packages: frozen}
	return nil
}

// SnapshotPackages returns the package file names frozen in a snapshot
func (m *Memory) SnapshotPackages(snapshot string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[snapshot]
	if !ok {
		return nil
	}
	return sortedKeys(snap.packages)
}

// snapshotFiles returns the component and source paths frozen in a snapshot
func (m *Memory) snapshotFiles(snapshot string) (string, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[snapshot]
	if !ok {
		return "", nil, fmt.Errorf("snapshot %s: %w", snapshot, ErrNotFound)
	}
	paths := make([]string, 0, len(snap.packages))
	for _, name := range sortedKeys(snap.packages) {
		paths = append(paths, snap.packages[name])
	}
	return snap.component, paths, nil
}

func (m *Memory) DeleteSnapshot(ctx context.Context, snapshot string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[snapshot]; !ok {
		return fmt.Errorf("snapshot %s: %w", snapshot, ErrNotFound)
	}
	for _, p := range m.published {
		if p.Snapshot == snapshot {
			return fmt.Errorf("snapshot %s is published at %s", snapshot, p.Endpoint)
		}
	}
	delete(m.snapshots, snapshot)
	return nil
}

func (m *Memory) Publish(ctx context.Context, req PublishRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[req.Snapshot]; !ok {
		return fmt.Errorf("snapshot %s: %w", req.Snapshot, ErrNotFound)
	}
	key := publishKey(req.Endpoint, req.Distribution)
	if _, ok := m.published[key]; ok {
		return fmt.Errorf("published %s: %w", key, ErrExists)
	}
	m.published[key] = Published{
		Endpoint:      req.Endpoint,
		Distribution:  req.Distribution,
		Snapshot:      req.Snapshot,
		Architectures: append([]string(nil), req.Architectures...),
		Signing:       req.Signing,
		SigningKnown:  true,
	}
	return nil
}

func (m *Memory) Unpublish(ctx context.Context, endpoint models.Endpoint, distribution string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := publishKey(endpoint, distribution)
	if _, ok := m.published[key]; !ok {
		return fmt.Errorf("published %s: %w", key, ErrNotFound)
	}
	delete(m.published, key)
	return nil
}

func (m *Memory) ListRepos(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.repos))
	for name := range m.repos {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) ListSnapshots(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.snapshots))
	for name := range m.snapshots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) ListPublished(ctx context.Context) ([]Published, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.published))
	for k := range m.published {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Published, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.published[k])
	}
	return out, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
