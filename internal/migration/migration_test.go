package migration

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ralt/repoctl/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)

// fakeTool writes fresh metadata, a combined archive and a stale payload
// directory, like a generator working from an outdated index
type fakeTool struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (f *fakeTool) Generate(ctx context.Context, repo, output string) error {
	f.mu.Lock()
	f.calls = append(f.calls, repo)
	f.mu.Unlock()
	if f.fail[repo] {
		return models.NewError(models.ErrExternalTool, repo, errors.New("generator crashed"))
	}
	if err := os.MkdirAll(filepath.Join(output, "stale"), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(output, "stale", "old.7z"), []byte("old"), 0644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(output, ManifestFile), []byte("<Updates combined/>"), 0644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(output, "1234_meta.7z"), []byte("meta"), 0644)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// makeRepo creates a split-metadata repository with two payload trees
func makeRepo(t *testing.T, path string) {
	t.Helper()
	writeFile(t, filepath.Join(path, ManifestFile), "<Updates/>")
	writeFile(t, filepath.Join(path, "qt.qt5.5152", "1.0meta.7z"), "component meta "+path)
	writeFile(t, filepath.Join(path, "qt.qt5.5152", "payload.7z"), "payload "+path)
	writeFile(t, filepath.Join(path, "tools", "deep", "bin.7z"), "tool "+path)
}

// tree returns every file below root with its content
func tree(t *testing.T, root string) map[string]string {
	t.Helper()
	files := make(map[string]string)
	require.NoError(t, filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		if d.IsDir() {
			files[rel+"/"] = ""
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[rel] = string(data)
		return nil
	}))
	return files
}

// payload returns the files below the subdirectories of a repository
func payload(t *testing.T, repo string) map[string]string {
	t.Helper()
	files := make(map[string]string)
	for rel, content := range tree(t, repo) {
		nested := strings.Contains(strings.TrimSuffix(rel, "/"), "/")
		topDir := strings.HasSuffix(rel, "/") && rel != "./"
		if nested || topDir {
			files[rel] = content
		}
	}
	return files
}

func TestScanPendingSibling(t *testing.T) {
	root := t.TempDir()
	repoA := filepath.Join(root, "repoA")
	writeFile(t, filepath.Join(repoA, ManifestFile), "<Updates/>")
	writeFile(t, filepath.Join(repoA+PendingSuffix, ManifestFile), "<Updates/>")
	writeFile(t, filepath.Join(repoA+PendingSuffix, "123_meta.7z"), "meta")

	report, err := Scan(root)
	require.NoError(t, err)
	assert.Equal(t, []string{repoA + PendingSuffix}, report.Pending)
	assert.Empty(t, report.Unconverted)
	assert.Empty(t, report.Done)
	assert.Empty(t, report.Broken)
}

func TestScanPendingWithoutArchiveIsBroken(t *testing.T) {
	root := t.TempDir()
	repoA := filepath.Join(root, "repoA")
	writeFile(t, filepath.Join(repoA, ManifestFile), "<Updates/>")
	writeFile(t, filepath.Join(repoA+PendingSuffix, ManifestFile), "<Updates/>")

	report, err := Scan(root)
	require.NoError(t, err)
	assert.Equal(t, []string{repoA + PendingSuffix}, report.Broken)
	assert.Empty(t, report.Pending)
	assert.Empty(t, report.Unconverted)
}

func TestScanClassifiesTree(t *testing.T) {
	root := t.TempDir()
	online := filepath.Join(root, "online", "linux")
	makeRepo(t, filepath.Join(online, "x64"))
	makeRepo(t, filepath.Join(online, "arm64"))
	writeFile(t, filepath.Join(online, "arm64", "99_meta.7z"), "meta")
	makeRepo(t, filepath.Join(online, "orphan"+PendingSuffix))
	writeFile(t, filepath.Join(online, "orphan"+PendingSuffix, "1_meta.7z"), "meta")
	makeRepo(t, filepath.Join(online, "x64"+BackupInfix+"2020-01-01T000000"))
	makeRepo(t, filepath.Join(online, "mac"+RevertedSuffix))
	// Repositories nested inside a repository are payload, not repositories
	makeRepo(t, filepath.Join(online, "x64", "qt.qt5.5152", "nested"))
	writeFile(t, filepath.Join(root, "README"), "not a repository")

	report, err := Scan(root)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(online, "arm64")}, report.Done)
	assert.Equal(t, []string{filepath.Join(online, "x64")}, report.Unconverted)
	assert.Equal(t, []string{filepath.Join(online, "orphan"+PendingSuffix)}, report.Broken)
	assert.Empty(t, report.Pending)

	again, err := Scan(root)
	require.NoError(t, err)
	assert.Equal(t, report, again)
}

func TestScanMissingRoot(t *testing.T) {
	_, err := Scan(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestConversionCandidates(t *testing.T) {
	r := &Report{
		Unconverted: []string{"/r/b"},
		Pending:     []string{"/r/a" + PendingSuffix},
		Done:        []string{"/r/c"},
	}
	assert.Equal(t, []string{"/r/a", "/r/b"}, r.ConversionCandidates())
}

func TestConvertGateHasNoSideEffects(t *testing.T) {
	root := t.TempDir()
	repoA := filepath.Join(root, "repoA")
	repoB := filepath.Join(root, "repoB")
	makeRepo(t, repoA)
	makeRepo(t, repoB)
	writeFile(t, filepath.Join(repoA+PendingSuffix, ManifestFile), "<Updates/>")
	before := tree(t, root)

	tool := &fakeTool{}
	_, err := NewConverter(tool).Convert(context.Background(), []string{repoB, repoA}, false)
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrPrecondition))

	var conflict *PendingConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{repoA}, conflict.Repositories)
	assert.Empty(t, tool.calls)
	assert.Equal(t, before, tree(t, root))
}

func TestConvertRecordsFailuresAndContinues(t *testing.T) {
	root := t.TempDir()
	repoA := filepath.Join(root, "repoA")
	repoB := filepath.Join(root, "repoB")
	repoC := filepath.Join(root, "repoC")
	for _, r := range []string{repoA, repoB, repoC} {
		makeRepo(t, r)
	}

	tool := &fakeTool{fail: map[string]bool{repoB: true}}
	res, err := NewConverter(tool).Convert(context.Background(), []string{repoA, repoB, repoC}, false)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{repoA: repoA + PendingSuffix, repoC: repoC + PendingSuffix}, res.OK)
	require.Contains(t, res.Failed, repoB)
	assert.Equal(t, repoB+PendingSuffix, res.Failed[repoB].Value)
	assert.True(t, models.IsType(res.Failed[repoB].Err, models.ErrExternalTool))
	assert.Equal(t, []string{repoA, repoB, repoC}, tool.calls)
}

func TestConvertDryRun(t *testing.T) {
	root := t.TempDir()
	repoA := filepath.Join(root, "repoA")
	makeRepo(t, repoA)
	before := tree(t, root)

	res, err := NewConverter(nil).Convert(context.Background(), []string{repoA}, true)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{repoA: repoA + PendingSuffix}, res.OK)
	assert.Equal(t, before, tree(t, root))
}

func TestConvertWithoutToolFails(t *testing.T) {
	_, err := NewConverter(nil).Convert(context.Background(), []string{"/nowhere"}, false)
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrPrecondition))
}

func TestSwapPreservesPayload(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	repoA := filepath.Join(root, "repoA")
	repoB := filepath.Join(root, "repoB")
	makeRepo(t, repoA)
	makeRepo(t, repoB)
	wantA := payload(t, repoA)
	wantB := payload(t, repoB)
	originalA := tree(t, repoA)

	conv, err := NewConverter(&fakeTool{}).Convert(ctx, []string{repoA, repoB}, false)
	require.NoError(t, err)

	session := NewSession(testTime)
	res, err := NewSwapper(session, 2, false).Swap(ctx, conv.OK)
	require.NoError(t, err)
	require.False(t, res.HasFailures())
	assert.Equal(t, []string{repoA, repoB}, res.SucceededKeys())

	assert.Equal(t, wantA, payload(t, repoA))
	assert.Equal(t, wantB, payload(t, repoB))
	assert.NoDirExists(t, filepath.Join(repoA, "stale"))
	assert.True(t, HasCombinedMetadata(repoA))
	assert.NoDirExists(t, repoA+PendingSuffix)

	backup := repoA + BackupInfix + "2024-03-05T140709"
	assert.Equal(t, backup, res.OK[repoA].Backup)
	assert.Equal(t, originalA, tree(t, backup))

	report, err := Scan(root)
	require.NoError(t, err)
	assert.Equal(t, []string{repoA, repoB}, report.Done)
}

func TestSwapValidatesWholeBatch(t *testing.T) {
	root := t.TempDir()
	session := NewSession(testTime)
	repoA := filepath.Join(root, "repoA")
	repoB := filepath.Join(root, "repoB")
	repoC := filepath.Join(root, "repoC")
	for _, r := range []string{repoA, repoB, repoC} {
		makeRepo(t, r)
		makeRepo(t, PendingPath(r))
	}
	require.NoError(t, os.RemoveAll(PendingPath(repoB)))
	require.NoError(t, os.Mkdir(session.BackupPath(repoC), 0755))
	before := tree(t, root)

	_, err := NewSwapper(session, 1, false).Swap(context.Background(), map[string]string{
		repoA: PendingPath(repoA),
		repoB: PendingPath(repoB),
		repoC: PendingPath(repoC),
	})
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrPrecondition))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Problems.Errors, 2)
	assert.Equal(t, before, tree(t, root))
}

func TestSwapDryRunTouchesNothing(t *testing.T) {
	root := t.TempDir()
	repoA := filepath.Join(root, "repoA")
	makeRepo(t, repoA)
	makeRepo(t, PendingPath(repoA))
	before := tree(t, root)

	res, err := NewSwapper(NewSession(testTime), 1, true).Swap(context.Background(), map[string]string{repoA: PendingPath(repoA)})
	require.NoError(t, err)
	assert.Contains(t, res.OK[repoA].Message, "[dry-run]")
	assert.Equal(t, before, tree(t, root))
}

func TestRevertRestoresBackups(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	repoA := filepath.Join(root, "repoA")
	native := filepath.Join(root, "native")
	makeRepo(t, repoA)
	makeRepo(t, native)
	writeFile(t, filepath.Join(native, "5_meta.7z"), "meta")
	originalA := tree(t, repoA)

	session := NewSession(testTime)
	conv, err := NewConverter(&fakeTool{}).Convert(ctx, []string{repoA}, false)
	require.NoError(t, err)
	_, err = NewSwapper(session, 1, false).Swap(ctx, conv.OK)
	require.NoError(t, err)
	migratedA := tree(t, repoA)

	report, err := Scan(root)
	require.NoError(t, err)
	require.Equal(t, []string{native, repoA}, report.Done)

	res, err := NewSwapper(nil, 1, false).Revert(ctx, report.Done, session.Timestamp)
	require.NoError(t, err)
	assert.Equal(t, []string{repoA}, res.SucceededKeys())
	assert.Empty(t, res.Failed)
	assert.Equal(t, repoA+RevertedSuffix, res.OK[repoA].Reverted)

	assert.Equal(t, originalA, tree(t, repoA))
	assert.Equal(t, migratedA, tree(t, repoA+RevertedSuffix))
	assert.NoDirExists(t, session.BackupPath(repoA))

	report, err = Scan(root)
	require.NoError(t, err)
	assert.Equal(t, []string{native}, report.Done)
	assert.Equal(t, []string{repoA}, report.Unconverted)
}

func TestRevertRefusesUnmigratedRepository(t *testing.T) {
	root := t.TempDir()
	session := NewSession(testTime)
	repoA := filepath.Join(root, "repoA")
	makeRepo(t, repoA)
	makeRepo(t, session.BackupPath(repoA))

	res, err := NewSwapper(nil, 1, false).Revert(context.Background(), []string{repoA}, session.Timestamp)
	require.NoError(t, err)
	require.Contains(t, res.Failed, repoA)
	assert.Contains(t, res.Failed[repoA].Err.Error(), "combined metadata")
	assert.DirExists(t, session.BackupPath(repoA))
}

func TestRevertRejectsBadTimestamp(t *testing.T) {
	_, err := NewSwapper(nil, 1, false).Revert(context.Background(), nil, "yesterday")
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrPrecondition))
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	repoA := filepath.Join(root, "repoA")
	repoB := filepath.Join(root, "repoB")
	makeRepo(t, repoA)
	makeRepo(t, repoB)

	tool := &fakeTool{fail: map[string]bool{repoB: true}}
	out, err := Migrate(ctx, root, NewConverter(tool), NewSwapper(NewSession(testTime), 2, false), false)
	require.NoError(t, err)
	assert.True(t, out.HasFailures())
	assert.Equal(t, []string{repoA}, out.Swapped.SucceededKeys())
	assert.Equal(t, []string{repoB}, out.Converted.FailedKeys())

	report, err := Scan(root)
	require.NoError(t, err)
	assert.Equal(t, []string{repoA}, report.Done)
	assert.Equal(t, []string{repoB}, report.Unconverted)
}

func TestMigrateDryRun(t *testing.T) {
	root := t.TempDir()
	makeRepo(t, filepath.Join(root, "repoA"))
	before := tree(t, root)

	out, err := Migrate(context.Background(), root, NewConverter(nil), NewSwapper(NewSession(testTime), 1, true), true)
	require.NoError(t, err)
	assert.False(t, out.HasFailures())
	assert.Len(t, out.Converted.OK, 1)
	assert.Equal(t, before, tree(t, root))
}

func TestSessionPathsAreSiblings(t *testing.T) {
	s := NewSession(testTime)
	assert.Equal(t, "/srv/online"+PendingSuffix, PendingPath("/srv/online/"))
	assert.Equal(t, "/srv/online"+BackupInfix+"2024-03-05T140709", s.BackupPath("/srv/online//"))
}

func TestMigrateRepositoryRootWithTrailingSlash(t *testing.T) {
	ctx := context.Background()
	parent := t.TempDir()
	repo := filepath.Join(parent, "online")
	makeRepo(t, repo)
	before := payload(t, repo)

	tool := &fakeTool{}
	out, err := Migrate(ctx, repo+"/", NewConverter(tool), NewSwapper(NewSession(testTime), 1, false), false)
	require.NoError(t, err)
	assert.False(t, out.HasFailures())
	assert.Equal(t, []string{repo}, tool.calls)
	assert.Equal(t, []string{repo}, out.Swapped.SucceededKeys())

	entries, err := os.ReadDir(repo)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), PendingSuffix)
		assert.NotContains(t, e.Name(), BackupInfix)
	}
	assert.True(t, HasCombinedMetadata(repo))
	assert.Equal(t, before, payload(t, repo))
	assert.DirExists(t, NewSession(testTime).BackupPath(repo))
	assert.NoDirExists(t, PendingPath(repo))
}

func TestSwapAndRevertCleanPaths(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	repo := filepath.Join(root, "repoA")
	makeRepo(t, repo)
	require.NoError(t, (&fakeTool{}).Generate(ctx, repo, PendingPath(repo)))

	sw := NewSwapper(NewSession(testTime), 1, false)
	res, err := sw.Swap(ctx, map[string]string{repo + "/": PendingPath(repo) + "/"})
	require.NoError(t, err)
	assert.Equal(t, []string{repo}, res.SucceededKeys())
	assert.True(t, HasCombinedMetadata(repo))

	reverted, err := sw.Revert(ctx, []string{repo + "/", repo}, NewSession(testTime).Timestamp)
	require.NoError(t, err)
	assert.Equal(t, []string{repo}, reverted.SucceededKeys())
	assert.False(t, HasCombinedMetadata(repo))
	assert.DirExists(t, repo+RevertedSuffix)
}
