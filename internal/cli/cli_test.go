package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ralt/repoctl/internal/migration"
	"github.com/ralt/repoctl/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, stdout io.Writer, args ...string) error {
	t.Helper()
	cmd := NewRootCmd()
	if stdout == nil {
		stdout = io.Discard
	}
	cmd.SetOut(stdout)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func writeTaskFile(t *testing.T, sources string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	content := `
defaults:
  distribution: bullseye
  architectures: [amd64]
  endpoint:
    type: filesystem
    name: public
tasks:
  - repository: foo_repo
    content_sources: [` + sources + `]
    endpoint:
      prefix: debian
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func packageDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte(n), 0644))
	}
	return dir
}

func TestPublishRequiresConfig(t *testing.T) {
	err := execute(t, nil, "publish", "--dry-run")
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrInvalidConfig))
}

func TestPublishDryRun(t *testing.T) {
	src := packageDir(t, "foo_1.0_amd64.deb")
	require.NoError(t, execute(t, nil, "publish", "--dry-run", "-c", writeTaskFile(t, src)))
}

func TestPublishDryRunReportsFailedTask(t *testing.T) {
	src := packageDir(t)
	err := execute(t, nil, "publish", "--dry-run", "-c", writeTaskFile(t, src))
	assert.Error(t, err)
}

func TestPublishLocalRoot(t *testing.T) {
	src := packageDir(t, "foo_1.0_amd64.deb", "foo_1.0_i386.deb")
	root := t.TempDir()

	require.NoError(t, execute(t, nil, "publish", "--local-root", root, "-c", writeTaskFile(t, src)))

	repo := filepath.Join(root, "public", "debian")
	assert.FileExists(t, filepath.Join(repo, "pool", "main", "f", "foo", "foo_1.0_amd64.deb"))
	assert.NoFileExists(t, filepath.Join(repo, "pool", "main", "f", "foo", "foo_1.0_i386.deb"))
	assert.FileExists(t, filepath.Join(repo, "dists", "bullseye", "main", "binary-amd64", "Packages"))
	assert.FileExists(t, filepath.Join(repo, "dists", "bullseye", "InRelease"))
}

func TestPublishedListsSnapshots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/publish", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[
  {"Storage": "s3:packages", "Prefix": "debian", "SourceKind": "snapshot",
   "Sources": [{"Name": "foo_repo_snapshot"}], "Distribution": "bullseye",
   "Architectures": ["amd64", "arm64"]},
  {"Prefix": "local", "SourceKind": "local", "Sources": [{"Name": "scratch"}], "Distribution": "sid"}
]`)
	}))
	defer srv.Close()

	var out bytes.Buffer
	require.NoError(t, execute(t, &out, "published", "--manager-url", srv.URL))
	assert.Equal(t, "s3:packages:debian\tbullseye\tfoo_repo_snapshot\tamd64,arm64\n", out.String())
}

func migrationTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, repo := range []string{"linux/online", "windows/online"} {
		dir := filepath.Join(root, filepath.FromSlash(repo))
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "qt.core"), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, migration.ManifestFile), []byte("<Updates/>"), 0644))
	}
	return root
}

func TestMigrateRequiresSearchPath(t *testing.T) {
	err := execute(t, nil, "migrate", "scan")
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrInvalidConfig))
}

func TestMigrateToolFlagsExclusive(t *testing.T) {
	err := execute(t, nil, "migrate", "convert", "-s", t.TempDir(),
		"--repogen", "/usr/bin/repogen", "--repogen-tools-url", "http://example.com/tools.tar.gz")
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrInvalidConfig))
}

func TestMigrateScan(t *testing.T) {
	require.NoError(t, execute(t, nil, "migrate", "scan", "-s", migrationTree(t)))
}

func TestMigrateConvertDryRunLeavesTree(t *testing.T) {
	root := migrationTree(t)
	require.NoError(t, execute(t, nil, "migrate", "convert", "--dry-run", "-s", root))

	report, err := migration.Scan(root)
	require.NoError(t, err)
	assert.Len(t, report.Unconverted, 2)
	assert.Empty(t, report.Pending)
	assert.Empty(t, report.Done)
}

func TestMigrateConvertWithoutTool(t *testing.T) {
	err := execute(t, nil, "migrate", "convert", "-s", migrationTree(t),
		"--repogen", filepath.Join(t.TempDir(), "missing-repogen"))
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrPrecondition))
}

func TestMigrateRevertRequiresTimestamp(t *testing.T) {
	err := execute(t, nil, "migrate", "revert", "-s", t.TempDir())
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrInvalidConfig))
}
