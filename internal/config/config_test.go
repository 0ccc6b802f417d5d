package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/ralt/repoctl/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("APTLY_PASSWORD", "hunter2")
	path := writeConfig(t, `
manager:
  url: http://aptly.internal:8080
  username: release
  password: ${APTLY_PASSWORD}
defaults:
  distribution: bullseye
  architectures: [amd64, arm64]
  endpoint:
    type: s3
    name: packages
tasks:
  - repository: foo_repo
    content_sources:
      - /local/pkgs
      - https://ci.example.com/artifacts/foo/
    endpoint:
      prefix: /debian/foo/
    signing_key: DEADBEEFCAFEF00D
    notify:
      base_url: https://ci.example.com/trigger
      keys: [foo-smoke]
  - repository: bar_repo
    distribution: bookworm
    component: contrib
    architectures: [amd64]
    package_glob: "bar_*.deb"
    content_sources: [/local/bar]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.Manager.Password)

	tasks, err := cfg.ReleaseTasks("")
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	foo := tasks[0]
	assert.Equal(t, "foo_repo", foo.Repository)
	assert.Equal(t, "bullseye", foo.Distribution)
	assert.Equal(t, "main", foo.Component)
	assert.Equal(t, []string{"amd64", "arm64"}, foo.Architectures)
	assert.Equal(t, "*.deb", foo.PackageGlob)
	assert.Equal(t, models.Endpoint{Type: models.EndpointS3, Name: "packages", Prefix: "debian/foo"}, foo.Endpoint)
	assert.Equal(t, "DEADBEEFCAFEF00D", foo.SigningKey)
	assert.Equal(t, []string{"foo-smoke"}, foo.NotifyKeys)
	assert.Equal(t, "foo_repo_snapshot", foo.SnapshotName())

	bar := tasks[1]
	assert.Equal(t, "bookworm", bar.Distribution)
	assert.Equal(t, "contrib", bar.Component)
	assert.Equal(t, "bar_*.deb", bar.PackageGlob)
	assert.Equal(t, ".", bar.Endpoint.Prefix)
	assert.Empty(t, bar.NotifyBaseURL)
}

func TestReleaseTasksPrefixOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tasks = []TaskConfig{{
		Repository:     "foo_repo",
		Distribution:   "bullseye",
		Architectures:  []string{"amd64"},
		ContentSources: []string{"/pkgs"},
		Endpoint:       EndpointConfig{Name: "public", Prefix: "stable"},
	}}
	require.NoError(t, cfg.Validate())

	tasks, err := cfg.ReleaseTasks("/nightly/")
	require.NoError(t, err)
	assert.Equal(t, "nightly", tasks[0].Endpoint.Prefix)
	assert.Equal(t, models.EndpointFilesystem, tasks[0].Endpoint.Type)

	_, err = cfg.ReleaseTasks("../escape")
	assert.True(t, models.IsType(err, models.ErrInvalidConfig))
}

func TestValidateReportsEveryProblem(t *testing.T) {
	path := writeConfig(t, `
tasks:
  - repository: foo_repo
    architectures: [amd64]
    content_sources: [/pkgs]
    endpoint: {type: ftp, name: x, prefix: "a/../../b"}
  - repository: foo_repo
    distribution: sid
    architectures: [amd64]
    endpoint: {name: x}
    notify: {keys: [k]}
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrInvalidConfig))

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 6)

	msg := err.Error()
	assert.Contains(t, msg, "distribution is required")
	assert.Contains(t, msg, `unknown endpoint type "ftp"`)
	assert.Contains(t, msg, "leaves the endpoint")
	assert.Contains(t, msg, "already used by tasks[0]")
	assert.Contains(t, msg, "content_sources is required")
	assert.Contains(t, msg, "notify.base_url")
}

func TestLoadEmptyFile(t *testing.T) {
	_, err := Load(writeConfig(t, "manager:\n  url: http://x\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no tasks defined")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrInvalidConfig))
}

func TestNormalizePrefix(t *testing.T) {
	for in, want := range map[string]string{
		"":            ".",
		"/":           ".",
		".":           ".",
		"debian":      "debian",
		"/debian/qt/": "debian/qt",
		"a//b":        "a/b",
	} {
		got, err := NormalizePrefix(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := NormalizePrefix("../up")
	assert.Error(t, err)
}

func TestValidateRejectsRpmOnlyGlob(t *testing.T) {
	base := `
defaults:
  distribution: sid
  architectures: [amd64]
  endpoint: {name: public}
tasks:
  - repository: foo_repo
    content_sources: [/pkgs]
    package_glob: `

	_, err := Load(writeConfig(t, base+`"*.rpm"`))
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrInvalidConfig))
	assert.Contains(t, err.Error(), "only matches rpm packages")

	for _, glob := range []string{`"*"`, `"*.deb"`, `"foo_*"`} {
		_, err := Load(writeConfig(t, base+glob))
		assert.NoError(t, err, glob)
	}
}
