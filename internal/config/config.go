// Package config reads the declarative task file of a publish run.
package config

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/ralt/repoctl/internal/models"
	"github.com/ralt/repoctl/internal/scanner"
	"gopkg.in/yaml.v3"
)

// Config is the content of a task file
type Config struct {
	Manager  ManagerConfig `yaml:"manager"`
	Defaults TaskConfig    `yaml:"defaults"`
	Tasks    []TaskConfig  `yaml:"tasks"`
}

// ManagerConfig locates the repository manager API
type ManagerConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// EndpointConfig names where a task is published
type EndpointConfig struct {
	Type   string `yaml:"type"` // "filesystem", "s3"
	Name   string `yaml:"name"`
	Prefix string `yaml:"prefix"`
}

// NotifyConfig lists downstream jobs triggered after publishing
type NotifyConfig struct {
	BaseURL string   `yaml:"base_url"`
	Keys    []string `yaml:"keys"`
}

// TaskConfig is one release task. Empty fields inherit from defaults.
type TaskConfig struct {
	Repository     string         `yaml:"repository"`
	Distribution   string         `yaml:"distribution"`
	Component      string         `yaml:"component"`
	Architectures  []string       `yaml:"architectures"`
	ContentSources []string       `yaml:"content_sources"`
	PackageGlob    string         `yaml:"package_glob"`
	Endpoint       EndpointConfig `yaml:"endpoint"`
	SigningKey     string         `yaml:"signing_key"`
	Notify         NotifyConfig   `yaml:"notify"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Manager: ManagerConfig{
			URL: "http://localhost:8080",
		},
		Defaults: TaskConfig{
			Component:   "main",
			PackageGlob: scanner.DefaultGlob,
			Endpoint: EndpointConfig{
				Type: string(models.EndpointFilesystem),
			},
		},
	}
}

// Load reads a task file
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, models.NewError(models.ErrInvalidConfig, path, fmt.Errorf("reading task file: %w", err))
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, models.NewError(models.ErrInvalidConfig, path, fmt.Errorf("parsing task file: %w", err))
	}

	if err := cfg.Validate(); err != nil {
		return nil, models.NewError(models.ErrInvalidConfig, path, err)
	}

	return cfg, nil
}

// Validate fills in defaults and reports every problem of every task
func (c *Config) Validate() error {
	var errs *multierror.Error

	if c.Manager.URL == "" {
		errs = multierror.Append(errs, fmt.Errorf("manager.url is required"))
	}
	if len(c.Tasks) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("no tasks defined"))
	}

	seen := make(map[string]int)
	for i := range c.Tasks {
		t := &c.Tasks[i]
		t.inherit(c.Defaults)

		label := fmt.Sprintf("tasks[%d]", i)
		if t.Repository != "" {
			label = fmt.Sprintf("%s (%s)", label, t.Repository)
			if j, ok := seen[t.Repository]; ok {
				errs = multierror.Append(errs, fmt.Errorf("%s: repository already used by tasks[%d]", label, j))
			}
			seen[t.Repository] = i
		}

		for _, err := range t.validate() {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", label, err))
		}
	}

	return errs.ErrorOrNil()
}

func (t *TaskConfig) inherit(d TaskConfig) {
	if t.Distribution == "" {
		t.Distribution = d.Distribution
	}
	if t.Component == "" {
		t.Component = d.Component
	}
	if len(t.Architectures) == 0 {
		t.Architectures = d.Architectures
	}
	if t.PackageGlob == "" {
		t.PackageGlob = d.PackageGlob
	}
	if t.Endpoint.Type == "" {
		t.Endpoint.Type = d.Endpoint.Type
	}
	if t.Endpoint.Name == "" {
		t.Endpoint.Name = d.Endpoint.Name
	}
	if t.Endpoint.Prefix == "" {
		t.Endpoint.Prefix = d.Endpoint.Prefix
	}
	if t.SigningKey == "" {
		t.SigningKey = d.SigningKey
	}
	if t.Notify.BaseURL == "" {
		t.Notify.BaseURL = d.Notify.BaseURL
	}
}

func (t *TaskConfig) validate() []error {
	var errs []error
	if t.Repository == "" {
		errs = append(errs, fmt.Errorf("repository is required"))
	}
	if t.Distribution == "" {
		errs = append(errs, fmt.Errorf("distribution is required"))
	}
	if len(t.Architectures) == 0 {
		errs = append(errs, fmt.Errorf("architectures is required"))
	}
	if len(t.ContentSources) == 0 {
		errs = append(errs, fmt.Errorf("content_sources is required"))
	}
	if _, err := path.Match(t.PackageGlob, ""); err != nil {
		errs = append(errs, fmt.Errorf("package_glob %q: %w", t.PackageGlob, err))
	} else if onlyMatchesRpm(t.PackageGlob) {
		errs = append(errs, fmt.Errorf("package_glob %q only matches rpm packages, which cannot be published", t.PackageGlob))
	}
	if _, err := models.ParseEndpointType(t.Endpoint.Type); err != nil {
		errs = append(errs, fmt.Errorf("endpoint.type: %w", err))
	}
	if t.Endpoint.Name == "" {
		errs = append(errs, fmt.Errorf("endpoint.name is required"))
	}
	prefix, err := NormalizePrefix(t.Endpoint.Prefix)
	if err != nil {
		errs = append(errs, fmt.Errorf("endpoint.prefix: %w", err))
	}
	t.Endpoint.Prefix = prefix
	if len(t.Notify.Keys) > 0 && t.Notify.BaseURL == "" {
		errs = append(errs, fmt.Errorf("notify.keys given without notify.base_url"))
	}
	return errs
}

// onlyMatchesRpm reports whether glob selects rpm files but no Debian package
func onlyMatchesRpm(glob string) bool {
	rpm, _ := path.Match(glob, "pkg-1.0-1.x86_64.rpm")
	deb, _ := path.Match(glob, "pkg_1.0_amd64.deb")
	udeb, _ := path.Match(glob, "pkg_1.0_amd64.udeb")
	return rpm && !deb && !udeb
}

// NormalizePrefix trims slashes from a publish prefix and maps the root to
// ".". Prefixes climbing out of the endpoint are rejected.
func NormalizePrefix(prefix string) (string, error) {
	p := strings.Trim(strings.TrimSpace(prefix), "/")
	if p == "" || p == "." {
		return ".", nil
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("prefix %q leaves the endpoint", prefix)
		}
	}
	return path.Clean(p), nil
}

// ReleaseTasks converts the validated task list. A non-empty prefix
// overrides every task's endpoint prefix.
func (c *Config) ReleaseTasks(prefix string) ([]models.ReleaseTask, error) {
	override := ""
	if prefix != "" {
		p, err := NormalizePrefix(prefix)
		if err != nil {
			return nil, models.NewError(models.ErrInvalidConfig, "prefix", err)
		}
		override = p
	}

	tasks := make([]models.ReleaseTask, 0, len(c.Tasks))
	for _, t := range c.Tasks {
		endpointType, err := models.ParseEndpointType(t.Endpoint.Type)
		if err != nil {
			return nil, models.NewError(models.ErrInvalidConfig, t.Repository, err)
		}
		rt := models.ReleaseTask{
			Repository:     t.Repository,
			Distribution:   t.Distribution,
			Component:      t.Component,
			Architectures:  append([]string(nil), t.Architectures...),
			ContentSources: append([]string(nil), t.ContentSources...),
			PackageGlob:    t.PackageGlob,
			Endpoint: models.Endpoint{
				Type:   endpointType,
				Name:   t.Endpoint.Name,
				Prefix: t.Endpoint.Prefix,
			},
			SigningKey:    t.SigningKey,
			NotifyBaseURL: t.Notify.BaseURL,
			NotifyKeys:    append([]string(nil), t.Notify.Keys...),
		}
		if override != "" {
			rt.Endpoint.Prefix = override
		}
		tasks = append(tasks, rt)
	}
	return tasks, nil
}
