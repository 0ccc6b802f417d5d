package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ralt/repoctl/internal/models"
	"github.com/sirupsen/logrus"
)

// APIError is a non-2xx answer from the aptly API
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Unwrap maps aptly's answers onto ErrNotFound and ErrExists
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case strings.Contains(e.Message, "already exists"):
		return ErrExists
	}
	return nil
}

// Aptly is a Manager backed by the aptly REST API
type Aptly struct {
	baseURL  string
	client   *http.Client
	username string
	password string
}

// AptlyOption configures an Aptly client
type AptlyOption func(*Aptly)

// WithClient sets a custom HTTP client
func WithClient(c *http.Client) AptlyOption {
	return func(a *Aptly) {
		a.client = c
	}
}

// WithBasicAuth authenticates every request
func WithBasicAuth(username, password string) AptlyOption {
	return func(a *Aptly) {
		a.username = username
		a.password = password
	}
}

// NewAptly creates a client for the API served at baseURL
func NewAptly(baseURL string, opts ...AptlyOption) *Aptly {
	a := &Aptly{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Minute},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type aptlyRepo struct {
	Name                string `json:"Name"`
	DefaultDistribution string `json:"DefaultDistribution,omitempty"`
	DefaultComponent    string `json:"DefaultComponent,omitempty"`
}

type aptlySource struct {
	Component string `json:"Component,omitempty"`
	Name      string `json:"Name"`
}

type aptlySigning struct {
	Skip       bool   `json:"Skip,omitempty"`
	GpgKey     string `json:"GpgKey,omitempty"`
	Passphrase string `json:"Passphrase,omitempty"`
	Batch      bool   `json:"Batch,omitempty"`
}

type aptlyPublish struct {
	Storage       string        `json:"Storage,omitempty"`
	Prefix        string        `json:"Prefix,omitempty"`
	SourceKind    string        `json:"SourceKind"`
	Sources       []aptlySource `json:"Sources"`
	Distribution  string        `json:"Distribution"`
	Architectures []string      `json:"Architectures,omitempty"`
	Signing       *aptlySigning `json:"Signing,omitempty"`
}

type aptlyAddReport struct {
	FailedFiles []string `json:"FailedFiles"`
	Report      struct {
		Warnings []string `json:"Warnings"`
		Added    []string `json:"Added"`
	} `json:"Report"`
}

// escapePrefix encodes a publish prefix for use in an API path
func escapePrefix(e models.Endpoint) string {
	prefix := e.Prefix
	if prefix == "" {
		prefix = "."
	}
	prefix = strings.ReplaceAll(prefix, "_", "__")
	prefix = strings.ReplaceAll(prefix, "/", "_")
	return url.PathEscape(fmt.Sprintf("%s:%s:%s", e.Type, e.Name, prefix))
}

func (a *Aptly) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return a.send(req, out)
}

func (a *Aptly) send(req *http.Request, out interface{}) error {
	if a.username != "" {
		req.SetBasicAuth(a.username, a.password)
	}

	logrus.Debugf("aptly: %s %s", req.Method, req.URL.Path)
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			Method:     req.Method,
			Path:       req.URL.Path,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(data),
		}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// errorMessage extracts aptly's {"error": ...} payload, which may come alone
// or in a list
func errorMessage(data []byte) string {
	var single struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &single) == nil && single.Error != "" {
		return single.Error
	}
	var list []struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &list) == nil && len(list) > 0 {
		return list[0].Error
	}
	return strings.TrimSpace(string(data))
}

func wrap(subject string, err error) error {
	if err == nil {
		return nil
	}
	return models.NewError(models.ErrExternalTool, subject, err)
}

func (a *Aptly) CreateRepo(ctx context.Context, name, distribution, component string) error {
	return wrap(name, a.do(ctx, http.MethodPost, "/api/repos", aptlyRepo{
		Name:                name,
		DefaultDistribution: distribution,
		DefaultComponent:    component,
	}, nil))
}

func (a *Aptly) DeleteRepo(ctx context.Context, name string) error {
	return wrap(name, a.do(ctx, http.MethodDelete, "/api/repos/"+url.PathEscape(name)+"?force=1", nil, nil))
}

// AddPackages uploads files into a fresh upload directory and imports it.
// aptly removes the upload directory once the import is done.
func (a *Aptly) AddPackages(ctx context.Context, repo string, files []string) error {
	if len(files) == 0 {
		return nil
	}

	dir := "repoctl-" + uuid.NewString()
	if err := a.upload(ctx, dir, files); err != nil {
		return wrap(repo, err)
	}

	var report aptlyAddReport
	path := fmt.Sprintf("/api/repos/%s/file/%s", url.PathEscape(repo), dir)
	if err := a.do(ctx, http.MethodPost, path, nil, &report); err != nil {
		return wrap(repo, err)
	}
	for _, w := range report.Report.Warnings {
		logrus.Warnf("aptly: %s: %s", repo, w)
	}
	if len(report.FailedFiles) > 0 {
		return wrap(repo, fmt.Errorf("failed to add %d files: %s",
			len(report.FailedFiles), strings.Join(report.FailedFiles, ", ")))
	}
	logrus.Infof("Added %d packages to %s", len(report.Report.Added), repo)
	return nil
}

// upload streams files as one multipart request
func (a *Aptly) upload(ctx context.Context, dir string, files []string) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeParts(mw, files))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/files/"+dir, pr)
	if err != nil {
		pr.Close()
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	err = a.send(req, nil)
	// Unblocks the writer if the request ended early
	pr.CloseWithError(errors.New("upload finished"))
	return err
}

func writeParts(mw *multipart.Writer, files []string) error {
	for _, path := range files {
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(part, f)
		f.Close()
		if err != nil {
			return err
		}
	}
	return mw.Close()
}

func (a *Aptly) CreateSnapshot(ctx context.Context, snapshot, repo string) error {
	path := fmt.Sprintf("/api/repos/%s/snapshots", url.PathEscape(repo))
	return wrap(snapshot, a.do(ctx, http.MethodPost, path, map[string]string{"Name": snapshot}, nil))
}

func (a *Aptly) DeleteSnapshot(ctx context.Context, snapshot string) error {
	return wrap(snapshot, a.do(ctx, http.MethodDelete, "/api/snapshots/"+url.PathEscape(snapshot)+"?force=1", nil, nil))
}

func (a *Aptly) Publish(ctx context.Context, req PublishRequest) error {
	body := aptlyPublish{
		SourceKind:    "snapshot",
		Sources:       []aptlySource{{Name: req.Snapshot}},
		Distribution:  req.Distribution,
		Architectures: req.Architectures,
	}
	if req.Signing == nil {
		body.Signing = &aptlySigning{Skip: true}
	} else {
		body.Signing = &aptlySigning{
			GpgKey:     req.Signing.KeyID,
			Passphrase: req.Signing.Passphrase,
			Batch:      true,
		}
	}
	return wrap(req.Snapshot, a.do(ctx, http.MethodPost, "/api/publish/"+escapePrefix(req.Endpoint), body, nil))
}

func (a *Aptly) Unpublish(ctx context.Context, endpoint models.Endpoint, distribution string) error {
	path := fmt.Sprintf("/api/publish/%s/%s?force=1", escapePrefix(endpoint), url.PathEscape(distribution))
	return wrap(endpoint.String(), a.do(ctx, http.MethodDelete, path, nil, nil))
}

func (a *Aptly) ListRepos(ctx context.Context) ([]string, error) {
	var repos []aptlyRepo
	if err := a.do(ctx, http.MethodGet, "/api/repos", nil, &repos); err != nil {
		return nil, wrap("repos", err)
	}
	names := make([]string, 0, len(repos))
	for _, r := range repos {
		names = append(names, r.Name)
	}
	return names, nil
}

func (a *Aptly) ListSnapshots(ctx context.Context) ([]string, error) {
	var snaps []aptlyRepo
	if err := a.do(ctx, http.MethodGet, "/api/snapshots", nil, &snaps); err != nil {
		return nil, wrap("snapshots", err)
	}
	names := make([]string, 0, len(snaps))
	for _, s := range snaps {
		names = append(names, s.Name)
	}
	return names, nil
}

func (a *Aptly) ListPublished(ctx context.Context) ([]Published, error) {
	var list []aptlyPublish
	if err := a.do(ctx, http.MethodGet, "/api/publish", nil, &list); err != nil {
		return nil, wrap("publish", err)
	}

	out := make([]Published, 0, len(list))
	for _, p := range list {
		if p.SourceKind != "snapshot" || len(p.Sources) == 0 {
			continue
		}
		kind, name, _ := strings.Cut(p.Storage, ":")
		out = append(out, Published{
			Endpoint: models.Endpoint{
				Type:   models.EndpointType(kind),
				Name:   name,
				Prefix: p.Prefix,
			},
			Distribution:  p.Distribution,
			Snapshot:      p.Sources[0].Name,
			Architectures: p.Architectures,
		})
	}
	return out, nil
}
