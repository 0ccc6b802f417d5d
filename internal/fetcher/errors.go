package fetcher

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound      = errors.New("artifact not found")
	ErrDuplicateName = errors.New("duplicate destination file name")
)

// HTTPError is returned for any non-2xx response
type HTTPError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s: %s", e.StatusCode, e.URL, e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
}

// Unwrap maps 404 responses to ErrNotFound
func (e *HTTPError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}
