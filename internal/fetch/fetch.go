// Package fetch retrieves a node's configuration document from the
// provisioning backend.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/cochaviz/uli/internal/logging"
)

// ErrNotFound reports that the backend has no document under a name.
var ErrNotFound = errors.New("configuration not found")

// maxDocumentSize bounds a configuration download.
const maxDocumentSize = 1 << 20

// ConfigFetchError reports a configuration that could not be retrieved.
type ConfigFetchError struct {
	Location string
	Err      error
}

func (e *ConfigFetchError) Error() string {
	return fmt.Sprintf("fetch configuration %s: %v", e.Location, e.Err)
}

func (e *ConfigFetchError) Unwrap() error {
	return e.Err
}

// Fetcher retrieves a configuration document by file name.
type Fetcher interface {
	Fetch(ctx context.Context, name string) ([]byte, error)
}

// Attempt is one document to try. An optional attempt that is not found
// is skipped; any other failure is fatal.
type Attempt struct {
	Name     string
	Optional bool
}

// Attempts returns the host-specific document followed by the fallback.
func Attempts(identifier string) []Attempt {
	return []Attempt{
		{Name: identifier + ".yaml", Optional: true},
		{Name: FallbackIdentifier + ".yaml"},
	}
}

// HTTPFetcher downloads documents below BaseURL.
type HTTPFetcher struct {
	BaseURL string
	Client  *retryablehttp.Client
}

var _ Fetcher = (*HTTPFetcher)(nil)

// BaseURL builds the document root on a backend host.
func BaseURL(backend, dir string) string {
	u := url.URL{Scheme: "http", Host: backend, Path: "/" + strings.Trim(dir, "/") + "/"}
	return u.String()
}

// NewHTTPFetcher returns a fetcher that retries transient failures.
// A 404 is an answer, not a transient failure, and is never retried.
func NewHTTPFetcher(baseURL string, logger *slog.Logger) *HTTPFetcher {
	client := retryablehttp.NewClient()
	client.RetryMax = 4
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = logging.Ensure(logger).With(logging.ComponentKey, "fetch")
	return &HTTPFetcher{BaseURL: baseURL, Client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, name string) ([]byte, error) {
	location := strings.TrimSuffix(f.BaseURL, "/") + "/" + url.PathEscape(name)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, &ConfigFetchError{Location: location, Err: err}
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, &ConfigFetchError{Location: location, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &ConfigFetchError{Location: location, Err: ErrNotFound}
	case resp.StatusCode != http.StatusOK:
		return nil, &ConfigFetchError{Location: location, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, &ConfigFetchError{Location: location, Err: err}
	}
	if len(data) > maxDocumentSize {
		return nil, &ConfigFetchError{Location: location, Err: fmt.Errorf("document exceeds %d bytes", maxDocumentSize)}
	}
	return data, nil
}

// FileFetcher reads documents from a local directory, or a single file
// when Path names one.
type FileFetcher struct {
	Path string
}

var _ Fetcher = (*FileFetcher)(nil)

func (f *FileFetcher) Fetch(_ context.Context, name string) ([]byte, error) {
	location := f.Path
	if info, err := os.Stat(f.Path); err == nil && info.IsDir() {
		location = filepath.Join(f.Path, name)
	}
	data, err := os.ReadFile(location)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return nil, &ConfigFetchError{Location: location, Err: err}
	}
	return data, nil
}
