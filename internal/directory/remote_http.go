package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultRemoteTimeout = 5 * time.Second

	// maxRemoteBody bounds a single directory response.
	maxRemoteBody = 64 << 10
)

// HTTPRemote queries a directory service over HTTP.
//
//	GET {base}/people/by-credential/{id}  -> 200 PersonRecord JSON | 404
//	GET {base}/health                     -> 200
type HTTPRemote struct {
	base       string
	httpClient *http.Client
}

// NewHTTPRemote creates an HTTP directory client. The client timeout is a
// backstop; callers should also bound each call with a context deadline.
func NewHTTPRemote(baseURL string, timeout time.Duration) *HTTPRemote {
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &HTTPRemote{
		base:       strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FindByCredential fetches the person holding credential id.
func (r *HTTPRemote) FindByCredential(ctx context.Context, id string) (PersonRecord, error) {
	endpoint := r.base + "/people/by-credential/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return PersonRecord{}, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return PersonRecord{}, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return PersonRecord{}, ErrNotFound
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return PersonRecord{}, fmt.Errorf("%w: status %d", ErrRemoteUnavailable, resp.StatusCode)
	}

	var p PersonRecord
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRemoteBody)).Decode(&p); err != nil {
		return PersonRecord{}, fmt.Errorf("%w: decoding person: %w", ErrRemoteUnavailable, err)
	}
	if p.PersonID == "" {
		return PersonRecord{}, ErrNotFound
	}
	return p, nil
}

// HealthCheck verifies the directory service answers.
func (r *HTTPRemote) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.base+"/health", nil)
	if err != nil {
		return fmt.Errorf("directory health check: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("directory health check: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("directory health check: status %d", resp.StatusCode)
	}
	return nil
}
