package openelis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ehr/elisfeed/internal/domain/accession"
)

// TransportError reports a failed request to the LIS or an undecodable
// response.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("openelis: GET %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("openelis: GET %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Options configures a Client.
type Options struct {
	BaseURL   string
	Username  string
	Password  string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 disables limiting
}

// Client talks to the OpenELIS web services.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		username:   opts.Username,
		password:   opts.Password,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

// URL resolves a path relative to the LIS base URL. Absolute URLs are
// returned unchanged.
func (c *Client) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// Get fetches url and returns the response body.
func (c *Client) Get(ctx context.Context, url, accept string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{URL: url, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", truncate(string(body), 200)),
		}
	}
	return body, nil
}

// FetchAccession fetches and decodes the accession at url.
func (c *Client) FetchAccession(ctx context.Context, url string) (*accession.Accession, error) {
	body, err := c.Get(ctx, url, "application/json")
	if err != nil {
		return nil, err
	}
	var acc accession.Accession
	if err := json.Unmarshal(body, &acc); err != nil {
		return nil, &TransportError{URL: url, StatusCode: http.StatusOK, Err: fmt.Errorf("decode accession: %w", err)}
	}
	if acc.AccessionUUID == "" {
		return nil, &TransportError{URL: url, StatusCode: http.StatusOK, Err: fmt.Errorf("decode accession: missing accessionUuid")}
	}
	return &acc, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
