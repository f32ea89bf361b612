// Package github is a small GitHub REST client covering what the mirror
// service needs: listing the repositories that currently exist under an
// owner.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultBaseURL = "https://api.github.com"
	perPage        = 100
	maxAttempts    = 3
	maxBackoff     = 60 * time.Second
)

// APIError is a non-2xx response from the GitHub API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("github: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("github: HTTP %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API, which for owner
// listings means the owner does not exist.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsUnauthorized reports whether err is an authentication or permission
// failure.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) &&
		(apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden)
}

// Options configures a Client.
type Options struct {
	BaseURL string        // API base URL, defaults to https://api.github.com
	Token   string        // Optional bearer token
	Timeout time.Duration // Per request timeout, defaults to 30s
	Logger  *slog.Logger
}

// Client calls the GitHub REST API. Transient faults (rate limiting,
// 5xx responses) are retried a bounded number of times with backoff;
// everything else surfaces immediately as an *APIError.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	retryDelay time.Duration
}

// NewClient creates a Client from options. When a token is configured it
// is attached to every request via an oauth2 transport.
func NewClient(opts Options) *Client {
	base := strings.TrimSuffix(opts.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{Timeout: timeout}
	if opts.Token != "" {
		httpClient.Transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}),
		}
	}

	return &Client{
		baseURL:    base,
		httpClient: httpClient,
		logger:     logger,
		retryDelay: 2 * time.Second,
	}
}

// ListOwnerRepos returns the names of every repository currently belonging
// to owner, following pagination until the listing is exhausted. A 404
// means the owner does not exist; callers can detect that with IsNotFound.
func (c *Client) ListOwnerRepos(ctx context.Context, owner string) ([]string, error) {
	next := fmt.Sprintf("%s/orgs/%s/repos?per_page=%d", c.baseURL, url.PathEscape(owner), perPage)

	var names []string
	for next != "" {
		page, nextURL, err := c.listPage(ctx, next)
		if err != nil {
			return nil, fmt.Errorf("listing repositories for %s: %w", owner, err)
		}
		names = append(names, page...)
		next = nextURL
	}
	return names, nil
}

// listPage fetches one page of a repository listing and returns the names
// it contains plus the URL of the next page, if any.
func (c *Client) listPage(ctx context.Context, pageURL string) ([]string, string, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := c.get(ctx, pageURL)
		if err != nil {
			// Network level failure; worth one more try.
			lastErr = err
			if attempt < maxAttempts {
				if err := c.sleep(ctx, c.retryDelay); err != nil {
					return nil, "", err
				}
				continue
			}
			return nil, "", lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, "", fmt.Errorf("reading response body: %w", readErr)
		}

		if resp.StatusCode == http.StatusOK {
			var repos []struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal(body, &repos); err != nil {
				return nil, "", fmt.Errorf("decoding repository listing: %w", err)
			}
			names := make([]string, 0, len(repos))
			for _, r := range repos {
				names = append(names, r.Name)
			}
			return names, parseLinkNext(resp.Header.Get("Link")), nil
		}

		apiErr := &APIError{StatusCode: resp.StatusCode, Message: parseErrorMessage(body)}
		if !retryable(resp.StatusCode, apiErr.Message) || attempt == maxAttempts {
			return nil, "", apiErr
		}

		delay := c.backoff(resp.Header)
		c.logger.Warn("github request failed, backing off",
			"status", resp.StatusCode,
			"attempt", attempt,
			"delay", delay.String())
		lastErr = apiErr
		if err := c.sleep(ctx, delay); err != nil {
			return nil, "", err
		}
	}
	return nil, "", lastErr
}

func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	return c.httpClient.Do(req)
}

// retryable reports whether a failed response is a transient fault. Rate
// limiting shows up as 429, or as 403 with a rate limit message.
func retryable(status int, message string) bool {
	if status >= 500 {
		return true
	}
	if status == http.StatusTooManyRequests {
		return true
	}
	if status == http.StatusForbidden && strings.Contains(strings.ToLower(message), "rate limit") {
		return true
	}
	return false
}

// backoff derives a wait from the rate limit headers, capped so a bogus
// reset timestamp cannot stall a pass indefinitely.
func (c *Client) backoff(header http.Header) time.Duration {
	if v := header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return min(time.Duration(secs)*time.Second, maxBackoff)
		}
	}
	if v := header.Get("X-RateLimit-Reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			if until := time.Until(time.Unix(epoch, 0)); until > 0 {
				return min(until, maxBackoff)
			}
		}
	}
	return c.retryDelay
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func parseErrorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Message
}

// parseLinkNext extracts the URL with rel="next" from an RFC 5988 Link
// header, e.g. `<https://api.github.com/...?page=2>; rel="next"`.
func parseLinkNext(header string) string {
	for _, part := range strings.Split(header, ",") {
		urlPart, relPart, found := strings.Cut(part, ";")
		if !found || !strings.Contains(relPart, `rel="next"`) {
			continue
		}
		urlPart = strings.TrimSpace(urlPart)
		if strings.HasPrefix(urlPart, "<") && strings.HasSuffix(urlPart, ">") {
			return urlPart[1 : len(urlPart)-1]
		}
	}
	return ""
}
