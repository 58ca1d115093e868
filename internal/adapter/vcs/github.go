package vcs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v62/github"
	"golang.org/x/time/rate"

	"github.com/arturoeanton/codelens-ingest/internal/domain"
	"github.com/arturoeanton/codelens-ingest/internal/port"
)

const defaultBaseURL = "https://api.github.com"

// GitHubConfig configures the GitHub App client.
type GitHubConfig struct {
	AppID      int64
	PrivateKey string // PEM
	BaseURL    string
	RateLimit  float64 // requests per second
	Transport  http.RoundTripper
}

// GitHubProvider implements port.TreeFetcher as a GitHub App. Installation
// tokens are minted and refreshed by ghinstallation, one client per
// installation.
type GitHubProvider struct {
	apps    *ghinstallation.AppsTransport
	baseURL string
	limiter *rate.Limiter

	mu      sync.Mutex
	clients map[int64]*github.Client
}

var _ port.TreeFetcher = (*GitHubProvider)(nil)

// NewGitHubProvider parses the App private key and builds the client.
func NewGitHubProvider(cfg GitHubConfig) (*GitHubProvider, error) {
	if cfg.AppID == 0 || cfg.PrivateKey == "" {
		return nil, fmt.Errorf("github app: %w: app id and private key are required", port.ErrCapabilityDisabled)
	}
	tr := cfg.Transport
	if tr == nil {
		tr = http.DefaultTransport
	}
	apps, err := ghinstallation.NewAppsTransport(tr, cfg.AppID, []byte(cfg.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("github app: parse private key: %w", err)
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	apps.BaseURL = baseURL

	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 10
	}

	return &GitHubProvider{
		apps:    apps,
		baseURL: baseURL,
		limiter: rate.NewLimiter(rate.Limit(limit), 5),
		clients: make(map[int64]*github.Client),
	}, nil
}

// DisabledFetcher stands in when no GitHub App is configured. Every fetch
// fails permanently so queued runs stop instead of retrying.
type DisabledFetcher struct{}

// FetchTree implements port.TreeFetcher.
func (DisabledFetcher) FetchTree(context.Context, int64, string, string, string) (*domain.Tree, error) {
	return nil, port.Permanent(fmt.Errorf("github app: %w", port.ErrCapabilityDisabled))
}

// FetchTree returns the recursive tree of owner/repo at ref.
func (g *GitHubProvider) FetchTree(ctx context.Context, installationID int64, owner, repo, ref string) (*domain.Tree, error) {
	client, err := g.client(installationID)
	if err != nil {
		return nil, err
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	escapedRef := strings.ReplaceAll(url.PathEscape(ref), "%2F", "/")
	payload, _, err := client.Git.GetTree(ctx, owner, repo, escapedRef, true)
	if err != nil {
		return nil, fmt.Errorf("fetch tree %s/%s@%s: %w", owner, repo, ref, g.classify(installationID, err))
	}

	tree := &domain.Tree{
		Files:     make([]domain.TreeEntry, 0, len(payload.Entries)),
		SHA:       payload.GetSHA(),
		Truncated: payload.GetTruncated(),
	}
	for _, e := range payload.Entries {
		tree.Files = append(tree.Files, domain.TreeEntry{
			Path: e.GetPath(),
			SHA:  e.GetSHA(),
			Size: int64(e.GetSize()),
			Type: e.GetType(),
			Mode: e.GetMode(),
		})
	}
	return tree, nil
}

// client returns the cached API client for the installation.
func (g *GitHubProvider) client(installationID int64) (*github.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.clients[installationID]; ok {
		return c, nil
	}

	itr := ghinstallation.NewFromAppsTransport(g.apps, installationID)
	itr.BaseURL = g.baseURL
	c := github.NewClient(&http.Client{Transport: itr, Timeout: 30 * time.Second})
	base, err := url.Parse(g.baseURL + "/")
	if err != nil {
		return nil, port.Permanent(fmt.Errorf("github app: base url: %w", err))
	}
	c.BaseURL = base

	g.clients[installationID] = c
	slog.Debug("Created installation client", "installation_id", installationID)
	return c, nil
}

func (g *GitHubProvider) forget(installationID int64) {
	g.mu.Lock()
	delete(g.clients, installationID)
	g.mu.Unlock()
}

// classify marks failures that retrying cannot fix as permanent.
func (g *GitHubProvider) classify(installationID int64, err error) error {
	var (
		rateErr  *github.RateLimitError
		abuseErr *github.AbuseRateLimitError
		respErr  *github.ErrorResponse
		tokenErr *ghinstallation.HTTPError
	)
	switch {
	case errors.As(err, &rateErr), errors.As(err, &abuseErr):
		return err

	case errors.As(err, &respErr):
		status := 0
		if respErr.Response != nil {
			status = respErr.Response.StatusCode
		}
		switch {
		case status == http.StatusNotFound:
			return port.Permanent(fmt.Errorf("%w: %w", port.ErrTreeNotFound, err))
		case status == http.StatusUnauthorized:
			// Token revoked early; the next attempt mints a new one.
			g.forget(installationID)
			return err
		case Retryable(status):
			return err
		}
		return port.Permanent(err)

	case errors.As(err, &tokenErr):
		// A missing installation or a rejected App key will not heal on retry.
		if tokenErr.Response != nil && !Retryable(tokenErr.Response.StatusCode) {
			return port.Permanent(fmt.Errorf("installation %d access token: %w", installationID, err))
		}
		return err
	}
	return err
}

// Retryable reports whether a GitHub response status can succeed on a
// later attempt without intervention.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
