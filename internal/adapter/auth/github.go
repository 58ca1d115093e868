// Package auth implements "Sign in with GitHub" for operators and installation owners.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	"github.com/arturoeanton/codelens-ingest/internal/domain"
	"github.com/arturoeanton/codelens-ingest/internal/port"
)

// GitHubOAuthConfig configures the OAuth web flow.
type GitHubOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	WebURL       string // https://github.com
	APIURL       string // https://api.github.com
	HTTPClient   *http.Client
}

// GitHubOAuth exchanges OAuth codes for GitHub user profiles.
type GitHubOAuth struct {
	oauth      *oauth2.Config
	apiURL     *url.URL
	httpClient *http.Client
}

// NewGitHubOAuth returns port.ErrCapabilityDisabled when no OAuth app is configured.
func NewGitHubOAuth(cfg GitHubOAuthConfig) (*GitHubOAuth, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("github oauth: %w", port.ErrCapabilityDisabled)
	}
	if cfg.WebURL == "" {
		cfg.WebURL = "https://github.com"
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.github.com"
	}
	webURL := strings.TrimRight(cfg.WebURL, "/")
	apiURL, err := url.Parse(strings.TrimRight(cfg.APIURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("github oauth: api url: %w", err)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &GitHubOAuth{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   webURL + "/login/oauth/authorize",
				TokenURL:  webURL + "/login/oauth/access_token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiURL:     apiURL,
		httpClient: client,
	}, nil
}

// AuthURL returns the GitHub consent screen URL.
func (g *GitHubOAuth) AuthURL(state string) string {
	return g.oauth.AuthCodeURL(state)
}

// Authenticate exchanges an authorization code and returns the signed-in
// user's profile. ProviderID carries the numeric GitHub account id.
func (g *GitHubOAuth) Authenticate(ctx context.Context, code string) (*domain.User, error) {
	token, err := g.exchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return g.profile(ctx, token)
}

func (g *GitHubOAuth) exchangeCode(ctx context.Context, code string) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	tok, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		// GitHub reports a bad code with 200 and an error field.
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode != "" {
			return "", fmt.Errorf("github oauth: %s: %s: %w", re.ErrorCode, re.ErrorDescription, port.ErrUnauthorized)
		}
		return "", fmt.Errorf("github oauth: token exchange: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("github oauth: empty access token: %w", port.ErrUnauthorized)
	}
	return tok.AccessToken, nil
}

func (g *GitHubOAuth) client(token string) *github.Client {
	c := github.NewClient(g.httpClient).WithAuthToken(token)
	c.BaseURL = g.apiURL
	return c
}

func (g *GitHubOAuth) profile(ctx context.Context, token string) (*domain.User, error) {
	client := g.client(token)
	user, _, err := client.Users.Get(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("github oauth: fetch profile: %w", mapAPIError(err))
	}

	email := user.GetEmail()
	if email == "" {
		// Private emails are only listed on /user/emails.
		email, _ = primaryEmail(ctx, client)
	}
	name := user.GetName()
	if name == "" {
		name = user.GetLogin()
	}

	return &domain.User{
		Email:      email,
		Name:       name,
		AvatarURL:  user.GetAvatarURL(),
		Provider:   domain.ProviderGitHub,
		ProviderID: strconv.FormatInt(user.GetID(), 10),
	}, nil
}

func primaryEmail(ctx context.Context, client *github.Client) (string, error) {
	emails, _, err := client.Users.ListEmails(ctx, nil)
	if err != nil {
		return "", mapAPIError(err)
	}
	for _, e := range emails {
		if e.GetPrimary() && e.GetVerified() {
			return e.GetEmail(), nil
		}
	}
	if len(emails) > 0 {
		return emails[0].GetEmail(), nil
	}
	return "", fmt.Errorf("no email found")
}

func mapAPIError(err error) error {
	var re *github.ErrorResponse
	if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %w", port.ErrUnauthorized, err)
	}
	return err
}
