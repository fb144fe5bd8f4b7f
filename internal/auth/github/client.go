// Package github implements the identity exchange against GitHub: completing
// the OAuth authorization-code flow, resolving the remote user profile, and
// computing the trust score that gates auto-approval of published blueprints.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	oauthgithub "golang.org/x/oauth2/github"
)

const defaultAPIBaseURL = "https://api.github.com"

// Risk levels assigned to publishers after profile resolution.
const (
	RiskLow     = "low"
	RiskUnknown = "unknown"
)

// minAccountAge is the account-age threshold below which a publisher is not
// auto-approved regardless of other signals.
const minAccountAge = 30 * 24 * time.Hour

// Profile is the subset of the GitHub user profile the registry cares about.
type Profile struct {
	ID          int64     `json:"id"`
	Login       string    `json:"login"`
	Name        string    `json:"name"`
	AvatarURL   string    `json:"avatar_url"`
	PublicRepos int       `json:"public_repos"`
	Followers   int       `json:"followers"`
	CreatedAt   time.Time `json:"created_at"`
}

// Client performs the server-to-server half of the GitHub OAuth flow.
type Client struct {
	oauth      oauth2.Config
	apiBaseURL string
	httpClient *http.Client
}

// Options configures a Client.
type Options struct {
	ClientID     string
	ClientSecret string
	// APIBaseURL overrides the GitHub API endpoint (GitHub Enterprise, tests)
	APIBaseURL string
	// TokenURL and AuthURL override the OAuth endpoints (tests)
	TokenURL string
	AuthURL  string
	// HTTPClient overrides http.DefaultClient (tests)
	HTTPClient *http.Client
}

// NewClient creates a GitHub identity client.
func NewClient(opts Options) *Client {
	endpoint := oauthgithub.Endpoint
	if opts.AuthURL != "" {
		endpoint.AuthURL = opts.AuthURL
	}
	if opts.TokenURL != "" {
		endpoint.TokenURL = opts.TokenURL
	}

	apiBaseURL := opts.APIBaseURL
	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		oauth: oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       []string{"read:user"},
		},
		apiBaseURL: apiBaseURL,
		httpClient: httpClient,
	}
}

// AuthorizationURL returns the provider authorization endpoint with the signed
// state token attached.
func (c *Client) AuthorizationURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// ExchangeCode swaps an authorization code for a provider access token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("github: code exchange failed: %w", err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("github: code exchange returned empty access token")
	}
	return token.AccessToken, nil
}

// FetchProfile resolves the profile of the user the access token belongs to.
func (c *Client) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBaseURL+"/user", nil)
	if err != nil {
		return nil, fmt.Errorf("github: create profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github: fetch profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("github: profile request returned %d: %s", resp.StatusCode, body)
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("github: decode profile: %w", err)
	}
	if profile.Login == "" {
		return nil, fmt.Errorf("github: profile response missing login")
	}
	return &profile, nil
}

// AssessRisk computes the publisher trust score from the resolved profile.
// All three signals must hold for a low-risk, auto-approved publisher:
// account older than 30 days, at least one public repository, and at least
// one follower. Anything less is unknown risk with manual moderation.
func AssessRisk(p *Profile, now time.Time) (riskLevel string, autoApprove bool) {
	oldEnough := !p.CreatedAt.IsZero() && now.Sub(p.CreatedAt) >= minAccountAge
	hasRepos := p.PublicRepos >= 1
	hasFollowers := p.Followers >= 1

	if oldEnough && hasRepos && hasFollowers {
		return RiskLow, true
	}
	return RiskUnknown, false
}
