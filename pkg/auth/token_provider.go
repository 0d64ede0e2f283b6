// Package auth supplies bearer tokens for API-backed connectors,
// either from a static private app token or an OAuth refresh token.
package auth

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/crmflow/crmflow/pkg/errors"
)

// hubspotTokenURL is the OAuth token endpoint for refresh grants.
const hubspotTokenURL = "https://api.hubapi.com/oauth/v1/token"

// TokenProvider yields the bearer token to attach to API requests.
type TokenProvider interface {
	// Token returns a currently valid access token.
	Token(ctx context.Context) (string, error)
}

// StaticTokenProvider wraps a private app token that never expires.
type StaticTokenProvider struct {
	token string
}

// NewStaticTokenProvider creates a provider for a fixed token.
func NewStaticTokenProvider(token string) (*StaticTokenProvider, error) {
	if token == "" {
		return nil, errors.New(errors.ErrorTypeAuthentication, "api token is empty")
	}
	return &StaticTokenProvider{token: token}, nil
}

// Token returns the stored token.
func (p *StaticTokenProvider) Token(_ context.Context) (string, error) {
	return p.token, nil
}

// OAuthTokenProvider exchanges a refresh token for short-lived access
// tokens, caching them until expiry.
type OAuthTokenProvider struct {
	source oauth2.TokenSource
}

// NewOAuthTokenProvider creates a provider that refreshes tokens
// through the OAuth token endpoint using the given app credentials.
func NewOAuthTokenProvider(ctx context.Context, clientID, clientSecret, refreshToken string) (*OAuthTokenProvider, error) {
	if clientID == "" || clientSecret == "" || refreshToken == "" {
		return nil, errors.New(errors.ErrorTypeAuthentication,
			"oauth refresh requires client_id, client_secret and refresh_token")
	}

	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  hubspotTokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	// TokenSource refreshes lazily and reuses unexpired tokens.
	source := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	return &OAuthTokenProvider{source: oauth2.ReuseTokenSource(nil, source)}, nil
}

// Token returns a valid access token, refreshing when needed.
func (p *OAuthTokenProvider) Token(_ context.Context) (string, error) {
	tok, err := p.source.Token()
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeAuthentication, "failed to refresh access token")
	}
	return tok.AccessToken, nil
}

// AuthorizeRequest sets the Authorization header on req using the
// provider's current token.
func AuthorizeRequest(ctx context.Context, req *http.Request, provider TokenProvider) error {
	token, err := provider.Token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}
