package clients

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/pinotpulse/ingest/pkg/errors"
)

// NewClientCredentialsSource builds an OAuth2 client-credentials token
// source for providers that authenticate with client id/secret pairs.
func NewClientCredentialsSource(ctx context.Context, tokenURL, clientID, clientSecret, scope string) oauth2.TokenSource {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}
	if scope != "" {
		cfg.Scopes = strings.Fields(scope)
	}
	return cfg.TokenSource(ctx)
}

// BearerHeader fetches a token from the source and returns the header to
// attach. Token refresh is handled by the source.
func BearerHeader(source oauth2.TokenSource) (map[string]string, error) {
	tok, err := source.Token()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeAuthentication, "failed to obtain OAuth2 token")
	}
	return map[string]string{"Authorization": "Bearer " + tok.AccessToken}, nil
}

// NewOAuth2HTTPClient wraps a base transport with automatic token
// injection for SDKs that take an *http.Client.
func NewOAuth2HTTPClient(ctx context.Context, source oauth2.TokenSource) *http.Client {
	return oauth2.NewClient(ctx, source)
}
