// Package client builds authenticated HTTP clients: a bearer-token client
// for the Firefly III API and an OAuth2 client for Google Sheets.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// DefaultTokenFile is where the Google OAuth token is cached.
const DefaultTokenFile = "data/google_token.json"

// NewBearer returns a client that sends token as a bearer credential on every request.
func NewBearer(ctx context.Context, token string, timeout time.Duration) (*http.Client, error) {
	if token == "" {
		return nil, errors.New("bearer token is empty")
	}
	c := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
	c.Timeout = timeout
	return c, nil
}

// NewGoogle returns a Google API client from an OAuth client secret file.
// The token is cached in tokenFile. When the file is missing the consent flow
// runs once in the browser. Refreshed tokens are written back to the file.
func NewGoogle(ctx context.Context, secretFile, tokenFile string, scope ...string) (*http.Client, error) {
	b, err := os.ReadFile(secretFile)
	if err != nil {
		return nil, fmt.Errorf("reading client secret file: %w", err)
	}
	config, err := google.ConfigFromJSON(b, scope...)
	if err != nil {
		return nil, fmt.Errorf("parsing client secret: %w", err)
	}
	if tokenFile == "" {
		tokenFile = DefaultTokenFile
	}

	cache := &fileCache{path: tokenFile}
	tok, err := cache.load()
	if err != nil {
		tok, err = consent(ctx, config, callbackAddr)
		if err != nil {
			return nil, fmt.Errorf("getting oauth token: %w", err)
		}
		if err := cache.store(tok); err != nil {
			return nil, err
		}
	}

	ts := &persistingSource{
		base:  config.TokenSource(ctx, tok),
		cache: cache,
		last:  tok.AccessToken,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, ts)), nil
}
