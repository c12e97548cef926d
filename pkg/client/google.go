package client

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

const (
	callbackAddr   = "localhost:8085"
	callbackPath   = "/callback"
	consentTimeout = 5 * time.Minute
)

// fileCache reads and writes an OAuth token as JSON.
type fileCache struct {
	path string
	mu   sync.Mutex
}

func (c *fileCache) load() (*oauth2.Token, error) {
	b, err := os.ReadFile(c.path)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(b, &tok); err != nil {
		return nil, fmt.Errorf("decoding token file: %w", err)
	}
	return &tok, nil
}

func (c *fileCache) store(tok *oauth2.Token) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	b, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	return os.Rename(tmp, c.path)
}

// persistingSource saves every newly refreshed token to the cache.
type persistingSource struct {
	base  oauth2.TokenSource
	cache *fileCache

	mu   sync.Mutex
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	changed := tok.AccessToken != s.last
	s.last = tok.AccessToken
	s.mu.Unlock()

	if changed {
		if err := s.cache.store(tok); err != nil {
			slog.Warn("failed to cache refreshed token", "path", s.cache.path, "error", err)
		}
	}
	return tok, nil
}

// callback receives the authorization redirect.
type callback struct {
	state string
	codes chan string
	errs  chan error
}

func newCallback(state string) *callback {
	return &callback{state: state, codes: make(chan string, 1), errs: make(chan error, 1)}
}

func (c *callback) fail(w http.ResponseWriter, err error) {
	select {
	case c.errs <- err:
	default:
	}
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func (c *callback) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch {
	case q.Get("state") != c.state:
		c.fail(w, errors.New("invalid state parameter"))
	case q.Get("error") != "":
		c.fail(w, fmt.Errorf("authorization denied: %s %s", q.Get("error"), q.Get("error_description")))
	case q.Get("code") == "":
		c.fail(w, errors.New("no authorization code received"))
	default:
		select {
		case c.codes <- q.Get("code"):
		default:
		}
		fmt.Fprintln(w, "Authorized. You can close this window.")
	}
}

// consent prints the consent URL and waits for the redirect on addr.
func consent(ctx context.Context, config *oauth2.Config, addr string) (*oauth2.Token, error) {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening for oauth callback on %s: %w", addr, err)
	}
	config.RedirectURL = "http://" + ln.Addr().String() + callbackPath

	state, err := randomState()
	if err != nil {
		ln.Close()
		return nil, err
	}
	cb := newCallback(state)
	mux := http.NewServeMux()
	mux.Handle(callbackPath, cb)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case cb.errs <- err:
			default:
			}
		}
	}()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	fmt.Printf("\nAuthorize Google access by visiting:\n%s\n\n", config.AuthCodeURL(state, oauth2.AccessTypeOffline))

	ctx, cancel := context.WithTimeout(ctx, consentTimeout)
	defer cancel()

	select {
	case code := <-cb.codes:
		tok, err := config.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("exchanging authorization code: %w", err)
		}
		return tok, nil
	case err := <-cb.errs:
		return nil, err
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for oauth callback: %w", ctx.Err())
	}
}

func randomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating state token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
