// Package credential obtains bearer tokens for the event stream using the
// OAuth2 client-credentials grant.
package credential

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Config holds the client-credentials settings.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
	// Timeout bounds each token request.
	Timeout time.Duration
	// ExpirySkew treats a token as expired this long before its real expiry.
	ExpirySkew time.Duration
}

// Env constants for the credential settings.
const (
	EnvClientID     = "CNX_CLIENT_ID"
	EnvClientSecret = "CNX_CLIENT_SECRET"
	EnvTokenURL     = "CNX_TOKEN_URL"
)

// LoadConfigFromEnv reads the client credentials from the environment.
func LoadConfigFromEnv() Config {
	return Config{
		ClientID:     os.Getenv(EnvClientID),
		ClientSecret: os.Getenv(EnvClientSecret),
		TokenURL:     os.Getenv(EnvTokenURL),
		Timeout:      30 * time.Second,
		ExpirySkew:   time.Minute,
	}
}

// Validate reports every missing required field in a single error.
func (c Config) Validate() error {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "client ID")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "client secret")
	}
	if c.TokenURL == "" {
		missing = append(missing, "token URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing credential configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Fetcher caches one access token and refreshes it when it nears expiry or
// after Invalidate. It is safe for concurrent use.
type Fetcher struct {
	cc         *clientcredentials.Config
	httpClient *http.Client
	skew       time.Duration
	logger     zerolog.Logger

	mu    sync.Mutex
	token *oauth2.Token
	now   func() time.Time
}

// NewFetcher validates cfg and creates a Fetcher.
func NewFetcher(cfg Config, logger zerolog.Logger) (*Fetcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		cc: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		},
		httpClient: &http.Client{Timeout: timeout},
		skew:       cfg.ExpirySkew,
		logger:     logger.With().Str("component", "TokenFetcher").Logger(),
		now:        time.Now,
	}, nil
}

// Token returns the cached access token, fetching a new one if needed.
func (f *Fetcher) Token(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.valid() {
		return f.token.AccessToken, nil
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
	tok, err := f.cc.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch access token from %s: %w", f.cc.TokenURL, err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("token endpoint returned an empty access token")
	}
	f.token = tok
	f.logger.Info().Time("expiry", tok.Expiry).Msg("Fetched access token.")
	return tok.AccessToken, nil
}

// Invalidate drops the cached token.
func (f *Fetcher) Invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = nil
}

func (f *Fetcher) valid() bool {
	if f.token == nil || f.token.AccessToken == "" {
		return false
	}
	if f.token.Expiry.IsZero() {
		return true
	}
	return f.now().Add(f.skew).Before(f.token.Expiry)
}
