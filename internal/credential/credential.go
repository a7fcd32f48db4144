// Package credential builds and refreshes the OAuth credential used to
// reach the mailbox.
package credential

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
)

// refreshTimeout bounds a single token endpoint round trip.
const refreshTimeout = 30 * time.Second

// DefaultScopes is the read-only Gmail scope.
var DefaultScopes = []string{gmailapi.GmailReadonlyScope}

// Credential is an OAuth client configuration with its current token.
type Credential struct {
	Config *oauth2.Config
	Token  *oauth2.Token
	// Strategy names the strategy that produced the credential.
	Strategy string

	// store, when set, receives every refreshed token.
	store GrantStore
	log   *zap.SugaredLogger
}

// TokenSource returns a source that refreshes the token when it expires.
// Refreshed tokens are written back to the grant store for credentials
// that came from one. ctx governs refresh requests, so it should live as
// long as the source.
func (c *Credential) TokenSource(ctx context.Context) oauth2.TokenSource {
	base := oauth2.ReuseTokenSource(c.Token, c.Config.TokenSource(ctx, c.Token))
	if c.store == nil {
		return base
	}
	return &persistingSource{
		base:  base,
		conf:  c.Config,
		store: c.store,
		last:  c.Token.AccessToken,
		log:   c.log,
	}
}

// Client returns an HTTP client that authorizes requests with the
// credential.
func (c *Credential) Client(ctx context.Context) *http.Client {
	return oauth2.NewClient(ctx, c.TokenSource(ctx))
}

// persistingSource saves the grant whenever the access token changes.
type persistingSource struct {
	base  oauth2.TokenSource
	conf  *oauth2.Config
	store GrantStore
	log   *zap.SugaredLogger

	mu   sync.Mutex
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := s.store.Save(NewGrant(s.conf, tok)); err != nil && s.log != nil {
			s.log.Warnw("Failed to persist refreshed grant", "store", s.store.Describe(), "error", err)
		}
	}
	return tok, nil
}

// refresh exchanges tok's refresh token for a fresh access token.
func refresh(ctx context.Context, conf *oauth2.Config, tok *oauth2.Token) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	expired := *tok
	expired.AccessToken = ""
	expired.Expiry = time.Time{}
	return conf.TokenSource(ctx, &expired).Token()
}
