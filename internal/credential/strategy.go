package credential

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/nhle/mailwatch/internal/model"
)

// Strategy is one way of producing a Credential. It returns
// ErrNotApplicable when it has nothing to offer.
type Strategy interface {
	Name() string
	Obtain(ctx context.Context) (*Credential, error)
}

// EnvStrategy builds a credential from a pre-provisioned client id,
// secret and refresh token, and verifies it with an immediate refresh.
type EnvStrategy struct {
	cfg model.GoogleConfig
}

// NewEnvStrategy returns the environment strategy for cfg.
func NewEnvStrategy(cfg model.GoogleConfig) *EnvStrategy {
	return &EnvStrategy{cfg: cfg}
}

func (s *EnvStrategy) Name() string { return "environment" }

func (s *EnvStrategy) Obtain(ctx context.Context) (*Credential, error) {
	if s.cfg.ClientID == "" || s.cfg.ClientSecret == "" || s.cfg.RefreshToken == "" {
		return nil, ErrNotApplicable
	}

	conf := &oauth2.Config{
		ClientID:     s.cfg.ClientID,
		ClientSecret: s.cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   google.Endpoint.AuthURL,
			TokenURL:  s.cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: DefaultScopes,
	}
	if conf.Endpoint.TokenURL == "" {
		conf.Endpoint.TokenURL = google.Endpoint.TokenURL
	}

	tok, err := refresh(ctx, conf, &oauth2.Token{RefreshToken: s.cfg.RefreshToken})
	if err != nil {
		return nil, &AuthError{Kind: EnvironmentCredentialsInvalid, Strategy: s.Name(), Err: err}
	}

	return &Credential{Config: conf, Token: tok, Strategy: s.Name()}, nil
}

// StoredStrategy loads a previously persisted grant, refreshing and
// re-saving it when its access token has expired.
type StoredStrategy struct {
	store    GrantStore
	tokenURL string
	log      *zap.SugaredLogger
}

// NewStoredStrategy returns the stored-grant strategy.
func NewStoredStrategy(store GrantStore, tokenURL string, log *zap.SugaredLogger) *StoredStrategy {
	return &StoredStrategy{store: store, tokenURL: tokenURL, log: log}
}

func (s *StoredStrategy) Name() string { return "stored-grant" }

func (s *StoredStrategy) Obtain(ctx context.Context) (*Credential, error) {
	grant, err := s.store.Load()
	if errors.Is(err, ErrNoGrant) {
		return nil, ErrNotApplicable
	}
	if err != nil {
		s.log.Warnw("Stored grant unreadable", "store", s.store.Describe(), "error", err)
		return nil, ErrNotApplicable
	}

	conf := grant.Config(s.tokenURL)
	tok := grant.Token()

	if !tok.Valid() {
		if tok.RefreshToken == "" {
			s.log.Warnw("Stored grant expired and has no refresh token", "store", s.store.Describe())
			return nil, ErrNotApplicable
		}
		tok, err = refresh(ctx, conf, tok)
		if err != nil {
			s.log.Warnw("Stored grant could not be refreshed", "store", s.store.Describe(), "error", err)
			return nil, ErrNotApplicable
		}
		if err := s.store.Save(NewGrant(conf, tok)); err != nil {
			s.log.Warnw("Failed to persist refreshed grant", "store", s.store.Describe(), "error", err)
		}
	}

	return &Credential{
		Config:   conf,
		Token:    tok,
		Strategy: s.Name(),
		store:    s.store,
		log:      s.log,
	}, nil
}

// InteractiveStrategy runs the authorization-code flow. The consent URL
// is printed to Out, and the browser redirects back to a loopback
// listener on 127.0.0.1.
type InteractiveStrategy struct {
	secretsFile string
	store       GrantStore
	enabled     bool
	log         *zap.SugaredLogger

	// Out receives the consent URL.
	Out io.Writer
	// Open, when set, is called with the consent URL, e.g. to launch a
	// browser.
	Open func(url string) error
}

// NewInteractiveStrategy returns the interactive strategy. It is not
// applicable unless enabled.
func NewInteractiveStrategy(secretsFile string, store GrantStore, enabled bool, log *zap.SugaredLogger) *InteractiveStrategy {
	return &InteractiveStrategy{
		secretsFile: secretsFile,
		store:       store,
		enabled:     enabled,
		log:         log,
		Out:         os.Stdout,
	}
}

func (s *InteractiveStrategy) Name() string { return "interactive" }

func (s *InteractiveStrategy) Obtain(ctx context.Context) (*Credential, error) {
	if !s.enabled {
		return nil, ErrNotApplicable
	}

	secrets, err := os.ReadFile(s.secretsFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotApplicable
	}
	if err != nil {
		return nil, s.fail(fmt.Errorf("reading client secrets %s: %w", s.secretsFile, err))
	}

	conf, err := google.ConfigFromJSON(secrets, DefaultScopes...)
	if err != nil {
		return nil, s.fail(fmt.Errorf("parsing client secrets: %w", err))
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, s.fail(fmt.Errorf("starting loopback listener: %w", err))
	}
	conf.RedirectURL = "http://" + listener.Addr().String() + "/"

	state := uuid.NewString()
	codes := make(chan string, 1)
	errs := make(chan error, 1)

	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("state") != state:
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		case q.Get("error") != "":
			http.Error(w, "authorization denied", http.StatusBadRequest)
			select {
			case errs <- fmt.Errorf("authorization denied: %s", q.Get("error")):
			default:
			}
			return
		case q.Get("code") == "":
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, "Authorization complete. You can close this window.\n")
		select {
		case codes <- q.Get("code"):
		default:
		}
	})}
	go func() { _ = srv.Serve(listener) }()
	defer srv.Close()

	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(s.Out, "Open the following link in your browser to authorize mailbox access:\n%s\n", authURL)
	if s.Open != nil {
		if err := s.Open(authURL); err != nil {
			s.log.Warnw("Could not open browser", "error", err)
		}
	}

	var code string
	select {
	case code = <-codes:
	case err := <-errs:
		return nil, s.fail(err)
	case <-ctx.Done():
		return nil, s.fail(ctx.Err())
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()
	tok, err := conf.Exchange(exchangeCtx, code)
	if err != nil {
		return nil, s.fail(fmt.Errorf("exchanging authorization code: %w", err))
	}

	if err := s.store.Save(NewGrant(conf, tok)); err != nil {
		return nil, s.fail(fmt.Errorf("saving grant: %w", err))
	}
	s.log.Infow("Authorization grant saved", "store", s.store.Describe())

	return &Credential{
		Config:   conf,
		Token:    tok,
		Strategy: s.Name(),
		store:    s.store,
		log:      s.log,
	}, nil
}

func (s *InteractiveStrategy) fail(err error) error {
	return &AuthError{Kind: GrantFailed, Strategy: s.Name(), Err: err}
}
