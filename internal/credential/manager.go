package credential

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/nhle/mailwatch/internal/model"
)

// Manager resolves a Credential by trying its strategies in order.
type Manager struct {
	strategies []Strategy
	// interactive allows the chain to continue past rejected
	// environment credentials so a local grant can recover.
	interactive bool
	log         *zap.SugaredLogger
}

// NewManager returns a Manager over an explicit strategy chain.
func NewManager(strategies []Strategy, interactive bool, log *zap.SugaredLogger) *Manager {
	return &Manager{strategies: strategies, interactive: interactive, log: log}
}

// NewDefaultManager builds the environment, stored-grant and interactive
// chain from cfg.
func NewDefaultManager(cfg *model.AppConfig, store GrantStore, log *zap.SugaredLogger) *Manager {
	return NewManager([]Strategy{
		NewEnvStrategy(cfg.Google),
		NewStoredStrategy(store, cfg.Google.TokenURL, log),
		NewInteractiveStrategy(cfg.Auth.ClientSecretsFile, store, cfg.Auth.Interactive, log),
	}, cfg.Auth.Interactive, log)
}

// Obtain returns the first Credential any strategy yields. Failures are
// reported as *AuthError.
func (m *Manager) Obtain(ctx context.Context) (*Credential, error) {
	for _, s := range m.strategies {
		cred, err := s.Obtain(ctx)
		if err == nil {
			m.log.Infow("Credential obtained", "strategy", s.Name())
			return cred, nil
		}
		if errors.Is(err, ErrNotApplicable) {
			m.log.Debugw("Credential strategy not applicable", "strategy", s.Name())
			continue
		}

		if kind, ok := KindOf(err); ok && kind == EnvironmentCredentialsInvalid && m.interactive {
			m.log.Warnw("Environment credentials rejected, trying local grant", "error", err)
			continue
		}

		if !IsAuthError(err) {
			err = &AuthError{Kind: GrantFailed, Strategy: s.Name(), Err: err}
		}
		return nil, err
	}

	return nil, &AuthError{Kind: NoCredentialsAvailable}
}

// FieldStatus reports whether one credential setting is present.
type FieldStatus struct {
	Name string
	Set  bool
}

func (f FieldStatus) String() string {
	if f.Set {
		return f.Name + ": SET"
	}
	return f.Name + ": NOT SET"
}

// Diagnostics reports which environment credential fields are configured
// without revealing their values.
func Diagnostics(cfg model.GoogleConfig) []FieldStatus {
	return []FieldStatus{
		{Name: "GOOGLE_CLIENT_ID", Set: cfg.ClientID != ""},
		{Name: "GOOGLE_CLIENT_SECRET", Set: cfg.ClientSecret != ""},
		{Name: "GOOGLE_REFRESH_TOKEN", Set: cfg.RefreshToken != ""},
	}
}

// OpenGrantStore returns the grant store selected by cfg.
func OpenGrantStore(cfg model.AuthConfig) (GrantStore, error) {
	if cfg.TokenStore == "keyring" {
		ring, err := OpenKeyring()
		if err != nil {
			return nil, err
		}
		return NewKeyringGrantStore(ring), nil
	}
	return NewFileGrantStore(cfg.TokenFile), nil
}
