package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
)

const authorizedUserType = "authorized_user"

// Grant is a persisted OAuth grant in Google's authorized_user layout,
// so the file can also be read by other Google client libraries.
type Grant struct {
	Type         string    `json:"type"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	RefreshToken string    `json:"refresh_token"`
	AccessToken  string    `json:"token,omitempty"`
	Expiry       time.Time `json:"expiry,omitzero"`
	TokenURI     string    `json:"token_uri"`
	Scopes       []string  `json:"scopes,omitempty"`
}

// NewGrant captures conf and tok for persistence.
func NewGrant(conf *oauth2.Config, tok *oauth2.Token) *Grant {
	return &Grant{
		Type:         authorizedUserType,
		ClientID:     conf.ClientID,
		ClientSecret: conf.ClientSecret,
		RefreshToken: tok.RefreshToken,
		AccessToken:  tok.AccessToken,
		Expiry:       tok.Expiry,
		TokenURI:     conf.Endpoint.TokenURL,
		Scopes:       conf.Scopes,
	}
}

// Config rebuilds the OAuth client configuration. fallbackTokenURL is
// used for grants written without a token_uri.
func (g *Grant) Config(fallbackTokenURL string) *oauth2.Config {
	tokenURL := g.TokenURI
	if tokenURL == "" {
		tokenURL = fallbackTokenURL
	}
	scopes := g.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return &oauth2.Config{
		ClientID:     g.ClientID,
		ClientSecret: g.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: scopes,
	}
}

// Token returns the stored token. Its access token may be expired.
func (g *Grant) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  g.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: g.RefreshToken,
		Expiry:       g.Expiry,
	}
}

func (g *Grant) validate() error {
	if g.RefreshToken == "" && g.AccessToken == "" {
		return errors.New("grant has neither access nor refresh token")
	}
	return nil
}

func decodeGrant(data []byte) (*Grant, error) {
	var g Grant
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decoding grant: %w", err)
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// GrantStore persists a single grant.
type GrantStore interface {
	Load() (*Grant, error)
	Save(*Grant) error
	// Describe names the storage location for status output.
	Describe() string
}

// FileGrantStore keeps the grant in a JSON file readable only by the
// owner.
type FileGrantStore struct {
	path string
}

// NewFileGrantStore returns a store writing to path.
func NewFileGrantStore(path string) *FileGrantStore {
	return &FileGrantStore{path: path}
}

// Load reads the grant. A missing file yields ErrNoGrant.
func (s *FileGrantStore) Load() (*Grant, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoGrant
	}
	if err != nil {
		return nil, fmt.Errorf("reading grant file %s: %w", s.path, err)
	}
	return decodeGrant(data)
}

// Save overwrites the grant file atomically with mode 0600.
func (s *FileGrantStore) Save(g *Grant) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding grant: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".grant-*")
	if err != nil {
		return fmt.Errorf("creating grant file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting grant file mode: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing grant file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing grant file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing grant file %s: %w", s.path, err)
	}
	return nil
}

func (s *FileGrantStore) Describe() string { return "file " + s.path }

// KeyringGrantStore keeps the grant under GrantKey in the OS keyring.
type KeyringGrantStore struct {
	ring *Keyring
}

// NewKeyringGrantStore returns a store backed by ring.
func NewKeyringGrantStore(ring *Keyring) *KeyringGrantStore {
	return &KeyringGrantStore{ring: ring}
}

func (s *KeyringGrantStore) Load() (*Grant, error) {
	data, err := s.ring.Get(GrantKey)
	if errors.Is(err, ErrSecretNotFound) {
		return nil, ErrNoGrant
	}
	if err != nil {
		return nil, err
	}
	return decodeGrant([]byte(data))
}

func (s *KeyringGrantStore) Save(g *Grant) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encoding grant: %w", err)
	}
	return s.ring.Set(GrantKey, string(data))
}

func (s *KeyringGrantStore) Describe() string { return "keyring " + serviceName + "/" + GrantKey }
