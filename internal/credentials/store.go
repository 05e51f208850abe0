package credentials

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"
	"github.com/rs/zerolog"
)

// Secret is one broker credential's key material. A credential is the
// unit bots share; its id is what the coordinator and capacity validator
// key their state on.
type Secret struct {
	CredentialID string `json:"credential_id"`
	APIKey       string `json:"api_key"`
	SecretKey    string `json:"secret_key"`
	Exchange     string `json:"exchange"`
	IsTestnet    bool   `json:"is_testnet"`
}

// Config holds Vault connection settings. With Enabled false the store
// keeps secrets in memory only, which is fine for development and tests.
type Config struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// Store keeps broker credential secrets in HashiCorp Vault with a
// read-through cache.
type Store struct {
	client *api.Client
	cfg    Config
	logger zerolog.Logger

	mu    sync.RWMutex
	cache map[string]*Secret
}

// NewStore creates a credential store. With Vault disabled it runs
// cache-only.
func NewStore(cfg Config, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		cfg:    cfg,
		logger: logger.With().Str("component", "CredentialStore").Logger(),
		cache:  make(map[string]*Secret),
	}
	if cfg.MountPath == "" {
		s.cfg.MountPath = "secret"
	}
	if !cfg.Enabled {
		s.logger.Info().Msg("Vault disabled, credential store is in-memory only")
		return s, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{CACert: cfg.CACert}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	s.client = client

	s.logger.Info().Str("address", cfg.Address).Msg("Vault credential store ready")
	return s, nil
}

func (s *Store) secretPath(credentialID string) string {
	return fmt.Sprintf("%s/data/credentials/%s", s.cfg.MountPath, credentialID)
}

func (s *Store) metadataPath(credentialID string) string {
	return fmt.Sprintf("%s/metadata/credentials/%s", s.cfg.MountPath, credentialID)
}

// Put stores a credential secret.
func (s *Store) Put(ctx context.Context, secret *Secret) error {
	if secret.CredentialID == "" {
		return fmt.Errorf("credential id is required")
	}

	if s.cfg.Enabled {
		payload := map[string]interface{}{
			"data": map[string]interface{}{
				"api_key":    secret.APIKey,
				"secret_key": secret.SecretKey,
				"exchange":   secret.Exchange,
				"is_testnet": secret.IsTestnet,
			},
		}
		if _, err := s.client.Logical().WriteWithContext(ctx, s.secretPath(secret.CredentialID), payload); err != nil {
			return fmt.Errorf("failed to store credential in vault: %w", err)
		}
	}

	s.mu.Lock()
	cp := *secret
	s.cache[secret.CredentialID] = &cp
	s.mu.Unlock()

	s.logger.Info().Str("credential_id", secret.CredentialID).Msg("Credential stored")
	return nil
}

// Get returns a credential secret, from cache when warm.
func (s *Store) Get(ctx context.Context, credentialID string) (*Secret, error) {
	s.mu.RLock()
	if cached, ok := s.cache[credentialID]; ok {
		cp := *cached
		s.mu.RUnlock()
		return &cp, nil
	}
	s.mu.RUnlock()

	if !s.cfg.Enabled {
		return nil, fmt.Errorf("credential %s not found and vault is disabled", credentialID)
	}

	vaultSecret, err := s.client.Logical().ReadWithContext(ctx, s.secretPath(credentialID))
	if err != nil {
		return nil, fmt.Errorf("failed to read credential from vault: %w", err)
	}
	if vaultSecret == nil || vaultSecret.Data == nil {
		return nil, fmt.Errorf("credential %s not found", credentialID)
	}

	data, ok := vaultSecret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format for credential %s", credentialID)
	}

	secret := &Secret{
		CredentialID: credentialID,
		APIKey:       getString(data, "api_key"),
		SecretKey:    getString(data, "secret_key"),
		Exchange:     getString(data, "exchange"),
		IsTestnet:    getBool(data, "is_testnet"),
	}

	s.mu.Lock()
	cp := *secret
	s.cache[credentialID] = &cp
	s.mu.Unlock()

	return secret, nil
}

// Delete removes a credential secret.
func (s *Store) Delete(ctx context.Context, credentialID string) error {
	s.mu.Lock()
	delete(s.cache, credentialID)
	s.mu.Unlock()

	if !s.cfg.Enabled {
		return nil
	}

	if _, err := s.client.Logical().DeleteWithContext(ctx, s.metadataPath(credentialID)); err != nil {
		return fmt.Errorf("failed to delete credential from vault: %w", err)
	}
	s.logger.Info().Str("credential_id", credentialID).Msg("Credential deleted")
	return nil
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getBool(data map[string]interface{}, key string) bool {
	if v, ok := data[key].(bool); ok {
		return v
	}
	return false
}
