package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"classifieds-messaging/backend/pkg/cache"
	"classifieds-messaging/backend/pkg/config"
	"classifieds-messaging/backend/pkg/logger"

	vault "github.com/hashicorp/vault/api"
)

// VaultManager reads secrets from a KV v2 engine. With Vault disabled it
// only consults the environment.
type VaultManager struct {
	client *vault.Client
	mount  string
	path   string
	cache  *cache.Cache[string]
	log    *logger.Logger
}

// NewVaultManager creates a new Vault manager instance
func NewVaultManager(cfg *config.Config, log *logger.Logger) (*VaultManager, error) {
	if log == nil {
		log = logger.GetGlobal()
	}
	ttl := cfg.Vault.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	m := &VaultManager{
		mount: cfg.Vault.Mount,
		path:  cfg.Vault.SecretsPath,
		cache: cache.New[string](cache.Options{TTL: ttl, CleanupInterval: ttl}),
		log:   log,
	}
	if !cfg.Vault.Enabled {
		return m, nil
	}

	if cfg.Vault.Address == "" {
		return nil, ErrNoVaultAddress
	}
	if cfg.Vault.Token == "" {
		return nil, ErrNoVaultToken
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Vault.Address
	vaultConfig.Timeout = 10 * time.Second
	vaultConfig.MaxRetries = 3

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Vault.Token)
	if cfg.Vault.Namespace != "" {
		client.SetNamespace(cfg.Vault.Namespace)
	}

	m.client = client
	return m, nil
}

// GetSecret retrieves a secret from Vault, with fallback to environment variable
func (m *VaultManager) GetSecret(ctx context.Context, key string) (string, error) {
	if value, ok := m.cache.Get(key); ok {
		return value, nil
	}

	if m.client == nil {
		return m.getFromEnvironment(key)
	}

	value, err := m.getFromVault(ctx, key)
	if errors.Is(err, ErrSecretNotFound) {
		m.log.Warn("Secret not found in Vault, falling back to environment", "key", key)
		return m.getFromEnvironment(key)
	}
	if err != nil {
		return "", err
	}

	m.cache.Set(key, value)
	return value, nil
}

// GetSecretWithDefault retrieves a secret with a default value if not found
func (m *VaultManager) GetSecretWithDefault(ctx context.Context, key, defaultValue string) string {
	value, err := m.GetSecret(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrSecretNotFound) {
			m.log.Warn("Failed to get secret, using default value", "key", key, "error", err.Error())
		}
		return defaultValue
	}
	return value
}

// Close stops the cache janitor
func (m *VaultManager) Close() {
	m.cache.Close()
}

func (m *VaultManager) getFromVault(ctx context.Context, key string) (string, error) {
	secret, err := m.client.KVv2(m.mount).Get(ctx, m.path)
	if errors.Is(err, vault.ErrSecretNotFound) {
		return "", ErrSecretNotFound
	}
	if err != nil {
		m.log.Error("Failed to read secret from Vault", "path", m.path, "error", err.Error())
		return "", fmt.Errorf("failed to read secret: %w", err)
	}

	value, ok := secret.Data[key].(string)
	if !ok {
		return "", ErrSecretNotFound
	}
	return value, nil
}

// getFromEnvironment maps jwt_secret or jwt-secret to JWT_SECRET
func (m *VaultManager) getFromEnvironment(key string) (string, error) {
	envKey := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))

	value := os.Getenv(envKey)
	if value == "" {
		return "", ErrSecretNotFound
	}

	m.cache.Set(key, value)
	return value, nil
}
