package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/share-recovery-backend/interfaces"
)

// VaultOptions configure how the backend authenticates to Vault.
type VaultOptions struct {
	// Token is sent as X-Vault-Token. The client falls back to VAULT_TOKEN.
	Token string
	// CACert is a PEM file used to verify the Vault server.
	CACert  string
	Timeout time.Duration
}

// VaultBackend keeps archived content as KV v2 secrets named
// [dataPath/]<type>s/<id> in mount. The bytes are stored base64 encoded
// under the "content" key.
type VaultBackend struct {
	kv          *api.KVv2
	sys         *api.Sys
	mount       string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

func NewVaultBackend(address, mount, dataPath string, opts VaultOptions, log *slog.Logger) (*VaultBackend, error) {
	cfg := api.DefaultConfig()
	if cfg.Error != nil {
		return nil, fmt.Errorf("vault config: %w", cfg.Error)
	}
	cfg.Address = address
	if opts.Timeout > 0 {
		cfg.Timeout = opts.Timeout
	}
	if opts.CACert != "" {
		if err := cfg.ConfigureTLS(&api.TLSConfig{CACert: opts.CACert}); err != nil {
			return nil, fmt.Errorf("vault tls: %w", err)
		}
	}

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client: %w", err)
	}
	if opts.Token != "" {
		client.SetToken(opts.Token)
	}

	mount = strings.Trim(mount, "/")
	dataPath = strings.Trim(dataPath, "/")
	host := strings.TrimPrefix(strings.TrimPrefix(address, "https://"), "http://")

	return &VaultBackend{
		kv:          client.KVv2(mount),
		sys:         client.Sys(),
		mount:       mount,
		dataPath:    dataPath,
		log:         log.With("backend", "vault", "mount", mount),
		locationURI: "vault://" + path.Join(host, mount, dataPath),
	}, nil
}

func (b *VaultBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	name := b.secretName(id, contentType)
	secret, err := b.kv.Get(ctx, name)
	switch {
	case errors.Is(err, api.ErrSecretNotFound):
		return nil, interfaces.ErrContentNotFound
	case err != nil:
		b.log.Warn("vault read failed", "secret", name, "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	encoded, ok := secret.Data["content"].(string)
	if !ok {
		return nil, fmt.Errorf("vault secret %s has no content", name)
	}
	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("vault secret %s: %w", name, err)
	}
	return content, nil
}

func (b *VaultBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)
	name := b.secretName(id, contentType)

	_, err := b.kv.Put(ctx, name, map[string]any{
		"content": base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		b.log.Warn("vault write failed", "secret", name, "err", err)
		return id, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	b.log.Debug("archived secret", "secret", name, "size", len(data))
	return id, nil
}

// Available reports whether Vault is initialized and unsealed.
func (b *VaultBackend) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := b.sys.HealthWithContext(ctx)
	if err != nil {
		b.log.Debug("vault health check failed", "err", err)
		return false
	}
	return health.Initialized && !health.Sealed
}

func (b *VaultBackend) Name() string { return "vault-" + path.Join(b.mount, b.dataPath) }

func (b *VaultBackend) LocationURI() string { return b.locationURI }

func (b *VaultBackend) secretName(id interfaces.ContentID, contentType interfaces.ContentType) string {
	return path.Join(b.dataPath, contentType.String()+"s", id.String())
}
