package secret

import (
	"context"
	"errors"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

const providerVault = "vault"

type vaultReader interface {
	ReadWithContext(ctx context.Context, path string) (*vault.Secret, error)
}

type VaultConfig struct {
	Address   string
	Token     string
	Namespace string
}

// VaultResolver reads secret://vault/<path>/<field> (or ?field=) from Vault.
// Both KV v1 and KV v2 payloads are understood.
type VaultResolver struct {
	reader vaultReader
}

func NewVaultResolver(cfg VaultConfig) (*VaultResolver, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, errors.New("vault address is required")
	}

	client, err := vault.NewClient(&vault.Config{Address: cfg.Address})
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	return &VaultResolver{reader: client.Logical()}, nil
}

func (r *VaultResolver) Resolve(ctx context.Context, ref string) (string, error) {
	parsed, err := Parse(ref)
	if err != nil {
		return "", err
	}

	segments := parsed.Segments
	field := parsed.Param("field")
	if field == "" && len(segments) >= 2 {
		field, segments = segments[len(segments)-1], segments[:len(segments)-1]
	}

	path := strings.Join(segments, "/")
	if path == "" || field == "" {
		return "", fmt.Errorf("vault secret %q needs a path and a field", ref)
	}

	secret, err := r.reader.ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("read vault secret %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("vault secret %s not found", path)
	}

	data := secret.Data
	if nested, ok := data["data"].(map[string]any); ok {
		data = nested
	}
	value, ok := data[field]
	if !ok {
		return "", fmt.Errorf("vault secret %s missing field %s", path, field)
	}
	return fmt.Sprint(value), nil
}
