package secret

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/opsdesk/opsdesk/pkg/env"
)

// Resolver turns a secret reference into its value.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Registry dispatches references to the resolver registered for their provider.
type Registry struct {
	providers map[string]Resolver
}

func NewRegistry() *Registry {
	return &Registry{providers: map[string]Resolver{}}
}

// Register associates one or more provider names with a resolver.
func (r *Registry) Register(resolver Resolver, names ...string) {
	for _, name := range names {
		r.providers[strings.ToLower(strings.TrimSpace(name))] = resolver
	}
}

// Providers returns the sorted provider names.
func (r *Registry) Providers() []string {
	keys := make([]string, 0, len(r.providers))
	for k := range r.providers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Registry) Resolve(ctx context.Context, ref string) (string, error) {
	if strings.TrimSpace(ref) == "" {
		return "", errors.New("secret reference is empty")
	}

	parsed, err := Parse(ref)
	if err != nil {
		return "", err
	}

	resolver, ok := r.providers[parsed.Provider]
	if !ok {
		return "", fmt.Errorf("secret provider %q not configured", parsed.Provider)
	}
	return resolver.Resolve(ctx, ref)
}

// Value resolves value when it is a secret reference and returns it
// unchanged otherwise.
func Value(ctx context.Context, r Resolver, value string) (string, error) {
	if !IsReference(value) {
		return value, nil
	}
	if r == nil {
		return "", errors.New("secret resolver is not configured")
	}
	return r.Resolve(ctx, value)
}

// FromEnv builds a Registry with the providers listed in
// OPSDESK_SECRET_PROVIDERS (comma separated: env, file, vault, k8s).
func FromEnv(vars env.Environment) (*Registry, error) {
	registry := NewRegistry()

	for _, name := range strings.Split(vars.SecretProviders, ",") {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "":
		case providerEnv:
			registry.Register(EnvResolver{}, providerEnv)
		case providerFile:
			registry.Register(FileResolver{}, providerFile)
		case providerVault:
			resolver, err := NewVaultResolver(VaultConfig{
				Address:   vars.VaultAddress,
				Token:     vars.VaultToken,
				Namespace: vars.VaultNamespace,
			})
			if err != nil {
				return nil, err
			}
			registry.Register(resolver, providerVault)
		case providerKubernetes, "kubernetes":
			registry.Register(NewKubernetesResolver(vars.KubernetesConfig, vars.KubernetesNamespace), providerKubernetes, "kubernetes")
		default:
			return nil, fmt.Errorf("unknown secret provider %q", name)
		}
	}

	return registry, nil
}
