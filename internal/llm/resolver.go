package llm

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/andyfreed/kiddos/internal/requestctx"
)

// KeySource looks up a stored per-user credential. The secrets vault
// satisfies this.
type KeySource interface {
	Get(ctx context.Context, userID, name string) ([]byte, error)
}

// vaultKeyName is the vault slot holding a user's personal OpenAI key.
const vaultKeyName = "openai-api-key"

// Resolver picks the API key for a user: their vaulted personal key if
// present, otherwise the operator-level key from configuration.
type Resolver struct {
	vault       KeySource
	fallbackKey string
	baseURL     string
}

// NewResolver builds a resolver. vault may be nil, in which case only
// the operator key is used.
func NewResolver(vault KeySource, fallbackKey, baseURL string) *Resolver {
	return &Resolver{vault: vault, fallbackKey: fallbackKey, baseURL: baseURL}
}

// ProviderFor returns a provider authenticated for the given user.
func (r *Resolver) ProviderFor(ctx context.Context, userID string) (Provider, error) {
	if r.vault != nil && userID != "" {
		key, err := r.vault.Get(ctx, userID, vaultKeyName)
		if err == nil && len(key) > 0 {
			return r.newProvider(string(key)), nil
		}
		if err != nil {
			log.Debug().Err(err).Msg("vault_key_lookup_failed")
		}
	}
	if r.fallbackKey == "" {
		return nil, ErrMissingAPIKey
	}
	return r.newProvider(r.fallbackKey), nil
}

func (r *Resolver) newProvider(key string) Provider {
	if r.baseURL != "" {
		return NewOpenAIProviderWithBaseURL(key, r.baseURL)
	}
	return NewOpenAIProvider(key)
}

// ResolvingProvider defers key resolution to call time using the
// authenticated user carried in the request context. It lets the
// orchestrator and extractor hold one Provider while each user's calls
// still use their own credential.
type ResolvingProvider struct {
	resolver *Resolver
}

// NewResolvingProvider wraps a resolver as a Provider.
func NewResolvingProvider(resolver *Resolver) *ResolvingProvider {
	return &ResolvingProvider{resolver: resolver}
}

// Name implements Provider.
func (p *ResolvingProvider) Name() string { return "openai" }

// Generate resolves the caller's provider and delegates.
func (p *ResolvingProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	userID := requestctx.UserID(ctx)
	provider, err := p.resolver.ProviderFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return provider.Generate(ctx, req)
}
