package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/elisfeed/internal/domain/record"
)

// ProviderLookup resolves providers by UUID.
type ProviderLookup interface {
	ProviderByID(ctx context.Context, id uuid.UUID) (*record.Provider, error)
}

// providerResolver attributes results to providers for one accession. A blank
// or unknown identifier resolves to the lab-system provider. Resolutions are
// memoized by identifier.
type providerResolver struct {
	lookup   ProviderLookup
	fallback *record.Provider
	cache    map[string]*record.Provider
}

func newProviderResolver(lookup ProviderLookup, fallback *record.Provider) *providerResolver {
	return &providerResolver{
		lookup:   lookup,
		fallback: fallback,
		cache:    make(map[string]*record.Provider),
	}
}

func (r *providerResolver) resolve(ctx context.Context, identifier string) (*record.Provider, error) {
	key := strings.TrimSpace(identifier)
	if p, ok := r.cache[key]; ok {
		return p, nil
	}
	p, err := r.lookupProvider(ctx, key)
	if err != nil {
		return nil, err
	}
	r.cache[key] = p
	return p, nil
}

func (r *providerResolver) lookupProvider(ctx context.Context, key string) (*record.Provider, error) {
	if key == "" {
		return r.fallback, nil
	}
	id, err := uuid.Parse(key)
	if err != nil {
		return r.fallback, nil
	}
	p, err := r.lookup.ProviderByID(ctx, id)
	if errors.Is(err, record.ErrNotFound) {
		return r.fallback, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup provider %s: %w", key, err)
	}
	return p, nil
}
