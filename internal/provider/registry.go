package provider

import (
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/telespot/internal/search"
)

// Status describes whether a provider can be used.
type Status struct {
	ID         search.ProviderID `json:"id"`
	Configured bool              `json:"configured"`
	Reason     string            `json:"reason,omitempty"`
}

// Registry maps provider IDs to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[search.ProviderID]search.Provider
	reasons  map[search.ProviderID]string
}

// NewEmptyRegistry returns a registry with no adapters.
func NewEmptyRegistry() *Registry {
	return &Registry{
		adapters: make(map[search.ProviderID]search.Provider),
		reasons:  make(map[search.ProviderID]string),
	}
}

// NewRegistry registers every adapter whose credentials are present.
// Credential-free adapters are always registered.
func NewRegistry(doer Doer, creds Credentials, opts Options, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	ep := opts.Endpoints
	r := NewEmptyRegistry()

	if creds.GoogleAPIKey != "" && creds.GoogleCSEID != "" {
		r.Register(NewGoogle(doer, ep.Google, creds.GoogleAPIKey, creds.GoogleCSEID, logger))
	} else {
		r.unavailable(search.ProviderGoogle, "google_api_key and google_cse_id required")
	}

	if creds.BingAPIKey != "" {
		r.Register(NewBing(doer, ep.Bing, creds.BingAPIKey, logger))
	} else {
		r.unavailable(search.ProviderBing, "bing_api_key required")
	}

	r.Register(NewDuckDuckGo(doer, ep.DuckDuckGo, ep.DuckDuckGoHTML, opts.FallbackThreshold, logger))
	r.Register(NewBingHTML(doer, ep.BingHTML, logger))

	if creds.Dehashed == "" {
		r.unavailable(search.ProviderDehashed, "dehashed_api_key required")
	} else if dehashed, err := NewDehashed(doer, ep.Dehashed, creds.Dehashed, opts.MaxBreachResults, logger); err != nil {
		logger.Warn("dehashed disabled", zap.Error(err))
		r.unavailable(search.ProviderDehashed, err.Error())
	} else {
		r.Register(dehashed)
	}
	return r
}

// Register adds or replaces an adapter.
func (r *Registry) Register(p search.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[p.ID()] = p
	delete(r.reasons, p.ID())
}

func (r *Registry) unavailable(id search.ProviderID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons[id] = reason
}

// Get returns the adapter for id.
func (r *Registry) Get(id search.ProviderID) (search.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.adapters[id]
	return p, ok
}

// IDs lists registered providers in planning order.
func (r *Registry) IDs() []search.ProviderID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]search.ProviderID, 0, len(r.adapters))
	for _, id := range search.AllProviders {
		if _, ok := r.adapters[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Active returns the registered providers that enabled does not switch off.
// A nil enabled map leaves every registered provider on.
func (r *Registry) Active(enabled map[search.ProviderID]bool) map[search.ProviderID]bool {
	out := make(map[search.ProviderID]bool)
	for _, id := range r.IDs() {
		if on, set := enabled[id]; set && !on {
			continue
		}
		out[id] = true
	}
	return out
}

// Statuses reports every known provider in planning order.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(search.AllProviders))
	for _, id := range search.AllProviders {
		_, ok := r.adapters[id]
		out = append(out, Status{ID: id, Configured: ok, Reason: r.reasons[id]})
	}
	return out
}
