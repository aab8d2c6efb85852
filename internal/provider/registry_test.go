package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/telespot/internal/search"
)

func TestNewRegistryCredentialFree(t *testing.T) {
	t.Parallel()

	r := NewRegistry(&recordingDoer{}, Credentials{}, Options{}, nil)
	require.Equal(t, []search.ProviderID{search.ProviderDuckDuckGo, search.ProviderBingHTML}, r.IDs())

	statuses := r.Statuses()
	require.Len(t, statuses, len(search.AllProviders))
	require.Equal(t, Status{ID: search.ProviderGoogle, Reason: "google_api_key and google_cse_id required"}, statuses[0])
	require.True(t, statuses[2].Configured)
}

func TestNewRegistryAllConfigured(t *testing.T) {
	t.Parallel()

	r := NewRegistry(&recordingDoer{}, Credentials{
		GoogleAPIKey: "g",
		GoogleCSEID:  "cx",
		BingAPIKey:   "b",
		Dehashed:     "me@example.com:key",
	}, Options{}, nil)
	require.Equal(t, search.AllProviders, r.IDs())
	for _, st := range r.Statuses() {
		require.True(t, st.Configured, st.ID)
		require.Empty(t, st.Reason)
	}
}

func TestNewRegistryMalformedDehashed(t *testing.T) {
	t.Parallel()

	r := NewRegistry(&recordingDoer{}, Credentials{Dehashed: "nocolon"}, Options{}, nil)
	_, ok := r.Get(search.ProviderDehashed)
	require.False(t, ok)
	require.Equal(t, ErrMalformedCredential.Error(), r.Statuses()[4].Reason)
}

func TestRegistryActive(t *testing.T) {
	t.Parallel()

	r := NewRegistry(&recordingDoer{}, Credentials{BingAPIKey: "b"}, Options{}, nil)
	require.Equal(t, map[search.ProviderID]bool{
		search.ProviderBing:       true,
		search.ProviderDuckDuckGo: true,
		search.ProviderBingHTML:   true,
	}, r.Active(nil))

	require.Equal(t, map[search.ProviderID]bool{
		search.ProviderDuckDuckGo: true,
	}, r.Active(map[search.ProviderID]bool{
		search.ProviderBing:     false,
		search.ProviderBingHTML: false,
		search.ProviderGoogle:   true,
	}))
}

func TestRegistryRegisterReplaces(t *testing.T) {
	t.Parallel()

	r := NewEmptyRegistry()
	r.Register(search.ProviderFunc{Name: search.ProviderGoogle, Fn: func(context.Context, search.Query) []search.Record {
		return []search.Record{{Title: "stub"}}
	}})
	p, ok := r.Get(search.ProviderGoogle)
	require.True(t, ok)
	require.Len(t, p.Fetch(context.Background(), testQuery), 1)
	require.True(t, r.Statuses()[0].Configured)
}
