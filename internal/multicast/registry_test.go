package multicast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/meshrouter/pkg/address"
)

type recordingSkeleton struct {
	registered   []string
	unregistered []string
}

func (s *recordingSkeleton) RegisterMulticastSubscription(id string) {
	s.registered = append(s.registered, id)
}

func (s *recordingSkeleton) UnregisterMulticastSubscription(id string) {
	s.unregistered = append(s.unregistered, id)
}

type skeletonMap map[address.Address]any

func (m skeletonMap) SkeletonFor(addr address.Address) (any, bool) {
	s, ok := m[addr]
	return s, ok
}

func lookupFrom(table map[string]address.Address) func(string) (address.Address, bool) {
	return func(id string) (address.Address, bool) {
		a, ok := table[id]
		return a, ok
	}
}

func TestPatternExpression(t *testing.T) {
	testCases := []struct {
		id      string
		matches []string
		misses  []string
	}{
		{
			id:      "prov/weather",
			matches: []string{"prov/weather"},
			misses:  []string{"prov/weather/eu", "prov/weatherX", "xprov/weather"},
		},
		{
			id:      "prov/weather/+/temp",
			matches: []string{"prov/weather/eu/temp", "prov/weather/us/temp"},
			misses:  []string{"prov/weather/temp", "prov/weather/eu/de/temp"},
		},
		{
			id:      "prov/weather/eu/*",
			matches: []string{"prov/weather/eu", "prov/weather/eu/de", "prov/weather/eu/de/berlin"},
			misses:  []string{"prov/weather/us", "prov/weather/europe"},
		},
		{
			id:      "prov.v1/a+b",
			matches: []string{"prov.v1/a+b"},
			misses:  []string{"provXv1/a+b", "prov.v1/aab"},
		},
	}

	c := newPatternCompiler(16)
	for _, tc := range testCases {
		t.Run(tc.id, func(t *testing.T) {
			re, err := c.Compile(tc.id)
			require.NoError(t, err)
			for _, m := range tc.matches {
				assert.True(t, re.MatchString(m), "expected %q to match", m)
			}
			for _, m := range tc.misses {
				assert.False(t, re.MatchString(m), "expected %q not to match", m)
			}
		})
	}
}

func TestPatternExpression_Invalid(t *testing.T) {
	c := newPatternCompiler(16)
	for _, id := range []string{"", "prov", "prov/", "/name", "prov/*/x", "prov/name/*/x", "prov/name//x", "+/name"} {
		_, err := c.Compile(id)
		assert.ErrorIs(t, err, ErrInvalidMulticastID, id)
	}
}

func TestRegistry_NotifiesSkeletonOnFirstAndLastReceiver(t *testing.T) {
	providerAddr := address.InProcessAddress{Name: "provider-skeleton"}
	skeleton := &recordingSkeleton{}
	r := NewRegistry(skeletonMap{providerAddr: skeleton}, nil)

	require.NoError(t, r.AddReceiver("prov/news", "sub-1", providerAddr))
	require.NoError(t, r.AddReceiver("prov/news", "sub-2", providerAddr))
	assert.Equal(t, []string{"prov/news"}, skeleton.registered)
	assert.True(t, r.HasAnyReceivers())

	r.RemoveReceiver("prov/news", "sub-1", providerAddr)
	assert.Empty(t, skeleton.unregistered)

	r.RemoveReceiver("prov/news", "sub-2", providerAddr)
	assert.Equal(t, []string{"prov/news"}, skeleton.unregistered)
	assert.False(t, r.HasAnyReceivers())
}

func TestRegistry_SkeletonWithoutSubscriptionSupport(t *testing.T) {
	providerAddr := address.WebSocketClientAddress{ID: "c1"}
	r := NewRegistry(skeletonMap{providerAddr: struct{}{}}, nil)

	assert.NoError(t, r.AddReceiver("prov/news", "sub-1", providerAddr))
	r.RemoveReceiver("prov/news", "sub-1", providerAddr)
	assert.NoError(t, r.AddReceiver("prov/news", "sub-1", nil))
}

func TestRegistry_MatchReceiversDeduplicatesByAddress(t *testing.T) {
	r := NewRegistry(nil, nil)
	shared := address.WebSocketClientAddress{ID: "leaf"}
	table := map[string]address.Address{
		"sub-1": shared,
		"sub-2": shared,
		"sub-3": address.WebSocketClientAddress{ID: "other"},
	}

	require.NoError(t, r.AddReceiver("prov/weather/+", "sub-1", nil))
	require.NoError(t, r.AddReceiver("prov/weather/*", "sub-1", nil))
	require.NoError(t, r.AddReceiver("prov/weather/*", "sub-2", nil))
	require.NoError(t, r.AddReceiver("prov/weather/eu", "sub-3", nil))
	require.NoError(t, r.AddReceiver("prov/weather/us", "sub-unknown", nil))

	deliveries := r.MatchReceivers("prov/weather/eu", lookupFrom(table))

	require.Len(t, deliveries, 2)
	assert.Equal(t, "sub-1", deliveries[0].ParticipantID)
	assert.True(t, address.Equal(shared, deliveries[0].Address))
	assert.Equal(t, "sub-3", deliveries[1].ParticipantID)
}

func TestRegistry_RemoveUnknownIsNoop(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.RemoveReceiver("prov/news", "sub-1", nil)
	assert.False(t, r.HasAnyReceivers())
}

func TestRegistry_PatternsSnapshot(t *testing.T) {
	r := NewRegistry(nil, nil)
	require.NoError(t, r.AddReceiver("prov/a", "s1", nil))
	require.NoError(t, r.AddReceiver("prov/b", "s2", nil))
	require.NoError(t, r.AddReceiver("prov/a", "s3", nil))

	patterns := r.Patterns()
	require.Len(t, patterns, 2)
	assert.Equal(t, Pattern{MulticastID: "prov/a", Receivers: []string{"s1", "s3"}}, patterns[0])
	assert.Equal(t, "prov/b", patterns[1].MulticastID)

	patterns[0].Receivers[0] = "mutated"
	assert.Equal(t, "s1", r.Patterns()[0].Receivers[0])
}

func TestRegistry_InvalidIDIsRejected(t *testing.T) {
	r := NewRegistry(nil, nil)
	err := r.AddReceiver("no-slash", "s1", nil)
	assert.ErrorIs(t, err, ErrInvalidMulticastID)
	assert.False(t, r.HasAnyReceivers())
}
