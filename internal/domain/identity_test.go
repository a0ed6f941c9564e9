package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolverResolve(t *testing.T) {
	tests := []struct {
		name          string
		includeUnitID bool
		obs           Observation
		wantKey       string
	}{
		{
			name:    "host and port",
			obs:     NewObservation("192.168.1.10", 502, nil),
			wantKey: "192.168.1.10:502",
		},
		{
			name:    "unit id ignored by default",
			obs:     NewObservation("192.168.1.10", 502, map[string]string{MetaUnitID: "100"}),
			wantKey: "192.168.1.10:502",
		},
		{
			name:          "unit id extends identity when enabled",
			includeUnitID: true,
			obs:           NewObservation("192.168.1.10", 502, map[string]string{MetaUnitID: "100"}),
			wantKey:       "192.168.1.10:502/100",
		},
		{
			name:          "hex unit id normalized",
			includeUnitID: true,
			obs:           NewObservation("192.168.1.10", 502, map[string]string{MetaUnitID: "0x64"}),
			wantKey:       "192.168.1.10:502/100",
		},
		{
			name:          "missing unit id with enabled option",
			includeUnitID: true,
			obs:           NewObservation("192.168.1.10", 502, nil),
			wantKey:       "192.168.1.10:502",
		},
		{
			name:    "ipv4 mapped ipv6 collapses to ipv4",
			obs:     NewObservation("::ffff:192.168.1.10", 502, nil),
			wantKey: "192.168.1.10:502",
		},
		{
			name:    "ipv6 is bracketed",
			obs:     NewObservation("fe80::1", 1502, nil),
			wantKey: "[fe80::1]:1502",
		},
		{
			name:    "hostname lowercased",
			obs:     NewObservation(" PLC-1.Local ", 502, nil),
			wantKey: "plc-1.local:502",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.includeUnitID)
			assert.Equal(t, tt.wantKey, r.Resolve(tt.obs).Key())
		})
	}
}

func TestResolverIsStable(t *testing.T) {
	r := NewResolver(false)
	a := NewObservation("10.0.0.5", 502, map[string]string{MetaVendor: "Schneider Electric"})
	b := NewObservation("10.0.0.5", 502, map[string]string{MetaVendor: "Other"})

	assert.Equal(t, r.Resolve(a), r.Resolve(b), "same host:port resolves to one identity")
	assert.Equal(t, r.Resolve(a), r.Resolve(a))

	c := NewObservation("10.0.0.6", 502, nil)
	assert.NotEqual(t, r.Resolve(a), r.Resolve(c), "distinct hosts collided")
}

func TestObservationValidate(t *testing.T) {
	require.NoError(t, NewObservation("10.0.0.1", 502, nil).Validate())
	assert.Error(t, NewObservation("", 502, nil).Validate(), "empty host")
	assert.Error(t, NewObservation("10.0.0.1", 0, nil).Validate(), "port 0")
	assert.Error(t, NewObservation("10.0.0.1", 70000, nil).Validate(), "port out of range")
}

func TestNewObservationCopiesMetadata(t *testing.T) {
	md := map[string]string{MetaVendor: "a"}
	obs := NewObservation("10.0.0.1", 502, md)
	md[MetaVendor] = "b"

	assert.Equal(t, "a", obs.Metadata[MetaVendor], "observation metadata changed with caller map")
}
