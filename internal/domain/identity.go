package domain

import (
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// Identity is the stable key correlating observations of one peripheral
// across scan cycles. It has no random or time-based component.
type Identity struct {
	Host   string `json:"host" yaml:"host"`
	Port   int    `json:"port" yaml:"port"`
	UnitID string `json:"unit_id,omitempty" yaml:"unit_id,omitempty"`
}

// Key returns the canonical string form used for table lookups,
// e.g. "192.168.1.10:502" or "192.168.1.10:502/100"
func (i Identity) Key() string {
	key := net.JoinHostPort(i.Host, strconv.Itoa(i.Port))
	if i.UnitID != "" {
		key += "/" + i.UnitID
	}
	return key
}

func (i Identity) String() string {
	return i.Key()
}

// Resolver maps observations to identities.
//
// By default the identity is (host, port) and the unit id is ordinary
// metadata, so a unit id change is an update. With IncludeUnitID set the
// unit id extends the identity and every unit behind a gateway is tracked
// as its own peripheral.
type Resolver struct {
	IncludeUnitID bool
}

// NewResolver creates a resolver
func NewResolver(includeUnitID bool) Resolver {
	return Resolver{IncludeUnitID: includeUnitID}
}

// Resolve computes the identity of an observation. Pure and deterministic.
func (r Resolver) Resolve(o Observation) Identity {
	id := Identity{
		Host: CanonicalHost(o.Host),
		Port: o.Port,
	}
	if r.IncludeUnitID {
		if unit, ok := o.UnitID(); ok {
			id.UnitID = canonicalUnitID(unit)
		}
	}
	return id
}

// CanonicalHost normalizes a host so equivalent spellings of one address
// compare equal (IPv4-mapped IPv6, case, surrounding space)
func CanonicalHost(host string) string {
	host = strings.TrimSpace(host)
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap().String()
	}
	return strings.ToLower(host)
}

func canonicalUnitID(unit string) string {
	unit = strings.TrimSpace(unit)
	digits, base := unit, 10
	if strings.HasPrefix(strings.ToLower(unit), "0x") {
		digits, base = unit[2:], 16
	}
	if n, err := strconv.ParseUint(digits, base, 8); err == nil {
		return strconv.FormatUint(n, 10)
	}
	return unit
}
