package domain

import "time"

// KnownPeripheral is an entry of the reconciliation table: a peripheral
// believed to exist, with its registry record once confirmed
type KnownPeripheral struct {
	Identity     Identity          `json:"identity" yaml:"identity"`
	RemoteID     string            `json:"remote_id,omitempty" yaml:"remote_id,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	LastSeenAt   time.Time         `json:"last_seen_at" yaml:"last_seen_at"`
	MissedCycles int               `json:"missed_cycles" yaml:"missed_cycles"`

	// Pending is set between emitting a Create and learning its result
	Pending bool `json:"pending,omitempty" yaml:"pending,omitempty"`
}

// Registered reports whether the registry has confirmed a record for this peripheral
func (k *KnownPeripheral) Registered() bool {
	return !k.Pending && k.RemoteID != ""
}

// Clone returns a deep copy
func (k *KnownPeripheral) Clone() KnownPeripheral {
	c := *k
	c.Metadata = CloneMetadata(k.Metadata)
	return c
}
