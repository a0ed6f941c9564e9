package domain

import (
	"fmt"
	"net"
	"strconv"
)

// Metadata keys produced by the output parser and sent to the registry
const (
	MetaUnitID    = "unit_id"
	MetaClasses   = "classes"
	MetaVendor    = "vendor"
	MetaInterface = "interface"
	MetaService   = "service"
	MetaName      = "name"
	MetaAvailable = "available"
	MetaHostname  = "hostname"
)

// Observation is a single Modbus-TCP endpoint reported by one discovery probe.
// It is only valid for the cycle that produced it.
type Observation struct {
	Host     string            `json:"host" yaml:"host"`
	Port     int               `json:"port" yaml:"port"`
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// NewObservation creates an observation holding its own copy of metadata
func NewObservation(host string, port int, metadata map[string]string) Observation {
	return Observation{
		Host:     host,
		Port:     port,
		Metadata: CloneMetadata(metadata),
	}
}

// Address returns the host:port pair
func (o Observation) Address() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// UnitID returns the device-reported Modbus unit identifier, if any
func (o Observation) UnitID() (string, bool) {
	if o.Metadata == nil {
		return "", false
	}
	u, ok := o.Metadata[MetaUnitID]
	if !ok || u == "" {
		return "", false
	}
	return u, true
}

// Validate checks that the observation has a usable host and port
func (o Observation) Validate() error {
	if o.Host == "" {
		return fmt.Errorf("observation has empty host")
	}
	if o.Port < 1 || o.Port > 65535 {
		return fmt.Errorf("observation %s has invalid port %d", o.Host, o.Port)
	}
	return nil
}
