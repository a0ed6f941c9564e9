package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"modbusmgr/internal/domain"
)

// ============================================================================
// Null Type Conversion Helpers
// ============================================================================

// nullToString safely converts sql.NullString to string
func nullToString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// stringToNull safely converts string to sql.NullString
func stringToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// ============================================================================
// JSON Marshaling Helpers
// ============================================================================

// unmarshalJSONField safely unmarshals JSON from nullable string into target
func unmarshalJSONField(ns sql.NullString, target interface{}) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), target)
}

// marshalToNull marshals metadata to nullable JSON string.
// Empty maps are stored as NULL.
func marshalToNull(md map[string]string) (sql.NullString, error) {
	if len(md) == 0 {
		return sql.NullString{}, nil
	}

	data, err := json.Marshal(md)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// ============================================================================
// Peripheral Row Scanner
// ============================================================================
//
// CRITICAL: Column order must match between peripheralColumns and scanArgs().

// peripheralRow holds all columns from a peripheral query for scanning
type peripheralRow struct {
	IdentityKey  string
	Host         string
	Port         int
	UnitID       sql.NullString
	RemoteID     string
	MetadataJSON sql.NullString
	MetadataHash sql.NullString
	LastSeenAt   string
	MissedCycles int
}

// scanArgs returns pointers to all fields for sql.Scan()
// MUST match peripheralColumns order exactly:
// identity_key, host, port, unit_id, remote_id, metadata, metadata_hash,
// last_seen_at, missed_cycles
func (r *peripheralRow) scanArgs() []interface{} {
	return []interface{}{
		&r.IdentityKey,  // 1
		&r.Host,         // 2
		&r.Port,         // 3
		&r.UnitID,       // 4
		&r.RemoteID,     // 5
		&r.MetadataJSON, // 6
		&r.MetadataHash, // 7
		&r.LastSeenAt,   // 8
		&r.MissedCycles, // 9
	}
}

// toDomain converts the scanned row to a domain.KnownPeripheral
func (r *peripheralRow) toDomain() (domain.KnownPeripheral, error) {
	p := domain.KnownPeripheral{
		Identity: domain.Identity{
			Host:   r.Host,
			Port:   r.Port,
			UnitID: nullToString(r.UnitID),
		},
		RemoteID:     r.RemoteID,
		MissedCycles: r.MissedCycles,
	}

	lastSeen, err := parseTS(r.LastSeenAt)
	if err != nil {
		return p, fmt.Errorf("parse last_seen_at: %w", err)
	}
	p.LastSeenAt = lastSeen

	if err := unmarshalJSONField(r.MetadataJSON, &p.Metadata); err != nil {
		return p, fmt.Errorf("unmarshal metadata: %w", err)
	}

	if hash := nullToString(r.MetadataHash); hash != "" && hash != domain.HashMetadata(p.Metadata) {
		return p, fmt.Errorf("metadata hash mismatch")
	}

	return p, nil
}

// peripheralColumns returns the SELECT column list for peripheral queries
const peripheralColumns = `identity_key, host, port, unit_id, remote_id, metadata, metadata_hash,
	last_seen_at, missed_cycles`

// peripheralInsertArgs prepares arguments for peripheral UPSERT
// Returns: identity_key, host, port, unit_id, remote_id, metadata, metadata_hash,
//
//	last_seen_at, missed_cycles, created_at, updated_at
func peripheralInsertArgs(p domain.KnownPeripheral, now time.Time) ([]interface{}, error) {
	metadataJSON, err := marshalToNull(p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	lastSeen := p.LastSeenAt
	if lastSeen.IsZero() {
		lastSeen = now
	}

	return []interface{}{
		p.Identity.Key(),
		p.Identity.Host,
		p.Identity.Port,
		stringToNull(p.Identity.UnitID),
		p.RemoteID,
		metadataJSON,
		stringToNull(domain.HashMetadata(p.Metadata)),
		ts(lastSeen),
		p.MissedCycles,
		ts(now),
		ts(now),
	}, nil
}
