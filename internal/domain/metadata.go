package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// CloneMetadata returns an independent copy. nil stays nil.
func CloneMetadata(md map[string]string) map[string]string {
	if md == nil {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

// EqualMetadata reports whether two metadata maps hold the same key/value
// pairs, skipping any key present in ignore. nil and empty are equal.
func EqualMetadata(a, b map[string]string, ignore map[string]struct{}) bool {
	for k, va := range a {
		if _, skip := ignore[k]; skip {
			continue
		}
		vb, ok := b[k]
		if !ok || va != vb {
			return false
		}
	}
	for k := range b {
		if _, skip := ignore[k]; skip {
			continue
		}
		if _, ok := a[k]; !ok {
			return false
		}
	}
	return true
}

// HashMetadata deterministically hashes a metadata map so snapshots can be
// compared without holding both maps
func HashMetadata(md map[string]string) string {
	if len(md) == 0 {
		return ""
	}

	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(md[k]))
		h.Write([]byte{0xff})
	}

	return hex.EncodeToString(h.Sum(nil))
}
