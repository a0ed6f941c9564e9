package service

import (
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"modbusmgr/internal/domain"
)

// ErrRecordGone marks an update whose remote record no longer exists.
// The entry is dropped so the peripheral is registered again.
var ErrRecordGone = errors.New("remote record gone")

// EngineConfig holds the reconciliation tunables
type EngineConfig struct {
	// MissThreshold is the number of consecutive absent cycles before removal
	MissThreshold int
	// IgnoreMetadataKeys are not compared when deciding on an update
	IgnoreMetadataKeys []string
}

// Engine owns the known-peripheral table and turns each observation set
// into the registry operations that converge the registry with it.
//
// Plan and Commit must be called from a single goroutine. An identity with
// an operation in flight gets no new operation until Commit resolves it.
type Engine struct {
	resolver  domain.Resolver
	threshold int
	ignore    map[string]struct{}
	logger    zerolog.Logger
	now       func() time.Time

	known    map[string]*domain.KnownPeripheral
	inflight map[string]domain.Operation

	// changes since the last TakeChanges, for write-through persistence
	dirty   map[string]struct{}
	removed map[string]domain.Identity
}

// NewEngine creates an engine with an empty table
func NewEngine(resolver domain.Resolver, cfg EngineConfig, logger zerolog.Logger) *Engine {
	threshold := cfg.MissThreshold
	if threshold < 1 {
		threshold = 1
	}

	ignore := make(map[string]struct{}, len(cfg.IgnoreMetadataKeys))
	for _, k := range cfg.IgnoreMetadataKeys {
		ignore[k] = struct{}{}
	}

	return &Engine{
		resolver:  resolver,
		threshold: threshold,
		ignore:    ignore,
		logger:    logger,
		now:       time.Now,
		known:     make(map[string]*domain.KnownPeripheral),
		inflight:  make(map[string]domain.Operation),
		dirty:     make(map[string]struct{}),
		removed:   make(map[string]domain.Identity),
	}
}

// Restore seeds the table with previously confirmed peripherals.
// Entries without a remote id are ignored.
func (e *Engine) Restore(peripherals []domain.KnownPeripheral) int {
	n := 0
	for i := range peripherals {
		p := peripherals[i].Clone()
		if !p.Registered() {
			continue
		}
		e.known[p.Identity.Key()] = &p
		n++
	}
	return n
}

// Plan diffs an observation set against the table and returns the
// operations to apply. A failed probe is planned as an empty set.
//
// New identities are added tentatively as pending. Identities absent for
// MissThreshold consecutive cycles are scheduled for removal but stay in
// the table until the removal is confirmed.
func (e *Engine) Plan(observations []domain.Observation) []domain.Operation {
	now := e.now()

	observed := make(map[string]domain.Observation, len(observations))
	for _, o := range observations {
		observed[e.resolver.Resolve(o).Key()] = o
	}

	var ops []domain.Operation

	for _, key := range sortedKeys(observed) {
		o := observed[key]
		id := e.resolver.Resolve(o)

		k, ok := e.known[key]
		if ok {
			k.MissedCycles = 0
			k.LastSeenAt = now
			e.markDirty(key)
		}

		if _, busy := e.inflight[key]; busy {
			e.logger.Debug().Str("identity", key).Msg("Operation in flight, deferring")
			continue
		}

		switch {
		case !ok:
			op := domain.CreateOp(id, o.Metadata)
			e.known[key] = &domain.KnownPeripheral{
				Identity:   id,
				Metadata:   domain.CloneMetadata(o.Metadata),
				LastSeenAt: now,
				Pending:    true,
			}
			e.inflight[key] = op
			ops = append(ops, op)

		case !domain.EqualMetadata(k.Metadata, o.Metadata, e.ignore):
			op := domain.UpdateOp(k.Identity, k.RemoteID, o.Metadata)
			e.inflight[key] = op
			ops = append(ops, op)
		}
	}

	for _, key := range sortedKeys(e.known) {
		if _, seen := observed[key]; seen {
			continue
		}
		k := e.known[key]
		if k.Pending {
			continue
		}

		k.MissedCycles++
		e.markDirty(key)

		if k.MissedCycles < e.threshold {
			continue
		}
		if _, busy := e.inflight[key]; busy {
			continue
		}

		op := domain.RemoveOp(k.Identity, k.RemoteID)
		e.inflight[key] = op
		ops = append(ops, op)
	}

	return ops
}

// Commit folds operation results into the table. Success commits the
// transition; failure leaves the entry as it was so the next cycle
// re-emits the operation for as long as the delta persists.
func (e *Engine) Commit(results []domain.OperationResult) {
	for _, r := range results {
		op := r.Operation
		key := op.Identity.Key()

		if pending, ok := e.inflight[key]; !ok || pending.Kind != op.Kind {
			e.logger.Warn().Str("identity", key).Str("op", op.String()).Msg("Result for an operation that is not in flight")
			continue
		}
		delete(e.inflight, key)

		k, ok := e.known[key]
		if !ok {
			continue
		}

		switch op.Kind {
		case domain.OpCreate:
			if r.Succeeded() && r.RemoteID != "" {
				k.RemoteID = r.RemoteID
				k.Pending = false
				e.markDirty(key)
			} else {
				// treated as brand new next cycle
				delete(e.known, key)
			}

		case domain.OpUpdate:
			switch {
			case r.Succeeded():
				k.Metadata = domain.CloneMetadata(op.Metadata)
				e.markDirty(key)
			case errors.Is(r.Err, ErrRecordGone):
				e.forget(key, k.Identity)
			}

		case domain.OpRemove:
			if r.Succeeded() {
				e.forget(key, k.Identity)
			}
		}
	}
}

// Abandon resolves every in-flight operation as failed
func (e *Engine) Abandon() {
	results := make([]domain.OperationResult, 0, len(e.inflight))
	for _, op := range e.inflight {
		results = append(results, domain.OperationResult{Operation: op, Err: errNotDispatched})
	}
	e.Commit(results)
}

// Snapshot returns a copy of the table ordered by identity key
func (e *Engine) Snapshot() []domain.KnownPeripheral {
	out := make([]domain.KnownPeripheral, 0, len(e.known))
	for _, key := range sortedKeys(e.known) {
		out = append(out, e.known[key].Clone())
	}
	return out
}

// Len returns the number of entries in the table, pending ones included
func (e *Engine) Len() int {
	return len(e.known)
}

// InFlight returns the number of unresolved operations
func (e *Engine) InFlight() int {
	return len(e.inflight)
}

// TakeChanges returns the confirmed entries changed and the identities
// deleted since the previous call
func (e *Engine) TakeChanges() (saved []domain.KnownPeripheral, deleted []domain.Identity) {
	for _, key := range sortedKeys(e.dirty) {
		if k, ok := e.known[key]; ok && k.Registered() {
			saved = append(saved, k.Clone())
		}
	}
	for _, key := range sortedKeys(e.removed) {
		deleted = append(deleted, e.removed[key])
	}
	e.dirty = make(map[string]struct{})
	e.removed = make(map[string]domain.Identity)
	return saved, deleted
}

func (e *Engine) markDirty(key string) {
	e.dirty[key] = struct{}{}
	delete(e.removed, key)
}

func (e *Engine) forget(key string, id domain.Identity) {
	delete(e.known, key)
	delete(e.dirty, key)
	e.removed[key] = id
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
