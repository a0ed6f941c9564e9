package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modbusmgr/internal/adapter"
	"modbusmgr/internal/domain"
	"modbusmgr/internal/logger"
)

// ============================================================================
// Fakes
// ============================================================================

type probeStep struct {
	obs []domain.Observation
	err error
}

// scriptedProber replays one step per call; the last step repeats
type scriptedProber struct {
	mu      sync.Mutex
	steps   []probeStep
	targets []string
	hook    func()
}

func (p *scriptedProber) Run(_ context.Context, target string) ([]byte, error) {
	p.mu.Lock()
	p.targets = append(p.targets, target)
	step := p.steps[0]
	if len(p.steps) > 1 {
		p.steps = p.steps[1:]
	}
	hook := p.hook
	p.mu.Unlock()

	if hook != nil {
		hook()
	}
	if step.err != nil {
		return nil, step.err
	}
	return json.Marshal(step.obs)
}

func (p *scriptedProber) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.targets)
}

type jsonParser struct{}

func (jsonParser) Parse(raw []byte) []domain.Observation {
	var obs []domain.Observation
	_ = json.Unmarshal(raw, &obs)
	return obs
}

// fakeRegistry keeps records in memory
type fakeRegistry struct {
	mu      sync.Mutex
	records map[string]map[string]string
	nextID  int
	err     error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{records: make(map[string]map[string]string)}
}

func (f *fakeRegistry) Create(_ context.Context, _ domain.Identity, md map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.nextID++
	id := fmt.Sprintf("nuvlabox-peripheral/%d", f.nextID)
	f.records[id] = domain.CloneMetadata(md)
	return id, nil
}

func (f *fakeRegistry) Update(_ context.Context, _ domain.Identity, remoteID string, md map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records[remoteID] = domain.CloneMetadata(md)
	return nil
}

func (f *fakeRegistry) Remove(_ context.Context, _ domain.Identity, remoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	delete(f.records, remoteID)
	return nil
}

func (f *fakeRegistry) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeRegistry) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// memStore is an in-memory repository.Store
type memStore struct {
	mu   sync.Mutex
	rows map[string]domain.KnownPeripheral
}

func newMemStore(ps ...domain.KnownPeripheral) *memStore {
	s := &memStore{rows: make(map[string]domain.KnownPeripheral)}
	for _, p := range ps {
		s.rows[p.Identity.Key()] = p
	}
	return s
}

func (s *memStore) Load(context.Context) ([]domain.KnownPeripheral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.KnownPeripheral, 0, len(s.rows))
	for _, p := range s.rows {
		out = append(out, p)
	}
	return out, nil
}

func (s *memStore) Save(_ context.Context, p domain.KnownPeripheral) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[p.Identity.Key()] = p
	return nil
}

func (s *memStore) Delete(_ context.Context, id domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id.Key())
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) get(key string) (domain.KnownPeripheral, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rows[key]
	return p, ok
}

type schedulerFixture struct {
	sched    *Scheduler
	prober   *scriptedProber
	registry *fakeRegistry
	engine   *Engine
}

func newSchedulerFixture(threshold int, steps ...probeStep) *schedulerFixture {
	log := logger.NewTestLogger()
	prober := &scriptedProber{steps: steps}
	registry := newFakeRegistry()
	engine := NewEngine(domain.NewResolver(false), EngineConfig{MissThreshold: threshold}, log)

	sched := NewScheduler(SchedulerConfig{
		Target:         "192.168.1.0/24",
		Interval:       10 * time.Second,
		BackoffCeiling: time.Minute,
	}, prober, jsonParser{}, engine, NewApplier(registry, 4, log), log)

	return &schedulerFixture{sched: sched, prober: prober, registry: registry, engine: engine}
}

var probeTimeout = &adapter.ProbeError{Kind: adapter.ProbeTimeout, Target: "192.168.1.0/24"}

// ============================================================================
// Cycle Tests
// ============================================================================

func TestScheduler_CycleRegistersAndPersists(t *testing.T) {
	f := newSchedulerFixture(3, probeStep{obs: []domain.Observation{plc("192.168.1.10"), plc("192.168.1.11")}})
	store := newMemStore()
	f.sched.SetStore(store)

	res := f.sched.runCycle(context.Background())

	assert.NotEmpty(t, res.ID)
	assert.Equal(t, "192.168.1.0/24", res.Target)
	assert.Equal(t, 2, res.Observed)
	assert.Equal(t, 2, res.Operations)
	assert.Equal(t, 2, res.Succeeded)
	assert.False(t, res.Failed)
	assert.Equal(t, 2, f.registry.count())

	p, ok := store.get("192.168.1.10:502")
	require.True(t, ok)
	assert.NotEmpty(t, p.RemoteID)

	// steady state
	res = f.sched.runCycle(context.Background())
	assert.Equal(t, 0, res.Operations)
	assert.False(t, res.Failed)
	assert.Equal(t, 2, f.registry.count())
}

func TestScheduler_ProbeFailureIsNotRemoval(t *testing.T) {
	obs := []domain.Observation{plc("192.168.1.10")}
	f := newSchedulerFixture(2,
		probeStep{obs: obs},
		probeStep{err: probeTimeout},
		probeStep{obs: obs},
	)

	f.sched.runCycle(context.Background())

	res := f.sched.runCycle(context.Background())
	assert.True(t, res.Failed)
	assert.Contains(t, res.ProbeError, "timeout")
	assert.Equal(t, 0, res.Operations)
	assert.Equal(t, 1, f.registry.count())

	res = f.sched.runCycle(context.Background())
	assert.False(t, res.Failed)
	assert.Equal(t, 0, res.Operations)
	assert.Equal(t, 1, f.registry.count())
	assert.Equal(t, 0, f.engine.Snapshot()[0].MissedCycles)
}

func TestScheduler_RemovesAfterThreshold(t *testing.T) {
	f := newSchedulerFixture(2,
		probeStep{obs: []domain.Observation{plc("192.168.1.10")}},
		probeStep{},
	)
	store := newMemStore()
	f.sched.SetStore(store)

	f.sched.runCycle(context.Background())
	_, ok := store.get("192.168.1.10:502")
	require.True(t, ok)

	assert.Equal(t, 0, f.sched.runCycle(context.Background()).Operations)
	p, _ := store.get("192.168.1.10:502")
	assert.Equal(t, 1, p.MissedCycles)

	res := f.sched.runCycle(context.Background())
	assert.Equal(t, 1, res.Operations)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 0, f.registry.count())
	assert.Equal(t, 0, f.engine.Len())

	_, ok = store.get("192.168.1.10:502")
	assert.False(t, ok)
}

func TestScheduler_RegistryOutageFailsCycle(t *testing.T) {
	f := newSchedulerFixture(3, probeStep{obs: []domain.Observation{plc("192.168.1.10")}})
	f.registry.setErr(errors.New("connection refused"))

	res := f.sched.runCycle(context.Background())
	assert.True(t, res.Failed)
	assert.Equal(t, 1, res.OpsFailed)
	assert.Equal(t, 0, f.engine.Len())

	f.registry.setErr(nil)
	res = f.sched.runCycle(context.Background())
	assert.False(t, res.Failed)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, f.registry.count())
}

func TestScheduler_ShutdownDuringProbe(t *testing.T) {
	f := newSchedulerFixture(1, probeStep{obs: []domain.Observation{plc("192.168.1.10")}})
	f.sched.runCycle(context.Background())
	require.Equal(t, 1, f.engine.Len())

	ctx, cancel := context.WithCancel(context.Background())
	f.prober.steps = []probeStep{{err: errors.New("signal: killed")}}
	f.prober.hook = cancel

	res := f.sched.runCycle(ctx)
	assert.True(t, res.Failed)

	// an interrupted probe is not a miss
	assert.Equal(t, 1, f.engine.Len())
	assert.Equal(t, 0, f.engine.Snapshot()[0].MissedCycles)
	assert.Equal(t, 1, f.registry.count())
}

func TestScheduler_AutoTarget(t *testing.T) {
	t.Run("scans the default gateway", func(t *testing.T) {
		f := newSchedulerFixture(3, probeStep{})
		f.sched.cfg.Target = ""
		f.sched.cfg.AutoTarget = true
		f.sched.gateway = func() (string, error) { return "192.168.1.1", nil }

		res := f.sched.runCycle(context.Background())
		assert.Equal(t, "192.168.1.1", res.Target)
		assert.Equal(t, []string{"192.168.1.1"}, f.prober.targets)
	})

	t.Run("no gateway is a failed probe", func(t *testing.T) {
		f := newSchedulerFixture(3, probeStep{})
		f.sched.cfg.Target = ""
		f.sched.cfg.AutoTarget = true
		f.sched.gateway = func() (string, error) { return "", adapter.ErrNoDefaultGateway }

		res := f.sched.runCycle(context.Background())
		assert.True(t, res.Failed)
		assert.Contains(t, res.ProbeError, "no default gateway")
		assert.Equal(t, 0, f.prober.calls())
	})
}

func TestScheduler_Events(t *testing.T) {
	f := newSchedulerFixture(3, probeStep{obs: []domain.Observation{plc("192.168.1.10")}})
	bus := NewEventBus()
	ch := make(chan Event, 16)
	bus.Subscribe(ch)
	f.sched.SetEventBus(bus)

	res := f.sched.runCycle(context.Background())

	created := <-ch
	assert.Equal(t, EventPeripheralCreated, created.Type)
	assert.Equal(t, res.ID, created.CycleID)
	out := created.Payload.(operationOutcome)
	assert.Equal(t, "192.168.1.10:502", out.Identity)
	assert.Equal(t, "nuvlabox-peripheral/1", out.RemoteID)

	done := <-ch
	assert.Equal(t, EventCycleCompleted, done.Type)
}

// ============================================================================
// Timing Tests
// ============================================================================

func TestScheduler_NextDelay(t *testing.T) {
	f := newSchedulerFixture(3, probeStep{})
	s := f.sched

	ok := func(d time.Duration) CycleResult { return CycleResult{Duration: d} }
	failed := CycleResult{Failed: true}

	assert.Equal(t, 7*time.Second, s.nextDelay(ok(3*time.Second)))
	assert.Equal(t, time.Duration(0), s.nextDelay(ok(12*time.Second)), "overrun starts the next cycle immediately")

	assert.Equal(t, 20*time.Second, s.nextDelay(failed))
	assert.Equal(t, 40*time.Second, s.nextDelay(failed))
	assert.Equal(t, time.Minute, s.nextDelay(failed))
	assert.Equal(t, time.Minute, s.nextDelay(failed), "capped at the ceiling")
	assert.Equal(t, 4, s.failures)

	assert.Equal(t, 10*time.Second, s.nextDelay(ok(0)))
	assert.Equal(t, 0, s.failures)
	assert.Equal(t, 20*time.Second, s.nextDelay(failed), "backoff restarts after a success")
	assert.Equal(t, 8, s.cycles)
}

func TestScheduler_TriggerCoalesces(t *testing.T) {
	f := newSchedulerFixture(3, probeStep{})

	assert.True(t, f.sched.Trigger())
	assert.False(t, f.sched.Trigger())

	<-f.sched.trigger
	assert.True(t, f.sched.Trigger())
}

func TestScheduler_Run(t *testing.T) {
	f := newSchedulerFixture(3, probeStep{obs: []domain.Observation{plc("192.168.1.10")}})
	f.sched.cfg.Interval = time.Hour
	f.sched.SetStore(newMemStore(domain.KnownPeripheral{
		Identity: idOf("192.168.1.20"),
		RemoteID: "nuvlabox-peripheral/99",
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sched.Run(ctx) }()

	require.Eventually(t, func() bool { return f.sched.Status().Cycles == 1 }, 2*time.Second, 5*time.Millisecond)

	st := f.sched.Status()
	assert.False(t, st.Running)
	assert.Equal(t, 2, st.Known, "restored entry plus the new one")
	require.NotNil(t, st.LastCycle)
	assert.Equal(t, 1, st.LastCycle.Operations)
	assert.WithinDuration(t, time.Now().Add(time.Hour), st.NextRunAt, time.Minute)

	// manual scan runs long before the interval elapses
	require.True(t, f.sched.Trigger())
	require.Eventually(t, func() bool { return f.sched.Status().Cycles == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, f.prober.calls())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.False(t, f.sched.Status().Running)
}
