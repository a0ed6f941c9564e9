package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"modbusmgr/internal/adapter"
	"modbusmgr/internal/domain"
	"modbusmgr/internal/repository"
)

// OutputParser turns raw probe output into an observation set
type OutputParser interface {
	Parse(raw []byte) []domain.Observation
}

// SchedulerConfig holds the cycle timing settings
type SchedulerConfig struct {
	// Target is the range handed to the probe. Empty with AutoTarget set
	// scans the default gateway.
	Target     string
	AutoTarget bool

	Interval       time.Duration
	BackoffCeiling time.Duration
	// Jitter is the backoff randomization factor, 0 for none
	Jitter float64
}

// CycleResult summarizes one probe, reconcile and apply pass
type CycleResult struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Target     string        `json:"target"`
	ProbeError string        `json:"probe_error,omitempty"`
	Observed   int           `json:"observed"`
	Operations int           `json:"operations"`
	Succeeded  int           `json:"succeeded"`
	OpsFailed  int           `json:"ops_failed"`
	// Failed is set when the probe failed or every attempted operation failed
	Failed bool `json:"failed"`
}

// Status is a point-in-time view of the scheduler for the status API
type Status struct {
	Running             bool                     `json:"running"`
	Cycles              int                      `json:"cycles"`
	ConsecutiveFailures int                      `json:"consecutive_failures"`
	LastCycle           *CycleResult             `json:"last_cycle,omitempty"`
	NextRunAt           time.Time                `json:"next_run_at,omitzero"`
	Known               int                      `json:"known"`
	Peripherals         []domain.KnownPeripheral `json:"-"`
}

// Scheduler drives reconciliation cycles. Cycles run one at a time on the
// goroutine calling Run; a trigger during a cycle queues at most one more.
type Scheduler struct {
	cfg     SchedulerConfig
	prober  adapter.ProbeRunner
	parser  OutputParser
	engine  *Engine
	applier *Applier
	logger  zerolog.Logger

	store  repository.Store
	events *EventBus

	gateway func() (string, error)
	now     func() time.Time

	trigger chan struct{}
	backoff *backoff.ExponentialBackOff
	status  atomic.Pointer[Status]

	// guards the fields below, written by the cycle goroutine only
	mu       sync.Mutex
	cycles   int
	failures int
}

// NewScheduler wires the cycle pipeline
func NewScheduler(cfg SchedulerConfig, prober adapter.ProbeRunner, parser OutputParser, engine *Engine, applier *Applier, logger zerolog.Logger) *Scheduler {
	ceiling := cfg.BackoffCeiling
	if ceiling < cfg.Interval {
		ceiling = cfg.Interval
	}

	s := &Scheduler{
		cfg:     cfg,
		prober:  prober,
		parser:  parser,
		engine:  engine,
		applier: applier,
		logger:  logger,
		gateway: adapter.DefaultGateway,
		now:     time.Now,
		trigger: make(chan struct{}, 1),
		backoff: &backoff.ExponentialBackOff{
			InitialInterval:     2 * cfg.Interval,
			RandomizationFactor: cfg.Jitter,
			Multiplier:          2,
			MaxInterval:         ceiling,
		},
	}
	s.backoff.Reset()
	s.status.Store(&Status{})
	return s
}

// SetStore enables write-through persistence of the known table
func (s *Scheduler) SetStore(store repository.Store) {
	s.store = store
}

// SetEventBus sets the bus cycle and peripheral events are published on
func (s *Scheduler) SetEventBus(bus *EventBus) {
	s.events = bus
}

// Trigger requests an immediate cycle. It returns false when one is
// already queued.
func (s *Scheduler) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Status returns the latest snapshot. Safe for concurrent use.
func (s *Scheduler) Status() Status {
	return *s.status.Load()
}

// Run seeds the engine from the store, then runs cycles until ctx is
// cancelled. The first cycle starts immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.restore(ctx); err != nil {
		return err
	}

	s.logger.Info().
		Str("target", s.cfg.Target).
		Dur("interval", s.cfg.Interval).
		Dur("backoff_ceiling", s.backoff.MaxInterval).
		Msg("Scheduler started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Scheduler stopped")
			s.publishStatus(false, nil, time.Time{})
			return nil
		case <-timer.C:
		case <-s.trigger:
			timer.Stop()
			s.logger.Info().Msg("Manual scan requested")
		}

		s.publishStatus(true, nil, time.Time{})
		res := s.runCycle(ctx)
		if ctx.Err() != nil {
			s.publishStatus(false, &res, time.Time{})
			return nil
		}

		delay := s.nextDelay(res)
		s.publishStatus(false, &res, s.now().Add(delay))
		timer.Reset(delay)
	}
}

// runCycle performs one full pass. Must not run concurrently with itself.
func (s *Scheduler) runCycle(ctx context.Context) CycleResult {
	res := CycleResult{
		ID:        uuid.NewString(),
		StartedAt: s.now(),
	}
	log := s.logger.With().Str("cycle_id", res.ID).Logger()

	var observations []domain.Observation
	target, err := s.resolveTarget()
	res.Target = target
	if err == nil {
		var raw []byte
		raw, err = s.prober.Run(ctx, target)
		if err == nil {
			observations = s.parser.Parse(raw)
		}
	}

	if err != nil {
		res.ProbeError = err.Error()
		res.Failed = true

		if ctx.Err() != nil {
			log.Info().Err(err).Msg("Probe interrupted by shutdown, skipping reconciliation")
			res.Duration = s.now().Sub(res.StartedAt)
			return res
		}

		kind := "execution_failed"
		if errors.Is(err, adapter.ErrProbeTimeout) {
			kind = "timeout"
		}
		log.Warn().Err(err).Str("kind", kind).Msg("Probe failed, treating cycle as nothing observed")
		s.events.Publish(Event{Type: EventProbeFailed, CycleID: res.ID, Payload: res.ProbeError})
	}
	res.Observed = len(observations)

	ops := s.engine.Plan(observations)
	res.Operations = len(ops)

	if len(ops) > 0 {
		log.Info().Int("operations", len(ops)).Msg("Applying registry operations")
		a := *s.applier
		a.logger = log
		results := a.Apply(ctx, ops)
		s.engine.Commit(results)

		for _, r := range results {
			out := operationOutcome{
				Kind:     string(r.Operation.Kind),
				Identity: r.Operation.Identity.Key(),
				RemoteID: r.Operation.RemoteID,
			}
			if r.Operation.Kind == domain.OpCreate {
				out.RemoteID = r.RemoteID
			}
			if r.Succeeded() {
				res.Succeeded++
			} else {
				res.OpsFailed++
				out.Error = r.Err.Error()
			}
			s.events.Publish(operationEvent(res.ID, out))
		}
		if res.Succeeded == 0 {
			res.Failed = true
		}
	}

	s.persist(ctx, log)

	res.Duration = s.now().Sub(res.StartedAt)
	log.Info().
		Str("target", res.Target).
		Int("observed", res.Observed).
		Int("operations", res.Operations).
		Int("failed_ops", res.OpsFailed).
		Int("known", s.engine.Len()).
		Dur("duration", res.Duration).
		Msg("Cycle complete")

	s.events.Publish(Event{Type: EventCycleCompleted, CycleID: res.ID, Payload: res})
	return res
}

// nextDelay returns the wait before the next cycle. Successful cycles keep
// the interval measured from cycle start; failed ones back off
// exponentially up to the ceiling.
func (s *Scheduler) nextDelay(res CycleResult) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cycles++
	if res.Failed {
		s.failures++
		delay := s.backoff.NextBackOff()
		if delay > s.backoff.MaxInterval {
			delay = s.backoff.MaxInterval
		}
		s.logger.Warn().
			Int("consecutive_failures", s.failures).
			Dur("retry_in", delay).
			Msg("Cycle failed, backing off")
		return delay
	}

	if s.failures > 0 {
		s.logger.Info().Int("after_failures", s.failures).Msg("Cycle succeeded, back to normal interval")
	}
	s.failures = 0
	s.backoff.Reset()

	delay := s.cfg.Interval - res.Duration
	if delay < 0 {
		delay = 0
	}
	return delay
}

func (s *Scheduler) resolveTarget() (string, error) {
	if s.cfg.Target != "" || !s.cfg.AutoTarget {
		return s.cfg.Target, nil
	}
	gw, err := s.gateway()
	if err != nil {
		return "", fmt.Errorf("resolve scan target: %w", err)
	}
	return gw, nil
}

func (s *Scheduler) restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	peripherals, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("restore known peripherals: %w", err)
	}
	n := s.engine.Restore(peripherals)
	s.logger.Info().Int("peripherals", n).Msg("Restored known peripherals")
	s.publishStatus(false, nil, time.Time{})
	return nil
}

// persist writes the transitions committed this cycle through to the store.
// Failures are logged; the in-memory table stays authoritative.
func (s *Scheduler) persist(ctx context.Context, log zerolog.Logger) {
	saved, deleted := s.engine.TakeChanges()
	if s.store == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	for _, p := range saved {
		if err := s.store.Save(ctx, p); err != nil {
			log.Error().Err(err).Str("identity", p.Identity.Key()).Msg("Failed to persist peripheral")
		}
	}
	for _, id := range deleted {
		if err := s.store.Delete(ctx, id); err != nil {
			log.Error().Err(err).Str("identity", id.Key()).Msg("Failed to delete persisted peripheral")
		}
	}
}

func (s *Scheduler) publishStatus(running bool, last *CycleResult, next time.Time) {
	prev := s.status.Load()

	s.mu.Lock()
	st := &Status{
		Running:             running,
		Cycles:              s.cycles,
		ConsecutiveFailures: s.failures,
		LastCycle:           prev.LastCycle,
		NextRunAt:           next,
	}
	s.mu.Unlock()

	if last != nil {
		st.LastCycle = last
	}
	if !running {
		st.Peripherals = s.engine.Snapshot()
		st.Known = len(st.Peripherals)
	} else {
		st.Peripherals = prev.Peripherals
		st.Known = prev.Known
	}
	s.status.Store(st)
}
