// Package keepalive schedules the per-account presence refresh cycle: a
// periodic disconnect/reconnect that keeps the provider treating the account
// as active. The cycle is expensive, so one fleet-wide gate ensures only a
// single account runs it at any instant.
package keepalive

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"sessionfleet/internal/protocol"
)

// Target is one account under keep-alive supervision.
type Target struct {
	Identity int64
	Client   protocol.Client

	// Rebind re-registers the inbound-message handler after a reconnect,
	// replacing any prior handler instance.
	Rebind func(protocol.Client)
}

// Config tunes the scheduler. Zero values select the production defaults.
type Config struct {
	Logger *logrus.Entry

	// OnlineHold is how long the client stays connected after the marker
	// message before going offline.
	OnlineHold time.Duration
	// OfflineHold is how long the client stays disconnected.
	OfflineHold time.Duration
	// Cooldown delays releasing the fleet-wide gate after a cycle.
	Cooldown time.Duration
	// InitialDelayMin/Max bound the randomized first firing, spreading
	// accounts that share a cadence.
	InitialDelayMin time.Duration
	InitialDelayMax time.Duration
}

// Scheduler owns the keep-alive job registry: at most one job per identity.
type Scheduler struct {
	log *logrus.Entry

	onlineHold      time.Duration
	offlineHold     time.Duration
	cooldown        time.Duration
	initialDelayMin time.Duration
	initialDelayMax time.Duration

	// gate serializes the refresh cycle across the whole fleet.
	gate sync.Mutex

	mu   sync.Mutex
	jobs map[int64]context.CancelFunc

	rngMu sync.Mutex
	rng   *rand.Rand

	wg sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(cfg Config) *Scheduler {
	if cfg.OnlineHold <= 0 {
		cfg.OnlineHold = 10 * time.Second
	}
	if cfg.OfflineHold <= 0 {
		cfg.OfflineHold = 3 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 2 * time.Second
	}
	if cfg.InitialDelayMin <= 0 {
		cfg.InitialDelayMin = 30 * time.Second
	}
	if cfg.InitialDelayMax <= cfg.InitialDelayMin {
		cfg.InitialDelayMax = 300 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Scheduler{
		log:             cfg.Logger.WithField("component", "keepalive"),
		onlineHold:      cfg.OnlineHold,
		offlineHold:     cfg.OfflineHold,
		cooldown:        cfg.Cooldown,
		initialDelayMin: cfg.InitialDelayMin,
		initialDelayMax: cfg.InitialDelayMax,
		jobs:            make(map[int64]context.CancelFunc),
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Schedule installs the repeating job for t, replacing any existing job for
// the same identity. A disabled cadence installs nothing. An unparsable spec
// installs nothing and returns the parse error.
func (s *Scheduler) Schedule(t Target, spec string) error {
	s.Stop(t.Identity)

	cad, err := ParseCadence(spec)
	if err != nil {
		s.log.Errorf("invalid cadence %q for %d, no job scheduled: %v", spec, t.Identity, err)
		return err
	}
	if cad.Disabled() {
		s.log.Infof("cadence for %d is default (%d), no job scheduled", t.Identity, DisabledMinutes)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.jobs[t.Identity] = cancel
	s.mu.Unlock()

	first := s.initialDelay()
	s.log.Infof("scheduled keep-alive for %d, cadence %s, first firing in %s", t.Identity, cad, first.Round(time.Second))

	s.wg.Add(1)
	go s.run(ctx, t, cad, first)
	return nil
}

// Stop cancels the job for identity. Safe to call when no job exists.
func (s *Scheduler) Stop(identity int64) {
	s.mu.Lock()
	cancel, ok := s.jobs[identity]
	if ok {
		delete(s.jobs, identity)
	}
	s.mu.Unlock()
	if ok {
		cancel()
		s.log.Infof("removed keep-alive job for %d", identity)
	}
}

// StopAll cancels every job and waits for running cycles to finish.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	for identity, cancel := range s.jobs {
		cancel()
		delete(s.jobs, identity)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Active reports whether a job exists for identity.
func (s *Scheduler) Active(identity int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[identity]
	return ok
}

// Count returns the number of live jobs.
func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *Scheduler) run(ctx context.Context, t Target, cad Cadence, first time.Duration) {
	defer s.wg.Done()
	timer := time.NewTimer(first)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		s.RunCycle(t)
		// Range cadences draw a fresh interval for every next firing.
		timer.Reset(s.roll(cad))
	}
}

func (s *Scheduler) roll(cad Cadence) time.Duration {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return cad.Roll(s.rng)
}

func (s *Scheduler) initialDelay() time.Duration {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	spread := s.initialDelayMax - s.initialDelayMin
	return s.initialDelayMin + time.Duration(s.rng.Int63n(int64(spread)+1))
}

// RunCycle executes one presence refresh for t under the fleet-wide gate.
func (s *Scheduler) RunCycle(t Target) {
	s.gate.Lock()
	defer func() {
		// Cooldown before releasing the gate smooths CPU usage even when
		// nobody is waiting.
		time.Sleep(s.cooldown)
		s.gate.Unlock()
	}()

	log := s.log.WithField("identity", t.Identity)
	if err := s.cycle(t, log); err != nil {
		log.Warnf("presence refresh cycle failed: %v", err)
		s.recover(t, log)
	}
}

// cycle is the gated protocol body: marker send/delete, online hold, full
// disconnect, offline hold, reconnect, handler re-registration.
func (s *Scheduler) cycle(t Target, log *logrus.Entry) error {
	ctx := context.Background()
	c := t.Client

	if !c.IsConnected() {
		log.Warn("client not connected, reconnecting before cycle")
		if err := c.Connect(ctx); err != nil {
			return fmt.Errorf("pre-cycle reconnect: %w", err)
		}
	}

	msgID, err := c.SendMessage(ctx, protocol.SelfPeer, fmt.Sprintf("presence refresh %d", time.Now().Unix()))
	if err != nil {
		log.Warnf("marker send failed: %v", err)
	} else if err := c.DeleteMessage(ctx, protocol.SelfPeer, msgID); err != nil {
		log.Warnf("marker delete failed: %v", err)
	}

	time.Sleep(s.onlineHold)

	if err := c.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	log.Info("disconnected for offline hold")

	time.Sleep(s.offlineHold)

	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}
	if t.Rebind != nil {
		t.Rebind(c)
	}
	log.Info("reconnected and handler re-registered")
	return nil
}

// recover makes one best-effort attempt to leave the client connected with
// its handler installed. A failure here waits for the next natural firing.
func (s *Scheduler) recover(t Target, log *logrus.Entry) {
	ctx := context.Background()
	if !t.Client.IsConnected() {
		if err := t.Client.Connect(ctx); err != nil {
			log.Errorf("recovery reconnect failed: %v", err)
			return
		}
	}
	if t.Rebind != nil {
		t.Rebind(t.Client)
	}
	log.Info("recovered after failed refresh cycle")
}
