package keepalive

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"sessionfleet/internal/protocol"
	"sessionfleet/internal/protocol/protocoltest"
)

func testScheduler() *Scheduler {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return NewScheduler(Config{
		Logger:          logrus.NewEntry(l),
		OnlineHold:      5 * time.Millisecond,
		OfflineHold:     2 * time.Millisecond,
		Cooldown:        2 * time.Millisecond,
		InitialDelayMin: time.Millisecond,
		InitialDelayMax: 2 * time.Millisecond,
	})
}

// connectedClient attaches the recorder only after the setup connect, so
// recorded events all belong to refresh cycles.
func connectedClient(identity int64, rec *protocoltest.Recorder) *protocoltest.Client {
	c := &protocoltest.Client{User: protocol.UserInfo{ID: identity}}
	c.Connect(nil)
	c.Rec = rec
	return c
}

func TestScheduleDisabledCadenceCreatesNoJob(t *testing.T) {
	s := testScheduler()
	defer s.StopAll()

	if err := s.Schedule(Target{Identity: 100, Client: connectedClient(100, nil)}, "1440"); err != nil {
		t.Fatalf("Schedule(1440) failed: %v", err)
	}
	if s.Count() != 0 {
		t.Errorf("job count = %d, want 0 for disabled cadence", s.Count())
	}
}

func TestScheduleCreatesExactlyOneJob(t *testing.T) {
	s := testScheduler()
	defer s.StopAll()

	tgt := Target{Identity: 100, Client: connectedClient(100, nil)}
	if err := s.Schedule(tgt, "60"); err != nil {
		t.Fatalf("Schedule(60) failed: %v", err)
	}
	if !s.Active(100) || s.Count() != 1 {
		t.Fatalf("expected exactly one job, count = %d", s.Count())
	}

	// Rescheduling replaces, never stacks.
	if err := s.Schedule(tgt, "30-90"); err != nil {
		t.Fatalf("reschedule failed: %v", err)
	}
	if s.Count() != 1 {
		t.Errorf("job count after reschedule = %d, want 1", s.Count())
	}
}

func TestScheduleInvalidCadence(t *testing.T) {
	s := testScheduler()
	defer s.StopAll()

	if err := s.Schedule(Target{Identity: 100, Client: connectedClient(100, nil)}, "bogus"); err == nil {
		t.Error("expected error for invalid cadence")
	}
	if s.Count() != 0 {
		t.Errorf("invalid cadence must not leave a job, count = %d", s.Count())
	}
}

func TestStopIsSafeWithoutJob(t *testing.T) {
	s := testScheduler()
	s.Stop(999)
}

func TestRunCyclePerformsRefreshProtocol(t *testing.T) {
	s := testScheduler()
	client := connectedClient(100, nil)

	rebinds := 0
	s.RunCycle(Target{Identity: 100, Client: client, Rebind: func(protocol.Client) { rebinds++ }})

	sent := client.Sent()
	if len(sent) != 1 || sent[0].Peer != protocol.SelfPeer {
		t.Fatalf("marker message = %+v, want one self-addressed send", sent)
	}
	if client.Disconnects() != 1 {
		t.Errorf("disconnects = %d, want 1", client.Disconnects())
	}
	if !client.IsConnected() {
		t.Error("client should end the cycle connected")
	}
	if rebinds != 1 {
		t.Errorf("rebinds = %d, want 1 (replace, never stack)", rebinds)
	}
}

func TestRunCycleRecoveryOnFailure(t *testing.T) {
	s := testScheduler()
	client := &protocoltest.Client{User: protocol.UserInfo{ID: 100}}
	// Disconnected and unable to reconnect: the cycle fails and recovery
	// fails too; the job must survive for its next natural firing.
	client.ConnectErr = protocol.ErrInvalidSession

	s.RunCycle(Target{Identity: 100, Client: client})
	if client.IsConnected() {
		t.Error("client should remain disconnected after failed recovery")
	}
}

func TestCyclesNeverOverlapAcrossAccounts(t *testing.T) {
	s := testScheduler()
	rec := &protocoltest.Recorder{}

	a := connectedClient(100, rec)
	b := connectedClient(200, rec)
	a.OpDelay = 5 * time.Millisecond
	b.OpDelay = 5 * time.Millisecond

	var wg sync.WaitGroup
	for _, tgt := range []Target{
		{Identity: 100, Client: a},
		{Identity: 200, Client: b},
	} {
		wg.Add(1)
		go func(tgt Target) {
			defer wg.Done()
			s.RunCycle(tgt)
		}(tgt)
	}
	wg.Wait()

	spans := map[int64][2]time.Time{}
	for _, ev := range rec.Events() {
		span, ok := spans[ev.Identity]
		if !ok {
			spans[ev.Identity] = [2]time.Time{ev.At, ev.At}
			continue
		}
		if ev.At.Before(span[0]) {
			span[0] = ev.At
		}
		if ev.At.After(span[1]) {
			span[1] = ev.At
		}
		spans[ev.Identity] = span
	}
	sa, sb := spans[100], spans[200]
	if sa[0].Before(sb[1]) && sb[0].Before(sa[1]) {
		t.Errorf("cycles overlapped: 100 ran %s-%s, 200 ran %s-%s",
			sa[0].Format("15:04:05.000"), sa[1].Format("15:04:05.000"),
			sb[0].Format("15:04:05.000"), sb[1].Format("15:04:05.000"))
	}
}
