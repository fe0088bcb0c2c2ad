package relay

import (
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/friendsincode/grimnir_tv/internal/events"
	"github.com/friendsincode/grimnir_tv/internal/models"
	"github.com/friendsincode/grimnir_tv/internal/process"
	"github.com/rs/zerolog"
)

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.pending = append(c.pending, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Pending counts timers that are neither stopped nor fired.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.pending {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Advance moves time forward and runs due callbacks outside the lock.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.pending {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// fireStale runs a callback even though it was stopped, the way a
// time.AfterFunc that already started executing would.
func (c *fakeClock) fireStale() {
	c.mu.Lock()
	var all []*fakeTimer
	for _, t := range c.pending {
		if !t.fired {
			t.fired = true
			all = append(all, t)
		}
	}
	c.mu.Unlock()
	for _, t := range all {
		t.f()
	}
}

type staticSettings map[string]string

func (s staticSettings) Get(key, fallback string) string {
	if v, ok := s[key]; ok && v != "" {
		return v
	}
	return fallback
}

func (s staticSettings) Bool(key string) bool { return s[key] == "true" }

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.EventType
}

func (p *recordingPublisher) Publish(t events.EventType, _ events.Payload) {
	p.mu.Lock()
	p.events = append(p.events, t)
	p.mu.Unlock()
}

func (p *recordingPublisher) count(t events.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e == t {
			n++
		}
	}
	return n
}

type killCounter struct {
	mu sync.Mutex
	n  int
}

func (k *killCounter) Kill() {
	k.mu.Lock()
	k.n++
	k.mu.Unlock()
}

func (k *killCounter) calls() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestManager(settings staticSettings, opts ...Option) (*Manager, *process.FakeLauncher, *fakeClock) {
	launcher := process.NewFakeLauncher()
	clock := newFakeClock()
	all := append([]Option{WithClock(clock), WithStderr(io.Discard)}, opts...)
	m := New(Config{HLSDir: "hls", AlertThreshold: 3}, launcher, settings, zerolog.Nop(), all...)
	return m, launcher, clock
}

func TestRelayRestartsAfterExit(t *testing.T) {
	m, launcher, clock := newTestManager(staticSettings{})

	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !m.Running() {
		t.Fatal("expected relay running")
	}

	launcher.Last().Exit(1)
	waitFor(t, "restart to be scheduled", func() bool { return clock.Pending() == 1 })
	if m.Running() {
		t.Fatal("relay should not report running after exit")
	}

	clock.Advance(time.Second)
	if got := len(launcher.Handles()); got != 2 {
		t.Fatalf("expected 2 starts, got %d", got)
	}
	if !m.Running() {
		t.Fatal("expected relay running again")
	}
}

func TestRelayStartIsNoopWhileRunning(t *testing.T) {
	m, launcher, _ := newTestManager(staticSettings{})

	for i := 0; i < 3; i++ {
		if err := m.Start(); err != nil {
			t.Fatalf("start: %v", err)
		}
	}
	if got := len(launcher.Handles()); got != 1 {
		t.Fatalf("expected a single relay, got %d", got)
	}
}

func TestRelayStopWinsOverPendingRestart(t *testing.T) {
	m, launcher, clock := newTestManager(staticSettings{})
	pusher := &killCounter{}
	m.SetPusher(pusher)

	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	launcher.Last().Exit(1)
	waitFor(t, "restart to be scheduled", func() bool { return clock.Pending() == 1 })

	m.Stop()
	// A callback that was already running when Stop cancelled it.
	clock.fireStale()
	clock.Advance(time.Minute)

	if m.Running() {
		t.Fatal("relay restarted after stop")
	}
	if !m.Paused() {
		t.Fatal("expected manager paused")
	}
	if got := len(launcher.Handles()); got != 1 {
		t.Fatalf("expected no new relay after stop, got %d starts", got)
	}
	if launcher.Alive() != 0 {
		t.Fatal("expected no live relay processes")
	}
	if pusher.calls() != 1 {
		t.Fatalf("expected pusher killed once, got %d", pusher.calls())
	}
}

func TestRelayStopTerminatesRunningProcess(t *testing.T) {
	pub := &recordingPublisher{}
	m, launcher, clock := newTestManager(staticSettings{}, WithEvents(pub))

	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	h := launcher.Last()

	m.Stop()
	m.Stop()

	if !h.Terminated() {
		t.Fatal("expected relay terminated")
	}
	// The watcher sees a stale generation and must not schedule anything.
	time.Sleep(10 * time.Millisecond)
	if clock.Pending() != 0 {
		t.Fatal("no restart may be scheduled after stop")
	}
	if err := m.Start(); err != nil {
		t.Fatalf("start while paused: %v", err)
	}
	if got := len(launcher.Handles()); got != 1 {
		t.Fatalf("start while paused must not spawn, got %d starts", got)
	}

	if err := m.ManualStart(); err != nil {
		t.Fatalf("manual start: %v", err)
	}
	if got := len(launcher.Handles()); got != 2 || !m.Running() {
		t.Fatalf("manual start should spawn, got %d starts", got)
	}
	if pub.count(events.EventRelayState) < 3 {
		t.Fatalf("expected relay state events, got %d", pub.count(events.EventRelayState))
	}
}

func TestRelaySpawnFailureIsRetried(t *testing.T) {
	m, launcher, clock := newTestManager(staticSettings{})
	launcher.FailStarts(errors.New("ffmpeg: not found"))

	if err := m.Start(); err == nil {
		t.Fatal("expected spawn error")
	}
	if clock.Pending() != 1 {
		t.Fatalf("expected a scheduled retry, got %d", clock.Pending())
	}

	launcher.FailStarts(nil)
	clock.Advance(time.Second)
	if !m.Running() {
		t.Fatal("expected relay running after retry")
	}
}

func TestRelayAlertsAfterRepeatedFastFailures(t *testing.T) {
	pub := &recordingPublisher{}
	m, launcher, clock := newTestManager(staticSettings{}, WithEvents(pub))

	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 3; i++ {
		launcher.Last().Exit(1)
		waitFor(t, "restart to be scheduled", func() bool { return clock.Pending() == 1 })
		clock.Advance(time.Second)
	}

	if got := pub.count(events.EventRelayAlert); got != 1 {
		t.Fatalf("expected one alert after 3 fast failures, got %d", got)
	}
}

func TestRelayPolicyExhaustionStopsRestarting(t *testing.T) {
	m, launcher, clock := newTestManager(staticSettings{}, WithPolicy(FixedDelay{Delay: time.Second, MaxAttempts: 1}))

	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	launcher.Last().Exit(1)
	waitFor(t, "restart to be scheduled", func() bool { return clock.Pending() == 1 })
	clock.Advance(time.Second)

	launcher.Last().Exit(1)
	time.Sleep(10 * time.Millisecond)
	if clock.Pending() != 0 {
		t.Fatal("expected no restart once the policy gives up")
	}
}

func TestRelayAddsRTMPOutputWhenEnabled(t *testing.T) {
	m, launcher, _ := newTestManager(staticSettings{
		models.SettingRTMPEnabled:   "true",
		models.SettingOutputRTMPURL: "rtmp://live.example/app/key",
	})

	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	args := launcher.Last().Spec.Args
	found := false
	for i, a := range args {
		if a == "rtmp://live.example/app/key" && i > 0 && args[i-1] == "flv" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected flv output to the rtmp url, got %v", args)
	}
}

func TestRelayProgressUpdatesStats(t *testing.T) {
	m, launcher, _ := newTestManager(staticSettings{})
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	out := launcher.Last().Spec.Stdout
	if _, err := io.WriteString(out, "frame=120\nfps=29.97\nspeed=1.01x\nprogress=continue\n"); err != nil {
		t.Fatalf("write progress: %v", err)
	}

	waitFor(t, "progress stats", func() bool { return m.Stats().Speed == "1.01x" })
	stats := m.Stats()
	if !stats.Running || stats.Frame != "120" || stats.FPS != "29.97" {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRelayAutoRestartSurvivesEarlyStart(t *testing.T) {
	tests := []struct {
		name  string
		start func(m *Manager) error
		// stale runs the superseded callback even though it was stopped
		stale bool
	}{
		{name: "loop start", start: (*Manager).Start},
		{name: "manual start", start: (*Manager).ManualStart},
		{name: "loop start with late callback", start: (*Manager).Start, stale: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, launcher, clock := newTestManager(staticSettings{})

			if err := m.Start(); err != nil {
				t.Fatalf("start: %v", err)
			}
			launcher.Last().Exit(1)
			waitFor(t, "restart to be scheduled", func() bool { return clock.Pending() == 1 })

			if err := tt.start(m); err != nil {
				t.Fatalf("early start: %v", err)
			}
			if got := len(launcher.Handles()); got != 2 {
				t.Fatalf("expected 2 starts after early start, got %d", got)
			}
			if clock.Pending() != 0 {
				t.Fatal("early start should cancel the pending restart")
			}
			if tt.stale {
				clock.fireStale()
			} else {
				clock.Advance(time.Second)
			}
			if got := len(launcher.Handles()); got != 2 {
				t.Fatalf("superseded restart spawned a process: %d starts", got)
			}

			launcher.Last().Exit(1)
			waitFor(t, "second restart to be scheduled", func() bool { return clock.Pending() == 1 })
			clock.Advance(time.Minute)

			if got := len(launcher.Handles()); got != 3 {
				t.Fatalf("expected auto-restart after second crash, got %d starts", got)
			}
			if !m.Running() {
				t.Fatal("expected relay running after auto-restart")
			}
		})
	}
}
