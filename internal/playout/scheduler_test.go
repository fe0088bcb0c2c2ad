package playout

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/friendsincode/grimnir_tv/internal/encoder"
	"github.com/friendsincode/grimnir_tv/internal/events"
	"github.com/friendsincode/grimnir_tv/internal/media"
	"github.com/friendsincode/grimnir_tv/internal/models"
	"github.com/friendsincode/grimnir_tv/internal/overlay"
	"github.com/friendsincode/grimnir_tv/internal/process"
	"github.com/friendsincode/grimnir_tv/internal/pusher"
	"github.com/friendsincode/grimnir_tv/internal/relay"
	"github.com/friendsincode/grimnir_tv/internal/settings"
	"github.com/rs/zerolog"
)

type fakeRelay struct {
	mu          sync.Mutex
	running     bool
	paused      bool
	starts      int
	manual      int
	stops       int
	startErr    error
	stayingDown bool
}

func (r *fakeRelay) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
	if r.paused {
		return nil
	}
	if r.startErr != nil {
		return r.startErr
	}
	r.running = !r.stayingDown
	return nil
}

func (r *fakeRelay) ManualStart() error {
	r.mu.Lock()
	r.manual++
	r.paused = false
	r.mu.Unlock()
	return r.Start()
}

func (r *fakeRelay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	r.paused = true
	r.running = false
}

func (r *fakeRelay) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *fakeRelay) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

func (r *fakeRelay) Stats() encoder.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return encoder.Stats{Running: r.running, FPS: "30"}
}

type pick struct {
	video *models.Video
	err   error
}

type fakePicker struct {
	mu     sync.Mutex
	queue  []pick
	forced []bool
}

func (p *fakePicker) PickNext(_ context.Context, _ []string, forceIdent bool) (*models.Video, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forced = append(p.forced, forceIdent)
	if len(p.queue) == 0 {
		return nil, nil
	}
	next := p.queue[0]
	p.queue = p.queue[1:]
	return next.video, next.err
}

func (p *fakePicker) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.forced)
}

type fakeHistory struct {
	mu     sync.Mutex
	nextID int64
	opened []int64
	closed []int64
}

func (h *fakeHistory) OpenHistory(_ context.Context, videoID int64) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.opened = append(h.opened, videoID)
	return h.nextID, nil
}

func (h *fakeHistory) CloseHistory(_ context.Context, id int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = append(h.closed, id)
	return nil
}

type pushCall struct {
	path     string
	duration float64
}

type fakePusher struct {
	mu    sync.Mutex
	calls []pushCall
	err   error
}

func (p *fakePusher) Push(_ context.Context, path string, duration float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, pushCall{path, duration})
	return p.err
}

type mapLoader map[string]string

func (m mapLoader) AllSettings(context.Context) (map[string]string, error) {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out, nil
}

type recordedSleeps struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.sleeps = append(r.sleeps, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordedSleeps) all() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.sleeps...)
}

type harness struct {
	sched    *Scheduler
	relay    *fakeRelay
	picker   *fakePicker
	history  *fakeHistory
	pusher   *fakePusher
	settings *settings.Cache
	bus      *events.Bus
	sleeps   *recordedSleeps
	now      time.Time
	root     string
	overlay  string
}

func newHarness(t *testing.T, stored mapLoader, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		relay:    &fakeRelay{running: true},
		picker:   &fakePicker{},
		history:  &fakeHistory{},
		pusher:   &fakePusher{},
		settings: settings.New(stored, zerolog.Nop()),
		bus:      events.NewBus(),
		sleeps:   &recordedSleeps{},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		root:     t.TempDir(),
		overlay:  filepath.Join(t.TempDir(), "overlay"),
	}
	if err := h.settings.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	clock := func() time.Time { return h.now }
	deps := Deps{
		History:  h.history,
		Selector: h.picker,
		Settings: h.settings,
		Relay:    h.relay,
		Pusher:   h.pusher,
		Overlay:  overlay.NewWriter(h.overlay, clock),
		Media:    media.NewService(media.NewFilesystemStorage(h.root), nil, "", zerolog.Nop()),
		Events:   h.bus,
	}
	all := append([]Option{WithClock(clock), WithSleep(h.sleeps.sleep)}, opts...)
	h.sched = New(deps, Config{Dirs: []string{h.overlay}}, zerolog.Nop(), all...)
	return h
}

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

func TestIterationPlaysTrackAndClosesHistory(t *testing.T) {
	h := newHarness(t, mapLoader{})
	sub := h.bus.Subscribe(events.EventNowPlaying)
	if err := os.MkdirAll(h.overlay, 0o755); err != nil {
		t.Fatal(err)
	}

	h.picker.queue = []pick{{video: &models.Video{ID: 7, Path: "Artist/Song.mp4", Artist: "Artist", Title: "Song", Year: intPtr(2026), Duration: floatPtr(201.5)}}}
	if err := h.sched.RunIterations(context.Background(), 1); err != nil {
		t.Fatalf("iterate: %v", err)
	}

	if len(h.pusher.calls) != 1 {
		t.Fatalf("expected one push, got %d", len(h.pusher.calls))
	}
	call := h.pusher.calls[0]
	if call.path != filepath.Join(h.root, "Artist", "Song.mp4") || call.duration != 201.5 {
		t.Fatalf("unexpected push: %+v", call)
	}
	if len(h.history.opened) != 1 || h.history.opened[0] != 7 {
		t.Fatalf("unexpected history opens: %v", h.history.opened)
	}
	if len(h.history.closed) != 1 || h.history.closed[0] != 1 {
		t.Fatalf("expected history row closed, got %v", h.history.closed)
	}

	data, err := os.ReadFile(filepath.Join(h.overlay, overlay.NowPlayingFile))
	if err != nil || string(data) != "Artist - Song (2026)" {
		t.Fatalf("nowplaying = %q, %v", data, err)
	}
	select {
	case payload := <-sub:
		if payload["title"] != "Song" || payload["video_id"] != int64(7) {
			t.Fatalf("unexpected now playing payload: %+v", payload)
		}
	default:
		t.Fatal("expected now playing event")
	}
	if got := h.sleeps.all(); len(got) != 0 {
		t.Fatalf("successful iteration should not sleep, got %v", got)
	}
}

func TestPushFailureLeavesHistoryOpen(t *testing.T) {
	h := newHarness(t, mapLoader{})
	h.pusher.err = &pusher.ExitError{Code: 1}
	h.picker.queue = []pick{{video: &models.Video{ID: 3, Path: "a.mp4", Title: "A"}}}

	if err := h.sched.RunIterations(context.Background(), 1); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(h.history.opened) != 1 {
		t.Fatalf("expected history opened, got %v", h.history.opened)
	}
	if len(h.history.closed) != 0 {
		t.Fatalf("history row must stay open after push failure, closed %v", h.history.closed)
	}
	if got := h.sleeps.all(); len(got) != 1 || got[0] != PushFailureBackoff {
		t.Fatalf("expected push failure backoff, got %v", got)
	}
}

func TestEmptyCatalogAndSelectionErrorsBackOff(t *testing.T) {
	h := newHarness(t, mapLoader{})
	h.picker.queue = []pick{{}, {err: errors.New("database is locked")}}

	if err := h.sched.RunIterations(context.Background(), 2); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	got := h.sleeps.all()
	if len(got) != 2 || got[0] != EmptyCatalogDelay || got[1] != EmptyCatalogDelay {
		t.Fatalf("expected two empty-catalog backoffs, got %v", got)
	}
	if len(h.pusher.calls) != 0 || len(h.history.opened) != 0 {
		t.Fatal("nothing should be played")
	}
}

func TestPausedIterationDoesNotPick(t *testing.T) {
	h := newHarness(t, mapLoader{})
	h.sched.StopAll()

	if err := h.sched.RunIterations(context.Background(), 3); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if h.picker.calls() != 0 {
		t.Fatal("paused scheduler must not pick")
	}
	for _, d := range h.sleeps.all() {
		if d != PausedPoll {
			t.Fatalf("unexpected sleep %v while paused", d)
		}
	}

	if err := h.sched.StartMainManually(); err != nil {
		t.Fatalf("manual start: %v", err)
	}
	if !h.sched.IsRunning() {
		t.Fatal("expected relay running after manual start")
	}
}

func TestRelayDownIsRestartedBeforePicking(t *testing.T) {
	h := newHarness(t, mapLoader{})
	h.relay.running = false

	if err := h.sched.RunIterations(context.Background(), 1); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if h.relay.starts != 1 {
		t.Fatalf("expected relay start, got %d", h.relay.starts)
	}
	got := h.sleeps.all()
	if len(got) < 1 || got[0] != RelayWarmup {
		t.Fatalf("expected warmup sleep first, got %v", got)
	}
}

func TestIdentCadence(t *testing.T) {
	h := newHarness(t, mapLoader{models.SettingIdentIntervalMinutes: "10"})

	steps := []struct {
		advance time.Duration
		want    bool
	}{
		{0, true},
		{time.Minute, false},
		{8 * time.Minute, false},
		{time.Minute, true},
		{time.Minute, false},
	}
	for i, step := range steps {
		h.now = h.now.Add(step.advance)
		if err := h.sched.RunIterations(context.Background(), 1); err != nil {
			t.Fatalf("iterate: %v", err)
		}
		if got := h.picker.forced[i]; got != step.want {
			t.Fatalf("step %d: forceIdent = %v, want %v", i, got, step.want)
		}
	}
}

func TestRunIterationsStopsOnCancel(t *testing.T) {
	h := newHarness(t, mapLoader{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.sched.RunIterations(ctx, 5); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if h.picker.calls() != 0 {
		t.Fatal("cancelled loop must not pick")
	}
}

func TestStartIsIdempotentAndProbesEncoder(t *testing.T) {
	h := newHarness(t, mapLoader{})
	probes := 0
	h.sched.deps.Probe = func(context.Context) (string, error) {
		probes++
		return "h264_nvenc", nil
	}

	blocked := make(chan struct{}, 1)
	h.sched.sleep = func(ctx context.Context, d time.Duration) error {
		select {
		case blocked <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := h.sched.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-blocked
	if err := h.sched.Start(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}

	if h.relay.starts != 2 || h.relay.manual != 1 {
		t.Fatalf("expected one initial start plus one manual resume, got starts=%d manual=%d", h.relay.starts, h.relay.manual)
	}
	if probes != 1 {
		t.Fatalf("expected a single probe, got %d", probes)
	}
	if got := h.settings.Get(models.SettingGPUEncoder, ""); got != "h264_nvenc" {
		t.Fatalf("probe result not installed: %q", got)
	}
	if _, err := os.Stat(h.overlay); err != nil {
		t.Fatalf("overlay dir not created: %v", err)
	}
	if !h.sched.Status().Started {
		t.Fatal("expected started status")
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	if err := h.sched.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if h.relay.stops != 1 {
		t.Fatalf("expected relay stopped on shutdown, got %d", h.relay.stops)
	}
}

func TestStoredEncoderSkipsProbe(t *testing.T) {
	h := newHarness(t, mapLoader{models.SettingGPUEncoder: "h264_qsv"})
	h.sched.deps.Probe = func(context.Context) (string, error) {
		t.Fatal("probe must not run when an encoder is configured")
		return "", nil
	}
	h.sched.probeEncoder(context.Background())

	if got := h.settings.Get(models.SettingGPUEncoder, ""); got != "h264_qsv" {
		t.Fatalf("unexpected encoder %q", got)
	}
}

func TestStartRetriesSetupAfterDirectoryFailure(t *testing.T) {
	h := newHarness(t, mapLoader{})
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	h.sched.cfg.Dirs = []string{filepath.Join(blocker, "hls")}

	blocked := make(chan struct{}, 1)
	h.sched.sleep = func(ctx context.Context, d time.Duration) error {
		select {
		case blocked <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := h.sched.Start(ctx); err == nil {
		t.Fatal("expected directory creation to fail")
	}
	if err := h.sched.Start(ctx); err == nil {
		t.Fatal("retried Start must rerun setup and fail again")
	}
	if h.relay.manual != 0 || h.relay.starts != 0 {
		t.Fatalf("failed setup must not touch the relay, starts=%d manual=%d", h.relay.starts, h.relay.manual)
	}

	if err := os.Remove(blocker); err != nil {
		t.Fatal(err)
	}
	if err := h.sched.Start(ctx); err != nil {
		t.Fatalf("start after fixing dirs: %v", err)
	}
	<-blocked
	if !h.sched.Status().Started || h.relay.starts != 1 {
		t.Fatalf("expected loop running with one relay start, status=%+v starts=%d", h.sched.Status(), h.relay.starts)
	}
	if err := h.sched.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

type manualTimer struct {
	f       func()
	stopped bool
	fired   bool
}

type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (c *manualClock) Now() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

func (c *manualClock) AfterFunc(_ time.Duration, f func()) relay.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{f: f}
	c.timers = append(c.timers, t)
	return &manualHandle{clock: c, timer: t}
}

type manualHandle struct {
	clock *manualClock
	timer *manualTimer
}

func (h *manualHandle) Stop() bool {
	h.clock.mu.Lock()
	defer h.clock.mu.Unlock()
	if h.timer.stopped || h.timer.fired {
		return false
	}
	h.timer.stopped = true
	return true
}

func (c *manualClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fire runs every unfired callback. With late set, stopped callbacks run
// too, as a time.AfterFunc already in flight would.
func (c *manualClock) fire(late bool) {
	c.mu.Lock()
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.fired && (late || !t.stopped) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
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

func TestLoopRestartOfDownRelayKeepsAutoRestartArmed(t *testing.T) {
	h := newHarness(t, mapLoader{})
	launcher := process.NewFakeLauncher()
	clock := &manualClock{}
	mgr := relay.New(relay.Config{HLSDir: t.TempDir()}, launcher, h.settings, zerolog.Nop(),
		relay.WithClock(clock), relay.WithStderr(io.Discard))
	h.sched.deps.Relay = mgr

	if err := mgr.Start(); err != nil {
		t.Fatalf("relay start: %v", err)
	}
	launcher.Last().Exit(1)
	eventually(t, "auto-restart to be pending", func() bool { return !mgr.Running() && clock.pending() == 1 })

	// the loop sees the relay down while its own restart is still pending
	h.picker.queue = []pick{{video: &models.Video{ID: 1, Path: "a.mp4", Title: "A"}}}
	if err := h.sched.RunIterations(context.Background(), 1); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if got := len(launcher.Handles()); got != 2 || !mgr.Running() {
		t.Fatalf("loop should have restarted the relay, starts=%d running=%v", got, mgr.Running())
	}
	if len(h.pusher.calls) != 1 {
		t.Fatalf("expected the track to be pushed, got %d pushes", len(h.pusher.calls))
	}

	clock.fire(true)
	if got := len(launcher.Handles()); got != 2 {
		t.Fatalf("superseded restart must not spawn, starts=%d", got)
	}

	// a crash mid-track must still heal without the loop
	launcher.Last().Exit(1)
	eventually(t, "second auto-restart to be pending", func() bool { return clock.pending() == 1 })
	clock.fire(false)
	if got := len(launcher.Handles()); got != 3 || !mgr.Running() {
		t.Fatalf("relay did not heal itself, starts=%d running=%v", got, mgr.Running())
	}
	mgr.Stop()
}
