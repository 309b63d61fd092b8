package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/mindscope/internal/engine"
	"github.com/MrWong99/mindscope/internal/observe"
	"github.com/MrWong99/mindscope/pkg/audio"
	"github.com/MrWong99/mindscope/pkg/audio/mock"
	"github.com/MrWong99/mindscope/pkg/types"
)

// ─── Helpers ──────────────────────────────────────────────────────────────────

// loudFrame alternates between the waveform extremes and between empty and
// full spectrum bins, which classifies as frustration with confidence ~0.89.
func loudFrame() audio.AudioFrame {
	f := mock.SilentFrame(1024)
	for i := range f.TimeDomain {
		if i%2 == 1 {
			f.TimeDomain[i] = 255
			f.Frequency[i] = 255
		} else {
			f.TimeDomain[i] = 0
		}
	}
	return f
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newEngine(t *testing.T, dev *mock.Device, opts ...engine.Option) *engine.Engine {
	t.Helper()
	opts = append([]engine.Option{
		engine.WithInterval(2 * time.Millisecond),
		engine.WithMetrics(testMetrics(t)),
	}, opts...)
	e := engine.New(dev, opts...)
	t.Cleanup(e.Stop)
	return e
}

// recorder captures every bus notification in order.
type recorder struct {
	mu      sync.Mutex
	events  []string
	samples []types.Sample
	errs    []error
}

func record(e *engine.Engine) *recorder {
	r := &recorder{}
	b := e.Bus()
	b.OnAnalysisStarted(func() { r.add("started") })
	b.OnAnalysisStopped(func() { r.add("stopped") })
	b.OnSampleClassified(func(s types.Sample) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, "sample")
		r.samples = append(r.samples, s)
	})
	b.OnAnalysisError(func(err error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, "error")
		r.errs = append(r.errs, err)
	})
	return r
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count(ev string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == ev {
			n++
		}
	}
	return n
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// waitFor polls cond until it holds or the deadline passes.
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

// ─── Lifecycle ────────────────────────────────────────────────────────────────

func TestEngine_InitialState(t *testing.T) {
	t.Parallel()

	e := newEngine(t, &mock.Device{})
	if got := e.State(); got != engine.Idle {
		t.Errorf("State() = %v, want idle", got)
	}
	if _, ok := e.CurrentEmotionalState(); ok {
		t.Error("CurrentEmotionalState() reported a state before any sample")
	}
}

func TestEngine_StartProducesSamples(t *testing.T) {
	t.Parallel()

	stream := &mock.Stream{Frames: []audio.AudioFrame{loudFrame()}}
	dev := &mock.Device{StreamResult: stream}
	e := newEngine(t, dev)
	rec := record(e)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := e.State(); got != engine.Analyzing {
		t.Errorf("State() = %v, want analyzing", got)
	}
	waitFor(t, "three samples", func() bool { return rec.count("sample") >= 3 })

	events := rec.snapshot()
	if events[0] != "started" {
		t.Errorf("first event = %q, want started", events[0])
	}
	if rec.count("started") != 1 {
		t.Errorf("started emitted %d times, want 1", rec.count("started"))
	}

	got, ok := e.CurrentEmotionalState()
	if !ok || got != types.Frustration {
		t.Errorf("CurrentEmotionalState() = %q, %v; want frustration, true", got, ok)
	}
	if e.History().Len() == 0 {
		t.Error("confident samples were not retained")
	}

	st := e.Status()
	if st.SessionID == "" || st.Device != "mock" || st.State != engine.Analyzing {
		t.Errorf("Status() = %+v", st)
	}
}

func TestEngine_LowConfidenceSamplesStillPublished(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{StreamResult: &mock.Stream{}}
	e := newEngine(t, dev)
	rec := record(e)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "samples", func() bool { return rec.count("sample") >= 3 })

	rec.mu.Lock()
	s := rec.samples[0]
	rec.mu.Unlock()
	if s.Confidence != 0.3 {
		t.Errorf("silent sample confidence = %v, want 0.3", s.Confidence)
	}
	// 1024 silent bins read as rapid breathing, so withdrawal maps to
	// depression.
	if s.Emotion != types.Depression || s.Features.Breathing != types.BreathingRapid {
		t.Errorf("silent sample = %s with %s breathing, want depression with rapid breathing",
			s.Emotion, s.Features.Breathing)
	}
	if n := e.History().Len(); n != 0 {
		t.Errorf("history length = %d, want 0", n)
	}
	if _, ok := e.CurrentEmotionalState(); ok {
		t.Error("CurrentEmotionalState() reported a low-confidence sample")
	}
}

func TestEngine_StartWhileRunning(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{}
	e := newEngine(t, dev)
	rec := record(e)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := e.Start(context.Background())
	if !errors.Is(err, engine.ErrAlreadyAcquired) {
		t.Fatalf("second Start = %v, want ErrAlreadyAcquired", err)
	}
	if got := e.State(); got != engine.Analyzing {
		t.Errorf("State() = %v, want analyzing", got)
	}
	if n := dev.CallCountOpen(); n != 1 {
		t.Errorf("device opened %d times, want 1", n)
	}
	if n := rec.count("started"); n != 1 {
		t.Errorf("started emitted %d times, want 1", n)
	}
}

func TestEngine_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	stream := &mock.Stream{}
	e := newEngine(t, &mock.Device{StreamResult: stream})
	rec := record(e)

	e.Stop() // before any start
	if n := rec.count("stopped"); n != 0 {
		t.Fatalf("Stop on idle engine emitted %d stopped events", n)
	}

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.Stop()
	e.Stop()

	if got := e.State(); got != engine.Stopped {
		t.Errorf("State() = %v, want stopped", got)
	}
	if n := rec.count("stopped"); n != 1 {
		t.Errorf("stopped emitted %d times, want 1", n)
	}
	if !stream.Closed() {
		t.Error("stream was not closed on stop")
	}
	if stream.CallCountClose != 1 {
		t.Errorf("stream closed %d times, want 1", stream.CallCountClose)
	}
	if e.Sessions().Active() != nil {
		t.Error("session still held after stop")
	}
}

func TestEngine_NoTicksAfterStop(t *testing.T) {
	t.Parallel()

	e := newEngine(t, &mock.Device{})
	rec := record(e)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "samples", func() bool { return rec.count("sample") >= 2 })
	e.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	after := rec.count("sample")
	time.Sleep(20 * time.Millisecond)
	if got := rec.count("sample"); got != after {
		t.Errorf("samples grew from %d to %d after the loop exited", after, got)
	}
}

func TestEngine_RestartAfterStop(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{}
	e := newEngine(t, dev)
	rec := record(e)

	for i := range 2 {
		if err := e.Start(context.Background()); err != nil {
			t.Fatalf("Start #%d: %v", i+1, err)
		}
		e.Stop()
	}
	if n := dev.CallCountOpen(); n != 2 {
		t.Errorf("device opened %d times, want 2", n)
	}
	if s, p := rec.count("started"), rec.count("stopped"); s != 2 || p != 2 {
		t.Errorf("started=%d stopped=%d, want 2 and 2", s, p)
	}
}

// ─── Failures ─────────────────────────────────────────────────────────────────

func TestEngine_AcquireFailure(t *testing.T) {
	t.Parallel()

	openErr := errors.New("permission denied")
	e := newEngine(t, &mock.Device{OpenError: openErr})
	rec := record(e)

	err := e.Start(context.Background())
	if !errors.Is(err, engine.ErrDeviceUnavailable) {
		t.Fatalf("Start = %v, want ErrDeviceUnavailable", err)
	}
	if !errors.Is(err, openErr) {
		t.Errorf("Start error %v does not wrap the device error", err)
	}
	if got := e.State(); got != engine.Errored {
		t.Errorf("State() = %v, want errored", got)
	}
	if got := rec.snapshot(); len(got) != 1 || got[0] != "error" {
		t.Errorf("events = %v, want [error]", got)
	}
	if st := e.Status(); !errors.Is(st.LastError, engine.ErrDeviceUnavailable) {
		t.Errorf("Status().LastError = %v", st.LastError)
	}

	// Stop from errored is silent.
	e.Stop()
	if n := rec.count("stopped"); n != 0 {
		t.Errorf("Stop after failure emitted %d stopped events", n)
	}
}

func TestEngine_ReadFailureMovesToErrored(t *testing.T) {
	t.Parallel()

	readErr := errors.New("device unplugged")
	stream := &mock.Stream{ReadError: readErr, FailAfter: 2}
	e := newEngine(t, &mock.Device{StreamResult: stream})
	rec := record(e)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "errored", func() bool { return e.State() == engine.Errored })

	if n := rec.count("sample"); n != 2 {
		t.Errorf("samples = %d, want 2", n)
	}
	if n := rec.count("error"); n != 1 {
		t.Fatalf("errors = %d, want 1", n)
	}
	rec.mu.Lock()
	got := rec.errs[0]
	rec.mu.Unlock()
	if !errors.Is(got, engine.ErrDeviceUnavailable) || !errors.Is(got, readErr) {
		t.Errorf("error = %v, want ErrDeviceUnavailable wrapping the read error", got)
	}
	if !stream.Closed() {
		t.Error("stream not released after failure")
	}
	if n := rec.count("stopped"); n != 0 {
		t.Errorf("failure emitted %d stopped events", n)
	}
}

func TestEngine_StartFromErrored(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{OpenError: errors.New("busy")}
	e := newEngine(t, dev)

	if err := e.Start(context.Background()); err == nil {
		t.Fatal("first Start succeeded")
	}

	dev.OpenError = nil // safe: no Open in flight
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start from errored: %v", err)
	}
	if got := e.State(); got != engine.Analyzing {
		t.Errorf("State() = %v, want analyzing", got)
	}
	if st := e.Status(); st.LastError != nil {
		t.Errorf("LastError = %v after successful restart", st.LastError)
	}
}

func TestEngine_StopDuringAcquire(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	dev := &mock.Device{
		OpenHook: func(ctx context.Context) error {
			close(entered)
			<-ctx.Done()
			return ctx.Err()
		},
	}
	e := newEngine(t, dev)
	rec := record(e)

	errc := make(chan error, 1)
	go func() { errc <- e.Start(context.Background()) }()

	<-entered
	if got := e.State(); got != engine.Acquiring {
		t.Errorf("State() = %v, want acquiring", got)
	}
	if err := e.Start(context.Background()); !errors.Is(err, engine.ErrAlreadyAcquired) {
		t.Errorf("concurrent Start = %v, want ErrAlreadyAcquired", err)
	}
	e.Stop()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Start = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
	if got := e.State(); got != engine.Stopped {
		t.Errorf("State() = %v, want stopped", got)
	}
	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("events = %v, want none", got)
	}
	if e.Sessions().Active() != nil {
		t.Error("session held after interrupted start")
	}
}

func TestEngine_CallerCancelsAcquire(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newEngine(t, &mock.Device{})
	rec := record(e)

	err := e.Start(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Start = %v, want context.Canceled", err)
	}
	if errors.Is(err, engine.ErrDeviceUnavailable) {
		t.Error("cancellation reported as device failure")
	}
	if got := e.State(); got.Running() {
		t.Errorf("State() = %v after cancelled start", got)
	}
	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("events = %v, want none", got)
	}
}

func TestEngine_HandlerMayStopEngine(t *testing.T) {
	t.Parallel()

	e := newEngine(t, &mock.Device{})
	rec := record(e)
	e.Bus().OnSampleClassified(func(types.Sample) { e.Stop() })

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "stopped", func() bool { return e.State() == engine.Stopped })
	if n := rec.count("stopped"); n != 1 {
		t.Errorf("stopped emitted %d times, want 1", n)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		s    engine.State
		want string
	}{
		{engine.Idle, "idle"},
		{engine.Acquiring, "acquiring"},
		{engine.Analyzing, "analyzing"},
		{engine.Stopped, "stopped"},
		{engine.Errored, "errored"},
		{engine.State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
