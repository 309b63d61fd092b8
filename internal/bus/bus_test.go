package bus_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/MrWong99/mindscope/internal/bus"
	"github.com/MrWong99/mindscope/pkg/types"
)

func TestEvent_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ev   bus.Event
		want string
	}{
		{bus.EventAnalysisStarted, "analysisStarted"},
		{bus.EventAnalysisStopped, "analysisStopped"},
		{bus.EventSampleClassified, "sampleClassified"},
		{bus.EventAnalysisError, "analysisError"},
		{bus.Event(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.ev.String(); got != tt.want {
			t.Errorf("Event(%d).String() = %q, want %q", tt.ev, got, tt.want)
		}
	}
}

func TestBus_DeliversInRegistrationOrder(t *testing.T) {
	t.Parallel()

	b := bus.New()
	var order []int
	for i := range 3 {
		b.OnAnalysisStarted(func() { order = append(order, i) })
	}
	b.EmitAnalysisStarted()

	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Errorf("delivery order = %v, want [0 1 2]", order)
	}
}

func TestBus_TypedPayloads(t *testing.T) {
	t.Parallel()

	b := bus.New()
	var gotSample types.Sample
	var gotErr error
	b.OnSampleClassified(func(s types.Sample) { gotSample = s })
	b.OnAnalysisError(func(err error) { gotErr = err })

	want := types.Sample{Emotion: types.Joy, Confidence: 0.8}
	wantErr := errors.New("device gone")
	b.EmitSampleClassified(want)
	b.EmitAnalysisError(wantErr)

	if gotSample != want {
		t.Errorf("sample = %+v, want %+v", gotSample, want)
	}
	if !errors.Is(gotErr, wantErr) {
		t.Errorf("error = %v, want %v", gotErr, wantErr)
	}
}

func TestBus_EventsAreIsolated(t *testing.T) {
	t.Parallel()

	b := bus.New()
	stopped := 0
	b.OnAnalysisStopped(func() { stopped++ })
	b.EmitAnalysisStarted()
	b.EmitSampleClassified(types.Sample{})
	b.EmitAnalysisError(errors.New("x"))
	if stopped != 0 {
		t.Errorf("stopped handler ran %d times for other events", stopped)
	}
}

func TestBus_UnsubscribeMidStream(t *testing.T) {
	t.Parallel()

	b := bus.New()
	var got []types.Emotion
	sub := b.OnSampleClassified(func(s types.Sample) { got = append(got, s.Emotion) })

	b.EmitSampleClassified(types.Sample{Emotion: types.Calm})
	b.EmitSampleClassified(types.Sample{Emotion: types.Joy})
	b.EmitSampleClassified(types.Sample{Emotion: types.Fear})
	sub.Unsubscribe()
	b.EmitSampleClassified(types.Sample{Emotion: types.Anger})
	sub.Unsubscribe()

	want := []types.Emotion{types.Calm, types.Joy, types.Fear}
	if len(got) != len(want) {
		t.Fatalf("received %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: got %q, want %q", i, got[i], want[i])
		}
	}
	if n := b.Subscribers(bus.EventSampleClassified); n != 0 {
		t.Errorf("Subscribers() = %d after Unsubscribe, want 0", n)
	}
}

func TestBus_UnsubscribeDuringEmission(t *testing.T) {
	t.Parallel()

	b := bus.New()
	var calls []string
	var second *bus.Subscription
	b.OnAnalysisStarted(func() {
		calls = append(calls, "first")
		second.Unsubscribe()
	})
	second = b.OnAnalysisStarted(func() { calls = append(calls, "second") })
	b.OnAnalysisStarted(func() { calls = append(calls, "third") })

	b.EmitAnalysisStarted()

	if len(calls) != 2 || calls[0] != "first" || calls[1] != "third" {
		t.Errorf("calls = %v, want [first third]", calls)
	}
}

func TestBus_SubscribeDuringEmission(t *testing.T) {
	t.Parallel()

	b := bus.New()
	late := 0
	b.OnAnalysisStopped(func() {
		b.OnAnalysisStopped(func() { late++ })
	})

	b.EmitAnalysisStopped()
	if late != 0 {
		t.Errorf("handler added during emission ran %d times in that emission", late)
	}
	b.EmitAnalysisStopped()
	if late != 1 {
		t.Errorf("late handler ran %d times, want 1", late)
	}
}

func TestBus_PanicIsolation(t *testing.T) {
	t.Parallel()

	var panics []bus.Event
	b := bus.New(bus.WithPanicHook(func(ev bus.Event, _ any) { panics = append(panics, ev) }))

	before, after := 0, 0
	b.OnSampleClassified(func(types.Sample) { before++ })
	b.OnSampleClassified(func(types.Sample) { panic("boom") })
	b.OnSampleClassified(func(types.Sample) { after++ })

	b.EmitSampleClassified(types.Sample{})
	b.EmitSampleClassified(types.Sample{})

	if before != 2 || after != 2 {
		t.Errorf("before=%d after=%d, want 2 and 2", before, after)
	}
	if len(panics) != 2 || panics[0] != bus.EventSampleClassified {
		t.Errorf("panic hook calls = %v, want two sampleClassified", panics)
	}
}

func TestBus_ConcurrentSubscribeAndEmit(t *testing.T) {
	t.Parallel()

	b := bus.New()
	var mu sync.Mutex
	total := 0

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				sub := b.OnSampleClassified(func(types.Sample) {
					mu.Lock()
					total++
					mu.Unlock()
				})
				b.EmitSampleClassified(types.Sample{})
				sub.Unsubscribe()
			}
		}()
	}
	wg.Wait()

	if n := b.Subscribers(bus.EventSampleClassified); n != 0 {
		t.Errorf("Subscribers() = %d, want 0", n)
	}
	// Each emission reaches at least the emitter's own handler.
	if total < 400 {
		t.Errorf("total deliveries = %d, want at least 400", total)
	}
}
