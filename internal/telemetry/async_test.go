package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockEventEmitter implements EventEmitter for tests.
type mockEventEmitter struct {
	mu      sync.Mutex
	events  []*Event
	emitErr error
	done    chan struct{}
}

func (m *mockEventEmitter) Emit(ctx context.Context, event *Event) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	if m.done != nil {
		m.done <- struct{}{}
	}
	return m.emitErr
}

func (m *mockEventEmitter) getEvents() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Event(nil), m.events...)
}

func waitN(t *testing.T, ch chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d emits", i, n)
		}
	}
}

func TestEmitAsync_NilArguments(t *testing.T) {
	emitter := &mockEventEmitter{}
	EmitAsync(nil, context.Background(), NewEvent(EventLogin))
	EmitAsync(emitter, context.Background(), nil)

	time.Sleep(10 * time.Millisecond)
	if got := emitter.getEvents(); len(got) != 0 {
		t.Errorf("expected 0 events, got %d", len(got))
	}
}

func TestEmitAsync_SurvivesCancelledContext(t *testing.T) {
	emitter := &mockEventEmitter{done: make(chan struct{}, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	event := NewEvent(EventLogout)
	event.UserID = "42"
	EmitAsync(emitter, ctx, event)
	waitN(t, emitter.done, 1)

	events := emitter.getEvents()
	if len(events) != 1 || events[0].UserID != "42" || events[0].Type != EventLogout {
		t.Errorf("events = %+v", events)
	}
}

func TestEmitAsync_ErrorDoesNotPanic(t *testing.T) {
	emitter := &mockEventEmitter{emitErr: errors.New("broker down"), done: make(chan struct{}, 1)}
	EmitAsync(emitter, context.Background(), NewEvent(EventLogin))
	waitN(t, emitter.done, 1)
}

func TestEmitAsync_Concurrent(t *testing.T) {
	emitter := &mockEventEmitter{done: make(chan struct{}, 10)}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			EmitAsync(emitter, context.Background(), NewEvent(EventRefreshed))
		}()
	}
	wg.Wait()
	waitN(t, emitter.done, 10)
	if got := len(emitter.getEvents()); got != 10 {
		t.Errorf("expected 10 events, got %d", got)
	}
}

func TestMulti(t *testing.T) {
	a := &mockEventEmitter{}
	b := &mockEventEmitter{emitErr: errors.New("b failed")}
	m := Multi(a, nil, b)

	err := m.Emit(context.Background(), NewEvent(EventLogin))
	if err == nil || err.Error() != "b failed" {
		t.Errorf("err = %v, want b failed", err)
	}
	if len(a.getEvents()) != 1 || len(b.getEvents()) != 1 {
		t.Error("every emitter should receive the event")
	}
	if _, ok := Multi(nil).(Noop); !ok {
		t.Error("Multi with no emitters should be Noop")
	}
}

func TestEvent_MetadataJSON(t *testing.T) {
	e := NewEvent(EventForcedLogout)
	if e.MetadataJSON() != nil {
		t.Error("empty metadata should encode to nil")
	}
	e.Metadata = map[string]string{"reason": "refresh_rejected"}
	if got := string(e.MetadataJSON()); got != `{"reason":"refresh_rejected"}` {
		t.Errorf("MetadataJSON = %s", got)
	}
	if e.CreatedAt.IsZero() {
		t.Error("NewEvent should stamp CreatedAt")
	}
}
