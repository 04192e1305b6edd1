package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan FrameCapturedEvent, 1)

	unsub := bus.Subscribe(func(e FrameCapturedEvent) {
		received <- e
	})
	defer unsub()

	event := FrameCapturedEvent{
		Device:    "/dev/video0",
		Index:     2,
		Sequence:  41,
		BytesUsed: 7833600,
	}
	bus.Publish(event)

	got := <-received
	if got != event {
		t.Errorf("Expected %+v, got %+v", event, got)
	}
}

func TestBus_MultipleSubscribers(_ *testing.T) {
	bus := New()
	received1 := make(chan CaptureStateChangedEvent, 1)
	received2 := make(chan CaptureStateChangedEvent, 1)

	unsub1 := bus.Subscribe(func(e CaptureStateChangedEvent) {
		received1 <- e
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(e CaptureStateChangedEvent) {
		received2 <- e
	})
	defer unsub2()

	bus.Publish(CaptureStateChangedEvent{Device: "/dev/video0", State: StateStreaming})

	<-received1
	<-received2
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan CaptureErrorEvent, 1)

	unsub := bus.Subscribe(func(e CaptureErrorEvent) {
		received <- e
	})

	bus.Publish(CaptureErrorEvent{Device: "/dev/video0"})
	<-received

	unsub()

	bus.Publish(CaptureErrorEvent{Device: "/dev/video1"})
	select {
	case <-received:
		t.Fatal("Should not have received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()

	capturedReceived := make(chan bool, 1)
	droppedReceived := make(chan bool, 1)

	unsub1 := bus.Subscribe(func(_ FrameCapturedEvent) {
		capturedReceived <- true
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(_ FrameDroppedEvent) {
		droppedReceived <- true
	})
	defer unsub2()

	bus.Publish(FrameCapturedEvent{Device: "/dev/video0"})
	<-capturedReceived

	select {
	case <-droppedReceived:
		t.Fatal("Dropped subscriber should NOT have received FrameCapturedEvent")
	case <-time.After(10 * time.Millisecond):
	}

	bus.Publish(FrameDroppedEvent{Device: "/dev/video0", Reason: "corrupt"})
	<-droppedReceived

	select {
	case <-capturedReceived:
		t.Fatal("Captured subscriber should NOT have received FrameDroppedEvent")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_ThreadSafety(_ *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	numGoroutines := 10
	eventsPerGoroutine := 100
	expected := numGoroutines * eventsPerGoroutine

	receivedCh := make(chan bool, expected)

	unsub := bus.Subscribe(func(_ CaptureTimeoutEvent) {
		receivedCh <- true
	})
	defer unsub()

	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range eventsPerGoroutine {
				bus.Publish(CaptureTimeoutEvent{Device: "/dev/video0", Consecutive: i})
			}
		}()
	}

	wg.Wait()

	for range expected {
		<-receivedCh
	}
}

func TestBus_AllEventTypes(t *testing.T) {
	bus := New()

	tests := []struct {
		name  string
		event Event
	}{
		{"CaptureStateChanged", CaptureStateChangedEvent{Device: "/dev/video0", State: StateStarting}},
		{"FrameCaptured", FrameCapturedEvent{Device: "/dev/video0"}},
		{"FrameDropped", FrameDroppedEvent{Device: "/dev/video0", Reason: "frame-size"}},
		{"CaptureTimeout", CaptureTimeoutEvent{Device: "/dev/video0", Consecutive: 1}},
		{"CaptureError", CaptureErrorEvent{Device: "/dev/video0", Status: "device-error"}},
		{"DeviceRemoved", DeviceRemovedEvent{Device: "/dev/video0"}},
		{"CaptureMetrics", CaptureMetricsEvent{Device: "/dev/video0", FPS: 30}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(_ *testing.T) {
			received := make(chan Event, 1)

			var unsub func()
			switch tt.event.(type) {
			case CaptureStateChangedEvent:
				unsub = bus.Subscribe(func(e CaptureStateChangedEvent) { received <- e })
			case FrameCapturedEvent:
				unsub = bus.Subscribe(func(e FrameCapturedEvent) { received <- e })
			case FrameDroppedEvent:
				unsub = bus.Subscribe(func(e FrameDroppedEvent) { received <- e })
			case CaptureTimeoutEvent:
				unsub = bus.Subscribe(func(e CaptureTimeoutEvent) { received <- e })
			case CaptureErrorEvent:
				unsub = bus.Subscribe(func(e CaptureErrorEvent) { received <- e })
			case DeviceRemovedEvent:
				unsub = bus.Subscribe(func(e DeviceRemovedEvent) { received <- e })
			case CaptureMetricsEvent:
				unsub = bus.Subscribe(func(e CaptureMetricsEvent) { received <- e })
			}
			defer unsub()

			bus.Publish(tt.event)
			<-received
		})
	}
}

func TestBus_UnknownHandler(_ *testing.T) {
	bus := New()
	unsub := bus.Subscribe(func(_ string) {})
	unsub()
}

func TestEventJSONSerialization(t *testing.T) {
	event := FrameDroppedEvent{
		Device:   "/dev/video0",
		Index:    1,
		Sequence: 57,
		Reason:   "corrupt",
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	var result map[string]any
	if unmarshalErr := json.Unmarshal(data, &result); unmarshalErr != nil {
		t.Fatalf("Failed to unmarshal: %v", unmarshalErr)
	}

	for _, key := range []string{"device", "index", "sequence", "reason"} {
		if _, ok := result[key]; !ok {
			t.Errorf("missing JSON key %q in %s", key, data)
		}
	}
}

func TestCaptureStateChangedEvent_IsStreaming(t *testing.T) {
	tests := []struct {
		state    string
		expected bool
	}{
		{StateStarting, false},
		{StateStreaming, true},
		{StateStopped, false},
	}

	for _, tt := range tests {
		if got := (CaptureStateChangedEvent{State: tt.state}).IsStreaming(); got != tt.expected {
			t.Errorf("IsStreaming() for %q = %v, want %v", tt.state, got, tt.expected)
		}
	}
}

func TestForwarder(t *testing.T) {
	bus := New()
	fwd := NewForwarder(10)
	Forward[DeviceRemovedEvent](bus, fwd)
	Forward[CaptureTimeoutEvent](bus, fwd)
	defer fwd.Close()

	bus.Publish(DeviceRemovedEvent{Device: "/dev/video0"})

	select {
	case received := <-fwd.C():
		removed, ok := received.(DeviceRemovedEvent)
		if !ok {
			t.Fatalf("Expected DeviceRemovedEvent, got %T", received)
		}
		if removed.Device != "/dev/video0" {
			t.Errorf("Expected device /dev/video0, got %s", removed.Device)
		}
	case <-time.After(time.Second):
		t.Fatal("event not forwarded")
	}

	bus.Publish(CaptureTimeoutEvent{Device: "/dev/video0", Consecutive: 1})
	select {
	case received := <-fwd.C():
		if _, ok := received.(CaptureTimeoutEvent); !ok {
			t.Fatalf("Expected CaptureTimeoutEvent, got %T", received)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout event not forwarded")
	}
}

func TestForwarder_DropsWhenFull(t *testing.T) {
	bus := New()
	fwd := NewForwarder(1)
	Forward[FrameCapturedEvent](bus, fwd)
	defer fwd.Close()

	for range 3 {
		bus.Publish(FrameCapturedEvent{Device: "/dev/video0"})
	}

	deadline := time.Now().Add(time.Second)
	for fwd.Dropped() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := fwd.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
	if len(fwd.C()) != 1 {
		t.Errorf("channel holds %d events, want 1", len(fwd.C()))
	}
}

func TestForwarder_Close(t *testing.T) {
	bus := New()
	fwd := NewForwarder(4)
	Forward[DeviceRemovedEvent](bus, fwd)

	fwd.Close()
	fwd.Close()
	Forward[DeviceRemovedEvent](bus, fwd)

	bus.Publish(DeviceRemovedEvent{Device: "/dev/video0"})
	select {
	case ev := <-fwd.C():
		t.Errorf("received %T after Close", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
