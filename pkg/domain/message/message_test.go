package message

import (
	"testing"
	"time"

	"github.com/wndlink/wndlink/pkg/domain"
)

func TestIDGeneratorSameMillisecondIsUnique(t *testing.T) {
	clock := domain.NewManualClock(time.UnixMilli(1_700_000_000_000))
	gen := NewIDGenerator(clock)

	first := gen.Next()
	second := gen.Next()
	if first == second {
		t.Fatalf("expected distinct ids within one millisecond, got %d twice", first)
	}
	if second != first+1 {
		t.Errorf("expected %d, got %d", first+1, second)
	}
}

func TestIDGeneratorFollowsClockAndSurvivesBackwardsJump(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)
	clock := domain.NewManualClock(start)
	gen := NewIDGenerator(clock)

	a := gen.Next()
	clock.Advance(50 * time.Millisecond)
	b := gen.Next()
	if b != a+50 {
		t.Errorf("expected id to follow the clock: %d -> %d", a, b)
	}

	clock.Set(start.Add(-time.Hour))
	c := gen.Next()
	if c <= b {
		t.Errorf("expected monotonic id after clock step back, got %d after %d", c, b)
	}
}

func TestAckForSwapsEndpoints(t *testing.T) {
	req := Envelope{
		Type:        TypeHeartbeat,
		Subtype:     SubtypeRequest,
		Source:      EndpointApp,
		Destination: EndpointCompanion,
		ID:          42,
		Payload:     map[string]interface{}{"n": 1},
	}
	ack := AckFor(req)
	if ack.Subtype != SubtypeAck || ack.ID != 42 || ack.Type != TypeHeartbeat {
		t.Errorf("unexpected ack %+v", ack)
	}
	if ack.Source != EndpointCompanion || ack.Destination != EndpointApp {
		t.Errorf("expected endpoints swapped, got %s -> %s", ack.Source, ack.Destination)
	}
	if ack.Payload != nil {
		t.Errorf("expected empty ack payload, got %v", ack.Payload)
	}
}

func TestIsFixedPair(t *testing.T) {
	tests := []struct {
		src, dst Endpoint
		want     bool
	}{
		{EndpointApp, EndpointCompanion, true},
		{EndpointCompanion, EndpointApp, true},
		{EndpointApp, Endpoint("child-frame"), false},
		{EndpointApp, EndpointApp, false},
	}
	for _, tt := range tests {
		if got := IsFixedPair(tt.src, tt.dst); got != tt.want {
			t.Errorf("IsFixedPair(%s, %s) = %v, want %v", tt.src, tt.dst, got, tt.want)
		}
	}
}

func TestDecodePayload(t *testing.T) {
	env := Envelope{Type: TypeServerError, Payload: map[string]interface{}{"status": 502.0, "url": "/api"}}

	var got struct {
		Status int    `json:"status"`
		URL    string `json:"url"`
	}
	if err := env.DecodePayload(&got); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if got.Status != 502 || got.URL != "/api" {
		t.Errorf("unexpected payload %+v", got)
	}

	if err := (Envelope{}).DecodePayload(&got); err != ErrEmptyPayload {
		t.Errorf("expected ErrEmptyPayload, got %v", err)
	}
}
