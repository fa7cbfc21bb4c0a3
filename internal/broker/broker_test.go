package broker

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestReconnectBackoffDoublesUpToMax(t *testing.T) {
	b := New(Config{
		ReconnectIntervalMin: time.Second,
		ReconnectIntervalMax: 4 * time.Second,
	}, zap.NewNop())

	got := []time.Duration{
		b.ReconnectBackoff(),
		b.ReconnectBackoff(),
		b.ReconnectBackoff(),
		b.ReconnectBackoff(),
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("backoff[%d]: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestTickLivenessExpires(t *testing.T) {
	b := New(Config{HeartbeatLiveness: 2}, zap.NewNop())
	if b.TickLiveness() {
		t.Fatal("expected liveness to survive first missed beat")
	}
	if !b.TickLiveness() {
		t.Fatal("expected liveness to expire after HeartbeatLiveness missed beats")
	}
}

func TestOnFrameReceivedResetsLiveness(t *testing.T) {
	b := New(Config{HeartbeatLiveness: 2}, zap.NewNop())
	b.TickLiveness()
	b.OnFrameReceived()
	if b.TickLiveness() {
		t.Fatal("expected liveness to be reset by OnFrameReceived")
	}
}
