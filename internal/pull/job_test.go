package pull

import (
	"testing"
	"time"

	"hapied/pkg/types"
)

func nearlyEqual(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-6
}

func TestSpeedEWMA(t *testing.T) {
	j := newJob("m", "j", 10000)
	start := time.Now()
	j.lastSampleTime = start

	j.downloaded.Store(1000)
	j.sample(start.Add(time.Second))
	if got := j.snapshot(types.PullPulling, "").SpeedBPS; !nearlyEqual(got, 1000) {
		t.Fatalf("first sample seeds the average: got %v", got)
	}

	j.downloaded.Store(3000)
	j.sample(start.Add(2 * time.Second))
	// 0.3*2000 + 0.7*1000
	if got := j.snapshot(types.PullPulling, "").SpeedBPS; !nearlyEqual(got, 1300) {
		t.Fatalf("ewma after second sample: got %v", got)
	}
}

func TestSampleIntervalGate(t *testing.T) {
	j := newJob("m", "j", 0)
	start := time.Now()
	j.lastSampleTime = start
	j.downloaded.Store(500)
	j.sample(start.Add(speedSampleInterval / 2))
	if got := j.snapshot(types.PullPulling, "").SpeedBPS; got != 0 {
		t.Fatalf("sub-interval sample must not update speed: got %v", got)
	}
}

func TestETAUnknown(t *testing.T) {
	// Total unknown.
	j := newJob("m", "j", 0)
	if eta := j.snapshot(types.PullPulling, "").ETASeconds; eta != -1 {
		t.Fatalf("eta must be unknown without a total, got %d", eta)
	}
	// Total known but no speed sample yet.
	j = newJob("m", "j", 5000)
	if eta := j.snapshot(types.PullPulling, "").ETASeconds; eta != -1 {
		t.Fatalf("eta must be unknown at zero speed, got %d", eta)
	}
}

func TestETAFromSpeed(t *testing.T) {
	j := newJob("m", "j", 10000)
	start := time.Now()
	j.lastSampleTime = start
	j.downloaded.Store(4000)
	j.sample(start.Add(2 * time.Second)) // 2000 B/s
	ev := j.snapshot(types.PullPulling, "")
	if ev.ETASeconds != 3 {
		t.Fatalf("expected 3s eta for 6000 bytes at 2000 B/s, got %d", ev.ETASeconds)
	}
	if !nearlyEqual(ev.Percent, 40) {
		t.Fatalf("expected 40%%, got %v", ev.Percent)
	}
}

func TestTerminalEventIsGuaranteed(t *testing.T) {
	j := newJob("m", "j", 100)
	ch := j.subscribe()
	// Saturate the subscriber buffer with intermediate events.
	for i := 0; i < subscriberBuffer*2; i++ {
		j.broadcast(j.snapshot(types.PullPulling, ""))
	}
	done := make(chan types.ProgressEvent, 1)
	go func() {
		var last types.ProgressEvent
		for ev := range ch {
			last = ev
		}
		done <- last
	}()
	j.downloaded.Store(100)
	j.finish(j.snapshot(types.PullComplete, ""))
	last := <-done
	if last.Status != types.PullComplete {
		t.Fatalf("terminal event lost: %+v", last)
	}
	if sub := j.subscribe(); sub != nil {
		t.Fatalf("finished job must refuse new subscribers")
	}
}
