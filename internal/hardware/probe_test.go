package hardware

import (
	"testing"

	"hapied/pkg/types"
)

func TestStaticProber(t *testing.T) {
	snap := types.CapabilitySnapshot{CPUCores: 4, TotalRAMBytes: 8 << 30}
	p := Static(snap)
	if got := p.Probe(); got != snap {
		t.Fatalf("static prober must echo its snapshot, got %+v", got)
	}
}

func TestHostProberSane(t *testing.T) {
	snap := NewHostProber().Probe()
	if snap.CPUCores < 1 || snap.CPUThreads < 1 {
		t.Fatalf("cpu counts must be positive: %+v", snap)
	}
	if snap.Platform == "" || snap.CPUArch == "" {
		t.Fatalf("platform fields must be set: %+v", snap)
	}
	if snap.AvailableRAMBytes > snap.TotalRAMBytes && snap.TotalRAMBytes > 0 {
		t.Fatalf("available ram exceeds total: %+v", snap)
	}
}

func TestHostProberStableAcrossCalls(t *testing.T) {
	p := NewHostProber()
	a, b := p.Probe(), p.Probe()
	if a.CPUCores != b.CPUCores || a.TotalRAMBytes != b.TotalRAMBytes {
		t.Fatalf("fixed fields changed between probes: %+v vs %+v", a, b)
	}
}
