// Package hardware produces the capability snapshot the policy engine
// consumes. Detection is best-effort: unknown values stay zero and the
// policy engine treats them conservatively.
package hardware

import (
	"runtime"
	"sync"

	"hapied/pkg/types"
)

// Prober supplies a capability snapshot. The default prober inspects the
// host; tests and the policy endpoint inject fixed snapshots instead.
type Prober interface {
	Probe() types.CapabilitySnapshot
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func() types.CapabilitySnapshot

func (f ProberFunc) Probe() types.CapabilitySnapshot { return f() }

// Static returns a prober that always reports cap.
func Static(snap types.CapabilitySnapshot) Prober {
	return ProberFunc(func() types.CapabilitySnapshot { return snap })
}

// hostProber detects once and caches; hardware does not change while the
// daemon runs, except available RAM which is re-read on every probe.
type hostProber struct {
	once sync.Once
	base types.CapabilitySnapshot
}

// NewHostProber returns the default host-inspecting prober.
func NewHostProber() Prober {
	return &hostProber{}
}

func (p *hostProber) Probe() types.CapabilitySnapshot {
	p.once.Do(func() {
		p.base = types.CapabilitySnapshot{
			CPUCores:   runtime.NumCPU(),
			CPUThreads: runtime.NumCPU(),
			CPUArch:    runtime.GOARCH,
			GPUVendor:  types.GPUNone,
			Platform:   runtime.GOOS,
		}
		if total := totalRAM(); total > 0 {
			p.base.TotalRAMBytes = total
		}
	})
	snap := p.base
	if avail := availableRAM(); avail > 0 {
		snap.AvailableRAMBytes = avail
	} else {
		// No fresher number than the total; policy headroom absorbs the
		// optimism.
		snap.AvailableRAMBytes = snap.TotalRAMBytes
	}
	return snap
}
