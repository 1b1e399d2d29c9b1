package pull

import (
	"sync"
	"sync/atomic"
	"time"

	"hapied/pkg/types"
)

const (
	// speedSampleInterval gates EWMA updates so per-chunk jitter does not
	// whip the estimate around.
	speedSampleInterval = 500 * time.Millisecond
	// ewmaAlpha weights the newest sample.
	ewmaAlpha = 0.3
	// subscriberBuffer is the per-subscriber channel depth; intermediate
	// events are dropped for slow consumers, terminal events never are.
	subscriberBuffer = 16
)

// job tracks one in-flight transfer. Ephemeral: created by Pull,
// destroyed on its terminal outcome, never persisted.
type job struct {
	modelID    string
	jobID      string
	totalBytes int64 // 0 = unknown
	startedAt  time.Time

	downloaded atomic.Int64
	cancelled  atomic.Bool

	mu              sync.Mutex
	subs            []chan types.ProgressEvent
	done            bool
	speedBPS        float64
	lastSampleTime  time.Time
	lastSampleBytes int64
}

func newJob(modelID, jobID string, totalBytes int64) *job {
	now := time.Now()
	return &job{
		modelID:        modelID,
		jobID:          jobID,
		totalBytes:     totalBytes,
		startedAt:      now,
		lastSampleTime: now,
	}
}

// subscribe attaches a new progress listener. Returns nil once the job
// has finished; the caller must then treat the registry as the source
// of truth.
func (j *job) subscribe() <-chan types.ProgressEvent {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.done {
		return nil
	}
	ch := make(chan types.ProgressEvent, subscriberBuffer)
	j.subs = append(j.subs, ch)
	return ch
}

// sample advances the EWMA speed estimate if the sampling interval has
// elapsed. Called at chunk boundaries.
func (j *job) sample(now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	elapsed := now.Sub(j.lastSampleTime)
	if elapsed < speedSampleInterval {
		return
	}
	cur := j.downloaded.Load()
	instant := float64(cur-j.lastSampleBytes) / elapsed.Seconds()
	if j.speedBPS == 0 {
		j.speedBPS = instant
	} else {
		j.speedBPS = ewmaAlpha*instant + (1-ewmaAlpha)*j.speedBPS
	}
	j.lastSampleTime = now
	j.lastSampleBytes = cur
}

// snapshot builds a progress event from the current counters.
func (j *job) snapshot(status types.PullStatus, errMsg string) types.ProgressEvent {
	j.mu.Lock()
	speed := j.speedBPS
	j.mu.Unlock()

	downloaded := j.downloaded.Load()
	ev := types.ProgressEvent{
		ModelID:         j.modelID,
		JobID:           j.jobID,
		Status:          status,
		DownloadedBytes: downloaded,
		TotalBytes:      j.totalBytes,
		SpeedBPS:        speed,
		ETASeconds:      -1,
		Error:           errMsg,
	}
	if j.totalBytes > 0 {
		ev.Percent = float64(downloaded) / float64(j.totalBytes) * 100
		if speed >= 1 {
			ev.ETASeconds = int64(float64(j.totalBytes-downloaded) / speed)
		}
	}
	if status == types.PullComplete {
		ev.Percent = 100
		ev.ETASeconds = 0
	}
	return ev
}

// broadcast delivers an intermediate event best-effort: slow subscribers
// miss samples rather than stalling the transfer.
func (j *job) broadcast(ev types.ProgressEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.done {
		return
	}
	for _, ch := range j.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// finish delivers the terminal event to every subscriber and closes the
// channels. Delivery never blocks: if a subscriber's buffer is full, the
// oldest pending sample is displaced so the terminal event always lands,
// even when a subscriber stopped draining.
func (j *job) finish(ev types.ProgressEvent) {
	j.mu.Lock()
	subs := j.subs
	j.subs = nil
	j.done = true
	j.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			// The job goroutine is the only sender, so the freed slot
			// cannot be refilled before this send.
			ch <- ev
		}
		close(ch)
	}
}
