// Package pull drives model weight acquisition: one streaming download
// per model id, progress fan-out to any number of subscribers, and
// cooperative cancellation at chunk boundaries. The pipeline is the only
// writer of weight bytes on disk; all state changes go through the
// registry.
package pull

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"hapied/internal/common/fsutil"
	"hapied/internal/registry"
	"hapied/pkg/types"
)

const (
	// DefaultChunkBytes is the read size between cancel checks.
	DefaultChunkBytes = 1 << 20
	// DefaultMaxConcurrent bounds simultaneous transfers across model ids.
	DefaultMaxConcurrent = 2
	// storageMargin keeps some disk free beyond the transfer itself.
	storageMargin = 256 << 20
	// partialSuffix marks in-flight files; they are swept on startup.
	partialSuffix = ".partial"

	hfResolveURL = "https://huggingface.co/%s/resolve/main/%s"
)

// Pipeline owns the live PullJob set. Safe for concurrent use.
type Pipeline struct {
	registry   *registry.Registry
	client     *http.Client
	modelsDir  string
	chunkBytes int
	maxJobs    int
	limiter    *rate.Limiter
	log        zerolog.Logger

	mu   sync.Mutex
	jobs map[string]*job
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithHTTPClient replaces the default HTTP client (tests point it at a
// local server).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Pipeline) {
		if c != nil {
			p.client = c
		}
	}
}

// WithChunkBytes sets the read size between cancel checks.
func WithChunkBytes(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.chunkBytes = n
		}
	}
}

// WithMaxConcurrent caps simultaneous transfers; 0 means unbounded.
func WithMaxConcurrent(n int) Option {
	return func(p *Pipeline) { p.maxJobs = n }
}

// WithRateLimit caps aggregate download bandwidth in bytes/sec; 0 means
// unlimited.
func WithRateLimit(bytesPerSec int) Option {
	return func(p *Pipeline) {
		if bytesPerSec > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec)
		}
	}
}

// WithLogger installs a structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// New builds a pipeline writing weights under modelsDir.
func New(reg *registry.Registry, modelsDir string, opts ...Option) *Pipeline {
	p := &Pipeline{
		registry:   reg,
		client:     &http.Client{Timeout: 0},
		modelsDir:  modelsDir,
		chunkBytes: DefaultChunkBytes,
		maxJobs:    DefaultMaxConcurrent,
		log:        zerolog.Nop(),
		jobs:       make(map[string]*job),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Pull starts (or joins) the acquisition of modelID from src. The
// returned channel carries progress events and is closed after exactly
// one terminal event. A second Pull for a live model id attaches to the
// existing transfer instead of starting another.
func (p *Pipeline) Pull(ctx context.Context, modelID string, src types.SourceDescriptor) (<-chan types.ProgressEvent, error) {
	srcURL, err := resolveSource(src)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if j, ok := p.jobs[modelID]; ok {
		ch := j.subscribe()
		p.mu.Unlock()
		if ch != nil {
			return ch, nil
		}
		// Lost a race with the job's teardown; retry as a fresh pull.
		return p.Pull(ctx, modelID, src)
	}
	if p.maxJobs > 0 && len(p.jobs) >= p.maxJobs {
		p.mu.Unlock()
		return nil, tooBusyError{cap: p.maxJobs}
	}

	// The transition is requested before the transfer starts so observers
	// see Pulling as soon as a job is live.
	if err := p.registry.BeginPull(ctx, modelID); err != nil {
		p.mu.Unlock()
		return nil, err
	}

	j := newJob(modelID, uuid.NewString(), 0)
	p.jobs[modelID] = j
	ch := j.subscribe()
	p.mu.Unlock()

	pullsActive.Inc()
	p.log.Info().Str("model", modelID).Str("job", j.jobID).Str("url", srcURL).Msg("pull started")
	go p.run(j, srcURL, src)
	return ch, nil
}

// Cancel flags the live job for modelID; the transfer stops at the next
// chunk boundary.
func (p *Pipeline) Cancel(modelID string) error {
	p.mu.Lock()
	j, ok := p.jobs[modelID]
	p.mu.Unlock()
	if !ok {
		return noLiveJobError{modelID: modelID}
	}
	j.cancelled.Store(true)
	p.log.Info().Str("model", modelID).Msg("pull cancellation requested")
	return nil
}

// HasLiveJob reports whether modelID has an in-flight transfer. Feeds
// the registry's startup reconciliation.
func (p *Pipeline) HasLiveJob(modelID string) bool {
	p.mu.Lock()
	_, ok := p.jobs[modelID]
	p.mu.Unlock()
	return ok
}

// LiveJobs lists model ids with in-flight transfers.
func (p *Pipeline) LiveJobs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.jobs))
	for id := range p.jobs {
		ids = append(ids, id)
	}
	return ids
}

// run performs the transfer on its own goroutine and settles the job
// with exactly one terminal outcome.
func (p *Pipeline) run(j *job, srcURL string, src types.SourceDescriptor) {
	ctx := context.Background()

	err := p.transfer(ctx, j, srcURL, src)

	p.mu.Lock()
	delete(p.jobs, j.modelID)
	p.mu.Unlock()
	pullsActive.Dec()

	switch {
	case err == nil:
		pullOutcomes.WithLabelValues("complete").Inc()
		p.log.Info().Str("model", j.modelID).Int64("bytes", j.downloaded.Load()).Msg("pull complete")
		j.finish(j.snapshot(types.PullComplete, ""))
	case IsCancelled(err):
		pullOutcomes.WithLabelValues("cancelled").Inc()
		if rerr := p.registry.MarkCancelled(ctx, j.modelID); rerr != nil {
			p.log.Error().Err(rerr).Str("model", j.modelID).Msg("mark cancelled failed")
		}
		p.log.Info().Str("model", j.modelID).Msg("pull cancelled")
		j.finish(j.snapshot(types.PullCancelled, ""))
	default:
		pullOutcomes.WithLabelValues("error").Inc()
		if rerr := p.registry.MarkFailed(ctx, j.modelID, err.Error()); rerr != nil {
			p.log.Error().Err(rerr).Str("model", j.modelID).Msg("mark failed failed")
		}
		p.log.Error().Err(err).Str("model", j.modelID).Msg("pull failed")
		j.finish(j.snapshot(types.PullError, err.Error()))
	}
}

// transfer streams the body into <final>.partial and renames it into
// place on success. Any error return leaves no partial file behind.
func (p *Pipeline) transfer(ctx context.Context, j *job, srcURL string, src types.SourceDescriptor) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return networkError{cause: err}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return networkError{cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return sourceNotFoundError{detail: srcURL}
	case resp.StatusCode != http.StatusOK:
		return networkError{cause: fmt.Errorf("unexpected status %s from %s", resp.Status, srcURL)}
	}

	if resp.ContentLength > 0 {
		j.totalBytes = resp.ContentLength
		if free := fsutil.FreeBytes(p.modelsDir); free > 0 && free < resp.ContentLength+storageMargin {
			return insufficientStorageError{needBytes: resp.ContentLength + storageMargin, freeBytes: free}
		}
	}

	if err := os.MkdirAll(p.modelsDir, 0o755); err != nil {
		return fmt.Errorf("create models dir: %w", err)
	}
	final := p.storagePath(j.modelID, src)
	partial := final + partialSuffix
	out, err := os.Create(partial)
	if err != nil {
		return fmt.Errorf("create partial file: %w", err)
	}

	if err := p.copyChunks(ctx, j, out, resp.Body); err != nil {
		out.Close()
		os.Remove(partial)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(partial)
		return fmt.Errorf("close partial file: %w", err)
	}
	if err := os.Rename(partial, final); err != nil {
		os.Remove(partial)
		return fmt.Errorf("rename into place: %w", err)
	}
	if err := p.registry.MarkInstalled(ctx, j.modelID, final, j.downloaded.Load()); err != nil {
		return err
	}
	return nil
}

// copyChunks reads fixed-size chunks, checking the cancel flag between
// chunks and emitting a progress event per chunk.
func (p *Pipeline) copyChunks(ctx context.Context, j *job, dst *os.File, src io.Reader) error {
	buf := make([]byte, p.chunkBytes)
	for {
		if j.cancelled.Load() {
			return cancelledError{modelID: j.modelID}
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if p.limiter != nil {
				if err := p.limiter.WaitN(ctx, n); err != nil {
					return networkError{cause: err}
				}
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write chunk: %w", werr)
			}
			j.downloaded.Add(int64(n))
			pullBytesTotal.Add(float64(n))
			j.sample(time.Now())
			j.broadcast(j.snapshot(types.PullPulling, ""))
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return networkError{cause: rerr}
		}
	}
}

// RemoveArtifact deletes a model's weight file after the registry has
// dropped the record. Missing files are not an error.
func (p *Pipeline) RemoveArtifact(m types.Model) error {
	if m.StoragePath == "" {
		return nil
	}
	if err := os.Remove(m.StoragePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove weight file: %w", err)
	}
	return nil
}

// SweepPartials removes orphaned .partial files left by a previous
// process. Run once at startup, before any pull begins.
func (p *Pipeline) SweepPartials() error {
	entries, err := os.ReadDir(p.modelsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read models dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), partialSuffix) {
			continue
		}
		path := filepath.Join(p.modelsDir, e.Name())
		if err := os.Remove(path); err != nil {
			p.log.Warn().Err(err).Str("path", path).Msg("failed to sweep partial file")
			continue
		}
		p.log.Info().Str("path", path).Msg("swept orphaned partial file")
	}
	return nil
}

// storagePath picks the final on-disk location for a model's weights.
func (p *Pipeline) storagePath(modelID string, src types.SourceDescriptor) string {
	name := src.Filename
	if name == "" {
		name = modelID + ".gguf"
	}
	return filepath.Join(p.modelsDir, filepath.Base(name))
}

// resolveSource turns a descriptor into a fetchable URL. A descriptor
// with neither a URL nor a repo+filename pair is a dangling alias and
// fails here, before any state transition.
func resolveSource(src types.SourceDescriptor) (string, error) {
	if src.URL != "" {
		if _, err := url.ParseRequestURI(src.URL); err != nil {
			return "", sourceNotFoundError{detail: src.URL}
		}
		return src.URL, nil
	}
	if src.Repo != "" && src.Filename != "" {
		return fmt.Sprintf(hfResolveURL, src.Repo, src.Filename), nil
	}
	return "", sourceNotFoundError{detail: "no source descriptor for model"}
}
