// Package registry is the authoritative store of Model records and the
// only place lifecycle states change. Transitions for a single model id
// are totally ordered; activation swaps two records inside one critical
// section so at most one local model is ever active.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"hapied/pkg/types"
)

// CloudValidator reports whether a cloud model's provider key is valid.
// Injected so the registry stays free of HTTP concerns.
type CloudValidator func(ctx context.Context, m types.Model) error

// validTransitions is the complete state machine. Pulling may be entered
// again from failed/cancelled so callers can re-invoke pull without
// re-registering.
var validTransitions = map[types.ModelState][]types.ModelState{
	types.StateRegistered: {types.StatePulling, types.StateActive},
	types.StatePulling:    {types.StateInstalled, types.StateFailed, types.StateCancelled},
	types.StateInstalled:  {types.StateActive},
	types.StateActive:     {types.StateInstalled, types.StateRegistered},
	types.StateFailed:     {types.StatePulling},
	types.StateCancelled:  {types.StatePulling},
}

// Registry owns the in-memory model table and writes every committed
// transition through to the store before observers see it.
type Registry struct {
	mu        sync.Mutex
	store     *Store
	models    map[string]types.Model
	publisher EventPublisher
	validate  CloudValidator
	log       zerolog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithPublisher installs a transition event publisher.
func WithPublisher(p EventPublisher) Option {
	return func(r *Registry) {
		if p != nil {
			r.publisher = p
		}
	}
}

// WithCloudValidator installs the key-validation hook used by Activate
// for cloud models.
func WithCloudValidator(v CloudValidator) Option {
	return func(r *Registry) { r.validate = v }
}

// WithLogger installs a structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// New loads all persisted models from store into memory.
func New(store *Store, opts ...Option) (*Registry, error) {
	r := &Registry{
		store:     store,
		models:    make(map[string]types.Model),
		publisher: noopPublisher{},
		log:       zerolog.Nop(),
	}
	for _, o := range opts {
		o(r)
	}
	persisted, err := store.List(context.Background())
	if err != nil {
		return nil, err
	}
	for _, m := range persisted {
		r.models[m.ID] = m
	}
	return r, nil
}

// List returns a copy of every model, oldest registration first.
func (r *Registry) List() []types.Model {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sortModels(out)
	return out
}

// Get returns the model with the given id.
func (r *Registry) Get(id string) (types.Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.models[id]
	if !ok {
		return types.Model{}, ErrNotFound(id)
	}
	return m, nil
}

// Active returns the currently active model, if any.
func (r *Registry) Active() (types.Model, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.models {
		if m.State == types.StateActive {
			return m, true
		}
	}
	return types.Model{}, false
}

// Register creates a model in state registered. Re-registering an id
// whose previous attempt ended in failed/cancelled resets it; any other
// duplicate is rejected.
func (r *Registry) Register(ctx context.Context, profile types.ModelProfile) (types.Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.models[profile.ID]; ok {
		if existing.State != types.StateFailed && existing.State != types.StateCancelled {
			return types.Model{}, duplicateIDError{id: profile.ID}
		}
		reset := existing
		reset.State = types.StateRegistered
		if err := r.store.Put(ctx, reset); err != nil {
			return types.Model{}, err
		}
		r.commit(existing.State, reset, "")
		return reset, nil
	}

	m := types.Model{
		ID:          profile.ID,
		Name:        profile.Name,
		Kind:        profile.Kind,
		Provider:    profile.Provider,
		SizeBytes:   profile.SizeBytes,
		Backend:     backendFor(profile.Kind),
		State:       types.StateRegistered,
		IsBaseModel: profile.IsBaseModel,
		CreatedAt:   time.Now().Unix(),
	}
	if m.Name == "" {
		m.Name = m.ID
	}
	if err := r.store.Put(ctx, m); err != nil {
		return types.Model{}, err
	}
	r.commit("", m, "")
	return m, nil
}

// BeginPull transitions the model into pulling on behalf of the
// acquisition pipeline (the pipeline never mutates state directly).
func (r *Registry) BeginPull(ctx context.Context, id string) error {
	return r.transition(ctx, id, types.StatePulling, func(m *types.Model) {})
}

// MarkInstalled records a completed pull.
func (r *Registry) MarkInstalled(ctx context.Context, id, storagePath string, sizeBytes int64) error {
	return r.transition(ctx, id, types.StateInstalled, func(m *types.Model) {
		m.StoragePath = storagePath
		m.SizeBytes = sizeBytes
	})
}

// MarkFailed records a failed pull with its reason.
func (r *Registry) MarkFailed(ctx context.Context, id, reason string) error {
	return r.transitionReason(ctx, id, types.StateFailed, reason, func(m *types.Model) {})
}

// MarkCancelled records a user-cancelled pull.
func (r *Registry) MarkCancelled(ctx context.Context, id string) error {
	return r.transition(ctx, id, types.StateCancelled, func(m *types.Model) {})
}

// Activate makes id the single active model, demoting the previously
// active one in the same critical section. Local models must be
// installed; cloud models must pass key validation.
func (r *Registry) Activate(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, ok := r.models[id]
	if !ok {
		return ErrNotFound(id)
	}
	if target.State == types.StateActive {
		return nil
	}
	switch target.Kind {
	case types.KindCloudAPI:
		if target.State != types.StateRegistered && target.State != types.StateInstalled {
			return invalidTransitionError{id: id, from: string(target.State), to: string(types.StateActive)}
		}
		if r.validate != nil {
			if err := r.validate(ctx, target); err != nil {
				return notInstalledError{id: id}
			}
		}
	default:
		if target.State != types.StateInstalled {
			return notInstalledError{id: id}
		}
	}

	// Demote the previous active first so a store failure never leaves
	// two active rows.
	for _, prev := range r.models {
		if prev.State != types.StateActive || prev.ID == id {
			continue
		}
		demoted := prev
		demoted.State = deactivatedState(prev.Kind)
		if err := r.store.Put(ctx, demoted); err != nil {
			return err
		}
		r.commit(prev.State, demoted, "")
	}

	from := target.State
	target.State = types.StateActive
	if err := r.store.Put(ctx, target); err != nil {
		return err
	}
	r.commit(from, target, "")
	return nil
}

// Deactivate demotes the currently active model, if any.
func (r *Registry) Deactivate(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.models {
		if m.State != types.StateActive {
			continue
		}
		demoted := m
		demoted.State = deactivatedState(m.Kind)
		if err := r.store.Put(ctx, demoted); err != nil {
			return err
		}
		r.commit(m.State, demoted, "")
		return nil
	}
	return nil
}

// Delete removes a model record. Base models are always protected; the
// active model must be deactivated first. The registry never touches
// weight bytes on disk — that is the acquisition pipeline's job.
func (r *Registry) Delete(ctx context.Context, id string) (types.Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.models[id]
	if !ok {
		return types.Model{}, ErrNotFound(id)
	}
	if m.IsBaseModel {
		return types.Model{}, protectedModelError{id: id}
	}
	if m.State == types.StateActive {
		return types.Model{}, activeModelInUseError{id: id}
	}
	if err := r.store.Delete(ctx, id); err != nil {
		return types.Model{}, err
	}
	delete(r.models, id)
	r.log.Info().Str("model", id).Msg("model deleted")
	return m, nil
}

// EnsureInstalled registers a weight file found on disk as installed,
// skipping ids that already exist. Used by the startup directory scan.
func (r *Registry) EnsureInstalled(ctx context.Context, profile types.ModelProfile, storagePath string, sizeBytes int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[profile.ID]; ok {
		return nil
	}
	m := types.Model{
		ID:          profile.ID,
		Name:        profile.Name,
		Kind:        types.KindLocalWeight,
		Provider:    profile.Provider,
		SizeBytes:   sizeBytes,
		Backend:     backendFor(types.KindLocalWeight),
		State:       types.StateInstalled,
		IsBaseModel: profile.IsBaseModel,
		StoragePath: storagePath,
		CreatedAt:   time.Now().Unix(),
	}
	if m.Name == "" {
		m.Name = m.ID
	}
	if err := r.store.Put(ctx, m); err != nil {
		return err
	}
	r.commit("", m, "")
	return nil
}

// Reconcile demotes models stuck in pulling with no live job to failed.
// Run once at startup: pull jobs are not persisted, so a restart leaves
// stale pulling rows behind.
func (r *Registry) Reconcile(ctx context.Context, hasLiveJob func(id string) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, m := range r.models {
		if m.State != types.StatePulling {
			continue
		}
		if hasLiveJob != nil && hasLiveJob(id) {
			continue
		}
		demoted := m
		demoted.State = types.StateFailed
		if err := r.store.Put(ctx, demoted); err != nil {
			return err
		}
		r.commit(m.State, demoted, "stale pull after restart")
		r.log.Warn().Str("model", id).Msg("demoted stale pulling model to failed")
	}
	return nil
}

// transition applies one state-machine edge under the registry lock.
func (r *Registry) transition(ctx context.Context, id string, to types.ModelState, mutate func(*types.Model)) error {
	return r.transitionReason(ctx, id, to, "", mutate)
}

func (r *Registry) transitionReason(ctx context.Context, id string, to types.ModelState, reason string, mutate func(*types.Model)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.models[id]
	if !ok {
		return ErrNotFound(id)
	}
	if !edgeAllowed(m.State, to) {
		return invalidTransitionError{id: id, from: string(m.State), to: string(to)}
	}
	from := m.State
	m.State = to
	mutate(&m)
	if err := r.store.Put(ctx, m); err != nil {
		return err
	}
	r.commit(from, m, reason)
	return nil
}

// commit updates the in-memory table and notifies observers. Callers
// hold r.mu and have already persisted the row.
func (r *Registry) commit(from types.ModelState, m types.Model, reason string) {
	r.models[m.ID] = m
	transitionsTotal.WithLabelValues(string(m.State)).Inc()
	ev := r.log.Info().Str("model", m.ID).Str("to", string(m.State))
	if from != "" {
		ev = ev.Str("from", string(from))
	}
	if reason != "" {
		ev = ev.Str("reason", reason)
	}
	ev.Msg("state transition")
	r.publisher.Publish(Event{ModelID: m.ID, From: from, To: m.State, Reason: reason})
}

func edgeAllowed(from, to types.ModelState) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

func deactivatedState(kind types.ModelKind) types.ModelState {
	if kind == types.KindCloudAPI {
		return types.StateRegistered
	}
	return types.StateInstalled
}

func backendFor(kind types.ModelKind) string {
	if kind == types.KindCloudAPI {
		return "api"
	}
	return "llama.cpp"
}

// sortModels orders by registration time, id as tiebreaker.
func sortModels(ms []types.Model) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].CreatedAt != ms[j].CreatedAt {
			return ms[i].CreatedAt < ms[j].CreatedAt
		}
		return ms[i].ID < ms[j].ID
	})
}
