package instrument

import (
	"context"
	"fmt"
	"sync"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides instrument catalogue management with caching and
// thread safety. It wraps a Repository and adds an in-memory cache for
// fast lookups; the telemetry manager resolves serials through it on
// every subscribe.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo     Repository
	cache    map[string]*Instrument // by ID
	bySerial map[string]*Instrument // same entries, keyed by serial
	cacheMu  sync.RWMutex
	logger   Logger
}

// NewRegistry creates a new instrument registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:     repo,
		cache:    make(map[string]*Instrument),
		bySerial: make(map[string]*Instrument),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all instruments from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	instruments, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading instruments: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Instrument, len(instruments))
	r.bySerial = make(map[string]*Instrument, len(instruments))
	for i := range instruments {
		inst := instruments[i].Clone()
		r.cache[inst.ID] = inst
		r.bySerial[inst.Serial] = inst
	}

	r.logger.Info("instrument cache refreshed", "count", len(instruments))
	return nil
}

// Get retrieves an instrument by ID.
// Returns ErrNotFound if the instrument does not exist.
// The returned instrument is a copy; callers can safely modify it.
func (r *Registry) Get(ctx context.Context, id string) (*Instrument, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.Clone(), nil
	}

	inst, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cacheInsert(inst)
	r.cacheMu.Unlock()

	return inst, nil
}

// GetBySerial retrieves an instrument by serial.
// Returns ErrNotFound if the instrument does not exist.
// The returned instrument is a copy; callers can safely modify it.
func (r *Registry) GetBySerial(ctx context.Context, serial string) (*Instrument, error) {
	r.cacheMu.RLock()
	cached, ok := r.bySerial[serial]
	r.cacheMu.RUnlock()

	if ok {
		return cached.Clone(), nil
	}

	inst, err := r.repo.GetBySerial(ctx, serial)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cacheInsert(inst)
	r.cacheMu.Unlock()

	return inst, nil
}

// List retrieves all instruments.
// The returned instruments are copies; callers can safely modify them.
func (r *Registry) List(ctx context.Context) ([]Instrument, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	if len(r.cache) > 0 {
		instruments := make([]Instrument, 0, len(r.cache))
		for _, inst := range r.cache {
			instruments = append(instruments, *inst.Clone())
		}
		return instruments, nil
	}

	return r.repo.List(ctx)
}

// Create validates and persists a new instrument, generating an ID when
// one is not provided.
func (r *Registry) Create(ctx context.Context, inst *Instrument) error {
	if inst.ID == "" {
		inst.ID = GenerateID()
	}

	if err := Validate(inst); err != nil {
		return err
	}

	if err := r.repo.Create(ctx, inst); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cacheInsert(inst)
	r.cacheMu.Unlock()

	r.logger.Info("instrument created", "id", inst.ID, "serial", inst.Serial)
	return nil
}

// Update validates and persists changes to an existing instrument.
func (r *Registry) Update(ctx context.Context, inst *Instrument) error {
	if err := Validate(inst); err != nil {
		return err
	}

	existing, err := r.Get(ctx, inst.ID)
	if err != nil {
		return err
	}

	if err := r.repo.Update(ctx, inst); err != nil {
		return err
	}

	r.cacheMu.Lock()
	// Serial may have changed; drop the stale serial index entry first.
	delete(r.bySerial, existing.Serial)
	r.cacheInsert(inst)
	r.cacheMu.Unlock()

	r.logger.Info("instrument updated", "id", inst.ID, "serial", inst.Serial)
	return nil
}

// Delete removes an instrument.
func (r *Registry) Delete(ctx context.Context, id string) error {
	existing, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	delete(r.bySerial, existing.Serial)
	r.cacheMu.Unlock()

	r.logger.Info("instrument deleted", "id", id, "serial", existing.Serial)
	return nil
}

// Count returns the number of cached instruments.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// cacheInsert stores a copy in both indexes. Caller must hold cacheMu.
func (r *Registry) cacheInsert(inst *Instrument) {
	c := inst.Clone()
	r.cache[c.ID] = c
	r.bySerial[c.Serial] = c
}
