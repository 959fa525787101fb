package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
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

// DeleteHook runs before a device row is deleted. Returning an error aborts
// the deletion.
type DeleteHook func(ctx context.Context, deviceID string) error

// Registry provides device management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Device // Cached devices by ID
	loaded  bool               // cache holds every device
	cacheMu sync.RWMutex       // Protects cache and loaded

	hooksMu     sync.RWMutex
	deleteHooks []DeleteHook

	logger Logger
}

// NewRegistry creates a new device registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// OnDelete registers a hook that runs before each device deletion.
// Hooks run in registration order.
func (r *Registry) OnDelete(hook DeleteHook) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.deleteHooks = append(r.deleteHooks, hook)
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		r.cache[devices[i].ID] = devices[i].DeepCopy()
	}
	r.loaded = true

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}

	device, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[id] = device.DeepCopy()
	r.cacheMu.Unlock()

	return device, nil
}

// Exists reports whether a device with the given ID is known.
func (r *Registry) Exists(ctx context.Context, id string) (bool, error) {
	_, err := r.GetDevice(ctx, id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrDeviceNotFound) {
		return false, nil
	}
	return false, err
}

// ListDevices retrieves all devices ordered by name.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	if r.loaded {
		devices := make([]Device, 0, len(r.cache))
		for _, d := range r.cache {
			devices = append(devices, *d.DeepCopy())
		}
		r.cacheMu.RUnlock()
		sortDevices(devices)
		return devices, nil
	}
	r.cacheMu.RUnlock()

	return r.repo.List(ctx)
}

// ListByUser retrieves all devices owned by a user.
func (r *Registry) ListByUser(ctx context.Context, userID string) ([]Device, error) {
	return r.repo.ListByUser(ctx, userID)
}

// CreateDevice validates and persists a new device, generating an ID if needed.
func (r *Registry) CreateDevice(ctx context.Context, device *Device) error {
	if device.ID == "" {
		device.ID = GenerateID()
	}
	if device.Status == "" {
		device.Status = StatusUnknown
	}

	if err := ValidateDevice(device); err != nil {
		return err
	}

	if err := r.repo.Create(ctx, device); err != nil {
		return err
	}

	r.store(device)
	r.logger.Info("device created", "id", device.ID, "name", device.Name, "protocol", device.Protocol)
	return nil
}

// UpdateDevice validates and persists changes to an existing device.
func (r *Registry) UpdateDevice(ctx context.Context, device *Device) error {
	if err := ValidateDevice(device); err != nil {
		return err
	}

	if err := r.repo.Update(ctx, device); err != nil {
		return err
	}

	r.store(device)
	r.logger.Info("device updated", "id", device.ID, "name", device.Name)
	return nil
}

// UpsertDevice writes a device pulled from the backend. Remote values win
// for status and metadata fields. Reports whether the device was new.
func (r *Registry) UpsertDevice(ctx context.Context, device *Device) (bool, error) {
	if device.Status == "" {
		device.Status = StatusUnknown
	}
	if err := ValidateDevice(device); err != nil {
		return false, err
	}

	created, err := r.repo.Upsert(ctx, device)
	if err != nil {
		return false, err
	}

	// Re-read so the cache carries the merged live fields.
	stored, err := r.repo.GetByID(ctx, device.ID)
	if err != nil {
		return created, err
	}
	r.store(stored)

	r.logger.Debug("device upserted", "id", device.ID, "created", created)
	return created, nil
}

// UpdateStatus applies a hardware callback (online state, battery, signal,
// location) to a device.
func (r *Registry) UpdateStatus(ctx context.Context, id string, update StatusUpdate) (*Device, error) {
	if err := ValidateStatusUpdate(update); err != nil {
		return nil, err
	}

	updated, err := r.repo.UpdateStatus(ctx, id, update)
	if err != nil {
		return nil, err
	}

	r.store(updated)
	r.logger.Debug("device status updated", "id", id, "online", updated.IsOnline)
	return updated, nil
}

// DeleteDevice runs the delete hooks and then removes the device. Its
// commands, telemetry and configuration rows are removed by cascade.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	if _, err := r.GetDevice(ctx, id); err != nil {
		return err
	}

	r.hooksMu.RLock()
	hooks := append([]DeleteHook(nil), r.deleteHooks...)
	r.hooksMu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, id); err != nil {
			return fmt.Errorf("device delete hook: %w", err)
		}
	}

	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "id", id)
	return nil
}

// GetDeviceCount returns the number of cached devices.
func (r *Registry) GetDeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int              `json:"total_devices"`
	Online       int              `json:"online"`
	ByProtocol   map[Protocol]int `json:"by_protocol"`
	ByStatus     map[Status]int   `json:"by_status"`
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.cache),
		ByProtocol:   make(map[Protocol]int),
		ByStatus:     make(map[Status]int),
	}

	for _, d := range r.cache {
		stats.ByProtocol[d.Protocol]++
		stats.ByStatus[d.Status]++
		if d.IsOnline {
			stats.Online++
		}
	}

	return stats
}

// store caches a deep copy of d.
func (r *Registry) store(d *Device) {
	r.cacheMu.Lock()
	r.cache[d.ID] = d.DeepCopy()
	r.cacheMu.Unlock()
}

func sortDevices(devices []Device) {
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Name != devices[j].Name {
			return devices[i].Name < devices[j].Name
		}
		return devices[i].ID < devices[j].ID
	})
}
