// Package tenant implements the multi-tenant context: a
// process-wide tenant registry plus a per-execution-context scoped variable
// holding the currently active tenant, propagated across concurrent tasks
// via context.Context the way the dialect/sql package propagates session
// variables through WithVar.
package tenant

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Record is one registered tenant.
type Record struct {
	TenantID  string
	Name      string
	Active    bool
	CreatedAt time.Time
	Metadata  map[string]any
}

// Error reports a tenant-context invariant violation:
// switching to an unregistered/deactivated tenant, unregistering the active
// tenant, or calling Require with none active.
type Error struct {
	TenantID string
	Reason   string // "unavailable", "in_use", "required"
}

func (e *Error) Error() string {
	switch e.Reason {
	case "in_use":
		return fmt.Sprintf("tenant: %q is in use and cannot be unregistered", e.TenantID)
	case "required":
		return "tenant: required but none is active"
	default:
		return fmt.Sprintf("tenant: %q unavailable", e.TenantID)
	}
}

// Registry is the process-wide tenant_id -> Record map.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
	// inUse counts how many active scoped contexts currently hold each
	// tenant, so Unregister can refuse an in-use tenant.
	inUse map[string]int
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*Record), inUse: make(map[string]int)}
}

// Register adds a new tenant, active by default.
func (r *Registry) Register(tenantID, name string, metadata map[string]any) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := &Record{TenantID: tenantID, Name: name, Active: true, CreatedAt: time.Now(), Metadata: metadata}
	r.records[tenantID] = rec
	return rec, nil
}

// Unregister removes a tenant, refusing if any scoped context currently
// holds it as the active tenant.
func (r *Registry) Unregister(tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inUse[tenantID] > 0 {
		return &Error{TenantID: tenantID, Reason: "in_use"}
	}
	delete(r.records, tenantID)
	delete(r.inUse, tenantID)
	return nil
}

// Deactivate marks a tenant inactive; reversible via Activate.
func (r *Registry) Deactivate(tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[tenantID]
	if !ok {
		return &Error{TenantID: tenantID, Reason: "unavailable"}
	}
	rec.Active = false
	return nil
}

// Activate marks a previously deactivated tenant active again.
func (r *Registry) Activate(tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[tenantID]
	if !ok {
		return &Error{TenantID: tenantID, Reason: "unavailable"}
	}
	rec.Active = true
	return nil
}

func (r *Registry) lookupActive(tenantID string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[tenantID]
	if !ok || !rec.Active {
		return nil, &Error{TenantID: tenantID, Reason: "unavailable"}
	}
	return rec, nil
}

func (r *Registry) enter(tenantID string) { r.mu.Lock(); r.inUse[tenantID]++; r.mu.Unlock() }
func (r *Registry) exit(tenantID string) {
	r.mu.Lock()
	if r.inUse[tenantID] > 0 {
		r.inUse[tenantID]--
	}
	r.mu.Unlock()
}

type ctxKey struct{}

// Switch enters tenantID as the active tenant for the returned context,
// failing with Error{Reason: "unavailable"} if tenantID is not a
// registered, active tenant. The caller's restore function must be called
// (typically deferred) to pop back to whatever tenant — or none — was
// active before, even under error propagation, matching the required
// nesting semantics.
func (r *Registry) Switch(ctx context.Context, tenantID string) (context.Context, func(), error) {
	if _, err := r.lookupActive(tenantID); err != nil {
		return ctx, func() {}, err
	}
	r.enter(tenantID)
	next := context.WithValue(ctx, ctxKey{}, tenantID)
	return next, func() { r.exit(tenantID) }, nil
}

// SwitchAsync is the async-safe variant: context.Context's value propagation
// already gives each concurrently spawned task the tenant it entered with,
// never another task's, so this is the same operation under a name that
// matches the engine's sync/async entry-point split.
func (r *Registry) SwitchAsync(ctx context.Context, tenantID string) (context.Context, func(), error) {
	return r.Switch(ctx, tenantID)
}

// Current returns the active tenant ID for ctx, or "" if none.
func Current(ctx context.Context) string {
	v, _ := ctx.Value(ctxKey{}).(string)
	return v
}

// Require returns the active tenant ID for ctx, or an Error{Reason:
// "required"} if none is active.
func Require(ctx context.Context) (string, error) {
	id := Current(ctx)
	if id == "" {
		return "", &Error{Reason: "required"}
	}
	return id, nil
}
