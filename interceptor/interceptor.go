// Package interceptor hooks into every SQL path to inject tenant
// predicates, audit columns, and soft-delete filters, without
// the node catalog's handlers needing to know any of those models' special
// tags exist.
package interceptor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/dataflow/catalog"
	"github.com/syssam/dataflow/filter"
	"github.com/syssam/dataflow/model"
	"github.com/syssam/dataflow/tenant"
)

// Error reports a tenant-required violation surfaced while intercepting a
// call against a multi-tenant model with no active tenant.
type Error struct {
	Model string
	Msg   string
}

func (e *Error) Error() string { return fmt.Sprintf("interceptor: %s: %s", e.Model, e.Msg) }

// ActorFunc resolves the "current actor" for audit column population
// (created_by/updated_by) from the execution context; the engine facade
// supplies the concrete implementation (e.g. reading an auth-middleware
// value out of ctx).
type ActorFunc func(ctx context.Context) string

// Interceptor implements catalog.Interceptor, wiring the tenant context
// (package tenant) and per-model tags (soft_delete, multi_tenant,
// audit_log) into every read and write path.
type Interceptor struct {
	Tenants *tenant.Registry
	Actor   ActorFunc
	Now     func() time.Time
}

// New returns an Interceptor. now defaults to time.Now if nil.
func New(tenants *tenant.Registry, actor ActorFunc) *Interceptor {
	return &Interceptor{Tenants: tenants, Actor: actor, Now: time.Now}
}

// BeforeRead rewrites f for a single-select/list-select/count call against m
// (the first three of the eight hook points): AND-injects the active
// tenant predicate for multi-tenant models (failing with *tenant required*
// when none is active), and appends deleted_at IS NULL for soft-delete
// models unless includeDeleted is set.
func (i *Interceptor) BeforeRead(ctx context.Context, m *model.Model, f filter.Doc, includeDeleted bool) (filter.Doc, error) {
	out, err := i.WithTenantFilter(ctx, m, f)
	if err != nil {
		return nil, err
	}
	if m.SoftDelete && !includeDeleted {
		out = cloneDoc(out)
		out["deleted_at"] = map[string]any{"$exists": false}
	}
	return out, nil
}

// WithTenantFilter is the tenant step BeforeRead runs first: it requires
// an active tenant for multi-tenant models and AND-injects tenant_id into
// the filter, failing with *tenant required* when none is
// active.
func (i *Interceptor) WithTenantFilter(ctx context.Context, m *model.Model, f filter.Doc) (filter.Doc, error) {
	if !m.MultiTenant {
		return f, nil
	}
	tid, err := tenant.Require(ctx)
	if err != nil {
		return nil, &Error{Model: m.Name, Msg: "tenant required"}
	}
	out := cloneDoc(f)
	out["tenant_id"] = tid
	return out, nil
}

// BeforeWrite rewrites values for an insert/update/upsert/bulk-DML call
// against m (the remaining five hook points): stamps tenant_id for
// multi-tenant models, and created_at/updated_at/created_by/updated_by for
// audit-logged models, drawn from the execution context.
func (i *Interceptor) BeforeWrite(ctx context.Context, m *model.Model, values map[string]any, op catalog.Op) (map[string]any, error) {
	out := make(map[string]any, len(values)+4)
	for k, v := range values {
		out[k] = v
	}
	if m.MultiTenant {
		tid, err := tenant.Require(ctx)
		if err != nil {
			return nil, &Error{Model: m.Name, Msg: "tenant required"}
		}
		out["tenant_id"] = tid
	}
	if isCreateStyle(op) {
		i.applyFieldDefaults(m, out)
	}
	if m.AuditLog {
		now := i.now()
		actor := ""
		if i.Actor != nil {
			actor = i.Actor(ctx)
		}
		if _, ok := out["created_at"]; !ok {
			out["created_at"] = now
		}
		out["updated_at"] = now
		if _, ok := out["created_by"]; !ok {
			out["created_by"] = actor
		}
		out["updated_by"] = actor
	}
	return out, nil
}

// isCreateStyle reports whether op inserts a brand new row, the only shape
// for which a field's declared default applies (reads and in-place
// updates never backfill an unset column from a default).
func isCreateStyle(op catalog.Op) bool {
	switch op {
	case catalog.OpCreate, catalog.OpUpsert, catalog.OpBulkCreate, catalog.OpBulkUpsert:
		return true
	default:
		return false
	}
}

// applyFieldDefaults backfills values with each field's declared default
// when the caller left it unset, resolving the whitelisted function tokens
// ("now"/"current_timestamp", "uuid") rather than binding the literal
// token string.
func (i *Interceptor) applyFieldDefaults(m *model.Model, values map[string]any) {
	for _, f := range m.Fields {
		if f.Default == nil {
			continue
		}
		if _, ok := values[f.Name]; ok {
			continue
		}
		values[f.Name] = i.resolveDefault(f)
	}
}

func (i *Interceptor) resolveDefault(f *model.Field) any {
	if tok, ok := f.Default.(string); ok {
		switch tok {
		case "now", "current_timestamp":
			return i.now()
		case "uuid":
			return uuid.New().String()
		}
	}
	return f.Default
}

func (i *Interceptor) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

func cloneDoc(f filter.Doc) filter.Doc {
	out := make(filter.Doc, len(f)+2)
	for k, v := range f {
		out[k] = v
	}
	return out
}
