// Package catalog registers the fixed vocabulary of eleven operations per
// model and dispatches validated parameters to the handler that
// composes the SQL path for each. It is the layer the workflow runtime
// calls into: a workflow node references model.op, and the catalog is what
// turns that reference into an executable handler.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/syssam/dataflow/dialect"
	dsql "github.com/syssam/dataflow/dialect/sql"
	"github.com/syssam/dataflow/filter"
	"github.com/syssam/dataflow/model"
	"github.com/syssam/dataflow/querycache"
)

// Op identifies one of the eleven fixed operation kinds.
type Op string

const (
	OpCreate     Op = "create"
	OpRead       Op = "read"
	OpUpdate     Op = "update"
	OpDelete     Op = "delete"
	OpList       Op = "list"
	OpUpsert     Op = "upsert"
	OpCount      Op = "count"
	OpBulkCreate Op = "bulk_create"
	OpBulkUpdate Op = "bulk_update"
	OpBulkDelete Op = "bulk_delete"
	OpBulkUpsert Op = "bulk_upsert"
)

var allOps = []Op{OpCreate, OpRead, OpUpdate, OpDelete, OpList, OpUpsert, OpCount, OpBulkCreate, OpBulkUpdate, OpBulkDelete, OpBulkUpsert}

// reservedParams is the framework-private namespace kept disjoint from
// user-visible parameters: a user model is free to declare a
// field literally named "id" without colliding with the node identifier.
const nodeIDParam = "_node_id"

var reservedParams = map[string]struct{}{
	"model_name": {}, "db_instance": {},
}

// Params is the caller-supplied argument bag for one operation invocation.
// Values are looked up by field/parameter name; Params never carries the
// reserved "_node_id" key itself — that is threaded separately through
// ExecContext.
type Params map[string]any

// Result is the uniform shape every handler returns.
type Result struct {
	Success      bool
	Data         any
	RowsAffected int64
	Error        *Fault
}

// Fault is the structured error payload of a failed Result.
type Fault struct {
	Kind    string
	Message string
	Hint    string
}

func (f *Fault) Error() string {
	if f.Hint != "" {
		return fmt.Sprintf("catalog: %s: %s (%s)", f.Kind, f.Message, f.Hint)
	}
	return fmt.Sprintf("catalog: %s: %s", f.Kind, f.Message)
}

func fail(kind, msg string) *Result {
	return &Result{Success: false, Data: emptyDataFor(kind), Error: &Fault{Kind: kind, Message: msg}}
}

func emptyDataFor(kind string) any {
	if kind == "count" {
		return 0
	}
	return []any{}
}

// ExecContext carries everything a handler needs beyond its declared
// parameters: the node identifier that invoked it, the active dialect
// builder, the executing connection (a *driver or an open transaction), the
// interceptor hook (nil means no interception — used by tests that exercise
// the catalog directly against the builder), and the read-through cache
// (nil disables caching for this dispatch).
type ExecContext struct {
	Ctx       context.Context
	NodeID    string
	Dialect   *dsql.DialectBuilder
	Conn      dialect.ExecQuerier
	Intercept Interceptor
	Cache     *querycache.Cache
}

// Interceptor is the subset of the query interceptor the
// catalog calls into; the concrete implementation lives in package
// interceptor and is injected here to avoid a cyclic import (interceptor
// needs the model registry, catalog needs interceptor).
type Interceptor interface {
	BeforeRead(ctx context.Context, m *model.Model, f filter.Doc, includeDeleted bool) (filter.Doc, error)
	BeforeWrite(ctx context.Context, m *model.Model, values map[string]any, op Op) (map[string]any, error)
}

// EntryInput is the declared input of Create/Upsert-family operations: a
// values map keyed by field name.
type EntryInput struct {
	Values         map[string]any
	Filter         filter.Doc
	Limit, Offset  int
	OrderBy        []string
	SafeMode       bool
	Confirmed      bool
	IncludeDeleted bool
	ConflictFields []string
}

// Handler is the function signature every operation handler satisfies.
type Handler func(ec *ExecContext, m *model.Model, in EntryInput) *Result

// Catalog maps (model name, op) to a Handler, materializing the eleven
// operations for every model registered in reg at construction time.
type Catalog struct {
	reg      *model.Registry
	handlers map[string]Handler
}

// New builds a Catalog over reg, registering all eleven operation handlers
// for every currently-registered model. Models registered after New is
// called are not automatically picked up; call Refresh.
func New(reg *model.Registry) *Catalog {
	c := &Catalog{reg: reg, handlers: make(map[string]Handler)}
	c.Refresh()
	return c
}

// Refresh re-registers the handler table against every model currently in
// the registry — used after dynamic model registration.
func (c *Catalog) Refresh() {
	for _, m := range c.reg.All() {
		for _, op := range allOps {
			c.handlers[key(m.Name, op)] = handlerFor(op)
		}
	}
}

// AvailableNodes lists the model.op references currently registered,
// optionally filtered to one model — the engine facade's
// get_available_nodes.
func (c *Catalog) AvailableNodes(modelName string) []string {
	var out []string
	for k := range c.handlers {
		if modelName == "" || strings.HasPrefix(k, modelName+".") {
			out = append(out, k)
		}
	}
	return out
}

// Dispatch validates params against m's field schema and the operation's
// declared shape, then invokes the handler.
func (c *Catalog) Dispatch(ec *ExecContext, modelName string, op Op, params Params) *Result {
	m, ok := c.reg.Get(modelName)
	if !ok {
		return fail("not_found", fmt.Sprintf("model %q is not registered", modelName))
	}
	h, ok := c.handlers[key(modelName, op)]
	if !ok {
		return fail("not_found", fmt.Sprintf("operation %q is not registered for model %q", op, modelName))
	}
	in, err := bindInput(m, op, params)
	if err != nil {
		return fail("validation", err.Error())
	}
	return h(ec, m, in)
}

// HasOp reports whether modelName is registered with a handler for op.
func (c *Catalog) HasOp(modelName string, op Op) bool {
	_, ok := c.handlers[key(modelName, op)]
	return ok
}

func key(modelName string, op Op) string { return modelName + "." + string(op) }

// bindInput validates and shapes raw Params into an EntryInput. The node
// identifier and the reservedParams names are skipped, so a model is free to
// declare a field named "id". The control parameters filter, limit, offset,
// order_by, safe_mode, confirmed, include_deleted, conflict_fields and rows
// are always read as such, so a model field with one of those names cannot
// be set through Params.
func bindInput(m *model.Model, op Op, params Params) (EntryInput, error) {
	in := EntryInput{Values: make(map[string]any)}
	var pkFilter filter.Doc
	for k, v := range params {
		if k == nodeIDParam {
			continue
		}
		if _, reserved := reservedParams[k]; reserved {
			continue
		}
		switch k {
		case "filter":
			if d, ok := v.(filter.Doc); ok {
				in.Filter = d
			} else if d, ok := v.(map[string]any); ok {
				in.Filter = filter.Doc(d)
			} else {
				return in, fmt.Errorf("filter must be a document")
			}
		case "limit":
			in.Limit, _ = v.(int)
		case "offset":
			in.Offset, _ = v.(int)
		case "order_by":
			if ss, ok := v.([]string); ok {
				in.OrderBy = ss
			}
		case "safe_mode":
			in.SafeMode, _ = v.(bool)
		case "confirmed":
			in.Confirmed, _ = v.(bool)
		case "include_deleted":
			in.IncludeDeleted, _ = v.(bool)
		case "conflict_fields":
			if ss, ok := v.([]string); ok {
				in.ConflictFields = ss
			}
		case "rows":
			switch rs := v.(type) {
			case []map[string]any:
				in.Values["rows"] = rs
			case []Params:
				rows := make([]map[string]any, len(rs))
				for i, p := range rs {
					rows[i] = map[string]any(p)
				}
				in.Values["rows"] = rows
			default:
				return in, fmt.Errorf("rows must be an array of row documents")
			}
		default:
			f := m.Field(k)
			if f == nil {
				return in, fmt.Errorf("unknown parameter %q for model %q", k, m.Name)
			}
			if verr := f.Validate(v); verr != nil {
				return in, verr
			}
			if k == m.PrimaryKey && deleteFamily(op) {
				// An explicit primary-key parameter on a delete selects the
				// row; it is a filter, not a value to write.
				pkFilter = filter.Doc{k: v}
				continue
			}
			in.Values[k] = v
		}
	}
	if pkFilter != nil {
		// Merged after the loop so it lands regardless of the map's
		// iteration order, without mutating a caller-supplied filter doc.
		merged := filter.Doc{}
		for k, v := range in.Filter {
			merged[k] = v
		}
		for k, v := range pkFilter {
			merged[k] = v
		}
		in.Filter = merged
	}
	return in, nil
}

func deleteFamily(op Op) bool { return op == OpDelete || op == OpBulkDelete }
