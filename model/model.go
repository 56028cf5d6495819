package model

import (
	"fmt"
	"sync"

	"github.com/syssam/dataflow/dialect/sql"
	"github.com/syssam/dataflow/dialect/sql/schema"
)

// Model is a registered record type: its fields, primary key, and the
// per-model switches the query interceptor (soft delete, multi-tenant,
// audit log) and migration planner (versioning) key off of.
type Model struct {
	Name         string
	TableName    string
	Fields       []*Field
	PrimaryKey   string // field name, defaults to "id"
	SoftDelete   bool
	MultiTenant  bool
	AuditLog     bool
	Versioned    bool
	Indexes      []IndexDef
	UniqueConstraints [][]string
}

// IndexDef declares a secondary index over one or more fields.
type IndexDef struct {
	Name   string
	Fields []string
	Unique bool
}

// Field looks up a field by name, or nil.
func (m *Model) Field(name string) *Field {
	for _, f := range m.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// ToTable projects m into the schema package's Table representation, the
// shape the schema comparator and migration planner diff against.
func (m *Model) ToTable() *schema.Table {
	t := &schema.Table{Name: m.TableName}
	cols := make(map[string]*schema.Column, len(m.Fields))
	for _, f := range m.Fields {
		col := &schema.Column{
			Name:     f.Name,
			Type:     schema.ColumnType(f.Type),
			Nullable: f.Nullable,
			Default:  f.Default,
			Size:     f.Size,
			Scale:    f.Scale,
			Unique:   f.Unique,
		}
		cols[f.Name] = col
		t.Columns = append(t.Columns, col)
		if f.Indexed {
			t.Indexes = append(t.Indexes, &schema.Index{Name: m.TableName + "_" + f.Name + "_idx", Columns: []*schema.Column{col}})
		}
	}
	if pk := cols[m.PrimaryKey]; pk != nil {
		t.PrimaryKey = []*schema.Column{pk}
	}
	for _, idx := range m.Indexes {
		var idxCols []*schema.Column
		for _, fn := range idx.Fields {
			if c, ok := cols[fn]; ok {
				idxCols = append(idxCols, c)
			}
		}
		t.Indexes = append(t.Indexes, &schema.Index{Name: idx.Name, Columns: idxCols, Unique: idx.Unique})
	}
	return t
}

// Registry holds every registered Model, keyed by name, guarding
// registration and lookup behind a mutex since models may be registered
// from an initialization path concurrent with request handling in
// long-running processes that register models lazily.
type Registry struct {
	mu     sync.RWMutex
	models map[string]*Model
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]*Model)}
}

// ModelError reports a registration failure.
type ModelError struct {
	Model string
	Err   error
}

func (e *ModelError) Error() string { return fmt.Sprintf("model: %q: %v", e.Model, e.Err) }
func (e *ModelError) Unwrap() error { return e.Err }

// validate normalizes m's derived fields (table name, primary key, a
// synthesized id PK column) and checks every identifier it carries,
// shared by Register and Replace.
func validate(m *Model) error {
	if !sql.IsValidIdentifier(m.Name) {
		return &ModelError{Model: m.Name, Err: fmt.Errorf("model name is not a valid identifier")}
	}
	if m.TableName == "" {
		m.TableName = defaultTableName(m.Name)
	}
	if !sql.IsValidIdentifier(m.TableName) {
		return &ModelError{Model: m.Name, Err: fmt.Errorf("table name %q is not a valid identifier", m.TableName)}
	}
	if m.PrimaryKey == "" {
		m.PrimaryKey = "id"
	}
	seen := make(map[string]struct{}, len(m.Fields))
	for _, f := range m.Fields {
		if !sql.IsValidIdentifier(f.Name) {
			return &ModelError{Model: m.Name, Err: fmt.Errorf("field %q is not a valid identifier", f.Name)}
		}
		if _, dup := seen[f.Name]; dup {
			return &ModelError{Model: m.Name, Err: fmt.Errorf("duplicate field %q", f.Name)}
		}
		seen[f.Name] = struct{}{}
	}
	if m.Field(m.PrimaryKey) == nil {
		pk, err := NewField(m.PrimaryKey, Int64)
		if err != nil {
			return &ModelError{Model: m.Name, Err: err}
		}
		m.Fields = append([]*Field{pk}, m.Fields...)
	}
	return nil
}

// Register validates and adds m to the registry. Every field name and the
// model name itself must pass the identifier validator; this is
// a fatal configuration error, never deferred to execution.
func (r *Registry) Register(m *Model) error {
	if err := validate(m); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.models == nil {
		r.models = make(map[string]*Model)
	}
	if _, exists := r.models[m.Name]; exists {
		return &ModelError{Model: m.Name, Err: fmt.Errorf("already registered")}
	}
	r.models[m.Name] = m
	return nil
}

// Replace registers m unconditionally, overwriting any existing model of
// the same name. Unlike Register, a name collision is not an error — this
// is the entry point dev-mode hot reload uses, where re-registering the
// same model after an edit is the expected steady state rather than a
// configuration mistake.
func (r *Registry) Replace(m *Model) error {
	if err := validate(m); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.models == nil {
		r.models = make(map[string]*Model)
	}
	r.models[m.Name] = m
	return nil
}

// Get looks up a registered model by name.
func (r *Registry) Get(name string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	return m, ok
}

// All returns every registered model, in no particular order.
func (r *Registry) All() []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	return out
}

// Tables projects every registered model into its schema.Table form, the
// "declared models" side of the schema comparator's diff input.
func (r *Registry) Tables() []*schema.Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*schema.Table, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m.ToTable())
	}
	return out
}
