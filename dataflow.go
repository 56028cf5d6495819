package dataflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/syssam/dataflow/catalog"
	"github.com/syssam/dataflow/dialect"
	dsql "github.com/syssam/dataflow/dialect/sql"
	"github.com/syssam/dataflow/dialect/sql/schema"
	"github.com/syssam/dataflow/filter"
	"github.com/syssam/dataflow/interceptor"
	"github.com/syssam/dataflow/model"
	"github.com/syssam/dataflow/querycache"
	"github.com/syssam/dataflow/tenant"
	"github.com/syssam/dataflow/workflow"
)

type facadeCtxKey struct{}

// Engine is the root object of the framework: it owns the model registry, the
// storage driver, the cache, the query interceptor, the tenant context, and
// the migration surface, and is the only type application code constructs
// directly.
type Engine struct {
	cfg     Config
	driver  dialect.Driver
	models  *model.Registry
	cat     *catalog.Catalog
	tenants *tenant.Registry
	interc  *interceptor.Interceptor
	cache   *querycache.Cache
	locks   *schema.LockManager
	log     *Logger

	mu          sync.Mutex
	initialized bool
	workflows   map[string]*workflow.Builder
}

// New constructs an Engine bound to driver, with optional cache backend
// (nil disables read-through caching). Construction only binds
// dependencies; no connection is opened until Initialize runs.
func New(driver dialect.Driver, backend Cache, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	reg := model.NewRegistry()
	e := &Engine{
		cfg:       cfg,
		driver:    driver,
		models:    reg,
		tenants:   tenant.NewRegistry(),
		locks:     schema.NewLockManager(),
		log:       NewLogger(cfg.Log),
		workflows: make(map[string]*workflow.Builder),
	}
	e.interc = interceptor.New(e.tenants, cfg.ActorFunc)
	e.cat = catalog.New(reg)
	if backend != nil {
		e.cache = querycache.New(backend, querycache.Options{TTL: cfg.CacheTTL, MaxSize: cfg.CacheMaxSize})
	}
	e.instrumentDriver()
	return e
}

// instrumentDriver wraps a plain *sql.Driver per the engine config: query
// statistics with slow-query logging when SlowQueryThreshold is set, SQL
// echo when the sql_generation category runs at debug. The stats wrapper
// takes precedence since its slow-query hook already surfaces statement
// text. Drivers that aren't a *sql.Driver (test doubles, a future
// document-family adapter) are left untouched.
func (e *Engine) instrumentDriver() {
	drv, ok := e.driver.(*dsql.Driver)
	if !ok {
		return
	}
	switch {
	case e.cfg.SlowQueryThreshold > 0:
		e.driver = dsql.NewStatsDriver(drv,
			dsql.WithSlowThreshold(e.cfg.SlowQueryThreshold),
			dsql.WithSlowQueryLog(e.log.SQLGeneration),
		)
	case e.cfg.Log.SQLGeneration >= LogDebug:
		lg := e.log.SQLGeneration
		e.driver = dsql.NewDebugDriver(drv, dsql.DebugWithLog(func(ctx context.Context, v ...any) {
			lg.DebugContext(ctx, fmt.Sprint(v...))
		}))
	}
}

// sqlDriver resolves the engine's driver down to the underlying *sql.Driver,
// unwrapping the stats/debug instrumentation layers installed by
// instrumentDriver.
func (e *Engine) sqlDriver() (*dsql.Driver, bool) {
	switch d := e.driver.(type) {
	case *dsql.Driver:
		return d, true
	case *dsql.StatsDriver:
		return d.Driver, true
	case *dsql.DebugDriver:
		return d.Driver, true
	}
	return nil, false
}

// Initialize brings connections online. It is async-safe: calling it from
// within an already-running async workflow context is allowed, since
// opening a connection pool does not itself spawn a nested scheduler.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return nil
	}
	e.applyPoolConfig()
	if h, ok := e.driver.(dialect.Healther); ok {
		if err := h.Health(ctx); err != nil {
			e.log.Core.Error("initialize failed", "dialect", e.driver.Dialect(), "error", err)
			return NewAdapterError("initialize", err)
		}
	}
	e.initialized = true
	e.log.Core.Info("engine initialized", "dialect", e.driver.Dialect())
	return nil
}

// applyPoolConfig pushes the engine's PoolConfig onto the underlying
// *sql.DB, for drivers that expose one. TestMode tightens idle-connection
// retention to zero regardless of PoolConfig.MinConns: every borrowed
// connection is closed as soon as it is returned rather than kept warm for
// reuse, so nothing leaks state across test runs.
func (e *Engine) applyPoolConfig() {
	drv, ok := e.sqlDriver()
	if !ok {
		return
	}
	db := drv.DB()
	db.SetMaxOpenConns(e.cfg.Pool.MaxConns)
	db.SetConnMaxIdleTime(e.cfg.Pool.Timeout)
	idle := e.cfg.Pool.MinConns
	if e.cfg.TestMode {
		idle = 0
	}
	db.SetMaxIdleConns(idle)
}

// Shutdown tears down the connection pool and flushes the cache.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cache != nil {
		if err := e.cache.Clear(ctx); err != nil {
			return NewCacheFaultError("shutdown", err)
		}
	}
	if err := e.driver.Close(); err != nil {
		e.log.Core.Error("shutdown failed", "error", err)
		return NewAdapterError("shutdown", err)
	}
	e.initialized = false
	e.log.Core.Info("engine shut down")
	return nil
}

// PoolPurgeReport summarizes one PurgePools call against the underlying
// *sql.DB connection pool.
type PoolPurgeReport struct {
	// Created is the number of connections open (idle or in use) at the
	// moment the purge ran.
	Created int
	// Purged is the number of idle connections closed by the purge.
	Purged int
	// Errors counts close failures the pool swallowed internally;
	// database/sql does not surface these, so it is always 0 today and
	// exists for forward compatibility with an adapter that does.
	Errors int
}

// PurgePools force-closes idle pooled connections and clears the
// read-through cache, without closing the driver or interrupting
// connections currently in use. Useful between test runs or after an
// out-of-band schema change. Drivers other than *sql.Driver (e.g. test
// doubles, or a future document-family adapter) have no pool to purge; only
// the cache clear applies to them.
func (e *Engine) PurgePools(ctx context.Context) (PoolPurgeReport, error) {
	var report PoolPurgeReport
	if drv, ok := e.sqlDriver(); ok {
		db := drv.DB()
		before := db.Stats()
		report.Created = before.OpenConnections
		db.SetMaxIdleConns(0)
		after := db.Stats()
		report.Purged = before.Idle - after.Idle
		idle := e.cfg.Pool.MinConns
		if e.cfg.TestMode {
			idle = 0
		}
		db.SetMaxIdleConns(idle)
	}
	if e.cache != nil {
		if err := e.cache.Clear(ctx); err != nil {
			return report, NewCacheFaultError("purge_pools", err)
		}
	}
	return report, nil
}

// RegisterModel adds m to the engine's model registry and refreshes the
// node catalog's handler table.
func (e *Engine) RegisterModel(m *model.Model) error {
	if err := e.models.Register(m); err != nil {
		e.log.Core.Warn("register_model failed", "model", m.Name, "error", err)
		return fmt.Errorf("dataflow: %w", err)
	}
	e.cat.Refresh()
	e.log.Core.Debug("model registered", "model", m.Name, "table", m.TableName)
	return nil
}

// GetAvailableNodes lists the model.op references currently registered,
// optionally filtered to one model.
func (e *Engine) GetAvailableNodes(modelName string) []string {
	return e.cat.AvailableNodes(modelName)
}

// CreateWorkflow starts a new workflow builder labeled label.
func (e *Engine) CreateWorkflow(label string) *workflow.Builder {
	b := workflow.NewBuilder(label)
	e.mu.Lock()
	e.workflows[label] = b
	e.mu.Unlock()
	return b
}

// AddNode adds a node to wf referencing modelName.opName, failing with
// *unknown model*/*unknown operation* (enumerating the allowed set) if
// either is not registered.
func (e *Engine) AddNode(wf *workflow.Builder, modelName, opName, nodeID string, params map[string]any) error {
	if _, ok := e.models.Get(modelName); !ok {
		return fmt.Errorf("dataflow: unknown model %q; registered models: %v", modelName, e.modelNames())
	}
	op := catalog.Op(opName)
	if !e.cat.HasOp(modelName, op) {
		return fmt.Errorf("dataflow: unknown operation %q for model %q; allowed: %v", opName, modelName, allOpNames())
	}
	return wf.AddNode(nodeID, modelName, opName, params)
}

func (e *Engine) modelNames() []string {
	var out []string
	for _, m := range e.models.All() {
		out = append(out, m.Name)
	}
	return out
}

func allOpNames() []string {
	return []string{"create", "read", "update", "delete", "list", "upsert", "count", "bulk_create", "bulk_update", "bulk_delete", "bulk_upsert"}
}

// ExecuteWorkflow freezes wf and runs it with the sync runtime if async is
// false, or the async runtime (errgroup-scheduled independent groups)
// otherwise.
func (e *Engine) ExecuteWorkflow(ctx context.Context, wf *workflow.Builder, runtimeInputs map[string]map[string]any, async bool) (map[string]map[string]any, string, error) {
	frozen, err := wf.Freeze()
	if err != nil {
		return nil, "", err
	}
	rt := workflow.New(e.dispatchHandler)
	var res *workflow.RunResult
	if async {
		res, err = rt.Execute(ctx, frozen, runtimeInputs)
	} else {
		res, err = rt.ExecuteSync(ctx, frozen, runtimeInputs)
	}
	if err != nil {
		return nil, "", err
	}
	return res.Results, res.RunID, nil
}

// dispatchHandler adapts a workflow.Node invocation into a catalog.Dispatch
// call, the seam between the workflow runtime (which binds parameters) and
// the node catalog (which owns the operation handlers).
func (e *Engine) dispatchHandler(ctx context.Context, n *workflow.Node, input map[string]any) (map[string]any, error) {
	e.log.NodeExecution.Debug("dispatching node", "node_id", n.ID, "model", n.Model, "op", n.Op)
	if n.Op == "list" {
		e.log.ListOperations.Debug("list dispatched", "node_id", n.ID, "model", n.Model, "filter", input["filter"])
	}
	ec := &catalog.ExecContext{
		Ctx:       ctx,
		NodeID:    n.ID,
		Dialect:   dsql.Dialect(e.driver.Dialect()),
		Conn:      e.driver,
		Intercept: e.interc,
		Cache:     e.cache,
	}
	result := e.cat.Dispatch(ec, n.Model, catalog.Op(n.Op), catalog.Params(input))
	if !result.Success {
		e.log.NodeExecution.Warn("node failed", "node_id", n.ID, "model", n.Model, "op", n.Op, "error", result.Error)
		return nil, result.Error
	}
	if e.cache != nil && (n.Op == "update" || n.Op == "delete" || n.Op == "upsert" ||
		n.Op == "bulk_create" || n.Op == "bulk_update" || n.Op == "bulk_delete" || n.Op == "bulk_upsert" || n.Op == "create") {
		e.cache.InvalidateModel(n.Model)
	}
	return map[string]any{"result": result.Data, "rows_affected": result.RowsAffected}, nil
}

// discoverMarker is the context key DiscoverSchema checks before doing any
// I/O; a ctx carrying it makes DiscoverSchema fail with "wrong context".
// It is a different key from the one workflow.Runtime.Execute stores, so a
// DiscoverSchema call made from inside a running async workflow is not
// caught by this check.
type discoverMarker struct{}

// DiscoverSchema is the synchronous schema-introspection entry point. It
// fails with "wrong context", without attempting any I/O, if ctx carries
// the discoverMarker key.
func (e *Engine) DiscoverSchema(ctx context.Context, live []*schema.Table) ([]schema.Change, error) {
	if ctx.Value(discoverMarker{}) != nil {
		return nil, fmt.Errorf("dataflow: wrong context: discover_schema called from inside an async context; use discover_schema_async instead")
	}
	return e.diffWithRenames(live), nil
}

// DiscoverSchemaAsync is the async-safe variant of DiscoverSchema, usable
// from within a running async workflow.
func (e *Engine) DiscoverSchemaAsync(ctx context.Context, live []*schema.Table) ([]schema.Change, error) {
	ctx = context.WithValue(ctx, discoverMarker{}, true)
	return e.diffWithRenames(live), nil
}

// diffWithRenames runs the raw table diff and then, when the engine's
// Config opted into it, folds matching add/drop pairs into RenameTable /
// RenameColumn changes. Ambiguous candidates stay as drop+add rather than
// being guessed.
func (e *Engine) diffWithRenames(live []*schema.Table) []schema.Change {
	desired := e.models.Tables()
	changes := schema.Diff(live, desired)
	if e.cfg.RenameDetection.Enabled {
		changes = schema.DetectRenames(changes, live, desired, e.cfg.RenameDetection)
	}
	return changes
}

// ValidateMigration runs the pre-flight safety check ahead of planning: it
// classifies the same current/desired comparison DiscoverSchema diffs as
// breaking errors or warnings, independent of and before any risk score is
// computed, so an operator can reject an unsafe migration without ever
// building a Plan.
func (e *Engine) ValidateMigration(live []*schema.Table, opts ...schema.ValidateOption) *schema.ValidationResult {
	return schema.ValidateDiff(live, e.models.Tables(), opts...)
}

// DiscoverLiveSchema inspects schemaName directly off the Engine's bound
// driver through atlas's dialect-specific inspector, then diffs the
// resulting current-state tables against the model registry's desired
// state. It requires the driver to be a *sql.Driver wrapping a real
// *sql.DB; drivers that aren't (e.g. test doubles) should keep constructing
// the live []*schema.Table slice themselves and call DiscoverSchema.
func (e *Engine) DiscoverLiveSchema(ctx context.Context, schemaName string) ([]schema.Change, error) {
	drv, ok := e.sqlDriver()
	if !ok {
		return nil, NewAdapterError("discover_live_schema", fmt.Errorf("live introspection requires a *sql.Driver, got %T", e.driver))
	}
	live, err := schema.InspectLive(ctx, drv.DB(), drv.Dialect(), schemaName)
	if err != nil {
		return nil, NewAdapterError("discover_live_schema", err)
	}
	return e.DiscoverSchema(ctx, live)
}

// PlanMigration builds a risk-scored migration plan from a previously
// computed diff, delegating directly to schema.BuildPlan.
func (e *Engine) PlanMigration(diffs []schema.Change, opts schema.PlanOptions) (*schema.Plan, error) {
	plan, err := schema.BuildPlan(diffs, e.models.Tables(), opts)
	if err != nil {
		e.log.Migration.Error("plan_migration failed", "error", err)
		return nil, err
	}
	e.log.Migration.Info("migration planned", "steps", len(plan.Steps), "risk_band", plan.RiskBand)
	return plan, nil
}

// ApplyMigration executes plan inside tx under schemaName's advisory lock,
// translating the executor's local error types into this package's typed
// MigrationError/AdapterError.
func (e *Engine) ApplyMigration(ctx context.Context, tx dialect.Tx, schemaName string, plan *schema.Plan, perf schema.PerformanceCheck, lockTimeout int64) (*schema.ExecuteResult, error) {
	if err := e.locks.Acquire(schemaName, time.Duration(lockTimeout)*time.Second); err != nil {
		var lockErr *schema.LockHeldError
		if errors.As(err, &lockErr) {
			e.log.Migration.Warn("migration lock held", "schema", schemaName, "holder", lockErr.Holder)
			return nil, NewMigrationLockHeldError(lockErr.Holder, lockErr.Since)
		}
		return nil, NewAdapterError("acquire_migration_lock", err)
	}
	defer e.locks.Release(schemaName)

	e.log.Migration.Info("migration applying", "schema", schemaName, "steps", len(plan.Steps))
	res, err := schema.Execute(ctx, tx, schemaName, plan, perf)
	if err != nil {
		var aborted *schema.AbortedError
		var manual *schema.ManualRecoveryError
		switch {
		case errors.As(err, &aborted):
			e.log.Migration.Error("migration aborted", "schema", schemaName, "error", aborted.Err)
			return nil, NewMigrationAbortedError(aborted.Err)
		case errors.As(err, &manual):
			e.log.Migration.Error("migration requires manual recovery", "schema", schemaName, "tables", manual.Tables, "error", manual.Err)
			return nil, NewManualRecoveryError(manual.Tables, manual.Err)
		default:
			e.log.Migration.Error("migration failed", "schema", schemaName, "error", err)
			return nil, NewAdapterError("apply_migration", err)
		}
	}
	e.log.Migration.Info("migration applied", "schema", schemaName)
	return res, nil
}

// QueryStats reports a snapshot of the collected query statistics. The
// second return is false when statistics collection is off
// (Config.SlowQueryThreshold unset, or the driver is not a *sql.Driver).
func (e *Engine) QueryStats() (dsql.StatsSnapshot, bool) {
	sd, ok := e.driver.(*dsql.StatsDriver)
	if !ok {
		return dsql.StatsSnapshot{}, false
	}
	return sd.QueryStats().Stats(), true
}

// PerformanceBaseline builds the pre/post-migration workload check for
// ApplyMigration: queries are replayed before and after the plan runs and a
// post/pre elapsed ratio above threshold surfaces a degradation warning, or
// aborts the migration when abortOnDegradation is set. threshold <= 0
// selects the default 2x. Requires statistics collection
// (Config.SlowQueryThreshold) since the timings are read off the stats
// layer.
func (e *Engine) PerformanceBaseline(queries []string, threshold float64, abortOnDegradation bool) (schema.PerformanceCheck, error) {
	sd, ok := e.driver.(*dsql.StatsDriver)
	if !ok {
		return schema.PerformanceCheck{}, fmt.Errorf("dataflow: performance baseline requires query statistics; set Config.SlowQueryThreshold")
	}
	if threshold <= 0 {
		threshold = 2.0
	}
	return schema.PerformanceCheck{
		Threshold:          threshold,
		AbortOnDegradation: abortOnDegradation,
		Measure:            sd.MeasureWorkload(queries),
	}, nil
}

// Tenants exposes the tenant registry for registration/lifecycle calls;
// the engine facade itself only consumes it via ctx.
func (e *Engine) Tenants() *tenant.Registry { return e.tenants }

// Filter is a convenience re-export so callers build filter documents
// without importing package filter directly.
type Filter = filter.Doc
