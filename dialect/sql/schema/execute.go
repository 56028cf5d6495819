package schema

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/syssam/dataflow/dialect"
)

// LockHeldError reports that a migration lock is already held by another
// process. The engine facade translates this into a dataflow.MigrationError
// at the package boundary; schema itself stays free of that dependency so
// the import graph (dataflow -> schema) has no cycle back.
type LockHeldError struct {
	Schema string
	Holder string
	Since  string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("schema: migration lock on %q held by pid %s since %s", e.Schema, e.Holder, e.Since)
}

// AbortedError reports a clean abort of an in-progress migration: the
// transaction was rolled back in full and the schema is unchanged.
type AbortedError struct {
	Err error
}

func (e *AbortedError) Error() string { return fmt.Sprintf("schema: migration aborted: %v", e.Err) }
func (e *AbortedError) Unwrap() error { return e.Err }

// ManualRecoveryError reports a partial rollback: some completed steps
// could not be reversed, leaving the listed tables in an inconsistent state
// that requires operator intervention.
type ManualRecoveryError struct {
	Tables []string
	Err    error
}

func (e *ManualRecoveryError) Error() string {
	return fmt.Sprintf("schema: migration rollback incomplete, manual recovery required for tables %v: %v", e.Tables, e.Err)
}
func (e *ManualRecoveryError) Unwrap() error { return e.Err }

// LockManager coordinates the single named advisory lock guarding a schema
// migration. A process-local implementation is sufficient for
// the in-process engine facade; a distributed adapter would persist the
// same fields in a lock table instead.
type LockManager struct {
	mu      sync.Mutex
	holders map[string]lockState
}

type lockState struct {
	holder     string
	acquiredAt time.Time
}

// NewLockManager returns an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{holders: make(map[string]lockState)}
}

// Acquire takes the named lock, or fails with a *LockHeldError reporting
// the current holder. A lock older than timeout is considered stale and
// silently reclaimed; with a non-positive timeout a held lock is never
// reclaimed.
func (m *LockManager) Acquire(schema string, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.holders[schema]; ok {
		if timeout <= 0 || time.Since(st.acquiredAt) < timeout {
			return &LockHeldError{Schema: schema, Holder: st.holder, Since: st.acquiredAt.Format(time.RFC3339)}
		}
	}
	m.holders[schema] = lockState{holder: strconv.Itoa(os.Getpid()), acquiredAt: time.Now()}
	return nil
}

// ForceRelease releases schema's lock regardless of age, for an operator
// override of a confirmed-stale lock.
func (m *LockManager) ForceRelease(schema string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.holders, schema)
}

// Release releases schema's lock.
func (m *LockManager) Release(schema string) {
	m.ForceRelease(schema)
}

// PerformanceCheck lets the executor compare pre/post-migration timing
// distributions against a degradation threshold. Implementations run a
// representative workload; the default
// zero value skips the check entirely.
type PerformanceCheck struct {
	// Threshold is the degradation ratio above which a warning (or abort,
	// if AbortOnDegradation) is raised. Zero disables the check.
	Threshold          float64
	AbortOnDegradation bool
	// Measure runs the workload and reports elapsed time; the executor
	// calls it once before and once after applying the plan.
	Measure func(ctx context.Context) (time.Duration, error)
}

func (p PerformanceCheck) enabled() bool { return p.Threshold > 0 && p.Measure != nil }

// ExecuteResult reports the outcome of running a Plan.
type ExecuteResult struct {
	AppliedSteps   []int
	RolledBack     bool
	PartialRollback bool
	DegradationWarning string
}

// Execute runs plan's steps inside one transaction, setting a savepoint
// after each step (or each group) so a mid-plan failure can roll back to
// the last good point and then unwind the completed steps' precomputed
// reverse SQL, in reverse order.
//
// tx must come from a driver.Tx() obtained while holding lockMgr's lock for
// schemaName; Execute does not acquire the lock itself, since the engine
// facade needs to surface lock acquisition failures before ever opening a
// transaction.
func Execute(ctx context.Context, tx dialect.Tx, schemaName string, plan *Plan, perf PerformanceCheck) (*ExecuteResult, error) {
	result := &ExecuteResult{}

	var before time.Duration
	if perf.enabled() {
		var err error
		before, err = perf.Measure(ctx)
		if err != nil {
			return nil, fmt.Errorf("schema: performance baseline (before): %w", err)
		}
	}

	groups := groupSteps(plan.Steps)
	var completed []*Step

	for gi, group := range groups {
		spName := fmt.Sprintf("mig_%d", gi)
		if err := tx.Savepoint(ctx, spName); err != nil {
			return result, &AbortedError{Err: fmt.Errorf("savepoint %s: %w", spName, err)}
		}
		groupErr := applyGroup(ctx, tx, group)
		if groupErr == nil {
			completed = append(completed, group...)
			for _, s := range group {
				result.AppliedSteps = append(result.AppliedSteps, s.Index)
			}
			continue
		}

		if err := tx.RollbackTo(ctx, spName); err != nil {
			return result, &AbortedError{Err: fmt.Errorf("rollback to %s: %w", spName, err)}
		}
		result.RolledBack = true

		if tables, err := unwind(ctx, tx, completed); err != nil {
			result.PartialRollback = true
			_ = tx.Rollback()
			return result, &ManualRecoveryError{Tables: tables, Err: err}
		}
		_ = tx.Rollback()
		return result, &AbortedError{Err: groupErr}
	}

	if perf.enabled() {
		after, err := perf.Measure(ctx)
		if err != nil {
			return result, fmt.Errorf("schema: performance baseline (after): %w", err)
		}
		if before > 0 {
			ratio := float64(after) / float64(before)
			if ratio > perf.Threshold {
				msg := fmt.Sprintf("post-migration workload degraded %.2fx (threshold %.2fx)", ratio, perf.Threshold)
				if perf.AbortOnDegradation {
					_ = tx.Rollback()
					return result, &AbortedError{Err: fmt.Errorf("%s", msg)}
				}
				result.DegradationWarning = msg
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("schema: commit: %w", err)
	}
	return result, nil
}

// groupSteps partitions steps into FK-coordinated groups (by Step.Group)
// and singleton groups for ungrouped steps, preserving plan order.
func groupSteps(steps []*Step) [][]*Step {
	var groups [][]*Step
	var current []*Step
	currentGroup := ""
	flush := func() {
		if len(current) > 0 {
			groups = append(groups, current)
			current = nil
		}
	}
	for _, s := range steps {
		if s.Group == "" {
			flush()
			groups = append(groups, []*Step{s})
			continue
		}
		if s.Group != currentGroup {
			flush()
			currentGroup = s.Group
		}
		current = append(current, s)
	}
	flush()
	return groups
}

func applyGroup(ctx context.Context, tx dialect.Tx, group []*Step) error {
	for _, s := range group {
		if err := tx.Exec(ctx, s.Forward, s.ForwardArgs, nil); err != nil {
			return fmt.Errorf("step %d (%s): %w", s.Index, s.Change, err)
		}
	}
	return nil
}

// unwind applies each completed step's reverse SQL in reverse order. It
// stops at the first irreversible step and returns the tables left in an
// inconsistent state, reported as a "manual recovery required" fault.
func unwind(ctx context.Context, tx dialect.Tx, completed []*Step) ([]string, error) {
	for i := len(completed) - 1; i >= 0; i-- {
		s := completed[i]
		if s.Irreversible || s.Reverse == "" {
			var tables []string
			for _, rem := range completed[:i+1] {
				tables = append(tables, rem.Change.Table)
			}
			return dedupStrings(tables), fmt.Errorf("step %d (%s) has no safe reverse", s.Index, s.Change)
		}
		if err := tx.Exec(ctx, s.Reverse, []any{}, nil); err != nil {
			var tables []string
			for _, rem := range completed[:i+1] {
				tables = append(tables, rem.Change.Table)
			}
			return dedupStrings(tables), fmt.Errorf("reversing step %d (%s): %w", s.Index, s.Change, err)
		}
	}
	return nil, nil
}

func dedupStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
