package dataflow

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("dataflow: entity not found")

	// ErrNotSingular is returned when a query that expects exactly one result
	// returns zero or multiple results.
	ErrNotSingular = errors.New("dataflow: entity not singular")

	// ErrTxStarted is returned when attempting to start a new transaction
	// within an existing transaction.
	ErrTxStarted = errors.New("dataflow: cannot start a transaction within a transaction")
)

// NotFoundError represents an error when an entity is not found.
type NotFoundError struct {
	label string
	id    any // Optional: the ID that was searched for
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.id != nil {
		return fmt.Sprintf("dataflow: %s not found (id=%v)", e.label, e.id)
	}
	return fmt.Sprintf("dataflow: %s not found", e.label)
}

// Is reports whether the target error matches NotFoundError.
// This allows errors.Is(notFoundErr, ErrNotFound) to return true.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Label returns the entity label.
func (e *NotFoundError) Label() string {
	return e.label
}

// ID returns the ID that was searched for, if available.
func (e *NotFoundError) ID() any {
	return e.id
}

// NewNotFoundError returns a new NotFoundError for the given entity type.
func NewNotFoundError(label string) *NotFoundError {
	return &NotFoundError{label: label}
}

// NewNotFoundErrorWithID returns a new NotFoundError with the ID that was searched for.
func NewNotFoundErrorWithID(label string, id any) *NotFoundError {
	return &NotFoundError{label: label, id: id}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// NotSingularError represents an error when a query expects a singular result
// but receives zero or multiple results.
type NotSingularError struct {
	label string
	count int // Number of results returned (-1 if unknown)
}

// Error returns the error string.
func (e *NotSingularError) Error() string {
	if e.count >= 0 {
		return fmt.Sprintf("dataflow: %s not singular (got %d results, expected 1)", e.label, e.count)
	}
	return fmt.Sprintf("dataflow: %s not singular", e.label)
}

// Is reports whether the target error matches NotSingularError.
// This allows errors.Is(notSingularErr, ErrNotSingular) to return true.
func (e *NotSingularError) Is(err error) bool {
	return err == ErrNotSingular
}

// Label returns the entity label.
func (e *NotSingularError) Label() string {
	return e.label
}

// Count returns the number of results, or -1 if unknown.
func (e *NotSingularError) Count() int {
	return e.count
}

// NewNotSingularError returns a new NotSingularError for the given entity type.
func NewNotSingularError(label string) *NotSingularError {
	return &NotSingularError{label: label, count: -1}
}

// NewNotSingularErrorWithCount returns a new NotSingularError with the result count.
func NewNotSingularErrorWithCount(label string, count int) *NotSingularError {
	return &NotSingularError{label: label, count: count}
}

// IsNotSingular returns true if the error is a NotSingularError.
func IsNotSingular(err error) bool {
	if err == nil {
		return false
	}
	var e *NotSingularError
	return errors.As(err, &e) || errors.Is(err, ErrNotSingular)
}

// NotLoadedError represents an error when attempting to access an edge
// that was not loaded (eager-loaded).
type NotLoadedError struct {
	edge string
}

// Error returns the error string.
func (e *NotLoadedError) Error() string {
	return fmt.Sprintf("dataflow: edge %q was not loaded", e.edge)
}

// NewNotLoadedError returns a new NotLoadedError for the given edge name.
func NewNotLoadedError(edge string) *NotLoadedError {
	return &NotLoadedError{edge: edge}
}

// IsNotLoaded returns true if the error is a NotLoadedError.
func IsNotLoaded(err error) bool {
	if err == nil {
		return false
	}
	var e *NotLoadedError
	return errors.As(err, &e)
}

// ConstraintError represents a database constraint violation error.
type ConstraintError struct {
	msg  string
	wrap error
}

// Error returns the error string.
func (e ConstraintError) Error() string {
	return fmt.Sprintf("dataflow: constraint failed: %s", e.msg)
}

// Unwrap returns the underlying error.
func (e ConstraintError) Unwrap() error {
	return e.wrap
}

// NewConstraintError returns a new ConstraintError with the given message.
func NewConstraintError(msg string, wrap error) error {
	return ConstraintError{msg: msg, wrap: wrap}
}

// IsConstraintError returns true if the error is a ConstraintError.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var e ConstraintError
	return errors.As(err, &e)
}

// ValidationError represents a validation error for field values.
type ValidationError struct {
	Name string // Field or entity name
	Err  error  // Underlying validation error
}

// Error returns the error string.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("dataflow: validator failed for field %q: %s", e.Name, e.Err)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError returns a new ValidationError for the given field.
func NewValidationError(name string, err error) *ValidationError {
	return &ValidationError{Name: name, Err: err}
}

// IsValidationError returns true if the error is a ValidationError.
func IsValidationError(err error) bool {
	if err == nil {
		return false
	}
	var e *ValidationError
	return errors.As(err, &e)
}

// RollbackError wraps an error that occurred during a transaction rollback.
type RollbackError struct {
	Err error // Original error that triggered rollback
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("dataflow: rollback failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *RollbackError) Unwrap() error {
	return e.Err
}

// AggregateError represents multiple errors collected during an operation.
type AggregateError struct {
	Errors []error
}

// Error returns the error string.
func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "dataflow: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	sb.WriteString("dataflow: multiple errors:")
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

// NewAggregateError returns a new AggregateError if there are errors,
// otherwise returns nil.
func NewAggregateError(errs ...error) error {
	var filtered []error
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &AggregateError{Errors: filtered}
}

// QueryError wraps a query error with additional context.
type QueryError struct {
	Entity string // Entity type being queried
	Op     string // Operation (e.g., "select", "count", "exist")
	Err    error  // Underlying error
}

// Error returns the error string.
func (e *QueryError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("dataflow: querying %s (%s): %v", e.Entity, e.Op, e.Err)
	}
	return fmt.Sprintf("dataflow: querying %s: %v", e.Entity, e.Err)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// NewQueryError returns a new QueryError.
func NewQueryError(entity, op string, err error) *QueryError {
	return &QueryError{Entity: entity, Op: op, Err: err}
}

// IsQueryError returns true if the error is a QueryError.
func IsQueryError(err error) bool {
	if err == nil {
		return false
	}
	var e *QueryError
	return errors.As(err, &e)
}

// MutationError wraps a mutation error with additional context.
type MutationError struct {
	Entity string // Entity type being mutated
	Op     string // Operation (e.g., "create", "update", "delete")
	Err    error  // Underlying error
}

// Error returns the error string.
func (e *MutationError) Error() string {
	return fmt.Sprintf("dataflow: %s %s: %v", e.Op, e.Entity, e.Err)
}

// Unwrap returns the underlying error.
func (e *MutationError) Unwrap() error {
	return e.Err
}

// NewMutationError returns a new MutationError.
func NewMutationError(entity, op string, err error) *MutationError {
	return &MutationError{Entity: entity, Op: op, Err: err}
}

// IsMutationError returns true if the error is a MutationError.
func IsMutationError(err error) bool {
	if err == nil {
		return false
	}
	var e *MutationError
	return errors.As(err, &e)
}

// PrivacyError represents a privacy policy violation.
type PrivacyError struct {
	Entity string // Entity type
	Op     string // Operation (query or mutation)
	Rule   string // Rule that denied the operation
}

// Error returns the error string.
func (e *PrivacyError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("dataflow: privacy denied %s on %s (rule: %s)", e.Op, e.Entity, e.Rule)
	}
	return fmt.Sprintf("dataflow: privacy denied %s on %s", e.Op, e.Entity)
}

// NewPrivacyError returns a new PrivacyError.
func NewPrivacyError(entity, op, rule string) *PrivacyError {
	return &PrivacyError{Entity: entity, Op: op, Rule: rule}
}

// IsPrivacyError returns true if the error is a PrivacyError.
func IsPrivacyError(err error) bool {
	if err == nil {
		return false
	}
	var e *PrivacyError
	return errors.As(err, &e)
}

// InvalidFilterError represents a malformed or unsupported filter document.
type InvalidFilterError struct {
	Path string // dot-path into the filter document where the problem was found
	Msg  string
}

// Error returns the error string.
func (e *InvalidFilterError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("dataflow: invalid filter at %q: %s", e.Path, e.Msg)
	}
	return fmt.Sprintf("dataflow: invalid filter: %s", e.Msg)
}

// NewInvalidFilterError returns a new InvalidFilterError.
func NewInvalidFilterError(path, msg string) *InvalidFilterError {
	return &InvalidFilterError{Path: path, Msg: msg}
}

// IsInvalidFilter returns true if the error is an InvalidFilterError.
func IsInvalidFilter(err error) bool {
	if err == nil {
		return false
	}
	var e *InvalidFilterError
	return errors.As(err, &e)
}

// UnsafeBulkOpError describes a delete or bulk delete refused because it
// carries no filter. Nothing in this package constructs it; the node catalog
// reports that refusal as a Result error of kind "unsafe_bulk_operation".
type UnsafeBulkOpError struct {
	Entity string
	Op     string // "delete" or "bulk_delete"
}

// Error returns the error string.
func (e *UnsafeBulkOpError) Error() string {
	return fmt.Sprintf("dataflow: refusing unfiltered %s on %s without explicit override", e.Op, e.Entity)
}

// NewUnsafeBulkOpError returns a new UnsafeBulkOpError.
func NewUnsafeBulkOpError(entity, op string) *UnsafeBulkOpError {
	return &UnsafeBulkOpError{Entity: entity, Op: op}
}

// IsUnsafeBulkOp returns true if the error is an UnsafeBulkOpError.
func IsUnsafeBulkOp(err error) bool {
	if err == nil {
		return false
	}
	var e *UnsafeBulkOpError
	return errors.As(err, &e)
}

// TenantError covers the tenant-context invariant violations:
// switching to an unregistered/deactivated tenant, unregistering the active
// tenant, or calling require() with none active.
type TenantError struct {
	TenantID string
	Reason   string // "unavailable", "in_use", "required"
}

// Error returns the error string.
func (e *TenantError) Error() string {
	switch e.Reason {
	case "in_use":
		return fmt.Sprintf("dataflow: tenant %q is in use and cannot be unregistered", e.TenantID)
	case "required":
		return "dataflow: tenant required but none is active"
	default:
		return fmt.Sprintf("dataflow: tenant %q unavailable", e.TenantID)
	}
}

// NewTenantUnavailableError returns a TenantError for an unregistered or
// deactivated tenant.
func NewTenantUnavailableError(tenantID string) *TenantError {
	return &TenantError{TenantID: tenantID, Reason: "unavailable"}
}

// NewTenantInUseError returns a TenantError for unregistering an active tenant.
func NewTenantInUseError(tenantID string) *TenantError {
	return &TenantError{TenantID: tenantID, Reason: "in_use"}
}

// ErrTenantRequired is the TenantError for a call that needs an active tenant
// when none is set. Nothing in this package returns it; tenant.Require reports
// that condition as a *tenant.Error.
var ErrTenantRequired = &TenantError{Reason: "required"}

// IsTenantError returns true if the error is a TenantError.
func IsTenantError(err error) bool {
	if err == nil {
		return false
	}
	var e *TenantError
	return errors.As(err, &e)
}

// AdapterError wraps a failure surfaced by the underlying storage adapter
// (connection loss, driver-level fault) distinct from a query/constraint
// error produced by a well-formed statement.
type AdapterError struct {
	Op  string
	Err error
}

// Error returns the error string.
func (e *AdapterError) Error() string {
	return fmt.Sprintf("dataflow: adapter fault during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError returns a new AdapterError.
func NewAdapterError(op string, err error) *AdapterError {
	return &AdapterError{Op: op, Err: err}
}

// IsAdapterError returns true if the error is an AdapterError.
func IsAdapterError(err error) bool {
	if err == nil {
		return false
	}
	var e *AdapterError
	return errors.As(err, &e)
}

// MigrationError covers the fault modes of the migration executor: a held
// advisory lock, an aborted run, or a partial rollback that requires manual
// recovery.
type MigrationError struct {
	Kind   string // "lock_held", "aborted", "manual_recovery_required"
	Holder string // process id holding the lock, when Kind is "lock_held"
	Since  string // RFC3339 lock acquisition time, when Kind is "lock_held"
	Tables []string // affected tables, when Kind is "manual_recovery_required"
	Err    error
}

// Error returns the error string.
func (e *MigrationError) Error() string {
	switch e.Kind {
	case "lock_held":
		return fmt.Sprintf("dataflow: migration lock held by pid %s since %s", e.Holder, e.Since)
	case "manual_recovery_required":
		return fmt.Sprintf("dataflow: migration rollback incomplete, manual recovery required for tables %v: %v", e.Tables, e.Err)
	default:
		return fmt.Sprintf("dataflow: migration aborted: %v", e.Err)
	}
}

// Unwrap returns the underlying error.
func (e *MigrationError) Unwrap() error {
	return e.Err
}

// NewMigrationLockHeldError returns a MigrationError reporting the current
// lock holder.
func NewMigrationLockHeldError(holder, since string) *MigrationError {
	return &MigrationError{Kind: "lock_held", Holder: holder, Since: since}
}

// NewManualRecoveryError returns a MigrationError for a partial rollback.
func NewManualRecoveryError(tables []string, err error) *MigrationError {
	return &MigrationError{Kind: "manual_recovery_required", Tables: tables, Err: err}
}

// NewMigrationAbortedError returns a MigrationError for a clean abort (e.g. a
// performance-degradation threshold breach).
func NewMigrationAbortedError(err error) *MigrationError {
	return &MigrationError{Kind: "aborted", Err: err}
}

// IsMigrationError returns true if the error is a MigrationError.
func IsMigrationError(err error) bool {
	if err == nil {
		return false
	}
	var e *MigrationError
	return errors.As(err, &e)
}

// CacheFaultError wraps a failure from the read-through cache backend; the
// query layer treats it as a cache miss rather than a query failure.
type CacheFaultError struct {
	Op  string
	Err error
}

// Error returns the error string.
func (e *CacheFaultError) Error() string {
	return fmt.Sprintf("dataflow: cache backend fault during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *CacheFaultError) Unwrap() error {
	return e.Err
}

// NewCacheFaultError returns a new CacheFaultError.
func NewCacheFaultError(op string, err error) *CacheFaultError {
	return &CacheFaultError{Op: op, Err: err}
}

// IsCacheFault returns true if the error is a CacheFaultError.
func IsCacheFault(err error) bool {
	if err == nil {
		return false
	}
	var e *CacheFaultError
	return errors.As(err, &e)
}

// InternalError marks a condition the engine's own invariants should have
// prevented — a bug, not a caller mistake. Callers should not pattern-match
// on its contents; it exists so such faults are distinguishable in logs.
type InternalError struct {
	Msg string
}

// Error returns the error string.
func (e *InternalError) Error() string {
	return fmt.Sprintf("dataflow: internal invariant violated: %s", e.Msg)
}

// NewInternalError returns a new InternalError.
func NewInternalError(msg string) *InternalError {
	return &InternalError{Msg: msg}
}

// IsInternalError returns true if the error is an InternalError.
func IsInternalError(err error) bool {
	if err == nil {
		return false
	}
	var e *InternalError
	return errors.As(err, &e)
}
