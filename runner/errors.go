package runner

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	// StructuralConflict is a DDL step the engine rejected, either because the
	// object already exists or because something it needs does not.
	StructuralConflict ErrorKind = "structural_conflict"
	// CatalogRead is a failed introspection query. It fails one step only.
	CatalogRead ErrorKind = "catalog_read"
	// DataMutation is a failed backfill or seed. It rolls back the data phase.
	DataMutation ErrorKind = "data_mutation"
)

var (
	ErrMissingDependency = errors.New("missing dependency")
	ErrNotDisposable     = errors.New("table is not disposable")
	ErrRolledBack        = errors.New("rolled back")
)

// StepError ties a failure to the step that produced it.
type StepError struct {
	Kind ErrorKind
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Step, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// IsKind reports whether err is a StepError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *StepError
	return errors.As(err, &se) && se.Kind == kind
}

func missing(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMissingDependency, fmt.Sprintf(format, args...))
}
