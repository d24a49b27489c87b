package ctmclib

import (
	"errors"
	"fmt"
)

// ErrDefectiveGenerator is returned by NewEigenExpm when the generator
// is numerically defective, so that the eigenvector matrix cannot be
// inverted.  Callers should fall back to another strategy.
var ErrDefectiveGenerator = errors.New("ctmclib: defective generator, eigenvector matrix is singular")

// InvalidSceneError indicates a structurally malformed scene.  It is
// raised during validation, before any likelihood computation, and
// names the offending field.
type InvalidSceneError struct {
	Field string
	Msg   string
}

func (e *InvalidSceneError) Error() string {
	return fmt.Sprintf("ctmclib: invalid scene: %s: %s", e.Field, e.Msg)
}

// InvalidProcessError indicates a malformed process definition, for
// example a self-transition or a shape mismatch among the triple
// arrays.
type InvalidProcessError struct {
	Field string
	Msg   string
}

func (e *InvalidProcessError) Error() string {
	return fmt.Sprintf("ctmclib: invalid process: %s: %s", e.Field, e.Msg)
}

// InfeasibleSceneError indicates that some site has likelihood exactly
// zero given the observations.  This is a property of the data rather
// than a programming error, so requests report it as an infeasible
// status rather than failing.
type InfeasibleSceneError struct {
	Site int
}

func (e *InfeasibleSceneError) Error() string {
	return fmt.Sprintf("ctmclib: infeasible scene: site %d has zero likelihood", e.Site)
}

// InvalidRequestError indicates a property code that is not in the
// property table.
type InvalidRequestError struct {
	Property string
	Msg      string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("ctmclib: invalid request %q: %s", e.Property, e.Msg)
}

// MissingReductionError indicates that a property requested weighted
// aggregation on an axis but no reduction was supplied for that axis.
type MissingReductionError struct {
	Property  string
	Reduction string
}

func (e *MissingReductionError) Error() string {
	return fmt.Sprintf("ctmclib: request %q needs a %s", e.Property, e.Reduction)
}

// ReductionShapeError indicates mismatched index and weight array
// lengths inside a reduction, or indices that are out of range.
type ReductionShapeError struct {
	Reduction string
	Msg       string
}

func (e *ReductionShapeError) Error() string {
	return fmt.Sprintf("ctmclib: bad %s: %s", e.Reduction, e.Msg)
}
