package ctmclib

// A StateSpace describes a multivariate state space as an ordered tuple
// of factor sizes, one per variable.  A multivariate state is an integer
// vector with one coordinate per variable; flat indices are obtained by
// a row-major mixed-radix ravel over the factor sizes.
type StateSpace struct {

	// Number of possible values for each variable
	Shape []int

	strides []int
	size    int
}

// NewStateSpace returns a StateSpace for the given factor sizes.
// The ok flag is false if the shape is empty or any factor size
// is not positive.
func NewStateSpace(shape []int) (*StateSpace, bool) {

	if len(shape) == 0 {
		return nil, false
	}

	size := 1
	for _, m := range shape {
		if m <= 0 {
			return nil, false
		}
		size *= m
	}

	// Row-major strides, so the last variable varies fastest.
	strides := make([]int, len(shape))
	s := 1
	for j := len(shape) - 1; j >= 0; j-- {
		strides[j] = s
		s *= shape[j]
	}

	return &StateSpace{Shape: shape, strides: strides, size: size}, true
}

// NumVariables returns the number of variables.
func (ss *StateSpace) NumVariables() int {
	return len(ss.Shape)
}

// Size returns the number of states in the flattened state space.
func (ss *StateSpace) Size() int {
	return ss.size
}

// Ravel maps a multivariate state to its flat index.  The ok flag is
// false if the state has the wrong length or any coordinate is out of
// range for its variable.
func (ss *StateSpace) Ravel(state []int) (int, bool) {

	if len(state) != len(ss.Shape) {
		return 0, false
	}

	ix := 0
	for j, v := range state {
		if v < 0 || v >= ss.Shape[j] {
			return 0, false
		}
		ix += v * ss.strides[j]
	}

	return ix, true
}

// Unravel writes the multivariate state for a flat index into out,
// which must have length equal to the number of variables.
func (ss *StateSpace) Unravel(flat int, out []int) {

	for j := range ss.Shape {
		out[j] = (flat / ss.strides[j]) % ss.Shape[j]
	}
}

// Coord returns the value of one variable in the multivariate state
// with the given flat index.
func (ss *StateSpace) Coord(flat, variable int) int {
	return (flat / ss.strides[variable]) % ss.Shape[variable]
}
