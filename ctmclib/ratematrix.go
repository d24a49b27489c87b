package ctmclib

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// A RateMatrix is a sparse transition rate generator over a flattened
// multivariate state space, stored in coordinate form.  The diagonal is
// derived, not supplied: it holds the negated exit rate of each state,
// appended after the off-diagonal entries.
type RateMatrix struct {
	Space *StateSpace

	// Flat row and column indices and rates, off-diagonal entries
	// first, then the derived diagonal.
	Rows  []int
	Cols  []int
	Rates []float64

	// Number of off-diagonal entries
	noff int

	exit []float64
}

// NewRateMatrix builds a validated generator from parallel arrays of
// row states, column states and positive off-diagonal rates.
func NewRateMatrix(space *StateSpace, rowStates, colStates [][]int, rates []float64) (*RateMatrix, error) {

	nr := len(rates)
	if len(rowStates) != nr {
		return nil, &InvalidProcessError{"row_states",
			fmt.Sprintf("got %d row states for %d rates", len(rowStates), nr)}
	}
	if len(colStates) != nr {
		return nil, &InvalidProcessError{"column_states",
			fmt.Sprintf("got %d column states for %d rates", len(colStates), nr)}
	}

	n := space.Size()
	q := &RateMatrix{
		Space: space,
		Rows:  make([]int, nr, nr+n),
		Cols:  make([]int, nr, nr+n),
		Rates: make([]float64, nr, nr+n),
		noff:  nr,
		exit:  make([]float64, n),
	}

	for k := 0; k < nr; k++ {
		i, ok := space.Ravel(rowStates[k])
		if !ok {
			return nil, &InvalidProcessError{"row_states",
				fmt.Sprintf("state %v at position %d is not in the state space", rowStates[k], k)}
		}
		j, ok := space.Ravel(colStates[k])
		if !ok {
			return nil, &InvalidProcessError{"column_states",
				fmt.Sprintf("state %v at position %d is not in the state space", colStates[k], k)}
		}
		if i == j {
			return nil, &InvalidProcessError{"transition_rates",
				fmt.Sprintf("self-transition at position %d (state %v)", k, rowStates[k])}
		}
		if rates[k] <= 0 {
			return nil, &InvalidProcessError{"transition_rates",
				fmt.Sprintf("rate %v at position %d is not positive", rates[k], k)}
		}
		q.Rows[k] = i
		q.Cols[k] = j
		q.Rates[k] = rates[k]
		q.exit[i] += rates[k]
	}

	// Append the derived diagonal.
	for i := 0; i < n; i++ {
		q.Rows = append(q.Rows, i)
		q.Cols = append(q.Cols, i)
		q.Rates = append(q.Rates, -q.exit[i])
	}

	return q, nil
}

// Size returns the order of the generator.
func (q *RateMatrix) Size() int {
	return q.Space.Size()
}

// NumTransitions returns the number of off-diagonal entries.
func (q *RateMatrix) NumTransitions() int {
	return q.noff
}

// ExitRates returns the exit rate of each state.  The returned slice
// is owned by the generator and must not be modified.
func (q *RateMatrix) ExitRates() []float64 {
	return q.exit
}

// MaxExitRate returns the largest exit rate over all states.
func (q *RateMatrix) MaxExitRate() float64 {

	var mx float64
	for _, v := range q.exit {
		if v > mx {
			mx = v
		}
	}
	return mx
}

// Dense returns a newly allocated dense copy of the generator.
func (q *RateMatrix) Dense() *mat.Dense {

	n := q.Size()
	d := mat.NewDense(n, n, nil)
	for k := range q.Rates {
		d.Set(q.Rows[k], q.Cols[k], d.At(q.Rows[k], q.Cols[k])+q.Rates[k])
	}
	return d
}

// Transpose returns the transposed generator, sharing the rate slice.
// The transpose of a generator is not itself a generator, but the
// coordinate layout is the same and the sparse product below applies.
func (q *RateMatrix) Transpose() *RateMatrix {

	return &RateMatrix{
		Space: q.Space,
		Rows:  q.Cols,
		Cols:  q.Rows,
		Rates: q.Rates,
		noff:  q.noff,
		exit:  q.exit,
	}
}

// MulDense computes Q*A for a dense block A with Size() rows, without
// densifying Q.  A new matrix is returned.
func (q *RateMatrix) MulDense(a *mat.Dense) *mat.Dense {

	n := q.Size()
	_, c := a.Dims()
	out := mat.NewDense(n, c, nil)
	araw := a.RawMatrix()
	oraw := out.RawMatrix()

	for k := range q.Rates {
		i, j, v := q.Rows[k], q.Cols[k], q.Rates[k]
		src := araw.Data[j*araw.Stride : j*araw.Stride+c]
		dst := oraw.Data[i*oraw.Stride : i*oraw.Stride+c]
		for t := range src {
			dst[t] += v * src[t]
		}
	}

	return out
}
