package ctmclib

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Expm is the common contract of the matrix exponential strategies.
// Given a nonnegative rate scaling factor r and a dense block A with
// one row per flattened state, ExpmMul computes exp(Q*r)*A and RateMul
// computes Q*r*PA.  RateMul is used for gradient calculations.
type Expm interface {
	ExpmMul(r float64, a *mat.Dense) *mat.Dense
	RateMul(r float64, pa *mat.Dense) *mat.Dense
}

// ExpmKind selects a matrix exponential strategy.
type ExpmKind uint8

const (
	// PadeKind densifies the generator and recomputes a scaling and
	// squaring Pade approximation on every call.  Lowest memory use,
	// no precomputation.
	PadeKind ExpmKind = iota

	// EigenKind densifies and eigendecomposes the generator once, and
	// reuses the decomposition for every rate scaling factor.  Fast
	// for repeated calls against a fixed generator; fails at
	// construction if the generator is defective.
	EigenKind

	// ActionKind keeps the generator sparse and computes the action
	// of the exponential directly, never forming the dense
	// exponential.  Required when densification is infeasible.
	ActionKind
)

// actionThreshold is the state count above which NewExpm prefers the
// sparse action strategy.
const actionThreshold = 256

// NewExpm constructs a strategy of the given kind for a generator.  If
// the eigendecomposition fails because the generator is defective, the
// Pade strategy is used instead.
func NewExpm(kind ExpmKind, q *RateMatrix) (Expm, error) {

	switch kind {
	case PadeKind:
		return NewPadeExpm(q), nil
	case EigenKind:
		e, err := NewEigenExpm(q)
		if err == ErrDefectiveGenerator {
			return NewPadeExpm(q), nil
		}
		return e, err
	case ActionKind:
		return NewActionExpm(q), nil
	default:
		panic("unknown expm kind")
	}
}

// DefaultExpmKind returns a reasonable strategy for a state space of
// the given size: eigendecomposition for spaces small enough to
// densify, the sparse action otherwise.
func DefaultExpmKind(nstates int) ExpmKind {

	if nstates <= actionThreshold {
		return EigenKind
	}
	return ActionKind
}

// PadeExpm computes exp(Q*r) freshly on every call using the scaling
// and squaring Pade approximation.
type PadeExpm struct {
	q     *RateMatrix
	dense *mat.Dense
}

// NewPadeExpm returns a Pade strategy for the generator.
func NewPadeExpm(q *RateMatrix) *PadeExpm {
	return &PadeExpm{q: q, dense: q.Dense()}
}

// ExpmMul computes exp(Q*r)*A.
func (e *PadeExpm) ExpmMul(r float64, a *mat.Dense) *mat.Dense {

	n := e.q.Size()
	scaled := mat.NewDense(n, n, nil)
	scaled.Scale(r, e.dense)

	var p mat.Dense
	p.Exp(scaled)

	_, ac := a.Dims()
	out := mat.NewDense(n, ac, nil)
	out.Mul(&p, a)
	return out
}

// RateMul computes Q*r*PA.
func (e *PadeExpm) RateMul(r float64, pa *mat.Dense) *mat.Dense {
	return rateMul(e.q, r, pa)
}

// EigenExpm caches an eigendecomposition Q = U diag(w) U^-1 and reuses
// it for every rate scaling factor.  The generator has a real result
// but complex intermediate arithmetic; the real part is retained.
type EigenExpm struct {
	q *RateMatrix
	n int
	w []complex128
	u []complex128 // right eigenvectors, row major
	v []complex128 // inverse of u, row major
}

// NewEigenExpm eigendecomposes the generator.  It returns
// ErrDefectiveGenerator if the eigenvector matrix is numerically
// singular.
func NewEigenExpm(q *RateMatrix) (*EigenExpm, error) {

	n := q.Size()

	var eig mat.Eigen
	if ok := eig.Factorize(q.Dense(), mat.EigenRight); !ok {
		return nil, ErrDefectiveGenerator
	}

	var uc mat.CDense
	eig.VectorsTo(&uc)

	u := make([]complex128, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			u[i*n+j] = uc.At(i, j)
		}
	}

	v, ok := invertComplex(u, n)
	if !ok {
		return nil, ErrDefectiveGenerator
	}

	return &EigenExpm{
		q: q,
		n: n,
		w: eig.Values(nil),
		u: u,
		v: v,
	}, nil
}

// ExpmMul computes exp(Q*r)*A as U diag(exp(w*r)) U^-1 A.
func (e *EigenExpm) ExpmMul(r float64, a *mat.Dense) *mat.Dense {

	n := e.n
	_, c := a.Dims()

	// va = V*A, then scale row i by exp(w[i]*r)
	va := make([]complex128, n*c)
	for i := 0; i < n; i++ {
		g := cmplx.Exp(e.w[i] * complex(r, 0))
		for t := 0; t < c; t++ {
			var s complex128
			for j := 0; j < n; j++ {
				s += e.v[i*n+j] * complex(a.At(j, t), 0)
			}
			va[i*c+t] = g * s
		}
	}

	out := mat.NewDense(n, c, nil)
	for i := 0; i < n; i++ {
		for t := 0; t < c; t++ {
			var s complex128
			for j := 0; j < n; j++ {
				s += e.u[i*n+j] * va[j*c+t]
			}
			out.Set(i, t, real(s))
		}
	}

	return out
}

// RateMul computes Q*r*PA.
func (e *EigenExpm) RateMul(r float64, pa *mat.Dense) *mat.Dense {
	return rateMul(e.q, r, pa)
}

// ActionExpm computes the action of the exponential on a block without
// forming the dense exponential.  The generator is shifted by its
// maximum exit rate so that the shifted matrix is entrywise
// nonnegative (uniformization), then the action is accumulated by a
// scaled truncated Taylor series.
type ActionExpm struct {
	q  *RateMatrix
	mu float64
}

// NewActionExpm returns a sparse action strategy for the generator.
func NewActionExpm(q *RateMatrix) *ActionExpm {
	return &ActionExpm{q: q, mu: q.MaxExitRate()}
}

// ExpmMul computes exp(Q*r)*A.
func (e *ActionExpm) ExpmMul(r float64, a *mat.Dense) *mat.Dense {

	const (
		tol      = 1e-16
		maxTerms = 64
	)

	n, c := a.Dims()

	if r == 0 || e.mu == 0 {
		b := mat.NewDense(n, c, nil)
		b.Copy(a)
		return b
	}

	// Substep count keeps mu*t at most one per substep, so the Taylor
	// terms of the shifted matrix decay from the first term on.
	s := int(math.Ceil(e.mu * r))
	if s < 1 {
		s = 1
	}
	t := r / float64(s)
	shift := math.Exp(-e.mu * t)

	b := mat.NewDense(n, c, nil)
	b.Copy(a)

	for step := 0; step < s; step++ {

		term := mat.NewDense(n, c, nil)
		term.Copy(b)
		acc := mat.NewDense(n, c, nil)
		acc.Copy(b)

		for k := 1; k <= maxTerms; k++ {
			// term = (Q + mu*I) * t/k * term
			next := e.q.MulDense(term)
			floats.AddScaled(next.RawMatrix().Data, e.mu, term.RawMatrix().Data)
			next.Scale(t/float64(k), next)
			acc.Add(acc, next)
			term = next
			if maxAbs(term) <= tol*maxAbs(acc) {
				break
			}
		}

		acc.Scale(shift, acc)
		b = acc
	}

	return b
}

// RateMul computes Q*r*PA.
func (e *ActionExpm) RateMul(r float64, pa *mat.Dense) *mat.Dense {
	return rateMul(e.q, r, pa)
}

func rateMul(q *RateMatrix, r float64, pa *mat.Dense) *mat.Dense {

	out := q.MulDense(pa)
	out.Scale(r, out)
	return out
}

func maxAbs(a *mat.Dense) float64 {

	raw := a.RawMatrix()
	var mx float64
	for _, v := range raw.Data {
		if av := math.Abs(v); av > mx {
			mx = av
		}
	}
	return mx
}

// invertComplex inverts a row-major complex matrix by Gauss-Jordan
// elimination with partial pivoting.  The ok flag is false if a pivot
// is numerically zero.
func invertComplex(a []complex128, n int) ([]complex128, bool) {

	// Work on a copy augmented with the identity.
	w := make([]complex128, len(a))
	copy(w, a)
	inv := make([]complex128, n*n)
	for i := 0; i < n; i++ {
		inv[i*n+i] = 1
	}

	for col := 0; col < n; col++ {

		// Partial pivot on magnitude.
		piv := col
		best := cmplx.Abs(w[col*n+col])
		for i := col + 1; i < n; i++ {
			if m := cmplx.Abs(w[i*n+col]); m > best {
				best = m
				piv = i
			}
		}
		if best < 1e-14 {
			return nil, false
		}
		if piv != col {
			swapRows(w, n, piv, col)
			swapRows(inv, n, piv, col)
		}

		d := w[col*n+col]
		for j := 0; j < n; j++ {
			w[col*n+j] /= d
			inv[col*n+j] /= d
		}

		for i := 0; i < n; i++ {
			if i == col {
				continue
			}
			f := w[i*n+col]
			if f == 0 {
				continue
			}
			for j := 0; j < n; j++ {
				w[i*n+j] -= f * w[col*n+j]
				inv[i*n+j] -= f * inv[col*n+j]
			}
		}
	}

	return inv, true
}

func swapRows(a []complex128, n, i, j int) {

	for k := 0; k < n; k++ {
		a[i*n+k], a[j*n+k] = a[j*n+k], a[i*n+k]
	}
}

// expmIntegral computes the Frechet-type integral
//
//	J = int_0^r exp(Q*u) * R * exp(Q*(r-u)) du
//
// via the upper right block of the exponential of the augmented matrix
// [[Q, R], [0, Q]] scaled by r.  This is the kernel behind dwell time
// and transition count expectations.
func expmIntegral(q *mat.Dense, rwd *mat.Dense, r float64) *mat.Dense {

	n, _ := q.Dims()
	aug := mat.NewDense(2*n, 2*n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			aug.Set(i, j, q.At(i, j)*r)
			aug.Set(i, n+j, rwd.At(i, j)*r)
			aug.Set(n+i, n+j, q.At(i, j)*r)
		}
	}

	var e mat.Dense
	e.Exp(aug)

	out := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out.Set(i, j, e.At(i, n+j))
		}
	}
	return out
}
