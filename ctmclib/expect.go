package ctmclib

import (
	"gonum.org/v1/gonum/mat"
)

// abovePass holds the blocks of the pre-order sweep that complement
// the forward pass: for each node the "above" block (likelihood of all
// data outside the node's subtree given the node's state), and for
// each edge the outside product at its parent (everything except the
// child's own contribution).
type abovePass struct {
	above   []*mat.Dense // per node
	outside []*mat.Dense // per edge
}

// aboveSweep computes the above blocks by a pre-order traversal.  The
// outside product at an edge is built from the parent's indicator, the
// parent's above block and the sibling contributions, so no division
// by the child contribution is needed.  Crossing an edge applies the
// transposed propagator.
func (e *Engine) aboveSweep(fp *forwardPass) *abovePass {

	t := &e.scene.Tree
	nst := e.space.Size()

	ap := &abovePass{
		above:   make([]*mat.Dense, e.scene.NodeCount),
		outside: make([]*mat.Dense, t.NumEdges()),
	}

	// The above block at the root is the prior in every column.
	root := mat.NewDense(nst, e.nsites, nil)
	raw := root.RawMatrix()
	for i := 0; i < nst; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+e.nsites]
		for s := range row {
			row[s] = e.prior[i]
		}
	}
	ap.above[0] = root

	for _, u := range e.preorder {
		for _, ed := range e.children[u] {
			out := e.indicator(u)
			out.MulElem(out, ap.above[u])
			for _, f := range e.children[u] {
				if f != ed {
					out.MulElem(out, fp.contrib[f])
				}
			}
			ap.outside[ed] = out

			p := t.EdgeProcesses[ed]
			r := t.EdgeRateScalingFactors[ed]
			ap.above[t.ColumnNodes[ed]] = e.tExpm(p).ExpmMul(r, out)
		}
	}

	return ap
}

// nodeMarginals returns, for each node, the posterior state
// distribution per site as an (nstates x nsites) block: the
// elementwise product of the above and below blocks, normalized by
// the site likelihood.
func (e *Engine) nodeMarginals(fp *forwardPass, ap *abovePass) []*mat.Dense {

	nst := e.space.Size()
	out := make([]*mat.Dense, e.scene.NodeCount)
	for v := 0; v < e.scene.NodeCount; v++ {
		m := mat.NewDense(nst, e.nsites, nil)
		m.MulElem(ap.above[v], fp.below[v])
		raw := m.RawMatrix()
		for i := 0; i < nst; i++ {
			row := raw.Data[i*raw.Stride : i*raw.Stride+e.nsites]
			for s := range row {
				row[s] /= fp.lik[s]
			}
		}
		out[v] = m
	}
	return out
}

// edgeExpectation evaluates, per site, the posterior expectation of a
// reward functional along one edge.  The reward enters as a dense
// matrix over flattened states: diagonal entries accumulate dwell
// time, off-diagonal entries weight transition rates.  The kernel is
// the augmented-exponential integral of expmIntegral.
func (e *Engine) edgeExpectation(fp *forwardPass, ap *abovePass, edge int, rwd *mat.Dense) []float64 {

	t := &e.scene.Tree
	p := t.EdgeProcesses[edge]
	r := t.EdgeRateScalingFactors[edge]
	child := t.ColumnNodes[edge]

	j := expmIntegral(e.expmDense(p), rwd, r)

	var x mat.Dense
	x.Mul(j, fp.below[child])

	return e.bilinear(ap.outside[edge], &x, fp.lik)
}

// bilinear returns, per site, sum_i a(i,s)*b(i,s) / lik(s).
func (e *Engine) bilinear(a, b *mat.Dense, lik []float64) []float64 {

	nst := e.space.Size()
	araw := a.RawMatrix()
	braw := b.RawMatrix()
	val := make([]float64, e.nsites)
	for i := 0; i < nst; i++ {
		arow := araw.Data[i*araw.Stride : i*araw.Stride+e.nsites]
		brow := braw.Data[i*braw.Stride : i*braw.Stride+e.nsites]
		for s := range arow {
			val[s] += arow[s] * brow[s]
		}
	}
	for s := range val {
		val[s] /= lik[s]
	}
	return val
}

// dwellReward builds the diagonal reward for dwell expectations from
// per-state weights.
func dwellReward(w []float64) *mat.Dense {

	n := len(w)
	rwd := mat.NewDense(n, n, nil)
	for i, v := range w {
		rwd.Set(i, i, v)
	}
	return rwd
}

// transitionReward builds the off-diagonal reward for transition count
// expectations of one process: the process rate on each selected
// transition, scaled by the selection weight.
func (e *Engine) transitionReward(p int, rows, cols []int, w []float64) *mat.Dense {

	n := e.space.Size()
	qd := e.expmDense(p)
	rwd := mat.NewDense(n, n, nil)
	for k := range rows {
		i, j := rows[k], cols[k]
		rwd.Set(i, j, rwd.At(i, j)+w[k]*qd.At(i, j))
	}
	return rwd
}

// derivatives returns the (nsites x nedges) gradient of per-site
// log-likelihood with respect to each edge's log rate scaling factor.
// At the differentiated edge the propagated contribution is replaced
// by Q*r times itself; everything else is held fixed, so the per-site
// value is the outside product paired with the perturbed contribution,
// over the site likelihood.
func (e *Engine) derivatives(fp *forwardPass, ap *abovePass) *mat.Dense {

	t := &e.scene.Tree
	ne := t.NumEdges()
	out := mat.NewDense(e.nsites, ne, nil)

	for ed := 0; ed < ne; ed++ {
		p := t.EdgeProcesses[ed]
		r := t.EdgeRateScalingFactors[ed]
		d := e.expms[p].RateMul(r, fp.contrib[ed])
		val := e.bilinear(ap.outside[ed], d, fp.lik)
		for s := 0; s < e.nsites; s++ {
			out.Set(s, ed, val[s])
		}
	}

	return out
}

// expmDense returns a cached dense copy of the generator of process p.
func (e *Engine) expmDense(p int) *mat.Dense {

	if e.qdense == nil {
		e.qdense = make([]*mat.Dense, len(e.procs))
	}
	if e.qdense[p] == nil {
		e.qdense[p] = e.procs[p].Dense()
	}
	return e.qdense[p]
}
