package ctmclib

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Engine evaluates one scene.  It owns the built generators, the
// exponential strategies and the traversal orders, and is reused
// across requests against the same scene.
type Engine struct {
	scene  *Scene
	space  *StateSpace
	nsites int
	prior  []float64

	children   [][]int // node -> outgoing edge indices
	parentEdge []int   // node -> incoming edge index, -1 at the root
	postorder  []int   // children before parents
	preorder   []int   // parents before children

	procs  []*RateMatrix
	expms  []Expm
	texpms []Expm        // strategies on the transposed generators
	qdense []*mat.Dense  // cached dense generators for expectations
	kind   ExpmKind
}

// NewEngine validates the scene, builds its generators and constructs
// exponential strategies of the given kind.
func NewEngine(scene *Scene, kind ExpmKind) (*Engine, error) {

	if err := scene.Validate(); err != nil {
		return nil, err
	}
	if scene.ObservedData.NumSites() == 0 {
		return nil, &InvalidSceneError{"observed_data.iid_observations",
			"need at least one site to evaluate"}
	}

	space, err := scene.StateSpace()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		scene:  scene,
		space:  space,
		nsites: scene.ObservedData.NumSites(),
		prior:  scene.PriorVector(space),
		kind:   kind,
	}

	e.procs = make([]*RateMatrix, scene.ProcessCount)
	e.expms = make([]Expm, scene.ProcessCount)
	for p, def := range scene.ProcessDefinitions {
		q, err := NewRateMatrix(space, def.RowStates, def.ColumnStates, def.TransitionRates)
		if err != nil {
			return nil, err
		}
		e.procs[p] = q
		e.expms[p], err = NewExpm(kind, q)
		if err != nil {
			return nil, err
		}
	}

	e.buildTraversal()
	return e, nil
}

// NewDefaultEngine constructs an engine with a strategy chosen from
// the state space size.
func NewDefaultEngine(scene *Scene) (*Engine, error) {

	space, err := scene.StateSpace()
	if err != nil {
		return nil, err
	}
	return NewEngine(scene, DefaultExpmKind(space.Size()))
}

// NumSites returns the number of independent sites in the scene.
func (e *Engine) NumSites() int {
	return e.nsites
}

// NumEdges returns the number of tree edges in the scene.
func (e *Engine) NumEdges() int {
	return e.scene.Tree.NumEdges()
}

func (e *Engine) buildTraversal() {

	t := &e.scene.Tree
	n := e.scene.NodeCount

	e.children = make([][]int, n)
	e.parentEdge = make([]int, n)
	for v := range e.parentEdge {
		e.parentEdge[v] = -1
	}
	for ed := 0; ed < t.NumEdges(); ed++ {
		u := t.RowNodes[ed]
		e.children[u] = append(e.children[u], ed)
		e.parentEdge[t.ColumnNodes[ed]] = ed
	}

	// Iterative depth-first traversal from the root.
	e.preorder = e.preorder[:0]
	stack := []int{0}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		e.preorder = append(e.preorder, v)
		for _, ed := range e.children[v] {
			stack = append(stack, t.ColumnNodes[ed])
		}
	}

	e.postorder = make([]int, n)
	for i, v := range e.preorder {
		e.postorder[n-1-i] = v
	}
}

// tExpm returns the strategy for the transposed generator of process
// p, building it on first use.  The transposed action is needed by
// the pre-order sweep that computes above vectors.
func (e *Engine) tExpm(p int) Expm {

	if e.texpms == nil {
		e.texpms = make([]Expm, len(e.procs))
	}
	if e.texpms[p] == nil {
		x, err := NewExpm(e.kind, e.procs[p].Transpose())
		if err != nil {
			// The transpose has the same spectrum as the generator,
			// whose strategy was already built.
			panic(err)
		}
		e.texpms[p] = x
	}
	return e.texpms[p]
}

// indicator builds the per-site observation restriction for one node:
// an (nstates x nsites) block that is one for flattened states
// compatible with the node's observed variable values and zero
// elsewhere.  Unobserved variables are unconstrained.
func (e *Engine) indicator(node int) *mat.Dense {

	nst := e.space.Size()
	ind := mat.NewDense(nst, e.nsites, nil)
	raw := ind.RawMatrix()
	for i := range raw.Data {
		raw.Data[i] = 1
	}

	obs := &e.scene.ObservedData
	for k, nd := range obs.Nodes {
		if nd != node {
			continue
		}
		v := obs.Variables[k]
		for flat := 0; flat < nst; flat++ {
			c := e.space.Coord(flat, v)
			row := raw.Data[flat*raw.Stride : flat*raw.Stride+e.nsites]
			for s := 0; s < e.nsites; s++ {
				if obs.IIDObservations[s][k] != c {
					row[s] = 0
				}
			}
		}
	}

	return ind
}

// forwardPass holds the per-node conditional likelihood blocks of one
// pruning sweep, together with the per-edge child contributions and
// the per-site likelihoods.
type forwardPass struct {
	below   []*mat.Dense // per node, own indicator folded in
	contrib []*mat.Dense // per edge: expm(edge) * below[child]
	lik     []float64    // per site
}

// forward runs the pruning (peeling) recursion over all sites at once.
// For each node in post-order, the conditional likelihood block is the
// elementwise product of the node's observation indicator and the
// propagated blocks of its children.  At the root the prior is folded
// in and columns are summed to per-site likelihoods.
func (e *Engine) forward() (*forwardPass, error) {

	t := &e.scene.Tree
	fp := &forwardPass{
		below:   make([]*mat.Dense, e.scene.NodeCount),
		contrib: make([]*mat.Dense, t.NumEdges()),
		lik:     make([]float64, e.nsites),
	}

	for _, v := range e.postorder {
		b := e.indicator(v)
		for _, ed := range e.children[v] {
			c := t.ColumnNodes[ed]
			p := t.EdgeProcesses[ed]
			r := t.EdgeRateScalingFactors[ed]
			pc := e.expms[p].ExpmMul(r, fp.below[c])
			fp.contrib[ed] = pc
			b.MulElem(b, pc)
		}
		fp.below[v] = b
	}

	root := fp.below[0].RawMatrix()
	for s := 0; s < e.nsites; s++ {
		var tot float64
		for i := 0; i < e.space.Size(); i++ {
			tot += e.prior[i] * root.Data[i*root.Stride+s]
		}
		if tot == 0 {
			return nil, &InfeasibleSceneError{Site: s}
		}
		fp.lik[s] = tot
	}

	return fp, nil
}

// LogLikelihoods returns the per-site log-likelihoods.
func (e *Engine) LogLikelihoods() ([]float64, error) {

	fp, err := e.forward()
	if err != nil {
		return nil, err
	}
	return logVec(fp.lik), nil
}

// LogLikelihood returns the total log-likelihood summed over sites.
func (e *Engine) LogLikelihood() (float64, error) {

	ll, err := e.LogLikelihoods()
	if err != nil {
		return 0, err
	}
	return floats.Sum(ll), nil
}

func logVec(x []float64) []float64 {

	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = math.Log(v)
	}
	return y
}
