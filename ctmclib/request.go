package ctmclib

import (
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// A Reduction supplies explicit indices and weights for a weighted
// aggregation along one axis.  Exactly one of the index fields is
// used, depending on which axis the reduction is attached to.
// Indices may repeat or omit entries.
type Reduction struct {
	ObservationIndices []int     `json:"observation_indices,omitempty"`
	Edges              []int     `json:"edges,omitempty"`
	States             [][]int   `json:"states,omitempty"`
	Weights            []float64 `json:"weights"`
}

// A TransitionReduction selects weighted transition types for
// transition count expectations.
type TransitionReduction struct {
	RowStates    [][]int   `json:"row_states"`
	ColumnStates [][]int   `json:"column_states"`
	Weights      []float64 `json:"weights"`
}

// A Request names a property code and carries whatever reductions the
// code's weighted axes require.
type Request struct {
	Property             string               `json:"property"`
	ObservationReduction *Reduction           `json:"observation_reduction,omitempty"`
	EdgeReduction        *Reduction           `json:"edge_reduction,omitempty"`
	StateReduction       *Reduction           `json:"state_reduction,omitempty"`
	TransitionReduction  *TransitionReduction `json:"transition_reduction,omitempty"`
}

// A Response is one answer array.  Shape gives the dimensions of the
// remaining (unreduced) axes; a fully reduced response is a scalar
// with an empty shape.  Data is flat in row-major order.
type Response struct {
	Shape []int
	Data  []float64
}

// At returns the entry at a multi-index.
func (r *Response) At(ix ...int) float64 {

	if len(ix) != len(r.Shape) {
		panic("wrong number of indices")
	}
	flat := 0
	for d, i := range ix {
		flat = flat*r.Shape[d] + i
	}
	return r.Data[flat]
}

// MarshalJSON renders the response as nested JSON arrays, or as a bare
// number for a scalar response.
func (r *Response) MarshalJSON() ([]byte, error) {
	return json.Marshal(nestArray(r.Shape, r.Data))
}

func nestArray(shape []int, data []float64) interface{} {

	if len(shape) == 0 {
		return data[0]
	}
	n := shape[0]
	inner := 1
	for _, m := range shape[1:] {
		inner *= m
	}
	out := make([]interface{}, n)
	for i := range out {
		out[i] = nestArray(shape[1:], data[i*inner:(i+1)*inner])
	}
	return out
}

// Input is one evaluation submission: a scene plus an ordered list of
// requests.
type Input struct {
	Scene    *Scene    `json:"scene"`
	Requests []Request `json:"requests"`
}

// Output is the ordered list of responses plus an overall status.  A
// scene whose observations contradict the model at some site yields
// status "infeasible" with detail, not an error.
type Output struct {
	Status    string      `json:"status"`
	Responses []*Response `json:"responses,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// property is a parsed 7-letter property code: three aggregation
// letters (site, edge, state/transition axis) and a quantity suffix.
type property struct {
	site     byte
	edge     byte
	third    byte
	quantity string
}

// propertyAxes pins the exact table of admissible codes: for each
// quantity, the letters allowed on each axis.
var propertyAxes = map[string][3]string{
	"logl": {"dsw", "n", "n"},
	"deri": {"dsw", "d", "n"},
	"dwel": {"dsw", "dw", "dw"},
	"tran": {"dsw", "dsw", "n"},
	"root": {"dsw", "n", "dw"},
	"node": {"dsw", "n", "dw"},
}

func parseProperty(code string) (property, error) {

	if len(code) != 7 {
		return property{}, &InvalidRequestError{code, "property codes have 7 letters"}
	}

	p := property{site: code[0], edge: code[1], third: code[2], quantity: code[3:]}

	axes, ok := propertyAxes[p.quantity]
	if !ok {
		return property{}, &InvalidRequestError{code,
			fmt.Sprintf("unknown quantity %q", p.quantity)}
	}
	for i, letter := range []byte{p.site, p.edge, p.third} {
		if !containsByte(axes[i], letter) {
			return property{}, &InvalidRequestError{code,
				fmt.Sprintf("letter %q is not allowed at position %d for %q",
					string(letter), i, p.quantity)}
		}
	}

	return p, nil
}

func containsByte(s string, b byte) bool {

	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return true
		}
	}
	return false
}

// Process evaluates all requests against the scene.  Fatal problems
// (invalid scene, invalid process, malformed request) return an error;
// infeasible data is reported through the output status.
func Process(in *Input) (*Output, error) {

	if in.Scene == nil {
		return nil, &InvalidSceneError{"scene", "missing"}
	}
	return ProcessScene(in.Scene, in.Requests)
}

// ProcessScene evaluates an ordered list of requests against a scene,
// producing one response array per request.
func ProcessScene(scene *Scene, requests []Request) (*Output, error) {

	e, err := NewDefaultEngine(scene)
	if err != nil {
		return nil, err
	}
	return e.ProcessRequests(requests)
}

// ProcessRequests evaluates requests against an already built engine.
func (e *Engine) ProcessRequests(requests []Request) (*Output, error) {

	// Parse and check every request before touching any numbers, so a
	// malformed request never reports as infeasible data.
	props := make([]property, len(requests))
	for i := range requests {
		p, err := parseProperty(requests[i].Property)
		if err != nil {
			return nil, err
		}
		if err := e.checkReductions(&requests[i], p); err != nil {
			return nil, err
		}
		props[i] = p
	}

	fp, err := e.forward()
	if err != nil {
		if inf, ok := err.(*InfeasibleSceneError); ok {
			return &Output{Status: "infeasible", Error: inf.Error()}, nil
		}
		return nil, err
	}

	var ap *abovePass
	needAbove := func() *abovePass {
		if ap == nil {
			ap = e.aboveSweep(fp)
		}
		return ap
	}

	out := &Output{Status: "feasible"}
	for i := range requests {
		resp, err := e.evalRequest(&requests[i], props[i], fp, needAbove)
		if err != nil {
			return nil, err
		}
		out.Responses = append(out.Responses, resp)
	}

	return out, nil
}

// checkReductions verifies that every weighted axis has a matching,
// well shaped reduction, and that a transition request defines its
// transition types.
func (e *Engine) checkReductions(req *Request, p property) error {

	if p.site == 'w' {
		r := req.ObservationReduction
		if r == nil {
			return &MissingReductionError{req.Property, "observation_reduction"}
		}
		if len(r.ObservationIndices) != len(r.Weights) {
			return &ReductionShapeError{"observation_reduction",
				fmt.Sprintf("%d indices for %d weights", len(r.ObservationIndices), len(r.Weights))}
		}
		for _, ix := range r.ObservationIndices {
			if ix < 0 || ix >= e.nsites {
				return &ReductionShapeError{"observation_reduction",
					fmt.Sprintf("site index %d is out of range", ix)}
			}
		}
	}

	if p.edge == 'w' {
		r := req.EdgeReduction
		if r == nil {
			return &MissingReductionError{req.Property, "edge_reduction"}
		}
		if len(r.Edges) != len(r.Weights) {
			return &ReductionShapeError{"edge_reduction",
				fmt.Sprintf("%d edges for %d weights", len(r.Edges), len(r.Weights))}
		}
		for _, ix := range r.Edges {
			if ix < 0 || ix >= e.NumEdges() {
				return &ReductionShapeError{"edge_reduction",
					fmt.Sprintf("edge index %d is out of range", ix)}
			}
		}
	}

	if p.third == 'w' && p.quantity != "tran" {
		r := req.StateReduction
		if r == nil {
			return &MissingReductionError{req.Property, "state_reduction"}
		}
		if len(r.States) != len(r.Weights) {
			return &ReductionShapeError{"state_reduction",
				fmt.Sprintf("%d states for %d weights", len(r.States), len(r.Weights))}
		}
		for k, st := range r.States {
			if _, ok := e.space.Ravel(st); !ok {
				return &ReductionShapeError{"state_reduction",
					fmt.Sprintf("state %v at position %d is not in the state space", st, k)}
			}
		}
	}

	if p.quantity == "tran" {
		r := req.TransitionReduction
		if r == nil {
			return &MissingReductionError{req.Property, "transition_reduction"}
		}
		if len(r.RowStates) != len(r.Weights) || len(r.ColumnStates) != len(r.Weights) {
			return &ReductionShapeError{"transition_reduction",
				fmt.Sprintf("%d row states and %d column states for %d weights",
					len(r.RowStates), len(r.ColumnStates), len(r.Weights))}
		}
		for k := range r.Weights {
			i, ok := e.space.Ravel(r.RowStates[k])
			if !ok {
				return &ReductionShapeError{"transition_reduction",
					fmt.Sprintf("row state %v at position %d is not in the state space",
						r.RowStates[k], k)}
			}
			j, ok := e.space.Ravel(r.ColumnStates[k])
			if !ok {
				return &ReductionShapeError{"transition_reduction",
					fmt.Sprintf("column state %v at position %d is not in the state space",
						r.ColumnStates[k], k)}
			}
			if i == j {
				return &ReductionShapeError{"transition_reduction",
					fmt.Sprintf("self-transition at position %d", k)}
			}
		}
	}

	return nil
}

// evalRequest computes the finest-grained array for the quantity and
// then applies the requested aggregation per axis, innermost first.
func (e *Engine) evalRequest(req *Request, p property, fp *forwardPass, needAbove func() *abovePass) (*Response, error) {

	var arr *ndArray

	switch p.quantity {
	case "logl":
		arr = &ndArray{shape: []int{e.nsites}, data: logVec(fp.lik)}

	case "deri":
		d := e.derivatives(fp, needAbove())
		arr = &ndArray{shape: []int{e.nsites, e.NumEdges()}, data: denseData(d)}

	case "dwel":
		arr = e.dwellArray(req, p, fp, needAbove())

	case "tran":
		arr = e.tranArray(req, fp, needAbove())

	case "root":
		m := e.nodeMarginals(fp, needAbove())[0]
		arr = &ndArray{
			shape: []int{e.nsites, e.space.Size()},
			data:  transposeData(m),
		}

	case "node":
		ms := e.nodeMarginals(fp, needAbove())
		nst := e.space.Size()
		data := make([]float64, e.nsites*len(ms)*nst)
		for v, m := range ms {
			raw := m.RawMatrix()
			for i := 0; i < nst; i++ {
				for s := 0; s < e.nsites; s++ {
					data[(s*len(ms)+v)*nst+i] = raw.Data[i*raw.Stride+s]
				}
			}
		}
		arr = &ndArray{shape: []int{e.nsites, len(ms), nst}, data: data}
	}

	// State axis, then edge axis, then site axis.  The dwell and
	// transition quantities contract their third axis during
	// computation, against the reward itself.
	if p.third == 'w' && (p.quantity == "root" || p.quantity == "node") {
		arr = arr.weightAxis(len(arr.shape)-1, e.stateIndices(req.StateReduction), req.StateReduction.Weights)
	}

	switch p.edge {
	case 's':
		arr = arr.sumAxis(1)
	case 'w':
		arr = arr.weightAxis(1, req.EdgeReduction.Edges, req.EdgeReduction.Weights)
	}

	switch p.site {
	case 's':
		arr = arr.sumAxis(0)
	case 'w':
		arr = arr.weightAxis(0, req.ObservationReduction.ObservationIndices, req.ObservationReduction.Weights)
	}

	return &Response{Shape: arr.shape, Data: arr.data}, nil
}

// dwellArray produces the finest dwell array for the request: per site
// and edge, and per state when the state axis is distinct, or already
// contracted against the state reduction weights when it is weighted.
func (e *Engine) dwellArray(req *Request, p property, fp *forwardPass, ap *abovePass) *ndArray {

	ne := e.NumEdges()
	nst := e.space.Size()

	if p.third == 'w' {
		w := make([]float64, nst)
		for k, st := range req.StateReduction.States {
			ix, _ := e.space.Ravel(st)
			w[ix] += req.StateReduction.Weights[k]
		}
		rwd := dwellReward(w)
		data := make([]float64, e.nsites*ne)
		for ed := 0; ed < ne; ed++ {
			val := e.edgeExpectation(fp, ap, ed, rwd)
			for s := 0; s < e.nsites; s++ {
				data[s*ne+ed] = val[s]
			}
		}
		// The state axis is already contracted.
		return &ndArray{shape: []int{e.nsites, ne}, data: data}
	}

	data := make([]float64, e.nsites*ne*nst)
	w := make([]float64, nst)
	for st := 0; st < nst; st++ {
		w[st] = 1
		rwd := dwellReward(w)
		w[st] = 0
		for ed := 0; ed < ne; ed++ {
			val := e.edgeExpectation(fp, ap, ed, rwd)
			for s := 0; s < e.nsites; s++ {
				data[(s*ne+ed)*nst+st] = val[s]
			}
		}
	}
	return &ndArray{shape: []int{e.nsites, ne, nst}, data: data}
}

// tranArray produces the per-site, per-edge expected count of the
// transition types selected by the transition reduction.
func (e *Engine) tranArray(req *Request, fp *forwardPass, ap *abovePass) *ndArray {

	tr := req.TransitionReduction
	ne := e.NumEdges()

	rows := make([]int, len(tr.Weights))
	cols := make([]int, len(tr.Weights))
	for k := range tr.Weights {
		rows[k], _ = e.space.Ravel(tr.RowStates[k])
		cols[k], _ = e.space.Ravel(tr.ColumnStates[k])
	}

	// The reward depends on the process, so build one per process on
	// first use.
	rewards := make(map[int]*mat.Dense)

	data := make([]float64, e.nsites*ne)
	for ed := 0; ed < ne; ed++ {
		p := e.scene.Tree.EdgeProcesses[ed]
		rwd, ok := rewards[p]
		if !ok {
			rwd = e.transitionReward(p, rows, cols, tr.Weights)
			rewards[p] = rwd
		}
		val := e.edgeExpectation(fp, ap, ed, rwd)
		for s := 0; s < e.nsites; s++ {
			data[s*ne+ed] = val[s]
		}
	}

	return &ndArray{shape: []int{e.nsites, ne}, data: data}
}

func (e *Engine) stateIndices(r *Reduction) []int {

	ix := make([]int, len(r.States))
	for k, st := range r.States {
		ix[k], _ = e.space.Ravel(st)
	}
	return ix
}

// ndArray is a small row-major array with axis reductions.
type ndArray struct {
	shape []int
	data  []float64
}

func (a *ndArray) axisSpans(axis int) (outer, n, inner int) {

	outer, inner = 1, 1
	for d := 0; d < axis; d++ {
		outer *= a.shape[d]
	}
	n = a.shape[axis]
	for d := axis + 1; d < len(a.shape); d++ {
		inner *= a.shape[d]
	}
	return outer, n, inner
}

// sumAxis sums uniformly over one axis.
func (a *ndArray) sumAxis(axis int) *ndArray {

	outer, n, inner := a.axisSpans(axis)
	out := make([]float64, outer*inner)
	for o := 0; o < outer; o++ {
		for k := 0; k < n; k++ {
			src := a.data[(o*n+k)*inner : (o*n+k+1)*inner]
			floats.Add(out[o*inner:(o+1)*inner], src)
		}
	}

	shape := append([]int{}, a.shape[:axis]...)
	shape = append(shape, a.shape[axis+1:]...)
	return &ndArray{shape: shape, data: out}
}

// weightAxis contracts one axis against explicit indices and weights.
func (a *ndArray) weightAxis(axis int, idx []int, w []float64) *ndArray {

	outer, n, inner := a.axisSpans(axis)
	out := make([]float64, outer*inner)
	for o := 0; o < outer; o++ {
		dst := out[o*inner : (o+1)*inner]
		for t, k := range idx {
			src := a.data[(o*n+k)*inner : (o*n+k+1)*inner]
			floats.AddScaled(dst, w[t], src)
		}
	}

	shape := append([]int{}, a.shape[:axis]...)
	shape = append(shape, a.shape[axis+1:]...)
	return &ndArray{shape: shape, data: out}
}

// denseData flattens a dense block row-major into a fresh slice.
func denseData(m *mat.Dense) []float64 {

	r, c := m.Dims()
	out := make([]float64, r*c)
	raw := m.RawMatrix()
	for i := 0; i < r; i++ {
		copy(out[i*c:(i+1)*c], raw.Data[i*raw.Stride:i*raw.Stride+c])
	}
	return out
}

// transposeData flattens the transpose of an (nstates x nsites) block
// into row-major (nsites x nstates) data.
func transposeData(m *mat.Dense) []float64 {

	r, c := m.Dims()
	out := make([]float64, r*c)
	raw := m.RawMatrix()
	for i := 0; i < r; i++ {
		for s := 0; s < c; s++ {
			out[s*r+i] = raw.Data[i*raw.Stride+s]
		}
	}
	return out
}
