package ctmclib

import (
	"fmt"
	"math"
)

// Tree is a rooted tree over integer node ids, given as parallel
// parent/child arrays.  Node 0 is the root and has no incoming edge.
// Each edge carries a nonnegative rate scaling factor and an index
// into the scene's process definitions.
type Tree struct {
	RowNodes               []int     `json:"row_nodes"`
	ColumnNodes            []int     `json:"column_nodes"`
	EdgeRateScalingFactors []float64 `json:"edge_rate_scaling_factors"`
	EdgeProcesses          []int     `json:"edge_processes"`
}

// NumEdges returns the number of edges.
func (t *Tree) NumEdges() int {
	return len(t.RowNodes)
}

// RootPrior is a sparse probability distribution over multivariate
// states.  States not listed have probability zero.
type RootPrior struct {
	States        [][]int   `json:"states"`
	Probabilities []float64 `json:"probabilities"`
}

// ProcessDefinition is a sparse generator over the flattened state
// space, given as parallel arrays of row states, column states and
// positive rates.  Self-transitions are forbidden; the diagonal is
// derived.
type ProcessDefinition struct {
	RowStates       [][]int   `json:"row_states"`
	ColumnStates    [][]int   `json:"column_states"`
	TransitionRates []float64 `json:"transition_rates"`
}

// ObservedData holds partial observations for many independent sites.
// Nodes and Variables are parallel arrays naming observed (node,
// variable) pairs; each row of IIDObservations gives, for one site,
// the observed value of each pair.  Pairs not listed are unobserved
// and marginalized over.
type ObservedData struct {
	Nodes           []int   `json:"nodes"`
	Variables       []int   `json:"variables"`
	IIDObservations [][]int `json:"iid_observations"`
}

// NumSites returns the number of independent sites.
func (o *ObservedData) NumSites() int {
	return len(o.IIDObservations)
}

// Scene is the full immutable description of tree, processes, root
// prior and observations submitted for evaluation.
type Scene struct {
	NodeCount          int                 `json:"node_count"`
	ProcessCount       int                 `json:"process_count"`
	StateSpaceShape    []int               `json:"state_space_shape"`
	Tree               Tree                `json:"tree"`
	RootPrior          RootPrior           `json:"root_prior"`
	ProcessDefinitions []ProcessDefinition `json:"process_definitions"`
	ObservedData       ObservedData        `json:"observed_data"`
}

// priorTolerance bounds how far the root prior may be from summing to
// one before the scene is rejected.
const priorTolerance = 1e-8

// StateSpace returns the state space implied by the scene's shape.
func (s *Scene) StateSpace() (*StateSpace, error) {

	ss, ok := NewStateSpace(s.StateSpaceShape)
	if !ok {
		return nil, &InvalidSceneError{"state_space_shape",
			fmt.Sprintf("%v is not a valid shape", s.StateSpaceShape)}
	}
	return ss, nil
}

// Validate checks the structural invariants of the scene and returns
// an InvalidSceneError naming the offending field on the first
// violation.  No partial scenes are accepted.
func (s *Scene) Validate() error {

	space, err := s.StateSpace()
	if err != nil {
		return err
	}

	if s.NodeCount < 1 {
		return &InvalidSceneError{"node_count",
			fmt.Sprintf("need at least one node, got %d", s.NodeCount)}
	}
	if err := s.validateTree(); err != nil {
		return err
	}
	if err := s.validateProcesses(); err != nil {
		return err
	}
	if err := s.validatePrior(space); err != nil {
		return err
	}
	return s.validateObservations(space)
}

func (s *Scene) validateTree() error {

	t := &s.Tree
	ne := t.NumEdges()

	if len(t.ColumnNodes) != ne {
		return &InvalidSceneError{"tree.column_nodes",
			fmt.Sprintf("got %d child nodes for %d parent nodes", len(t.ColumnNodes), ne)}
	}
	if len(t.EdgeRateScalingFactors) != ne {
		return &InvalidSceneError{"tree.edge_rate_scaling_factors",
			fmt.Sprintf("got %d rate factors for %d edges", len(t.EdgeRateScalingFactors), ne)}
	}
	if len(t.EdgeProcesses) != ne {
		return &InvalidSceneError{"tree.edge_processes",
			fmt.Sprintf("got %d process indices for %d edges", len(t.EdgeProcesses), ne)}
	}
	if ne != s.NodeCount-1 {
		return &InvalidSceneError{"tree",
			fmt.Sprintf("%d nodes require %d edges, got %d", s.NodeCount, s.NodeCount-1, ne)}
	}

	parent := make([]int, s.NodeCount)
	for i := range parent {
		parent[i] = -1
	}

	for e := 0; e < ne; e++ {
		u, v := t.RowNodes[e], t.ColumnNodes[e]
		if u < 0 || u >= s.NodeCount {
			return &InvalidSceneError{"tree.row_nodes",
				fmt.Sprintf("node %d at edge %d is out of range", u, e)}
		}
		if v < 0 || v >= s.NodeCount {
			return &InvalidSceneError{"tree.column_nodes",
				fmt.Sprintf("node %d at edge %d is out of range", v, e)}
		}
		if v == 0 {
			return &InvalidSceneError{"tree.column_nodes",
				fmt.Sprintf("edge %d points into the root", e)}
		}
		if parent[v] != -1 {
			return &InvalidSceneError{"tree.column_nodes",
				fmt.Sprintf("node %d has more than one incoming edge", v)}
		}
		parent[v] = u

		if t.EdgeRateScalingFactors[e] < 0 {
			return &InvalidSceneError{"tree.edge_rate_scaling_factors",
				fmt.Sprintf("edge %d has negative rate factor", e)}
		}
		if p := t.EdgeProcesses[e]; p < 0 || p >= s.ProcessCount {
			return &InvalidSceneError{"tree.edge_processes",
				fmt.Sprintf("edge %d names process %d of %d", e, p, s.ProcessCount)}
		}
	}

	// Every non-root node has a parent and a path to the root; with
	// node_count-1 edges and unique parents this also excludes cycles.
	for v := 1; v < s.NodeCount; v++ {
		if parent[v] == -1 {
			return &InvalidSceneError{"tree",
				fmt.Sprintf("node %d has no incoming edge", v)}
		}
		u, steps := v, 0
		for u != 0 {
			u = parent[u]
			steps++
			if u == -1 || steps > s.NodeCount {
				return &InvalidSceneError{"tree",
					fmt.Sprintf("node %d is not connected to the root", v)}
			}
		}
	}

	return nil
}

func (s *Scene) validateProcesses() error {

	if len(s.ProcessDefinitions) != s.ProcessCount {
		return &InvalidSceneError{"process_definitions",
			fmt.Sprintf("got %d definitions for process_count %d",
				len(s.ProcessDefinitions), s.ProcessCount)}
	}
	return nil
}

func (s *Scene) validatePrior(space *StateSpace) error {

	p := &s.RootPrior
	if len(p.Probabilities) != len(p.States) {
		return &InvalidSceneError{"root_prior.probabilities",
			fmt.Sprintf("got %d probabilities for %d states",
				len(p.Probabilities), len(p.States))}
	}

	var total float64
	for k, st := range p.States {
		if _, ok := space.Ravel(st); !ok {
			return &InvalidSceneError{"root_prior.states",
				fmt.Sprintf("state %v at position %d is not in the state space", st, k)}
		}
		if p.Probabilities[k] < 0 {
			return &InvalidSceneError{"root_prior.probabilities",
				fmt.Sprintf("probability %v at position %d is negative", p.Probabilities[k], k)}
		}
		total += p.Probabilities[k]
	}
	if math.Abs(total-1) > priorTolerance {
		return &InvalidSceneError{"root_prior.probabilities",
			fmt.Sprintf("probabilities sum to %v, not 1", total)}
	}

	return nil
}

func (s *Scene) validateObservations(space *StateSpace) error {

	o := &s.ObservedData
	np := len(o.Nodes)

	if len(o.Variables) != np {
		return &InvalidSceneError{"observed_data.variables",
			fmt.Sprintf("got %d variables for %d nodes", len(o.Variables), np)}
	}

	for k := 0; k < np; k++ {
		if o.Nodes[k] < 0 || o.Nodes[k] >= s.NodeCount {
			return &InvalidSceneError{"observed_data.nodes",
				fmt.Sprintf("node %d at position %d is out of range", o.Nodes[k], k)}
		}
		if o.Variables[k] < 0 || o.Variables[k] >= space.NumVariables() {
			return &InvalidSceneError{"observed_data.variables",
				fmt.Sprintf("variable %d at position %d is out of range", o.Variables[k], k)}
		}
	}

	for site, row := range o.IIDObservations {
		if len(row) != np {
			return &InvalidSceneError{"observed_data.iid_observations",
				fmt.Sprintf("site %d has %d values for %d observed pairs", site, len(row), np)}
		}
		for k, v := range row {
			if v < 0 || v >= space.Shape[o.Variables[k]] {
				return &InvalidSceneError{"observed_data.iid_observations",
					fmt.Sprintf("site %d value %d is out of range for variable %d",
						site, v, o.Variables[k])}
			}
		}
	}

	return nil
}

// PriorVector returns the dense root prior over flattened states.
func (s *Scene) PriorVector(space *StateSpace) []float64 {

	prior := make([]float64, space.Size())
	for k, st := range s.RootPrior.States {
		ix, _ := space.Ravel(st)
		prior[ix] += s.RootPrior.Probabilities[k]
	}
	return prior
}
