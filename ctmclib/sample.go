package ctmclib

import (
	"math/rand"
)

// SampleObservations simulates the scene's process down the tree for
// nsites independent sites and records values for the scene's
// observed (node, variable) pairs.  The returned matrix has one row
// per site, in the layout of iid_observations.
func SampleObservations(scene *Scene, nsites int, rng *rand.Rand) ([][]int, error) {

	if err := scene.Validate(); err != nil {
		return nil, err
	}
	space, err := scene.StateSpace()
	if err != nil {
		return nil, err
	}

	procs := make([]*RateMatrix, scene.ProcessCount)
	moves := make([][][]jump, scene.ProcessCount)
	for p, def := range scene.ProcessDefinitions {
		q, err := NewRateMatrix(space, def.RowStates, def.ColumnStates, def.TransitionRates)
		if err != nil {
			return nil, err
		}
		procs[p] = q
		moves[p] = jumpTable(q)
	}

	t := &scene.Tree
	obs := &scene.ObservedData
	order := preorderEdges(t, scene.NodeCount)
	out := make([][]int, nsites)
	state := make([]int, scene.NodeCount)
	mv := make([]int, space.NumVariables())

	for site := 0; site < nsites; site++ {

		state[0] = genDiscrete(scene.RootPrior.Probabilities, rng)
		state[0], _ = space.Ravel(scene.RootPrior.States[state[0]])

		// Pre-order: every parent state is set before its edges are
		// simulated.
		for _, ed := range order {
			u, v := t.RowNodes[ed], t.ColumnNodes[ed]
			p := t.EdgeProcesses[ed]
			state[v] = evolve(procs[p], moves[p], state[u], t.EdgeRateScalingFactors[ed], rng)
		}

		row := make([]int, len(obs.Nodes))
		for k := range obs.Nodes {
			space.Unravel(state[obs.Nodes[k]], mv)
			row[k] = mv[obs.Variables[k]]
		}
		out[site] = row
	}

	return out, nil
}

// preorderEdges orders the edge indices so that every edge's parent
// node is visited before the edge itself.
func preorderEdges(t *Tree, nodes int) []int {

	children := make([][]int, nodes)
	for ed := 0; ed < t.NumEdges(); ed++ {
		u := t.RowNodes[ed]
		children[u] = append(children[u], ed)
	}

	order := make([]int, 0, t.NumEdges())
	stack := []int{0}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, ed := range children[v] {
			order = append(order, ed)
			stack = append(stack, t.ColumnNodes[ed])
		}
	}
	return order
}

// jump is one outgoing transition of a state.
type jump struct {
	to   int
	rate float64
}

func jumpTable(q *RateMatrix) [][]jump {

	table := make([][]jump, q.Size())
	for k := 0; k < q.NumTransitions(); k++ {
		i := q.Rows[k]
		table[i] = append(table[i], jump{q.Cols[k], q.Rates[k]})
	}
	return table
}

// evolve runs the jump chain from a state for the given amount of
// rate-scaled time.
func evolve(q *RateMatrix, moves [][]jump, state int, elapsed float64, rng *rand.Rand) int {

	exit := q.ExitRates()
	var t float64
	for {
		lam := exit[state]
		if lam <= 0 {
			return state
		}
		t += rng.ExpFloat64() / lam

		if t >= elapsed {
			return state
		}

		// Choose the next state proportionally to its rate.
		u := rng.Float64() * lam
		for _, m := range moves[state] {
			u -= m.rate
			if u < 0 {
				state = m.to
				break
			}
		}
	}
}

// genDiscrete draws an index from an unnormalized discrete
// distribution.
func genDiscrete(pr []float64, rng *rand.Rand) int {

	var tot float64
	for _, p := range pr {
		tot += p
	}
	u := rng.Float64() * tot
	for i, p := range pr {
		u -= p
		if u < 0 {
			return i
		}
	}
	return len(pr) - 1
}
