package ctmclib

// Test scenes.  The bivariate scene has two coevolving binary
// variables, five nodes, four edges with heterogeneous processes, and
// five sites with partial observations; the prior-only variant keeps
// the same tree and processes but observes nothing.

func bivariateScene() *Scene {

	a, b, x := 0.2, 0.3, 0.4

	pairRows := [][]int{
		{0, 0}, {0, 0}, {0, 1}, {0, 1},
		{1, 0}, {1, 0}, {1, 1}, {1, 1},
	}
	pairCols := [][]int{
		{0, 1}, {1, 0}, {0, 0}, {1, 1},
		{0, 0}, {1, 1}, {0, 1}, {1, 0},
	}

	return &Scene{
		NodeCount:       5,
		ProcessCount:    3,
		StateSpaceShape: []int{2, 2},
		Tree: Tree{
			RowNodes:               []int{0, 0, 2, 2},
			ColumnNodes:            []int{1, 2, 3, 4},
			EdgeRateScalingFactors: []float64{1.0, 2.0, 3.0, 4.0},
			EdgeProcesses:          []int{0, 1, 1, 2},
		},
		RootPrior: RootPrior{
			States:        [][]int{{0, 0}, {0, 1}, {1, 0}},
			Probabilities: []float64{0.25, 0.25, 0.5},
		},
		ProcessDefinitions: []ProcessDefinition{
			{
				// Independent variables
				RowStates:       pairRows,
				ColumnStates:    pairCols,
				TransitionRates: []float64{a, a, a, b, b, a, b, b},
			},
			{
				// Coupled variables
				RowStates:       pairRows,
				ColumnStates:    pairCols,
				TransitionRates: []float64{a, a, a + x, b + x, b + x, a + x, b, b},
			},
			{
				// Gray code cycle
				RowStates:       [][]int{{0, 0}, {0, 1}, {1, 1}, {1, 0}},
				ColumnStates:    [][]int{{0, 1}, {1, 1}, {1, 0}, {0, 0}},
				TransitionRates: []float64{1, 1, 1, 1},
			},
		},
		ObservedData: ObservedData{
			Nodes:     []int{1, 1, 3, 3, 2, 4},
			Variables: []int{0, 1, 0, 1, 1, 1},
			IIDObservations: [][]int{
				{0, 0, 0, 0, 0, 0},
				{1, 1, 1, 1, 1, 1},
				{0, 1, 0, 1, 0, 1},
				{1, 1, 0, 0, 1, 1},
				{1, 1, 1, 0, 0, 0},
			},
		},
	}
}

func priorOnlyScene(nsites int) *Scene {

	s := bivariateScene()
	s.ObservedData = ObservedData{
		Nodes:           []int{},
		Variables:       []int{},
		IIDObservations: make([][]int, nsites),
	}
	for i := range s.ObservedData.IIDObservations {
		s.ObservedData.IIDObservations[i] = []int{}
	}
	return s
}

// starScene is a five node star over a single binary variable, with
// two processes of different sizes assigned symmetrically to the
// leaves.
func starScene() *Scene {

	return &Scene{
		NodeCount:       5,
		ProcessCount:    2,
		StateSpaceShape: []int{2},
		Tree: Tree{
			RowNodes:               []int{0, 0, 0, 0},
			ColumnNodes:            []int{1, 2, 3, 4},
			EdgeRateScalingFactors: []float64{0.5, 0.5, 0.5, 0.5},
			EdgeProcesses:          []int{0, 0, 1, 1},
		},
		RootPrior: RootPrior{
			States:        [][]int{{0}, {1}},
			Probabilities: []float64{0.5, 0.5},
		},
		ProcessDefinitions: []ProcessDefinition{
			{
				RowStates:       [][]int{{0}, {1}},
				ColumnStates:    [][]int{{1}, {0}},
				TransitionRates: []float64{1, 1},
			},
			{
				RowStates:       [][]int{{0}, {1}},
				ColumnStates:    [][]int{{1}, {0}},
				TransitionRates: []float64{2, 2},
			},
		},
		ObservedData: ObservedData{
			Nodes:     []int{1, 2, 3, 4},
			Variables: []int{0, 0, 0, 0},
			IIDObservations: [][]int{
				{0, 0, 1, 1},
				{0, 0, 0, 0},
				{1, 0, 1, 0},
				{1, 1, 1, 1},
				{0, 1, 1, 0},
				{0, 0, 0, 1},
			},
		},
	}
}
