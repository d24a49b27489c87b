package ctmclib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAboveBelowConsistency(t *testing.T) {

	// At every node, pairing the above and below blocks recovers the
	// per-site likelihood.
	e, err := NewDefaultEngine(bivariateScene())
	require.NoError(t, err)
	fp, err := e.forward()
	require.NoError(t, err)
	ap := e.aboveSweep(fp)

	nst := e.space.Size()
	for v := 0; v < e.scene.NodeCount; v++ {
		for s := 0; s < e.nsites; s++ {
			var tot float64
			for i := 0; i < nst; i++ {
				tot += ap.above[v].At(i, s) * fp.below[v].At(i, s)
			}
			assert.InDelta(t, fp.lik[s], tot, 1e-10, "node %d site %d", v, s)
		}
	}
}

func TestDwellPartitionSumsToEdgeRate(t *testing.T) {

	scene := bivariateScene()
	out, err := ProcessScene(scene, []Request{{Property: "ddddwel"}})
	require.NoError(t, err)
	require.Equal(t, "feasible", out.Status)

	resp := out.Responses[0]
	require.Equal(t, []int{5, 4, 4}, resp.Shape)

	for s := 0; s < 5; s++ {
		for ed := 0; ed < 4; ed++ {
			var tot float64
			for st := 0; st < 4; st++ {
				tot += resp.At(s, ed, st)
			}
			assert.InDelta(t, scene.Tree.EdgeRateScalingFactors[ed], tot, 1e-8,
				"site %d edge %d", s, ed)
		}
	}
}

func TestTransitionTotalMatchesExitRateDwell(t *testing.T) {

	// Without observations the posterior is the prior process, so the
	// expected jump count on an edge equals the expected dwell weighted
	// by exit rates.
	e, err := NewDefaultEngine(priorOnlyScene(3))
	require.NoError(t, err)
	fp, err := e.forward()
	require.NoError(t, err)
	ap := e.aboveSweep(fp)

	for ed := 0; ed < e.NumEdges(); ed++ {
		p := e.scene.Tree.EdgeProcesses[ed]
		jumps := e.edgeExpectation(fp, ap, ed, offDiagonalReward(e.expmDense(p)))
		wdwell := e.edgeExpectation(fp, ap, ed, dwellReward(e.procs[p].ExitRates()))
		for s := range jumps {
			assert.InDelta(t, wdwell[s], jumps[s], 1e-8, "edge %d site %d", ed, s)
		}
	}
}

func TestJumpDwellGapIsLogRateDerivative(t *testing.T) {

	// Conditioning on informative observations pulls the expected jump
	// count away from the exit-rate-weighted dwell; the gap per site
	// and edge is the derivative of the site log-likelihood with
	// respect to the edge's log rate scaling factor.
	e, err := NewDefaultEngine(bivariateScene())
	require.NoError(t, err)
	fp, err := e.forward()
	require.NoError(t, err)
	ap := e.aboveSweep(fp)
	deri := e.derivatives(fp, ap)

	for ed := 0; ed < e.NumEdges(); ed++ {
		p := e.scene.Tree.EdgeProcesses[ed]
		jumps := e.edgeExpectation(fp, ap, ed, offDiagonalReward(e.expmDense(p)))
		wdwell := e.edgeExpectation(fp, ap, ed, dwellReward(e.procs[p].ExitRates()))
		for s := range jumps {
			assert.InDelta(t, deri.At(s, ed), jumps[s]-wdwell[s], 1e-8,
				"edge %d site %d", ed, s)
		}
	}
}

func TestTranRequestCountsAllJumps(t *testing.T) {

	// A transition reduction naming every ordered pair with weight one
	// counts every jump.
	scene := bivariateScene()
	e, err := NewDefaultEngine(scene)
	require.NoError(t, err)

	var rows, cols [][]int
	var weights []float64
	ms := make([]int, 2)
	mt := make([]int, 2)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if i == j {
				continue
			}
			e.space.Unravel(i, ms)
			e.space.Unravel(j, mt)
			rows = append(rows, append([]int{}, ms...))
			cols = append(cols, append([]int{}, mt...))
			weights = append(weights, 1)
		}
	}

	out, err := e.ProcessRequests([]Request{{
		Property: "ddntran",
		TransitionReduction: &TransitionReduction{
			RowStates:    rows,
			ColumnStates: cols,
			Weights:      weights,
		},
	}})
	require.NoError(t, err)
	resp := out.Responses[0]
	require.Equal(t, []int{5, 4}, resp.Shape)

	fp, err := e.forward()
	require.NoError(t, err)
	ap := e.aboveSweep(fp)
	for ed := 0; ed < 4; ed++ {
		p := scene.Tree.EdgeProcesses[ed]
		want := e.edgeExpectation(fp, ap, ed, offDiagonalReward(e.expmDense(p)))
		for s := 0; s < 5; s++ {
			assert.InDelta(t, want[s], resp.At(s, ed), 1e-8)
		}
	}
}

func TestRootMarginalRecoversPriorWithoutData(t *testing.T) {

	scene := priorOnlyScene(3)
	out, err := ProcessScene(scene, []Request{{Property: "dndroot"}})
	require.NoError(t, err)
	require.Equal(t, "feasible", out.Status)

	resp := out.Responses[0]
	require.Equal(t, []int{3, 4}, resp.Shape)

	prior := []float64{0.25, 0.25, 0.5, 0}
	for s := 0; s < 3; s++ {
		for i := 0; i < 4; i++ {
			assert.InDelta(t, prior[i], resp.At(s, i), 1e-9)
		}
	}
}

func TestWeightedRootMarginal(t *testing.T) {

	scene := priorOnlyScene(2)
	out, err := ProcessScene(scene, []Request{{
		Property: "dnwroot",
		StateReduction: &Reduction{
			States:  [][]int{{0, 0}, {1, 0}},
			Weights: []float64{1, 2},
		},
	}})
	require.NoError(t, err)

	resp := out.Responses[0]
	require.Equal(t, []int{2}, resp.Shape)
	for s := 0; s < 2; s++ {
		assert.InDelta(t, 1*0.25+2*0.5, resp.At(s), 1e-9)
	}
}

func TestNodeMarginalsNormalize(t *testing.T) {

	out, err := ProcessScene(bivariateScene(), []Request{{Property: "dndnode"}})
	require.NoError(t, err)

	resp := out.Responses[0]
	require.Equal(t, []int{5, 5, 4}, resp.Shape)

	for s := 0; s < 5; s++ {
		for v := 0; v < 5; v++ {
			var tot float64
			for i := 0; i < 4; i++ {
				tot += resp.At(s, v, i)
			}
			assert.InDelta(t, 1.0, tot, 1e-9, "site %d node %d", s, v)
		}
	}
}
