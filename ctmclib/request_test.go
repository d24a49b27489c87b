package ctmclib

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePropertyTable(t *testing.T) {

	valid := []string{
		"dnnlogl", "snnlogl", "wnnlogl",
		"ddnderi", "sdnderi", "wdnderi",
		"ddddwel", "sdddwel", "wdddwel", "dwddwel", "wwwdwel", "sdwdwel",
		"ddntran", "wsntran", "swntran",
		"dndroot", "dnwroot", "wndroot",
		"dndnode", "snwnode",
	}
	for _, code := range valid {
		_, err := parseProperty(code)
		assert.NoError(t, err, code)
	}

	invalid := []string{
		"dnnlog",   // wrong length
		"dnnlogla", // wrong length
		"dnnxxxx",  // unknown quantity
		"ndnlogl",  // bad site letter
		"dsnlogl",  // logl has no edge axis
		"snnderi",  // deri edge axis is always distinct
		"dsddwel",  // dwel edge axis cannot be summed
		"ddwtran",  // tran has no third axis
		"ddnroot",  // root has no edge axis
	}
	for _, code := range invalid {
		_, err := parseProperty(code)
		var rerr *InvalidRequestError
		assert.ErrorAs(t, err, &rerr, code)
	}
}

func TestMissingReductions(t *testing.T) {

	scene := bivariateScene()

	cases := []struct {
		req  Request
		want string
	}{
		{Request{Property: "wnnlogl"}, "observation_reduction"},
		{Request{Property: "dwddwel"}, "edge_reduction"},
		{Request{Property: "ddwdwel"}, "state_reduction"},
		{Request{Property: "ddntran"}, "transition_reduction"},
	}
	for _, c := range cases {
		_, err := ProcessScene(scene, []Request{c.req})
		var merr *MissingReductionError
		require.ErrorAs(t, err, &merr, c.req.Property)
		assert.Equal(t, c.want, merr.Reduction)
	}
}

func TestReductionShapeErrors(t *testing.T) {

	scene := bivariateScene()

	_, err := ProcessScene(scene, []Request{{
		Property: "wnnlogl",
		ObservationReduction: &Reduction{
			ObservationIndices: []int{0, 1},
			Weights:            []float64{1},
		},
	}})
	var rerr *ReductionShapeError
	require.ErrorAs(t, err, &rerr)

	_, err = ProcessScene(scene, []Request{{
		Property: "wnnlogl",
		ObservationReduction: &Reduction{
			ObservationIndices: []int{99},
			Weights:            []float64{1},
		},
	}})
	require.ErrorAs(t, err, &rerr)

	_, err = ProcessScene(scene, []Request{{
		Property: "dwddwel",
		EdgeReduction: &Reduction{
			Edges:   []int{0, 9},
			Weights: []float64{1, 1},
		},
	}})
	require.ErrorAs(t, err, &rerr)

	_, err = ProcessScene(scene, []Request{{
		Property: "ddntran",
		TransitionReduction: &TransitionReduction{
			RowStates:    [][]int{{0, 0}},
			ColumnStates: [][]int{{0, 0}},
			Weights:      []float64{1},
		},
	}})
	require.ErrorAs(t, err, &rerr)
}

func TestDerivativeShapesAndAggregation(t *testing.T) {

	scene := bivariateScene()
	sites := []int{0, 1, 2, 1}
	weights := []float64{0.1, 0.1, 0.2, 0.3}

	out, err := ProcessScene(scene, []Request{
		{Property: "ddnderi"},
		{Property: "sdnderi"},
		{Property: "wdnderi", ObservationReduction: &Reduction{
			ObservationIndices: sites,
			Weights:            weights,
		}},
	})
	require.NoError(t, err)

	ddn := out.Responses[0]
	require.Equal(t, []int{5, 4}, ddn.Shape)
	sdn := out.Responses[1]
	require.Equal(t, []int{4}, sdn.Shape)
	wdn := out.Responses[2]
	require.Equal(t, []int{4}, wdn.Shape)

	for ed := 0; ed < 4; ed++ {
		var sum, wsum float64
		for s := 0; s < 5; s++ {
			sum += ddn.At(s, ed)
		}
		for k, ix := range sites {
			wsum += weights[k] * ddn.At(ix, ed)
		}
		assert.InDelta(t, sum, sdn.At(ed), 1e-10)
		assert.InDelta(t, wsum, wdn.At(ed), 1e-10)
	}
}

func TestDwellAggregationConsistency(t *testing.T) {

	scene := bivariateScene()
	stateRed := &Reduction{
		States:  [][]int{{0, 0}, {0, 1}, {1, 0}},
		Weights: []float64{3, 3, 3},
	}
	edgeRed := &Reduction{
		Edges:   []int{0, 3, 2},
		Weights: []float64{0.4, 0.5, 2.0},
	}

	out, err := ProcessScene(scene, []Request{
		{Property: "ddddwel"},
		{Property: "ddwdwel", StateReduction: stateRed},
		{Property: "dwddwel", EdgeReduction: edgeRed},
		{Property: "swwdwel", StateReduction: stateRed, EdgeReduction: edgeRed},
	})
	require.NoError(t, err)

	full := out.Responses[0]
	require.Equal(t, []int{5, 4, 4}, full.Shape)

	// Weighted states match an explicit contraction of the distinct
	// array.
	ddw := out.Responses[1]
	require.Equal(t, []int{5, 4}, ddw.Shape)
	for s := 0; s < 5; s++ {
		for ed := 0; ed < 4; ed++ {
			want := 3 * (full.At(s, ed, 0) + full.At(s, ed, 1) + full.At(s, ed, 2))
			assert.InDelta(t, want, ddw.At(s, ed), 1e-8)
		}
	}

	// Weighted edges, distinct states.
	dwd := out.Responses[2]
	require.Equal(t, []int{5, 4}, dwd.Shape)
	for s := 0; s < 5; s++ {
		for st := 0; st < 4; st++ {
			want := 0.4*full.At(s, 0, st) + 0.5*full.At(s, 3, st) + 2.0*full.At(s, 2, st)
			assert.InDelta(t, want, dwd.At(s, st), 1e-8)
		}
	}

	// Fully contracted scalar.
	sww := out.Responses[3]
	require.Empty(t, sww.Shape)
	var want float64
	for s := 0; s < 5; s++ {
		for k, ed := range edgeRed.Edges {
			for st := 0; st < 3; st++ {
				want += edgeRed.Weights[k] * 3 * full.At(s, ed, st)
			}
		}
	}
	assert.InDelta(t, want, sww.Data[0], 1e-8)
}

func TestResponseJSON(t *testing.T) {

	r := &Response{Shape: []int{2, 2}, Data: []float64{1, 2, 3, 4}}
	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, "[[1,2],[3,4]]", string(b))

	r = &Response{Shape: nil, Data: []float64{7}}
	b, err = json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, "7", string(b))
}

func TestProcessJSONRoundTrip(t *testing.T) {

	scene := bivariateScene()
	raw, err := json.Marshal(&Input{
		Scene:    scene,
		Requests: []Request{{Property: "snnlogl"}},
	})
	require.NoError(t, err)

	var in Input
	require.NoError(t, json.Unmarshal(raw, &in))

	out, err := Process(&in)
	require.NoError(t, err)
	assert.Equal(t, "feasible", out.Status)
	require.Len(t, out.Responses, 1)

	want, err := ProcessScene(scene, []Request{{Property: "snnlogl"}})
	require.NoError(t, err)
	assert.InDelta(t, want.Responses[0].Data[0], out.Responses[0].Data[0], 1e-12)
}
