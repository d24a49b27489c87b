package ctmclib

import (
	"errors"
	"log"
	"math"
	"os"

	"github.com/schollz/progressbar"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// fdDelta is the forward finite difference step used for global
// parameters whose derivatives are not analytic.
const fdDelta = 1e-8

// FitEdgeRatesEM iterates the closed-form EM update of the edge rate
// scaling factors, holding the process definitions and root prior
// fixed.  Each iteration computes per-edge expected jump counts and
// exit-rate-weighted dwell times, then rescales each edge rate by
// their ratio.  The scene's rate factors are updated in place.  The
// per-iteration total log-likelihoods are returned; they are
// non-decreasing.
func FitEdgeRatesEM(scene *Scene, iterations int, logger *log.Logger) ([]float64, error) {

	if logger == nil {
		logger = log.New(os.Stderr, "", log.Ltime)
	}

	bar := progressbar.New(iterations)
	trace := make([]float64, 0, iterations)

	for it := 0; it < iterations; it++ {
		_ = bar.Add(1)

		e, err := NewDefaultEngine(scene)
		if err != nil {
			return nil, err
		}
		fp, err := e.forward()
		if err != nil {
			return nil, err
		}
		ap := e.aboveSweep(fp)

		ll := floats.Sum(logVec(fp.lik))
		trace = append(trace, ll)
		logger.Printf("llf=%f\n", ll)

		// Per-process rewards: every off-diagonal rate for jump
		// counts, the exit rates on the diagonal for weighted dwell.
		jumpRwd := make(map[int]*mat.Dense)
		dwellRwd := make(map[int]*mat.Dense)

		t := &scene.Tree
		for ed := 0; ed < t.NumEdges(); ed++ {
			r := t.EdgeRateScalingFactors[ed]
			if r == 0 {
				continue
			}
			p := t.EdgeProcesses[ed]
			if jumpRwd[p] == nil {
				jumpRwd[p] = offDiagonalReward(e.expmDense(p))
				dwellRwd[p] = dwellReward(e.procs[p].ExitRates())
			}

			jumps := floats.Sum(e.edgeExpectation(fp, ap, ed, jumpRwd[p]))
			wdwell := floats.Sum(e.edgeExpectation(fp, ap, ed, dwellRwd[p]))
			if wdwell > 0 {
				t.EdgeRateScalingFactors[ed] = r * jumps / wdwell
			}
		}
	}

	return trace, nil
}

// offDiagonalReward copies the off-diagonal rates of a dense
// generator, which as a reward counts every jump once.
func offDiagonalReward(q *mat.Dense) *mat.Dense {

	n, _ := q.Dims()
	rwd := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				rwd.Set(i, j, q.At(i, j))
			}
		}
	}
	return rwd
}

// GlobalRebuildFunc maps the global head of a packed parameter vector
// to fresh process definitions and a root prior.  It is supplied by
// the caller that owns the parameterization; the engine treats the
// globals as opaque.
type GlobalRebuildFunc func(global []float64) ([]ProcessDefinition, RootPrior, error)

// Objective returns an objective-and-gradient closure over a packed
// parameter vector laid out as nGlobal global parameters followed by
// one log edge rate per tree edge.  The cost is the negated total
// log-likelihood, so an external minimizer maximizes the likelihood.
// The log-edge-rate tail of the gradient is analytic; the global head
// uses forward finite differences, recomputing the processes and
// prior through rebuild at each probe.
func Objective(scene *Scene, rebuild GlobalRebuildFunc, nGlobal int) func(x []float64) (float64, []float64, error) {

	ne := scene.Tree.NumEdges()

	apply := func(x []float64) (*Scene, error) {
		s := *scene
		s.Tree.EdgeRateScalingFactors = make([]float64, ne)
		for ed := 0; ed < ne; ed++ {
			s.Tree.EdgeRateScalingFactors[ed] = math.Exp(x[nGlobal+ed])
		}
		if rebuild != nil {
			procs, prior, err := rebuild(x[:nGlobal])
			if err != nil {
				return nil, err
			}
			s.ProcessDefinitions = procs
			s.ProcessCount = len(procs)
			s.RootPrior = prior
		}
		return &s, nil
	}

	cost := func(x []float64) (float64, error) {
		s, err := apply(x)
		if err != nil {
			return 0, err
		}
		e, err := NewDefaultEngine(s)
		if err != nil {
			return 0, err
		}
		ll, err := e.LogLikelihood()
		if err != nil {
			return 0, err
		}
		return -ll, nil
	}

	return func(x []float64) (float64, []float64, error) {

		if len(x) != nGlobal+ne {
			panic("packed parameter vector has the wrong length")
		}

		s, err := apply(x)
		if err != nil {
			return 0, nil, err
		}
		e, err := NewDefaultEngine(s)
		if err != nil {
			return 0, nil, err
		}
		fp, err := e.forward()
		if err != nil {
			return 0, nil, err
		}

		c := -floats.Sum(logVec(fp.lik))

		grad := make([]float64, len(x))

		// Analytic gradient for the log edge rates.
		deri := e.derivatives(fp, e.aboveSweep(fp))
		for ed := 0; ed < ne; ed++ {
			var g float64
			for site := 0; site < e.nsites; site++ {
				g += deri.At(site, ed)
			}
			grad[nGlobal+ed] = -g
		}

		// Finite differences for the globals.
		for i := 0; i < nGlobal; i++ {
			w := make([]float64, len(x))
			copy(w, x)
			w[i] += fdDelta
			c2, err := cost(w)
			if err != nil {
				return 0, nil, err
			}
			grad[i] = (c2 - c) / fdDelta
		}

		return c, grad, nil
	}
}

// FitQuasiNewton minimizes the packed objective with the LBFGS method,
// starting from x0.  It returns the minimizing parameter vector and
// the cost there.  A linesearch that stalls after the cost has stopped
// improving is not an error; the best point found is returned.
func FitQuasiNewton(scene *Scene, rebuild GlobalRebuildFunc, x0 []float64, nGlobal int) ([]float64, float64, error) {

	fg := Objective(scene, rebuild, nGlobal)

	var evalErr error
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			c, _, err := fg(x)
			if err != nil {
				evalErr = err
				return math.Inf(1)
			}
			return c
		},
		Grad: func(grad, x []float64) {
			_, g, err := fg(x)
			if err != nil {
				evalErr = err
				for i := range grad {
					grad[i] = 0
				}
				return
			}
			copy(grad, g)
		},
	}

	result, err := optimize.Minimize(problem, x0, nil, &optimize.LBFGS{})
	if err != nil {
		if evalErr != nil {
			return nil, 0, evalErr
		}
		if result == nil || !errors.Is(err, optimize.ErrLinesearcherFailure) {
			return nil, 0, err
		}
	}
	return result.X, result.F, nil
}
