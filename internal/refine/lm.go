package refine

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/geomrefine/internal/geom"
	"github.com/banshee-data/geomrefine/internal/monitoring"
)

// Stop reasons reported in Summary.StopReason.
const (
	StopCostTolerance = "cost change below tolerance"
	StopSmallStep     = "step below tolerance"
	StopNoImprovement = "no improving step"
	StopZeroResidual  = "zero residual"
	StopMaxIterations = "max iterations"
)

// maxDampingRetries bounds how often the damping is raised within one
// iteration before giving up on finding a downhill step.
const maxDampingRetries = 12

// Summary describes an optimiser run. Costs are sums of squared image
// residuals in pixels squared; RMS values are per-observation in pixels.
type Summary struct {
	Iterations  int     `json:"iterations"`
	InitialCost float64 `json:"initial_cost"`
	FinalCost   float64 `json:"final_cost"`
	InitialRMS  float64 `json:"initial_rms_px"`
	FinalRMS    float64 `json:"final_rms_px"`
	Damping     float64 `json:"damping"`
	Converged   bool    `json:"converged"`
	StopReason  string  `json:"stop_reason"`
}

type observation struct {
	row, col float64
	lon, lat float64
	height   float64
}

// residuals writes predicted-minus-observed image coordinates, row then col,
// for every observation into dst.
func residuals(m geom.Model, obs []observation, dst []float64) error {
	for i, o := range obs {
		r, c, err := m.GroundToImage(o.lon, o.lat, o.height)
		if err != nil {
			return fmt.Errorf("observation %d: %w", i, err)
		}
		dst[2*i] = r - o.row
		dst[2*i+1] = c - o.col
	}
	return nil
}

// jacobian fills jac (2*len(obs) x len(p)) with forward differences of the
// residuals around p. r0 holds the residuals at p. The model is left at p.
func jacobian(m geom.Model, obs []observation, p, r0 []float64, step float64, jac *mat.Dense) error {
	trial := make([]float64, len(p))
	copy(trial, p)
	rt := make([]float64, len(r0))
	defer m.SetAdjustableParams(p)

	for j := range p {
		h := step * math.Abs(p[j])
		if h == 0 {
			h = step
		}
		trial[j] = p[j] + h
		if err := m.SetAdjustableParams(trial); err != nil {
			return err
		}
		if err := residuals(m, obs, rt); err != nil {
			return err
		}
		for i := range rt {
			jac.Set(i, j, (rt[i]-r0[i])/h)
		}
		trial[j] = p[j]
	}
	return nil
}

// levenbergMarquardt minimises the sum of squared image residuals over the
// model's adjustable parameters, leaving the best parameters found in m.
// Each iteration solves
//
//	(JᵀJ + λ·diag(JᵀJ)) δ = Jᵀr
//
// by Cholesky factorisation and accepts p-δ if it lowers the cost, otherwise
// raises λ tenfold and retries.
func levenbergMarquardt(ctx context.Context, m geom.Model, obs []observation, opts Options) (Summary, error) {
	p := m.AdjustableParams()
	n := len(p)
	nObs := 2 * len(obs)

	r := make([]float64, nObs)
	if err := residuals(m, obs, r); err != nil {
		return Summary{}, err
	}
	cost := floats.Dot(r, r)
	sum := Summary{
		InitialCost: cost,
		InitialRMS:  math.Sqrt(cost / float64(nObs)),
		StopReason:  StopMaxIterations,
	}

	maxIter := opts.MaxIterations
	if maxIter < 1 {
		maxIter = DefaultOptions().MaxIterations
	}
	lambda := opts.InitialDamping
	if lambda <= 0 {
		lambda = DefaultOptions().InitialDamping
	}
	step := opts.JacobianStep
	if step <= 0 {
		step = DefaultOptions().JacobianStep
	}

	jac := mat.NewDense(nObs, n, nil)
	jtj := mat.NewSymDense(n, nil)
	damped := mat.NewSymDense(n, nil)
	var grad, delta mat.VecDense
	var chol mat.Cholesky
	trial := make([]float64, n)
	rTrial := make([]float64, nObs)

	for sum.Iterations < maxIter {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if cost == 0 {
			sum.Converged = true
			sum.StopReason = StopZeroResidual
			break
		}
		sum.Iterations++

		if err := jacobian(m, obs, p, r, step, jac); err != nil {
			return sum, fmt.Errorf("jacobian: %w", err)
		}
		jtj.SymOuterK(1, jac.T())
		grad.MulVec(jac.T(), mat.NewVecDense(nObs, r))

		accepted := false
		var newCost float64
		for try := 0; try < maxDampingRetries; try++ {
			damped.CopySym(jtj)
			for i := 0; i < n; i++ {
				d := jtj.At(i, i)
				if d == 0 {
					d = 1
				}
				damped.SetSym(i, i, jtj.At(i, i)+lambda*d)
			}
			if !chol.Factorize(damped) {
				lambda *= 10
				continue
			}
			if err := chol.SolveVecTo(&delta, &grad); err != nil {
				lambda *= 10
				continue
			}
			for i := range trial {
				trial[i] = p[i] - delta.AtVec(i)
			}
			if err := m.SetAdjustableParams(trial); err != nil {
				return sum, err
			}
			if err := residuals(m, obs, rTrial); err != nil {
				monitoring.Debugf("lm: iteration %d rejected step: %v", sum.Iterations, err)
				lambda *= 10
				continue
			}
			newCost = floats.Dot(rTrial, rTrial)
			if newCost < cost && !math.IsNaN(newCost) {
				accepted = true
				break
			}
			lambda *= 10
		}

		if !accepted {
			if err := m.SetAdjustableParams(p); err != nil {
				return sum, err
			}
			sum.Converged = true
			sum.StopReason = StopNoImprovement
			break
		}

		relDecrease := (cost - newCost) / cost
		stepNorm := floats.Norm(delta.RawVector().Data, 2)
		paramNorm := floats.Norm(p, 2)

		copy(p, trial)
		copy(r, rTrial)
		cost = newCost
		lambda = math.Max(lambda/10, 1e-12)
		monitoring.Debugf("lm: iteration %d cost %.6g lambda %.3g", sum.Iterations, cost, lambda)

		if relDecrease < opts.Tolerance {
			sum.Converged = true
			sum.StopReason = StopCostTolerance
			break
		}
		if stepNorm <= opts.Tolerance*(paramNorm+opts.Tolerance) {
			sum.Converged = true
			sum.StopReason = StopSmallStep
			break
		}
	}

	sum.FinalCost = cost
	sum.FinalRMS = math.Sqrt(cost / float64(nObs))
	sum.Damping = lambda
	return sum, nil
}
