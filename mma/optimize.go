// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mma

import (
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
)

// Params holds the constants of the MMA subproblem.
// Zero values are replaced by the defaults noted on each field.
type Params struct {
	// Weight of the artificial variable 𝐳 in the objective (default 1).
	A0 float64
	// Per-constraint weights of 𝐳 (default 0) and of the elastic variables
	// 𝐲 in linear (default 1000) and quadratic (default 1) terms.
	// Either nil or of length m.
	A, C, D []float64
	// Barrier value ending the interior-point solve (default 1e-7).
	EpsMin float64
	// Smallest Newton diagonal accepted as non-zero (default 1e-10).
	MachineEpsilon float64
	// Regularization keeping the approximation strictly convex (default 1e-5).
	Raa0 float64
	// Largest move of a variable as a fraction of its box width (default 0.5).
	Move float64
	// Fraction of the distance to an asymptote closed by the move limits (default 0.1).
	Albefa float64
	// Initial asymptote distance as a fraction of the box width (default 0.5).
	AsyInit float64
	// Asymptote widening factor for monotone variables (default 1.2).
	AsyIncr float64
	// Asymptote narrowing factor for oscillating variables (default 0.7).
	AsyDecr float64
	// Lower limit of the box width used by the regularization (default 1e-5).
	XmaMiEps float64
}

// Problem specifies the problem for MMA optimizer.
type Problem struct {
	N         int       // The number of design variables owned by this participant
	M         int       // The number of constraints 𝒄ᵢ(𝐱) ≤ 0
	X         []float64 // The initial design
	Iteration int       // The iteration to start counting from
	Params    Params    // Optional algorithm constants
	// Optional reducer for a design vector partitioned across participants.
	// Every participant passes its own slice size as N and the same M,
	// and New becomes a collective call.
	Reducer Reducer
}

type mmaSpec struct {
	// the number of local variables
	n int
	// the number of variables over all participants
	nGlobal int
	// the number of constraints
	m int
	Params
	// the Newton steps allowed for one barrier value
	newtonCap int
	reducer   Reducer
	logger    Logger
}

// New creates a new MMA optimizer for given problem.
func (p *Problem) New(logger *Logger) (optimizer *Optimizer, err error) {

	if logger == nil {
		logger = &Logger{Level: PrintSilent}
	}
	if logger.Msg == nil {
		logger.Msg = os.Stdout
	}

	n, m, par := p.N, p.M, p.Params
	reducer := p.Reducer
	if reducer == nil {
		reducer = Serial{}
	}

	defaults := func(v *float64, d float64) {
		if *v == zero {
			*v = d
		}
	}
	defaults(&par.A0, one)
	defaults(&par.EpsMin, 1e-7)
	defaults(&par.MachineEpsilon, 1e-10)
	defaults(&par.Raa0, 1e-5)
	defaults(&par.Move, half)
	defaults(&par.Albefa, 0.1)
	defaults(&par.AsyInit, half)
	defaults(&par.AsyIncr, 1.2)
	defaults(&par.AsyDecr, 0.7)
	defaults(&par.XmaMiEps, 1e-5)

	switch {
	case n <= 0:
		err = errors.New("non-positive dimensions")
	case m < 0:
		err = errors.New("negative constraint number")
	case len(p.X) != n:
		err = errors.New("invalid x dimensions")
	case p.Iteration < 0:
		err = errors.New("negative iteration number")
	case par.A != nil && len(par.A) != m,
		par.C != nil && len(par.C) != m,
		par.D != nil && len(par.D) != m:
		err = errors.New("invalid constraint weight dimensions")
	case par.A0 < zero:
		err = errors.New("negative objective weight a0")
	case par.EpsMin < zero || par.MachineEpsilon < zero || par.Raa0 < zero || par.XmaMiEps < zero:
		err = errors.New("negative tolerance")
	case par.Move < zero || par.Move > one:
		err = errors.New("move limit out of (0,1]")
	case par.Albefa < zero || par.Albefa >= one:
		err = errors.New("albefa out of (0,1)")
	case par.AsyInit < zero || par.AsyDecr < zero || par.AsyDecr >= one || par.AsyIncr <= one:
		err = errors.New("invalid asymptote factors")
	default:
		for k, v := range p.X {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				err = fmt.Errorf("non-finite x at %d", k)
				break
			}
		}
	}

	if err != nil {
		return
	}

	nGlobal := []float64{float64(n)}
	reducer.AllReduce(Sum, nGlobal)

	optimizer = &Optimizer{
		mmaSpec: mmaSpec{
			n: n, m: m,
			nGlobal:   int(nGlobal[0]),
			Params:    par,
			newtonCap: maxNewton,
			reducer:   reducer,
			logger:    *logger,
		},
	}

	w := &optimizer.mmaCtx
	w.init(n, m)
	w.iter = p.Iteration
	copy(w.xo1, p.X)
	copy(w.xo2, p.X)

	fill := func(dst, src []float64, d float64) {
		if src != nil {
			copy(dst, src)
		} else {
			for i := range dst {
				dst[i] = d
			}
		}
	}
	fill(w.a, par.A, zero)
	fill(w.c, par.C, 1000)
	fill(w.d, par.D, one)
	return
}

// Optimizer implemented using the Method of Moving Asymptotes.
//
// It keeps the asymptotes and the two preceding iterates across calls to Update,
// so each independent optimization run needs its own Optimizer.
// Update is not reentrant.
type Optimizer struct {
	mmaSpec
	mmaCtx
	summary Summary
}

// Summary contains a summary of the last update.
type Summary struct {
	Iteration   int     // Value of the iteration counter after the update.
	KKTNorm     float64 // Residual norm of the subproblem KKT conditions.
	Converged   bool    // Whether the subproblem reached its barrier tolerance.
	NewtonSteps int     // Number of Newton steps performed by the subproblem.
	Singular    int     // Number of singular Newton systems met.
}

// Multipliers holds the KKT point of the last subproblem.
type Multipliers struct {
	Y, Lam, Mu, S []float64 // m
	Xsi, Eta      []float64 // n
	Z, Zet        float64
}

// Snapshot captures the state needed to restart an optimization run.
type Snapshot struct {
	Iteration int
	Low, Upp  []float64
	Xo1, Xo2  []float64
}

func (o *Optimizer) check(dfdx, gx, dgdx, xmin, xmax, x []float64) error {
	n, m := o.n, o.m
	switch {
	case len(dfdx) != n:
		return errors.New("invalid gradient dimensions")
	case len(gx) != m:
		return errors.New("invalid constraint dimensions")
	case len(dgdx) != m*n:
		return errors.New("invalid constraint gradient dimensions")
	case len(xmin) != n || len(xmax) != n:
		return errors.New("invalid bound dimensions")
	case len(x) != n:
		return errors.New("invalid x dimensions")
	}
	for j := range x {
		if !(xmin[j] < xmax[j]) {
			return fmt.Errorf("invalid bound range at %d", j)
		}
		if !(xmin[j] <= x[j] && x[j] <= xmax[j]) {
			return fmt.Errorf("x violates bound constraints at %d", j)
		}
	}
	return nil
}

// Update advances the optimization by one iteration.
//   - dfdx[n] : gradients of the objective
//   - gx[m] : values of the constraints
//   - dgdx[m×n] : gradients of the constraints, row-major by constraint
//   - xmin[n], xmax[n] : bounds of the design
//   - x[n] : the current design on input, the next design on output
//
// An error is returned only when the arguments are inconsistent, in which case x is untouched.
// In a partitioned run every participant calls Update with its own slices and
// the same constraint values.
func (o *Optimizer) Update(dfdx, gx, dgdx, xmin, xmax, x []float64) error {

	if err := o.check(dfdx, gx, dgdx, xmin, xmax, x); err != nil {
		return err
	}

	w := &o.mmaCtx
	o.moveAsymptotes(x, xmin, xmax)
	o.approximate(dfdx, gx, dgdx, xmin, xmax, x)

	solver := subSolver{
		spec: &o.mmaSpec,
		ctx:  w,
		sub:  &w.sub,
	}
	solver.solve()

	copy(w.xo2, w.xo1)
	copy(w.xo1, x)
	w.initialized = true
	w.iter++

	// the interior point lies strictly within [alfa, beta] ⊆ [xmin, xmax]
	for j, v := range w.sub.x {
		x[j] = math.Min(math.Max(v, xmin[j]), xmax[j])
	}

	s := &w.sub
	o.summary = Summary{
		Iteration:   w.iter,
		KKTNorm:     s.residunorm,
		Converged:   s.converged,
		NewtonSteps: s.newton,
		Singular:    s.singular,
	}
	o.printSummary()
	return nil
}

// UpdateUnconstrained advances an optimizer created with M = 0 by one iteration.
func (o *Optimizer) UpdateUnconstrained(dfdx, xmin, xmax, x []float64) error {
	if o.m != 0 {
		return errors.New("constrained optimizer")
	}
	return o.Update(dfdx, nil, nil, xmin, xmax, x)
}

func (o *Optimizer) printSummary() {
	log, sum := o.logger, o.summary
	if sum.Singular > 0 && log.enable(PrintWarnings) {
		log.log("MMA iteration %d: %d singular Newton systems, dual step dropped\n", sum.Iteration, sum.Singular)
	}
	if !sum.Converged && log.enable(PrintWarnings) {
		log.log("MMA iteration %d: subproblem stopped at epsi=%.1e with max residual %.3e\n",
			sum.Iteration, o.sub.epsi, o.sub.residumax)
	}
	if log.enable(PrintSummary) {
		log.log("MMA iteration %5d    n= %d    m= %d    newton= %4d    |kkt|= %12.5e\n",
			sum.Iteration, o.nGlobal, o.m, sum.NewtonSteps, sum.KKTNorm)
	}
}

// Summary returns the diagnostics of the last update.
func (o *Optimizer) Summary() Summary { return o.summary }

// GetIteration returns the iteration counter.
func (o *Optimizer) GetIteration() int { return o.iter }

// SetIteration overwrites the iteration counter without touching any other state.
func (o *Optimizer) SetIteration(iter int) { o.iter = iter }

// SetPrintLevel sets the diagnostics level.
func (o *Optimizer) SetPrintLevel(level PrintLevel) { o.logger.Level = level }

// GlobalN returns the number of design variables over all participants.
func (o *Optimizer) GlobalN() int { return o.nGlobal }

// Multipliers returns a copy of the multipliers found by the last update.
func (o *Optimizer) Multipliers() Multipliers {
	s := &o.sub
	return Multipliers{
		Y: slices.Clone(s.y), Lam: slices.Clone(s.lam),
		Mu: slices.Clone(s.mu), S: slices.Clone(s.s),
		Xsi: slices.Clone(s.xsi), Eta: slices.Clone(s.eta),
		Z: s.z, Zet: s.zet,
	}
}

// Checkpoint returns a copy of the state carried between updates.
func (o *Optimizer) Checkpoint() Snapshot {
	return Snapshot{
		Iteration: o.iter,
		Low:       slices.Clone(o.low),
		Upp:       slices.Clone(o.upp),
		Xo1:       slices.Clone(o.xo1),
		Xo2:       slices.Clone(o.xo2),
	}
}

// Restore resumes from a state returned by Checkpoint.
func (o *Optimizer) Restore(s Snapshot) error {
	n := o.n
	if len(s.Low) != n || len(s.Upp) != n || len(s.Xo1) != n || len(s.Xo2) != n {
		return errors.New("invalid snapshot dimensions")
	}
	if s.Iteration < 0 {
		return errors.New("negative iteration number")
	}
	o.iter = s.Iteration
	copy(o.low, s.Low)
	copy(o.upp, s.Upp)
	copy(o.xo1, s.Xo1)
	copy(o.xo2, s.Xo2)
	o.initialized = true
	return nil
}
