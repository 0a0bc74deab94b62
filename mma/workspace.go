// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mma

import "gonum.org/v1/gonum/mat"

// subCtx holds the convex separable subproblem and the primal-dual point of its interior-point solver.
type subCtx struct {
	n, m int

	// move limits and approximation
	alfa, beta []float64 // n
	p0, q0     []float64 // n
	P, Q       []float64 // m × n (row-major by constraint)
	b          []float64 // m

	// primal-dual point
	x, xsi, eta   []float64 // n
	y, lam, mu, s []float64 // m
	z, zet        float64

	// newton direction
	dx, dxsi, deta    []float64 // n
	dy, dlam, dmu, ds []float64 // m
	dz, dzet          float64

	// line-search origin
	xold, xsiold, etaold      []float64 // n
	yold, lamold, muold, sold []float64 // m
	zold, zetold              float64

	// newton scratch
	plam, qlam  []float64 // n
	delx, diagx []float64 // n
	GG          []float64 // m × n
	gvec        []float64 // m
	dely        []float64 // m
	dellam      []float64 // m
	diagy       []float64 // m
	diaglamyi   []float64 // m
	red         []float64 // 2m + m² + 3

	// reduced system [Alam a; aᵀ -zet/z] of order m+1
	aa  *mat.Dense
	rhs *mat.VecDense
	sol *mat.VecDense
	lu  mat.LU

	epsi       float64
	residunorm float64
	residumax  float64
	newton     int
	singular   int
	converged  bool
}

// mmaCtx contains the state kept by the optimizer across updates.
type mmaCtx struct {
	// iteration counter
	iter int
	// whether the asymptotes and history hold data of a previous update
	initialized bool
	// asymptotes
	low, upp []float64 // n
	// the two preceding iterates
	xo1, xo2 []float64 // n
	// per-constraint weights of 𝐳 and 𝐲
	a, c, d []float64 // m
	sub     subCtx
}

// init carves every buffer of the optimizer from one arena.
// Given n local variables and m constraints,
// total work space is float64[21×n + 3×mn + 2×m² + 27×m + 6].
func (w *mmaCtx) init(n, m int) {
	m1 := m + 1
	total := 21*n + 3*m*n + 21*m + (2*m + m*m + 3) + m1*m1 + 2*m1
	wrk := make([]float64, total)

	take := func(k int) []float64 {
		s := wrk[:k:k]
		wrk = wrk[k:]
		return s
	}

	w.low, w.upp = take(n), take(n)
	w.xo1, w.xo2 = take(n), take(n)
	w.a, w.c, w.d = take(m), take(m), take(m)

	s := &w.sub
	s.n, s.m = n, m
	s.alfa, s.beta = take(n), take(n)
	s.p0, s.q0 = take(n), take(n)
	s.P, s.Q = take(m*n), take(m*n)
	s.b = take(m)

	s.x, s.xsi, s.eta = take(n), take(n), take(n)
	s.y, s.lam, s.mu, s.s = take(m), take(m), take(m), take(m)

	s.dx, s.dxsi, s.deta = take(n), take(n), take(n)
	s.dy, s.dlam, s.dmu, s.ds = take(m), take(m), take(m), take(m)

	s.xold, s.xsiold, s.etaold = take(n), take(n), take(n)
	s.yold, s.lamold, s.muold, s.sold = take(m), take(m), take(m), take(m)

	s.plam, s.qlam = take(n), take(n)
	s.delx, s.diagx = take(n), take(n)
	s.GG = take(m * n)
	s.gvec, s.dely, s.dellam = take(m), take(m), take(m)
	s.diagy, s.diaglamyi = take(m), take(m)
	s.red = take(2*m + m*m + 3)

	s.aa = mat.NewDense(m1, m1, take(m1*m1))
	s.rhs = mat.NewVecDense(m1, take(m1))
	s.sol = mat.NewVecDense(m1, take(m1))
}
