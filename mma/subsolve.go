// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mma

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// subSolver solves the convex separable MMA subproblem
//
// minimize  ∑ⱼ (p₀ⱼ/(𝒖ⱼ-𝐱ⱼ) + q₀ⱼ/(𝐱ⱼ-𝒍ⱼ)) + a₀𝐳 + ∑ᵢ (cᵢ𝐲ᵢ + ½dᵢ𝐲ᵢ²)
//
// subject to
//   - ∑ⱼ (Pᵢⱼ/(𝒖ⱼ-𝐱ⱼ) + Qᵢⱼ/(𝐱ⱼ-𝒍ⱼ)) - aᵢ𝐳 - 𝐲ᵢ ≤ bᵢ  (i = 1 ··· m)
//   - 𝛂ⱼ ≤ 𝐱ⱼ ≤ 𝛃ⱼ  (j = 1 ··· n)
//   - 𝐲ᵢ ≥ 0, 𝐳 ≥ 0
//
// with a primal-dual interior-point method.
//
// # Barrier
//
// The complementarity conditions of the KKT system are relaxed by a barrier 𝛆:
//
//	𝛏ⱼ(𝐱ⱼ-𝛂ⱼ) = 𝛆, 𝛈ⱼ(𝛃ⱼ-𝐱ⱼ) = 𝛆, 𝛍ᵢ𝐲ᵢ = 𝛆, 𝛇𝐳 = 𝛆, 𝛌ᵢ𝐬ᵢ = 𝛆
//
// Starting from 𝛆 = 1, the relaxed system is solved by damped Newton iterations
// until ‖𝐫‖∞ ≤ 0.9𝛆, then 𝛆 is reduced tenfold until it falls below 𝛆ₘᵢₙ.
//
// # Newton step
//
// The 𝐱 block of the Newton system is diagonal. Eliminating it together with 𝐲, 𝛏, 𝛈, 𝛍, 𝛇, 𝐬
// leaves a dense system in (Δ𝛌, Δ𝐳) of order m+1:
//
//	⎡ 𝐃ᵧ + 𝐆𝐃ₓ⁻¹𝐆ᵀ   𝐚  ⎤⎡ Δ𝛌 ⎤   ⎡ 𝛅𝛌 + 𝛅𝐲/𝐝ᵧ - 𝐆(𝛅𝐱/𝐝ₓ) ⎤
//	⎣      𝐚ᵀ     -𝛇/𝐳 ⎦⎣ Δ𝐳 ⎦ = ⎣           𝛅𝐳          ⎦
//
// which is solved by LU factorization with partial pivoting.
//
// # Distribution
//
// When the design vector is partitioned, every sum over variables and every
// step cap is combined with the Reducer so that all participants take the same step.
//
// # Reference
//
// Krister Svanberg: "The method of moving asymptotes - a new method for structural optimization".
// International Journal for Numerical Methods in Engineering 24, 1987
type subSolver struct {
	spec *mmaSpec
	ctx  *mmaCtx
	sub  *subCtx
}

// initPoint starts from the centre of the move limits with unit multipliers.
func (ss *subSolver) initPoint() {
	s, c := ss.sub, ss.ctx
	for j := range s.x {
		s.x[j] = half * (s.alfa[j] + s.beta[j])
		s.xsi[j] = math.Max(one, one/(s.x[j]-s.alfa[j]))
		s.eta[j] = math.Max(one, one/(s.beta[j]-s.x[j]))
	}
	for i := range s.y {
		s.y[i] = one
		s.lam[i] = one
		s.s[i] = one
		s.mu[i] = math.Max(one, half*c.c[i])
	}
	s.z, s.zet = one, one
	s.newton, s.singular = 0, 0
	s.converged = false
}

// residual evaluates the barrier-relaxed KKT residual at the current point
// and returns its global 2-norm and ∞-norm. It leaves plam, qlam and gvec
// consistent with the current point for the next Newton step.
func (ss *subSolver) residual(epsi float64) (norm, most float64) {
	p, c, s := ss.spec, ss.ctx, ss.sub
	n, m := s.n, s.m
	low, upp := c.low, c.upp

	gvec := s.red[:m]
	clear(gvec)

	sq, mx := zero, zero
	for j := 0; j < n; j++ {
		x := s.x[j]
		ux1, xl1 := upp[j]-x, x-low[j]
		plam, qlam := s.p0[j], s.q0[j]
		for i := 0; i < m; i++ {
			ij := i*n + j
			plam += s.P[ij] * s.lam[i]
			qlam += s.Q[ij] * s.lam[i]
			gvec[i] += s.P[ij]/ux1 + s.Q[ij]/xl1
		}
		s.plam[j], s.qlam[j] = plam, qlam

		dpsidx := plam/(ux1*ux1) - qlam/(xl1*xl1)
		rex := dpsidx - s.xsi[j] + s.eta[j]
		rexsi := s.xsi[j]*(x-s.alfa[j]) - epsi
		reeta := s.eta[j]*(s.beta[j]-x) - epsi
		sq += rex*rex + rexsi*rexsi + reeta*reeta
		mx = math.Max(mx, math.Max(math.Abs(rex), math.Max(math.Abs(rexsi), math.Abs(reeta))))
	}

	s.red[m] = sq
	p.reducer.AllReduce(Sum, s.red[:m+1])
	copy(s.gvec, gvec)
	sq = s.red[m]

	s.red[0] = mx
	p.reducer.AllReduce(Max, s.red[:1])
	mx = s.red[0]

	// multipliers of the constraints are replicated on every participant
	rez := p.A0 - s.zet - floats.Dot(c.a, s.lam)
	rezet := s.zet*s.z - epsi
	sq += rez*rez + rezet*rezet
	mx = math.Max(mx, math.Max(math.Abs(rez), math.Abs(rezet)))
	for i := 0; i < m; i++ {
		rey := c.c[i] + c.d[i]*s.y[i] - s.mu[i] - s.lam[i]
		relam := s.gvec[i] - c.a[i]*s.z - s.y[i] + s.s[i] - s.b[i]
		remu := s.mu[i]*s.y[i] - epsi
		res := s.lam[i]*s.s[i] - epsi
		sq += rey*rey + relam*relam + remu*remu + res*res
		mx = math.Max(mx, math.Max(math.Max(math.Abs(rey), math.Abs(relam)), math.Max(math.Abs(remu), math.Abs(res))))
	}

	return math.Sqrt(sq), mx
}

// guard replaces a vanishing Newton diagonal.
func (ss *subSolver) guard(v float64) float64 {
	if v < ss.spec.MachineEpsilon {
		return ss.spec.EpsMin
	}
	return v
}

// direction computes the Newton direction of the barrier-relaxed KKT system.
// It reports false when the reduced system is singular, in which case
// the dual part of the step is zero.
func (ss *subSolver) direction(epsi float64) (ok bool) {
	p, c, s := ss.spec, ss.ctx, ss.sub
	n, m, m1 := s.n, s.m, s.m+1
	low, upp := c.low, c.upp

	ggd := s.red[:m]
	alam := s.red[m : m+m*m]
	clear(s.red[:m+m*m])

	for j := 0; j < n; j++ {
		x := s.x[j]
		ux1, xl1 := upp[j]-x, x-low[j]
		ux2, xl2 := ux1*ux1, xl1*xl1
		ux3, xl3 := ux1*ux2, xl1*xl2
		xa, bx := x-s.alfa[j], s.beta[j]-x

		dpsidx := s.plam[j]/ux2 - s.qlam[j]/xl2
		s.delx[j] = dpsidx - epsi/xa + epsi/bx
		s.diagx[j] = ss.guard(two*(s.plam[j]/ux3+s.qlam[j]/xl3) + s.xsi[j]/xa + s.eta[j]/bx)

		dx := s.delx[j] / s.diagx[j]
		for i := 0; i < m; i++ {
			ij := i*n + j
			gg := s.P[ij]/ux2 - s.Q[ij]/xl2
			s.GG[ij] = gg
			ggd[i] += gg * dx
		}
	}

	// 𝐆𝐃ₓ⁻¹𝐆ᵀ is symmetric, only the upper triangle is accumulated
	for i := 0; i < m; i++ {
		gi := s.GG[i*n : (i+1)*n]
		for k := i; k < m; k++ {
			gk := s.GG[k*n : (k+1)*n]
			sum := zero
			for j, g := range gi {
				sum += g * gk[j] / s.diagx[j]
			}
			alam[i*m+k] = sum
		}
	}
	p.reducer.AllReduce(Sum, s.red[:m+m*m])

	for i := 0; i < m; i++ {
		s.dely[i] = c.c[i] + c.d[i]*s.y[i] - s.lam[i] - epsi/s.y[i]
		s.dellam[i] = s.gvec[i] - c.a[i]*s.z - s.y[i] - s.b[i] + epsi/s.lam[i]
		s.diagy[i] = ss.guard(c.d[i] + s.mu[i]/s.y[i])
		s.diaglamyi[i] = s.s[i]/s.lam[i] + one/s.diagy[i]
	}
	delz := p.A0 - floats.Dot(c.a, s.lam) - epsi/s.z

	for i := 0; i < m; i++ {
		s.rhs.SetVec(i, s.dellam[i]+s.dely[i]/s.diagy[i]-ggd[i])
		for k := i; k < m; k++ {
			v := alam[i*m+k]
			if k == i {
				v += s.diaglamyi[i]
			}
			s.aa.Set(i, k, v)
			s.aa.Set(k, i, v)
		}
		s.aa.Set(i, m, c.a[i])
		s.aa.Set(m, i, c.a[i])
	}
	s.aa.Set(m, m, -s.zet/s.z)
	s.rhs.SetVec(m, delz)

	// an exactly singular factorization reports an infinite condition number
	// and leaves sol untouched, only a finite one is usable
	ok = true
	s.lu.Factorize(s.aa)
	if err := s.lu.SolveVecTo(s.sol, false, s.rhs); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			ok = false
		}
	}
	if ok {
		for i := 0; i < m1; i++ {
			if v := s.sol.AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
				ok = false
				break
			}
		}
	}
	if !ok {
		s.sol.Zero()
	}
	for i := 0; i < m; i++ {
		s.dlam[i] = s.sol.AtVec(i)
	}
	s.dz = s.sol.AtVec(m1 - 1)

	for j := 0; j < n; j++ {
		sum := zero
		for i := 0; i < m; i++ {
			sum += s.GG[i*n+j] * s.dlam[i]
		}
		s.dx[j] = -(s.delx[j] + sum) / s.diagx[j]

		xa, bx := s.x[j]-s.alfa[j], s.beta[j]-s.x[j]
		s.dxsi[j] = -s.xsi[j] + epsi/xa - s.xsi[j]*s.dx[j]/xa
		s.deta[j] = -s.eta[j] + epsi/bx + s.eta[j]*s.dx[j]/bx
	}
	for i := 0; i < m; i++ {
		s.dy[i] = (s.dlam[i] - s.dely[i]) / s.diagy[i]
		s.dmu[i] = -s.mu[i] + epsi/s.y[i] - s.mu[i]*s.dy[i]/s.y[i]
		s.ds[i] = -s.s[i] + epsi/s.lam[i] - s.s[i]*s.dlam[i]/s.lam[i]
	}
	s.dzet = -s.zet + epsi/s.z - s.zet*s.dz/s.z
	return
}

// stepLength returns the largest step not exceeding 1 that keeps the
// multipliers and slacks positive and 𝐱 inside the move limits.
// The caps are combined over all participants.
func (ss *subSolver) stepLength() float64 {
	s := ss.sub

	ratio := func(v, d float64) float64 { return -stepSafety * d / v }

	stmxx := ratio(s.z, s.dz)
	stmxx = math.Max(stmxx, ratio(s.zet, s.dzet))
	for i := range s.y {
		stmxx = math.Max(stmxx, ratio(s.y[i], s.dy[i]))
		stmxx = math.Max(stmxx, ratio(s.lam[i], s.dlam[i]))
		stmxx = math.Max(stmxx, ratio(s.mu[i], s.dmu[i]))
		stmxx = math.Max(stmxx, ratio(s.s[i], s.ds[i]))
	}

	stmalfa, stmbeta := zero, zero
	for j, dx := range s.dx {
		stmxx = math.Max(stmxx, ratio(s.xsi[j], s.dxsi[j]))
		stmxx = math.Max(stmxx, ratio(s.eta[j], s.deta[j]))
		stmalfa = math.Max(stmalfa, ratio(s.x[j]-s.alfa[j], dx))
		stmbeta = math.Max(stmbeta, -ratio(s.beta[j]-s.x[j], dx))
	}

	caps := s.red[:3]
	caps[0], caps[1], caps[2] = stmxx, stmalfa, stmbeta
	ss.spec.reducer.AllReduce(Max, caps)

	stminv := math.Max(one, floats.Max(caps))
	return one / stminv
}

// lineSearch backtracks along the Newton direction from the current point until
// the residual norm decreases sufficiently, and returns the accepted residual norms.
func (ss *subSolver) lineSearch(steg, epsi, residunorm float64) (norm, most float64) {
	s := ss.sub

	copy(s.xold, s.x)
	copy(s.xsiold, s.xsi)
	copy(s.etaold, s.eta)
	copy(s.yold, s.y)
	copy(s.lamold, s.lam)
	copy(s.muold, s.mu)
	copy(s.sold, s.s)
	s.zold, s.zetold = s.z, s.zet

	take := func(dst, old, d []float64) {
		for k := range dst {
			dst[k] = old[k] + steg*d[k]
		}
	}

	for itto := 0; itto < maxHalving; itto++ {
		take(s.x, s.xold, s.dx)
		take(s.xsi, s.xsiold, s.dxsi)
		take(s.eta, s.etaold, s.deta)
		take(s.y, s.yold, s.dy)
		take(s.lam, s.lamold, s.dlam)
		take(s.mu, s.muold, s.dmu)
		take(s.s, s.sold, s.ds)
		s.z = s.zold + steg*s.dz
		s.zet = s.zetold + steg*s.dzet

		if norm, most = ss.residual(epsi); norm <= (one-0.01*steg)*residunorm {
			break
		}
		steg /= two
	}
	return
}

// newtonStep takes one damped Newton step from the current point.
func (ss *subSolver) newtonStep(epsi, residunorm float64) (norm, most float64) {
	s := ss.sub
	s.newton++
	if !ss.direction(epsi) {
		s.singular++
	}
	return ss.lineSearch(ss.stepLength(), epsi, residunorm)
}

// solve runs the barrier loop and leaves the KKT point of the subproblem in ss.sub.
func (ss *subSolver) solve() {
	p, s := ss.spec, ss.sub

	ss.initPoint()
	norm, most := zero, zero
	for epsi := one; epsi > p.EpsMin; epsi *= 0.1 {
		norm, most = ss.residual(epsi)
		for ittt := 0; most > 0.9*epsi && ittt < p.newtonCap; ittt++ {
			norm, most = ss.newtonStep(epsi, norm)
		}
		s.epsi = epsi
		s.converged = most <= 0.9*epsi
	}
	s.residunorm, s.residumax = norm, most
}
