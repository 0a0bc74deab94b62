// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mma

import "math"

// moveAsymptotes places the asymptotes 𝒍 < 𝐱 < 𝒖 around the current iterate.
//
// During the first two iterations they sit at a fixed fraction of the box width:
//
//	𝒍 = 𝐱 - 𝚊𝚜𝚢𝚒𝚗𝚒𝚝 × (𝐱ₘₐₓ-𝐱ₘᵢₙ), 𝒖 = 𝐱 + 𝚊𝚜𝚢𝚒𝚗𝚒𝚝 × (𝐱ₘₐₓ-𝐱ₘᵢₙ)
//
// Afterwards a variable whose last two moves change sign is oscillating and
// its asymptotes are pulled in by 𝚊𝚜𝚢𝚍𝚎𝚌𝚛, while a variable moving monotonically
// gets them pushed out by 𝚊𝚜𝚢𝚒𝚗𝚌𝚛:
//
//	𝒍ᵏ = 𝐱ᵏ - 𝛄(𝐱ᵏ⁻¹-𝒍ᵏ⁻¹), 𝒖ᵏ = 𝐱ᵏ + 𝛄(𝒖ᵏ⁻¹-𝐱ᵏ⁻¹)
//
// The distance to 𝐱 is finally kept within [0.01, 10] box widths.
func (o *Optimizer) moveAsymptotes(x, xmin, xmax []float64) {
	p, w := &o.mmaSpec, &o.mmaCtx

	if !w.initialized || w.iter < 2 {
		for j, xj := range x {
			r := xmax[j] - xmin[j]
			w.low[j] = xj - p.AsyInit*r
			w.upp[j] = xj + p.AsyInit*r
		}
		return
	}

	for j, xj := range x {
		gamma := one
		switch zz := (xj - w.xo1[j]) * (w.xo1[j] - w.xo2[j]); {
		case zz > zero:
			gamma = p.AsyIncr
		case zz < zero:
			gamma = p.AsyDecr
		}
		low := xj - gamma*(w.xo1[j]-w.low[j])
		upp := xj + gamma*(w.upp[j]-w.xo1[j])

		r := xmax[j] - xmin[j]
		low = math.Min(math.Max(low, xj-ten*r), xj-0.01*r)
		upp = math.Max(math.Min(upp, xj+ten*r), xj+0.01*r)
		w.low[j], w.upp[j] = low, upp
	}
}

// approximate builds the move limits and the convex separable approximation of
// the objective and the constraints at x.
//
// A function with gradient 𝛁𝒇 is replaced by
//
//	𝒇̃(𝐱) = ∑ⱼ (pⱼ/(𝒖ⱼ-𝐱ⱼ) + qⱼ/(𝐱ⱼ-𝒍ⱼ)) + r
//	pⱼ = (𝒖ⱼ-𝐱ⱼ)² (𝚖𝚊𝚡(𝛁ⱼ𝒇,0) + 0.001|𝛁ⱼ𝒇| + 𝚛𝚊𝚊𝟶/𝐱ₘₐₘᵢⱼ)
//	qⱼ = (𝐱ⱼ-𝒍ⱼ)² (𝚖𝚊𝚡(-𝛁ⱼ𝒇,0) + 0.001|𝛁ⱼ𝒇| + 𝚛𝚊𝚊𝟶/𝐱ₘₐₘᵢⱼ)
//
// which matches 𝒇 and 𝛁𝒇 at 𝐱 and is strictly convex even for a vanishing gradient.
func (o *Optimizer) approximate(dfdx, gx, dgdx, xmin, xmax, x []float64) {
	p, w := &o.mmaSpec, &o.mmaCtx
	s := &w.sub
	n, m := s.n, s.m

	clear(s.b)
	for j, xj := range x {
		r := xmax[j] - xmin[j]
		s.alfa[j] = math.Max(xmin[j], math.Max(w.low[j]+p.Albefa*(xj-w.low[j]), xj-p.Move*r))
		s.beta[j] = math.Min(xmax[j], math.Min(w.upp[j]-p.Albefa*(w.upp[j]-xj), xj+p.Move*r))

		ux1, xl1 := w.upp[j]-xj, xj-w.low[j]
		ux2, xl2 := ux1*ux1, xl1*xl1
		reg := p.Raa0 / math.Max(r, p.XmaMiEps)

		df := dfdx[j]
		pq := 0.001*math.Abs(df) + reg
		s.p0[j] = (math.Max(df, zero) + pq) * ux2
		s.q0[j] = (math.Max(-df, zero) + pq) * xl2

		for i := 0; i < m; i++ {
			ij := i*n + j
			dg := dgdx[ij]
			pq := 0.001*math.Abs(dg) + reg
			s.P[ij] = (math.Max(dg, zero) + pq) * ux2
			s.Q[ij] = (math.Max(-dg, zero) + pq) * xl2
			s.b[i] += s.P[ij]/ux1 + s.Q[ij]/xl1
		}
	}

	p.reducer.AllReduce(Sum, s.b)
	for i, g := range gx {
		s.b[i] -= g
	}
}
