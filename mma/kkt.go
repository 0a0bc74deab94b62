// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mma

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// KKTCheck returns the residual norm of the KKT conditions of the original problem
//
//	minimize 𝒇(𝐱) + a₀𝐳 + ∑ᵢ (cᵢ𝐲ᵢ + ½dᵢ𝐲ᵢ²) subject to 𝒄ᵢ(𝐱) - aᵢ𝐳 - 𝐲ᵢ ≤ 0, 𝐱ₘᵢₙ ≤ 𝐱 ≤ 𝐱ₘₐₓ, 𝐲 ≥ 0, 𝐳 ≥ 0
//
// at x, using the multipliers of the last subproblem.
// The arguments follow Update; dfdx, gx and dgdx must be evaluated at x.
// A small value indicates that x is close to a KKT point, which callers use as a stopping criterion.
func (o *Optimizer) KKTCheck(dfdx, gx, dgdx, xmin, xmax, x []float64) (float64, error) {

	if err := o.check(dfdx, gx, dgdx, xmin, xmax, x); err != nil {
		return math.NaN(), err
	}

	w := &o.mmaCtx
	s := &w.sub
	n, m := o.n, o.m

	sq := zero
	for j, xj := range x {
		rex := dfdx[j] - s.xsi[j] + s.eta[j]
		for i := 0; i < m; i++ {
			rex += dgdx[i*n+j] * s.lam[i]
		}
		rexsi := s.xsi[j] * (xj - xmin[j])
		reeta := s.eta[j] * (xmax[j] - xj)
		sq += rex*rex + rexsi*rexsi + reeta*reeta
	}

	local := []float64{sq}
	o.reducer.AllReduce(Sum, local)
	sq = local[0]

	rez := o.A0 - s.zet - floats.Dot(w.a, s.lam)
	rezet := s.zet * s.z
	sq += rez*rez + rezet*rezet
	for i := 0; i < m; i++ {
		rey := w.c[i] + w.d[i]*s.y[i] - s.mu[i] - s.lam[i]
		relam := gx[i] - w.a[i]*s.z - s.y[i] + s.s[i]
		remu := s.mu[i] * s.y[i]
		res := s.lam[i] * s.s[i]
		sq += rey*rey + relam*relam + remu*remu + res*res
	}
	return math.Sqrt(sq), nil
}
