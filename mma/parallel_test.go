// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mma

import (
	"slices"
	"testing"

	"gonum.org/v1/gonum/floats"
)

// partitionedRun minimizes ∑ⱼ (𝐱ⱼ-𝐭ⱼ)² subject to ∑ⱼ 𝐱ⱼ ≤ 2 and ∑ⱼ wⱼ𝐱ⱼ² ≤ 1
// with the design split into contiguous slices, one per participant,
// and returns the concatenated design after iters updates.
func partitionedRun(t *testing.T, sizes []int, iters int, group func(fn func(rank int, r Reducer) error) error) []float64 {
	t.Helper()

	const m = 2
	n := 0
	for _, s := range sizes {
		n += s
	}
	target, weight := make([]float64, n), make([]float64, n)
	xmin, xmax := make([]float64, n), make([]float64, n)
	x := make([]float64, n)
	for j := range x {
		target[j] = 0.3 + 0.1*float64(j%5)
		weight[j] = 1 + 0.25*float64(j%3)
		xmin[j], xmax[j] = 0, 1
		x[j] = 0.5
	}

	err := group(func(rank int, r Reducer) error {
		lo := 0
		for _, s := range sizes[:rank] {
			lo += s
		}
		hi := lo + sizes[rank]
		xl := x[lo:hi]
		nl := hi - lo

		p := Problem{N: nl, M: m, X: slices.Clone(xl), Reducer: r}
		o, err := p.New(nil)
		if err != nil {
			return err
		}
		if o.GlobalN() != n {
			t.Errorf("rank %d: global size %d want %d", rank, o.GlobalN(), n)
		}

		df, gx, dg := make([]float64, nl), make([]float64, m), make([]float64, m*nl)
		for k := 0; k < iters; k++ {
			clear(gx)
			for j, v := range xl {
				df[j] = 2 * (v - target[lo+j])
				gx[0] += v
				gx[1] += weight[lo+j] * v * v
				dg[j] = 1
				dg[nl+j] = 2 * weight[lo+j] * v
			}
			r.AllReduce(Sum, gx)
			gx[0] -= 2
			gx[1] -= 1
			if err = o.Update(df, gx, dg, xmin[lo:hi], xmax[lo:hi], xl); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return x
}

func serialGroup(fn func(rank int, r Reducer) error) error {
	return fn(0, Serial{})
}

func TestSingleParticipant(t *testing.T) {
	want := partitionedRun(t, []int{8}, 5, serialGroup)
	got := partitionedRun(t, []int{8}, 5, NewGroup(1).Run)
	if !slices.Equal(want, got) {
		t.Fatalf("single participant %v differs from serial %v", got, want)
	}
}

func TestPartitionedEquivalence(t *testing.T) {
	want := partitionedRun(t, []int{9}, 5, serialGroup)
	for _, sizes := range [][]int{{4, 5}, {3, 3, 3}, {1, 7, 1}} {
		got := partitionedRun(t, sizes, 5, NewGroup(len(sizes)).Run)
		if !floats.EqualApprox(want, got, 1e-8) {
			t.Fatalf("partition %v: %v differs from serial %v", sizes, got, want)
		}
	}
}
