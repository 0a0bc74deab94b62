// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mma

import (
	"errors"
	"slices"
	"testing"
)

func TestSerialReduce(t *testing.T) {
	v := []float64{1, -2, 3}
	for _, op := range []Op{Sum, Min, Max} {
		Serial{}.AllReduce(op, v)
	}
	if !slices.Equal(v, []float64{1, -2, 3}) {
		t.Fatalf("serial reduction changed values: %v", v)
	}
}

func TestGroupReduce(t *testing.T) {

	const size = 4
	g := NewGroup(size)

	got := make([][]float64, size)
	err := g.Run(func(rank int, r Reducer) error {
		x := float64(rank + 1)
		sum := []float64{x, 2 * x}
		r.AllReduce(Sum, sum)
		lo := []float64{x}
		r.AllReduce(Min, lo)
		hi := []float64{-x}
		r.AllReduce(Max, hi)
		// repeated rounds must not mix up results
		for k := 0; k < 100; k++ {
			one := []float64{1}
			r.AllReduce(Sum, one)
			if one[0] != size {
				return errors.New("repeated reduction mismatch")
			}
		}
		got[rank] = []float64{sum[0], sum[1], lo[0], hi[0]}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []float64{10, 20, 1, -1}
	for rank, v := range got {
		if !slices.Equal(v, want) {
			t.Fatalf("rank %d got %v want %v", rank, v, want)
		}
	}
}

func TestGroupRunError(t *testing.T) {
	g := NewGroup(3)
	boom := errors.New("boom")
	err := g.Run(func(rank int, r Reducer) error {
		v := []float64{1}
		r.AllReduce(Sum, v)
		if rank == 2 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expect participant error, got %v", err)
	}
}

func TestGroupRankRange(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expect panic for rank out of range")
		}
	}()
	NewGroup(2).Rank(2)
}
