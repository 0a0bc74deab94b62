// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mma

import (
	"fmt"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Op is the combining operation of a collective reduction.
type Op int

const (
	Sum Op = iota
	Min
	Max
)

func (op Op) String() string {
	switch op {
	case Sum:
		return "sum"
	case Min:
		return "min"
	case Max:
		return "max"
	}
	return fmt.Sprintf("Op(%d)", int(op))
}

// combine folds v into acc element-wise.
func (op Op) combine(acc, v []float64) {
	switch op {
	case Sum:
		for i, x := range v {
			acc[i] += x
		}
	case Min:
		for i, x := range v {
			acc[i] = math.Min(acc[i], x)
		}
	case Max:
		for i, x := range v {
			acc[i] = math.Max(acc[i], x)
		}
	default:
		panic("unknown reduction " + op.String())
	}
}

// Reducer aggregates values over all participants owning a slice of the design vector.
//
// AllReduce replaces every element of v with the value combined by op over all participants.
// It is a blocking collective: every participant must call it with the same op and
// the same len(v) in the same order, otherwise the run deadlocks.
type Reducer interface {
	AllReduce(op Op, v []float64)
}

// Serial is the reducer of a single participant holding the whole design vector.
type Serial struct{}

// AllReduce leaves v unchanged.
func (Serial) AllReduce(Op, []float64) {}

// Group is an in-process group of participants that reduce through shared memory.
// Each participant runs on its own goroutine and uses the Reducer returned by Rank.
type Group struct {
	size    int
	mu      sync.Mutex
	cond    *sync.Cond
	arrived int
	gen     uint64
	op      Op
	acc     []float64
	out     []float64
}

// NewGroup creates a group of size participants.
func NewGroup(size int) *Group {
	if size <= 0 {
		panic("non-positive group size")
	}
	g := &Group{size: size}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Size returns the number of participants.
func (g *Group) Size() int { return g.size }

// Rank returns the reducer used by participant rank.
func (g *Group) Rank(rank int) Reducer {
	if rank < 0 || rank >= g.size {
		panic(fmt.Sprintf("rank %d out of group size %d", rank, g.size))
	}
	return member{g}
}

// Run calls fn for every participant on its own goroutine and waits for all of them.
// It returns the first non-nil error. A participant returning before the others
// reached the same collective leaves them blocked, so fn should only fail before
// its first reduction or after its last one.
func (g *Group) Run(fn func(rank int, r Reducer) error) error {
	var eg errgroup.Group
	for rank := 0; rank < g.size; rank++ {
		rank := rank
		r := g.Rank(rank)
		eg.Go(func() error {
			return fn(rank, r)
		})
	}
	return eg.Wait()
}

func (g *Group) allReduce(op Op, v []float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	gen := g.gen
	if g.arrived == 0 {
		g.op = op
		g.acc = append(g.acc[:0], v...)
	} else {
		if op != g.op || len(v) != len(g.acc) {
			panic(fmt.Sprintf("mismatched collective: %s[%d] joined %s[%d]", op, len(v), g.op, len(g.acc)))
		}
		op.combine(g.acc, v)
	}

	// The result buffer is only replaced by the next completed round,
	// which needs every waiter of this round to arrive first.
	if g.arrived++; g.arrived == g.size {
		g.out = append(g.out[:0], g.acc...)
		g.arrived = 0
		g.gen++
		g.cond.Broadcast()
	} else {
		for gen == g.gen {
			g.cond.Wait()
		}
	}
	copy(v, g.out)
}

type member struct {
	g *Group
}

func (m member) AllReduce(op Op, v []float64) {
	m.g.allReduce(op, v)
}
