// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mma

import (
	"fmt"
	"io"
)

const (
	zero = 0.0
	half = 0.5
	one  = 1.0
	two  = 2.0
	ten  = 10.0
)

const (
	// maxNewton bounds the Newton steps taken for one barrier value.
	maxNewton = 200
	// maxHalving bounds the step halvings of one line-search.
	maxHalving = 50
	// stepSafety keeps the interior-point step strictly inside the positive orthant.
	stepSafety = 1.01
)

// PrintLevel controls the diagnostics written by the optimizer.
type PrintLevel int

const (
	// PrintSilent no output is generated.
	PrintSilent PrintLevel = 0
	// PrintWarnings report numerical degeneracy of the subproblem.
	PrintWarnings PrintLevel = 1
	// PrintSummary report also a convergence summary of every update.
	PrintSummary PrintLevel = 2
)

// Logger handles diagnostic output for the optimizer.
// Note the writer must be thread-safe when it is shared by participants.
type Logger struct {
	Level PrintLevel
	Msg   io.Writer // Writer to output log messages.
}

func (l *Logger) enable(level PrintLevel) bool {
	return l.Level >= level && l.Msg != nil
}

func (l *Logger) log(format string, a ...any) {
	if len(a) > 0 {
		_, _ = fmt.Fprintf(l.Msg, format, a...)
	} else {
		_, _ = fmt.Fprint(l.Msg, format)
	}
}
