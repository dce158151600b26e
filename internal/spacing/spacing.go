// Package spacing holds the per-step spacing offsets the calibration loop tunes.
//
// Offsets are in font-relative units (em). Negative values pull the text
// leftward. Every mutation clamps, so a State is always within its bounds.
package spacing

import (
	"math"
	"unicode"

	"github.com/ironsheep/stackalign/internal/equation"
)

// Clamp bounds per axis.
const (
	LeftOpMin  = -3.0
	LeftOpMax  = 2.0
	RightOpMin = -3.0
	RightOpMax = 2.0
	ResultMin  = -2.0
	ResultMax  = 2.0
)

// DefaultGain converts pixels of misalignment into an em correction.
const DefaultGain = 0.05

// MinChange is the smallest offset change that counts as movement.
const MinChange = 1e-3

// State holds the three offsets of a step layout.
type State struct {
	LeftOp  float64 `json:"leftOp"`
	RightOp float64 `json:"rightOp"`
	Result  float64 `json:"result"`
}

// Clamped returns s with every axis inside its bounds.
func (s State) Clamped() State {
	return State{
		LeftOp:  clamp(s.LeftOp, LeftOpMin, LeftOpMax),
		RightOp: clamp(s.RightOp, RightOpMin, RightOpMax),
		Result:  clamp(s.Result, ResultMin, ResultMax),
	}
}

// Misalignment is the measured pixel error per axis. Positive means the
// measured text sits right of its reference column.
type Misalignment struct {
	Left   float64
	Right  float64
	Result float64
}

// Adjustment describes one proportional update.
type Adjustment struct {
	Before State
	After  State
	// Moved is false when no axis changed by more than MinChange.
	Moved bool
	// Clamped lists the axes that hit a bound.
	Clamped []string
}

// Adjust applies newOffset = oldOffset - misalignment*gain per axis and
// clamps each axis independently. s is updated in place.
func (s *State) Adjust(m Misalignment, gain float64) Adjustment {
	before := *s
	raw := State{
		LeftOp:  s.LeftOp - m.Left*gain,
		RightOp: s.RightOp - m.Right*gain,
		Result:  s.Result - m.Result*gain,
	}
	*s = raw.Clamped()

	adj := Adjustment{Before: before, After: *s}
	if raw.LeftOp != s.LeftOp {
		adj.Clamped = append(adj.Clamped, "leftOp")
	}
	if raw.RightOp != s.RightOp {
		adj.Clamped = append(adj.Clamped, "rightOp")
	}
	if raw.Result != s.Result {
		adj.Clamped = append(adj.Clamped, "result")
	}
	adj.Moved = math.Abs(s.LeftOp-before.LeftOp) > MinChange ||
		math.Abs(s.RightOp-before.RightOp) > MinChange ||
		math.Abs(s.Result-before.Result) > MinChange
	return adj
}

// CalculateInitialSpacing produces the starting offsets for a step.
//
// Multiplicative steps use a fixed small triple: the underline-and-divisor
// presentation does not depend on operand length. Additive steps pull the
// operation text left, more so for longer operations, and shift a result
// that has fewer digits than the previous right side to the right by 0.3em
// per missing digit.
func CalculateInitialSpacing(eq1, eq2 equation.Equation, op equation.Operation) State {
	if op.Multiplicative() {
		return State{LeftOp: 0.1, RightOp: -0.1, Result: 0}.Clamped()
	}

	s := State{
		LeftOp:  -0.8,
		RightOp: -0.1 - 0.2*float64(runeLen(op.Text())),
	}
	if d1, d2 := countDigits(eq1.Right), countDigits(eq2.Right); d2 < d1 {
		s.Result = 0.3 * float64(d1-d2)
	}
	return s.Clamped()
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

func runeLen(s string) int {
	return len([]rune(s))
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}
