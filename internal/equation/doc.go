// Package equation models the algebra a calibration step works on.
//
// An equation "lhs=rhs" is decomposed into at most three logical terms by a
// single top-level +/- split of the left side:
//
//	100x-2500=7500  ->  term1 "100x", leftOp "-", term2 "2500", term3 "7500"
//	x=3             ->  term1 "x", term3 "3"
//
// Nested operators inside one term are left alone. An OperationStep is a sign
// (+, -, ×, ÷) followed by a literal; IdentifyOperationTarget infers which
// left-hand term the step visually cancels so the layout can put the
// operation text under it.
//
// Step sequences use the wire format
//
//	"<equation>; <operation>; <equation>; <operation>; <equation>"
//
// and are split into independent (equation, operation, equation) triples.
package equation
