package equation

import (
	"github.com/ironsheep/stackalign/internal/logging"
)

// Target is the outcome of operation-target resolution.
type Target struct {
	Term    TermID `json:"targetTerm"`
	Matched bool   `json:"matched"`
	Reason  string `json:"reason"`
}

// IdentifyOperationTarget infers which left-hand term op cancels.
//
// Additive steps compare the operation literal with the numeric portion of
// term1 and then term2; the first match wins, so two terms sharing a literal
// always resolve to term1. Multiplicative steps compare against term1's
// coefficient. Without a match the target defaults to term2, or to term1
// when the equation has no second term.
func IdentifyOperationTarget(eq Equation, op Operation) Target {
	literal := numericPortion(op.Literal)

	if op.Multiplicative() {
		if coefficient(eq.LeftMain) == literal {
			return Target{Term: Term1, Matched: true, Reason: "coefficient of term1"}
		}
	} else {
		if numericPortion(eq.LeftMain) == literal {
			return Target{Term: Term1, Matched: true, Reason: "literal matches term1"}
		}
		if eq.HasSecondTerm() && numericPortion(eq.LeftSecond) == literal {
			return Target{Term: Term2, Matched: true, Reason: "literal matches term2"}
		}
	}

	if !eq.HasSecondTerm() {
		return Target{Term: Term1, Reason: "no match, equation has a single left term"}
	}
	return Target{Term: Term2, Reason: "no match, defaulting to term2"}
}

// Resolver wraps IdentifyOperationTarget with diagnostic logging.
type Resolver struct {
	Log *logging.Logger
}

// Resolve identifies the target term and logs the decision.
func (r *Resolver) Resolve(eq Equation, op Operation) Target {
	t := IdentifyOperationTarget(eq, op)
	if r.Log == nil {
		return t
	}
	if t.Matched {
		r.Log.Debug("operation target resolved",
			"equation", eq.String(), "operation", op.Text(), "target", t.Term, "reason", t.Reason)
	} else {
		r.Log.Warn("operation target not matched",
			"equation", eq.String(), "operation", op.Text(), "target", t.Term, "reason", t.Reason)
	}
	return t
}
