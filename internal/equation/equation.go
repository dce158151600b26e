package equation

import (
	"strings"
	"unicode"

	apperrors "github.com/ironsheep/stackalign/internal/errors"
)

// Equation is "lhs=rhs" with the left side split at one top-level +/-.
type Equation struct {
	LeftMain   string `json:"leftMain"`
	LeftOp     string `json:"leftOp"`
	LeftSecond string `json:"leftSecond"`
	Right      string `json:"right"`
}

// TermID names a logical term of an equation.
type TermID string

const (
	Term1 TermID = "term1"
	Term2 TermID = "term2"
	Term3 TermID = "term3"
)

// Term returns the text of a logical term.
func (e Equation) Term(id TermID) string {
	switch id {
	case Term1:
		return e.LeftMain
	case Term2:
		return e.LeftSecond
	case Term3:
		return e.Right
	}
	return ""
}

// HasSecondTerm reports whether the left side was split.
func (e Equation) HasSecondTerm() bool {
	return e.LeftSecond != ""
}

// Left returns the whole left side.
func (e Equation) Left() string {
	return e.LeftMain + e.LeftOp + e.LeftSecond
}

func (e Equation) String() string {
	return e.Left() + "=" + e.Right
}

// ParseEquation strips whitespace and splits text on its single '='.
// Anything other than exactly one '=' with non-empty sides is malformed.
func ParseEquation(text string) (Equation, error) {
	s := normalize(text)

	if n := strings.Count(s, "="); n != 1 {
		reason := "missing '='"
		if n > 1 {
			reason = "more than one '='"
		}
		return Equation{}, apperrors.NewMalformedInputError(text, reason)
	}

	lhs, rhs, _ := strings.Cut(s, "=")
	if lhs == "" || rhs == "" {
		return Equation{}, apperrors.NewMalformedInputError(text, "empty side")
	}

	eq := Equation{LeftMain: lhs, Right: rhs}
	if i := topLevelSplit(lhs); i > 0 && i < len(lhs)-1 {
		eq.LeftMain = lhs[:i]
		eq.LeftOp = lhs[i : i+1]
		eq.LeftSecond = lhs[i+1:]
	}
	return eq, nil
}

// topLevelSplit returns the byte index of the first + or - outside
// parentheses that is not a leading sign, or -1.
func topLevelSplit(s string) int {
	depth := 0
	var prev rune
	for i, r := range s {
		switch r {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case '+', '-':
			if depth == 0 && i > 0 && !strings.ContainsRune("*/^(×÷+-", prev) {
				return i
			}
		}
		prev = r
	}
	return -1
}

// normalize removes whitespace and maps typographic minus signs to '-'.
func normalize(text string) string {
	var sb strings.Builder
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			continue
		case r == '−' || r == '–':
			sb.WriteRune('-')
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// numericPortion strips letters and a leading sign from a term, leaving the
// literal that an operation can cancel.
func numericPortion(term string) string {
	var sb strings.Builder
	for _, r := range term {
		if unicode.IsLetter(r) {
			continue
		}
		sb.WriteRune(r)
	}
	return strings.TrimLeft(sb.String(), "+-")
}

// coefficient returns the numeric coefficient of a term; a bare variable has
// coefficient "1".
func coefficient(term string) string {
	c := numericPortion(term)
	if c == "" {
		return "1"
	}
	return c
}
