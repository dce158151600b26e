package equation

import (
	"strings"
	"unicode"

	apperrors "github.com/ironsheep/stackalign/internal/errors"
)

// OpKind is the arithmetic class of an operation step.
type OpKind string

const (
	OpAdd      OpKind = "add"
	OpSubtract OpKind = "subtract"
	OpMultiply OpKind = "multiply"
	OpDivide   OpKind = "divide"
)

// Operation is a sign plus a literal applied to both sides of an equation.
type Operation struct {
	Sign    string `json:"sign"`
	Literal string `json:"literal"`
	Kind    OpKind `json:"kind"`
}

// Text renders the operation the way it is printed in a layout, e.g. "-4" or "÷2".
func (o Operation) Text() string {
	return o.Sign + o.Literal
}

func (o Operation) String() string {
	return o.Text()
}

// Multiplicative reports whether the step multiplies or divides.
func (o Operation) Multiplicative() bool {
	return o.Kind == OpMultiply || o.Kind == OpDivide
}

// LooksLikeOperation reports whether a token starts with an operator glyph.
// It is used to check the alternation of a step sequence.
func LooksLikeOperation(token string) bool {
	s := normalize(token)
	if s == "" {
		return false
	}
	_, ok := signKind(firstRune(s))
	return ok && !strings.Contains(s, "=")
}

// ParseOperation parses "<sign><literal>". Accepted signs are + - − × * ÷ /;
// '*' and '/' are normalized to × and ÷.
func ParseOperation(text string) (Operation, error) {
	s := normalize(text)
	if s == "" {
		return Operation{}, apperrors.NewMalformedInputError(text, "empty operation")
	}

	r := firstRune(s)
	kind, ok := signKind(r)
	if !ok {
		return Operation{}, apperrors.NewMalformedInputError(text, "operation must start with + - × * ÷ /")
	}
	literal := strings.TrimPrefix(s, string(r))
	if !validLiteral(literal) {
		return Operation{}, apperrors.NewMalformedInputError(text, "operation needs a numeric literal")
	}

	return Operation{Sign: canonicalSign(kind), Literal: literal, Kind: kind}, nil
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}

func signKind(r rune) (OpKind, bool) {
	switch r {
	case '+':
		return OpAdd, true
	case '-', '−':
		return OpSubtract, true
	case '×', '*':
		return OpMultiply, true
	case '÷', '/':
		return OpDivide, true
	}
	return "", false
}

func canonicalSign(k OpKind) string {
	switch k {
	case OpAdd:
		return "+"
	case OpSubtract:
		return "-"
	case OpMultiply:
		return "×"
	default:
		return "÷"
	}
}

// validLiteral accepts digits with at most one decimal point, optionally
// followed by variable letters ("4", "2.5", "3x").
func validLiteral(s string) bool {
	digits, dots, letters := 0, 0, false
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			if letters {
				return false
			}
			digits++
		case r == '.':
			if letters {
				return false
			}
			dots++
		case unicode.IsLetter(r):
			letters = true
		default:
			return false
		}
	}
	return digits > 0 && dots <= 1
}
