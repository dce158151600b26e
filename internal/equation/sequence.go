package equation

import (
	"strings"
)

// Step is one (equation, operation, equation) triple of a sequence.
type Step struct {
	Index     int       `json:"index"`
	From      Equation  `json:"from"`
	Operation Operation `json:"operation"`
	To        Equation  `json:"to"`
	FromText  string    `json:"fromText"`
	OpText    string    `json:"opText"`
	ToText    string    `json:"toText"`
}

// SkippedStep records a triple whose tokens failed to parse.
type SkippedStep struct {
	Index  int    `json:"index"`
	Tokens string `json:"tokens"`
	Reason string `json:"reason"`
}

// Sequence is a parsed step input.
type Sequence struct {
	Steps     []Step        `json:"steps"`
	Skipped   []SkippedStep `json:"skipped,omitempty"`
	Truncated bool          `json:"truncated"`
}

// SplitTokens splits the wire format on ';', trimming blanks and dropping
// empty trailing tokens.
func SplitTokens(input string) []string {
	raw := strings.Split(input, ";")
	tokens := make([]string, 0, len(raw))
	for _, t := range raw {
		tokens = append(tokens, strings.TrimSpace(t))
	}
	for len(tokens) > 0 && tokens[len(tokens)-1] == "" {
		tokens = tokens[:len(tokens)-1]
	}
	return tokens
}

// ParseSequence parses alternating equation/operation tokens into triples.
//
// Processing stops at the last well-formed triple once the alternation
// breaks (an equation slot without '=', an operation slot without a leading
// operator, or a trailing operation). Triples whose tokens are in the right
// slots but fail to parse are skipped; the rest are kept.
func ParseSequence(input string) Sequence {
	tokens := SplitTokens(input)

	// Longest alternating prefix that ends on an equation.
	end := 0
	for i, tok := range tokens {
		if i%2 == 0 {
			if !strings.Contains(tok, "=") {
				break
			}
			end = i + 1
		} else if !LooksLikeOperation(tok) {
			break
		}
	}

	seq := Sequence{Truncated: end != len(tokens)}
	for i := 0; i+2 < end; i += 2 {
		step, err := parseStep(i/2, tokens[i], tokens[i+1], tokens[i+2])
		if err != nil {
			seq.Skipped = append(seq.Skipped, SkippedStep{
				Index:  i / 2,
				Tokens: strings.Join(tokens[i:i+3], "; "),
				Reason: err.Error(),
			})
			continue
		}
		seq.Steps = append(seq.Steps, step)
	}
	return seq
}

func parseStep(idx int, fromText, opText, toText string) (Step, error) {
	from, err := ParseEquation(fromText)
	if err != nil {
		return Step{}, err
	}
	op, err := ParseOperation(opText)
	if err != nil {
		return Step{}, err
	}
	to, err := ParseEquation(toText)
	if err != nil {
		return Step{}, err
	}
	return Step{
		Index:     idx,
		From:      from,
		Operation: op,
		To:        to,
		FromText:  fromText,
		OpText:    opText,
		ToText:    toText,
	}, nil
}
