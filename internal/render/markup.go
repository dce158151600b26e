package render

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type nodeKind int

const (
	textNode nodeKind = iota
	spaceNode
	underlineNode
	boxNode
)

// node is one item of a cell. Spaces carry an em offset, boxes an em width.
type node struct {
	kind     nodeKind
	text     string
	em       float64
	children []node
}

type tableRow struct {
	ruleAbove bool
	cells     [][]node
}

type table struct {
	align []byte
	rows  []tableRow
}

func (t *table) columns() int {
	n := len(t.align)
	for _, r := range t.rows {
		if len(r.cells) > n {
			n = len(r.cells)
		}
	}
	return n
}

func (t *table) alignment(col int) byte {
	if col < len(t.align) {
		return t.align[col]
	}
	return 'r'
}

const (
	beginArray = `\begin{array}{`
	endArray   = `\end{array}`
	hline      = `\hline`
)

// parseMarkup parses an array layout. A bare body without \begin{array} is
// accepted and treated as right-aligned.
func parseMarkup(src string) (*table, error) {
	body := strings.TrimSpace(src)
	t := &table{}

	if strings.HasPrefix(body, beginArray) {
		rest := body[len(beginArray):]
		spec, after, ok := strings.Cut(rest, "}")
		if !ok {
			return nil, fmt.Errorf("unterminated column spec")
		}
		for _, c := range strings.TrimSpace(spec) {
			switch c {
			case 'l', 'c', 'r':
				t.align = append(t.align, byte(c))
			case '|', ' ':
			default:
				return nil, fmt.Errorf("unknown column alignment %q", c)
			}
		}
		end := strings.LastIndex(after, endArray)
		if end < 0 {
			return nil, fmt.Errorf("missing %s", endArray)
		}
		body = after[:end]
	}

	raw := strings.Split(body, `\\`)
	for i, r := range raw {
		row := tableRow{}
		r = strings.TrimSpace(r)
		for strings.HasPrefix(r, hline) {
			row.ruleAbove = true
			r = strings.TrimSpace(r[len(hline):])
		}
		if r == "" {
			// A rule on its own still draws; an empty trailing row does not.
			if row.ruleAbove || i < len(raw)-1 {
				t.rows = append(t.rows, row)
			}
			continue
		}
		for _, c := range strings.Split(r, "&") {
			nodes, err := parseCell(c)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i+1, err)
			}
			row.cells = append(row.cells, nodes)
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

type scanner struct {
	s string
	i int
}

func parseCell(s string) ([]node, error) {
	sc := &scanner{s: s}
	return sc.nodes(0)
}

// nodes parses until closing (0 means end of input).
func (sc *scanner) nodes(closing byte) ([]node, error) {
	var out []node
	appendText := func(t string) {
		if n := len(out); n > 0 && out[n-1].kind == textNode {
			out[n-1].text += t
			return
		}
		out = append(out, node{kind: textNode, text: t})
	}

	for sc.i < len(sc.s) {
		c := sc.s[sc.i]
		switch {
		case c == '}':
			if closing != '}' {
				return nil, fmt.Errorf("unbalanced '}'")
			}
			sc.i++
			return out, nil
		case c == '{':
			sc.i++
			group, err := sc.nodes('}')
			if err != nil {
				return nil, err
			}
			out = append(out, group...)
		case c == '\\':
			n, text, err := sc.command()
			if err != nil {
				return nil, err
			}
			if n != nil {
				out = append(out, *n)
			} else if text != "" {
				appendText(text)
			}
		default:
			r, size := utf8.DecodeRuneInString(sc.s[sc.i:])
			sc.i += size
			if !unicode.IsSpace(r) {
				appendText(string(r))
			}
		}
	}
	if closing != 0 {
		return nil, fmt.Errorf("missing '%c'", closing)
	}
	return out, nil
}

// command parses a backslash command and returns either a structural node
// or replacement text.
func (sc *scanner) command() (*node, string, error) {
	sc.i++ // backslash
	start := sc.i
	for sc.i < len(sc.s) && isLetter(sc.s[sc.i]) {
		sc.i++
	}
	name := sc.s[start:sc.i]
	if name == "" {
		if sc.i >= len(sc.s) {
			return nil, "", fmt.Errorf("dangling backslash")
		}
		// Escaped single character such as \{ or \,.
		r, size := utf8.DecodeRuneInString(sc.s[sc.i:])
		sc.i += size
		if r == ',' || r == ';' || r == ' ' {
			return nil, "", nil
		}
		return nil, string(r), nil
	}

	switch name {
	case "times":
		return nil, "×", nil
	case "div":
		return nil, "÷", nil
	case "cdot":
		return nil, "·", nil
	case "hspace":
		arg, err := sc.delimited('{', '}')
		if err != nil {
			return nil, "", fmt.Errorf("\\hspace: %w", err)
		}
		em, err := parseEm(arg)
		if err != nil {
			return nil, "", fmt.Errorf("\\hspace: %w", err)
		}
		return &node{kind: spaceNode, em: em}, "", nil
	case "underline":
		if err := sc.expect('{'); err != nil {
			return nil, "", fmt.Errorf("\\underline: %w", err)
		}
		children, err := sc.nodes('}')
		if err != nil {
			return nil, "", err
		}
		return &node{kind: underlineNode, children: children}, "", nil
	case "makebox":
		arg, err := sc.delimited('[', ']')
		if err != nil {
			return nil, "", fmt.Errorf("\\makebox: %w", err)
		}
		em, err := parseEm(arg)
		if err != nil {
			return nil, "", fmt.Errorf("\\makebox: %w", err)
		}
		if err := sc.expect('{'); err != nil {
			return nil, "", fmt.Errorf("\\makebox: %w", err)
		}
		children, err := sc.nodes('}')
		if err != nil {
			return nil, "", err
		}
		return &node{kind: boxNode, em: em, children: children}, "", nil
	}
	return nil, "", fmt.Errorf("unknown command \\%s", name)
}

func (sc *scanner) skipSpace() {
	for sc.i < len(sc.s) && (sc.s[sc.i] == ' ' || sc.s[sc.i] == '\t' || sc.s[sc.i] == '\n') {
		sc.i++
	}
}

func (sc *scanner) expect(c byte) error {
	sc.skipSpace()
	if sc.i >= len(sc.s) || sc.s[sc.i] != c {
		return fmt.Errorf("expected '%c'", c)
	}
	sc.i++
	return nil
}

func (sc *scanner) delimited(open, close byte) (string, error) {
	if err := sc.expect(open); err != nil {
		return "", err
	}
	end := strings.IndexByte(sc.s[sc.i:], close)
	if end < 0 {
		return "", fmt.Errorf("missing '%c'", close)
	}
	arg := sc.s[sc.i : sc.i+end]
	sc.i += end + 1
	return arg, nil
}

func parseEm(arg string) (float64, error) {
	s := strings.TrimSpace(arg)
	if !strings.HasSuffix(s, "em") {
		return 0, fmt.Errorf("length %q must be in em", arg)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "em")), 64)
	if err != nil {
		return 0, fmt.Errorf("bad length %q", arg)
	}
	return v, nil
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
