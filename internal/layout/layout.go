// Package layout turns a calibration step into the array markup the renderer
// draws.
//
// The table always has five right-aligned columns:
//
//	leftMain | leftOp | leftSecond | = | right
//
// Row one is the starting equation, row two the operation, and the last row
// the resulting equation. Which column carries the operation text depends on
// the resolved target term. Offsets from the spacing state are written as
// \hspace shifts so that they move text without resizing columns.
package layout

import (
	"fmt"
	"strings"

	"github.com/ironsheep/stackalign/internal/equation"
	"github.com/ironsheep/stackalign/internal/spacing"
)

// ColumnSpec is the alignment spec of the generated array.
const ColumnSpec = "rcrcr"

// Columns in the generated array.
const (
	ColLeftMain = iota
	ColLeftOp
	ColLeftSecond
	ColEquals
	ColRight
	numColumns
)

type row [numColumns]string

// Generate builds the layout string for one step. It has no side effects:
// identical arguments always produce identical markup.
func Generate(from, to equation.Equation, op equation.Operation, s spacing.State, target equation.Target) string {
	var rows []string
	if op.Multiplicative() {
		rows = multiplicativeRows(from, to, op, s, target)
	} else {
		rows = additiveRows(from, to, op, s, target)
	}

	var sb strings.Builder
	sb.WriteString(`\begin{array}{` + ColumnSpec + "}\n")
	sb.WriteString(strings.Join(rows, " \\\\\n"))
	sb.WriteString("\n\\end{array}")
	return sb.String()
}

func additiveRows(from, to equation.Equation, op equation.Operation, s spacing.State, target equation.Target) []string {
	opCol := ColLeftMain
	if target.Term == equation.Term2 {
		opCol = ColLeftSecond
	}

	var opRow row
	opRow[opCol] = Hspace(s.LeftOp) + Text(op.Text())
	opRow[ColRight] = Hspace(s.RightOp) + Text(op.Text())

	result := equationRow(to, survivorColumn(to, target))
	result[ColRight] = Hspace(s.Result) + Text(to.Right)

	return []string{
		equationRow(from, ColLeftMain).String(),
		opRow.String(),
		`\hline` + "\n" + result.String(),
	}
}

func multiplicativeRows(from, to equation.Equation, op equation.Operation, s spacing.State, target equation.Target) []string {
	col := ColLeftMain
	if target.Term == equation.Term2 {
		col = ColLeftSecond
	}
	divisor := Text(op.Text())
	leftW := BoxWidth(from.Left(), op.Text())
	rightW := BoxWidth(from.Right, op.Text())

	var top, mid, bottom row
	top[col] = Underline(Makebox(leftW, Text(from.Left())))
	top[ColEquals] = "="
	top[ColRight] = Underline(Makebox(rightW, Text(from.Right)))

	mid[col] = Makebox(leftW, Hspace(s.LeftOp)+divisor)
	mid[ColRight] = Makebox(rightW, Hspace(s.RightOp)+divisor)

	bottom[col] = Makebox(leftW, Text(to.Left()))
	bottom[ColEquals] = "="
	bottom[ColRight] = Makebox(rightW, Hspace(s.Result)+Text(to.Right))

	return []string{top.String(), mid.String(), bottom.String()}
}

// equationRow places an equation's terms starting at column first. A split
// left side always occupies the first three columns.
func equationRow(eq equation.Equation, first int) row {
	var r row
	if eq.HasSecondTerm() {
		r[ColLeftMain] = Text(eq.LeftMain)
		r[ColLeftOp] = Text(eq.LeftOp)
		r[ColLeftSecond] = Text(eq.LeftSecond)
	} else {
		r[first] = Text(eq.LeftMain)
	}
	r[ColEquals] = "="
	r[ColRight] = Text(eq.Right)
	return r
}

// survivorColumn is where a single remaining left term goes after the
// target term cancels: under the term that was not targeted.
func survivorColumn(to equation.Equation, target equation.Target) int {
	if to.HasSecondTerm() || target.Term == equation.Term2 {
		return ColLeftMain
	}
	return ColLeftSecond
}

func (r row) String() string {
	return strings.Join(r[:], " & ")
}

// BoxWidth is the placeholder width, in em, for a numerator and divisor:
// the longer of the two plus one em of margin per side.
func BoxWidth(numerator, divisor string) int {
	n, d := len([]rune(numerator)), len([]rune(divisor))
	if d > n {
		n = d
	}
	return n + 2
}

// Hspace formats a horizontal shift. Zero shifts are omitted.
func Hspace(em float64) string {
	if em == 0 {
		return ""
	}
	return fmt.Sprintf(`\hspace{%.3fem}`, em)
}

// Underline wraps content in an underline.
func Underline(content string) string {
	return `\underline{` + content + `}`
}

// Makebox wraps content in a fixed-width, centered box.
func Makebox(widthEm int, content string) string {
	return fmt.Sprintf(`\makebox[%dem]{%s}`, widthEm, content)
}

// Text escapes operator glyphs into their markup commands.
func Text(s string) string {
	r := strings.NewReplacer("×", `\times `, "÷", `\div `, "*", `\times `, "/", `\div `)
	return r.Replace(s)
}
