package main

import (
	"bufio"
	"io"
	"strings"

	"github.com/ironsheep/stackalign/internal/calibrate"
)

// parseProblems reads one problem per line. A tab separates an optional id
// from the step sequence; blank lines and # comments are skipped.
func parseProblems(r io.Reader) ([]calibrate.Problem, error) {
	var problems []calibrate.Problem
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p := calibrate.Problem{Input: line}
		if id, input, ok := strings.Cut(line, "\t"); ok {
			p.ID = strings.TrimSpace(id)
			p.Input = strings.TrimSpace(input)
		}
		problems = append(problems, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return problems, nil
}
