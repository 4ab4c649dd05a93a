// Package prompt recognizes REPL input prompts in a session's display and
// uses them to delimit command output.
package prompt

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// DefaultPattern matches ROOT's interactive prompt, e.g. "root [3] ".
const DefaultPattern = `root \[\d+\] `

var (
	// ErrNoOutput is returned when the display holds fewer than two prompts,
	// so no complete command/output region exists yet.
	ErrNoOutput = errors.New("no complete output between prompts")

	// ErrNoPrompt is returned when prompt navigation finds nothing in the
	// requested direction.
	ErrNoPrompt = errors.New("no prompt found")
)

// Marker is a compiled prompt pattern.
type Marker struct {
	re *regexp.Regexp
}

// Compile builds a Marker from a regular expression. Patterns that can match
// the empty string are rejected since they would delimit every position.
func Compile(pattern string) (*Marker, error) {
	if pattern == "" {
		return nil, fmt.Errorf("prompt pattern is empty")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile prompt %q: %w", pattern, err)
	}
	if re.MatchString("") {
		return nil, fmt.Errorf("prompt pattern %q matches the empty string", pattern)
	}
	return &Marker{re: re}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(pattern string) *Marker {
	m, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Marker) String() string {
	return m.re.String()
}

// Count returns the number of prompts in display.
func (m *Marker) Count(display string) int {
	return len(m.re.FindAllStringIndex(display, -1))
}

// LastOutput returns the text between the two most recent prompts, with the
// first line (the echoed input) dropped.
func (m *Marker) LastOutput(display string) (string, error) {
	locs := m.re.FindAllStringIndex(display, -1)
	if len(locs) < 2 {
		return "", fmt.Errorf("%w: found %d prompt(s)", ErrNoOutput, len(locs))
	}
	between := display[locs[len(locs)-2][1]:locs[len(locs)-1][0]]
	nl := strings.IndexByte(between, '\n')
	if nl < 0 {
		return "", nil
	}
	return between[nl+1:], nil
}

// Previous returns the input position (end of the prompt text) of the
// nearest prompt whose input position lies strictly before from.
func (m *Marker) Previous(display string, from int) (int, error) {
	pos := -1
	for _, loc := range m.re.FindAllStringIndex(display, -1) {
		if loc[1] >= from {
			break
		}
		pos = loc[1]
	}
	if pos < 0 {
		return 0, ErrNoPrompt
	}
	return pos, nil
}

// Next returns the input position of the nearest prompt whose input
// position lies strictly after from.
func (m *Marker) Next(display string, from int) (int, error) {
	for _, loc := range m.re.FindAllStringIndex(display, -1) {
		if loc[1] > from {
			return loc[1], nil
		}
	}
	return 0, ErrNoPrompt
}

var collapser = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", "", "\t", "")

// Collapse turns a multi-line code region into one line for a line-oriented
// REPL: trailing line breaks are dropped, embedded newlines become single
// spaces, tabs and carriage returns are removed.
func Collapse(text string) string {
	return collapser.Replace(strings.TrimRight(text, "\r\n"))
}

// Clean strips terminal escape sequences and normalizes line endings so a
// raw terminal transcript can be matched line by line.
func Clean(raw string) string {
	s := ansi.Strip(raw)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "")
}
