package spec

import (
	"fmt"
	"regexp"
	"strings"
)

// ParseWarning is a recoverable problem found while scanning a document.
// Parsing never fails; malformed lines are skipped and reported here.
type ParseWarning struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

func (w ParseWarning) String() string {
	if w.Line > 0 {
		return fmt.Sprintf("line %d: %s", w.Line, w.Message)
	}
	return w.Message
}

var (
	fencePattern   = regexp.MustCompile("^\\s*(```|~~~)")
	headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	storyHeading   = regexp.MustCompile(`(?i)^(US-?\d+)\b[\s:.\-–]*(.*)$`)
)

// lineBuffer holds a document split on '\n'. Carriage returns stay attached
// to their line so that joining restores the original bytes exactly.
type lineBuffer struct {
	lines []string
}

func newLineBuffer(content string) lineBuffer {
	return lineBuffer{lines: strings.Split(content, "\n")}
}

// text returns line i (0-based) without a trailing carriage return.
func (b lineBuffer) text(i int) string {
	return strings.TrimSuffix(b.lines[i], "\r")
}

func (b lineBuffer) String() string {
	return strings.Join(b.lines, "\n")
}

// setMarker rewrites the single byte at col on line i (0-based).
func (b lineBuffer) setMarker(i, col int, marker byte) bool {
	if i < 0 || i >= len(b.lines) {
		return false
	}
	line := b.lines[i]
	if col < 0 || col >= len(line) || line[col] == marker {
		return false
	}
	b.lines[i] = line[:col] + string(marker) + line[col+1:]
	return true
}

// heading parses a markdown heading into its level and text.
func heading(line string) (int, string, bool) {
	m := headingPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, "", false
	}
	return len(m[1]), strings.TrimSpace(m[2]), true
}

// splitIDList splits "AC-US1-01, AC-US1-02 AC-US2-01" style lists.
func splitIDList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "`*[]()")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
