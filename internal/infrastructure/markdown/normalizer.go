// Package markdown normalizes model output before it reaches chat clients.
// Models mix bullet glyphs, glue lists onto paragraphs, and pad sections with
// blank-line runs; this pass makes the markdown render consistently without
// touching the meaning. Fenced code blocks pass through verbatim.
package markdown

import (
	"regexp"
	"strings"
)

type listKind int

const (
	listNone listKind = iota
	listBullet
	listOrdered
)

var (
	fenceRe   = regexp.MustCompile("^\\s*(```|~~~)")
	bulletRe  = regexp.MustCompile(`^(\s*)[-*•]\s+(.*)$`)
	orderedRe = regexp.MustCompile(`^(\s*)(\d+)([.)])\s+(.*)$`)
	headerRe  = regexp.MustCompile(`^#{1,6}\s`)
)

// Normalize rewrites the text line by line:
//
//   - bullet markers (-, *, •) become "- "
//   - ordered-list numbering is preserved as written
//   - a blank line is inserted before a list that follows prose
//   - headers get a blank line on both sides
//   - runs of four or more blank lines collapse to three
func Normalize(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines)+8)

	inCode := false
	list := listNone
	blanks := 0

	flushBlanks := func() {
		if blanks > 3 {
			blanks = 3
		}
		for ; blanks > 0; blanks-- {
			out = append(out, "")
		}
	}

	lastNonBlankIsProse := func() bool {
		for i := len(out) - 1; i >= 0; i-- {
			line := out[i]
			if strings.TrimSpace(line) == "" {
				return false
			}
			return !bulletRe.MatchString(line) && !orderedRe.MatchString(line) && !headerRe.MatchString(line)
		}
		return false
	}

	for _, line := range lines {
		if fenceRe.MatchString(line) {
			flushBlanks()
			inCode = !inCode
			list = listNone
			out = append(out, line)
			continue
		}
		if inCode {
			flushBlanks()
			out = append(out, line)
			continue
		}

		if strings.TrimSpace(line) == "" {
			blanks++
			list = listNone
			continue
		}

		switch {
		case headerRe.MatchString(strings.TrimSpace(line)):
			if blanks == 0 && len(out) > 0 {
				blanks = 1
			}
			flushBlanks()
			out = append(out, strings.TrimRight(line, " \t"))
			blanks = 1
			list = listNone

		case bulletRe.MatchString(line):
			if list == listNone && blanks == 0 && lastNonBlankIsProse() {
				blanks = 1
			}
			flushBlanks()
			m := bulletRe.FindStringSubmatch(line)
			out = append(out, m[1]+"- "+m[2])
			list = listBullet

		case orderedRe.MatchString(line):
			if list == listNone && blanks == 0 && lastNonBlankIsProse() {
				blanks = 1
			}
			flushBlanks()
			m := orderedRe.FindStringSubmatch(line)
			out = append(out, m[1]+m[2]+". "+m[4])
			list = listOrdered

		default:
			flushBlanks()
			out = append(out, line)
			list = listNone
		}
	}

	return strings.TrimRight(strings.Join(out, "\n"), "\n")
}
