// Package checklist finds checkbox task lines in free-form text and keeps
// a stable correlation marker on each of them.
//
// A task line looks like
//
//	- [ ] Water the plants @tomorrow <!-- task-id:0b9c... -->
//
// i.e. optional indentation, a list marker (-, *, + or "1." / "1)"), a
// checkbox with x for done, free text, an optional due expression after
// "@" or the word "due", and the marker comment this package maintains.
package checklist

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harrisonrobin/taskweave/pkg/dates"
	"github.com/harrisonrobin/taskweave/pkg/model"
)

const (
	commentOpen  = "<!--"
	commentClose = "-->"
	markerKey    = "task-id:"
)

// Result is the outcome of one parse.
type Result struct {
	Mentions []model.Mention
	// Text is the input with a marker on every recognised task line.
	Text string
}

// Parser extracts task mentions. The zero value is ready to use.
type Parser struct {
	// Now supplies the reference day for relative dates.
	Now func() time.Time
	// NewID mints correlation identities.
	NewID func() string
}

// Parse scans text line by line. Lines that are not tasks pass through
// unchanged.
func (p *Parser) Parse(text string) Result {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	newID := uuid.NewString
	if p.NewID != nil {
		newID = p.NewID
	}
	ref := dates.Reference(now())

	var (
		out      strings.Builder
		mentions []model.Mention
		seen     = make(map[string]bool)
	)
	out.Grow(len(text))

	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}
		body, eol := splitEOL(line)

		tl, ok := scanLine(body)
		if !ok {
			out.WriteString(line)
			continue
		}
		content, rawDue, due := splitDue(tl.text, ref)
		if content == "" {
			out.WriteString(line)
			continue
		}

		id := tl.id
		switch {
		case id == "":
			id = newID()
			body = strings.TrimRight(body, " \t") + " " + marker(id)
		case seen[id]:
			// a copied line; the copy gets its own identity
			fresh := newID()
			body = body[:tl.markerStart] + marker(fresh) + body[tl.markerEnd:]
			id = fresh
		}
		seen[id] = true

		start := out.Len()
		out.WriteString(body)
		mentions = append(mentions, model.Mention{
			InlineID: id,
			Content:  content,
			Done:     tl.done,
			RawDue:   rawDue,
			Due:      due,
			Start:    start,
			End:      out.Len(),
		})
		out.WriteString(eol)
	}

	return Result{Mentions: mentions, Text: out.String()}
}

// RemoveTasks returns text without the lines whose marker is in ids.
func RemoveTasks(text string, ids map[string]bool) string {
	var out strings.Builder
	out.Grow(len(text))
	for _, line := range strings.SplitAfter(text, "\n") {
		body, _ := splitEOL(line)
		if tl, ok := scanLine(body); ok && tl.id != "" && ids[tl.id] {
			continue
		}
		out.WriteString(line)
	}
	return out.String()
}

// StripMarkers removes every correlation marker from text.
func StripMarkers(text string) string {
	var out strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		body, eol := splitEOL(line)
		if _, start, end, ok := findMarker(body); ok {
			body = strings.TrimRight(body[:start], " \t") + body[end:]
		}
		out.WriteString(body)
		out.WriteString(eol)
	}
	return out.String()
}

func marker(id string) string {
	return commentOpen + " " + markerKey + id + " " + commentClose
}

type taskLine struct {
	done bool
	// text after the checkbox with the marker cut out
	text string
	id   string
	// marker position in the line, valid when id != ""
	markerStart int
	markerEnd   int
}

// scanLine walks marker -> checkbox -> content -> correlation comment.
func scanLine(s string) (taskLine, bool) {
	var tl taskLine
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	if i == len(s) {
		return tl, false
	}

	switch c := s[i]; {
	case c == '-' || c == '*' || c == '+':
		i++
	case isDigit(c):
		for i < len(s) && isDigit(s[i]) {
			i++
		}
		if i == len(s) || (s[i] != '.' && s[i] != ')') {
			return tl, false
		}
		i++
	default:
		return tl, false
	}

	if i == len(s) || (s[i] != ' ' && s[i] != '\t') {
		return tl, false
	}
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}

	if len(s)-i < 3 || s[i] != '[' || s[i+2] != ']' {
		return tl, false
	}
	switch s[i+1] {
	case 'x', 'X':
		tl.done = true
	case ' ':
	default:
		return tl, false
	}
	i += 3
	if i < len(s) && s[i] != ' ' && s[i] != '\t' {
		return tl, false
	}

	rest := s[i:]
	if id, start, end, ok := findMarker(rest); ok {
		tl.id = id
		tl.markerStart = i + start
		tl.markerEnd = i + end
		rest = rest[:start] + rest[end:]
	}
	tl.text = strings.TrimSpace(rest)
	return tl, true
}

// findMarker locates the first "<!-- task-id:... -->" comment in s.
func findMarker(s string) (id string, start, end int, ok bool) {
	from := 0
	for {
		open := strings.Index(s[from:], commentOpen)
		if open < 0 {
			return "", 0, 0, false
		}
		open += from
		closeAt := strings.Index(s[open+len(commentOpen):], commentClose)
		if closeAt < 0 {
			return "", 0, 0, false
		}
		closeAt += open + len(commentOpen)
		inner := strings.TrimSpace(s[open+len(commentOpen) : closeAt])
		if strings.HasPrefix(inner, markerKey) {
			if v := strings.TrimSpace(inner[len(markerKey):]); v != "" {
				return v, open, closeAt + len(commentClose), true
			}
		}
		from = closeAt + len(commentClose)
	}
}

// splitDue separates the content from a trailing due expression. The "@"
// delimiter always consumes its token; the word "due" only splits the line
// when what follows resolves, since it is an ordinary word otherwise.
func splitDue(text string, ref time.Time) (content, raw string, due *time.Time) {
	if at := lastDelimiter(text); at >= 0 {
		raw = strings.TrimSpace(text[at+1:])
		content = strings.TrimSpace(text[:at])
		if d, ok := dates.Resolve(raw, ref); ok {
			due = &d
		}
		return content, raw, due
	}

	lower := strings.ToLower(text)
	at := strings.LastIndex(lower, " due ")
	skip := len(" due ")
	if strings.HasPrefix(lower, "due ") {
		if at < 0 {
			at, skip = 0, len("due ")
		}
	}
	if at >= 0 {
		token := strings.TrimSpace(text[at+skip:])
		if d, ok := dates.Resolve(token, ref); ok {
			return strings.TrimSpace(text[:at]), token, &d
		}
	}
	return text, "", nil
}

// lastDelimiter finds the last "@" that starts a word.
func lastDelimiter(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '@' && (i == 0 || s[i-1] == ' ' || s[i-1] == '\t') {
			return i
		}
	}
	return -1
}

func splitEOL(line string) (body, eol string) {
	body = strings.TrimRight(line, "\r\n")
	return body, line[len(body):]
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
