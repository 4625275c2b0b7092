package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	ansiReset = "\033[0m"
	ansiRed   = "\033[31m"
	ansiBlue  = "\033[34m"
	ansiCyan  = "\033[36m"
	ansiGray  = "\033[90m"
	ansiBold  = "\033[1m"
)

var colorEnabled = true

// DisableColors turns off ANSI output, e.g. when stderr is not a terminal.
func DisableColors() { colorEnabled = false }

// EnableColors turns ANSI output back on.
func EnableColors() { colorEnabled = true }

func paint(code, text string) string {
	if !colorEnabled || text == "" {
		return text
	}
	return code + text + ansiReset
}

func red(text string) string  { return paint(ansiRed, text) }
func blue(text string) string { return paint(ansiBlue, text) }
func cyan(text string) string { return paint(ansiCyan, text) }
func gray(text string) string { return paint(ansiGray, text) }
func bold(text string) string { return paint(ansiBold, text) }

// textWidth is the wrap width of detail paragraphs.
const textWidth = 70

// Format renders the error for a terminal:
//
//	ERROR H003: Module body failed
//
//	  app.js  generation 4
//
//	  The module's body returned an error or panicked.
//
//	  Caused by:
//	    render: nil pointer
//
//	  Hint: ...
//	  Learn more: ...
func (e *HMRError) Format() string {
	var b strings.Builder

	title := "ERROR"
	if e.Code != "" {
		title += " " + e.Code
	}
	fmt.Fprintf(&b, "\n%s %s\n\n", red(bold(title+":")), bold(e.Message))

	if where := e.where(); where != "" {
		fmt.Fprintf(&b, "  %s\n\n", where)
	}
	if e.Location != nil && len(e.Context) > 0 {
		writeSource(&b, e.Location, e.Context)
	}
	for _, line := range wrapText(e.Detail, textWidth) {
		fmt.Fprintf(&b, "  %s\n", line)
	}
	if e.Detail != "" {
		b.WriteString("\n")
	}
	if causes := causeChain(e.Wrapped); len(causes) > 0 {
		fmt.Fprintf(&b, "  %s\n", gray("Caused by:"))
		for _, c := range causes {
			fmt.Fprintf(&b, "    %s\n", c)
		}
		b.WriteString("\n")
	}
	if e.Suggestion != "" {
		fmt.Fprintf(&b, "  %s%s\n\n", cyan("Hint: "), e.Suggestion)
	}
	if e.DocURL != "" {
		fmt.Fprintf(&b, "  %s%s\n", gray("Learn more: "), blue(e.DocURL))
	}
	return b.String()
}

// where renders the module and generation line.
func (e *HMRError) where() string {
	var parts []string
	if e.Location != nil {
		parts = append(parts, cyan(e.Location.String()))
	}
	if e.Generation != 0 {
		parts = append(parts, gray(fmt.Sprintf("generation %d", e.Generation)))
	}
	return strings.Join(parts, "  ")
}

// writeSource prints the lines around loc, marking loc's line and column.
func writeSource(b *strings.Builder, loc *Location, lines []string) {
	first := loc.Line - len(lines)/2
	for i, line := range lines {
		n := first + i
		marker := "  "
		if n == loc.Line {
			marker = red("→ ")
		}
		fmt.Fprintf(b, "  %s%4d%s%s\n", marker, n, gray(" │ "), line)
		if n == loc.Line && loc.Column > 0 {
			fmt.Fprintf(b, "        %s%s%s\n", gray("│ "), strings.Repeat(" ", loc.Column-1), red("^"))
		}
	}
	b.WriteString("\n")
}

// causeChain flattens err's unwrap chain into one message per link,
// trimming the text each link repeats from the next.
func causeChain(err error) []string {
	var out []string
	for err != nil {
		msg := err.Error()
		next := stderrors.Unwrap(err)
		if next != nil {
			msg = strings.TrimSuffix(strings.TrimSuffix(msg, next.Error()), ": ")
		}
		if msg != "" {
			out = append(out, msg)
		}
		err = next
	}
	return out
}

// FormatCompact returns a single line suitable for log fields:
// "location: CODE: message".
func (e *HMRError) FormatCompact() string {
	parts := make([]string, 0, 3)
	if e.Location != nil {
		parts = append(parts, e.Location.String())
	}
	if e.Code != "" {
		parts = append(parts, e.Code)
	}
	parts = append(parts, e.Message)
	return strings.Join(parts, ": ")
}

type jsonLocation struct {
	File   string `json:"file"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

type jsonError struct {
	Code       string        `json:"code,omitempty"`
	Category   Category      `json:"category"`
	Message    string        `json:"message"`
	Detail     string        `json:"detail,omitempty"`
	Location   *jsonLocation `json:"location,omitempty"`
	Generation uint64        `json:"generation,omitempty"`
	Causes     []string      `json:"causes,omitempty"`
	Suggestion string        `json:"suggestion,omitempty"`
	DocURL     string        `json:"docUrl,omitempty"`
}

// FormatJSON returns the error as a JSON object.
func (e *HMRError) FormatJSON() string {
	v := jsonError{
		Code:       e.Code,
		Category:   e.Category,
		Message:    e.Message,
		Detail:     e.Detail,
		Generation: e.Generation,
		Causes:     causeChain(e.Wrapped),
		Suggestion: e.Suggestion,
		DocURL:     e.DocURL,
	}
	if e.Location != nil {
		v.Location = &jsonLocation{File: e.Location.File, Line: e.Location.Line, Column: e.Location.Column}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"message":%q}`, e.Error())
	}
	return string(data)
}

// wrapText splits text into lines of at most width bytes, breaking on
// spaces. Words longer than width get a line of their own.
func wrapText(text string, width int) []string {
	var lines []string
	line := ""
	for _, word := range strings.Fields(text) {
		switch {
		case line == "":
			line = word
		case len(line)+1+len(word) > width:
			lines = append(lines, line)
			line = word
		default:
			line += " " + word
		}
	}
	if line != "" {
		lines = append(lines, line)
	}
	return lines
}

// Fprint writes err to w, formatted when it is an HMRError.
func Fprint(w io.Writer, err error) {
	var he *HMRError
	if stderrors.As(err, &he) {
		fmt.Fprint(w, he.Format())
		return
	}
	fmt.Fprintf(w, "\n%s %s\n\n", red(bold("ERROR:")), err)
}

// PrintError prints err to stderr.
func PrintError(err error) {
	Fprint(os.Stderr, err)
}
