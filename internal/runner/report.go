package runner

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// Fence delimits the report so the UI can render it as a code block.
const Fence = "```"

// Normalize removes ANSI escape sequences and remaining control bytes. Newlines
// and tabs survive; CRLF becomes LF.
func Normalize(raw string) string {
	s := ansi.Strip(raw)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, s)
}

// Report renders raw test output as a fenced block.
func Report(raw string) string {
	return Fence + "\n" + strings.TrimSpace(Normalize(raw)) + "\n" + Fence
}
