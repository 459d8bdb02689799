package cli

import "github.com/mitchellh/go-wordwrap"

// terminalWidth is a conservative default for wrapping long domain-error
// messages (resolver UNSAT explanations in particular can run long) when
// printed to an interactive terminal.
const terminalWidth = 78

// FormatError renders err for terminal display, wrapping long single-line
// messages (e.g. resolver conflict explanations) to terminalWidth columns
// rather than letting them run off the edge of the screen.
func FormatError(err error) string {
	if err == nil {
		return ""
	}
	return wordwrap.WrapString(err.Error(), terminalWidth)
}
