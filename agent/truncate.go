package agent

import (
	"fmt"
	"strings"
)

// DefaultToolOutputLimit bounds how many characters of a tool result are
// fed back to the model. The full output still travels on the event stream.
const DefaultToolOutputLimit = 30000

// DefaultToolLineLimit bounds how many lines survive after character
// truncation.
const DefaultToolLineLimit = 256

// TruncateOutput applies head/tail character truncation to tool output.
func TruncateOutput(output string, maxChars int) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}
	half := maxChars / 2
	removed := len(output) - maxChars
	return output[:half] +
		fmt.Sprintf("\n\n[WARNING: Tool output was truncated. %d characters were removed from the middle. "+
			"Re-run the tool with more targeted parameters if you need the rest.]\n\n", removed) +
		output[len(output)-half:]
}

// TruncateLines applies line-based truncation using a head/tail split.
func TruncateLines(output string, maxLines int) string {
	if maxLines <= 0 {
		return output
	}
	lines := strings.Split(output, "\n")
	if len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// TruncateToolOutput applies character truncation first, then line
// truncation.
func TruncateToolOutput(output string, maxChars, maxLines int) string {
	if maxChars == 0 {
		maxChars = DefaultToolOutputLimit
	}
	if maxLines == 0 {
		maxLines = DefaultToolLineLimit
	}
	return TruncateLines(TruncateOutput(output, maxChars), maxLines)
}
