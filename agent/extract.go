package agent

import (
	"regexp"
	"strings"
)

// codeBlock matches the first fenced code block, tolerating an optional
// language tag after the opening fence.
var codeBlock = regexp.MustCompile("(?s)```[a-zA-Z0-9_+-]*\\s*\\n(.*?)```")

// ExtractCodeBlock returns the body of the first fenced code block in text.
// Models asked for structured output often wrap it in a fence; when they
// don't, the trimmed text itself is returned.
func ExtractCodeBlock(text string) string {
	if m := codeBlock.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}
