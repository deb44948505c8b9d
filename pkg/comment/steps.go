package comment

import (
	"fmt"
	"strings"

	"github.com/root4loot/prshot/pkg/capture"
)

// redacted replaces typed text, which may be a credential.
const redacted = "•••"

// DescribeSteps renders steps as a short sentence, e.g.
// "clicks `#menu`, fills `#email` with `•••`, waits 500ms".
func DescribeSteps(steps []capture.Step) string {
	parts := make([]string, 0, len(steps))
	for _, s := range steps {
		switch s := s.(type) {
		case capture.Click:
			parts = append(parts, "clicks "+code(s.Selector))
		case capture.Fill:
			parts = append(parts, fmt.Sprintf("fills %s with %s", code(s.Selector), code(redacted)))
		case capture.Wait:
			parts = append(parts, fmt.Sprintf("waits %dms", s.Millis))
		case capture.WaitForSelector:
			parts = append(parts, "waits for "+code(s.Selector))
		}
	}
	return strings.Join(parts, ", ")
}

// code wraps s in a markdown code span, widening the fence when s contains backticks.
func code(s string) string {
	fence := "`"
	for strings.Contains(s, fence) {
		fence += "`"
	}
	if strings.HasPrefix(s, "`") || strings.HasSuffix(s, "`") {
		return fence + " " + s + " " + fence
	}
	return fence + s + fence
}
