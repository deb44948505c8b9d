package comment

import (
	"fmt"
	"strings"

	"github.com/root4loot/prshot/pkg/capture"
)

// GroupBy selects how entries are bucketed in the comment.
type GroupBy string

const (
	GroupByViewport GroupBy = "viewport"
	GroupByEngine   GroupBy = "engine"
	GroupByGroup    GroupBy = "group"
	GroupByNone     GroupBy = "none"
)

// Viewport classes, in rendering order.
const (
	Desktop = "Desktop"
	Tablet  = "Tablet"
	Mobile  = "Mobile"
)

// DefaultGroup collects entries that cannot be classified. It is rendered last.
const DefaultGroup = "Other"

// ParseGroupBy returns the GroupBy named by s. The empty string means viewport.
func ParseGroupBy(s string) (GroupBy, error) {
	switch g := GroupBy(strings.ToLower(strings.TrimSpace(s))); g {
	case "":
		return GroupByViewport, nil
	case GroupByViewport, GroupByEngine, GroupByGroup, GroupByNone:
		return g, nil
	}
	return "", fmt.Errorf("unknown group_by %q (expected viewport, engine, group or none)", s)
}

// ViewportClass classifies a target from its name first and its width second.
// It depends on nothing but its arguments.
func ViewportClass(name string, viewport capture.Viewport) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "desktop"):
		return Desktop
	case strings.Contains(lower, "tablet"):
		return Tablet
	case strings.Contains(lower, "mobile"):
		return Mobile
	}

	switch w := viewport.Width; {
	case w <= 0:
		return DefaultGroup
	case w < 768:
		return Mobile
	case w < 1024:
		return Tablet
	}
	return Desktop
}

// groupKey returns the bucket for one entry under mode.
func groupKey(mode GroupBy, t capture.Target, engine string) string {
	var key string
	switch mode {
	case GroupByViewport:
		key = ViewportClass(t.Name, t.Viewport)
	case GroupByEngine:
		key = engine
	case GroupByGroup:
		key = strings.TrimSpace(t.Group)
	case GroupByNone:
		return ""
	}
	if key == "" {
		return DefaultGroup
	}
	return key
}
