// Package comment renders the pull request comment that shows a run's
// screenshots, and replaces the previous one on later runs.
package comment

import (
	"fmt"
	"strings"

	"github.com/root4loot/prshot/pkg/capture"
	"github.com/root4loot/prshot/pkg/publish"
)

// Marker is embedded in every rendered body so a later run can find and
// replace the comment instead of adding another one.
const Marker = "<!-- prshot:screenshots -->"

const (
	// DefaultTitle heads the comment.
	DefaultTitle = "📸 Screenshots"
	projectURL   = "https://github.com/root4loot/prshot"
)

// Options contains options for the Renderer.
type Options struct {
	GroupBy GroupBy
	Title   string // Heading of the comment
	Intro   string // Optional paragraph below the heading
	Footer  bool   // Add an attribution line
}

// DefaultOptions returns default options.
func DefaultOptions() *Options {
	return &Options{
		GroupBy: GroupByViewport,
		Title:   DefaultTitle,
		Footer:  true,
	}
}

// Missing is a (target, engine) pair that produced no screenshot.
type Missing struct {
	TargetName string
	EngineName string
}

// Report is everything a comment is rendered from.
type Report struct {
	Targets   []capture.Target
	Published []publish.PublishedArtifact
	Missing   []Missing
	Run       publish.RunContext // optional, only used in the footer
}

// Renderer turns a Report into a markdown comment body.
type Renderer struct {
	Options *Options
}

// NewRenderer returns a Renderer. A nil options uses DefaultOptions.
func NewRenderer(options *Options) *Renderer {
	if options == nil {
		options = DefaultOptions()
	}
	if options.GroupBy == "" {
		options.GroupBy = GroupByViewport
	}
	return &Renderer{Options: options}
}

type entry struct {
	target    capture.Target
	published publish.PublishedArtifact
}

// Render returns the comment body. The output depends only on r.Options and
// the report, so equal inputs always render byte-identical bodies.
func (r *Renderer) Render(report Report) string {
	var b strings.Builder

	b.WriteString(Marker)
	b.WriteString("\n")

	title := r.Options.Title
	if title == "" {
		title = DefaultTitle
	}
	fmt.Fprintf(&b, "## %s\n\n", title)
	if r.Options.Intro != "" {
		b.WriteString(strings.TrimSpace(r.Options.Intro))
		b.WriteString("\n\n")
	}

	keys, groups := r.group(report)
	if len(keys) == 0 {
		b.WriteString("_No screenshots were captured._\n\n")
	}

	for _, key := range keys {
		if key != "" {
			fmt.Fprintf(&b, "### %s\n\n", escape(key))
		}
		for _, e := range groups[key] {
			writeEntry(&b, e)
		}
	}

	if len(report.Missing) > 0 {
		b.WriteString("<details>\n<summary>Failed captures</summary>\n\n")
		for _, m := range report.Missing {
			fmt.Fprintf(&b, "- %s · %s\n", escape(m.TargetName), escape(m.EngineName))
		}
		b.WriteString("\n</details>\n\n")
	}

	if r.Options.Footer {
		fmt.Fprintf(&b, "<sub>Generated by [prshot](%s)", projectURL)
		if report.Run.ID() != "" && !report.Run.Timestamp.IsZero() {
			fmt.Fprintf(&b, " · %s · %s", report.Run.Prefix(), report.Run.Stamp())
		}
		b.WriteString("</sub>\n")
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

// group assigns published artifacts to buckets. Entries keep target declaration
// order; artifacts for unknown targets follow in the order they were published.
// A (target, engine) pair is rendered once, from its first published artifact.
func (r *Renderer) group(report Report) ([]string, map[string][]entry) {
	type pair struct{ target, engine string }
	var published []publish.PublishedArtifact
	seenPair := make(map[pair]bool, len(report.Published))
	for _, p := range report.Published {
		key := pair{p.TargetName, p.EngineName}
		if !seenPair[key] {
			seenPair[key] = true
			published = append(published, p)
		}
	}

	byTarget := make(map[string][]publish.PublishedArtifact)
	for _, p := range published {
		byTarget[p.TargetName] = append(byTarget[p.TargetName], p)
	}

	var ordered []entry
	declared := make(map[string]bool, len(report.Targets))
	for _, t := range report.Targets {
		declared[t.Name] = true
		for _, p := range byTarget[t.Name] {
			ordered = append(ordered, entry{target: t, published: p})
		}
	}
	for _, p := range published {
		if !declared[p.TargetName] {
			ordered = append(ordered, entry{target: capture.Target{Name: p.TargetName}, published: p})
		}
	}

	groups := make(map[string][]entry)
	var seen []string
	for _, e := range ordered {
		key := groupKey(r.Options.GroupBy, e.target, e.published.EngineName)
		if _, ok := groups[key]; !ok {
			seen = append(seen, key)
		}
		groups[key] = append(groups[key], e)
	}

	return orderKeys(r.Options.GroupBy, seen), groups
}

// orderKeys fixes the order of buckets: viewport classes from large to small,
// other modes by first appearance, the default bucket always last.
func orderKeys(mode GroupBy, seen []string) []string {
	var keys []string
	if mode == GroupByViewport {
		for _, k := range []string{Desktop, Tablet, Mobile} {
			if contains(seen, k) {
				keys = append(keys, k)
			}
		}
	} else {
		for _, k := range seen {
			if k != DefaultGroup {
				keys = append(keys, k)
			}
		}
	}
	if contains(seen, DefaultGroup) {
		keys = append(keys, DefaultGroup)
	}
	return keys
}

func writeEntry(b *strings.Builder, e entry) {
	name := escape(e.target.Name)
	engine := escape(e.published.EngineName)

	fmt.Fprintf(b, "#### %s · %s\n\n", name, engine)
	if steps := DescribeSteps(e.target.Steps); steps != "" {
		fmt.Fprintf(b, "<sub>Steps: %s</sub>\n\n", steps)
	}
	fmt.Fprintf(b, "![%s (%s)](%s)\n\n", name, engine, e.published.PublicURL)
}

func escape(s string) string {
	return publish.EscapeMarkdown(s)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
