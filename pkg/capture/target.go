package capture

import (
	"errors"
	"fmt"
	"regexp"
)

// DefaultPixelDensity is used when a target does not declare one.
const DefaultPixelDensity = 2

// ErrDuplicateName is returned when two targets would write the same artifact file.
var ErrDuplicateName = errors.New("duplicate target name")

// Viewport describes the browsing context a target is rendered in.
type Viewport struct {
	Width        int
	Height       int
	PixelDensity float64 // 0 means DefaultPixelDensity
}

// WithDefaults returns v with the default pixel density applied.
func (v Viewport) WithDefaults() Viewport {
	if v.PixelDensity <= 0 {
		v.PixelDensity = DefaultPixelDensity
	}
	return v
}

// Target is one screenshot request. Targets are built by the config layer and never mutated.
type Target struct {
	Name         string
	URL          string
	Viewport     Viewport
	FullPage     bool
	WaitSelector string
	WaitMillis   int
	Steps        []Step
	Group        string // explicit group label, used by the "group" grouping mode
}

// Step is one interaction performed on the page before capture.
// The set of implementations is closed: Click, Fill, Wait and WaitForSelector.
type Step interface {
	// Kind returns a short name for logs.
	Kind() string
	step()
}

// Click clicks the first element matching Selector.
type Click struct {
	Selector string
}

// Fill types Text into the element matching Selector, replacing its value.
type Fill struct {
	Selector string
	Text     string
}

// Wait pauses for Millis milliseconds. It never fails on its own.
type Wait struct {
	Millis int
}

// WaitForSelector waits until an element matching Selector is visible.
type WaitForSelector struct {
	Selector string
}

func (Click) Kind() string           { return "click" }
func (Fill) Kind() string            { return "fill" }
func (Wait) Kind() string            { return "wait" }
func (WaitForSelector) Kind() string { return "wait_for_selector" }

func (Click) step()           {}
func (Fill) step()            {}
func (Wait) step()            {}
func (WaitForSelector) step() {}

// Artifact is a captured image on local disk for one (target, engine) pair.
type Artifact struct {
	TargetName string
	EngineName string
	LocalPath  string
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName returns the artifact file name for a target captured by engine.
func FileName(targetName, engineName string) string {
	return sanitize(targetName) + "-" + sanitize(engineName) + ".png"
}

func sanitize(s string) string {
	return unsafeChars.ReplaceAllString(s, "-")
}

// ValidateTargets rejects targets whose names are empty or would collide on disk.
func ValidateTargets(targets []Target) error {
	seen := make(map[string]string, len(targets))
	for i, t := range targets {
		if t.Name == "" {
			return fmt.Errorf("target %d: name is empty", i)
		}
		key := sanitize(t.Name)
		if prev, ok := seen[key]; ok {
			if prev == t.Name {
				return fmt.Errorf("%w: %q", ErrDuplicateName, t.Name)
			}
			return fmt.Errorf("%w: %q and %q map to the same file name", ErrDuplicateName, prev, t.Name)
		}
		seen[key] = t.Name
	}
	return nil
}
