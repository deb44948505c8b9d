// Package config loads the prshot configuration file and turns its tolerant
// input shapes into validated capture targets.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/root4loot/goutils/urlutil"
	"github.com/root4loot/prshot/pkg/capture"
	"github.com/root4loot/prshot/pkg/comment"
	"github.com/root4loot/prshot/pkg/publish"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = ".prshot.yml"

// Presets are the viewports accepted by name.
var Presets = map[string]capture.Viewport{
	"desktop": {Width: 1440, Height: 900},
	"tablet":  {Width: 768, Height: 1024},
	"mobile":  {Width: 375, Height: 812},
}

// Config is the normalized configuration. Nothing past this type sees the raw file shape.
type Config struct {
	BaseURL     string
	Browsers    []string
	Targets     []capture.Target
	Branch      string
	RawBaseURL  string
	Comment     comment.Options
	FailOnEmpty bool
	Caption     bool
	Parallel    bool
}

type rawConfig struct {
	BaseURL     string      `yaml:"base_url"`
	Browsers    []string    `yaml:"browsers"`
	Targets     []rawTarget `yaml:"targets"`
	Output      rawOutput   `yaml:"output"`
	FailOnEmpty *bool       `yaml:"fail_on_empty"`
	Caption     bool        `yaml:"caption"`
	Parallel    bool        `yaml:"parallel"`
}

type rawOutput struct {
	Branch     string     `yaml:"branch"`
	RawBaseURL string     `yaml:"raw_base_url"`
	Comment    rawComment `yaml:"comment"`
}

type rawComment struct {
	GroupBy string `yaml:"group_by"`
	Title   string `yaml:"title"`
	Intro   string `yaml:"intro"`
	Footer  *bool  `yaml:"footer"`
}

type rawTarget struct {
	Name         string      `yaml:"name"`
	URL          string      `yaml:"url"`
	Viewport     yaml.Node   `yaml:"viewport"`
	FullPage     bool        `yaml:"full_page"`
	WaitSelector string      `yaml:"wait_selector"`
	WaitMillis   int         `yaml:"wait_millis"`
	Steps        []yaml.Node `yaml:"steps"`
	Group        string      `yaml:"group"`
}

type rawViewport struct {
	Width             int     `yaml:"width"`
	Height            int     `yaml:"height"`
	PixelDensity      float64 `yaml:"pixel_density"`
	DeviceScaleFactor float64 `yaml:"device_scale_factor"`
}

type rawFill struct {
	Selector string `yaml:"selector"`
	Text     string `yaml:"text"`
	Value    string `yaml:"value"`
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document. Keys may be written in snake_case or camelCase.
func Parse(data []byte) (*Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, errors.New("config is empty")
	}
	foldKeys(&doc)

	var raw rawConfig
	if err := doc.Content[0].Decode(&raw); err != nil {
		return nil, err
	}
	return normalize(raw)
}

func normalize(raw rawConfig) (*Config, error) {
	cfg := &Config{
		BaseURL:     strings.TrimSpace(raw.BaseURL),
		Browsers:    raw.Browsers,
		Branch:      raw.Output.Branch,
		RawBaseURL:  raw.Output.RawBaseURL,
		FailOnEmpty: raw.FailOnEmpty == nil || *raw.FailOnEmpty,
		Caption:     raw.Caption,
		Parallel:    raw.Parallel,
	}
	cfg.Browsers = Browsers(cfg.Browsers)
	if len(cfg.Browsers) == 0 {
		cfg.Browsers = []string{capture.DefaultEngine}
	}
	if cfg.Branch == "" {
		cfg.Branch = publish.DefaultBranch
	}
	if cfg.RawBaseURL == "" {
		cfg.RawBaseURL = publish.DefaultRawBaseURL
	}

	groupBy, err := comment.ParseGroupBy(raw.Output.Comment.GroupBy)
	if err != nil {
		return nil, err
	}
	cfg.Comment = *comment.DefaultOptions()
	cfg.Comment.GroupBy = groupBy
	if raw.Output.Comment.Title != "" {
		cfg.Comment.Title = raw.Output.Comment.Title
	}
	cfg.Comment.Intro = raw.Output.Comment.Intro
	if raw.Output.Comment.Footer != nil {
		cfg.Comment.Footer = *raw.Output.Comment.Footer
	}

	if len(raw.Targets) == 0 {
		return nil, errors.New("no targets configured")
	}
	for i, rt := range raw.Targets {
		t, err := normalizeTarget(rt, cfg.BaseURL)
		if err != nil {
			name := rt.Name
			if name == "" {
				name = "#" + strconv.Itoa(i+1)
			}
			return nil, fmt.Errorf("target %s: %w", name, err)
		}
		cfg.Targets = append(cfg.Targets, t)
	}

	if err := capture.ValidateTargets(cfg.Targets); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Browsers lower-cases engine ids and drops blanks and repeats, keeping first-seen order.
func Browsers(names []string) []string {
	var out []string
	seen := make(map[string]bool, len(names))
	for _, b := range names {
		b = strings.ToLower(strings.TrimSpace(b))
		if b != "" && !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	return out
}

func normalizeTarget(rt rawTarget, baseURL string) (capture.Target, error) {
	t := capture.Target{
		Name:         strings.TrimSpace(rt.Name),
		FullPage:     rt.FullPage,
		WaitSelector: rt.WaitSelector,
		WaitMillis:   rt.WaitMillis,
		Group:        rt.Group,
	}
	if t.WaitMillis < 0 {
		return t, fmt.Errorf("wait_millis must not be negative")
	}

	var err error
	if t.URL, err = resolveURL(baseURL, rt.URL); err != nil {
		return t, err
	}
	if t.Viewport, err = parseViewport(&rt.Viewport); err != nil {
		return t, err
	}
	for i := range rt.Steps {
		s, err := parseStep(&rt.Steps[i])
		if err != nil {
			return t, fmt.Errorf("step %d: %w", i+1, err)
		}
		t.Steps = append(t.Steps, s)
	}
	return t, nil
}

// resolveURL joins relative target URLs onto baseURL. URLs with a scheme are kept as is.
func resolveURL(baseURL, target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", errors.New("url is empty")
	}
	if urlutil.HasScheme(target) {
		return target, nil
	}
	if baseURL == "" {
		return "", fmt.Errorf("relative url %q needs base_url", target)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base_url: %w", err)
	}
	ref, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", target, err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	ref.Path = strings.TrimPrefix(ref.Path, "/")
	return base.ResolveReference(ref).String(), nil
}

// parseViewport accepts a preset name, "WIDTHxHEIGHT[@DENSITY]" or a mapping.
// A missing viewport means the desktop preset.
func parseViewport(n *yaml.Node) (capture.Viewport, error) {
	switch n.Kind {
	case 0:
		return Presets["desktop"], nil
	case yaml.ScalarNode:
		return parseViewportString(n.Value)
	case yaml.MappingNode:
		var rv rawViewport
		if err := n.Decode(&rv); err != nil {
			return capture.Viewport{}, err
		}
		v := capture.Viewport{Width: rv.Width, Height: rv.Height, PixelDensity: rv.PixelDensity}
		if v.PixelDensity == 0 {
			v.PixelDensity = rv.DeviceScaleFactor
		}
		return v, checkViewport(v)
	}
	return capture.Viewport{}, fmt.Errorf("line %d: viewport must be a string or a mapping", n.Line)
}

func parseViewportString(s string) (capture.Viewport, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if v, ok := Presets[s]; ok {
		return v, nil
	}

	var v capture.Viewport
	size, density, hasDensity := strings.Cut(s, "@")
	w, h, ok := strings.Cut(size, "x")
	if !ok {
		return v, fmt.Errorf("invalid viewport %q (expected desktop, tablet, mobile or WIDTHxHEIGHT)", s)
	}

	var err error
	if v.Width, err = strconv.Atoi(strings.TrimSpace(w)); err != nil {
		return v, fmt.Errorf("invalid viewport width in %q", s)
	}
	if v.Height, err = strconv.Atoi(strings.TrimSpace(h)); err != nil {
		return v, fmt.Errorf("invalid viewport height in %q", s)
	}
	if hasDensity {
		if v.PixelDensity, err = strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(density), "x"), 64); err != nil {
			return v, fmt.Errorf("invalid pixel density in %q", s)
		}
	}
	return v, checkViewport(v)
}

func checkViewport(v capture.Viewport) error {
	if v.Width <= 0 || v.Height <= 0 {
		return fmt.Errorf("viewport %dx%d must have a positive size", v.Width, v.Height)
	}
	if v.PixelDensity < 0 {
		return fmt.Errorf("pixel density must not be negative")
	}
	return nil
}

// parseStep decodes a single-key mapping into one of the step variants.
func parseStep(n *yaml.Node) (capture.Step, error) {
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: a step must be a mapping", n.Line)
	}
	if len(n.Content) != 2 {
		var keys []string
		for i := 0; i < len(n.Content); i += 2 {
			keys = append(keys, n.Content[i].Value)
		}
		return nil, fmt.Errorf("line %d: a step needs exactly one action, got [%s]", n.Line, strings.Join(keys, ", "))
	}

	key, value := n.Content[0].Value, n.Content[1]
	switch key {
	case "click":
		var sel string
		if err := value.Decode(&sel); err != nil || sel == "" {
			return nil, fmt.Errorf("line %d: click needs a selector", value.Line)
		}
		return capture.Click{Selector: sel}, nil
	case "fill":
		var f rawFill
		if err := value.Decode(&f); err != nil || f.Selector == "" {
			return nil, fmt.Errorf("line %d: fill needs a selector and text", value.Line)
		}
		if f.Text == "" {
			f.Text = f.Value
		}
		return capture.Fill{Selector: f.Selector, Text: f.Text}, nil
	case "wait":
		var ms int
		if err := value.Decode(&ms); err != nil || ms < 0 {
			return nil, fmt.Errorf("line %d: wait needs a non-negative number of milliseconds", value.Line)
		}
		return capture.Wait{Millis: ms}, nil
	case "wait_for_selector":
		var sel string
		if err := value.Decode(&sel); err != nil || sel == "" {
			return nil, fmt.Errorf("line %d: wait_for_selector needs a selector", value.Line)
		}
		return capture.WaitForSelector{Selector: sel}, nil
	}
	return nil, fmt.Errorf("line %d: unknown step %q", n.Line, key)
}

// foldKeys rewrites every mapping key to snake_case in place.
func foldKeys(n *yaml.Node) {
	if n.Kind == yaml.MappingNode {
		for i := 0; i < len(n.Content); i += 2 {
			n.Content[i].Value = snakeCase(n.Content[i].Value)
		}
	}
	for _, c := range n.Content {
		foldKeys(c)
	}
}

// snakeCase converts camelCase to snake_case, keeping acronyms together:
// "fullPage" becomes "full_page", "baseURL" becomes "base_url".
func snakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]))
			acronymEnd := i > 0 && unicode.IsUpper(runes[i-1]) && i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || acronymEnd {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		if r == '-' {
			r = '_'
		}
		b.WriteRune(r)
	}
	return b.String()
}
