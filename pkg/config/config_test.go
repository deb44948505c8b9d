package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/root4loot/prshot/pkg/capture"
	"github.com/root4loot/prshot/pkg/comment"
)

const sample = `
baseUrl: https://shop.test/app
browsers: [Chromium, firefox]
targets:
  - name: home-desktop
    url: /
    viewport: desktop
  - name: pricing
    url: /pricing?plan=pro
    viewport: 1280x800@1.5
    fullPage: true
    waitSelector: "#plans"
    waitMillis: 250
  - name: signup-mobile
    url: https://auth.test/signup
    viewport: {width: 390, height: 844, deviceScaleFactor: 3}
    group: Auth
    steps:
      - click: "#open"
      - fill: {selector: "#email", text: "a@b.c"}
      - wait: 100
      - waitForSelector: ".done"
output:
  branch: shots
  comment:
    groupBy: group
    title: Visual changes
    footer: false
failOnEmpty: false
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if !reflect.DeepEqual(cfg.Browsers, []string{"chromium", "firefox"}) {
		t.Errorf("browsers = %v", cfg.Browsers)
	}
	if cfg.Branch != "shots" || cfg.FailOnEmpty {
		t.Errorf("branch=%s failOnEmpty=%v", cfg.Branch, cfg.FailOnEmpty)
	}
	if cfg.Comment.GroupBy != comment.GroupByGroup || cfg.Comment.Title != "Visual changes" || cfg.Comment.Footer {
		t.Errorf("comment options = %+v", cfg.Comment)
	}

	want := []capture.Target{
		{
			Name:     "home-desktop",
			URL:      "https://shop.test/app/",
			Viewport: capture.Viewport{Width: 1440, Height: 900},
		},
		{
			Name:         "pricing",
			URL:          "https://shop.test/app/pricing?plan=pro",
			Viewport:     capture.Viewport{Width: 1280, Height: 800, PixelDensity: 1.5},
			FullPage:     true,
			WaitSelector: "#plans",
			WaitMillis:   250,
		},
		{
			Name:     "signup-mobile",
			URL:      "https://auth.test/signup",
			Viewport: capture.Viewport{Width: 390, Height: 844, PixelDensity: 3},
			Group:    "Auth",
			Steps: []capture.Step{
				capture.Click{Selector: "#open"},
				capture.Fill{Selector: "#email", Text: "a@b.c"},
				capture.Wait{Millis: 100},
				capture.WaitForSelector{Selector: ".done"},
			},
		},
	}
	if !reflect.DeepEqual(cfg.Targets, want) {
		t.Errorf("targets mismatch\n got: %+v\nwant: %+v", cfg.Targets, want)
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("targets:\n  - name: home\n    url: https://example.com\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cfg.Browsers, []string{capture.DefaultEngine}) {
		t.Errorf("browsers = %v", cfg.Browsers)
	}
	if cfg.Branch != "prshot-screenshots" || !cfg.FailOnEmpty || !cfg.Comment.Footer {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.Comment.GroupBy != comment.GroupByViewport {
		t.Errorf("group_by = %s", cfg.Comment.GroupBy)
	}
	if cfg.Targets[0].Viewport != Presets["desktop"] {
		t.Errorf("viewport = %+v", cfg.Targets[0].Viewport)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", "", "empty"},
		{"no targets", "browsers: [chromium]\n", "no targets"},
		{"relative without base", "targets:\n  - {name: a, url: /a}\n", "base_url"},
		{"missing url", "targets:\n  - {name: a}\n", "url is empty"},
		{"bad viewport", "targets:\n  - {name: a, url: https://x.test, viewport: huge}\n", "invalid viewport"},
		{"zero viewport", "targets:\n  - {name: a, url: https://x.test, viewport: 0x100}\n", "positive size"},
		{"two actions", "targets:\n  - name: a\n    url: https://x.test\n    steps:\n      - {click: '#a', wait: 10}\n", "exactly one action"},
		{"no action", "targets:\n  - name: a\n    url: https://x.test\n    steps:\n      - {}\n", "exactly one action"},
		{"unknown step", "targets:\n  - name: a\n    url: https://x.test\n    steps:\n      - hover: '#a'\n", "unknown step"},
		{"fill without selector", "targets:\n  - name: a\n    url: https://x.test\n    steps:\n      - fill: {text: x}\n", "fill needs"},
		{"bad group_by", "targets:\n  - {name: a, url: https://x.test}\noutput:\n  comment:\n    group_by: color\n", "group_by"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatalf("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestParseDuplicateNames(t *testing.T) {
	_, err := Parse([]byte("targets:\n  - {name: home, url: https://a.test}\n  - {name: home, url: https://b.test}\n"))
	if !errors.Is(err, capture.ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultPath)
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Targets) != 3 {
		t.Errorf("expected 3 targets, got %d", len(cfg.Targets))
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Errorf("expected an error for a missing file")
	}
}

func TestSnakeCase(t *testing.T) {
	for in, want := range map[string]string{
		"fullPage":          "full_page",
		"full_page":         "full_page",
		"baseURL":           "base_url",
		"rawBaseUrl":        "raw_base_url",
		"waitForSelector":   "wait_for_selector",
		"deviceScaleFactor": "device_scale_factor",
		"wait-millis":       "wait_millis",
		"url":               "url",
	} {
		if got := snakeCase(in); got != want {
			t.Errorf("snakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPullRequestResolution(t *testing.T) {
	dir := t.TempDir()
	event := filepath.Join(dir, "event.json")
	if err := os.WriteFile(event, []byte(`{"pull_request":{"number":17},"number":3}`), 0o644); err != nil {
		t.Fatal(err)
	}
	issueEvent := filepath.Join(dir, "issue.json")
	if err := os.WriteFile(issueEvent, []byte(`{"number":8}`), 0o644); err != nil {
		t.Fatal(err)
	}
	pushEvent := filepath.Join(dir, "push.json")
	if err := os.WriteFile(pushEvent, []byte(`{"ref":"refs/heads/main"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		env  Env
		want int
	}{
		{"explicit wins", Env{PRNumber: 5, EventPath: event, Ref: "refs/pull/9/merge"}, 5},
		{"event payload", Env{EventPath: event, Ref: "refs/pull/9/merge"}, 17},
		{"event number", Env{EventPath: issueEvent}, 8},
		{"ref fallback", Env{EventPath: pushEvent, Ref: "refs/pull/9/merge"}, 9},
		{"not a PR", Env{Ref: "refs/heads/main"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.env.PullRequest()
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestReadEnv(t *testing.T) {
	t.Setenv("GITHUB_REPOSITORY", "acme/shop")
	t.Setenv("GITHUB_RUN_ID", "991")
	t.Setenv("GITHUB_REF", "refs/pull/42/merge")
	t.Setenv("GITHUB_EVENT_PATH", "")
	t.Setenv("CI", "true")
	for _, key := range []string{"PRSHOT_PR_NUMBER", "GITHUB_API_URL"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	env, err := ReadEnv()
	if err != nil {
		t.Fatal(err)
	}
	if !env.CI || env.APIURL != "https://api.github.com" {
		t.Errorf("unexpected env %+v", env)
	}

	now := time.Date(2026, 10, 19, 7, 23, 0, 0, time.UTC)
	run, err := env.RunContext(now)
	if err != nil {
		t.Fatal(err)
	}
	if run.Owner != "acme" || run.Repo != "shop" || run.Number != 42 || run.BatchDir() != "pr-42/2026-10-19T07-23-00Z" {
		t.Errorf("unexpected run %+v", run)
	}
}

func TestRunContextFallbackID(t *testing.T) {
	env := Env{Repository: "acme/shop"}
	run, err := env.RunContext(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if run.Number != 0 || len(run.RunID) != 8 {
		t.Errorf("expected a generated run id, got %+v", run)
	}
	if err := run.Validate(); err != nil {
		t.Error(err)
	}

	if _, err := (&Env{}).RunContext(time.Now()); err == nil {
		t.Errorf("expected an error without a repository")
	}
}

func TestBrowsersDropsRepeats(t *testing.T) {
	got := Browsers([]string{"Chromium", " firefox", "chromium", "", "FIREFOX", "webkit"})
	if want := []string{"chromium", "firefox", "webkit"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Browsers = %v, want %v", got, want)
	}

	cfg, err := Parse([]byte("browsers: [chromium, Chromium, ' ']\ntargets:\n  - {name: home, url: https://example.com}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cfg.Browsers, []string{"chromium"}) {
		t.Errorf("browsers = %v", cfg.Browsers)
	}
}
