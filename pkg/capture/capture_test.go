package capture

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/root4loot/prshot/pkg/logging"
)

func newTestCapturer(t *testing.T, registry Registry) *Capturer {
	t.Helper()
	opts := DefaultOptions()
	opts.OutputDir = t.TempDir()
	opts.NavigationTimeout = 50 * time.Millisecond
	opts.SelectorTimeout = 20 * time.Millisecond
	opts.ActionTimeout = 20 * time.Millisecond
	opts.Logger = logging.Discard()
	return NewCapturer(registry, opts)
}

func TestCaptureSingleTarget(t *testing.T) {
	engine := newFakeEngine()
	c := newTestCapturer(t, Registry{"chromium": engine})

	targets := []Target{{
		Name:     "home-desktop",
		URL:      "http://localhost:3000/",
		Viewport: Viewport{Width: 1440, Height: 900},
	}}

	artifacts, err := c.Capture(context.Background(), []string{"chromium"}, targets)
	if err != nil {
		t.Fatalf("Capture returned error: %v", err)
	}
	if len(artifacts) != 1 {
		t.Fatalf("expected 1 artifact, got %d", len(artifacts))
	}

	a := artifacts[0]
	if !strings.HasSuffix(a.LocalPath, "home-desktop-chromium.png") {
		t.Errorf("unexpected artifact path %s", a.LocalPath)
	}
	if a.TargetName != "home-desktop" || a.EngineName != "chromium" {
		t.Errorf("unexpected artifact %+v", a)
	}
	if _, err := os.Stat(a.LocalPath); err != nil {
		t.Errorf("artifact not written: %v", err)
	}
	if engine.viewport[0].PixelDensity != DefaultPixelDensity {
		t.Errorf("expected default pixel density %v, got %v", DefaultPixelDensity, engine.viewport[0].PixelDensity)
	}
	if engine.closed != engine.launches {
		t.Errorf("expected every launched browser to be closed, launched %d closed %d", engine.launches, engine.closed)
	}
}

func TestCaptureUniquePairs(t *testing.T) {
	chromium, firefox := newFakeEngine(), newFakeEngine()
	registry := Registry{"chromium": chromium, "firefox": firefox}

	targets := []Target{
		{Name: "home", URL: "http://app/"},
		{Name: "about", URL: "http://app/about"},
		{Name: "login", URL: "http://app/login"},
	}

	for _, parallel := range []bool{false, true} {
		name := "sequential"
		if parallel {
			name = "parallel"
		}
		t.Run(name, func(t *testing.T) {
			c := newTestCapturer(t, registry)
			c.Options.Parallel = parallel

			artifacts, err := c.Capture(context.Background(), []string{"firefox", "safari", "chromium"}, targets)
			if err != nil {
				t.Fatalf("Capture returned error: %v", err)
			}
			if len(artifacts) > len(targets)*2 {
				t.Fatalf("got %d artifacts, more than N×M", len(artifacts))
			}

			seen := map[[2]string]bool{}
			var order []string
			for _, a := range artifacts {
				key := [2]string{a.TargetName, a.EngineName}
				if seen[key] {
					t.Errorf("duplicate artifact for %v", key)
				}
				seen[key] = true
				order = append(order, a.TargetName+"/"+a.EngineName)
			}

			want := "home/firefox about/firefox login/firefox home/chromium about/chromium login/chromium"
			if got := strings.Join(order, " "); got != want {
				t.Errorf("unexpected order\n got: %s\nwant: %s", got, want)
			}
		})
	}
}

func TestCapturePartialFailureIsolation(t *testing.T) {
	chromium, firefox := newFakeEngine(), newFakeEngine()
	for _, e := range []*fakeEngine{chromium, firefox} {
		e.broken["http://nowhere.invalid/"] = true
		e.hang["http://slow/"] = true
	}
	c := newTestCapturer(t, Registry{"chromium": chromium, "firefox": firefox})

	targets := []Target{
		{Name: "dead", URL: "http://nowhere.invalid/"},
		{Name: "home", URL: "http://app/"},
		{Name: "slow", URL: "http://slow/"},
		{Name: "about", URL: "http://app/about"},
	}

	artifacts, err := c.Capture(context.Background(), []string{"chromium", "firefox"}, targets)
	if err != nil {
		t.Fatalf("Capture returned error: %v", err)
	}
	if len(artifacts) != 4 {
		t.Fatalf("expected 4 artifacts, got %d: %+v", len(artifacts), artifacts)
	}
	for _, a := range artifacts {
		if a.TargetName == "dead" || a.TargetName == "slow" {
			t.Errorf("did not expect artifact for %s", a.TargetName)
		}
	}
	if chromium.closed != 1 || firefox.closed != 1 {
		t.Errorf("expected each browser closed once, got chromium=%d firefox=%d", chromium.closed, firefox.closed)
	}
}

func TestCaptureWaitSelectorTimeoutIsSwallowed(t *testing.T) {
	engine := newFakeEngine()
	c := newTestCapturer(t, Registry{"chromium": engine})

	targets := []Target{{Name: "spinner", URL: "http://app/", WaitSelector: "#never-shows"}}

	artifacts, err := c.Capture(context.Background(), nil, targets)
	if err != nil {
		t.Fatalf("Capture returned error: %v", err)
	}
	if len(artifacts) != 1 {
		t.Fatalf("expected a screenshot despite the wait selector timing out, got %d artifacts", len(artifacts))
	}
}

func TestCaptureSteps(t *testing.T) {
	engine := newFakeEngine()
	engine.present["#menu"] = true
	engine.present["#email"] = true
	engine.present[".modal"] = true
	c := newTestCapturer(t, Registry{"chromium": engine})

	targets := []Target{
		{
			Name: "broken-step",
			URL:  "http://app/a",
			Steps: []Step{
				Click{Selector: "#menu"},
				Click{Selector: "#missing"},
				Fill{Selector: "#email", Text: "never"},
			},
		},
		{
			Name:     "signup",
			URL:      "http://app/b",
			FullPage: true,
			Steps: []Step{
				Click{Selector: "#menu"},
				Fill{Selector: "#email", Text: "me@example.com"},
				Wait{Millis: 1},
				WaitForSelector{Selector: ".modal"},
			},
		},
	}

	artifacts, err := c.Capture(context.Background(), nil, targets)
	if err != nil {
		t.Fatalf("Capture returned error: %v", err)
	}
	if len(artifacts) != 1 || artifacts[0].TargetName != "signup" {
		t.Fatalf("expected only signup to be captured, got %+v", artifacts)
	}

	want := []string{
		"goto http://app/a",
		"click #menu",
		"click #missing",
		"goto http://app/b",
		"click #menu",
		"fill #email me@example.com",
		"wait-for .modal",
		"screenshot full",
	}
	if got := strings.Join(engine.calls, "\n"); got != strings.Join(want, "\n") {
		t.Errorf("unexpected call sequence\n got:\n%s\nwant:\n%s", got, strings.Join(want, "\n"))
	}
}

func TestCaptureDuplicateNames(t *testing.T) {
	c := newTestCapturer(t, Registry{"chromium": newFakeEngine()})

	tests := []struct {
		name    string
		targets []Target
	}{
		{"same name", []Target{{Name: "home", URL: "http://a/"}, {Name: "home", URL: "http://b/"}}},
		{"same file name", []Target{{Name: "home page", URL: "http://a/"}, {Name: "home/page", URL: "http://b/"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Capture(context.Background(), nil, tt.targets)
			if !errors.Is(err, ErrDuplicateName) {
				t.Fatalf("expected ErrDuplicateName, got %v", err)
			}
		})
	}
}

func TestCaptureUnknownEngineOnly(t *testing.T) {
	c := newTestCapturer(t, Registry{"chromium": newFakeEngine()})

	artifacts, err := c.Capture(context.Background(), []string{"netscape"}, []Target{{Name: "home", URL: "http://a/"}})
	if err != nil {
		t.Fatalf("unknown engines should not be an error, got %v", err)
	}
	if len(artifacts) != 0 {
		t.Errorf("expected no artifacts, got %d", len(artifacts))
	}
}

func TestCaptureLaunchFailure(t *testing.T) {
	good := newFakeEngine()
	bad := LaunchFunc(func(ctx context.Context) (Browser, error) {
		return nil, errors.New("browser binary not found")
	})
	c := newTestCapturer(t, Registry{"chromium": good, "webkit": bad})

	artifacts, err := c.Capture(context.Background(), []string{"webkit", "chromium"}, []Target{{Name: "home", URL: "http://a/"}})
	if err != nil {
		t.Fatalf("Capture returned error: %v", err)
	}
	if len(artifacts) != 1 || artifacts[0].EngineName != "chromium" {
		t.Fatalf("expected one chromium artifact, got %+v", artifacts)
	}
}

func TestCaptureCancelled(t *testing.T) {
	engine := newFakeEngine()
	c := newTestCapturer(t, Registry{"chromium": engine})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	artifacts, err := c.Capture(ctx, nil, []Target{{Name: "home", URL: "http://a/"}})
	if err != nil {
		t.Fatalf("Capture returned error: %v", err)
	}
	if len(artifacts) != 0 {
		t.Errorf("expected no artifacts after cancellation, got %d", len(artifacts))
	}
}

func TestCaptureWithCaption(t *testing.T) {
	c := newTestCapturer(t, Registry{"chromium": newFakeEngine()})
	c.Options.Caption = true

	artifacts, err := c.Capture(context.Background(), nil, []Target{{Name: "home", URL: "http://a/", Viewport: Viewport{PixelDensity: 1}}})
	if err != nil {
		t.Fatalf("Capture returned error: %v", err)
	}
	if len(artifacts) != 1 {
		t.Fatalf("expected 1 artifact, got %d", len(artifacts))
	}

	data, err := os.ReadFile(artifacts[0].LocalPath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode artifact: %v", err)
	}
	if img.Bounds().Dy() != 6+40 {
		t.Errorf("expected caption strip of 40px, got height %d", img.Bounds().Dy())
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		target, engine, want string
	}{
		{"home-desktop", "chromium", "home-desktop-chromium.png"},
		{"Checkout / Step 2", "webkit", "Checkout-Step-2-webkit.png"},
		{"v1.2_release", "firefox", "v1.2_release-firefox.png"},
	}
	for _, tt := range tests {
		if got := FileName(tt.target, tt.engine); got != tt.want {
			t.Errorf("FileName(%q, %q) = %q, want %q", tt.target, tt.engine, got, tt.want)
		}
	}
	if filepath.Base(FileName("a/b", "c")) != "a-b-c.png" {
		t.Errorf("file name must not contain path separators")
	}
}

func TestCaptureRepeatedEngineRunsOnce(t *testing.T) {
	engine := newFakeEngine()
	c := newTestCapturer(t, Registry{"chromium": engine, "firefox": newFakeEngine()})

	artifacts, err := c.Capture(context.Background(), []string{"chromium", "firefox", "chromium"}, []Target{{Name: "home", URL: "http://a/"}})
	if err != nil {
		t.Fatalf("Capture returned error: %v", err)
	}

	var order []string
	for _, a := range artifacts {
		order = append(order, a.TargetName+"/"+a.EngineName)
	}
	if got := strings.Join(order, " "); got != "home/chromium home/firefox" {
		t.Errorf("unexpected artifacts %s", got)
	}
	if engine.launches != 1 {
		t.Errorf("expected chromium to launch once, got %d", engine.launches)
	}

	if got := strings.Join(c.Known([]string{"firefox", "chromium", "firefox"}), ","); got != "firefox,chromium" {
		t.Errorf("Known = %s", got)
	}
}

func TestCaptureDefaultOutputDirIsPerRun(t *testing.T) {
	opts := DefaultOptions()
	opts.Logger = logging.Discard()
	c := NewCapturer(Registry{"chromium": newFakeEngine()}, opts)
	targets := []Target{{Name: "home", URL: "http://a/"}}

	first, err := c.Capture(context.Background(), nil, targets)
	if err != nil {
		t.Fatalf("first capture: %v", err)
	}
	second, err := c.Capture(context.Background(), nil, targets)
	if err != nil {
		t.Fatalf("second capture: %v", err)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected one artifact per run, got %d and %d", len(first), len(second))
	}

	dir1, dir2 := filepath.Dir(first[0].LocalPath), filepath.Dir(second[0].LocalPath)
	t.Cleanup(func() {
		os.RemoveAll(dir1)
		os.RemoveAll(dir2)
	})
	if dir1 == dir2 {
		t.Errorf("two runs share the output folder %s", dir1)
	}
	if !strings.HasPrefix(filepath.Base(dir1), "prshot-") {
		t.Errorf("unexpected output folder %s", dir1)
	}
}

func TestCaptureInterruptedWaitStage(t *testing.T) {
	c := newTestCapturer(t, Registry{"chromium": newFakeEngine()})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	browser, err := c.registry["chromium"].Launch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.captureTarget(ctx, browser, c.Options.OutputDir, "chromium", Target{Name: "slow", URL: "http://a/", WaitMillis: 5000})

	var se *StageError
	if !errors.As(err, &se) {
		t.Fatalf("expected a StageError, got %v", err)
	}
	if se.Stage != StageWait {
		t.Errorf("stage = %s, want %s", se.Stage, StageWait)
	}
}

func TestCaptureParallelCancelled(t *testing.T) {
	c := newTestCapturer(t, Registry{"chromium": newFakeEngine(), "firefox": newFakeEngine()})
	c.Options.Parallel = true

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	artifacts, err := c.Capture(ctx, []string{"chromium", "firefox"}, []Target{{Name: "home", URL: "http://a/"}})
	if err != nil {
		t.Fatalf("Capture returned error: %v", err)
	}
	if len(artifacts) != 0 {
		t.Errorf("expected no artifacts after cancellation, got %d", len(artifacts))
	}
}
