// Package engines provides the browser backends behind the capture engine
// identifiers: "chromium" (rod), "chrome" (chromedp), "firefox" and "webkit" (playwright).
package engines

import (
	"slices"
	"sort"

	"github.com/root4loot/prshot/pkg/capture"
)

// Engine identifiers known to Default.
const (
	Chromium = "chromium"
	Chrome   = "chrome"
	Firefox  = "firefox"
	WebKit   = "webkit"
)

// Options contains launch options shared by all backends.
type Options struct {
	Headless                bool   // Run without a visible window
	BrowserPath             string // Browser binary, looked up when empty (rod, chromedp)
	UserAgent               string // Override the user agent
	IgnoreCertificateErrors bool   // Accept invalid TLS certificates
	NoSandbox               bool   // Disable the Chromium sandbox (needed in most containers)
}

// DefaultOptions returns default options.
func DefaultOptions() *Options {
	return &Options{
		Headless:                true,
		IgnoreCertificateErrors: true,
		NoSandbox:               true,
	}
}

// Default returns a registry with every built-in backend.
func Default(opts *Options) capture.Registry {
	if opts == nil {
		opts = DefaultOptions()
	}
	return capture.Registry{
		Chromium: &RodLauncher{Options: opts},
		Chrome:   &ChromedpLauncher{Options: opts},
		Firefox:  &PlaywrightLauncher{Options: opts, Browser: Firefox},
		WebKit:   &PlaywrightLauncher{Options: opts, Browser: WebKit},
	}
}

// Names returns the identifiers in r in a stable order.
func Names(r capture.Registry) []string {
	order := []string{Chromium, Chrome, Firefox, WebKit}
	var names []string
	for _, n := range order {
		if _, ok := r[n]; ok {
			names = append(names, n)
		}
	}
	var extra []string
	for n := range r {
		if !slices.Contains(order, n) {
			extra = append(extra, n)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}
