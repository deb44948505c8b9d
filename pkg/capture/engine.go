package capture

import "context"

// DefaultEngine is used when the caller does not name any engine.
const DefaultEngine = "chromium"

// A Launcher starts a browser process for one engine.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// LaunchFunc adapts a function to the Launcher interface.
type LaunchFunc func(ctx context.Context) (Browser, error)

// Launch calls f(ctx).
func (f LaunchFunc) Launch(ctx context.Context) (Browser, error) {
	return f(ctx)
}

// Registry maps engine identifiers to launchers.
type Registry map[string]Launcher

// Browser is one running browser process.
type Browser interface {
	// NewContext opens an isolated browsing context (own cookies and storage)
	// emulating the given viewport.
	NewContext(ctx context.Context, viewport Viewport) (BrowserContext, error)
	Close() error
}

// BrowserContext is an isolated session inside a Browser.
type BrowserContext interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is a single tab. Implementations must honor the deadline and
// cancellation of the context passed to each call.
type Page interface {
	// Goto loads url and returns once the network has gone idle.
	Goto(ctx context.Context, url string) error
	// WaitForSelector returns once an element matching selector is visible.
	WaitForSelector(ctx context.Context, selector string) error
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, text string) error
	// Screenshot returns PNG bytes of the viewport, or of the whole document if fullPage is set.
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	Close() error
}
