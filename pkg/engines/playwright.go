package engines

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/root4loot/prshot/pkg/capture"
)

// PlaywrightLauncher starts Firefox or WebKit through playwright.
type PlaywrightLauncher struct {
	Options *Options
	Browser string // Firefox or WebKit
}

// Launch starts the playwright driver and a browser of the configured type.
func (l *PlaywrightLauncher) Launch(ctx context.Context) (capture.Browser, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	var bt playwright.BrowserType
	switch l.Browser {
	case Firefox:
		bt = pw.Firefox
	case WebKit:
		bt = pw.WebKit
	default:
		_ = pw.Stop()
		return nil, fmt.Errorf("playwright browser %q not supported", l.Browser)
	}

	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(l.Options.Headless),
	}
	if ms, ok := timeoutMillis(ctx); ok {
		opts.Timeout = playwright.Float(ms)
	}

	browser, err := bt.Launch(opts)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch %s: %w", l.Browser, err)
	}

	return &playwrightBrowser{pw: pw, browser: browser, options: l.Options}, nil
}

type playwrightBrowser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	options *Options
}

func (b *playwrightBrowser) NewContext(ctx context.Context, viewport capture.Viewport) (capture.BrowserContext, error) {
	opts := playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(b.options.IgnoreCertificateErrors),
	}
	if viewport.Width != 0 && viewport.Height != 0 {
		opts.Viewport = &playwright.Size{Width: viewport.Width, Height: viewport.Height}
	}
	if viewport.PixelDensity > 0 {
		opts.DeviceScaleFactor = playwright.Float(viewport.PixelDensity)
	}
	if b.options.UserAgent != "" {
		opts.UserAgent = playwright.String(b.options.UserAgent)
	}

	bctx, err := b.browser.NewContext(opts)
	if err != nil {
		return nil, err
	}
	return &playwrightContext{bctx: bctx}, nil
}

func (b *playwrightBrowser) Close() error {
	err := b.browser.Close()
	if stopErr := b.pw.Stop(); err == nil {
		err = stopErr
	}
	return err
}

type playwrightContext struct {
	bctx playwright.BrowserContext
}

func (c *playwrightContext) NewPage(ctx context.Context) (capture.Page, error) {
	page, err := c.bctx.NewPage()
	if err != nil {
		return nil, err
	}
	return &playwrightPage{page: page}, nil
}

func (c *playwrightContext) Close() error {
	return c.bctx.Close()
}

// playwrightPage maps context deadlines onto playwright's millisecond timeouts,
// since the driver API does not take a context.
type playwrightPage struct {
	page playwright.Page
}

func (p *playwrightPage) Goto(ctx context.Context, url string) error {
	opts := playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	}
	if ms, ok := timeoutMillis(ctx); ok {
		opts.Timeout = playwright.Float(ms)
	}

	if _, err := p.page.Goto(url, opts); err != nil {
		return asContextError(ctx, err)
	}
	return nil
}

func (p *playwrightPage) WaitForSelector(ctx context.Context, selector string) error {
	opts := playwright.LocatorWaitForOptions{
		State: playwright.WaitForSelectorStateVisible,
	}
	if ms, ok := timeoutMillis(ctx); ok {
		opts.Timeout = playwright.Float(ms)
	}
	return asContextError(ctx, p.page.Locator(selector).First().WaitFor(opts))
}

func (p *playwrightPage) Click(ctx context.Context, selector string) error {
	var opts playwright.LocatorClickOptions
	if ms, ok := timeoutMillis(ctx); ok {
		opts.Timeout = playwright.Float(ms)
	}
	return asContextError(ctx, p.page.Locator(selector).First().Click(opts))
}

func (p *playwrightPage) Fill(ctx context.Context, selector, text string) error {
	var opts playwright.LocatorFillOptions
	if ms, ok := timeoutMillis(ctx); ok {
		opts.Timeout = playwright.Float(ms)
	}
	return asContextError(ctx, p.page.Locator(selector).First().Fill(text, opts))
}

func (p *playwrightPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	opts := playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(fullPage),
		Type:     playwright.ScreenshotTypePng,
	}
	if ms, ok := timeoutMillis(ctx); ok {
		opts.Timeout = playwright.Float(ms)
	}
	return p.page.Screenshot(opts)
}

func (p *playwrightPage) Close() error {
	return p.page.Close()
}

// timeoutMillis returns the time left until ctx's deadline in milliseconds.
func timeoutMillis(ctx context.Context) (float64, bool) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0, false
	}
	left := time.Until(deadline)
	if left < time.Millisecond {
		left = time.Millisecond
	}
	return float64(left.Milliseconds()), true
}

// asContextError reports driver timeouts as context errors.
func asContextError(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	case errors.Is(err, playwright.ErrTimeout):
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}
