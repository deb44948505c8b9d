package engines

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/root4loot/prshot/pkg/capture"
)

// ChromedpLauncher starts Chrome through chromedp.
type ChromedpLauncher struct {
	Options *Options
}

// Launch allocates a browser process and starts it.
func (c *ChromedpLauncher) Launch(ctx context.Context) (capture.Browser, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:], c.customFlags()...)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// The first Run on a fresh context starts the browser.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	return &chromedpBrowser{ctx: browserCtx, cancel: cancelBrowser, cancelAlloc: cancelAlloc}, nil
}

// customFlags returns chromedp.ExecAllocatorOptions based on the launcher's Options.
func (c *ChromedpLauncher) customFlags() []chromedp.ExecAllocatorOption {
	var flags []chromedp.ExecAllocatorOption

	if !c.Options.Headless {
		flags = append(flags, chromedp.Flag("headless", false))
	}

	if c.Options.BrowserPath != "" {
		flags = append(flags, chromedp.ExecPath(c.Options.BrowserPath))
	}

	if c.Options.UserAgent != "" {
		flags = append(flags, chromedp.UserAgent(c.Options.UserAgent))
	}

	if c.Options.IgnoreCertificateErrors {
		flags = append(flags, chromedp.Flag("ignore-certificate-errors", true))
	}

	if c.Options.NoSandbox {
		flags = append(flags, chromedp.NoSandbox)
	}

	return flags
}

type chromedpBrowser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	cancelAlloc context.CancelFunc
}

func (b *chromedpBrowser) NewContext(ctx context.Context, viewport capture.Viewport) (capture.BrowserContext, error) {
	tabCtx, cancel := chromedp.NewContext(b.ctx, chromedp.WithNewBrowserContext())
	return &chromedpContext{ctx: tabCtx, cancel: cancel, viewport: viewport}, nil
}

func (b *chromedpBrowser) Close() error {
	err := chromedp.Cancel(b.ctx)
	b.cancel()
	b.cancelAlloc()
	return err
}

// chromedpContext owns a tab in its own browser context. The first page reuses
// that tab, later pages open sibling tabs in the same browser context.
type chromedpContext struct {
	ctx      context.Context
	cancel   context.CancelFunc
	viewport capture.Viewport
	used     bool
}

func (c *chromedpContext) NewPage(ctx context.Context) (capture.Page, error) {
	tabCtx, cancel := c.ctx, context.CancelFunc(func() {})
	if c.used {
		tabCtx, cancel = chromedp.NewContext(c.ctx)
	}
	c.used = true

	p := &chromedpPage{ctx: tabCtx, cancel: cancel}

	var actions []chromedp.Action
	if c.viewport.Width != 0 && c.viewport.Height != 0 {
		actions = append(actions, chromedp.EmulateViewport(
			int64(c.viewport.Width),
			int64(c.viewport.Height),
			chromedp.EmulateScale(c.viewport.PixelDensity),
		))
	}
	if err := p.run(ctx, actions...); err != nil {
		cancel()
		return nil, err
	}

	return p, nil
}

func (c *chromedpContext) Close() error {
	c.cancel()
	return nil
}

type chromedpPage struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// run executes actions on the tab, bounded by the deadline and cancellation of ctx.
func (p *chromedpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	rctx, cancel := context.WithCancel(p.ctx)
	defer cancel()

	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		rctx, cancelDeadline = context.WithDeadline(rctx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(rctx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if rctx.Err() != nil {
			return context.DeadlineExceeded
		}
		return err
	}
	return nil
}

func (p *chromedpPage) Goto(ctx context.Context, url string) error {
	idle := make(chan cdp.LoaderID, 16)

	lctx, stopListening := context.WithCancel(p.ctx)
	defer stopListening()
	chromedp.ListenTarget(lctx, func(ev any) {
		if e, ok := ev.(*cdppage.EventLifecycleEvent); ok && e.Name == "networkIdle" {
			select {
			case idle <- e.LoaderID:
			default:
			}
		}
	})

	var loaderID cdp.LoaderID
	err := p.run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			return cdppage.SetLifecycleEventsEnabled(true).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, id, errorText, _, err := cdppage.Navigate(url).Do(ctx)
			if err != nil {
				return err
			}
			if errorText != "" {
				return fmt.Errorf("error navigating to %s: %s", url, errorText)
			}
			loaderID = id
			return nil
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return err
	}

	for {
		select {
		case id := <-idle:
			if id == loaderID {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-p.ctx.Done():
			return p.ctx.Err()
		}
	}
}

func (p *chromedpPage) WaitForSelector(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (p *chromedpPage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (p *chromedpPage) Fill(ctx context.Context, selector, text string) error {
	return p.run(ctx,
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

func (p *chromedpPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	var buf []byte
	var action chromedp.Action = chromedp.CaptureScreenshot(&buf)
	if fullPage {
		// quality 100 keeps the output PNG
		action = chromedp.FullScreenshot(&buf, 100)
	}
	if err := p.run(ctx, action); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *chromedpPage) Close() error {
	p.cancel()
	return nil
}
