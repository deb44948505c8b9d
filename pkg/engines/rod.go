package engines

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/root4loot/prshot/pkg/capture"
)

// networkIdle is how long the page must go without requests to count as idle.
const networkIdle = 500 * time.Millisecond

// RodLauncher starts Chromium through go-rod.
type RodLauncher struct {
	Options *Options
}

// Launch starts a browser process and connects to it.
func (r *RodLauncher) Launch(ctx context.Context) (capture.Browser, error) {
	path := r.Options.BrowserPath
	if path == "" {
		path, _ = launcher.LookPath()
	}

	l := launcher.New().
		Context(ctx).
		Headless(r.Options.Headless).
		NoSandbox(r.Options.NoSandbox)

	if path != "" {
		l = l.Bin(path)
	}

	if r.Options.UserAgent != "" {
		l.Set("user-agent", r.Options.UserAgent)
	}

	if r.Options.IgnoreCertificateErrors {
		l.Set("ignore-certificate-errors", "true")
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to chromium: %w", err)
	}

	return &rodBrowser{browser: browser, launcher: l}, nil
}

type rodBrowser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
}

func (b *rodBrowser) NewContext(ctx context.Context, viewport capture.Viewport) (capture.BrowserContext, error) {
	incognito, err := b.browser.Context(ctx).Incognito()
	if err != nil {
		return nil, err
	}
	return &rodContext{parent: b.browser, incognito: incognito, viewport: viewport}, nil
}

func (b *rodBrowser) Close() error {
	err := b.browser.Close()
	b.launcher.Cleanup()
	return err
}

type rodContext struct {
	parent    *rod.Browser
	incognito *rod.Browser
	viewport  capture.Viewport
}

func (c *rodContext) NewPage(ctx context.Context) (capture.Page, error) {
	page, err := c.incognito.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, err
	}

	if c.viewport.Width != 0 && c.viewport.Height != 0 {
		err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             c.viewport.Width,
			Height:            c.viewport.Height,
			DeviceScaleFactor: c.viewport.PixelDensity,
			Mobile:            false,
		})
		if err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("set viewport: %w", err)
		}
	}

	return &rodPage{page: page}, nil
}

func (c *rodContext) Close() error {
	return proto.TargetDisposeBrowserContext{BrowserContextID: c.incognito.BrowserContextID}.Call(c.parent)
}

type rodPage struct {
	page *rod.Page
}

func (p *rodPage) Goto(ctx context.Context, url string) error {
	page := p.page.Context(ctx)

	wait := page.WaitRequestIdle(networkIdle, nil, nil, nil)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("error navigating to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return err
	}
	wait()

	return ctx.Err()
}

func (p *rodPage) WaitForSelector(ctx context.Context, selector string) error {
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		return err
	}
	return el.WaitVisible()
}

func (p *rodPage) Click(ctx context.Context, selector string) error {
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (p *rodPage) Fill(ctx context.Context, selector, text string) error {
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(text)
}

func (p *rodPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (p *rodPage) Close() error {
	return p.page.Close()
}
