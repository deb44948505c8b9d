package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"sync"
)

var errNoElement = errors.New("element not found")

// fakeEngine is an in-memory engine. URLs listed in hang never finish loading,
// URLs in broken fail immediately and only selectors in present exist on a page.
type fakeEngine struct {
	mu       sync.Mutex
	hang     map[string]bool
	broken   map[string]bool
	present  map[string]bool
	launches int
	closed   int
	calls    []string
	viewport []Viewport
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		hang:    map[string]bool{},
		broken:  map[string]bool{},
		present: map[string]bool{},
	}
}

func (f *fakeEngine) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeEngine) Launch(ctx context.Context) (Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launches++
	return &fakeBrowser{engine: f}, nil
}

type fakeBrowser struct {
	engine *fakeEngine
}

func (b *fakeBrowser) NewContext(ctx context.Context, v Viewport) (BrowserContext, error) {
	b.engine.mu.Lock()
	b.engine.viewport = append(b.engine.viewport, v)
	b.engine.mu.Unlock()
	return &fakeContext{engine: b.engine}, nil
}

func (b *fakeBrowser) Close() error {
	b.engine.mu.Lock()
	defer b.engine.mu.Unlock()
	b.engine.closed++
	return nil
}

type fakeContext struct {
	engine *fakeEngine
}

func (c *fakeContext) NewPage(ctx context.Context) (Page, error) {
	return &fakePage{engine: c.engine}, nil
}

func (c *fakeContext) Close() error { return nil }

type fakePage struct {
	engine *fakeEngine
	url    string
}

func (p *fakePage) Goto(ctx context.Context, url string) error {
	p.engine.record("goto " + url)
	if p.engine.hang[url] {
		<-ctx.Done()
		return ctx.Err()
	}
	if p.engine.broken[url] {
		return errors.New("net::ERR_NAME_NOT_RESOLVED")
	}
	p.url = url
	return nil
}

func (p *fakePage) WaitForSelector(ctx context.Context, selector string) error {
	p.engine.record("wait-for " + selector)
	if !p.engine.present[selector] {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (p *fakePage) Click(ctx context.Context, selector string) error {
	p.engine.record("click " + selector)
	if !p.engine.present[selector] {
		return errNoElement
	}
	return nil
}

func (p *fakePage) Fill(ctx context.Context, selector, text string) error {
	p.engine.record("fill " + selector + " " + text)
	if !p.engine.present[selector] {
		return errNoElement
	}
	return nil
}

func (p *fakePage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	if fullPage {
		p.engine.record("screenshot full")
	} else {
		p.engine.record("screenshot viewport")
	}
	return testPNG(8, 6), nil
}

func (p *fakePage) Close() error { return nil }

func testPNG(w, h int) []byte {
	var buf bytes.Buffer
	_ = png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)))
	return buf.Bytes()
}
