// internal/player/fake_page_test.go
package player

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/xkilldash9x/flowreplay/internal/browser"
)

// fakeTarget is an element of the fake page. A click on it (by point,
// selector or frame) runs effect.
type fakeTarget struct {
	selector string
	x, y     float64
	radius   float64
	inMain   bool
	inFrame  bool
	hidden   bool
	// focusable targets take focus when clicked.
	focusable bool
	// failFirst makes the first n selector clicks error out.
	failFirst int
	// hiddenFirst reports the first n selector lookups as not yet visible.
	hiddenFirst int
	effect    func(p *fakePage)
}

// fakePage is a scripted, in-memory browser.Page.
type fakePage struct {
	mu       sync.Mutex
	url      string
	markup   string
	probe    browser.PageProbe
	targets  []*fakeTarget
	focused  string
	values   map[string]string
	keys     []string
	scrolls  [][2]float64
	viewport [][2]int
	navs     []string
	clicks   [][2]float64
	idleErr  error
	shotErr  error
	calls    map[string]int
}

var _ browser.Page = (*fakePage)(nil)

func newFakePage(targets ...*fakeTarget) *fakePage {
	return &fakePage{
		markup:  "<html><body><p>start</p></body></html>",
		targets: targets,
		values:  make(map[string]string),
		calls:   make(map[string]int),
	}
}

// mutate changes the markup only.
func mutate(p *fakePage) { p.markup += fmt.Sprintf("<div>%d</div>", len(p.markup)) }

// addPrice makes a price-bearing element appear.
func addPrice(p *fakePage) {
	p.probe.PriceCount++
	mutate(p)
}

func (p *fakePage) apply(t *fakeTarget) {
	if t.focusable {
		p.focused = t.selector
	}
	if t.effect != nil {
		t.effect(p)
	}
}

func (p *fakePage) find(sel string, pred func(*fakeTarget) bool) *fakeTarget {
	for _, t := range p.targets {
		if t.selector == sel && pred(t) {
			return t
		}
	}
	return nil
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["Navigate"]++
	p.navs = append(p.navs, url)
	p.url = url
	p.markup = "<html><body>" + url + "</body></html>"
	return nil
}

func (p *fakePage) CurrentURL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *fakePage) ClickAt(_ context.Context, x, y float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["ClickAt"]++
	p.clicks = append(p.clicks, [2]float64{x, y})
	for _, t := range p.targets {
		if t.radius > 0 && math.Hypot(t.x-x, t.y-y) <= t.radius {
			p.apply(t)
			return nil
		}
	}
	return nil
}

func (p *fakePage) ClickSelector(_ context.Context, sel string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["ClickSelector"]++
	t := p.find(sel, func(t *fakeTarget) bool { return t.inMain })
	if t == nil {
		return browser.ErrElementNotFound
	}
	if t.hidden {
		return browser.ErrElementHidden
	}
	if t.hiddenFirst > 0 {
		t.hiddenFirst--
		return browser.ErrElementHidden
	}
	if t.failFirst > 0 {
		t.failFirst--
		return errors.New("node detached")
	}
	p.apply(t)
	return nil
}

func (p *fakePage) ClickInFrames(_ context.Context, sel string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["ClickInFrames"]++
	t := p.find(sel, func(t *fakeTarget) bool { return t.inFrame })
	if t == nil {
		return false, nil
	}
	p.apply(t)
	return true, nil
}

func (p *fakePage) Focused(_ context.Context, sel string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.focused != "" && p.focused == sel, nil
}

func (p *fakePage) Fill(_ context.Context, sel, value string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["Fill"]++
	if p.find(sel, func(t *fakeTarget) bool { return t.inMain }) == nil {
		return browser.ErrElementNotFound
	}
	p.values[sel] = value
	return nil
}

func (p *fakePage) FillFocused(_ context.Context, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["FillFocused"]++
	if p.focused == "" {
		return errors.New("nothing focused")
	}
	p.values[p.focused] = value
	return nil
}

func (p *fakePage) PressKey(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

func (p *fakePage) ScrollTo(_ context.Context, x, y float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrolls = append(p.scrolls, [2]float64{x, y})
	return nil
}

func (p *fakePage) SetViewport(_ context.Context, w, h int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.viewport = append(p.viewport, [2]int{w, h})
	return nil
}

func (p *fakePage) Snapshot(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.markup, nil
}

func (p *fakePage) Probe(context.Context) (browser.PageProbe, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	probe := p.probe
	probe.URL = p.url
	return probe, nil
}

func (p *fakePage) WaitIdle(context.Context, time.Duration, time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["WaitIdle"]++
	return p.idleErr
}

func (p *fakePage) Screenshot(_ context.Context, full bool) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shotErr != nil {
		return nil, p.shotErr
	}
	if full {
		return []byte("full"), nil
	}
	return []byte("viewport"), nil
}

func (p *fakePage) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}
