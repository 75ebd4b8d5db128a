// internal/browser/browser.go
package browser

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by every driver backend.
var (
	ErrElementNotFound = errors.New("element not found")
	ErrElementHidden   = errors.New("element not visible")
	ErrIdleTimeout     = errors.New("network did not become idle")
	ErrSessionClosed   = errors.New("browser session closed")
)

// Page is the set of capabilities the player needs from a live page.
// Implementations must be safe for sequential use by a single run.
type Page interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)

	// ClickAt dispatches a native pointer click at viewport coordinates.
	ClickAt(ctx context.Context, x, y float64) error
	// ClickSelector waits up to timeout for a visible match in the main
	// document and clicks its center.
	ClickSelector(ctx context.Context, selector string, timeout time.Duration) error
	// ClickInFrames searches embedded frames (never the main document) and
	// clicks the first match. It reports whether any frame matched.
	ClickInFrames(ctx context.Context, selector string) (bool, error)
	// Focused reports whether the active element matches selector.
	Focused(ctx context.Context, selector string) (bool, error)

	// Fill replaces the value of the element located by selector.
	Fill(ctx context.Context, selector, value string, timeout time.Duration) error
	// FillFocused replaces the value of the currently focused field.
	FillFocused(ctx context.Context, value string) error
	PressKey(ctx context.Context, key string) error
	ScrollTo(ctx context.Context, x, y float64) error
	SetViewport(ctx context.Context, width, height int) error

	// Snapshot returns the serialized markup of the main document.
	Snapshot(ctx context.Context) (string, error)
	// Probe samples the signals used to judge a meaningful change.
	Probe(ctx context.Context) (PageProbe, error)
	// WaitIdle blocks until no network request has been in flight for quiet,
	// returning ErrIdleTimeout after max.
	WaitIdle(ctx context.Context, quiet, max time.Duration) error
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
}

// EventSource is the subscription side of a driver, used while recording.
type EventSource interface {
	Navigate(ctx context.Context, url string) error
	// Subscribe installs the event hooks, then delivers operator-generated
	// events to sink from its own goroutine until ctx is done. The sink is
	// never called concurrently. The returned channel is closed once the
	// last event has been delivered.
	Subscribe(ctx context.Context, sink func(PageEvent)) (<-chan struct{}, error)
	Viewport(ctx context.Context) (width, height int, err error)
}

// Session is one isolated browser tab.
type Session interface {
	Page
	EventSource
	ID() string
	// Done is closed when the tab goes away, including when the operator
	// closes the window.
	Done() <-chan struct{}
	Close(ctx context.Context) error
}

// SessionOptions configures a new session.
type SessionOptions struct {
	Headless bool
}

// Launcher creates isolated sessions over a shared browser process.
type Launcher interface {
	NewSession(ctx context.Context, opts SessionOptions) (Session, error)
	Shutdown(ctx context.Context) error
}

// EventKind enumerates the page events a driver reports.
type EventKind string

const (
	EventClick    EventKind = "click"
	EventInput    EventKind = "input"
	EventKey      EventKind = "key"
	EventScroll   EventKind = "scroll"
	EventResize   EventKind = "resize"
	EventNavigate EventKind = "navigate"
)

// PageEvent is a raw event from the page before normalization.
type PageEvent struct {
	Kind EventKind `json:"kind"`
	// Timestamp is milliseconds since the epoch as observed by the page.
	Timestamp int64 `json:"timestamp"`

	X       float64      `json:"x,omitempty"`
	Y       float64      `json:"y,omitempty"`
	Element *ElementInfo `json:"element,omitempty"`
	Value   string       `json:"value,omitempty"`
	Key     string       `json:"key,omitempty"`
	URL     string       `json:"url,omitempty"`

	Width   int     `json:"width,omitempty"`
	Height  int     `json:"height,omitempty"`
	ScrollX float64 `json:"scrollX,omitempty"`
	ScrollY float64 `json:"scrollY,omitempty"`

	// Synthetic is set for clicks the page did not receive from a pointer
	// (detail == 0), e.g. a form submit triggered by Enter.
	Synthetic bool `json:"synthetic,omitempty"`
	// TopFrame is set for navigations of the main frame.
	TopFrame bool `json:"topFrame,omitempty"`
}

// ElementInfo describes an element well enough to synthesize a selector.
type ElementInfo struct {
	Tag       string            `json:"tag"`
	ID        string            `json:"id,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	Classes   []string          `json:"classes,omitempty"`
	Text      string            `json:"text,omitempty"`
	InputType string            `json:"inputType,omitempty"`
	Visible   bool              `json:"visible"`
	// Ancestors is ordered from the element itself outward, bounded by the driver.
	Ancestors []NodeStep `json:"ancestors,omitempty"`
}

// NodeStep is one level of a structural path.
type NodeStep struct {
	Tag     string   `json:"tag"`
	Classes []string `json:"classes,omitempty"`
	// Index is the 1-based position among siblings with the same tag.
	Index int `json:"index"`
}

// PageProbe captures the price/shipping-bearing signals of a page.
type PageProbe struct {
	URL           string `json:"url"`
	PriceCount    int    `json:"priceCount"`
	ShippingCount int    `json:"shippingCount"`
	PriceText     string `json:"priceText"`
	OptionCount   int    `json:"optionCount"`
}

// Differs reports whether other shows a meaningful change relative to p.
func (p PageProbe) Differs(other PageProbe) bool {
	return p.URL != other.URL ||
		other.PriceCount > p.PriceCount ||
		other.ShippingCount > p.ShippingCount ||
		p.PriceText != other.PriceText ||
		p.OptionCount != other.OptionCount
}
