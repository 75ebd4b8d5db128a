// internal/player/change.go
package player

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/flowreplay/internal/browser"
)

// ChangeDetector judges whether, and how, the page changed after an action.
type ChangeDetector struct {
	poll time.Duration
}

// NewChangeDetector creates a detector polling at the given interval.
func NewChangeDetector(poll time.Duration) *ChangeDetector {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return &ChangeDetector{poll: poll}
}

// Baseline is the page state captured before an action.
type Baseline struct {
	Fingerprint string
	Probe       browser.PageProbe
}

// Capture records the current markup fingerprint and probe.
func (c *ChangeDetector) Capture(ctx context.Context, page browser.Page) (Baseline, error) {
	markup, err := page.Snapshot(ctx)
	if err != nil {
		return Baseline{}, err
	}
	probe, err := page.Probe(ctx)
	if err != nil {
		return Baseline{}, err
	}
	return Baseline{Fingerprint: Fingerprint(markup), Probe: probe}, nil
}

// WaitForChange polls until the markup fingerprint or the URL differs from
// before, or timeout elapses. Snapshot errors (mid-navigation) are retried.
func (c *ChangeDetector) WaitForChange(ctx context.Context, page browser.Page, before Baseline, timeout time.Duration) (bool, error) {
	return c.pollUntil(ctx, timeout, func(ctx context.Context) (bool, error) {
		markup, err := page.Snapshot(ctx)
		if err != nil {
			return false, nil
		}
		if Fingerprint(markup) != before.Fingerprint {
			return true, nil
		}
		probe, err := page.Probe(ctx)
		return err == nil && probe.URL != before.Probe.URL, nil
	})
}

// WaitForMeaningfulChange requires price/shipping-bearing elements to
// appear, price text or option count to change, or the URL to change.
func (c *ChangeDetector) WaitForMeaningfulChange(ctx context.Context, page browser.Page, before Baseline, timeout time.Duration) (bool, error) {
	return c.pollUntil(ctx, timeout, func(ctx context.Context) (bool, error) {
		probe, err := page.Probe(ctx)
		if err != nil {
			return false, nil
		}
		return before.Probe.Differs(probe), nil
	})
}

func (c *ChangeDetector) pollUntil(ctx context.Context, timeout time.Duration, check func(context.Context) (bool, error)) (bool, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		changed, err := check(ctx)
		if err != nil || changed {
			return changed, err
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			// One last look so a change landing right at the deadline counts.
			return check(ctx)
		case <-ticker.C:
		}
	}
}

// Fingerprint hashes markup after removing script/style content, comments
// and whitespace-only text, so that unrelated churn does not count.
func Fingerprint(markup string) string {
	h := sha1.New()
	z := html.NewTokenizer(strings.NewReader(markup))
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or malformed input; either way the hash so far stands.
			return hex.EncodeToString(h.Sum(nil))
		case html.StartTagToken:
			name, _ := z.TagName()
			if isVolatileTag(name) {
				skip++
				continue
			}
			h.Write(z.Raw())
		case html.EndTagToken:
			name, _ := z.TagName()
			if isVolatileTag(name) {
				if skip > 0 {
					skip--
				}
				continue
			}
			h.Write(z.Raw())
		case html.SelfClosingTagToken:
			h.Write(z.Raw())
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := strings.TrimSpace(string(z.Text()))
			if text != "" {
				io.WriteString(h, strings.Join(strings.Fields(text), " "))
			}
		}
	}
}

func isVolatileTag(name []byte) bool {
	switch string(name) {
	case "script", "style", "noscript":
		return true
	}
	return false
}
