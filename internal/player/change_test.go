// internal/player/change_test.go
package player

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/browser"
)

func TestFingerprint(t *testing.T) {
	base := `<html><body><div class="a">Total: 10</div></body></html>`

	tests := []struct {
		name  string
		other string
		same  bool
	}{
		{"identical", base, true},
		{"whitespace only", "<html>\n<body>  <div class=\"a\">Total:   10</div>\n</body></html>", true},
		{"script content", `<html><body><script>var t = 1</script><div class="a">Total: 10</div></body></html>`, true},
		{"comments", `<html><body><!-- ad slot --><div class="a">Total: 10</div></body></html>`, true},
		{"text change", `<html><body><div class="a">Total: 12</div></body></html>`, false},
		{"attribute change", `<html><body><div class="b">Total: 10</div></body></html>`, false},
		{"new element", `<html><body><div class="a">Total: 10</div><p>x</p></body></html>`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.same, Fingerprint(base) == Fingerprint(tt.other))
		})
	}
}

func TestChangeDetector(t *testing.T) {
	ctx := context.Background()
	d := NewChangeDetector(time.Millisecond)

	t.Run("no change times out", func(t *testing.T) {
		page := newFakePage()
		before, err := d.Capture(ctx, page)
		require.NoError(t, err)
		changed, err := d.WaitForChange(ctx, page, before, 10*time.Millisecond)
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("late mutation is seen", func(t *testing.T) {
		page := newFakePage()
		before, err := d.Capture(ctx, page)
		require.NoError(t, err)

		timer := time.AfterFunc(5*time.Millisecond, func() {
			page.mu.Lock()
			mutate(page)
			page.mu.Unlock()
		})
		defer timer.Stop()

		changed, err := d.WaitForChange(ctx, page, before, time.Second)
		require.NoError(t, err)
		assert.True(t, changed)
	})

	t.Run("url change counts as change", func(t *testing.T) {
		page := newFakePage()
		before, err := d.Capture(ctx, page)
		require.NoError(t, err)
		page.url = "https://shop.example/next"
		changed, err := d.WaitForChange(ctx, page, before, 10*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, changed)
	})

	t.Run("meaningful ignores cosmetic changes", func(t *testing.T) {
		page := newFakePage()
		before, err := d.Capture(ctx, page)
		require.NoError(t, err)
		mutate(page)
		changed, err := d.WaitForMeaningfulChange(ctx, page, before, 10*time.Millisecond)
		require.NoError(t, err)
		assert.False(t, changed)

		page.probe.PriceText = "$12.00"
		changed, err = d.WaitForMeaningfulChange(ctx, page, before, 10*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, changed)
	})

	t.Run("cancellation", func(t *testing.T) {
		page := newFakePage()
		before, err := d.Capture(ctx, page)
		require.NoError(t, err)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err = d.WaitForChange(cctx, page, before, time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestDelayController(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	t.Run("missing policy means none", func(t *testing.T) {
		d := NewDelayController(nil, logger)
		assert.Equal(t, schemas.DelayNone, d.Policy(schemas.ActionClick).Mode)
		assert.NoError(t, d.After(ctx, newFakePage(), schemas.ActionClick, ""))
	})

	t.Run("fixed sleeps", func(t *testing.T) {
		d := NewDelayController(map[schemas.ActionType]schemas.DelayPolicy{
			schemas.ActionClick: {Mode: schemas.DelayFixed, Duration: 15 * time.Millisecond},
		}, logger)
		start := time.Now()
		require.NoError(t, d.After(ctx, newFakePage(), schemas.ActionClick, ""))
		assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
	})

	t.Run("fixed honours cancellation", func(t *testing.T) {
		d := NewDelayController(map[schemas.ActionType]schemas.DelayPolicy{
			schemas.ActionClick: {Mode: schemas.DelayFixed, Duration: time.Hour},
		}, logger)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, d.After(cctx, newFakePage(), schemas.ActionClick, ""), context.Canceled)
	})

	t.Run("idle timeout is soft", func(t *testing.T) {
		policies := map[schemas.ActionType]schemas.DelayPolicy{
			schemas.ActionNavigation: {Mode: schemas.DelayIdle, Quiet: time.Millisecond, Max: 2 * time.Second},
			schemas.ActionClick:      {Mode: schemas.DelayIdle, Quiet: time.Millisecond},
		}
		d := NewDelayController(policies, logger)
		page := newFakePage()
		page.idleErr = browser.ErrIdleTimeout

		err := d.After(ctx, page, schemas.ActionNavigation, "https://a.example")
		var navErr *NavigationTimeoutError
		require.ErrorAs(t, err, &navErr)
		assert.Equal(t, "https://a.example", navErr.URL)
		assert.Equal(t, 2*time.Second, navErr.Timeout)

		assert.NoError(t, d.After(ctx, page, schemas.ActionClick, ""))
		assert.Equal(t, 2, page.count("WaitIdle"))
	})
}

func TestElementCache(t *testing.T) {
	c := NewElementCache()
	assert.Equal(t, LocUnknown, c.Get("#a"))
	assert.Equal(t, 0, c.Hits())

	c.Set("#a", LocFrame)
	assert.Equal(t, LocFrame, c.Get("#a"))
	assert.Equal(t, 1, c.Hits())
	assert.Equal(t, "frame", LocFrame.String())

	c.Set("#b", LocMain)
	c.Forget("#b")
	assert.Equal(t, LocUnknown, c.Get("#b"))

	c.Reset()
	assert.Equal(t, LocUnknown, c.Get("#a"))
	assert.Equal(t, "unknown", LocUnknown.String())
}
