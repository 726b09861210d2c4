// Package browser implements baan.Page on top of a Chrome tab driven by
// chromedp.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"

	"github.com/cgduncan7/autobaan/internal/baan"
)

type Options struct {
	// RemoteURL points at a running Chrome's DevTools endpoint. When empty a
	// local Chrome is started.
	RemoteURL string
	Headless  bool
	UserAgent string
	// Timeout bounds every single page operation.
	Timeout time.Duration
	// IdleQuiet is how long the network must stay silent for WaitIdle.
	IdleQuiet time.Duration
}

func (o *Options) defaults() {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.IdleQuiet <= 0 {
		o.IdleQuiet = 500 * time.Millisecond
	}
}

// Browser is one Chrome tab.
type Browser struct {
	opts Options
	tab  context.Context

	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc

	inflight     atomic.Int64
	lastActivity atomic.Int64 // unix nanos
	pending      sync.Map     // network.RequestID -> struct{}
}

var _ baan.Page = (*Browser)(nil)

// New starts (or attaches to) Chrome and opens a tab with network tracking
// enabled. ctx only bounds startup; the tab lives until Close.
func New(ctx context.Context, opts Options) (*Browser, error) {
	opts.defaults()
	b := &Browser{opts: opts}

	var allocCtx context.Context
	if opts.RemoteURL != "" {
		allocCtx, b.cancelAlloc = chromedp.NewRemoteAllocator(context.Background(), opts.RemoteURL)
	} else {
		flags := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", opts.Headless),
			chromedp.NoSandbox,
			chromedp.WindowSize(1280, 1024),
		)
		if opts.UserAgent != "" {
			flags = append(flags, chromedp.UserAgent(opts.UserAgent))
		}
		allocCtx, b.cancelAlloc = chromedp.NewExecAllocator(context.Background(), flags...)
	}

	logger := log.With().Str("component", "browser").Logger()
	b.tab, b.cancelTab = chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) { logger.Debug().Msgf(format, args...) }),
		chromedp.WithErrorf(func(format string, args ...any) { logger.Error().Msgf(format, args...) }),
	)

	chromedp.ListenTarget(b.tab, b.onEvent)

	start, cancel := b.op(ctx)
	defer cancel()
	if err := chromedp.Run(start, network.Enable()); err != nil {
		b.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	b.touch()
	return b, nil
}

func (b *Browser) Close() {
	if b.cancelTab != nil {
		b.cancelTab()
	}
	if b.cancelAlloc != nil {
		b.cancelAlloc()
	}
}

func (b *Browser) onEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		if _, loaded := b.pending.LoadOrStore(e.RequestID, struct{}{}); !loaded {
			b.inflight.Add(1)
		}
		b.touch()
	case *network.EventLoadingFinished:
		b.done(e.RequestID)
	case *network.EventLoadingFailed:
		b.done(e.RequestID)
	}
}

func (b *Browser) done(id network.RequestID) {
	if _, ok := b.pending.LoadAndDelete(id); ok {
		b.inflight.Add(-1)
	}
	b.touch()
}

func (b *Browser) touch() { b.lastActivity.Store(time.Now().UnixNano()) }

// op derives a context that runs on the tab, is bounded by the operation
// timeout and is cancelled along with ctx.
func (b *Browser) op(ctx context.Context) (context.Context, context.CancelFunc) {
	c, cancel := context.WithTimeout(b.tab, b.opts.Timeout)
	stop := context.AfterFunc(ctx, cancel)
	return c, func() {
		stop()
		cancel()
	}
}

func (b *Browser) run(ctx context.Context, actions ...chromedp.Action) error {
	c, cancel := b.op(ctx)
	defer cancel()
	return chromedp.Run(c, actions...)
}

func (b *Browser) Navigate(ctx context.Context, url string) error {
	return b.run(ctx, chromedp.Navigate(url))
}

func (b *Browser) Location(ctx context.Context) (string, error) {
	var loc string
	err := b.run(ctx, chromedp.Location(&loc))
	return loc, err
}

func (b *Browser) WaitIdle(ctx context.Context) error {
	c, cancel := b.op(ctx)
	defer cancel()

	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		last := time.Unix(0, b.lastActivity.Load())
		if b.inflight.Load() <= 0 && time.Since(last) >= b.opts.IdleQuiet {
			return nil
		}
		select {
		case <-c.Done():
			return fmt.Errorf("wait for network idle: %w", c.Err())
		case <-tick.C:
		}
	}
}

func (b *Browser) node(ctx context.Context, sel string) (*cdp.Node, error) {
	var nodes []*cdp.Node
	if err := b.run(ctx, chromedp.Nodes(sel, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: %s", baan.ErrElementNotFound, sel)
	}
	return nodes[0], nil
}

func (b *Browser) Click(ctx context.Context, sel string) error {
	n, err := b.node(ctx, sel)
	if err != nil {
		return err
	}
	return b.run(ctx, chromedp.MouseClickNode(n))
}

// Type replaces the field's content key by key, the way a person would, so
// the site's search-as-you-type handlers fire.
func (b *Browser) Type(ctx context.Context, sel, text string, keyDelay time.Duration) error {
	n, err := b.node(ctx, sel)
	if err != nil {
		return err
	}
	if err := b.run(ctx, dom.Focus().WithNodeID(n.NodeID)); err != nil {
		return err
	}
	if err := b.eval(ctx, fmt.Sprintf(`(function(){ const el = document.querySelector(%s); el.value = ""; return true; })()`, quote(sel)), nil); err != nil {
		return err
	}
	for _, r := range text {
		if err := b.run(ctx, chromedp.KeyEvent(string(r))); err != nil {
			return err
		}
		if keyDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(keyDelay):
			}
		}
	}
	return nil
}

const setValueJS = `(function(sel, value) {
	const el = document.querySelector(sel);
	if (!el) return false;
	el.value = value;
	el.dispatchEvent(new Event("input", { bubbles: true }));
	el.dispatchEvent(new Event("change", { bubbles: true }));
	return true;
})(%s, %s)`

func (b *Browser) SetValue(ctx context.Context, sel, value string) error {
	var ok bool
	if err := b.eval(ctx, fmt.Sprintf(setValueJS, quote(sel), quote(value)), &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", baan.ErrElementNotFound, sel)
	}
	return nil
}

func (b *Browser) Exists(ctx context.Context, sel string) (bool, error) {
	var ok bool
	err := b.eval(ctx, fmt.Sprintf(`document.querySelector(%s) !== null`, quote(sel)), &ok)
	return ok, err
}

func (b *Browser) Attrs(ctx context.Context, sel, name string) ([]string, error) {
	var out []string
	err := b.eval(ctx, fmt.Sprintf(`Array.from(document.querySelectorAll(%s), el => el.getAttribute(%s) ?? "")`, quote(sel), quote(name)), &out)
	return out, err
}

func (b *Browser) Texts(ctx context.Context, sel string) ([]string, error) {
	var out []string
	err := b.eval(ctx, fmt.Sprintf(`Array.from(document.querySelectorAll(%s), el => el.textContent.trim())`, quote(sel)), &out)
	return out, err
}

// ClickAndAcceptDialog clicks sel and accepts the JavaScript dialog it opens.
// The click does not complete while the dialog is showing, so it runs in the
// background until the dialog has been handled.
func (b *Browser) ClickAndAcceptDialog(ctx context.Context, sel string, timeout time.Duration) error {
	n, err := b.node(ctx, sel)
	if err != nil {
		return err
	}

	listen, stopListen := context.WithCancel(b.tab)
	defer stopListen()
	opened := make(chan struct{}, 1)
	chromedp.ListenTarget(listen, func(ev any) {
		if _, ok := ev.(*page.EventJavascriptDialogOpening); ok {
			select {
			case opened <- struct{}{}:
			default:
			}
		}
	})

	clicked := make(chan error, 1)
	go func() { clicked <- b.run(ctx, chromedp.MouseClickNode(n)) }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-opened:
	case err := <-clicked:
		if err != nil {
			return err
		}
		select {
		case <-opened:
		case <-timer.C:
			return fmt.Errorf("%w after %s", baan.ErrDialogTimeout, timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
		clicked <- nil
	case <-timer.C:
		return fmt.Errorf("%w after %s", baan.ErrDialogTimeout, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := b.run(ctx, page.HandleJavaScriptDialog(true)); err != nil {
		return fmt.Errorf("accept dialog: %w", err)
	}
	if err := <-clicked; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Screenshot captures the full page as a JPEG.
func (b *Browser) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := b.run(ctx, chromedp.FullScreenshot(&buf, screenshotQuality))
	return buf, err
}

// Below 100 chromedp encodes JPEG instead of PNG.
const screenshotQuality = 90

func (b *Browser) eval(ctx context.Context, expr string, out any) error {
	return b.run(ctx, chromedp.Evaluate(expr, out))
}

func quote(s string) string {
	q, _ := json.Marshal(s)
	return string(q)
}
