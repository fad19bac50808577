package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	cdpstorage "github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/Bmw4134/portalflow/internal/config"
	"github.com/Bmw4134/portalflow/internal/store"
)

// Browser owns a single Chrome process and hands out tabs. The process is
// launched lazily on the first NewPage call and torn down by Close.
type Browser struct {
	mu          sync.Mutex
	cfg         config.BrowserConfig
	logger      *slog.Logger
	allocCancel context.CancelFunc
	browserCtx  context.Context
	ctxCancel   context.CancelFunc
}

// NewBrowser creates a browser manager. No process is started yet.
func NewBrowser(cfg config.BrowserConfig, logger *slog.Logger) *Browser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Browser{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "browser")),
	}
}

// NewPage opens a fresh tab, launching the browser process if needed.
func (b *Browser) NewPage(ctx context.Context) (Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browserCtx == nil || b.browserCtx.Err() != nil {
		if err := b.launchLocked(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBrowserUnavailable, err)
		}
	}

	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)
	// Materialize the tab now so a dead browser surfaces here rather than
	// on the first action.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		b.teardownLocked()
		return nil, fmt.Errorf("%w: %v", ErrBrowserUnavailable, err)
	}

	return &chromedpPage{ctx: tabCtx, cancel: tabCancel, navTimeout: b.cfg.NavigateTimeout}, nil
}

// Close tears down the browser process.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.teardownLocked()
}

func (b *Browser) launchLocked() error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		// 2FA challenges need an operator watching the window, so headless
		// is opt-in via configuration.
		chromedp.Flag("headless", b.cfg.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.WindowSize(1280, 720),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, ctxCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx); err != nil {
		ctxCancel()
		allocCancel()
		return err
	}

	b.allocCancel = allocCancel
	b.browserCtx = browserCtx
	b.ctxCancel = ctxCancel
	b.logger.Info("browser_launched", slog.Bool("headless", b.cfg.Headless))
	return nil
}

func (b *Browser) teardownLocked() {
	if b.ctxCancel != nil {
		b.ctxCancel()
		b.ctxCancel = nil
	}
	if b.allocCancel != nil {
		b.allocCancel()
		b.allocCancel = nil
	}
	b.browserCtx = nil
}

// chromedpPage adapts one chromedp tab to the Page interface.
type chromedpPage struct {
	ctx        context.Context
	cancel     context.CancelFunc
	navTimeout time.Duration
	closeOnce  sync.Once
}

func (p *chromedpPage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx := p.ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(p.ctx, timeout)
		defer cancel()
	}
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(runCtx, actions...) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *chromedpPage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, p.navTimeout, chromedp.Navigate(url))
}

func (p *chromedpPage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return p.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (p *chromedpPage) Fill(ctx context.Context, selector, value string) error {
	return p.run(ctx, p.navTimeout, chromedp.SetValue(selector, value, chromedp.ByQuery))
}

func (p *chromedpPage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, p.navTimeout, chromedp.Click(selector, chromedp.ByQuery))
}

func (p *chromedpPage) PressEnter(ctx context.Context, selector string) error {
	return p.run(ctx, p.navTimeout, chromedp.SendKeys(selector, kb.Enter, chromedp.ByQuery))
}

func (p *chromedpPage) URL(ctx context.Context) (string, error) {
	var url string
	err := p.run(ctx, p.navTimeout, chromedp.Location(&url))
	return url, err
}

func (p *chromedpPage) Cookies(ctx context.Context) ([]store.Cookie, error) {
	var raw []*network.Cookie
	err := p.run(ctx, p.navTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = cdpstorage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}

	cookies := make([]store.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, store.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}
	return cookies, nil
}

func (p *chromedpPage) SetCookies(ctx context.Context, cookies []store.Cookie) error {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			expires := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			param.Expires = &expires
		}
		params = append(params, param)
	}
	return p.run(ctx, p.navTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		return cdpstorage.SetCookies(params).Do(ctx)
	}))
}

func (p *chromedpPage) Evaluate(ctx context.Context, script string, out any) error {
	if out == nil {
		var discard any
		out = &discard
	}
	return p.run(ctx, p.navTimeout, chromedp.Evaluate(script, out))
}

func (p *chromedpPage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, p.navTimeout, chromedp.CaptureScreenshot(&buf))
	return buf, err
}

func (p *chromedpPage) Close() error {
	p.closeOnce.Do(p.cancel)
	return nil
}
