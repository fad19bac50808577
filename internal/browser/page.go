// Package browser owns the portal login automation: form filling with
// fallback selector probing, two-factor detection with a human-in-the-loop
// wait, and session capture/restore against the session store.
package browser

import (
	"context"
	"time"

	"github.com/Bmw4134/portalflow/internal/store"
)

// Page is the browser-automation primitive the controller drives. The
// production implementation is a chromedp tab; tests substitute a stub.
type Page interface {
	// Navigate loads the given URL and waits for the load event.
	Navigate(ctx context.Context, url string) error

	// WaitVisible blocks until the selector matches a visible node or the
	// timeout elapses.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error

	// Fill sets the value of the first element matching the selector.
	Fill(ctx context.Context, selector, value string) error

	// Click clicks the first element matching the selector.
	Click(ctx context.Context, selector string) error

	// PressEnter sends an Enter keypress to the element matching the
	// selector, the keyboard fallback when no submit control exists.
	PressEnter(ctx context.Context, selector string) error

	// URL returns the page's current location.
	URL(ctx context.Context) (string, error)

	// Cookies returns all cookies visible to the browser context.
	Cookies(ctx context.Context) ([]store.Cookie, error)

	// SetCookies installs cookies into the browser context.
	SetCookies(ctx context.Context, cookies []store.Cookie) error

	// Evaluate runs a script in the page and unmarshals the result into out.
	// Pass a nil out to discard the result.
	Evaluate(ctx context.Context, script string, out any) error

	// Screenshot captures the visible viewport as PNG.
	Screenshot(ctx context.Context) ([]byte, error)

	// Close releases the tab. Safe to call more than once.
	Close() error
}

// PageFactory opens fresh pages. Implemented by *Browser.
type PageFactory interface {
	NewPage(ctx context.Context) (Page, error)
}
