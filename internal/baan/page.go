// Package baan drives the court reservation website through a browser page.
//
// Every operation takes a *Session, which owns the page. A session must be used
// by one caller at a time: the operations depend on transient page state
// (current URL, open dialogs) and must not be interleaved.
package baan

import (
	"context"
	"time"
)

// Page is the browser surface the site components need. Selectors are CSS
// selectors. Lookups never wait for an element to appear: a missing element is
// reported with ErrElementNotFound right away.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Location(ctx context.Context) (string, error)
	// WaitIdle blocks until no network requests have been in flight for a
	// short quiet period.
	WaitIdle(ctx context.Context) error

	Type(ctx context.Context, sel, text string, keyDelay time.Duration) error
	Click(ctx context.Context, sel string) error
	SetValue(ctx context.Context, sel, value string) error
	Exists(ctx context.Context, sel string) (bool, error)
	// Attrs returns the named attribute of every match, in document order.
	Attrs(ctx context.Context, sel, name string) ([]string, error)
	// Texts returns the trimmed text content of every match, in document order.
	Texts(ctx context.Context, sel string) ([]string, error)

	// ClickAndAcceptDialog clicks sel and accepts the confirm dialog it opens.
	// It fails with ErrDialogTimeout if no dialog shows up within timeout.
	ClickAndAcceptDialog(ctx context.Context, sel string, timeout time.Duration) error

	Screenshot(ctx context.Context) ([]byte, error)
}
