package baan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cgduncan7/autobaan/internal/identity"
)

const testBase = "https://baan.test"

func testSite() Site { return NewSite(testBase, time.UTC) }

// fakePage is an in-memory stand-in for the site. Selector lookups are
// answered from the maps; onClick hooks let a test change the page when
// something is clicked.
type fakePage struct {
	location      string
	loginRequired bool
	rejectLogin   bool

	attrs  map[string][]string // key: sel + "|" + attr
	texts  map[string][]string
	exists map[string]bool
	fail   map[string]error // key: selector or "navigate"

	onClick map[string]func()

	values   map[string]string
	typed    map[string]string
	calls    []string
	dialogs  []string
	loginHit int
}

func newFakePage() *fakePage {
	return &fakePage{
		attrs:   map[string][]string{},
		texts:   map[string][]string{},
		exists:  map[string]bool{},
		fail:    map[string]error{},
		onClick: map[string]func(){},
		values:  map[string]string{},
		typed:   map[string]string{},
	}
}

func (p *fakePage) record(format string, args ...any) {
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
}

func (p *fakePage) called(prefix string) int {
	n := 0
	for _, c := range p.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.record("navigate %s", url)
	if err := p.fail["navigate"]; err != nil {
		return err
	}
	switch {
	case strings.HasSuffix(url, pathLogout):
		p.loginRequired = true
		p.location = testBase + pathLogin
	case p.loginRequired:
		p.location = testBase + pathLogin
	default:
		p.location = url
	}
	return nil
}

func (p *fakePage) Location(context.Context) (string, error) { return p.location, nil }

func (p *fakePage) WaitIdle(context.Context) error { return nil }

func (p *fakePage) Type(_ context.Context, sel, text string, _ time.Duration) error {
	p.record("type %s %s", sel, text)
	if err := p.fail[sel]; err != nil {
		return err
	}
	p.typed[sel] = text
	return nil
}

func (p *fakePage) Click(_ context.Context, sel string) error {
	p.record("click %s", sel)
	if err := p.fail[sel]; err != nil {
		return err
	}
	if sel == selLoginSubmit {
		p.loginHit++
		if !p.rejectLogin {
			p.loginRequired = false
			p.location = testBase + pathOverview
		}
	}
	if hook := p.onClick[sel]; hook != nil {
		hook()
	}
	return nil
}

func (p *fakePage) SetValue(_ context.Context, sel, value string) error {
	p.record("set %s %s", sel, value)
	if err := p.fail[sel]; err != nil {
		return err
	}
	p.values[sel] = value
	return nil
}

func (p *fakePage) Exists(_ context.Context, sel string) (bool, error) {
	if err := p.fail[sel]; err != nil {
		return false, err
	}
	return p.exists[sel], nil
}

func (p *fakePage) Attrs(_ context.Context, sel, name string) ([]string, error) {
	if err := p.fail[sel]; err != nil {
		return nil, err
	}
	return p.attrs[sel+"|"+name], nil
}

func (p *fakePage) Texts(_ context.Context, sel string) ([]string, error) {
	if err := p.fail[sel]; err != nil {
		return nil, err
	}
	return p.texts[sel], nil
}

func (p *fakePage) ClickAndAcceptDialog(_ context.Context, sel string, _ time.Duration) error {
	p.record("dialog %s", sel)
	if err := p.fail[sel]; err != nil {
		return err
	}
	p.dialogs = append(p.dialogs, sel)
	if hook := p.onClick[sel]; hook != nil {
		hook()
	}
	return nil
}

func (p *fakePage) Screenshot(context.Context) ([]byte, error) { return []byte("png"), nil }

type fakeCredentials map[string]identity.Identity

func (f fakeCredentials) Lookup(_ context.Context, ownerID string) (identity.Identity, error) {
	id, ok := f[ownerID]
	if !ok {
		return identity.Identity{}, fmt.Errorf("no identity %s", ownerID)
	}
	return id, nil
}
