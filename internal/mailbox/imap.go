// Package mailbox reads waiting list notifications from an IMAP inbox.
package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog/log"

	"github.com/cgduncan7/autobaan/internal/waitlist"
)

type Config struct {
	Addr     string // host:port
	Username string
	Password string
	Mailbox  string
	// Sender restricts the search to mail from this address.
	Sender string
	// Insecure dials without TLS, for local test servers.
	Insecure bool
	Timeout  time.Duration
}

// IMAP connects for every call; polls are a minute apart and an idle
// connection would only need keeping alive.
type IMAP struct {
	cfg Config
}

var _ waitlist.Mailbox = (*IMAP)(nil)

func New(cfg Config) (*IMAP, error) {
	if cfg.Addr == "" || cfg.Username == "" {
		return nil, errors.New("imap address and username are required")
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &IMAP{cfg: cfg}, nil
}

func (m *IMAP) connect(ctx context.Context) (*client.Client, func(), error) {
	var (
		c   *client.Client
		err error
	)
	if m.cfg.Insecure {
		c, err = client.Dial(m.cfg.Addr)
	} else {
		host, _, _ := strings.Cut(m.cfg.Addr, ":")
		c, err = client.DialTLS(m.cfg.Addr, &tls.Config{ServerName: host})
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial imap %s: %w", m.cfg.Addr, err)
	}
	c.Timeout = m.cfg.Timeout
	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })

	closeFn := func() {
		stop()
		if err := c.Logout(); err != nil {
			log.Ctx(ctx).Debug().Err(err).Msg("IMAP logout")
		}
	}
	if err := c.Login(m.cfg.Username, m.cfg.Password); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("imap login: %w", err)
	}
	if _, err := c.Select(m.cfg.Mailbox, false); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("select %s: %w", m.cfg.Mailbox, err)
	}
	return c, closeFn, nil
}

// Unseen fetches unread mail from the configured sender without marking it
// read.
func (m *IMAP) Unseen(ctx context.Context) ([]waitlist.Email, error) {
	c, closeFn, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	if m.cfg.Sender != "" {
		criteria.Header.Add("From", m.cfg.Sender)
	}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("search unseen: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	set := new(imap.SeqSet)
	set.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	msgs := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() { done <- c.UidFetch(set, items, msgs) }()

	var out []waitlist.Email
	for msg := range msgs {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		e, err := Parse(body)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Uint32("uid", msg.Uid).Msg("Skipping unreadable email")
			continue
		}
		e.UID = msg.Uid
		if e.ReceivedAt.IsZero() {
			e.ReceivedAt = msg.InternalDate
		}
		out = append(out, e)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return out, nil
}

func (m *IMAP) MarkRead(ctx context.Context, uids ...uint32) error {
	if len(uids) == 0 {
		return nil
	}
	c, closeFn, err := m.connect(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	set := new(imap.SeqSet)
	set.AddNum(uids...)
	flag := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.UidStore(set, flag, []any{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

var tagRe = regexp.MustCompile(`(?s)<[^>]*>`)

// Parse reads an RFC 5322 message. The body is the first text/plain part, or
// the first text/html part with its markup removed.
func Parse(r io.Reader) (waitlist.Email, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return waitlist.Email{}, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	var e waitlist.Email
	if e.Subject, err = mr.Header.Subject(); err != nil {
		return waitlist.Email{}, fmt.Errorf("subject: %w", err)
	}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		e.From = from[0].Address
	}
	if date, err := mr.Header.Date(); err == nil {
		e.ReceivedAt = date
	}

	var html string
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return waitlist.Email{}, fmt.Errorf("read part: %w", err)
		}
		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		b, err := io.ReadAll(p.Body)
		if err != nil {
			return waitlist.Email{}, fmt.Errorf("read body: %w", err)
		}
		switch ct {
		case "text/plain":
			e.Body = string(b)
			return e, nil
		case "text/html":
			if html == "" {
				html = string(b)
			}
		}
	}
	e.Body = htmlText(html)
	return e, nil
}

func htmlText(html string) string {
	s := strings.NewReplacer("<br>", "\n", "<br/>", "\n", "<br />", "\n", "</p>", "\n", "</div>", "\n", "</tr>", "\n").Replace(html)
	s = tagRe.ReplaceAllString(s, "")
	s = strings.NewReplacer("&nbsp;", " ", "&amp;", "&").Replace(s)
	return s
}
