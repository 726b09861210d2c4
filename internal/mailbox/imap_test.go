package mailbox

import (
	"strings"
	"testing"
)

const plainMessage = "From: Baan Reserveringen <noreply@baan.test>\r\n" +
	"To: alice@example.com\r\n" +
	"Subject: =?UTF-8?Q?Persoonlijke_wachtlijst_reservering_vrij?=\r\n" +
	"Date: Mon, 10 Jun 2024 14:02:11 +0200\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Datum: 10-06-2024\r\n" +
	"Begintijd: 18:00\r\n" +
	"Eindtijd: 18:45\r\n"

const multipartMessage = "From: noreply@baan.test\r\n" +
	"Subject: Persoonlijke wachtlijst reservering vrij\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=xyz\r\n" +
	"\r\n" +
	"--xyz\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Datum: 10-06-2024</p><p>Begintijd: 18:00</p><p>Eindtijd: 18:45</p>\r\n" +
	"--xyz--\r\n"

func TestParsePlain(t *testing.T) {
	e, err := Parse(strings.NewReader(plainMessage))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if e.From != "noreply@baan.test" {
		t.Fatalf("from = %q", e.From)
	}
	if e.Subject != "Persoonlijke wachtlijst reservering vrij" {
		t.Fatalf("subject = %q", e.Subject)
	}
	if !strings.Contains(e.Body, "Begintijd: 18:00") {
		t.Fatalf("body = %q", e.Body)
	}
	if e.ReceivedAt.IsZero() {
		t.Fatalf("date not parsed")
	}
}

func TestParseHTMLOnly(t *testing.T) {
	e, err := Parse(strings.NewReader(multipartMessage))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for _, line := range []string{"Datum: 10-06-2024", "Begintijd: 18:00", "Eindtijd: 18:45"} {
		if !strings.Contains(e.Body, line+"\n") {
			t.Fatalf("body missing line %q: %q", line, e.Body)
		}
	}
}

func TestNewRequiresAddress(t *testing.T) {
	if _, err := New(Config{Username: "u"}); err == nil {
		t.Fatalf("expected error without address")
	}
	m, err := New(Config{Addr: "imap.test:993", Username: "u"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.cfg.Mailbox != "INBOX" {
		t.Fatalf("mailbox = %q", m.cfg.Mailbox)
	}
}
