package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	err   error
	ctxOK bool
}

func (f *fakeSender) Send(ctx context.Context, recipient, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, recipient+"|"+subject)
	f.ctxOK = ctx.Err() == nil
	return f.err
}

type recorder struct{ kinds []Kind }

func (r *recorder) Notify(_ context.Context, e Event) { r.kinds = append(r.kinds, e.Kind) }

func testEvent(k Kind) Event {
	return Event{
		Kind:          k,
		ReservationID: "r-1",
		OwnerID:       "alice",
		Start:         time.Date(2024, 6, 10, 18, 0, 0, 0, time.UTC),
		End:           time.Date(2024, 6, 10, 18, 45, 0, 0, time.UTC),
		Detail:        "court 53",
	}
}

func TestMailSendsInBackgroundWithDetachedContext(t *testing.T) {
	s := &fakeSender{}
	m := &Mail{Sender: s, Recipient: "ops@example.com"}

	ctx, cancel := context.WithCancel(context.Background())
	m.Notify(ctx, testEvent(KindWaitlisted))
	cancel()
	m.Wait()

	if len(s.sent) != 1 {
		t.Fatalf("sent %d mails, want 1", len(s.sent))
	}
	if !strings.HasPrefix(s.sent[0], "ops@example.com|On the waiting list") {
		t.Fatalf("sent %q", s.sent[0])
	}
	if !s.ctxOK {
		t.Fatalf("send context was cancelled with the caller")
	}
}

func TestMailFailureIsSwallowed(t *testing.T) {
	s := &fakeSender{err: errors.New("throttled")}
	m := &Mail{Sender: s, Recipient: "ops@example.com"}
	m.Notify(context.Background(), testEvent(KindError))
	m.Wait()
	if len(s.sent) != 1 {
		t.Fatalf("sent %d mails, want 1", len(s.sent))
	}
}

func TestMailKindsFilter(t *testing.T) {
	s := &fakeSender{}
	m := &Mail{Sender: s, Recipient: "ops@example.com", Kinds: []Kind{KindBooked, KindError}}
	m.Notify(context.Background(), testEvent(KindPerforming))
	m.Notify(context.Background(), testEvent(KindBooked))
	m.Wait()
	if len(s.sent) != 1 {
		t.Fatalf("sent %v, want only the booked mail", s.sent)
	}
}

func TestMulti(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Multi{a, nil, b}.Notify(context.Background(), testEvent(KindBooked))
	if len(a.kinds) != 1 || len(b.kinds) != 1 {
		t.Fatalf("a=%v b=%v", a.kinds, b.kinds)
	}
}

func TestEventBody(t *testing.T) {
	body := testEvent(KindBooked).Body()
	for _, want := range []string{"Reservation: r-1", "Owner: alice", "2024-06-10T18:00:00Z", "court 53"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}
}
