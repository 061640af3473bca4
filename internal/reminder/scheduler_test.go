package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mossline/revport/internal/content"
	"github.com/mossline/revport/internal/notify"
	"github.com/mossline/revport/internal/storage"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeStore struct {
	mu      sync.Mutex
	items   map[string]*content.Item
	clients []content.Client
	events  []storage.ReminderEvent
	markErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: make(map[string]*content.Item)}
}

func (f *fakeStore) addItem(item content.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := item
	f.items[item.ID] = &copied
}

func (f *fakeStore) ListContentItems() ([]content.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]content.Item, 0, len(f.items))
	for _, it := range f.items {
		copied := *it
		copied.Reminders = append([]string(nil), it.Reminders...)
		out = append(out, copied)
	}
	return out, nil
}

func (f *fakeStore) ListClients() ([]content.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]content.Client(nil), f.clients...), nil
}

func (f *fakeStore) MarkReminderSent(contentID, tier string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	it, ok := f.items[contentID]
	if !ok {
		return content.ErrNotFound
	}
	for _, t := range it.Reminders {
		if t == tier {
			return fmt.Errorf("reminder %s/%s already recorded", contentID, tier)
		}
	}
	it.Reminders = append(it.Reminders, tier)
	return nil
}

func (f *fakeStore) RecordReminderEvent(ev storage.ReminderEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

type sentMessage struct {
	to   string
	body string
}

type fakeNotifier struct {
	mu     sync.Mutex
	sent   []sentMessage
	failTo map[string]error
}

func (f *fakeNotifier) Send(_ context.Context, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failTo[to]; ok {
		return err
	}
	f.sent = append(f.sent, sentMessage{to: to, body: body})
	return nil
}

func (f *fakeNotifier) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func testClient(id, phone string) content.Client {
	return content.Client{ID: id, CompanyName: "Acme Homes", FirstName: "Dana", PhoneNumber: phone}
}

func pendingItem(id, clientID string, created time.Time) content.Item {
	return content.Item{
		ID:        id,
		ClientID:  clientID,
		Type:      content.TypeSocial,
		Title:     "Spring listing tips",
		Status:    content.StatusPending,
		CreatedAt: created,
	}
}

func runAt(t *testing.T, store *fakeStore, notifier *fakeNotifier, now time.Time) Report {
	t.Helper()
	s := NewWithClock(store, notifier, "https://portal.example.com", fixedClock{t: now})
	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return report
}

func TestRunBeforeThresholdSendsNothing(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.clients = []content.Client{testClient("c1", "+15551230001")}
	store.addItem(pendingItem("i1", "c1", t0))
	notifier := &fakeNotifier{}

	report := runAt(t, store, notifier, t0.Add(47*time.Hour))

	if len(notifier.messages()) != 0 {
		t.Fatalf("expected no messages, got %d", len(notifier.messages()))
	}
	if report.Sent48h != 0 || report.Sent7d != 0 || len(report.Details) != 0 {
		t.Fatalf("expected empty report, got %+v", report)
	}
}

func TestRunSends48hOnce(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.clients = []content.Client{testClient("c1", "+15551230001")}
	store.addItem(pendingItem("i1", "c1", t0))
	notifier := &fakeNotifier{}

	report := runAt(t, store, notifier, t0.Add(49*time.Hour))
	if report.Sent48h != 1 {
		t.Fatalf("Sent48h = %d, want 1", report.Sent48h)
	}
	msgs := notifier.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].to != "+15551230001" {
		t.Errorf("to = %q", msgs[0].to)
	}
	if !strings.Contains(msgs[0].body, "Spring listing tips") {
		t.Errorf("body missing title: %q", msgs[0].body)
	}
	if !strings.Contains(msgs[0].body, "https://portal.example.com") {
		t.Errorf("body missing portal link: %q", msgs[0].body)
	}

	// Same tier is never sent twice, even hours later.
	report = runAt(t, store, notifier, t0.Add(60*time.Hour))
	if report.Sent48h != 0 {
		t.Fatalf("second pass Sent48h = %d, want 0", report.Sent48h)
	}
	if len(notifier.messages()) != 1 {
		t.Fatalf("expected still 1 message, got %d", len(notifier.messages()))
	}
}

func TestRunEscalatesTo7dAfter48h(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.clients = []content.Client{testClient("c1", "+15551230001")}
	store.addItem(pendingItem("i1", "c1", t0))
	notifier := &fakeNotifier{}

	runAt(t, store, notifier, t0.Add(49*time.Hour))
	report := runAt(t, store, notifier, t0.Add(169*time.Hour))

	if report.Sent7d != 1 || report.Sent48h != 0 {
		t.Fatalf("report = %+v, want exactly one 7d send", report)
	}
	msgs := notifier.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if !strings.Contains(msgs[1].body, "7 days") {
		t.Errorf("second message should be the 7d body: %q", msgs[1].body)
	}

	// Both tiers exhausted: further passes are quiet.
	report = runAt(t, store, notifier, t0.Add(400*time.Hour))
	if report.Sent48h != 0 || report.Sent7d != 0 {
		t.Fatalf("exhausted item produced sends: %+v", report)
	}
}

func TestRunSends7dWithout48h(t *testing.T) {
	// An item discovered past the 7d mark receives the 7d message directly.
	// The 48h tier is not sent retroactively.
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.clients = []content.Client{testClient("c1", "+15551230001")}
	store.addItem(pendingItem("i1", "c1", t0))
	notifier := &fakeNotifier{}

	report := runAt(t, store, notifier, t0.Add(170*time.Hour))

	if report.Sent7d != 1 || report.Sent48h != 0 {
		t.Fatalf("report = %+v, want one 7d send and no 48h send", report)
	}
	msgs := notifier.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].body, "7 days") {
		t.Fatalf("expected a single 7d message, got %+v", msgs)
	}
	items, _ := store.ListContentItems()
	if items[0].Reminded(Tier48h) {
		t.Error("48h tier should not be marked when skipped over")
	}
	if !items[0].Reminded(Tier7d) {
		t.Error("7d tier should be marked")
	}
}

func TestRunIgnoresReviewedItems(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.clients = []content.Client{testClient("c1", "+15551230001")}

	approved := pendingItem("i1", "c1", t0)
	approved.Status = content.StatusApproved
	rejected := pendingItem("i2", "c1", t0)
	rejected.Status = content.StatusRejected
	store.addItem(approved)
	store.addItem(rejected)
	notifier := &fakeNotifier{}

	report := runAt(t, store, notifier, t0.Add(200*time.Hour))
	if len(notifier.messages()) != 0 || len(report.Details) != 0 {
		t.Fatalf("reviewed items produced activity: %+v", report)
	}
}

func TestRunSkipsMissingClientAndPhone(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.clients = []content.Client{testClient("c-nophone", "")}
	store.addItem(pendingItem("i-orphan", "c-gone", t0))
	store.addItem(pendingItem("i-nophone", "c-nophone", t0))
	notifier := &fakeNotifier{}

	report := runAt(t, store, notifier, t0.Add(72*time.Hour))

	if len(notifier.messages()) != 0 {
		t.Fatalf("expected no messages, got %d", len(notifier.messages()))
	}
	if report.Skipped != 2 {
		t.Fatalf("Skipped = %d, want 2", report.Skipped)
	}
	reasons := make(map[string]string)
	for _, d := range report.Details {
		if d.Outcome != "skipped" {
			t.Errorf("unexpected outcome %q for %s", d.Outcome, d.ItemID)
		}
		reasons[d.ItemID] = d.Reason
	}
	if reasons["i-orphan"] != ReasonNoUser {
		t.Errorf("orphan reason = %q, want %q", reasons["i-orphan"], ReasonNoUser)
	}
	if reasons["i-nophone"] != ReasonNoPhone {
		t.Errorf("no-phone reason = %q, want %q", reasons["i-nophone"], ReasonNoPhone)
	}
}

func TestRunDeliveryFailureRetriesNextPass(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.clients = []content.Client{testClient("c1", "+15551230001")}
	store.addItem(pendingItem("i1", "c1", t0))
	notifier := &fakeNotifier{failTo: map[string]error{"+15551230001": errors.New("carrier unavailable")}}

	report := runAt(t, store, notifier, t0.Add(49*time.Hour))
	if report.Sent48h != 0 || report.Skipped != 1 {
		t.Fatalf("failed delivery report = %+v", report)
	}
	if !strings.Contains(report.Details[0].Reason, "delivery-failed") {
		t.Errorf("reason = %q", report.Details[0].Reason)
	}
	items, _ := store.ListContentItems()
	if items[0].Reminded(Tier48h) {
		t.Fatal("tier must not be marked when delivery fails")
	}

	// Delivery recovers; the same tier goes out on the next pass.
	notifier.failTo = nil
	report = runAt(t, store, notifier, t0.Add(50*time.Hour))
	if report.Sent48h != 1 {
		t.Fatalf("retry pass Sent48h = %d, want 1", report.Sent48h)
	}
}

func TestRunMarkFailureResendsNextPass(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.clients = []content.Client{testClient("c1", "+15551230001")}
	store.addItem(pendingItem("i1", "c1", t0))
	store.markErr = errors.New("disk full")
	notifier := &fakeNotifier{}

	// The message goes out but the tier marker cannot be written, so the
	// pass reports a skip instead of a send.
	report := runAt(t, store, notifier, t0.Add(49*time.Hour))
	if report.Sent48h != 0 || report.Skipped != 1 {
		t.Fatalf("mark failure report = %+v", report)
	}
	if !strings.Contains(report.Details[0].Reason, "record-failed") {
		t.Errorf("reason = %q", report.Details[0].Reason)
	}
	if got := len(notifier.messages()); got != 1 {
		t.Fatalf("messages sent = %d, want 1", got)
	}
	items, _ := store.ListContentItems()
	if items[0].Reminded(Tier48h) {
		t.Fatal("tier must not be marked when the write fails")
	}

	// Once the marker write recovers the client gets the message again.
	store.mu.Lock()
	store.markErr = nil
	store.mu.Unlock()
	report = runAt(t, store, notifier, t0.Add(50*time.Hour))
	if report.Sent48h != 1 {
		t.Fatalf("retry pass Sent48h = %d, want 1", report.Sent48h)
	}
	if got := len(notifier.messages()); got != 2 {
		t.Fatalf("messages sent = %d, want 2", got)
	}
}

func TestRunWithoutNotifier(t *testing.T) {
	store := newFakeStore()
	s := New(store, nil, "https://portal.example.com")
	_, err := s.Run(context.Background())
	if !errors.Is(err, notify.ErrNotConfigured) {
		t.Fatalf("err = %v, want notify.ErrNotConfigured", err)
	}
}

func TestRunRecordsAuditEvents(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.clients = []content.Client{testClient("c1", "+15551230001")}
	store.addItem(pendingItem("i1", "c1", t0))
	store.addItem(pendingItem("i2", "c-gone", t0))
	notifier := &fakeNotifier{}

	runAt(t, store, notifier, t0.Add(49*time.Hour))

	if len(store.events) != 2 {
		t.Fatalf("expected 2 audit events, got %d", len(store.events))
	}
	byItem := make(map[string]storage.ReminderEvent)
	for _, ev := range store.events {
		if ev.ID == "" {
			t.Error("event missing id")
		}
		byItem[ev.ContentID] = ev
	}
	if ev := byItem["i1"]; ev.Outcome != "sent" || ev.Tier != Tier48h {
		t.Errorf("i1 event = %+v", ev)
	}
	if ev := byItem["i2"]; ev.Outcome != "skipped" || ev.Reason != ReasonNoUser {
		t.Errorf("i2 event = %+v", ev)
	}
}

func TestReminderTimeline(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.clients = []content.Client{testClient("c1", "+15551230001")}
	store.addItem(pendingItem("i1", "c1", t0))
	store.addItem(pendingItem("i2", "c1", t0))
	notifier := &fakeNotifier{}

	// Too early: nothing fires.
	report := runAt(t, store, notifier, t0.Add(47*time.Hour))
	if len(notifier.messages()) != 0 {
		t.Fatalf("47h pass sent %d messages", len(notifier.messages()))
	}

	// Two days in: each pending item gets its 48h nudge.
	report = runAt(t, store, notifier, t0.Add(49*time.Hour))
	if report.Sent48h != 2 {
		t.Fatalf("49h pass Sent48h = %d, want 2", report.Sent48h)
	}

	// One item is reviewed and leaves the escalation path.
	store.mu.Lock()
	store.items["i1"].Status = content.StatusApproved
	store.mu.Unlock()

	// A week in: only the still-pending item escalates.
	report = runAt(t, store, notifier, t0.Add(170*time.Hour))
	if report.Sent7d != 1 {
		t.Fatalf("170h pass Sent7d = %d, want 1", report.Sent7d)
	}
	var last sentMessage
	msgs := notifier.messages()
	last = msgs[len(msgs)-1]
	if last.to != "+15551230001" || !strings.Contains(last.body, "7 days") {
		t.Fatalf("unexpected final message: %+v", last)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages total, got %d", len(msgs))
	}
}
