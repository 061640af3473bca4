package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mossline/revport/internal/content"
	"github.com/mossline/revport/internal/notify"
	"github.com/mossline/revport/internal/storage"
)

// Tier names and thresholds are external contract: any compatible caller
// relies on these exact identifiers and hour marks.
const (
	Tier48h = "48h"
	Tier7d  = "7d"
)

// Skip reasons recorded for items excluded from a pass.
const (
	ReasonNoUser  = "no-user"
	ReasonNoPhone = "no-phone"
)

const (
	defaultSendTimeout = 10 * time.Second
	sendConcurrency    = 4
)

type tierSpec struct {
	name      string
	threshold time.Duration
	message   func(title, portalURL string) string
}

// tiers is ordered highest threshold first. Tier selection walks this list
// and picks the first tier whose threshold is crossed and which has not been
// sent yet. Tiers are independent checks, not a required sequence: an item
// past seven days that never got the 48h nudge receives the 7d message.
var tiers = []tierSpec{
	{
		name:      Tier7d,
		threshold: 168 * time.Hour,
		message: func(title, portalURL string) string {
			return fmt.Sprintf("⏰ Reminder: You still have content pending review from 7 days ago. %q is waiting for your approval. Check your portal: %s", title, portalURL)
		},
	},
	{
		name:      Tier48h,
		threshold: 48 * time.Hour,
		message: func(title, portalURL string) string {
			return fmt.Sprintf("⏰ Reminder: You have content ready for review! %q has been pending for 2 days. Take a quick look: %s", title, portalURL)
		},
	},
}

// Store is the persistence surface the scheduler needs. Implemented by
// storage.Store.
type Store interface {
	ListContentItems() ([]content.Item, error)
	ListClients() ([]content.Client, error)
	MarkReminderSent(contentID, tier string, at time.Time) error
	RecordReminderEvent(ev storage.ReminderEvent) error
}

// Notifier delivers one text message. Implemented by notify.TwilioClient.
type Notifier interface {
	Send(ctx context.Context, to, body string) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Detail is one itemized outcome from a scheduler pass.
type Detail struct {
	ItemID   string `json:"item_id"`
	ClientID string `json:"client_id,omitempty"`
	Title    string `json:"title,omitempty"`
	Tier     string `json:"tier,omitempty"`
	Outcome  string `json:"outcome"` // "sent" or "skipped"
	Reason   string `json:"reason,omitempty"`
}

// Report aggregates one scheduler pass.
type Report struct {
	Sent48h int      `json:"sent_48h"`
	Sent7d  int      `json:"sent_7d"`
	Skipped int      `json:"skipped"`
	Details []Detail `json:"details"`
}

// Scheduler decides which pending content items are due for an escalating
// reminder, sends each due tier at most once, and records the outcome.
type Scheduler struct {
	store       Store
	notifier    Notifier
	clock       Clock
	portalURL   string
	sendTimeout time.Duration
	logger      *slog.Logger

	// mu serializes passes: overlapping runs against a stale snapshot could
	// double-send a tier.
	mu sync.Mutex
}

// New creates a Scheduler. The notifier may be nil when SMS is not
// configured; Run then fails before any per-item work.
func New(store Store, notifier Notifier, portalURL string) *Scheduler {
	return &Scheduler{
		store:       store,
		notifier:    notifier,
		clock:       realClock{},
		portalURL:   portalURL,
		sendTimeout: defaultSendTimeout,
		logger:      slog.Default(),
	}
}

// NewWithClock creates a Scheduler with a custom clock (for testing).
func NewWithClock(store Store, notifier Notifier, portalURL string, clock Clock) *Scheduler {
	s := New(store, notifier, portalURL)
	s.clock = clock
	return s
}

// dispatch is one decided send: an item, its owner, and the chosen tier.
type dispatch struct {
	item   content.Item
	client content.Client
	tier   tierSpec
}

// Run executes one reminder pass over the full content snapshot. Per-item
// delivery failures are recorded and do not abort the pass; the failed tier
// stays eligible for the next invocation. Only a missing notifier or a
// snapshot load failure aborts the whole run.
func (s *Scheduler) Run(ctx context.Context) (Report, error) {
	if s.notifier == nil {
		return Report{}, notify.ErrNotConfigured
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.store.ListContentItems()
	if err != nil {
		return Report{}, fmt.Errorf("loading content items: %w", err)
	}
	clients, err := s.store.ListClients()
	if err != nil {
		return Report{}, fmt.Errorf("loading clients: %w", err)
	}

	clientsByID := make(map[string]content.Client, len(clients))
	for _, c := range clients {
		clientsByID[c.ID] = c
	}

	now := s.clock.Now()
	var report Report
	var due []dispatch

	for _, item := range items {
		if item.Status != content.StatusPending {
			continue
		}

		client, ok := clientsByID[item.ClientID]
		if !ok {
			report.Details = append(report.Details, s.skip(item, "", "", ReasonNoUser, now))
			continue
		}
		if client.PhoneNumber == "" {
			report.Details = append(report.Details, s.skip(item, client.ID, "", ReasonNoPhone, now))
			continue
		}

		// Highest threshold first; at most one tier per item per pass.
		for _, t := range tiers {
			if item.Age(now) >= t.threshold && !item.Reminded(t.name) {
				due = append(due, dispatch{item: item, client: client, tier: t})
				break
			}
		}
	}

	// Items are independent: deliver concurrently, bounded, collecting one
	// outcome per dispatch.
	outcomes := make([]Detail, len(due))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(sendConcurrency)
	for i, d := range due {
		g.Go(func() error {
			outcomes[i] = s.deliver(gCtx, d, now)
			return nil
		})
	}
	g.Wait()

	for _, d := range outcomes {
		report.Details = append(report.Details, d)
		if d.Outcome == "sent" {
			switch d.Tier {
			case Tier48h:
				report.Sent48h++
			case Tier7d:
				report.Sent7d++
			}
		}
	}
	report.Skipped = len(report.Details) - report.Sent48h - report.Sent7d

	s.logger.Info("reminder pass complete",
		"sent_48h", report.Sent48h,
		"sent_7d", report.Sent7d,
		"skipped", report.Skipped,
	)
	return report, nil
}

// deliver sends one reminder and records the outcome. The tier marker is
// persisted only on delivery success, so a failed send is naturally retried
// on the next pass.
func (s *Scheduler) deliver(ctx context.Context, d dispatch, now time.Time) Detail {
	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	body := d.tier.message(d.item.Title, s.portalURL)
	if err := s.notifier.Send(sendCtx, d.client.PhoneNumber, body); err != nil {
		s.logger.Warn("reminder delivery failed",
			"item_id", d.item.ID, "client_id", d.client.ID, "tier", d.tier.name, "error", err)
		return s.skip(d.item, d.client.ID, d.tier.name, fmt.Sprintf("delivery-failed: %v", err), now)
	}

	if err := s.store.MarkReminderSent(d.item.ID, d.tier.name, now); err != nil {
		// The SMS went out but the marker write failed; the next pass will
		// resend. Record it as skipped so the operator can see the anomaly.
		s.logger.Error("recording reminder failed",
			"item_id", d.item.ID, "tier", d.tier.name, "error", err)
		return s.skip(d.item, d.client.ID, d.tier.name, fmt.Sprintf("record-failed: %v", err), now)
	}

	s.recordEvent(storage.ReminderEvent{
		ID:        uuid.New().String(),
		ContentID: d.item.ID,
		ClientID:  d.client.ID,
		Tier:      d.tier.name,
		Outcome:   "sent",
		CreatedAt: now,
	})

	return Detail{
		ItemID:   d.item.ID,
		ClientID: d.client.ID,
		Title:    d.item.Title,
		Tier:     d.tier.name,
		Outcome:  "sent",
	}
}

func (s *Scheduler) skip(item content.Item, clientID, tier, reason string, now time.Time) Detail {
	s.recordEvent(storage.ReminderEvent{
		ID:        uuid.New().String(),
		ContentID: item.ID,
		ClientID:  clientID,
		Tier:      tier,
		Outcome:   "skipped",
		Reason:    reason,
		CreatedAt: now,
	})
	return Detail{
		ItemID:   item.ID,
		ClientID: clientID,
		Title:    item.Title,
		Tier:     tier,
		Outcome:  "skipped",
		Reason:   reason,
	}
}

func (s *Scheduler) recordEvent(ev storage.ReminderEvent) {
	if err := s.store.RecordReminderEvent(ev); err != nil {
		s.logger.Warn("recording reminder event failed", "content_id", ev.ContentID, "error", err)
	}
}
