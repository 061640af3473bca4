package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/mossline/revport/internal/content"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testClient(id string) content.Client {
	return content.Client{
		ID:          id,
		CompanyName: "Acme Realty",
		FirstName:   "Dana",
		PhoneNumber: "5551234567",
		Industry:    "real estate",
		CreatedAt:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func testItem(id, clientID string, createdAt time.Time) content.Item {
	return content.Item{
		ID:          id,
		ClientID:    clientID,
		Type:        content.TypeSocial,
		Title:       "Open house this weekend",
		Description: "Promo post",
		Content:     "Join us Saturday...",
		Status:      content.StatusPending,
		CreatedAt:   createdAt,
	}
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_content_items_client_created", "idx_content_items_status", "idx_reminder_events_created", "idx_jobs_status_run_after"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestClientRoundTrip(t *testing.T) {
	s := openTestStore(t)

	want := testClient("client-001")
	want.BrandVoice = "friendly, professional"
	if err := s.SaveClient(want); err != nil {
		t.Fatalf("SaveClient failed: %v", err)
	}

	got, err := s.GetClient("client-001")
	if err != nil {
		t.Fatalf("GetClient failed: %v", err)
	}
	if got.CompanyName != want.CompanyName || got.PhoneNumber != want.PhoneNumber || got.BrandVoice != want.BrandVoice {
		t.Errorf("GetClient = %+v, want %+v", got, want)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
}

func TestGetClient_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetClient("missing")
	if !errors.Is(err, content.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateClient(t *testing.T) {
	s := openTestStore(t)

	c := testClient("client-001")
	if err := s.SaveClient(c); err != nil {
		t.Fatalf("SaveClient failed: %v", err)
	}

	c.AINotes = "prefers short punchy copy"
	if err := s.UpdateClient(c); err != nil {
		t.Fatalf("UpdateClient failed: %v", err)
	}

	got, err := s.GetClient(c.ID)
	if err != nil {
		t.Fatalf("GetClient failed: %v", err)
	}
	if got.AINotes != "prefers short punchy copy" {
		t.Errorf("AINotes = %q, want updated value", got.AINotes)
	}

	if err := s.UpdateClient(testClient("missing")); !errors.Is(err, content.ErrNotFound) {
		t.Errorf("UpdateClient(missing) = %v, want ErrNotFound", err)
	}
}

func TestContentItemRoundTrip(t *testing.T) {
	s := openTestStore(t)

	created := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	want := testItem("item-001", "client-001", created)
	if err := s.UpsertContentItem(want); err != nil {
		t.Fatalf("UpsertContentItem failed: %v", err)
	}

	got, err := s.GetContentItem("item-001")
	if err != nil {
		t.Fatalf("GetContentItem failed: %v", err)
	}
	if got.Title != want.Title || got.Type != want.Type || got.Status != content.StatusPending {
		t.Errorf("GetContentItem = %+v, want %+v", got, want)
	}
	if !got.ReviewedAt.IsZero() {
		t.Errorf("ReviewedAt = %v, want zero for unreviewed item", got.ReviewedAt)
	}
	if len(got.Reminders) != 0 {
		t.Errorf("Reminders = %v, want empty", got.Reminders)
	}
}

func TestUpsertContentItem_UpdatesExisting(t *testing.T) {
	s := openTestStore(t)

	item := testItem("item-001", "client-001", time.Now().UTC())
	if err := s.UpsertContentItem(item); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	item.Title = "Revised title"
	if err := s.UpsertContentItem(item); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	got, err := s.GetContentItem("item-001")
	if err != nil {
		t.Fatalf("GetContentItem failed: %v", err)
	}
	if got.Title != "Revised title" {
		t.Errorf("Title = %q, want %q", got.Title, "Revised title")
	}

	items, err := s.ListContentItems()
	if err != nil {
		t.Fatalf("ListContentItems failed: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("item count = %d, want 1 (upsert must not duplicate)", len(items))
	}
}

func TestReviewContentItem(t *testing.T) {
	s := openTestStore(t)

	item := testItem("item-001", "client-001", time.Now().UTC())
	if err := s.UpsertContentItem(item); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	at := time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC)
	got, err := s.ReviewContentItem("item-001", content.StatusApproved, "looks good", at)
	if err != nil {
		t.Fatalf("ReviewContentItem failed: %v", err)
	}
	if got.Status != content.StatusApproved {
		t.Errorf("Status = %q, want approved", got.Status)
	}
	if got.Feedback != "looks good" {
		t.Errorf("Feedback = %q, want %q", got.Feedback, "looks good")
	}
	if !got.ReviewedAt.Equal(at) {
		t.Errorf("ReviewedAt = %v, want %v", got.ReviewedAt, at)
	}

	// Second review must fail without touching the row.
	_, err = s.ReviewContentItem("item-001", content.StatusRejected, "no", at.Add(time.Hour))
	if !errors.Is(err, content.ErrAlreadyReviewed) {
		t.Fatalf("second review err = %v, want ErrAlreadyReviewed", err)
	}
	check, err := s.GetContentItem("item-001")
	if err != nil {
		t.Fatalf("GetContentItem failed: %v", err)
	}
	if check.Status != content.StatusApproved || check.Feedback != "looks good" {
		t.Errorf("double review corrupted row: %+v", check)
	}
}

func TestReviewContentItem_InvalidTarget(t *testing.T) {
	s := openTestStore(t)

	item := testItem("item-001", "client-001", time.Now().UTC())
	if err := s.UpsertContentItem(item); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	_, err := s.ReviewContentItem("item-001", content.StatusPending, "", time.Now())
	if err == nil {
		t.Fatal("expected error for non-terminal target")
	}
	check, err := s.GetContentItem("item-001")
	if err != nil {
		t.Fatalf("GetContentItem failed: %v", err)
	}
	if check.Status != content.StatusPending || check.Feedback != "" {
		t.Errorf("rejected review touched row: %+v", check)
	}
}

func TestReviewContentItem_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.ReviewContentItem("missing", content.StatusApproved, "", time.Now())
	if !errors.Is(err, content.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMarkReminderSent_AtMostOncePerTier(t *testing.T) {
	s := openTestStore(t)

	item := testItem("item-001", "client-001", time.Now().UTC())
	if err := s.UpsertContentItem(item); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if err := s.MarkReminderSent("item-001", "48h", time.Now()); err != nil {
		t.Fatalf("first MarkReminderSent failed: %v", err)
	}
	if err := s.MarkReminderSent("item-001", "48h", time.Now()); err == nil {
		t.Fatal("duplicate MarkReminderSent succeeded, want primary key violation")
	}
	if err := s.MarkReminderSent("item-001", "7d", time.Now()); err != nil {
		t.Fatalf("MarkReminderSent(7d) failed: %v", err)
	}

	got, err := s.GetContentItem("item-001")
	if err != nil {
		t.Fatalf("GetContentItem failed: %v", err)
	}
	if len(got.Reminders) != 2 || got.Reminders[0] != "48h" || got.Reminders[1] != "7d" {
		t.Errorf("Reminders = %v, want [48h 7d]", got.Reminders)
	}
}

func TestListContentItems_AttachesReminders(t *testing.T) {
	s := openTestStore(t)

	now := time.Now().UTC()
	for _, id := range []string{"a", "b", "c"} {
		if err := s.UpsertContentItem(testItem(id, "client-001", now)); err != nil {
			t.Fatalf("insert %s failed: %v", id, err)
		}
	}
	if err := s.MarkReminderSent("b", "48h", now); err != nil {
		t.Fatalf("MarkReminderSent failed: %v", err)
	}

	items, err := s.ListContentItems()
	if err != nil {
		t.Fatalf("ListContentItems failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("item count = %d, want 3", len(items))
	}
	for _, item := range items {
		if item.ID == "b" {
			if len(item.Reminders) != 1 || item.Reminders[0] != "48h" {
				t.Errorf("item b Reminders = %v, want [48h]", item.Reminders)
			}
		} else if len(item.Reminders) != 0 {
			t.Errorf("item %s Reminders = %v, want empty", item.ID, item.Reminders)
		}
	}
}

func TestListContentItemsByClient(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		item := testItem(id, "client-001", base.Add(time.Duration(i)*time.Hour))
		if err := s.UpsertContentItem(item); err != nil {
			t.Fatalf("insert %s failed: %v", id, err)
		}
	}
	other := testItem("x", "client-002", base)
	if err := s.UpsertContentItem(other); err != nil {
		t.Fatalf("insert x failed: %v", err)
	}
	if _, err := s.ReviewContentItem("a", content.StatusApproved, "", base.Add(48*time.Hour)); err != nil {
		t.Fatalf("review failed: %v", err)
	}

	all, err := s.ListContentItemsByClient("client-001", "", 0)
	if err != nil {
		t.Fatalf("ListContentItemsByClient failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all count = %d, want 3", len(all))
	}
	// Most recent first.
	if all[0].ID != "c" {
		t.Errorf("first item = %s, want c (newest)", all[0].ID)
	}

	pending, err := s.ListContentItemsByClient("client-001", content.StatusPending, 0)
	if err != nil {
		t.Fatalf("ListContentItemsByClient(pending) failed: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("pending count = %d, want 2", len(pending))
	}

	limited, err := s.ListContentItemsByClient("client-001", "", 1)
	if err != nil {
		t.Fatalf("ListContentItemsByClient(limit) failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limited count = %d, want 1", len(limited))
	}
}

func TestReminderEvents(t *testing.T) {
	s := openTestStore(t)

	ev := ReminderEvent{
		ID:        "ev-001",
		ContentID: "item-001",
		ClientID:  "client-001",
		Tier:      "48h",
		Outcome:   "sent",
		CreatedAt: time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC),
	}
	if err := s.RecordReminderEvent(ev); err != nil {
		t.Fatalf("RecordReminderEvent failed: %v", err)
	}
	skip := ReminderEvent{
		ID:        "ev-002",
		ContentID: "item-002",
		Outcome:   "skipped",
		Reason:    "no-phone",
		CreatedAt: time.Date(2025, 2, 3, 9, 0, 1, 0, time.UTC),
	}
	if err := s.RecordReminderEvent(skip); err != nil {
		t.Fatalf("RecordReminderEvent(skip) failed: %v", err)
	}

	events, err := s.ListReminderEvents(10)
	if err != nil {
		t.Fatalf("ListReminderEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("event count = %d, want 2", len(events))
	}
	// Newest first.
	if events[0].ID != "ev-002" || events[0].Reason != "no-phone" {
		t.Errorf("events[0] = %+v, want ev-002 with no-phone reason", events[0])
	}
}

func TestJobLifecycle(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: "job-001", Type: "generate_content", PayloadJSON: `{"client_id":"client-001"}`}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}

	claimed, err := s.ClaimNextJob([]string{"generate_content"})
	if err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if claimed == nil {
		t.Fatal("ClaimNextJob returned nil, want job")
	}
	if claimed.Status != "running" {
		t.Errorf("Status = %q, want running", claimed.Status)
	}

	// A running job must not be claimable again.
	again, err := s.ClaimNextJob([]string{"generate_content"})
	if err != nil {
		t.Fatalf("second ClaimNextJob failed: %v", err)
	}
	if again != nil {
		t.Errorf("claimed running job again: %+v", again)
	}

	if err := s.CompleteJob("job-001"); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}
}

func TestFailJob_RetriesWithBackoffThenFails(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: "job-001", Type: "generate_content", PayloadJSON: `{}`, MaxAttempts: 2}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}

	if _, err := s.ClaimNextJob([]string{"generate_content"}); err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if err := s.FailJob("job-001", "gateway timeout"); err != nil {
		t.Fatalf("first FailJob failed: %v", err)
	}

	// First failure re-queues with a future run_after, so it is not
	// immediately claimable.
	j, err := s.ClaimNextJob([]string{"generate_content"})
	if err != nil {
		t.Fatalf("ClaimNextJob after fail: %v", err)
	}
	if j != nil {
		t.Errorf("claimed backed-off job immediately: %+v", j)
	}

	var status string
	if err := s.db.QueryRow(`SELECT status FROM jobs WHERE id = 'job-001'`).Scan(&status); err != nil {
		t.Fatalf("querying job status: %v", err)
	}
	if status != "pending" {
		t.Errorf("status after first failure = %q, want pending", status)
	}

	// Second failure exhausts max_attempts.
	if err := s.FailJob("job-001", "gateway timeout"); err != nil {
		t.Fatalf("second FailJob failed: %v", err)
	}
	if err := s.db.QueryRow(`SELECT status FROM jobs WHERE id = 'job-001'`).Scan(&status); err != nil {
		t.Fatalf("querying job status: %v", err)
	}
	if status != "failed" {
		t.Errorf("status after exhausted attempts = %q, want failed", status)
	}
}
