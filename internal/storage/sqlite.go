package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mossline/revport/internal/content"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for clients, content items,
// reminder records, and background jobs.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "revport.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		migration, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(migration)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Clients ---

const clientColumns = `id, company_name, first_name, phone_number, industry, target_audience,
	goals, brand_voice, differentiators, primary_markets, ai_notes, created_at`

func (s *Store) SaveClient(c content.Client) error {
	_, err := s.db.Exec(`
		INSERT INTO clients (`+clientColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.CompanyName, c.FirstName, c.PhoneNumber, c.Industry, c.TargetAudience,
		c.Goals, c.BrandVoice, c.Differentiators, c.PrimaryMarkets, c.AINotes,
		c.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) UpdateClient(c content.Client) error {
	res, err := s.db.Exec(`
		UPDATE clients SET company_name = ?, first_name = ?, phone_number = ?, industry = ?,
			target_audience = ?, goals = ?, brand_voice = ?, differentiators = ?,
			primary_markets = ?, ai_notes = ?
		WHERE id = ?`,
		c.CompanyName, c.FirstName, c.PhoneNumber, c.Industry, c.TargetAudience,
		c.Goals, c.BrandVoice, c.Differentiators, c.PrimaryMarkets, c.AINotes, c.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return content.ErrNotFound
	}
	return nil
}

func (s *Store) GetClient(id string) (content.Client, error) {
	row := s.db.QueryRow(`SELECT `+clientColumns+` FROM clients WHERE id = ?`, id)
	c, err := scanClient(row)
	if err == sql.ErrNoRows {
		return content.Client{}, content.ErrNotFound
	}
	return c, err
}

func (s *Store) ListClients() ([]content.Client, error) {
	rows, err := s.db.Query(`SELECT ` + clientColumns + ` FROM clients ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []content.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row rowScanner) (content.Client, error) {
	var c content.Client
	var createdAt string
	err := row.Scan(&c.ID, &c.CompanyName, &c.FirstName, &c.PhoneNumber, &c.Industry,
		&c.TargetAudience, &c.Goals, &c.BrandVoice, &c.Differentiators, &c.PrimaryMarkets,
		&c.AINotes, &createdAt)
	if err != nil {
		return content.Client{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return content.Client{}, fmt.Errorf("parsing created_at: %w", err)
	}
	c.CreatedAt = t
	return c, nil
}

// --- Content items ---

const itemColumns = `id, client_id, type, title, description, content, status, feedback, created_at, reviewed_at`

// UpsertContentItem inserts the item or, if the id already exists, replaces
// its mutable fields. The reminder log lives in its own table and is not
// touched here.
func (s *Store) UpsertContentItem(item content.Item) error {
	var reviewedAt any
	if !item.ReviewedAt.IsZero() {
		reviewedAt = item.ReviewedAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.Exec(`
		INSERT INTO content_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type, title = excluded.title, description = excluded.description,
			content = excluded.content, status = excluded.status, feedback = excluded.feedback,
			reviewed_at = excluded.reviewed_at`,
		item.ID, item.ClientID, string(item.Type), item.Title, item.Description, item.Content,
		string(item.Status), item.Feedback, item.CreatedAt.UTC().Format(time.RFC3339), reviewedAt,
	)
	return err
}

func (s *Store) GetContentItem(id string) (content.Item, error) {
	row := s.db.QueryRow(`SELECT `+itemColumns+` FROM content_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return content.Item{}, content.ErrNotFound
	}
	if err != nil {
		return content.Item{}, err
	}

	reminders, err := s.remindersFor(id)
	if err != nil {
		return content.Item{}, err
	}
	item.Reminders = reminders
	return item, nil
}

// ListContentItems returns every content item with its reminder log attached.
func (s *Store) ListContentItems() ([]content.Item, error) {
	rows, err := s.db.Query(`SELECT ` + itemColumns + ` FROM content_items ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, err
	}
	return s.attachReminders(items)
}

// ListContentItemsByClient filters by client and, when status is non-empty,
// by status. A limit <= 0 means no limit.
func (s *Store) ListContentItemsByClient(clientID string, status content.Status, limit int) ([]content.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM content_items WHERE client_id = ?`
	args := []any{clientID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, err
	}
	return s.attachReminders(items)
}

// ReviewContentItem atomically moves a pending item to approved or rejected.
// Returns content.ErrNotFound if the item does not exist and
// content.ErrAlreadyReviewed if it has already left the pending state.
func (s *Store) ReviewContentItem(id string, target content.Status, feedback string, at time.Time) (content.Item, error) {
	item, err := s.GetContentItem(id)
	if err != nil {
		return content.Item{}, err
	}
	if err := content.Transition(&item, target, feedback, at); err != nil {
		return content.Item{}, err
	}

	// The status guard keeps a concurrent reviewer from overwriting a
	// verdict written between the read above and this update.
	res, err := s.db.Exec(`
		UPDATE content_items SET status = ?, feedback = ?, reviewed_at = ?
		WHERE id = ? AND status = ?`,
		string(item.Status), item.Feedback, item.ReviewedAt.Format(time.RFC3339), id, string(content.StatusPending),
	)
	if err != nil {
		return content.Item{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return content.Item{}, err
	}
	if n == 0 {
		return content.Item{}, content.ErrAlreadyReviewed
	}

	return s.GetContentItem(id)
}

func scanItem(row rowScanner) (content.Item, error) {
	var item content.Item
	var typ, status, createdAt string
	var reviewedAt sql.NullString
	err := row.Scan(&item.ID, &item.ClientID, &typ, &item.Title, &item.Description,
		&item.Content, &status, &item.Feedback, &createdAt, &reviewedAt)
	if err != nil {
		return content.Item{}, err
	}
	item.Type = content.Type(typ)
	item.Status = content.Status(status)

	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return content.Item{}, fmt.Errorf("parsing created_at: %w", err)
	}
	item.CreatedAt = t

	if reviewedAt.Valid {
		rt, err := time.Parse(time.RFC3339, reviewedAt.String)
		if err != nil {
			return content.Item{}, fmt.Errorf("parsing reviewed_at: %w", err)
		}
		item.ReviewedAt = rt
	}
	return item, nil
}

func collectItems(rows *sql.Rows) ([]content.Item, error) {
	defer rows.Close()
	var items []content.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// --- Reminder log ---

// MarkReminderSent records that the given tier was delivered for the item.
// The composite primary key makes a double-record a hard error rather than
// a silent duplicate.
func (s *Store) MarkReminderSent(contentID, tier string, at time.Time) error {
	_, err := s.db.Exec(`INSERT INTO content_reminders (content_id, tier, sent_at) VALUES (?, ?, ?)`,
		contentID, tier, at.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("recording reminder %s for item %s: %w", tier, contentID, err)
	}
	return nil
}

func (s *Store) remindersFor(contentID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT tier FROM content_reminders WHERE content_id = ? ORDER BY sent_at ASC`, contentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tiers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}

// attachReminders loads the full reminder table once and distributes tiers
// onto the items, avoiding a query per item on snapshot loads.
func (s *Store) attachReminders(items []content.Item) ([]content.Item, error) {
	if len(items) == 0 {
		return items, nil
	}

	rows, err := s.db.Query(`SELECT content_id, tier FROM content_reminders ORDER BY sent_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byItem := make(map[string][]string)
	for rows.Next() {
		var id, tier string
		if err := rows.Scan(&id, &tier); err != nil {
			return nil, err
		}
		byItem[id] = append(byItem[id], tier)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range items {
		items[i].Reminders = byItem[items[i].ID]
	}
	return items, nil
}

// --- Reminder events ---

func (s *Store) RecordReminderEvent(ev ReminderEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO reminder_events (id, content_id, client_id, tier, outcome, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.ContentID, ev.ClientID, ev.Tier, ev.Outcome, ev.Reason,
		ev.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) ListReminderEvents(limit int) ([]ReminderEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, content_id, client_id, tier, outcome, reason, created_at
		FROM reminder_events ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ReminderEvent
	for rows.Next() {
		var ev ReminderEvent
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.ContentID, &ev.ClientID, &ev.Tier, &ev.Outcome, &ev.Reason, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		ev.CreatedAt = t
		results = append(results, ev)
	}
	return results, rows.Err()
}

// --- Jobs ---

func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]any, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return content.ErrNotFound
	}
	return nil
}

func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return content.ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}

	if err != nil {
		return err
	}

	return tx.Commit()
}
