// Package worker processes queued background jobs, currently content
// generation runs requested through the API or CLI.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mossline/revport/internal/content"
	"github.com/mossline/revport/internal/generation"
	"github.com/mossline/revport/internal/storage"
)

// JobTypeGenerate is the queue type for per-client content generation.
const JobTypeGenerate = "generate_content"

// historyFetch is how many recent items to load per client; the prompt
// builder applies its own tighter windows on top.
const historyFetch = 50

// GeneratePayload is the JSON payload of a generate_content job.
type GeneratePayload struct {
	ClientID   string `json:"client_id"`
	AdminNotes string `json:"admin_notes,omitempty"`
}

// NewGenerateJob builds a queue entry for one client generation run.
func NewGenerateJob(clientID, adminNotes string) (storage.Job, error) {
	payload, err := json.Marshal(GeneratePayload{ClientID: clientID, AdminNotes: adminNotes})
	if err != nil {
		return storage.Job{}, fmt.Errorf("encoding payload: %w", err)
	}
	return storage.Job{
		ID:          uuid.New().String(),
		Type:        JobTypeGenerate,
		PayloadJSON: string(payload),
	}, nil
}

// JobStore abstracts the queue and content persistence the worker needs.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetClient(id string) (content.Client, error)
	ListContentItemsByClient(clientID string, status content.Status, limit int) ([]content.Item, error)
	UpsertContentItem(item content.Item) error
}

// Generator runs one generation pass for a client.
type Generator interface {
	GenerateForClient(ctx context.Context, c content.Client, history []generation.HistoryEntry, feedback []generation.FeedbackEntry, adminNotes string) ([]content.Item, generation.Summary, error)
}

// Notifier delivers one text message.
type Notifier interface {
	Send(ctx context.Context, to, body string) error
}

// Worker processes generate_content jobs from the SQLite job queue.
type Worker struct {
	store     JobStore
	generator Generator
	notifier  Notifier
	portalURL string
	poll      time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker with the given dependencies. The notifier may
// be nil; new-content texts are then skipped. If pollInterval is <= 0, it
// defaults to 500ms.
func NewWorker(store JobStore, generator Generator, notifier Notifier, portalURL string, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:     store,
		generator: generator,
		notifier:  notifier,
		portalURL: portalURL,
		poll:      pollInterval,
		logger:    slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single generate_content job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobTypeGenerate})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload GeneratePayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	client, err := w.store.GetClient(payload.ClientID)
	if err != nil {
		return fmt.Errorf("loading client %s: %w", payload.ClientID, err)
	}

	recent, err := w.store.ListContentItemsByClient(client.ID, "", historyFetch)
	if err != nil {
		return fmt.Errorf("loading history for client %s: %w", client.ID, err)
	}
	history, feedback := splitHistory(recent)

	items, summary, err := w.generator.GenerateForClient(ctx, client, history, feedback, payload.AdminNotes)
	if err != nil {
		return err
	}

	for _, item := range items {
		if err := w.store.UpsertContentItem(item); err != nil {
			return fmt.Errorf("saving generated item %s: %w", item.ID, err)
		}
	}

	w.logger.Info("generation run complete",
		"client_id", client.ID, "produced", summary.Produced, "fallback", summary.Fallback)

	w.notifyNewContent(ctx, client, summary.Produced)
	return nil
}

// notifyNewContent texts the client that new drafts await review. Delivery
// problems are logged only; the generated items are already saved.
func (w *Worker) notifyNewContent(ctx context.Context, client content.Client, produced int) {
	if w.notifier == nil || client.PhoneNumber == "" || produced == 0 {
		return
	}
	body := fmt.Sprintf("🎉 Fresh content is ready for your review! %d new pieces are waiting for you. Take a look: %s", produced, w.portalURL)
	if err := w.notifier.Send(ctx, client.PhoneNumber, body); err != nil {
		w.logger.Warn("new content notification failed", "client_id", client.ID, "error", err)
	}
}

// splitHistory turns a recent item list into the avoid-list and the reviewed
// feedback the prompt builder consumes.
func splitHistory(items []content.Item) ([]generation.HistoryEntry, []generation.FeedbackEntry) {
	history := make([]generation.HistoryEntry, 0, len(items))
	var feedback []generation.FeedbackEntry
	for _, it := range items {
		history = append(history, generation.HistoryEntry{
			Title:       it.Title,
			Description: it.Description,
		})
		if it.Status.Terminal() && it.Feedback != "" {
			feedback = append(feedback, generation.FeedbackEntry{
				Title:    it.Title,
				Feedback: it.Feedback,
				Approved: it.Status == content.StatusApproved,
			})
		}
	}
	return history, feedback
}
