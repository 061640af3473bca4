package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mossline/revport/internal/content"
)

// Summary reports what one generation run produced for a client.
type Summary struct {
	ClientID  string               `json:"client_id"`
	Produced  int                  `json:"produced"`
	ByType    map[content.Type]int `json:"by_type"`
	Fallback  bool                 `json:"fallback"`
	Requested int                  `json:"requested"`
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Service turns generation requests into persisted-ready pending content
// items: build prompt, call the gateway once, parse, partition to quotas.
type Service struct {
	gateway Gateway
	clock   Clock
}

// NewService creates a Service around the given gateway.
func NewService(gateway Gateway) *Service {
	return &Service{gateway: gateway, clock: realClock{}}
}

// NewServiceWithClock creates a Service with a custom clock (for testing).
func NewServiceWithClock(gateway Gateway, clock Clock) *Service {
	return &Service{gateway: gateway, clock: clock}
}

// GenerateForClient runs one generation pass for a client and returns the
// surviving candidates as new pending content items. A malformed gateway
// response is not an error: the sentinel fallback still yields one item,
// reported via Summary.Fallback. Gateway transport failures are returned to
// the caller, which owns any retry policy.
func (s *Service) GenerateForClient(ctx context.Context, c content.Client, history []HistoryEntry, feedback []FeedbackEntry, adminNotes string) ([]content.Item, Summary, error) {
	req := BuildRequest(c, history, feedback, adminNotes)

	raw, err := s.gateway.Generate(ctx, req)
	if err != nil {
		return nil, Summary{}, fmt.Errorf("generating content for client %s: %w", c.ID, err)
	}

	batch, ok := ParseBatch(raw)
	selected := Partition(batch, req.Quotas)
	if !ok {
		// The sentinel item carries a type outside the quota table; keep it
		// anyway so the admin always sees something to triage.
		selected = batch
	}

	now := s.clock.Now().UTC()
	summary := Summary{
		ClientID: c.ID,
		ByType:   make(map[content.Type]int),
		Fallback: !ok,
	}
	for _, n := range req.Quotas {
		summary.Requested += n
	}

	items := make([]content.Item, 0, len(selected))
	for _, cand := range selected {
		items = append(items, content.Item{
			ID:          uuid.New().String(),
			ClientID:    c.ID,
			Type:        cand.Type,
			Title:       cand.Title,
			Description: cand.Description,
			Content:     cand.Content,
			Status:      content.StatusPending,
			CreatedAt:   now,
		})
		summary.ByType[cand.Type]++
	}
	summary.Produced = len(items)

	return items, summary, nil
}
