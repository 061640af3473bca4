package content

import (
	"fmt"
	"time"
)

// Status is the review state of a content item. Items start pending and
// move exactly once to approved or rejected.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether s ends the review lifecycle.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// ParseStatus converts a wire string into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// Type categorizes a content piece.
type Type string

const (
	TypeSocial      Type = "social"
	TypeBlog        Type = "blog"
	TypeEmail       Type = "email"
	TypeContentIdea Type = "content-idea"
	TypeLandingPage Type = "landing-page"
)

// Valid reports whether t is one of the known content types.
func (t Type) Valid() bool {
	switch t {
	case TypeSocial, TypeBlog, TypeEmail, TypeContentIdea, TypeLandingPage:
		return true
	}
	return false
}

// ParseType converts a wire string into a Type.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown content type %q", s)
	}
	return t, nil
}

// Item is a single piece of marketing content awaiting or having received
// client review.
type Item struct {
	ID          string    `json:"id"`
	ClientID    string    `json:"client_id"`
	Type        Type      `json:"type"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Content     string    `json:"content"`
	Status      Status    `json:"status"`
	Feedback    string    `json:"feedback,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ReviewedAt  time.Time `json:"reviewed_at,omitzero"`

	// Reminders holds the escalation tiers already delivered for this item,
	// in the order they were sent. Each tier appears at most once.
	Reminders []string `json:"reminders,omitempty"`
}

// Age returns the elapsed time since the item was created.
func (i Item) Age(now time.Time) time.Duration {
	return now.Sub(i.CreatedAt)
}

// Reminded reports whether the given reminder tier was already delivered.
func (i Item) Reminded(tier string) bool {
	for _, t := range i.Reminders {
		if t == tier {
			return true
		}
	}
	return false
}

// Client is an agency client whose profile drives content generation and
// whose phone number receives review reminders. Onboarding fields are
// free text; empty values fall back to generation defaults.
type Client struct {
	ID              string    `json:"id"`
	CompanyName     string    `json:"company_name"`
	FirstName       string    `json:"first_name,omitempty"`
	PhoneNumber     string    `json:"phone_number,omitempty"`
	Industry        string    `json:"industry,omitempty"`
	TargetAudience  string    `json:"target_audience,omitempty"`
	Goals           string    `json:"goals,omitempty"`
	BrandVoice      string    `json:"brand_voice,omitempty"`
	Differentiators string    `json:"differentiators,omitempty"`
	PrimaryMarkets  string    `json:"primary_markets,omitempty"`
	AINotes         string    `json:"ai_notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
