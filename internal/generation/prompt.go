package generation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mossline/revport/internal/content"
)

// historyWindow bounds how many prior titles are folded into the prompt.
// Older history is dropped deliberately: a bounded prompt trades perfect
// non-repetition for cost and latency.
const historyWindow = 20

// feedbackWindow bounds how many past review verdicts are included.
const feedbackWindow = 10

// Defaults substituted for missing client profile fields. Generation always
// proceeds with best-effort inputs rather than failing the request.
const (
	defaultIndustry   = "real estate or mortgage"
	defaultAudience   = "general audience"
	defaultGoals      = "marketing"
	defaultBrandVoice = "professional"
)

// HistoryEntry is one previously produced idea: title plus short description.
type HistoryEntry struct {
	Title       string
	Description string
}

// FeedbackEntry is one past review verdict used to steer future generation.
type FeedbackEntry struct {
	Title    string
	Feedback string
	Approved bool
}

// Request is a fully built generation request: the chat messages to send and
// the per-type quotas expected back.
type Request struct {
	System string
	Prompt string
	Quotas map[content.Type]int
}

// DefaultQuotas returns the standard per-type production quotas.
func DefaultQuotas() map[content.Type]int {
	return map[content.Type]int{
		content.TypeSocial: 5,
		content.TypeBlog:   5,
		content.TypeEmail:  5,
	}
}

// BuildRequest assembles a generation request from the client profile, the
// bounded tail of prior ideas, past review feedback, and free-text admin
// notes. The prompt explicitly instructs the gateway to avoid the listed
// titles and to treat admin notes as soft preference constraints.
func BuildRequest(c content.Client, history []HistoryEntry, feedback []FeedbackEntry, adminNotes string) Request {
	quotas := DefaultQuotas()
	total := 0
	for _, n := range quotas {
		total += n
	}

	industry := orDefault(c.Industry, defaultIndustry)
	audience := orDefault(c.TargetAudience, defaultAudience)
	goals := orDefault(c.Goals, defaultGoals)
	voice := orDefault(c.BrandVoice, defaultBrandVoice)

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a professional marketing content creator. Generate %d diverse, high-quality marketing content pieces for %s, a %s business.\n\n", total, c.CompanyName, industry)
	fmt.Fprintf(&sb, "Target Audience: %s\n", audience)
	fmt.Fprintf(&sb, "Goals: %s\n", goals)
	fmt.Fprintf(&sb, "Brand Voice: %s\n", voice)
	if c.Differentiators != "" {
		fmt.Fprintf(&sb, "What makes them unique: %s\n", c.Differentiators)
	}
	if c.PrimaryMarkets != "" {
		fmt.Fprintf(&sb, "Primary Markets: %s\n", c.PrimaryMarkets)
	}

	notes := adminNotes
	if notes == "" {
		notes = c.AINotes
	}
	if notes != "" {
		sb.WriteString("\n**IMPORTANT CLIENT PREFERENCES & FEEDBACK:**\n")
		sb.WriteString(notes)
		sb.WriteString("\n\nPlease carefully follow these preferences when creating content.\n")
	}

	if len(history) > 0 {
		if len(history) > historyWindow {
			history = history[:historyWindow]
		}
		sb.WriteString("\n**PREVIOUSLY GENERATED CONTENT (avoid duplicating these topics):**\n")
		for _, h := range history {
			if h.Description != "" {
				fmt.Fprintf(&sb, "- %s — %s\n", h.Title, h.Description)
			} else {
				fmt.Fprintf(&sb, "- %s\n", h.Title)
			}
		}
		sb.WriteString("\nCreate NEW and DIFFERENT content ideas. Do NOT rehash these previous topics.\n")
	}

	if len(feedback) > 0 {
		if len(feedback) > feedbackWindow {
			feedback = feedback[:feedbackWindow]
		}
		sb.WriteString("\n**CLIENT FEEDBACK PATTERNS:**\n")
		for _, f := range feedback {
			verdict := "disliked"
			if f.Approved {
				verdict = "liked"
			}
			fmt.Fprintf(&sb, "- %q (%s: %s)\n", f.Feedback, verdict, f.Title)
		}
		sb.WriteString("\nLearn from this feedback to create content the client will approve.\n")
	}

	sb.WriteString("\nPlease create EXACTLY:\n")
	for _, typ := range sortedTypes(quotas) {
		fmt.Fprintf(&sb, "- %d pieces of type %q\n", quotas[typ], typ)
	}
	sb.WriteString("\nFor each piece, provide:\n")
	sb.WriteString("- type: one of the types listed above\n")
	sb.WriteString("- title: catchy and relevant title\n")
	sb.WriteString("- content: complete, ready-to-use content\n")
	sb.WriteString("- description: brief summary of the piece\n")
	fmt.Fprintf(&sb, "\nFormat as a JSON array with exactly %d objects.\n", total)

	return Request{
		System: fmt.Sprintf("You are a professional marketing content writer. Always respond with valid JSON arrays containing exactly %d content pieces.", total),
		Prompt: sb.String(),
		Quotas: quotas,
	}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func sortedTypes(quotas map[content.Type]int) []content.Type {
	types := make([]content.Type, 0, len(quotas))
	for t := range quotas {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
