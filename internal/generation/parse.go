package generation

import (
	"encoding/json"
	"strings"

	"github.com/mossline/revport/internal/content"
)

// Candidate is one unvalidated content piece from a generation batch.
type Candidate struct {
	Type        content.Type `json:"type"`
	Title       string       `json:"title"`
	Content     string       `json:"content"`
	Description string       `json:"description"`
}

// ParseBatch parses the gateway's raw text into a batch of candidates after
// stripping markdown code fences. The second return reports whether the
// structured parse succeeded; when it did not, the returned batch holds a
// single sentinel content-idea wrapping the raw text, so a generation call
// never yields zero visible output.
func ParseBatch(raw string) ([]Candidate, bool) {
	cleaned := stripCodeFences(raw)

	var batch []Candidate
	if err := json.Unmarshal([]byte(cleaned), &batch); err == nil && len(batch) > 0 {
		return batch, true
	}

	return []Candidate{{
		Type:        content.TypeContentIdea,
		Title:       "Generated Marketing Content",
		Content:     raw,
		Description: "AI-generated marketing content",
	}}, false
}

// stripCodeFences removes leading/trailing markdown code fence markers,
// with or without a language tag.
func stripCodeFences(s string) string {
	cleaned := strings.TrimSpace(s)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
	}
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	return strings.TrimSpace(cleaned)
}

// Partition selects at most quotas[type] candidates per declared type,
// preserving the gateway's return order within each type. Candidates whose
// type is absent from the quota table are dropped. The result never exceeds
// the quota sum; it may be smaller if the gateway under-produced a type.
func Partition(batch []Candidate, quotas map[content.Type]int) []Candidate {
	taken := make(map[content.Type]int, len(quotas))
	var out []Candidate
	for _, c := range batch {
		quota, declared := quotas[c.Type]
		if !declared {
			continue
		}
		if taken[c.Type] >= quota {
			continue
		}
		taken[c.Type]++
		out = append(out, c)
	}
	return out
}
