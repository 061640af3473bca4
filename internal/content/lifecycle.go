package content

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a referenced item or client does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyReviewed is returned when a transition is attempted on an item
// that has already left the pending state. The item is not modified.
var ErrAlreadyReviewed = errors.New("already reviewed")

// Transition moves a pending item to approved or rejected, attaching the
// client's feedback and stamping the review time. Approved and rejected are
// terminal: calling Transition on a non-pending item returns
// ErrAlreadyReviewed and leaves the item untouched.
func Transition(item *Item, target Status, feedback string, now time.Time) error {
	if !target.Terminal() {
		return fmt.Errorf("invalid target status %q", target)
	}
	if item.Status != StatusPending {
		return fmt.Errorf("item %s is %s: %w", item.ID, item.Status, ErrAlreadyReviewed)
	}

	item.Status = target
	item.Feedback = feedback
	item.ReviewedAt = now.UTC()
	return nil
}
