package toast

import (
	"time"

	"github.com/nhle/zenkoo/internal/model"
)

// Variant selects the toast styling.
type Variant int

const (
	VariantDefault Variant = iota
	VariantCrypto
)

// DefaultTitle is shown above every push toast.
const DefaultTitle = "Notification"

// Toast is a transient popup for a pushed notification.
type Toast struct {
	NotificationID string
	Title          string
	Message        string
	Variant        Variant
	ExpiresAt      time.Time
}

// Icon returns the glyph shown in front of the title.
func (t Toast) Icon() string {
	if t.Variant == VariantCrypto {
		return "₿"
	}
	return "🔔"
}

// FromNotification builds the toast for n, expiring ttl after now.
func FromNotification(n model.Notification, now time.Time, ttl time.Duration) Toast {
	v := VariantDefault
	if n.IsCrypto() {
		v = VariantCrypto
	}
	return Toast{
		NotificationID: n.ID,
		Title:          DefaultTitle,
		Message:        n.Message,
		Variant:        v,
		ExpiresAt:      now.Add(ttl),
	}
}

// Queue holds the visible toasts, newest first. It is not safe for
// concurrent use; the UI owns it.
type Queue struct {
	max    int
	toasts []Toast
}

// NewQueue creates a Queue showing at most max toasts.
func NewQueue(max int) *Queue {
	if max <= 0 {
		max = 3
	}
	return &Queue{max: max}
}

// Push shows t, evicting the oldest toast when full. A toast for a
// notification that is already showing replaces it.
func (q *Queue) Push(t Toast) {
	for i, existing := range q.toasts {
		if existing.NotificationID == t.NotificationID {
			q.toasts = append(q.toasts[:i], q.toasts[i+1:]...)
			break
		}
	}
	q.toasts = append([]Toast{t}, q.toasts...)
	if len(q.toasts) > q.max {
		q.toasts = q.toasts[:q.max]
	}
}

// Expire drops toasts whose time has passed and reports whether any were
// removed.
func (q *Queue) Expire(now time.Time) bool {
	kept := q.toasts[:0]
	for _, t := range q.toasts {
		if now.Before(t.ExpiresAt) {
			kept = append(kept, t)
		}
	}
	removed := len(kept) != len(q.toasts)
	q.toasts = kept
	return removed
}

// Dismiss removes the newest toast.
func (q *Queue) Dismiss() {
	if len(q.toasts) > 0 {
		q.toasts = q.toasts[1:]
	}
}

// Visible returns the toasts currently shown, newest first.
func (q *Queue) Visible() []Toast {
	out := make([]Toast, len(q.toasts))
	copy(out, q.toasts)
	return out
}

// Len returns the number of visible toasts.
func (q *Queue) Len() int {
	return len(q.toasts)
}
