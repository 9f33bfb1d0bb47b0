package inbox

import "github.com/nhle/zenkoo/internal/model"

// Snapshot is a point-in-time copy of the store's state for rendering.
type Snapshot struct {
	Items     []model.Notification
	Count     int
	PageIndex int
	PageSize  int

	// Exiting holds the IDs playing their delete transition.
	Exiting map[string]bool

	// Loading is true while a page fetch is outstanding.
	Loading bool

	// Loaded is false until a fetch has committed; a cached page may be
	// showing before that.
	Loaded bool

	MarkingAll bool
}

// PageCount returns the number of pages implied by Count.
func (s Snapshot) PageCount() int {
	return model.LastPage(s.Count, s.PageSize)
}

// UnreadOnPage counts the unread records on the current page.
func (s Snapshot) UnreadOnPage() int {
	n := 0
	for _, item := range s.Items {
		if !item.IsRead {
			n++
		}
	}
	return n
}

// HasUnread reports whether mark-all-read has anything to do.
func (s Snapshot) HasUnread() bool {
	return s.UnreadOnPage() > 0
}
