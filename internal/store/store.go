package store

import (
	"context"

	"github.com/nhle/zenkoo/internal/model"
)

// Store defines the local cache of per-identity notification state. It lets
// the UI show the last known unread count and first page immediately on
// startup, before the backend answers.
type Store interface {
	// === Unread counter ===

	SaveUnreadCount(ctx context.Context, userID string, count int) error
	// GetUnreadCount reports false when nothing is cached for userID.
	GetUnreadCount(ctx context.Context, userID string) (int, bool, error)

	// === First page ===

	SaveFirstPage(ctx context.Context, userID string, list model.NotificationList) error
	// GetFirstPage returns nil when nothing is cached for userID.
	GetFirstPage(ctx context.Context, userID string) (*model.NotificationList, error)

	// ClearIdentity removes everything cached for userID.
	ClearIdentity(ctx context.Context, userID string) error

	Close() error
}
