package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/nhle/zenkoo/internal/model"
)

// ListNotifications fetches one 1-based page of the user's notifications.
func (c *Client) ListNotifications(ctx context.Context, page int) (*model.NotificationList, error) {
	if page < 1 {
		page = 1
	}

	var list model.NotificationList
	path := "/notifications/?page=" + strconv.Itoa(page)
	if err := c.get(ctx, path, &list); err != nil {
		return nil, fmt.Errorf("listing notifications page %d: %w", page, err)
	}
	return &list, nil
}

// MarkRead marks a single notification as read.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	path := "/notifications/" + url.PathEscape(id) + "/read/"
	if err := c.do(ctx, http.MethodPatch, path, nil, nil, true); err != nil {
		return fmt.Errorf("marking notification %s as read: %w", id, err)
	}
	return nil
}

// DeleteNotification deletes a single notification.
func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	path := "/notifications/" + url.PathEscape(id) + "/"
	if err := c.do(ctx, http.MethodDelete, path, nil, nil, true); err != nil {
		return fmt.Errorf("deleting notification %s: %w", id, err)
	}
	return nil
}

// DeleteAllNotifications deletes every notification of the current user.
func (c *Client) DeleteAllNotifications(ctx context.Context) error {
	if err := c.do(ctx, http.MethodDelete, "/notifications/delete/all/", nil, nil, true); err != nil {
		return fmt.Errorf("deleting all notifications: %w", err)
	}
	return nil
}

// UnreadCount returns the authoritative number of unread notifications.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var body model.UnreadCount
	if err := c.get(ctx, "/notifications/unread/count/", &body); err != nil {
		return 0, fmt.Errorf("fetching unread count: %w", err)
	}
	return body.UnreadCount, nil
}
