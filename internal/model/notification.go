package model

import (
	"bytes"
	"encoding/json"
	"strings"
)

// CategoryCrypto is the category tag the backend uses for crypto alerts.
const CategoryCrypto = "cripto"

// Notification represents a single alert delivered to the current user,
// either fetched from the REST backend or pushed over the live connection.
type Notification struct {
	// ID is the opaque identifier, stable across fetch and push.
	ID string `json:"id"`

	// Message is the human-readable notification text.
	Message string `json:"message"`

	// CreatedAt is the server timestamp (ISO-8601). It is only displayed,
	// never used to re-sort.
	CreatedAt string `json:"created_at"`

	// IsRead indicates whether the user has marked this notification read.
	IsRead bool `json:"is_read"`

	// Category optionally classifies the notification for styling.
	Category string `json:"category,omitempty"`
}

// IsCrypto reports whether the notification belongs to the crypto category.
func (n Notification) IsCrypto() bool {
	return strings.EqualFold(n.Category, CategoryCrypto)
}

// NotificationList is one page of notifications as returned by the backend.
type NotificationList struct {
	Count   int            `json:"count"`
	Results []Notification `json:"results"`
}

// UnreadCount is the body of the unread counter endpoint.
type UnreadCount struct {
	UnreadCount int `json:"unread_count"`
}

// LastPage returns the last valid 1-based page index for count items split
// into pages of size. It is never below 1.
func LastPage(count, size int) int {
	if size <= 0 || count <= 0 {
		return 1
	}
	return (count + size - 1) / size
}

// UnmarshalJSON accepts both string and numeric IDs; the Django backend
// serializes primary keys as numbers.
func (n *Notification) UnmarshalJSON(data []byte) error {
	type alias Notification
	aux := struct {
		*alias
		ID FlexString `json:"id"`
	}{alias: (*alias)(n)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	n.ID = string(aux.ID)
	return nil
}

// FlexString decodes a JSON string or number into its string form.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*f = FlexString(num.String())
	return nil
}
