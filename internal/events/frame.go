package events

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"

	"github.com/nhle/zenkoo/internal/model"
)

// LocalIDPrefix marks IDs generated on the client for pushes that arrived
// without one.
const LocalIDPrefix = "local-"

// ErrMissingMessage is returned for frames that carry no message text.
var ErrMissingMessage = errors.New("push frame has no message")

// frame is the JSON payload of a push frame.
type frame struct {
	Message   string           `json:"message" validate:"required"`
	Type      string           `json:"type"`
	ID        model.FlexString `json:"id"`
	CreatedAt string           `json:"created_at"`
}

var frameValidator = validator.New()

// Decode parses a text frame into a notification. Frames that are not JSON
// or lack a message are rejected.
func Decode(data []byte) (model.Notification, error) {
	return decodeAt(data, time.Now())
}

func decodeAt(data []byte, now time.Time) (model.Notification, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return model.Notification{}, fmt.Errorf("decoding push frame: %w", err)
	}

	f.Message = strings.TrimSpace(f.Message)
	if err := frameValidator.Struct(f); err != nil {
		return model.Notification{}, ErrMissingMessage
	}

	n := model.Notification{
		ID:        strings.TrimSpace(string(f.ID)),
		Message:   f.Message,
		CreatedAt: f.CreatedAt,
		Category:  strings.ToLower(strings.TrimSpace(f.Type)),
	}
	if n.ID == "" {
		n.ID = LocalIDPrefix + ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
	}
	if n.CreatedAt == "" {
		n.CreatedAt = now.UTC().Format(time.RFC3339)
	}

	return n, nil
}
