package drawer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRelativeTime(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"zero", time.Time{}, ""},
		{"seconds", now.Add(-20 * time.Second), "just now"},
		{"one minute", now.Add(-time.Minute), "1m ago"},
		{"minutes", now.Add(-15 * time.Minute), "15m ago"},
		{"hours", now.Add(-5 * time.Hour), "5h ago"},
		{"one day", now.Add(-30 * time.Hour), "1d ago"},
		{"days", now.Add(-3 * 24 * time.Hour), "3d ago"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, relativeTime(tt.t, now))
		})
	}
}

func TestFormatCreatedAt(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "2h ago", formatCreatedAt("2024-05-10T10:00:00Z", now))
	assert.Equal(t, "29m ago", formatCreatedAt("2024-05-10T11:30:00.123456Z", now))
	assert.Equal(t, "yesterday-ish", formatCreatedAt("yesterday-ish", now))
	assert.Equal(t, "", formatCreatedAt("", now))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
	assert.Equal(t, "żółt…", truncate("żółtość", 5))
}
