package events

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("full frame", func(t *testing.T) {
		n, err := decodeAt([]byte(`{"message":" BTC up 5% ","type":"Cripto","id":"abc","created_at":"2024-05-01T10:00:00Z"}`), now)
		require.NoError(t, err)
		assert.Equal(t, "abc", n.ID)
		assert.Equal(t, "BTC up 5%", n.Message)
		assert.Equal(t, "cripto", n.Category)
		assert.True(t, n.IsCrypto())
		assert.Equal(t, "2024-05-01T10:00:00Z", n.CreatedAt)
		assert.False(t, n.IsRead)
	})

	t.Run("message only", func(t *testing.T) {
		n, err := decodeAt([]byte(`{"message":"hello"}`), now)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(n.ID, LocalIDPrefix))
		assert.Equal(t, "2024-05-01T12:00:00Z", n.CreatedAt)
		assert.Empty(t, n.Category)
	})

	t.Run("local ids are unique", func(t *testing.T) {
		a, err := decodeAt([]byte(`{"message":"a"}`), now)
		require.NoError(t, err)
		b, err := decodeAt([]byte(`{"message":"a"}`), now)
		require.NoError(t, err)
		assert.NotEqual(t, a.ID, b.ID)
	})

	t.Run("missing message", func(t *testing.T) {
		_, err := decodeAt([]byte(`{"message":"   ","id":"1"}`), now)
		assert.ErrorIs(t, err, ErrMissingMessage)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := decodeAt([]byte(`hello`), now)
		assert.Error(t, err)
	})
}
