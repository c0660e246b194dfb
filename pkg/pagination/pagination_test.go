package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, DefaultLimit, NormalizeLimit(-3))
	assert.Equal(t, 7, NormalizeLimit(7))
	assert.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+50))
	assert.Equal(t, 8, LimitWithBuffer(7))
}

func TestCursorIsURLSafe(t *testing.T) {
	cursor := Cursor{CreatedAt: time.Date(2026, 2, 1, 10, 30, 0, 123456789, time.UTC), ID: uuid.New()}

	encoded := EncodeCursor(cursor)
	assert.NotContains(t, encoded, "+")
	assert.NotContains(t, encoded, "/")
	assert.NotContains(t, encoded, "=")

	decoded, err := ParseCursor(encoded)
	require.NoError(t, err)
	assert.True(t, cursor.CreatedAt.Equal(decoded.CreatedAt))
	assert.Equal(t, cursor.ID, decoded.ID)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	decoded, err := ParseCursor("  ")
	require.NoError(t, err)
	assert.Nil(t, decoded)

	_, err = ParseCursor("not base64!")
	assert.Error(t, err)

	_, err = ParseCursor(EncodeCursor(Cursor{}) + "AA")
	assert.Error(t, err)
}

func TestTrim(t *testing.T) {
	rows, last := Trim([]int{1, 2, 3}, 3)
	assert.Equal(t, []int{1, 2, 3}, rows)
	assert.Nil(t, last)

	rows, last = Trim([]int{1, 2, 3, 4}, 3)
	assert.Equal(t, []int{1, 2, 3}, rows)
	require.NotNil(t, last)
	assert.Equal(t, 3, *last)
}
