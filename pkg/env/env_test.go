package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirstSkipsBlankValues(t *testing.T) {
	t.Setenv("CUSTODY_A", "  ")
	t.Setenv("CUSTODY_B", "b")
	assert.Equal(t, "b", First("x", "CUSTODY_A", "CUSTODY_B"))
	assert.Equal(t, "x", First("x", "CUSTODY_A"))
	assert.Equal(t, "x", Get("CUSTODY_UNSET_FOR_TEST", "x"))
}
