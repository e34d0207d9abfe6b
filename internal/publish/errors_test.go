package publish

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abc…", Truncate("abcdef", 3))

	got := Truncate("aé", 2)
	assert.Equal(t, "a…", got)
	assert.True(t, utf8.ValidString(got))
}
