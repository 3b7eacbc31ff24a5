package events

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeTextStripsTagsAndTrims(t *testing.T) {
	got := SanitizeText("  <b>hello</b>  ")
	assert.Equal(t, "hello", got)
}

func TestSanitizeTextClampsLength(t *testing.T) {
	long := strings.Repeat("a", 400)
	got := SanitizeText(long)
	assert.Len(t, got, 280)
}
