package push

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestPreviewShortText(t *testing.T) {
	assert.Equal(t, "hello", Preview("hello"))
	assert.Equal(t, strings.Repeat("a", 120), Preview(strings.Repeat("a", 120)))
}

func TestPreviewTruncatesLongText(t *testing.T) {
	got := Preview(strings.Repeat("a", 200))
	assert.Equal(t, strings.Repeat("a", 117)+"...", got)
}

func TestPreviewKeepsValidUTF8(t *testing.T) {
	// Two-byte runes: a byte-based cut at 117 would split one in half.
	got := Preview(strings.Repeat("ü", 200))
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("ü", 117)+"...", got)
	assert.Equal(t, 120, utf8.RuneCountInString(got))
}
