package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize_EmptyBecomesUnknown(t *testing.T) {
	assert.Equal(t, "unknown", Sanitize(""))
	assert.Equal(t, "unknown", Sanitize("   "))
	assert.Equal(t, "unknown", Sanitize("!!!///"))
}

func TestSanitize_KeepsHangulAndAscii(t *testing.T) {
	assert.Equal(t, "my channel_1", Sanitize("my channel_1"))
	assert.Equal(t, "스트리머", Sanitize("스트리머"))
}

func TestSanitize_DropsPathSeparators(t *testing.T) {
	assert.Equal(t, "etcpasswd", Sanitize("../../etc/passwd"))
}

func TestSanitize_Idempotent(t *testing.T) {
	inputs := []string{"hello/world", "스트리머!!", "  trim me  ", ""}
	for _, in := range inputs {
		once := Sanitize(in)
		twice := Sanitize(once)
		assert.Equal(t, once, twice, "sanitize(%q) not idempotent", in)
	}
}
