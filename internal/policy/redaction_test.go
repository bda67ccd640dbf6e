package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	assert.True(t, changed)
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		assert.Contains(t, out, marker)
	}
	assert.NotContains(t, out, "4242")
}

func TestRedactTranscriptCounts(t *testing.T) {
	r := RedactTranscript("I'm at ana@example.com, backup bo@example.org")
	assert.True(t, r.Changed())
	assert.Equal(t, 2, r.Counts[KindEmail])
	assert.Zero(t, r.Counts[KindPhone])
}

func TestRedactTranscriptLeavesBookingTextAlone(t *testing.T) {
	in := "Can I get a fade at 10:30 tomorrow with Marco?"
	r := RedactTranscript(in)
	assert.False(t, r.Changed())
	assert.Equal(t, in, r.Text)
}
