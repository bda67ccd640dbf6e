package speech

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProcessForSpeech(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "flattens emphasis",
			in:   "**Great news!** I can book you with *Marco* tomorrow at 10:30.",
			want: "Great news! I can book you with Marco tomorrow at 10:30.",
		},
		{
			name: "headings and list items become sentences",
			in:   "## Available slots\n\n- 9:00 am\n- 11:30 am\n\nWhich works?",
			want: "Available slots. 9:00 am. 11:30 am. Which works?",
		},
		{
			name: "keeps link label and drops code blocks",
			in:   "See [our prices](https://barber.example/prices) before booking.\n\n```\ncurl https://barber.example\n```",
			want: "See our prices before booking.",
		},
		{
			name: "keeps inline code text",
			in:   "Use code `CUT10` at checkout.",
			want: "Use code CUT10 at checkout.",
		},
		{
			name: "expands booking shorthand",
			in:   "Your appt is 45 min & costs $30 w/ beard trim.",
			want: "Your appointment is 45 minutes and costs 30 dollars with beard trim.",
		},
		{
			name: "singular units",
			in:   "That adds 1 hr and costs $1.",
			want: "That adds 1 hour and costs 1 dollar.",
		},
		{
			name: "drops emoji",
			in:   "Sure 😊 see you then!",
			want: "Sure see you then!",
		},
		{
			name: "drops bare urls",
			in:   "Book at https://barber.example/book now.",
			want: "Book at now.",
		},
		{
			name: "tables read row by row",
			in:   "| Service | Price |\n|---|---|\n| Cut | $25 |",
			want: "Service, Price. Cut, 25 dollars.",
		},
		{
			name: "empty",
			in:   "   ",
			want: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ProcessForSpeech(tc.in))
		})
	}
}

func TestSanitizeCollapsesSymbolRuns(t *testing.T) {
	assert.Equal(t, "Hello world again", sanitize("Hello***world///again"))
	assert.Equal(t, "Done!", sanitize("Done !"))
}

func TestSplitForSpeech(t *testing.T) {
	assert.Nil(t, SplitForSpeech("  ", 10))
	assert.Equal(t, []string{"One. Two!", "Three?"}, SplitForSpeech("One. Two! Three?", 10))
	assert.Equal(t, []string{"alpha beta", "gamma delta"}, SplitForSpeech("alpha beta gamma delta", 11))
	assert.Equal(t, []string{"Come in at 10.30.", "See you then."}, SplitForSpeech("Come in at 10.30. See you then.", 20))
	assert.Equal(t, []string{"Wait... Okay."}, SplitForSpeech("Wait... Okay.", 200))
	assert.Equal(t, []string{"A fade costs 25.50 dollars today."},
		SplitForSpeech(ProcessForSpeech("A fade costs $25.50 today."), 200))

	long := strings.Repeat("word ", 100)
	for _, chunk := range SplitForSpeech(long, 0) {
		assert.LessOrEqual(t, len(chunk), DefaultMaxChunkChars)
	}
}
