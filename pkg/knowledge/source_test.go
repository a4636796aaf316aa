package knowledge

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventJSON = `{
  "schedule": {
    "semantic_description": "Opening times, meals and the day-by-day agenda.",
    "doors_open": "9:00 AM Saturday",
    "meals": [
      {"name": "lunch", "time": "12:30 PM"},
      {"name": "dinner", "time": "6:30 PM"}
    ]
  },
  "prizes": {
    "semantic_description": "Prize tracks and amounts.",
    "grand_prize": 5000,
    "hardware_track": true
  },
  "venue": "Building 4, Main Hall"
}`

func TestParseJSONSource(t *testing.T) {
	passages, err := ParseSource("event.json", []byte(eventJSON))
	require.NoError(t, err)
	require.Len(t, passages, 3)

	refs := []string{passages[0].SourceRef, passages[1].SourceRef, passages[2].SourceRef}
	assert.Equal(t, []string{"event.json#prizes", "event.json#schedule", "event.json#venue"}, refs)

	schedule := passages[1].Text
	assert.True(t, strings.HasPrefix(schedule, "schedule\nOpening times, meals and the day-by-day agenda."))
	assert.Contains(t, schedule, "doors_open: 9:00 AM Saturday")
	assert.Contains(t, schedule, "meals.1.name: lunch")
	assert.Contains(t, schedule, "meals.2.time: 6:30 PM")

	assert.Contains(t, passages[0].Text, "grand_prize: 5000")
	assert.Contains(t, passages[0].Text, "hardware_track: true")
	assert.Equal(t, "venue\nBuilding 4, Main Hall", passages[2].Text)
}

func TestParseJSONSourceRejectsBadShapes(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"array", `[{"a": 1}]`},
		{"string", `"hello"`},
		{"empty object", `{}`},
		{"malformed", `{"a": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSource("bad.json", []byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "bad.json")
		})
	}
}

func TestChunkText(t *testing.T) {
	t.Run("short content is one chunk", func(t *testing.T) {
		assert.Equal(t, []string{"hello\nworld"}, chunkText("hello\nworld\n\n", 1000, 50))
	})

	t.Run("long content splits on lines with overlap", func(t *testing.T) {
		line := strings.Repeat("x", 99)
		var lines []string
		for i := 0; i < 30; i++ {
			lines = append(lines, line)
		}
		chunks := chunkText(strings.Join(lines, "\n"), 1000, 50)
		require.Greater(t, len(chunks), 2)
		for _, c := range chunks {
			assert.LessOrEqual(t, len(c), 1000+50)
		}
	})

	t.Run("overlap respects rune boundaries", func(t *testing.T) {
		tail := overlapTail(strings.Repeat("é", 40), 5)
		assert.True(t, strings.HasSuffix(strings.Repeat("é", 40), tail))
		assert.Equal(t, "éé", tail)
	})

	t.Run("empty content", func(t *testing.T) {
		assert.Empty(t, chunkText("  \n\n", 1000, 50))
	})
}

func TestMarkdownSourceRefs(t *testing.T) {
	passages, err := ParseSource("faq.md", []byte("# FAQ\n\nParking is free in lot B."))
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, "faq.md#0", passages[0].SourceRef)
}

func TestFTSQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"When do the doors open?", `"doors" OR "open"`},
		{`"prize" AND (NOT) *`, `"prize" OR "not"`},
		{"what is it", `"what" OR "is" OR "it"`},
		{"?!*", ""},
		{"Wi-Fi wifi", `"wi" OR "fi" OR "wifi"`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ftsQuery(tt.in))
		})
	}
}

func TestStaticRetriever(t *testing.T) {
	passages, err := ParseSource("event.json", []byte(eventJSON))
	require.NoError(t, err)
	r := NewStaticRetriever(passages, 2)

	got, err := r.Retrieve(context.Background(), "When is lunch?")
	require.NoError(t, err)
	hits := Collect(got, 0)
	require.NotEmpty(t, hits)
	assert.Equal(t, "event.json#schedule", hits[0].SourceRef)

	// Restartable.
	assert.Equal(t, hits, Collect(got, 0))

	none, err := r.Retrieve(context.Background(), "submarine")
	require.NoError(t, err)
	assert.Empty(t, Collect(none, 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Retrieve(ctx, "lunch")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCollectLimit(t *testing.T) {
	ps := FromSlice([]Passage{{Text: "a"}, {Text: "b"}, {Text: "c"}})
	assert.Len(t, Collect(ps, 2), 2)
	assert.Len(t, Collect(ps, 0), 3)
	assert.Empty(t, Collect(nil, 0))
}

func TestMockEmbedder(t *testing.T) {
	e := MockEmbedder{Dim: 32}
	vecs, err := e.Embed(context.Background(), []string{"lunch time", "lunch time", ""})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Len(t, vecs[0], 32)
	assert.Equal(t, vecs[0], vecs[1])
	assert.Equal(t, float32(1), vecs[2][0])
}
