package upstream

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, input string) []string {
	t.Helper()
	r := NewSSEReader(strings.NewReader(input))
	var out []string
	for {
		payload, err := r.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, string(payload))
	}
}

func TestSSEReader_Frames(t *testing.T) {
	input := "event: message\ndata: {\"a\":1}\n\n" +
		": keep-alive\n\n" +
		"data:{\"b\":2}\n\n" +
		"data: line1\ndata: line2\n\n"
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`, "line1\nline2"}, readAll(t, input))
}

func TestSSEReader_StopsAtDone(t *testing.T) {
	input := "data: one\n\ndata: [DONE]\n\ndata: ignored\n\n"
	assert.Equal(t, []string{"one"}, readAll(t, input))
}

func TestSSEReader_TrailingFrameWithoutBlankLine(t *testing.T) {
	assert.Equal(t, []string{"last"}, readAll(t, "data: last"))
}

func TestSSEReader_LineTooLong(t *testing.T) {
	r := NewSSEReader(strings.NewReader("data: " + strings.Repeat("x", maxSSELine+1) + "\n\n"))
	_, err := r.Next()
	assert.Error(t, err)
}
