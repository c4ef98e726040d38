package gateway

import (
	"errors"
	"io"
	"net/http"

	"github.com/af-corp/antigravity-gateway/internal/mapper"
	"github.com/af-corp/antigravity-gateway/internal/types"
)

var errStreamingUnsupported = errors.New("streaming not supported by response writer")

// sseWriter writes frames to the client, flushing after each batch.
type sseWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// beginSSE commits the 200 response with event-stream headers.
func beginSSE(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) events(events []mapper.Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := mapper.WriteEvents(s.w, events); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) chunks(chunks []types.OpenAIStreamChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := mapper.WriteOpenAIChunks(s.w, chunks); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) done() {
	io.WriteString(s.w, mapper.OpenAIDone)
	s.flusher.Flush()
}
