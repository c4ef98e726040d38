// Package mapper translates between the client dialects (Anthropic messages,
// OpenAI chat completions) and the upstream Gemini v1internal dialect.
package mapper

import (
	"log/slog"
	"sync"
)

// MinSignatureLength is the shortest thought signature the upstream accepts
// as proof of a prior thinking step.
const MinSignatureLength = 10

// SignatureStore holds the most recent thought signature seen on a function
// call so it can be replayed when a client drops it. It is a single slot;
// one instance is shared by the request mapper and all stream reassemblers.
type SignatureStore struct {
	mu  sync.Mutex
	sig string
}

func NewSignatureStore() *SignatureStore {
	return &SignatureStore{}
}

// Store keeps sig only if it is longer than the current one, so partial
// signatures never replace a complete one.
func (s *SignatureStore) Store(sig string) {
	if sig == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sig) > len(s.sig) {
		slog.Debug("storing thought signature", "length", len(sig), "replaced", len(s.sig))
		s.sig = sig
		return
	}
	slog.Debug("skipping shorter thought signature", "length", len(sig), "existing", len(s.sig))
}

func (s *SignatureStore) Get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sig
}

// Take returns the stored signature and clears the slot.
func (s *SignatureStore) Take() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig := s.sig
	s.sig = ""
	return sig
}

func (s *SignatureStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sig = ""
}
