package transcription

import (
	"strings"
	"sync"
)

// TranscriptState tracks what the service has committed and what is still
// provisional. Finals are append-only and space-joined in arrival order;
// the partial is replaced wholesale by each interim result and cleared by
// each final.
type TranscriptState struct {
	mu          sync.Mutex
	accumulated strings.Builder
	partial     string
}

func NewTranscriptState() *TranscriptState {
	return &TranscriptState{}
}

func (s *TranscriptState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accumulated.Reset()
	s.partial = ""
}

// Apply folds one recognition result in and returns the best current
// transcript: accumulated finals followed by the live partial.
func (s *TranscriptState) Apply(text string, isFinal bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if isFinal {
		if text != "" {
			if s.accumulated.Len() > 0 {
				s.accumulated.WriteByte(' ')
			}
			s.accumulated.WriteString(text)
		}
		s.partial = ""
	} else {
		s.partial = text
	}
	return s.bestLocked()
}

// Best returns accumulated finals concatenated with the live partial.
func (s *TranscriptState) Best() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bestLocked()
}

func (s *TranscriptState) bestLocked() string {
	if s.partial == "" {
		return s.accumulated.String()
	}
	if s.accumulated.Len() == 0 {
		return s.partial
	}
	return s.accumulated.String() + " " + s.partial
}

// Committed returns only the finalized portion of the transcript.
func (s *TranscriptState) Committed() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accumulated.String()
}

// Partial returns the current provisional result.
func (s *TranscriptState) Partial() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partial
}
