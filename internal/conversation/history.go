package conversation

import (
	"sync"
	"time"
)

// History is the ordered record of one question's active conversation.
// It is append-only between turns and replaced wholesale by the server's
// returned history after each turn: the server copy is authoritative and
// never merged locally.
type History struct {
	mu    sync.Mutex
	turns []Turn
}

func NewHistory() *History {
	return &History{}
}

// SeedIfEmpty lazily records the question prompt as the opening assistant
// turn. Only the first user submission for a question triggers this.
func (h *History) SeedIfEmpty(questionID, prompt string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.turns) > 0 {
		return
	}
	h.turns = append(h.turns, Turn{
		Role:       RoleAssistant,
		Content:    prompt,
		Timestamp:  time.Now(),
		QuestionID: questionID,
	})
}

func (h *History) AppendUser(questionID, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, Turn{
		Role:       RoleUser,
		Content:    text,
		Timestamp:  time.Now(),
		QuestionID: questionID,
	})
}

// Replace installs the server's returned history verbatim.
func (h *History) Replace(turns []Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = make([]Turn, len(turns))
	copy(h.turns, turns)
}

// ResetTo discards the conversation, installing the caller-supplied
// snapshot (nil for a fresh question, a prior history when re-entering a
// question in edit mode).
func (h *History) ResetTo(snapshot []Turn) {
	h.Replace(snapshot)
}

func (h *History) Turns() []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}
