package interview

import (
	"strings"
	"sync"
)

// Mode says where the current draft comes from.
type Mode string

const (
	// ModeTyped means the draft is free text the respondent keyed in.
	ModeTyped Mode = "typed"
	// ModeVoice means the draft is a transcript under review.
	ModeVoice Mode = "voice"
)

// KeyAction is what the session should do in response to a key event.
type KeyAction string

const (
	ActionNone         KeyAction = "none"
	ActionSubmit       KeyAction = "submit"
	ActionToggleRecord KeyAction = "toggle_record"
)

const (
	keyEnter     = "Enter"
	recordHotkey = "r"
)

// KeyEvent is a keyboard event forwarded by the UI client.
type KeyEvent struct {
	Key string `json:"key"`
	// LineBreakModifier is set when the modifier that turns Enter into a
	// newline (shift) is held.
	LineBreakModifier bool `json:"lineBreakModifier"`
	// FocusInInput is set when a text input owns keyboard focus.
	FocusInInput bool `json:"focusInInput"`
}

// Draft holds the answer being composed for the current question. The
// typed and voice buffers are independent so that toggling to voice
// review and back never destroys an in-progress typed answer.
type Draft struct {
	mu    sync.Mutex
	mode  Mode
	typed string
	voice string
}

func NewDraft() *Draft {
	return &Draft{mode: ModeTyped}
}

func (d *Draft) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// SetTyped replaces the typed buffer. The UI sends the whole input
// value rather than deltas.
func (d *Draft) SetTyped(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.typed = text
}

// ApplyTranscript replaces the voice buffer with the latest best
// transcript. Callers are expected to consult the gate first.
func (d *Draft) ApplyTranscript(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.voice = text
}

// Toggle flips between typed and voice modes and returns the new mode.
// Both buffers survive the flip.
func (d *Draft) Toggle() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mode == ModeTyped {
		d.mode = ModeVoice
	} else {
		d.mode = ModeTyped
	}
	return d.mode
}

// SetMode forces a mode, used when a recording starts and the draft
// must show the transcript.
func (d *Draft) SetMode(m Mode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mode = m
}

// Text returns the active mode's buffer. This is what a submit reads.
func (d *Draft) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mode == ModeVoice {
		return d.voice
	}
	return d.typed
}

func (d *Draft) Empty() bool {
	return strings.TrimSpace(d.Text()) == ""
}

// Clear wipes both buffers after a submission.
func (d *Draft) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.typed = ""
	d.voice = ""
}

// HandleKey maps a key event to a session action. Enter without the
// line-break modifier submits the draft. The record hotkey never fires
// while focus is inside a text input, where the key is just a letter.
func (d *Draft) HandleKey(ev KeyEvent) KeyAction {
	switch {
	case ev.Key == keyEnter && !ev.LineBreakModifier:
		return ActionSubmit
	case strings.EqualFold(ev.Key, recordHotkey) && !ev.FocusInInput:
		return ActionToggleRecord
	default:
		return ActionNone
	}
}
