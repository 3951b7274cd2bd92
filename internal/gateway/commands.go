package gateway

import "github.com/candor-labs/interview-agent/internal/interview"

// Command types accepted from the UI client.
const (
	CmdShowQuestion    = "show_question"
	CmdStartRecording  = "start_recording"
	CmdStopAndSubmit   = "stop_and_submit"
	CmdCancelRecording = "cancel_recording"
	CmdTypedText       = "typed_text"
	CmdToggleMode      = "toggle_mode"
	CmdKey             = "key"
	CmdSubmit          = "submit"
	CmdRetry           = "retry"
)

// ClientCommand is one inbound websocket frame from the UI.
type ClientCommand struct {
	Type       string              `json:"type"`
	QuestionID string              `json:"questionId,omitempty"`
	Text       string              `json:"text,omitempty"`
	Key        *interview.KeyEvent `json:"key,omitempty"`
}
