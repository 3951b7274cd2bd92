package interview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/candor-labs/interview-agent/internal/capture"
	"github.com/candor-labs/interview-agent/internal/conversation"
	"github.com/candor-labs/interview-agent/internal/question"
	"github.com/candor-labs/interview-agent/internal/shared"
	"github.com/candor-labs/interview-agent/internal/transcription"
)

type EventType string

const (
	EventQuestion          EventType = "question"
	EventRecordingState    EventType = "recording_state"
	EventLevels            EventType = "levels"
	EventPartialTranscript EventType = "partial_transcript"
	EventDraft             EventType = "draft"
	EventFollowUp          EventType = "follow_up"
	EventTurnState         EventType = "turn_state"
	EventCompleted         EventType = "completed"
	EventError             EventType = "error"
)

// Event is what the session pushes at the UI client.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

type EventSink func(Event)

// SubmitFunc is the submission sink. It fires exactly once per
// completed question, from whichever flow finished it.
type SubmitFunc func(questionID, answer string, history []conversation.Turn)

type QuestionPayload struct {
	Question *question.Question `json:"question"`
	Progress *question.Progress `json:"progress,omitempty"`
}

type TranscriptPayload struct {
	Transcript string `json:"transcript"`
	IsFinal    bool   `json:"isFinal"`
}

type StatePayload struct {
	State string `json:"state"`
}

type DraftPayload struct {
	Mode Mode   `json:"mode"`
	Text string `json:"text"`
}

type FollowUpPayload struct {
	History []conversation.Turn `json:"history"`
}

type CompletedPayload struct {
	QuestionID string          `json:"questionId"`
	Response   json.RawMessage `json:"response,omitempty"`
}

type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// CaptureSession is the slice of capture.Session the orchestrator
// drives. Tests substitute a fake.
type CaptureSession interface {
	SetSink(capture.Sink)
	Start() error
	Levels() <-chan []float64
	State() capture.State
	StopEmitting()
	Stop()
}

type Config struct {
	ID          string
	InterviewID string
	// Tokens authenticates both upstream connections, consulted at each
	// use so refreshed credentials apply. AuthToken is a static fallback.
	Tokens    oauth2.TokenSource
	AuthToken string

	Capture   capture.Config
	STT       transcription.Config
	Turns     conversation.Config
	Questions question.Provider

	OnSubmit SubmitFunc
	Events   EventSink
	Log      *slog.Logger

	// Factory seams for tests. Production leaves them nil.
	NewCapture     func(capture.Config) CaptureSession
	NewTranscriber func(transcription.Config, transcription.Callbacks, *slog.Logger) transcription.Transcriber
}

// Session orchestrates one respondent's interview: microphone capture
// feeding the streaming transcriber, transcript updates landing in the
// draft through the gate, and submissions flowing through the turn
// controller. All the async sources it coordinates (viz frames,
// transcript callbacks, turn responses) are fenced so nothing from a
// previous recording or question can touch current state.
type Session struct {
	id          string
	interviewID string
	tokens      oauth2.TokenSource
	authToken   string
	captureCfg  capture.Config
	sttCfg      transcription.Config
	questions   question.Provider
	onSubmit    SubmitFunc
	events      EventSink
	log         *slog.Logger

	newCapture     func(capture.Config) CaptureSession
	newTranscriber func(transcription.Config, transcription.Callbacks, *slog.Logger) transcription.Transcriber

	gate  *Gate
	draft *Draft
	turns *conversation.Controller

	mu            sync.Mutex
	question      *question.Question
	capture       CaptureSession
	stt           transcription.Transcriber
	submitted     bool
	pendingAnswer string
}

func NewSession(cfg Config) *Session {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Turns.SessionID == "" {
		cfg.Turns.SessionID = cfg.ID
	}
	if cfg.Turns.Tokens == nil {
		cfg.Turns.Tokens = cfg.Tokens
	}
	if cfg.Turns.AuthToken == "" {
		cfg.Turns.AuthToken = cfg.AuthToken
	}
	if cfg.Turns.Log == nil {
		cfg.Turns.Log = cfg.Log
	}

	s := &Session{
		id:             cfg.ID,
		interviewID:    cfg.InterviewID,
		tokens:         cfg.Tokens,
		authToken:      cfg.AuthToken,
		captureCfg:     cfg.Capture,
		sttCfg:         cfg.STT,
		questions:      cfg.Questions,
		onSubmit:       cfg.OnSubmit,
		events:         cfg.Events,
		log:            cfg.Log.With("session_id", cfg.ID),
		newCapture:     cfg.NewCapture,
		newTranscriber: cfg.NewTranscriber,
		gate:           NewGate(),
		draft:          NewDraft(),
	}
	if s.newCapture == nil {
		s.newCapture = func(c capture.Config) CaptureSession {
			return capture.NewSession(c)
		}
	}
	if s.newTranscriber == nil {
		s.newTranscriber = func(c transcription.Config, cb transcription.Callbacks, log *slog.Logger) transcription.Transcriber {
			return transcription.New(c, cb, log)
		}
	}

	s.turns = conversation.NewController(cfg.Turns, conversation.Callbacks{
		OnFollowUp: s.onFollowUp,
		OnComplete: s.onTurnComplete,
		OnError:    s.onTurnError,
	})
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) QuestionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.question == nil {
		return ""
	}
	return s.question.ID
}

func (s *Session) Draft() *Draft {
	return s.draft
}

func (s *Session) Turns() *conversation.Controller {
	return s.turns
}

// ShowQuestion moves the session to a question. A nil snapshot starts
// fresh; a prior history restores an answer being edited. Any active
// recording is torn down first and its late results suppressed.
func (s *Session) ShowQuestion(ctx context.Context, questionID string, snapshot []conversation.Turn) error {
	q, err := s.questions.Get(ctx, questionID)
	if err != nil {
		return err
	}

	s.gate.Suppress()
	s.stopRecording(false)

	s.mu.Lock()
	s.question = q
	s.submitted = false
	s.pendingAnswer = ""
	s.mu.Unlock()

	s.draft.Clear()
	s.draft.SetMode(ModeTyped)
	s.turns.SetQuestion(q.ID, q.Text, snapshot)

	payload := QuestionPayload{Question: q}
	if p, err := s.questions.Progress(ctx, q.ID); err == nil {
		payload.Progress = p
	}
	s.emit(Event{Type: EventQuestion, Payload: payload})
	return nil
}

// StartRecording acquires the microphone and opens the transcription
// stream. Only one recording may be live; callers stop the previous one
// first. A failed transcription handshake leaves the recording running
// without live transcripts rather than aborting it.
func (s *Session) StartRecording(ctx context.Context) error {
	s.mu.Lock()
	if s.capture != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: recording already active", shared.ErrConflict)
	}

	token := s.gate.Arm()
	mic := s.newCapture(s.captureCfg)
	stt := s.newTranscriber(s.sttCfg, transcription.Callbacks{
		OnUpdate: func(u transcription.Update) {
			s.onTranscript(token, u)
		},
		OnError: func(err error) {
			s.log.Warn("transcription stream error", "error", err)
		},
	}, s.log)

	mic.SetSink(func(chunk []byte) {
		if err := stt.Feed(chunk); err != nil {
			s.log.Warn("audio feed failed", "error", err)
		}
	})

	if err := mic.Start(); err != nil {
		s.mu.Unlock()
		s.emitError(err)
		return err
	}
	s.capture = mic
	s.stt = stt
	s.mu.Unlock()

	s.draft.SetMode(ModeVoice)

	if err := stt.Open(ctx, s.serviceToken()); err != nil {
		s.log.Warn("live transcription unavailable", "error", err)
		s.emitError(err)
	}

	go s.forwardLevels(mic)
	s.emit(Event{Type: EventRecordingState, Payload: StatePayload{State: "recording"}})
	return nil
}

// StopAndSubmit is the stop button: suppress further transcript
// callbacks, run the ordered teardown, then submit whatever the draft
// holds at this instant.
func (s *Session) StopAndSubmit(ctx context.Context) error {
	s.gate.Suppress()
	s.stopRecording(true)
	return s.Submit(ctx)
}

// CancelRecording abandons the recording without submitting. The draft
// keeps the transcript so far; the respondent can edit or discard it.
func (s *Session) CancelRecording() {
	s.gate.Suppress()
	s.stopRecording(false)
}

// stopRecording tears down in dependency order: the encoder stops first
// so no chunk is cut mid-write, the transcription stream closes while
// the microphone is still held, then visualization and the device go.
// Idempotent; every step tolerates an already-stopped component.
func (s *Session) stopRecording(graceful bool) {
	s.mu.Lock()
	mic := s.capture
	stt := s.stt
	s.capture = nil
	s.stt = nil
	s.mu.Unlock()

	if mic == nil && stt == nil {
		return
	}
	if mic != nil {
		mic.StopEmitting()
	}
	if stt != nil {
		if err := stt.Close(graceful); err != nil {
			s.log.Warn("transcription close failed", "error", err)
		}
	}
	if mic != nil {
		mic.Stop()
	}
	s.emit(Event{Type: EventRecordingState, Payload: StatePayload{State: "idle"}})
}

// serviceToken resolves the credential for the transcription handshake
// at open time, so a refreshed token replaces an expired one.
func (s *Session) serviceToken() string {
	if s.tokens == nil {
		return s.authToken
	}
	t, err := s.tokens.Token()
	if err != nil {
		s.log.Warn("service token unavailable", "error", err)
		return s.authToken
	}
	return t.AccessToken
}

func (s *Session) forwardLevels(mic CaptureSession) {
	for frame := range mic.Levels() {
		s.emit(Event{Type: EventLevels, Payload: frame})
	}
}

func (s *Session) onTranscript(token uint64, u transcription.Update) {
	if !s.gate.Admits(token) {
		return
	}
	s.draft.ApplyTranscript(u.Transcript)
	s.emit(Event{Type: EventPartialTranscript, Payload: TranscriptPayload{
		Transcript: u.Transcript,
		IsFinal:    u.IsFinal,
	}})
}

// SetTypedText replaces the typed draft with the input's current value.
func (s *Session) SetTypedText(text string) {
	s.draft.SetTyped(text)
}

// ToggleMode flips between typing and voice review, preserving both
// buffers.
func (s *Session) ToggleMode() {
	mode := s.draft.Toggle()
	s.emit(Event{Type: EventDraft, Payload: DraftPayload{Mode: mode, Text: s.draft.Text()}})
}

// HandleKey applies the keyboard affordances: Enter submits, the record
// hotkey toggles recording when focus is outside a text input.
func (s *Session) HandleKey(ctx context.Context, ev KeyEvent) error {
	switch s.draft.HandleKey(ev) {
	case ActionSubmit:
		return s.Submit(ctx)
	case ActionToggleRecord:
		s.mu.Lock()
		active := s.capture != nil
		s.mu.Unlock()
		if active {
			return s.StopAndSubmit(ctx)
		}
		return s.StartRecording(ctx)
	}
	return nil
}

// Submit sends the current draft. Conversational questions go through
// the turn controller and may come back as follow-ups; everything else
// completes the question directly.
func (s *Session) Submit(ctx context.Context) error {
	s.mu.Lock()
	q := s.question
	submitted := s.submitted
	s.mu.Unlock()

	if q == nil {
		return fmt.Errorf("%w: no active question", shared.ErrConflict)
	}
	if submitted {
		return fmt.Errorf("%w: answer already submitted", shared.ErrConflict)
	}

	answer := s.draft.Text()
	if strings.TrimSpace(answer) == "" {
		return fmt.Errorf("%w: draft is empty", shared.ErrConflict)
	}

	if !q.InputType.Conversational() {
		s.finish(answer, nil)
		return nil
	}

	s.mu.Lock()
	if s.pendingAnswer == "" {
		s.pendingAnswer = answer
	}
	s.mu.Unlock()

	if err := s.turns.SubmitTurn(ctx, answer); err != nil {
		return err
	}
	s.draft.Clear()
	s.emit(Event{Type: EventTurnState, Payload: StatePayload{State: string(conversation.StateAwaitingServer)}})
	return nil
}

// Retry resubmits the last failed turn. Explicit user action only.
func (s *Session) Retry(ctx context.Context) error {
	if err := s.turns.Retry(ctx); err != nil {
		return err
	}
	s.emit(Event{Type: EventTurnState, Payload: StatePayload{State: string(conversation.StateAwaitingServer)}})
	return nil
}

func (s *Session) onFollowUp(history []conversation.Turn) {
	s.emit(Event{Type: EventFollowUp, Payload: FollowUpPayload{History: history}})
}

func (s *Session) onTurnComplete(resp conversation.TurnResponse) {
	s.mu.Lock()
	answer := s.pendingAnswer
	s.mu.Unlock()
	s.finishWith(answer, s.turns.History(), resp.Raw)
}

func (s *Session) onTurnError(err error) {
	s.emit(Event{Type: EventTurnState, Payload: StatePayload{State: string(conversation.StateErrored)}})
	s.emitError(err)
}

// finish routes a completed non-conversational answer to the sink.
func (s *Session) finish(answer string, history []conversation.Turn) {
	s.finishWith(answer, history, nil)
}

// finishWith delivers the answer to the submission sink. The submitted
// flag makes this exactly-once per question no matter which flow calls
// it.
func (s *Session) finishWith(answer string, history []conversation.Turn, raw json.RawMessage) {
	s.mu.Lock()
	if s.submitted || s.question == nil {
		s.mu.Unlock()
		return
	}
	s.submitted = true
	q := s.question
	s.mu.Unlock()

	s.draft.Clear()
	if s.onSubmit != nil {
		s.onSubmit(q.ID, answer, history)
	}
	s.emit(Event{Type: EventCompleted, Payload: CompletedPayload{QuestionID: q.ID, Response: raw}})
	s.log.Info("question completed", "question_id", q.ID)
}

// Close releases everything the session holds. Safe to call twice.
func (s *Session) Close() {
	s.gate.Suppress()
	s.stopRecording(false)
}

func (s *Session) emit(ev Event) {
	if s.events != nil {
		s.events(ev)
	}
}

func (s *Session) emitError(err error) {
	s.emit(Event{Type: EventError, Payload: ErrorPayloadFor(err)})
}

// ErrorPayloadFor maps an error to the code and retryability the UI
// shows.
func ErrorPayloadFor(err error) ErrorPayload {
	p := ErrorPayload{Message: err.Error()}
	switch {
	case errors.Is(err, shared.ErrPermissionDenied):
		p.Code = "permission_denied"
	case errors.Is(err, shared.ErrHandshakeFailed):
		p.Code = "transcription_unavailable"
	case errors.Is(err, shared.ErrTurnTimeout):
		p.Code = "turn_timeout"
		p.Retryable = true
	case errors.Is(err, shared.ErrServer):
		p.Code = "server_error"
		p.Retryable = true
	case errors.Is(err, shared.ErrTransport):
		p.Code = "transport_error"
		p.Retryable = true
	default:
		p.Code = "internal_error"
	}
	return p
}
