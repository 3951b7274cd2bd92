package interview

import (
	"log/slog"
	"sync"

	"golang.org/x/oauth2"

	"github.com/candor-labs/interview-agent/internal/capture"
	"github.com/candor-labs/interview-agent/internal/conversation"
	"github.com/candor-labs/interview-agent/internal/question"
	"github.com/candor-labs/interview-agent/internal/transcription"
)

// Manager owns the live interview sessions, one per connected
// respondent.
type Manager struct {
	questions question.Provider
	tokens    oauth2.TokenSource
	log       *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	defaultCapture capture.Config
	defaultSTT     transcription.Config
	defaultTurns   conversation.Config

	newCapture     func(capture.Config) CaptureSession
	newTranscriber func(transcription.Config, transcription.Callbacks, *slog.Logger) transcription.Transcriber
}

type ManagerConfig struct {
	Questions question.Provider
	Tokens    oauth2.TokenSource
	Capture   capture.Config
	STT       transcription.Config
	Turns     conversation.Config
	Log       *slog.Logger

	NewCapture     func(capture.Config) CaptureSession
	NewTranscriber func(transcription.Config, transcription.Callbacks, *slog.Logger) transcription.Transcriber
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Manager{
		questions:      cfg.Questions,
		tokens:         cfg.Tokens,
		log:            cfg.Log.With("component", "interview_manager"),
		sessions:       make(map[string]*Session),
		defaultCapture: cfg.Capture,
		defaultSTT:     cfg.STT,
		defaultTurns:   cfg.Turns,
		newCapture:     cfg.NewCapture,
		newTranscriber: cfg.NewTranscriber,
	}
}

func (m *Manager) CreateSession(cfg Config) *Session {
	if cfg.Questions == nil {
		cfg.Questions = m.questions
	}
	if cfg.Tokens == nil {
		cfg.Tokens = m.tokens
	}
	if cfg.Capture.Device == nil {
		cfg.Capture = m.defaultCapture
	}
	if cfg.STT.URL == "" {
		cfg.STT = m.defaultSTT
	}
	if cfg.Turns.Endpoint == "" {
		cfg.Turns = m.defaultTurns
	}
	if cfg.Log == nil {
		cfg.Log = m.log
	}
	if cfg.NewCapture == nil {
		cfg.NewCapture = m.newCapture
	}
	if cfg.NewTranscriber == nil {
		cfg.NewTranscriber = m.newTranscriber
	}

	session := NewSession(cfg)

	m.mu.Lock()
	m.sessions[session.ID()] = session
	m.mu.Unlock()

	m.log.Info("interview session created", "session_id", session.ID(), "interview_id", cfg.InterviewID)
	return session
}

func (m *Manager) GetSession(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[sessionID]
	return session, ok
}

func (m *Manager) RemoveSession(sessionID string) {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if session != nil {
		session.Close()
		m.log.Info("interview session removed", "session_id", sessionID)
	}
}

func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

type SessionInfo struct {
	SessionID  string `json:"session_id"`
	QuestionID string `json:"question_id,omitempty"`
	DraftMode  string `json:"draft_mode"`
	TurnState  string `json:"turn_state"`
}

func (m *Manager) ListSessions() []SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, SessionInfo{
			SessionID:  s.ID(),
			QuestionID: s.QuestionID(),
			DraftMode:  string(s.Draft().Mode()),
			TurnState:  string(s.Turns().State()),
		})
	}
	return sessions
}

func (m *Manager) Close() error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	return nil
}
