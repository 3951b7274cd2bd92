package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/candor-labs/interview-agent/internal/interview"
	"github.com/candor-labs/interview-agent/internal/question"
	"github.com/candor-labs/interview-agent/internal/shared"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The gateway only binds to loopback for the local UI.
		return true
	},
}

// Handler exposes the interview session over a local websocket plus a
// few REST lookups for the UI shell.
type Handler struct {
	manager   *interview.Manager
	questions question.Provider
	logger    *slog.Logger
}

func NewHandler(manager *interview.Manager, questions question.Provider, logger *slog.Logger) *Handler {
	return &Handler{
		manager:   manager,
		questions: questions,
		logger:    logger.With("component", "gateway"),
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", h.HandleConnection)
	g.GET("/questions/:id", h.GetQuestion)
	g.GET("/questions/:id/progress", h.GetProgress)
	g.GET("/sessions", h.ListSessions)
}

// HandleConnection upgrades the UI client and binds it to a fresh
// interview session. The session lives exactly as long as the socket.
func (h *Handler) HandleConnection(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return err
	}

	conn := newClientConn(ws, h.logger)
	session := h.manager.CreateSession(interview.Config{
		InterviewID: c.QueryParam("interview_id"),
		Events:      conn.Send,
	})
	defer h.manager.RemoveSession(session.ID())

	if questionID := c.QueryParam("question_id"); questionID != "" {
		if err := session.ShowQuestion(c.Request().Context(), questionID, nil); err != nil {
			h.logger.Error("initial question load failed", "error", err, "question_id", questionID)
			conn.Send(interview.Event{Type: interview.EventError, Payload: interview.ErrorPayloadFor(err)})
		}
	}

	h.logger.Info("client connected", "session_id", session.ID())

	go conn.writePump()
	conn.readPump(func(ctx context.Context, cmd ClientCommand) {
		h.dispatch(ctx, session, conn, cmd)
	})

	h.logger.Info("client disconnected", "session_id", session.ID())
	return nil
}

func (h *Handler) dispatch(ctx context.Context, session *interview.Session, conn *clientConn, cmd ClientCommand) {
	var err error
	switch cmd.Type {
	case CmdShowQuestion:
		err = session.ShowQuestion(ctx, cmd.QuestionID, nil)
	case CmdStartRecording:
		err = session.StartRecording(ctx)
	case CmdStopAndSubmit:
		err = session.StopAndSubmit(ctx)
	case CmdCancelRecording:
		session.CancelRecording()
	case CmdTypedText:
		session.SetTypedText(cmd.Text)
	case CmdToggleMode:
		session.ToggleMode()
	case CmdKey:
		if cmd.Key != nil {
			err = session.HandleKey(ctx, *cmd.Key)
		}
	case CmdSubmit:
		err = session.Submit(ctx)
	case CmdRetry:
		err = session.Retry(ctx)
	default:
		h.logger.Warn("unknown command", "type", cmd.Type)
		return
	}

	if err != nil {
		h.logger.Warn("command failed", "type", cmd.Type, "error", err)
		conn.Send(interview.Event{Type: interview.EventError, Payload: interview.ErrorPayloadFor(err)})
	}
}

func (h *Handler) GetQuestion(c echo.Context) error {
	q, err := h.questions.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NotFound("question_not_found", "question not found")
		}
		h.logger.Error("question lookup failed", "error", err)
		return shared.InternalError("question_lookup_failed", "failed to load question")
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) GetProgress(c echo.Context) error {
	p, err := h.questions.Progress(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NotFound("question_not_found", "question not found")
		}
		h.logger.Error("progress lookup failed", "error", err)
		return shared.InternalError("progress_lookup_failed", "failed to load progress")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, h.manager.ListSessions())
}
