package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/candor-labs/interview-agent/internal/shared"
)

type State string

const (
	StateIdle           State = "idle"
	StateAwaitingServer State = "awaiting_server"
	StateCompleted      State = "completed"
	StateErrored        State = "errored"
)

const defaultTurnTimeout = 60 * time.Second

type Callbacks struct {
	// OnFollowUp fires when the server asks another question within the
	// same answer; the slice is the server's replacement history.
	OnFollowUp func(history []Turn)
	// OnComplete forwards any non-follow_up response verbatim. This
	// controller's history is no longer authoritative afterward.
	OnComplete func(resp TurnResponse)
	OnError    func(err error)
}

type Config struct {
	Endpoint  string
	SessionID string
	// Tokens authenticates turn requests; it is consulted per request so
	// refreshed credentials are picked up mid-interview. AuthToken is a
	// static fallback when no source is set.
	Tokens     oauth2.TokenSource
	AuthToken  string
	HTTPClient *http.Client
	Timeout    time.Duration
	Log        *slog.Logger
}

// Controller drives the multi-turn dialog for one question at a time.
// States: Idle -> AwaitingServer -> {Idle, Completed, Errored}. Only one
// turn may be outstanding; late or aborted responses are fenced off by a
// generation counter so they can never mutate state.
type Controller struct {
	endpoint  string
	sessionID string
	tokens    oauth2.TokenSource
	authToken string
	client    *http.Client
	timeout   time.Duration
	log       *slog.Logger
	cb        Callbacks

	mu          sync.Mutex
	state       State
	history     *History
	questionID  string
	prompt      string
	lastRequest *TurnRequest
	lastErr     error
	generation  uint64
}

func NewController(cfg Config, cb Callbacks) *Controller {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTurnTimeout
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Controller{
		endpoint:  cfg.Endpoint,
		sessionID: cfg.SessionID,
		tokens:    cfg.Tokens,
		authToken: cfg.AuthToken,
		client:    cfg.HTTPClient,
		timeout:   cfg.Timeout,
		log:       cfg.Log.With("component", "conversation"),
		cb:        cb,
		state:     StateIdle,
		history:   NewHistory(),
	}
}

// SetQuestion points the controller at a new question, discarding the old
// conversation or restoring a caller-supplied snapshot (edit mode). Any
// in-flight turn is fenced off.
func (c *Controller) SetQuestion(questionID, prompt string, snapshot []Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.questionID = questionID
	c.prompt = prompt
	c.history.ResetTo(snapshot)
	c.state = StateIdle
	c.lastRequest = nil
	c.lastErr = nil
	c.generation++
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) History() []Turn {
	return c.history.Turns()
}

func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// SubmitTurn appends text as a user turn and posts it. Calling while a
// turn is outstanding is a caller error; the submit affordance is
// disabled rather than queued.
func (c *Controller) SubmitTurn(ctx context.Context, text string) error {
	c.mu.Lock()
	if c.state == StateAwaitingServer {
		c.mu.Unlock()
		return fmt.Errorf("%w: turn already in flight", shared.ErrConflict)
	}
	if c.state == StateCompleted {
		c.mu.Unlock()
		return fmt.Errorf("%w: conversation already complete", shared.ErrConflict)
	}

	c.history.SeedIfEmpty(c.questionID, c.prompt)
	c.history.AppendUser(c.questionID, text)

	req := &TurnRequest{
		SessionID:           c.sessionID,
		QuestionID:          c.questionID,
		Answer:              text,
		ConversationHistory: c.history.Turns(),
	}
	c.lastRequest = req
	c.lastErr = nil
	c.state = StateAwaitingServer
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	go c.post(ctx, gen, req)
	return nil
}

// Retry resubmits the last request verbatim. Only valid from Errored and
// only on explicit user action; nothing here retries automatically.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateErrored {
		c.mu.Unlock()
		return fmt.Errorf("%w: nothing to retry", shared.ErrConflict)
	}
	if c.lastRequest == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: no previous turn", shared.ErrConflict)
	}
	req := c.lastRequest
	c.lastErr = nil
	c.state = StateAwaitingServer
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	go c.post(ctx, gen, req)
	return nil
}

func (c *Controller) post(ctx context.Context, gen uint64, req *TurnRequest) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.doRequest(reqCtx, req)

	c.mu.Lock()
	if gen != c.generation || c.state != StateAwaitingServer {
		c.mu.Unlock()
		c.log.Debug("stale turn response dropped", "question_id", req.QuestionID)
		return
	}

	var notify func()
	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		terr := fmt.Errorf("%w: no reply within %s", shared.ErrTurnTimeout, c.timeout)
		c.lastErr = terr
		c.state = StateErrored
		notify = func() {
			if c.cb.OnError != nil {
				c.cb.OnError(terr)
			}
		}
	case err != nil:
		c.lastErr = err
		c.state = StateErrored
		ferr := err
		notify = func() {
			if c.cb.OnError != nil {
				c.cb.OnError(ferr)
			}
		}
	case resp.Type == ResponseFollowUp:
		c.history.Replace(resp.ConversationHistory)
		c.state = StateIdle
		turns := c.history.Turns()
		notify = func() {
			if c.cb.OnFollowUp != nil {
				c.cb.OnFollowUp(turns)
			}
		}
	default:
		c.state = StateCompleted
		final := *resp
		notify = func() {
			if c.cb.OnComplete != nil {
				c.cb.OnComplete(final)
			}
		}
	}
	c.mu.Unlock()

	notify()
}

// bearer resolves the credential for one request, so a refreshed token
// from the source replaces an expired one.
func (c *Controller) bearer() string {
	if c.tokens == nil {
		return c.authToken
	}
	t, err := c.tokens.Token()
	if err != nil {
		c.log.Warn("service token unavailable", "error", err)
		return c.authToken
	}
	return t.AccessToken
}

func (c *Controller) doRequest(ctx context.Context, turnReq *TurnRequest) (*TurnResponse, error) {
	body, err := json.Marshal(turnReq)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", shared.ErrTransport, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token := c.bearer(); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, context.DeadlineExceeded
		}
		return nil, fmt.Errorf("%w: %v", shared.ErrTransport, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", shared.ErrTransport, err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", shared.ErrServer, httpResp.StatusCode)
	}

	var resp TurnResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", shared.ErrServer, err)
	}
	resp.Raw = raw
	return &resp, nil
}
