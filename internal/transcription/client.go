package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/candor-labs/interview-agent/internal/shared"
)

const defaultHandshakeTimeout = 10 * time.Second

// Client streams encoded audio to the speech-recognition service over a
// token-authenticated websocket and receives interim/final results as
// JSON. Results are delivered in service-emission order by a single read
// loop; races against a concurrent stop-and-submit are resolved by the
// caller's suppression gate, not here.
type Client struct {
	cfg   Config
	cb    Callbacks
	state *TranscriptState
	log   *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	ready  bool
	closed bool

	writeMu sync.Mutex
}

func New(cfg Config, cb Callbacks, log *slog.Logger) *Client {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:   cfg,
		cb:    cb,
		state: NewTranscriptState(),
		log:   log.With("component", "transcription"),
	}
}

// Open dials the service and sends the session config. A handshake failure
// is soft for the surrounding flow: the caller surfaces a message and
// keeps capturing without live transcripts.
func (c *Client) Open(ctx context.Context, authToken string) error {
	c.mu.Lock()
	if c.conn != nil || c.closed {
		c.mu.Unlock()
		return shared.ErrConflict
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	header := http.Header{}
	if authToken != "" {
		header.Set("Authorization", "Bearer "+authToken)
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		c.log.Error("handshake failed", "url", c.cfg.URL, "status", status, "error", err)
		return fmt.Errorf("%w: %v", shared.ErrHandshakeFailed, err)
	}

	cfgMsg := configMessage{
		Type:           configType,
		Language:       c.cfg.Language,
		Punctuate:      true,
		InterimResults: true,
		SampleRate:     c.cfg.SampleRate,
		Channels:       c.cfg.Channels,
		Encoding:       c.cfg.Encoding,
	}
	if err := conn.WriteJSON(cfgMsg); err != nil {
		_ = conn.Close()
		return fmt.Errorf("%w: send config: %v", shared.ErrHandshakeFailed, err)
	}

	c.state.Reset()

	c.mu.Lock()
	c.conn = conn
	c.ready = true
	c.mu.Unlock()

	go c.readLoop(conn)

	c.log.Info("transcription stream opened", "language", c.cfg.Language)
	return nil
}

// Feed forwards one audio chunk. Chunks before Open or after Close are
// dropped silently.
func (c *Client) Feed(chunk []byte) error {
	c.mu.Lock()
	conn, ready := c.conn, c.ready
	c.mu.Unlock()

	if conn == nil || !ready {
		return nil
	}

	c.writeMu.Lock()
	err := conn.WriteMessage(websocket.BinaryMessage, chunk)
	c.writeMu.Unlock()

	if err != nil {
		c.mu.Lock()
		c.ready = false
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", shared.ErrTransport, err)
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.ready = false
			c.mu.Unlock()

			if !closed && c.cb.OnError != nil {
				c.cb.OnError(fmt.Errorf("%w: %v", shared.ErrTransport, err))
			}
			return
		}

		var msg resultMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("unparseable result dropped", "error", err)
			continue
		}

		best := c.state.Apply(msg.Transcript, msg.IsFinal)
		if c.cb.OnUpdate != nil {
			c.cb.OnUpdate(Update{Transcript: best, IsFinal: msg.IsFinal})
		}
	}
}

// Close ends the stream. When graceful, the end-of-stream marker is sent
// first so the service can flush a final result; the accumulated finals
// remain readable as the committed transcript. Idempotent.
func (c *Client) Close(graceful bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.ready = false
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	if graceful {
		c.writeMu.Lock()
		if err := conn.WriteJSON(closeMessage{Type: closeStreamType}); err != nil {
			c.log.Debug("end-of-stream marker not delivered", "error", err)
		}
		c.writeMu.Unlock()
	}

	return conn.Close()
}

// Best returns accumulated finals plus the live partial.
func (c *Client) Best() string {
	return c.state.Best()
}

// Committed returns the finalized transcript.
func (c *Client) Committed() string {
	return c.state.Committed()
}

func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}
