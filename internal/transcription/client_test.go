package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/candor-labs/interview-agent/internal/shared"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeService is a scripted transcription endpoint. It records the config
// and control messages it receives and plays back canned results once the
// first audio chunk arrives.
type fakeService struct {
	mu          sync.Mutex
	authHeader  string
	config      *configMessage
	closeStream bool
	results     []resultMessage
}

func (f *fakeService) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.authHeader = r.Header.Get("Authorization")
		f.mu.Unlock()

		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		sent := false
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			if msgType == websocket.TextMessage {
				var probe map[string]any
				if err := json.Unmarshal(data, &probe); err != nil {
					continue
				}
				switch probe["type"] {
				case configType:
					var cfg configMessage
					_ = json.Unmarshal(data, &cfg)
					f.mu.Lock()
					f.config = &cfg
					f.mu.Unlock()
				case closeStreamType:
					f.mu.Lock()
					f.closeStream = true
					f.mu.Unlock()
				}
				continue
			}

			if !sent {
				sent = true
				for _, res := range f.results {
					if err := conn.WriteJSON(res); err != nil {
						return
					}
				}
			}
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func collectUpdates() (Callbacks, chan Update) {
	updates := make(chan Update, 16)
	return Callbacks{
		OnUpdate: func(u Update) { updates <- u },
	}, updates
}

func TestClient_OpenSendsConfigAndToken(t *testing.T) {
	svc := &fakeService{}
	srv := httptest.NewServer(svc.handler(t))
	defer srv.Close()

	cb, _ := collectUpdates()
	c := New(Config{URL: wsURL(srv), Language: "en-US"}, cb, nil)
	if err := c.Open(context.Background(), "tok123"); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer c.Close(false)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		svc.mu.Lock()
		cfg := svc.config
		svc.mu.Unlock()
		if cfg != nil {
			if cfg.Language != "en-US" {
				t.Errorf("language = %q, want en-US", cfg.Language)
			}
			if !cfg.Punctuate || !cfg.InterimResults {
				t.Error("punctuation and interim results must be requested")
			}
			if cfg.SampleRate != 16000 || cfg.Channels != 1 {
				t.Errorf("audio constraints = %d Hz / %d ch, want 16000 / 1", cfg.SampleRate, cfg.Channels)
			}
			svc.mu.Lock()
			auth := svc.authHeader
			svc.mu.Unlock()
			if auth != "Bearer tok123" {
				t.Errorf("auth header = %q, want Bearer tok123", auth)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("config message never arrived")
}

func TestClient_HandshakeFailureIsSoft(t *testing.T) {
	cb, _ := collectUpdates()
	c := New(Config{URL: "ws://127.0.0.1:1/listen", HandshakeTimeout: 200 * time.Millisecond}, cb, nil)

	err := c.Open(context.Background(), "tok")
	if !errors.Is(err, shared.ErrHandshakeFailed) {
		t.Fatalf("expected ErrHandshakeFailed, got %v", err)
	}
	if c.IsOpen() {
		t.Error("client should not be open after handshake failure")
	}
	// Capture continues: feeding the never-opened client is a silent no-op.
	if err := c.Feed([]byte{1, 2, 3}); err != nil {
		t.Errorf("Feed after failed open should drop silently, got %v", err)
	}
}

func TestClient_ResultsUpdateTranscript(t *testing.T) {
	svc := &fakeService{results: []resultMessage{
		{Transcript: "hel", IsFinal: false},
		{Transcript: "hello there", IsFinal: false},
		{Transcript: "hello there.", IsFinal: true},
	}}
	srv := httptest.NewServer(svc.handler(t))
	defer srv.Close()

	cb, updates := collectUpdates()
	c := New(Config{URL: wsURL(srv)}, cb, nil)
	if err := c.Open(context.Background(), "tok"); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer c.Close(false)

	if err := c.Feed(make([]byte, 320)); err != nil {
		t.Fatalf("Feed() error: %v", err)
	}

	want := []Update{
		{Transcript: "hel", IsFinal: false},
		{Transcript: "hello there", IsFinal: false},
		{Transcript: "hello there.", IsFinal: true},
	}
	for i, w := range want {
		select {
		case got := <-updates:
			if got != w {
				t.Errorf("update %d = %+v, want %+v", i, got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for update %d", i)
		}
	}

	if got := c.Committed(); got != "hello there." {
		t.Errorf("Committed() = %q, want hello there.", got)
	}
}

func TestClient_GracefulCloseSendsEndOfStream(t *testing.T) {
	svc := &fakeService{}
	srv := httptest.NewServer(svc.handler(t))
	defer srv.Close()

	cb, _ := collectUpdates()
	c := New(Config{URL: wsURL(srv)}, cb, nil)
	if err := c.Open(context.Background(), "tok"); err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	if err := c.Close(true); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		svc.mu.Lock()
		got := svc.closeStream
		svc.mu.Unlock()
		if got {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("end-of-stream marker never arrived")
}

func TestClient_CloseIdempotentAndFeedAfterCloseDropped(t *testing.T) {
	svc := &fakeService{}
	srv := httptest.NewServer(svc.handler(t))
	defer srv.Close()

	cb, _ := collectUpdates()
	c := New(Config{URL: wsURL(srv)}, cb, nil)
	if err := c.Open(context.Background(), "tok"); err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	if err := c.Close(true); err != nil {
		t.Fatalf("first Close() error: %v", err)
	}
	if err := c.Close(true); err != nil {
		t.Errorf("second Close() should be a no-op, got %v", err)
	}
	if err := c.Feed([]byte{1}); err != nil {
		t.Errorf("Feed after close should drop silently, got %v", err)
	}
}

func TestClient_FeedBeforeOpenDropped(t *testing.T) {
	cb, _ := collectUpdates()
	c := New(Config{URL: "ws://unused"}, cb, nil)
	if err := c.Feed([]byte{1, 2}); err != nil {
		t.Errorf("Feed before open should drop silently, got %v", err)
	}
}
