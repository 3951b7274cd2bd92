package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/candor-labs/interview-agent/internal/shared"
)

type ctrlEvents struct {
	followUps chan []Turn
	completes chan TurnResponse
	errs      chan error
}

func newCtrlEvents() (*ctrlEvents, Callbacks) {
	ev := &ctrlEvents{
		followUps: make(chan []Turn, 4),
		completes: make(chan TurnResponse, 4),
		errs:      make(chan error, 4),
	}
	return ev, Callbacks{
		OnFollowUp: func(h []Turn) { ev.followUps <- h },
		OnComplete: func(r TurnResponse) { ev.completes <- r },
		OnError:    func(err error) { ev.errs <- err },
	}
}

func newTestController(endpoint string, timeout time.Duration) (*Controller, *ctrlEvents) {
	ev, cb := newCtrlEvents()
	c := NewController(Config{
		Endpoint:  endpoint,
		SessionID: "sess_1",
		Timeout:   timeout,
	}, cb)
	c.SetQuestion("q1", "How is your team doing?", nil)
	return c, ev
}

// requestRecorder captures every TurnRequest the server receives.
type requestRecorder struct {
	mu       sync.Mutex
	requests []TurnRequest
}

func (r *requestRecorder) record(req *http.Request) TurnRequest {
	var tr TurnRequest
	_ = json.NewDecoder(req.Body).Decode(&tr)
	r.mu.Lock()
	r.requests = append(r.requests, tr)
	r.mu.Unlock()
	return tr
}

func (r *requestRecorder) get(i int) TurnRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[i]
}

func (r *requestRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func followUpServer(rec *requestRecorder, extra Turn) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		tr := rec.record(req)
		history := append(tr.ConversationHistory, extra)
		_ = json.NewEncoder(w).Encode(TurnResponse{
			Type:                ResponseFollowUp,
			ConversationHistory: history,
		})
	}))
}

func TestSubmitTurn_SeedsEmptyHistory(t *testing.T) {
	rec := &requestRecorder{}
	srv := followUpServer(rec, Turn{Role: RoleAssistant, Content: "why?", QuestionID: "q1"})
	defer srv.Close()

	c, ev := newTestController(srv.URL, time.Second)

	if err := c.SubmitTurn(context.Background(), "We're behind schedule"); err != nil {
		t.Fatalf("SubmitTurn() error: %v", err)
	}

	select {
	case <-ev.followUps:
	case <-time.After(2 * time.Second):
		t.Fatal("no follow-up received")
	}

	req := rec.get(0)
	if req.SessionID != "sess_1" || req.QuestionID != "q1" {
		t.Errorf("request ids = %s/%s", req.SessionID, req.QuestionID)
	}
	if req.Answer != "We're behind schedule" {
		t.Errorf("answer = %q", req.Answer)
	}
	if len(req.ConversationHistory) != 2 {
		t.Fatalf("history len = %d, want 2 (seeded prompt + user turn)", len(req.ConversationHistory))
	}
	if req.ConversationHistory[0].Role != RoleAssistant ||
		req.ConversationHistory[0].Content != "How is your team doing?" {
		t.Errorf("first turn = %+v, want seeded question prompt", req.ConversationHistory[0])
	}
	if req.ConversationHistory[1].Role != RoleUser ||
		req.ConversationHistory[1].Content != "We're behind schedule" {
		t.Errorf("second turn = %+v, want user answer", req.ConversationHistory[1])
	}
}

func TestFollowUp_ReplacesHistoryAndReturnsIdle(t *testing.T) {
	rec := &requestRecorder{}
	extra := Turn{Role: RoleAssistant, Content: "what would help?", QuestionID: "q1"}
	srv := followUpServer(rec, extra)
	defer srv.Close()

	c, ev := newTestController(srv.URL, time.Second)
	if err := c.SubmitTurn(context.Background(), "more budget"); err != nil {
		t.Fatalf("SubmitTurn() error: %v", err)
	}

	var history []Turn
	select {
	case history = <-ev.followUps:
	case <-time.After(2 * time.Second):
		t.Fatal("no follow-up received")
	}

	if c.State() != StateIdle {
		t.Errorf("state = %s, want idle after follow_up", c.State())
	}
	if len(history) != 3 || history[2].Content != "what would help?" {
		t.Errorf("history = %+v, want server value installed verbatim", history)
	}
	local := c.History()
	if len(local) != len(history) {
		t.Errorf("local history len = %d, want %d (replace, not merge)", len(local), len(history))
	}
}

// rotatingTokens issues a different credential on every call, the way a
// client-credentials source does across refreshes.
type rotatingTokens struct {
	mu sync.Mutex
	n  int
}

func (r *rotatingTokens) Token() (*oauth2.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	return &oauth2.Token{AccessToken: fmt.Sprintf("tok-%d", r.n)}, nil
}

func TestSubmitTurn_BearerResolvedPerRequest(t *testing.T) {
	var mu sync.Mutex
	var auths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		auths = append(auths, req.Header.Get("Authorization"))
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(TurnResponse{Type: ResponseFollowUp})
	}))
	defer srv.Close()

	ev, cb := newCtrlEvents()
	c := NewController(Config{
		Endpoint:  srv.URL,
		SessionID: "sess_1",
		Tokens:    &rotatingTokens{},
		Timeout:   time.Second,
	}, cb)
	c.SetQuestion("q1", "How is your team doing?", nil)

	for _, answer := range []string{"first", "second"} {
		if err := c.SubmitTurn(context.Background(), answer); err != nil {
			t.Fatalf("SubmitTurn(%q) error: %v", answer, err)
		}
		select {
		case <-ev.followUps:
		case <-time.After(2 * time.Second):
			t.Fatal("no follow-up received")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"Bearer tok-1", "Bearer tok-2"}
	if len(auths) != len(want) {
		t.Fatalf("authorization headers = %v, want %v", auths, want)
	}
	for i := range want {
		if auths[i] != want[i] {
			t.Errorf("request %d authorization = %q, want %q (token refreshed per request)", i, auths[i], want[i])
		}
	}
}

func TestSubmitTurn_RejectedWhileAwaitingServer(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		<-release
		_ = json.NewEncoder(w).Encode(TurnResponse{Type: ResponseFollowUp})
	}))
	defer srv.Close()
	defer close(release)

	c, _ := newTestController(srv.URL, time.Second)
	if err := c.SubmitTurn(context.Background(), "first"); err != nil {
		t.Fatalf("SubmitTurn() error: %v", err)
	}

	err := c.SubmitTurn(context.Background(), "second")
	if !errors.Is(err, shared.ErrConflict) {
		t.Fatalf("expected ErrConflict while awaiting server, got %v", err)
	}
}

func TestTimeout_TransitionsToErroredWithTimeoutError(t *testing.T) {
	started := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		started <- struct{}{}
		time.Sleep(500 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(TurnResponse{Type: ResponseFollowUp})
	}))
	defer srv.Close()

	c, ev := newTestController(srv.URL, 50*time.Millisecond)
	if err := c.SubmitTurn(context.Background(), "slow one"); err != nil {
		t.Fatalf("SubmitTurn() error: %v", err)
	}
	<-started

	select {
	case err := <-ev.errs:
		if !errors.Is(err, shared.ErrTurnTimeout) {
			t.Fatalf("expected ErrTurnTimeout, got %v", err)
		}
		if errors.Is(err, shared.ErrTransport) {
			t.Error("timeout must be distinct from generic transport failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error delivered")
	}

	if c.State() != StateErrored {
		t.Errorf("state = %s, want errored", c.State())
	}

	// The aborted request's eventual response must not mutate anything.
	before := c.History()
	time.Sleep(600 * time.Millisecond)
	if c.State() != StateErrored {
		t.Errorf("late response mutated state to %s", c.State())
	}
	after := c.History()
	if len(after) != len(before) {
		t.Error("late response mutated history")
	}
}

func TestSetQuestion_FencesInFlightTurn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		time.Sleep(100 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(TurnResponse{
			Type:                ResponseFollowUp,
			ConversationHistory: []Turn{{Role: RoleAssistant, Content: "stale"}},
		})
	}))
	defer srv.Close()

	c, ev := newTestController(srv.URL, time.Second)
	if err := c.SubmitTurn(context.Background(), "answer"); err != nil {
		t.Fatalf("SubmitTurn() error: %v", err)
	}

	c.SetQuestion("q2", "Next question?", nil)

	time.Sleep(300 * time.Millisecond)
	if c.State() != StateIdle {
		t.Errorf("state = %s, want idle", c.State())
	}
	if c.History() != nil && len(c.History()) != 0 {
		t.Errorf("history = %+v, want empty for the new question", c.History())
	}
	select {
	case h := <-ev.followUps:
		t.Fatalf("stale follow-up leaked through: %+v", h)
	default:
	}
}

func TestServerError_TransitionsToErrored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, ev := newTestController(srv.URL, time.Second)
	if err := c.SubmitTurn(context.Background(), "answer"); err != nil {
		t.Fatalf("SubmitTurn() error: %v", err)
	}

	select {
	case err := <-ev.errs:
		if !errors.Is(err, shared.ErrServer) {
			t.Fatalf("expected ErrServer, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error delivered")
	}
	if c.State() != StateErrored {
		t.Errorf("state = %s, want errored", c.State())
	}
}

func TestRetry_ResubmitsLastRequestVerbatim(t *testing.T) {
	rec := &requestRecorder{}
	var fails int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		tr := rec.record(req)
		mu.Lock()
		first := fails == 0
		fails++
		mu.Unlock()
		if first {
			http.Error(w, "unavailable", http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(TurnResponse{
			Type:                ResponseFollowUp,
			ConversationHistory: tr.ConversationHistory,
		})
	}))
	defer srv.Close()

	c, ev := newTestController(srv.URL, time.Second)
	if err := c.SubmitTurn(context.Background(), "the original answer"); err != nil {
		t.Fatalf("SubmitTurn() error: %v", err)
	}

	select {
	case <-ev.errs:
	case <-time.After(2 * time.Second):
		t.Fatal("first attempt should have errored")
	}

	// Never automatic: exactly one request so far.
	if rec.count() != 1 {
		t.Fatalf("requests = %d, want 1 before explicit retry", rec.count())
	}

	if err := c.Retry(context.Background()); err != nil {
		t.Fatalf("Retry() error: %v", err)
	}

	select {
	case <-ev.followUps:
	case <-time.After(2 * time.Second):
		t.Fatal("retry never completed")
	}

	first, second := rec.get(0), rec.get(1)
	if second.Answer != first.Answer {
		t.Errorf("retry answer = %q, want %q verbatim", second.Answer, first.Answer)
	}
	if len(second.ConversationHistory) != len(first.ConversationHistory) {
		t.Error("retry must reuse the original history, not a rebuilt one")
	}
}

func TestRetry_RejectedUnlessErrored(t *testing.T) {
	c, _ := newTestController("http://127.0.0.1:1", time.Second)
	if err := c.Retry(context.Background()); !errors.Is(err, shared.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestNonFollowUpResponse_ForwardedVerbatimAsComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"type":"next_question","nextQuestionId":"q2"}`))
	}))
	defer srv.Close()

	c, ev := newTestController(srv.URL, time.Second)
	if err := c.SubmitTurn(context.Background(), "done"); err != nil {
		t.Fatalf("SubmitTurn() error: %v", err)
	}

	select {
	case resp := <-ev.completes:
		if resp.Type != "next_question" {
			t.Errorf("type = %q, want next_question", resp.Type)
		}
		var raw map[string]any
		if err := json.Unmarshal(resp.Raw, &raw); err != nil {
			t.Fatalf("raw body not preserved: %v", err)
		}
		if raw["nextQuestionId"] != "q2" {
			t.Error("verbatim payload lost")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no completion delivered")
	}

	if c.State() != StateCompleted {
		t.Errorf("state = %s, want completed (terminal)", c.State())
	}
	if err := c.SubmitTurn(context.Background(), "again"); !errors.Is(err, shared.ErrConflict) {
		t.Errorf("submit after completion should conflict, got %v", err)
	}
}
