package interview

import "sync"

// Gate fences transcription callbacks off from a draft the user has
// already committed. The race it closes: the user stops a recording and
// submits, but a final transcript result is still in flight from the
// speech service and would otherwise land in the next question's draft.
//
// Suppress is called at the stop-and-submit boundary, Arm when a new
// recording starts. Arm also bumps a generation counter and hands the
// recording a token; callbacks from an older recording present a stale
// token and are rejected even after the gate has been re-armed.
type Gate struct {
	mu         sync.Mutex
	suppressed bool
	generation uint64
}

func NewGate() *Gate {
	return &Gate{}
}

// Arm lifts suppression for a new recording and returns the token its
// transcription callbacks must present to Admits.
func (g *Gate) Arm() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.suppressed = false
	g.generation++
	return g.generation
}

// Suppress turns every subsequent callback for the current recording
// into a no-op until the next Arm.
func (g *Gate) Suppress() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.suppressed = true
}

// Admits reports whether a callback holding token may still write to
// the draft.
func (g *Gate) Admits(token uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.suppressed && token == g.generation
}

func (g *Gate) Suppressed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.suppressed
}
