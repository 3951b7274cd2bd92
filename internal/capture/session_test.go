package capture

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/candor-labs/interview-agent/internal/shared"
)

type fakeStream struct {
	mu      sync.Mutex
	readErr error
	closed  bool
	reads   int
}

func (f *fakeStream) Read(buf []byte) (int, error) {
	f.mu.Lock()
	err := f.readErr
	f.reads++
	f.mu.Unlock()

	if err != nil {
		return 0, err
	}
	time.Sleep(time.Millisecond)
	for i := 0; i < 32; i++ {
		buf[i] = byte(i)
	}
	return 32, nil
}

func (f *fakeStream) Spectrum(bins []byte) int {
	for i := range bins {
		bins[i] = 128
	}
	return len(bins)
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeStream) failReads(err error) {
	f.mu.Lock()
	f.readErr = err
	f.mu.Unlock()
}

type fakeDevice struct {
	stream  *fakeStream
	openErr error
	opens   int
}

func (d *fakeDevice) Open(c Constraints) (Stream, error) {
	d.opens++
	if d.openErr != nil {
		return nil, d.openErr
	}
	return d.stream, nil
}

func newTestSession(dev Device) *Session {
	return NewSession(Config{
		Device:        dev,
		ChunkInterval: 10 * time.Millisecond,
		LevelInterval: 5 * time.Millisecond,
	})
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSession_EmitsChunksAtInterval(t *testing.T) {
	dev := &fakeDevice{stream: &fakeStream{}}
	s := newTestSession(dev)

	var mu sync.Mutex
	var chunks [][]byte
	s.SetSink(func(chunk []byte) {
		mu.Lock()
		chunks = append(chunks, chunk)
		mu.Unlock()
	})

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(chunks) >= 3
	}, "expected at least 3 chunks")

	mu.Lock()
	defer mu.Unlock()
	nonEmpty := 0
	for _, c := range chunks {
		if len(c) > 0 {
			nonEmpty++
		}
	}
	if nonEmpty == 0 {
		t.Error("expected captured audio in chunks")
	}
}

func TestSession_PermissionDenied(t *testing.T) {
	dev := &fakeDevice{openErr: fmt.Errorf("%w: host refused", shared.ErrPermissionDenied)}
	s := newTestSession(dev)

	err := s.Start()
	if !errors.Is(err, shared.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if s.State() != StateError {
		t.Errorf("state = %s, want %s", s.State(), StateError)
	}
	// Never auto-retried: a single Open attempt.
	if dev.opens != 1 {
		t.Errorf("opens = %d, want 1", dev.opens)
	}
}

func TestSession_DeviceErrorDegrades(t *testing.T) {
	stream := &fakeStream{}
	dev := &fakeDevice{stream: stream}
	s := newTestSession(dev)
	s.SetSink(func([]byte) {})

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	stream.failReads(errors.New("device unplugged"))

	waitFor(t, func() bool { return s.State() == StateError }, "expected degraded state")

	if s.Err() == nil {
		t.Error("Err() should report the device failure")
	}
}

func TestSession_StopIdempotent(t *testing.T) {
	stream := &fakeStream{}
	dev := &fakeDevice{stream: stream}
	s := newTestSession(dev)
	s.SetSink(func([]byte) {})

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	s.Stop()
	s.Stop()

	if s.State() != StateStopped {
		t.Errorf("state = %s, want %s", s.State(), StateStopped)
	}
	stream.mu.Lock()
	closed := stream.closed
	stream.mu.Unlock()
	if !closed {
		t.Error("device stream should be released")
	}
}

func TestSession_StartIsSingleUse(t *testing.T) {
	dev := &fakeDevice{stream: &fakeStream{}}
	s := newTestSession(dev)
	s.SetSink(func([]byte) {})

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := s.Start(); !errors.Is(err, shared.ErrConflict) {
		t.Errorf("Start() while recording = %v, want ErrConflict", err)
	}

	s.Stop()
	if err := s.Start(); !errors.Is(err, shared.ErrConflict) {
		t.Errorf("Start() after Stop = %v, want ErrConflict", err)
	}
	// The stopped session never reacquired the device.
	if dev.opens != 1 {
		t.Errorf("opens = %d, want 1", dev.opens)
	}
}

func TestSession_StopWithoutStart(t *testing.T) {
	s := newTestSession(&fakeDevice{stream: &fakeStream{}})
	s.Stop()
	if s.State() != StateStopped {
		t.Errorf("state = %s, want %s", s.State(), StateStopped)
	}
}

func TestSession_StopEmittingHaltsSink(t *testing.T) {
	dev := &fakeDevice{stream: &fakeStream{}}
	s := newTestSession(dev)

	var mu sync.Mutex
	count := 0
	s.SetSink(func([]byte) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count >= 1
	}, "expected chunks before StopEmitting")

	s.StopEmitting()
	mu.Lock()
	frozen := count
	mu.Unlock()

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	after := count
	mu.Unlock()

	// One in-flight tick may still land; no steady emission remains.
	if after > frozen+1 {
		t.Errorf("chunks kept flowing after StopEmitting: %d -> %d", frozen, after)
	}
}

func TestSession_LevelsStreamClosesOnStop(t *testing.T) {
	dev := &fakeDevice{stream: &fakeStream{}}
	s := newTestSession(dev)
	s.SetSink(func([]byte) {})

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	frame, ok := <-s.Levels()
	if !ok {
		t.Fatal("levels channel closed before stop")
	}
	if len(frame) != levelBuckets {
		t.Fatalf("frame has %d buckets, want %d", len(frame), levelBuckets)
	}
	for _, v := range frame {
		if v < 0 || v > 1 {
			t.Fatalf("level out of range: %f", v)
		}
	}

	s.Stop()

	waitForClose := time.After(time.Second)
	for {
		select {
		case _, ok := <-s.Levels():
			if !ok {
				return
			}
		case <-waitForClose:
			t.Fatal("levels channel not closed after Stop")
		}
	}
}
