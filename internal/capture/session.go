package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/candor-labs/interview-agent/internal/shared"
)

type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateError     State = "error"
	StateStopped   State = "stopped"
)

const (
	defaultChunkInterval = 250 * time.Millisecond
	defaultLevelInterval = 50 * time.Millisecond
)

// Sink receives encoded audio chunks at the configured cadence.
type Sink func(chunk []byte)

type Config struct {
	Device        Device
	Constraints   Constraints
	Encoder       Encoder
	ChunkInterval time.Duration
	LevelInterval time.Duration
	Log           *slog.Logger
}

// Session owns one microphone acquisition: the input stream, the analyser
// feeding the visualization, and the encoder emitting fixed-interval
// chunks. At most one Session is live per question; a new recording
// requires stopping the previous one first.
type Session struct {
	device        Device
	constraints   Constraints
	encoder       Encoder
	chunkInterval time.Duration
	levelInterval time.Duration
	log           *slog.Logger

	mu        sync.Mutex
	state     State
	err       error
	stream    Stream
	sink      Sink
	startedAt time.Time

	pcmMu  sync.Mutex
	pcmBuf []byte

	levels chan []float64

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	emitStop chan struct{}
	emitOnce sync.Once
	stopOnce sync.Once
}

func NewSession(cfg Config) *Session {
	if cfg.Encoder == nil {
		cfg.Encoder = NewPCMEncoder()
	}
	if cfg.ChunkInterval <= 0 {
		cfg.ChunkInterval = defaultChunkInterval
	}
	if cfg.LevelInterval <= 0 {
		cfg.LevelInterval = defaultLevelInterval
	}
	if cfg.Constraints == (Constraints{}) {
		cfg.Constraints = DefaultConstraints()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		device:        cfg.Device,
		constraints:   cfg.Constraints,
		encoder:       cfg.Encoder,
		chunkInterval: cfg.ChunkInterval,
		levelInterval: cfg.LevelInterval,
		log:           cfg.Log.With("component", "capture"),
		state:         StateIdle,
		levels:        make(chan []float64, 8),
		ctx:           ctx,
		cancel:        cancel,
		emitStop:      make(chan struct{}),
	}
}

// SetSink registers the consumer of encoded chunks. Must be called before
// Start.
func (s *Session) SetSink(sink Sink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// Start acquires the microphone and begins sampling. A permission refusal
// is returned as-is for the caller to report; it is never retried here.
// A session runs once: starting one that already ran, stopped, or errored
// is a caller error, not a silent no-op.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return fmt.Errorf("%w: capture session already %s", shared.ErrConflict, s.state)
	}

	stream, err := s.device.Open(s.constraints)
	if err != nil {
		s.state = StateError
		s.err = err
		return err
	}

	s.stream = stream
	s.state = StateRecording
	s.startedAt = time.Now()

	s.wg.Add(3)
	go s.readLoop()
	go s.chunkLoop()
	go s.levelLoop()

	s.log.Info("capture started",
		"sample_rate", s.constraints.SampleRate,
		"channels", s.constraints.Channels)
	return nil
}

// Levels is a lazy, non-restartable stream of 32-bucket amplitude frames
// in [0,1], one per visualization tick. It is closed when the session
// stops. Purely cosmetic; transcription never depends on it.
func (s *Session) Levels() <-chan []float64 {
	return s.levels
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Duration reports how long the microphone has been held.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

func (s *Session) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, 8192)
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		n, err := s.stream.Read(buf)
		if err != nil {
			// Device errors degrade the session; the surrounding flow
			// keeps running and the caller observes StateError.
			s.mu.Lock()
			if s.state == StateRecording {
				s.state = StateError
				s.err = err
			}
			s.mu.Unlock()
			s.log.Error("device read failed", "error", err)
			return
		}
		if n == 0 {
			continue
		}

		s.pcmMu.Lock()
		s.pcmBuf = append(s.pcmBuf, buf[:n]...)
		s.pcmMu.Unlock()
	}
}

// chunkLoop emits one encoded chunk per interval regardless of content:
// silence is never suppressed.
func (s *Session) chunkLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.chunkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.emitStop:
			return
		case <-ticker.C:
			s.emitChunk()
		}
	}
}

func (s *Session) emitChunk() {
	s.pcmMu.Lock()
	pcm := s.pcmBuf
	s.pcmBuf = nil
	s.pcmMu.Unlock()

	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink == nil {
		return
	}

	encoded, err := s.encoder.Encode(pcm)
	if err != nil {
		s.log.Error("encode failed", "error", err)
		return
	}
	sink(encoded)
}

func (s *Session) levelLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.levelInterval)
	defer ticker.Stop()

	spectrum := make([]byte, 128)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			n := s.stream.Spectrum(spectrum)
			frame := reduceBins(spectrum[:n], levelBuckets)
			select {
			case s.levels <- frame:
			default:
			}
		}
	}
}

// StopEmitting halts the encoder and chunk emission while leaving the rest
// of the session up. The cancellation sequence stops the encoder first so
// the transcription stream can be closed gracefully before the microphone
// is released.
func (s *Session) StopEmitting() {
	s.emitOnce.Do(func() {
		close(s.emitStop)
	})
}

// Stop tears the session down: encoder, sampling loop, then the device.
// Idempotent, and safe to call from both user action and teardown.
func (s *Session) Stop() {
	s.StopEmitting()
	s.stopOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		close(s.levels)

		s.mu.Lock()
		stream := s.stream
		s.stream = nil
		if s.state != StateError {
			s.state = StateStopped
		}
		s.mu.Unlock()

		if stream != nil {
			if err := stream.Close(); err != nil {
				s.log.Error("device close failed", "error", err)
			}
		}
		s.log.Info("capture stopped")
	})
}
