package capture

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/candor-labs/interview-agent/internal/shared"
)

const spectrumWindow = 256

// PortAudioDevice opens the host's default input device. Initialization is
// process-wide and refcounted by portaudio itself, so Open may be called
// once per recording session.
type PortAudioDevice struct {
	mu          sync.Mutex
	initialized bool
}

func NewPortAudioDevice() *PortAudioDevice {
	return &PortAudioDevice{}
}

func (d *PortAudioDevice) Open(c Constraints) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		if err := portaudio.Initialize(); err != nil {
			return nil, fmt.Errorf("portaudio init: %w", err)
		}
		d.initialized = true
	}

	framesPerBuffer := c.SampleRate / 20
	buf := make([]int16, framesPerBuffer*c.Channels)
	stream, err := portaudio.OpenDefaultStream(c.Channels, 0, float64(c.SampleRate), framesPerBuffer, buf)
	if err != nil {
		return nil, mapOpenError(err)
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, mapOpenError(err)
	}

	return &portAudioStream{
		stream:  stream,
		frame:   buf,
		recent:  make([]int16, spectrumWindow),
		rate:    c.SampleRate,
		channel: c.Channels,
	}, nil
}

// mapOpenError folds host refusals into the permission error the caller
// reports to the user; everything else stays a generic open failure.
func mapOpenError(err error) error {
	var paErr portaudio.Error
	if errors.As(err, &paErr) && paErr == portaudio.DeviceUnavailable {
		return fmt.Errorf("%w: %v", shared.ErrPermissionDenied, err)
	}
	return fmt.Errorf("open input stream: %w", err)
}

type portAudioStream struct {
	stream  *portaudio.Stream
	frame   []int16
	rate    int
	channel int

	mu     sync.Mutex
	recent []int16
	closed bool
}

func (s *portAudioStream) Read(buf []byte) (int, error) {
	if err := s.stream.Read(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	copy(s.recent, s.frame[max(0, len(s.frame)-spectrumWindow):])
	s.mu.Unlock()

	n := 0
	for _, sample := range s.frame {
		if n+2 > len(buf) {
			break
		}
		buf[n] = byte(sample)
		buf[n+1] = byte(sample >> 8)
		n += 2
	}
	return n, nil
}

// Spectrum computes magnitudes of the most recent window with a direct
// DFT. The window is small and the result is cosmetic, so the naive
// transform is fast enough.
func (s *portAudioStream) Spectrum(bins []byte) int {
	s.mu.Lock()
	window := make([]float64, len(s.recent))
	for i, v := range s.recent {
		window[i] = float64(v) / 32768.0
	}
	s.mu.Unlock()

	n := len(window)
	count := min(len(bins), n/2)
	for k := 0; k < count; k++ {
		var re, im float64
		for t := 0; t < n; t++ {
			angle := 2 * math.Pi * float64(k) * float64(t) / float64(n)
			re += window[t] * math.Cos(angle)
			im -= window[t] * math.Sin(angle)
		}
		mag := math.Sqrt(re*re+im*im) / float64(n)
		scaled := mag * 4 * 255
		if scaled > 255 {
			scaled = 255
		}
		bins[k] = byte(scaled)
	}
	return count
}

func (s *portAudioStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.stream.Stop()
	return s.stream.Close()
}
