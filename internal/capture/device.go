package capture

// Constraints requested when acquiring the microphone. The defaults match
// what the transcription service expects: mono PCM16 at 16 kHz with echo
// cancellation and noise suppression enabled where the host supports them.
type Constraints struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
}

func DefaultConstraints() Constraints {
	return Constraints{
		SampleRate:       16000,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
	}
}

// Stream is a live microphone input. Read returns raw PCM16 little-endian
// bytes. Spectrum fills bins with the current frequency magnitudes scaled
// to [0,255]; it is best-effort and only feeds the visualization.
type Stream interface {
	Read(buf []byte) (int, error)
	Spectrum(bins []byte) int
	Close() error
}

// Device opens microphone streams. The production implementation is
// portaudio; tests substitute fakes.
type Device interface {
	Open(c Constraints) (Stream, error)
}

// Encoder turns raw PCM frames into the wire format fed to the
// transcription socket.
type Encoder interface {
	Encode(pcm []byte) ([]byte, error)
}

// pcmEncoder is the identity encoder: the transcription service accepts
// raw PCM16 chunks directly.
type pcmEncoder struct{}

func (pcmEncoder) Encode(pcm []byte) ([]byte, error) {
	return pcm, nil
}

func NewPCMEncoder() Encoder {
	return pcmEncoder{}
}
