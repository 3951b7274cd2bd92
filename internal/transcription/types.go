package transcription

import "time"

type Config struct {
	// URL is the websocket endpoint of the speech-recognition service.
	URL              string
	Language         string
	SampleRate       int
	Channels         int
	Encoding         string
	HandshakeTimeout time.Duration
}

// Update is delivered for every recognition result, carrying the best
// current view of the transcript: everything committed so far plus the
// live partial.
type Update struct {
	Transcript string
	IsFinal    bool
}

type Callbacks struct {
	OnUpdate func(Update)
	OnError  func(error)
}

// configMessage opens the session: language, punctuation and interim
// results are requested up front.
type configMessage struct {
	Type           string `json:"type"`
	Language       string `json:"language"`
	Punctuate      bool   `json:"punctuate"`
	InterimResults bool   `json:"interim_results"`
	SampleRate     int    `json:"sample_rate"`
	Channels       int    `json:"channels"`
	Encoding       string `json:"encoding"`
}

// resultMessage is the inbound recognition result.
type resultMessage struct {
	Transcript string `json:"transcript"`
	IsFinal    bool   `json:"is_final"`
}

// closeMessage is the terminal end-of-stream marker sent before a graceful
// close.
type closeMessage struct {
	Type string `json:"type"`
}

const (
	configType      = "config"
	closeStreamType = "close_stream"
)
