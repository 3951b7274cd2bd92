package transcription

import "context"

type Transcriber interface {
	Open(ctx context.Context, authToken string) error
	Feed(chunk []byte) error
	Close(graceful bool) error
	Best() string
	Committed() string
	IsOpen() bool
}
