// Package transcript delivers live transcription of the captured audio:
// interim fragments that repaint in place and final segments that are
// committed permanently.
package transcript

import "errors"

// ErrUnavailable reports that the transcription service could not be
// reached or dropped the connection mid-session.
var ErrUnavailable = errors.New("transcription service unavailable")

// Update is one repaint of the live transcript. Committed accumulates
// finalized segments; Interim is the volatile tail that the next update
// replaces.
type Update struct {
	Committed string
	Interim   string
}

// Snapshot is the frozen transcript returned by Stop.
type Snapshot struct {
	Committed string
	Interim   string
}

// Channel is one live transcription stream. After Stop, the transcript
// is frozen: straggler interim results are dropped and the updates
// channel is closed.
type Channel interface {
	Feed(pcm []byte)
	Updates() <-chan Update
	Stop() Snapshot
	Err() error
}
