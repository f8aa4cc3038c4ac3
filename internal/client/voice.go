package client

import (
	"context"
	"errors"
)

var ErrVoiceUnavailable = errors.New("voice input is not available")

// VoiceInput is an optional dictation capability. Transcripts delivers
// recognised text while a capture started by Start is running.
type VoiceInput interface {
	Available() bool
	Start(ctx context.Context) error
	Stop() error
	Transcripts() <-chan string
}

// NoVoice is the VoiceInput of a client without dictation support.
type NoVoice struct{}

func (NoVoice) Available() bool { return false }

func (NoVoice) Start(context.Context) error { return ErrVoiceUnavailable }

func (NoVoice) Stop() error { return nil }

// Transcripts returns a nil channel, which never delivers.
func (NoVoice) Transcripts() <-chan string { return nil }
