package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
	UpdateEdited  UpdateKind = "edited_message"
)

// Update is the normalized inbound event handed to the app.
type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	// Voice is set when the message carries a voice note; Text is then the caption (if any).
	Voice *VoiceRef
}

// HasVoice reports whether the message must be transcribed before routing.
func (m *Message) HasVoice() bool { return m != nil && m.Voice != nil && m.Voice.FileID != "" }

// VoiceRef is an opaque handle the adapter can resolve to audio bytes.
type VoiceRef struct {
	FileID   string
	MIME     string
	Size     int64
	Duration int // seconds
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender is the single outbound operation the core needs.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// VoiceFetcher resolves a VoiceRef into the raw audio payload.
type VoiceFetcher interface {
	FetchVoice(ctx context.Context, ref VoiceRef) ([]byte, error)
}

type Adapter interface {
	Sender
	VoiceFetcher

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}
