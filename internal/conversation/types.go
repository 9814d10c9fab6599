package conversation

import "time"

// Mode is the interaction mode. Exactly one is active at a time.
type Mode string

const (
	ModeIdle       Mode = "idle"
	ModeListening  Mode = "listening"
	ModeProcessing Mode = "processing"
	ModeSpeaking   Mode = "speaking"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message is one entry of the conversation log. Messages are never modified
// after they are appended.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is the state published to observers after every change. Seq grows
// monotonically. Notice carries a one-off user-facing message and is empty in
// later snapshots.
type Snapshot struct {
	Seq             uint64    `json:"seq"`
	Mode            Mode      `json:"mode"`
	Messages        []Message `json:"messages"`
	PendingInput    string    `json:"pendingInput"`
	Notice          string    `json:"notice,omitempty"`
	InputAvailable  bool      `json:"inputAvailable"`
	OutputAvailable bool      `json:"outputAvailable"`
}

// Responder generates the assistant reply for a user turn.
type Responder interface {
	Respond(text string) string
}
