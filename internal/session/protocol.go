package session

import (
	"encoding/json"

	"github.com/chadiek/jarvis/internal/conversation"
)

// Frame types sent by the browser.
const (
	inHello         = "hello"
	inSubmit        = "submit"
	inInput         = "input"
	inListenStart   = "listen_start"
	inListenStop    = "listen_stop"
	inCaptureResult = "capture_result"
	inCaptureError  = "capture_error"
	inSpeechStart   = "speech_start"
	inSpeechEnd     = "speech_end"
	inSpeechError   = "speech_error"
	inPlayback      = "playback"
	inAuthBegin     = "auth_begin"
	inAuthMessage   = "auth_message"
	inPopupClosed   = "popup_closed"
)

// Frame types sent to the browser.
const (
	outState          = "state"
	outCaptureStart   = "capture_start"
	outCaptureStop    = "capture_stop"
	outSpeak          = "speak"
	outSpeakCancel    = "speak_cancel"
	outOpenPopup      = "open_popup"
	outClosePopup     = "close_popup"
	outAuthState      = "auth_state"
	outAuthResult     = "auth_result"
	outPlaybackResult = "playback_result"
	outError          = "error"
)

// inbound is the union of every client frame.
type inbound struct {
	Type string `json:"type"`

	Capture   bool `json:"capture,omitempty"`
	Synthesis bool `json:"synthesis,omitempty"`

	ID    uint64 `json:"id,omitempty"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`

	Action string `json:"action,omitempty"`
	Query  string `json:"query,omitempty"`

	Payload json.RawMessage `json:"payload,omitempty"`
}

type stateFrame struct {
	Type     string                `json:"type"`
	Snapshot conversation.Snapshot `json:"snapshot"`
}

type idFrame struct {
	Type   string `json:"type"`
	ID     uint64 `json:"id"`
	Stream bool   `json:"stream,omitempty"`
}

type speakFrame struct {
	Type   string  `json:"type"`
	ID     uint64  `json:"id"`
	Text   string  `json:"text"`
	Rate   float64 `json:"rate"`
	Pitch  float64 `json:"pitch"`
	Volume float64 `json:"volume"`
	Audio  bool    `json:"audio"`
}

type popupFrame struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

type authStateFrame struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

type resultFrame struct {
	Type    string `json:"type"`
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}
