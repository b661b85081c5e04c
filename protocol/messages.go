package protocol

import "voicerelay/core"

// InboundKind classifies a client frame.
type InboundKind string

const (
	// InboundAudio is a binary frame carrying one spoken utterance.
	InboundAudio InboundKind = "audio"
	// InboundGetHistory asks for the current conversation without mutation.
	InboundGetHistory InboundKind = "get_history"
	// InboundSelectPersona switches the caller's active persona.
	InboundSelectPersona InboundKind = "select_persona"
)

// ControlMessage is the structured (text-frame) client message. A frame
// with type "get_history" is a history fetch; any other structured frame
// is a persona selection, with a missing character meaning the default
// persona.
type ControlMessage struct {
	Type      string `json:"type,omitempty"`
	Character string `json:"character,omitempty"`
}

// Response is the single outbound message produced for every inbound one.
// Audio is base64-encoded; it is omitted when synthesis failed or the
// turn produced no speech. Type is set to "conversation" on replies to
// control messages, matching what clients key on.
type Response struct {
	Type    string         `json:"type,omitempty"`
	Text    string         `json:"text,omitempty"`
	Audio   string         `json:"audio,omitempty"`
	History []core.Message `json:"history"`
}
