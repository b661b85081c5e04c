package protocol

import (
	"encoding/base64"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"voicerelay/core"
)

// Inbound is one classified client frame: either raw audio bytes or a
// parsed control message.
type Inbound struct {
	Kind    InboundKind
	Audio   []byte
	Control ControlMessage
}

// ClassifyInbound maps a websocket frame onto the dispatch model: binary
// frames are audio turns, text frames are structured control messages.
func ClassifyInbound(messageType int, data []byte) (Inbound, error) {
	if messageType == websocket.BinaryMessage {
		return Inbound{Kind: InboundAudio, Audio: data}, nil
	}

	var ctrl ControlMessage
	if err := sonic.Unmarshal(data, &ctrl); err != nil {
		return Inbound{}, fmt.Errorf("protocol: unmarshal control message: %w", err)
	}
	if ctrl.Type == "get_history" {
		return Inbound{Kind: InboundGetHistory, Control: ctrl}, nil
	}
	return Inbound{Kind: InboundSelectPersona, Control: ctrl}, nil
}

// MarshalResponse encodes an outbound message for a text frame.
func MarshalResponse(resp Response) ([]byte, error) {
	if resp.History == nil {
		resp.History = []core.Message{} // serialize as [], never null
	}
	data, err := sonic.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal response: %w", err)
	}
	return data, nil
}

// EncodeAudio converts raw audio bytes to the base64 form carried in the
// audio field.
func EncodeAudio(audio []byte) string {
	if len(audio) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(audio)
}
