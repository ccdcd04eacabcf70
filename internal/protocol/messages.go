package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

// Agent → server.
const (
	TypeQR              MessageType = "qr"
	TypeStatus          MessageType = "status"
	TypeMessageReceived MessageType = "message_received"
)

// Server → agent.
const (
	TypeSendMessage MessageType = "send_message"
	TypeSendAudio   MessageType = "send_audio"
)

// Server → observer.
const (
	TypeStatusUpdate MessageType = "status_update"
	TypeFullUpdate   MessageType = "full_update"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// QREvent carries the scannable login artifact produced by an agent. The same
// shape is forwarded verbatim to the session's observer.
type QREvent struct {
	Type MessageType `json:"type"`
	Data string      `json:"data"`
}

// StatusEvent reports the agent's connection state. Numero is only present
// once the agent knows its own routable number.
type StatusEvent struct {
	Type    MessageType `json:"type"`
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Numero  string      `json:"numero,omitempty"`
}

// MessageReceived reports an inbound chat message seen by an agent.
type MessageReceived struct {
	Type MessageType `json:"type"`
	From string      `json:"from"`
	Text string      `json:"text"`
}

// SendMessage instructs an agent to deliver a text message.
type SendMessage struct {
	Type MessageType `json:"type"`
	To   string      `json:"to"`
	Text string      `json:"text"`
}

// SendAudio instructs an agent to deliver an audio file with a caption.
type SendAudio struct {
	Type      MessageType `json:"type"`
	To        string      `json:"to"`
	AudioFile string      `json:"audio_file"`
	Caption   string      `json:"caption,omitempty"`
}

// StatusUpdate notifies an observer that its session's status changed.
type StatusUpdate struct {
	Type   MessageType `json:"type"`
	Status string      `json:"status"`
}

// FullUpdate tells every observer to re-fetch the account snapshot. It
// deliberately carries no payload; there is no incremental diff protocol.
type FullUpdate struct {
	Type MessageType `json:"type"`
}

func NewFullUpdate() FullUpdate {
	return FullUpdate{Type: TypeFullUpdate}
}

// ParseAgentMessage decodes one inbound frame from an agent channel into its
// concrete variant. Frames from observers are never parsed; observer channels
// are server-to-client only after the handshake.
func ParseAgentMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeQR:
		var msg QREvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Data == "" {
			return nil, errors.New("invalid qr: missing data")
		}
		return msg, nil
	case TypeStatus:
		var msg StatusEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Status == "" {
			return nil, errors.New("invalid status: missing status")
		}
		return msg, nil
	case TypeMessageReceived:
		var msg MessageReceived
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.From == "" {
			return nil, errors.New("invalid message_received: missing from")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
