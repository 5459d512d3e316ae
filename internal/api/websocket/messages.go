package websocket

import (
	"time"

	"github.com/KevinKickass/OpenSPIMCore/internal/dispatch"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Controller events, named after the event kinds
	MessageTypeStateChanged    MessageType = MessageType(dispatch.EvtStateChanged)
	MessageTypeProgress        MessageType = MessageType(dispatch.EvtProgress)
	MessageTypeRunStarted      MessageType = MessageType(dispatch.EvtRunStarted)
	MessageTypeRunFinished     MessageType = MessageType(dispatch.EvtRunFinished)
	MessageTypeRunAborted      MessageType = MessageType(dispatch.EvtRunAborted)
	MessageTypeCommandRejected MessageType = MessageType(dispatch.EvtCommandRejected)
	MessageTypeCommandHandled  MessageType = MessageType(dispatch.EvtCommandHandled)
	MessageTypeHardwareFault   MessageType = MessageType(dispatch.EvtHardwareFault)

	// Session messages
	MessageTypeStatus          MessageType = "status"
	MessageTypeAuthSuccess     MessageType = "auth_success"
	MessageTypeAuthFailed      MessageType = "auth_failed"
	MessageTypeCommandAccepted MessageType = "command_accepted"
	MessageTypeError           MessageType = "error"

	// Live preview
	MessageTypeFrame MessageType = "frame"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewEventMessage wraps a controller event; the event timestamp is kept.
func NewEventMessage(ev dispatch.Event) Message {
	return Message{
		Type:      MessageType(ev.Kind),
		Timestamp: ev.Timestamp,
		Data:      ev,
	}
}

func NewErrorMessage(reason string) Message {
	return NewMessage(MessageTypeError, map[string]string{"reason": reason})
}
