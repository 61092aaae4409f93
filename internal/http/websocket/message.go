package websocket

import "github.com/google/uuid"

type MessageType int

const (
	Update MessageType = iota
	Command
	Response
	ErrorResponse
	Welcome
)

// SocketMessage is the envelope for all traffic on the activity socket.
// Origin is set by the read-loop to the UUID of the sending client;
// Target, when non-nil, restricts an outgoing message to a single
// client rather than broadcasting.
type SocketMessage struct {
	Title  string                 `json:"title"`
	Body   map[string]interface{} `json:"arguments"`
	ID     int                    `json:"id"`
	Type   MessageType            `json:"type"`
	Origin *uuid.UUID             `json:"-"`
	Target *uuid.UUID             `json:"-"`
}

// FormReply builds a new message addressed back at this message's origin,
// carrying the same correlation ID so the client can match it up.
func (message *SocketMessage) FormReply(title string, body map[string]interface{}, messageType MessageType) *SocketMessage {
	return &SocketMessage{
		Title:  title,
		Body:   body,
		Type:   messageType,
		ID:     message.ID,
		Target: message.Origin,
	}
}
